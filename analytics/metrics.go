package analytics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
	duration  metric.Float64Histogram
}

// newInstruments registers the counters on meter. Entry count and size are observed
// from a's snapshot on every collection.
func newInstruments(meter metric.Meter, a *Analytics) (instruments, error) {
	var (
		in  instruments
		err error
	)

	in.hits, err = meter.Int64Counter(
		"semcache.hits",
		metric.WithDescription("Total number of cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return in, err
	}

	in.misses, err = meter.Int64Counter(
		"semcache.misses",
		metric.WithDescription("Total number of cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return in, err
	}

	in.evictions, err = meter.Int64Counter(
		"semcache.evictions",
		metric.WithDescription("Total number of capacity evictions"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return in, err
	}

	in.duration, err = meter.Float64Histogram(
		"semcache.lookup.duration_ms",
		metric.WithDescription("Cache lookup duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return in, err
	}

	_, err = meter.Int64ObservableGauge(
		"semcache.entries",
		metric.WithDescription("Number of entries across all stores"),
		metric.WithUnit("{entry}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(a.Snapshot().Entries))
			return nil
		}),
	)
	if err != nil {
		return in, err
	}

	_, err = meter.Int64ObservableGauge(
		"semcache.estimated_bytes",
		metric.WithDescription("Estimated size of all stores"),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(a.Snapshot().EstimatedBytes)
			return nil
		}),
	)

	return in, err
}
