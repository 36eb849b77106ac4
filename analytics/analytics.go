// Package analytics keeps hit, miss, eviction and size telemetry for semcache.
//
// It is passive bookkeeping: nothing in it changes cache behavior. Counters are kept in
// memory for Snapshot and, when a meter is configured, exported as OpenTelemetry instruments.
package analytics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	defaultMaxRecords      = 10000
	defaultBaselineLatency = 2 * time.Second
	defaultStore           = "default"
	maxPatternQueryLength  = 100
)

// Snapshot is a read-only copy of the counters.
type Snapshot struct {
	Hits           int64
	Misses         int64
	Evictions      int64
	Entries        int
	EstimatedBytes int64
	// HitRate is Hits / (Hits + Misses), in [0, 1].
	HitRate float64
	Stores  map[string]StoreSnapshot
}

// StoreSnapshot holds the size accounting of one store.
type StoreSnapshot struct {
	Entries        int
	EstimatedBytes int64
	Evictions      int64
}

// Effectiveness summarizes lookups within a time window.
type Effectiveness struct {
	// HitRate is a percentage, 0-100.
	HitRate           float64
	TotalHits         int
	TotalMisses       int
	AvgLatencySaving  time.Duration
	TotalLatencySaved time.Duration
}

// QueryPattern is a frequently hit key.
type QueryPattern struct {
	Query   string
	Hits    int
	LastHit time.Time
}

// TimelineBucket counts lookups in one time bucket.
type TimelineBucket struct {
	Start  time.Time
	Hits   int
	Misses int
}

type record struct {
	key     string
	at      time.Time
	latency time.Duration
	saved   time.Duration
}

type config struct {
	meter           metric.Meter
	maxRecords      int
	baselineLatency time.Duration
	now             func() time.Time
}

// Option configures Analytics.
type Option func(*config) error

// WithMeter exports counters through meter.
func WithMeter(m metric.Meter) Option {
	return func(c *config) error {
		if m != nil {
			c.meter = m
		}

		return nil
	}
}

// WithMaxRecords bounds the number of hit and miss records kept for windowed reports.
func WithMaxRecords(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return errors.New("analytics: max records has to be > 0")
		}
		c.maxRecords = n

		return nil
	}
}

// WithBaselineLatency sets the assumed cost of a miss, used to estimate saved latency.
func WithBaselineLatency(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return errors.New("analytics: baseline latency has to be >= 0")
		}
		c.baselineLatency = d

		return nil
	}
}

// WithClock replaces time.Now. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) error {
		if now != nil {
			c.now = now
		}

		return nil
	}
}

// Analytics collects cache telemetry.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: recording never fails and never panics.
type Analytics struct {
	mu      sync.Mutex
	hits    int64
	misses  int64
	hitLog  []record
	missLog []record
	stores  map[string]*StoreStats
	config  config
	instr   instruments
}

// New creates an Analytics instance.
func New(options ...Option) (*Analytics, error) {
	cfg := config{
		meter:           noop.NewMeterProvider().Meter("semcache"),
		maxRecords:      defaultMaxRecords,
		baselineLatency: defaultBaselineLatency,
		now:             time.Now,
	}
	for _, o := range options {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	a := &Analytics{
		stores: make(map[string]*StoreStats),
		config: cfg,
	}
	instr, err := newInstruments(cfg.meter, a)
	if err != nil {
		return nil, err
	}
	a.instr = instr

	return a, nil
}

// RecordHit records a cache hit for key.
func (a *Analytics) RecordHit(key string, latency time.Duration) {
	saved := a.config.baselineLatency - latency
	if saved < 0 {
		saved = 0
	}

	a.mu.Lock()
	a.hits++
	a.hitLog = appendBounded(a.hitLog, record{key: key, at: a.config.now(), latency: latency, saved: saved}, a.config.maxRecords)
	a.mu.Unlock()

	ctx := context.Background()
	a.instr.hits.Add(ctx, 1)
	a.instr.duration.Record(ctx, float64(latency)/float64(time.Millisecond), metric.WithAttributes(attribute.Bool("cache.hit", true)))
}

// RecordMiss records a cache miss for key.
func (a *Analytics) RecordMiss(key string, latency time.Duration) {
	a.mu.Lock()
	a.misses++
	a.missLog = appendBounded(a.missLog, record{key: key, at: a.config.now(), latency: latency}, a.config.maxRecords)
	a.mu.Unlock()

	ctx := context.Background()
	a.instr.misses.Add(ctx, 1)
	a.instr.duration.Record(ctx, float64(latency)/float64(time.Millisecond), metric.WithAttributes(attribute.Bool("cache.hit", false)))
}

// RecordEviction records an eviction in the default store.
func (a *Analytics) RecordEviction() {
	a.Store(defaultStore).RecordEviction()
}

// UpdateSizeStats replaces the size accounting of the default store.
func (a *Analytics) UpdateSizeStats(entryCount int, estimatedBytes int64) {
	a.Store(defaultStore).UpdateSizeStats(entryCount, estimatedBytes)
}

// Store returns the sink for a named store, creating it on first use.
// Snapshot sums all stores.
func (a *Analytics) Store(name string) *StoreStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.stores[name]
	if !ok {
		s = &StoreStats{name: name, parent: a}
		a.stores[name] = s
	}

	return s
}

// Snapshot returns the current counters.
func (a *Analytics) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Hits:   a.hits,
		Misses: a.misses,
		Stores: make(map[string]StoreSnapshot, len(a.stores)),
	}
	if total := a.hits + a.misses; total > 0 {
		s.HitRate = float64(a.hits) / float64(total)
	}
	for name, st := range a.stores {
		ss := st.snapshotLocked()
		s.Stores[name] = ss
		s.Entries += ss.Entries
		s.EstimatedBytes += ss.EstimatedBytes
		s.Evictions += ss.Evictions
	}

	return s
}

// Effectiveness reports hit rate and saved latency for lookups within window.
func (a *Analytics) Effectiveness(window time.Duration) Effectiveness {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.config.now().Add(-window)
	var e Effectiveness
	for _, r := range a.hitLog {
		if r.at.After(cutoff) {
			e.TotalHits++
			e.TotalLatencySaved += r.saved
		}
	}
	for _, r := range a.missLog {
		if r.at.After(cutoff) {
			e.TotalMisses++
		}
	}

	if total := e.TotalHits + e.TotalMisses; total > 0 {
		e.HitRate = float64(e.TotalHits) / float64(total) * 100
	}
	if e.TotalHits > 0 {
		e.AvgLatencySaving = e.TotalLatencySaved / time.Duration(e.TotalHits)
	}

	return e
}

// QueryPatterns returns up to limit keys with the most hits within window.
func (a *Analytics) QueryPatterns(limit int, window time.Duration) []QueryPattern {
	a.mu.Lock()
	cutoff := a.config.now().Add(-window)
	byKey := make(map[string]*QueryPattern)
	for _, r := range a.hitLog {
		if !r.at.After(cutoff) {
			continue
		}
		p, ok := byKey[r.key]
		if !ok {
			p = &QueryPattern{Query: truncate(r.key, maxPatternQueryLength)}
			byKey[r.key] = p
		}
		p.Hits++
		if r.at.After(p.LastHit) {
			p.LastHit = r.at
		}
	}
	a.mu.Unlock()

	patterns := make([]QueryPattern, 0, len(byKey))
	for _, p := range byKey {
		patterns = append(patterns, *p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Hits != patterns[j].Hits {
			return patterns[i].Hits > patterns[j].Hits
		}
		return patterns[i].Query < patterns[j].Query
	})
	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}

	return patterns
}

// Timeline groups lookups within window into buckets of the given size, oldest first.
func (a *Analytics) Timeline(bucket, window time.Duration) []TimelineBucket {
	if bucket <= 0 {
		return nil
	}

	a.mu.Lock()
	cutoff := a.config.now().Add(-window)
	buckets := make(map[time.Time]*TimelineBucket)
	get := func(at time.Time) *TimelineBucket {
		start := at.Truncate(bucket)
		b, ok := buckets[start]
		if !ok {
			b = &TimelineBucket{Start: start}
			buckets[start] = b
		}
		return b
	}
	for _, r := range a.hitLog {
		if r.at.After(cutoff) {
			get(r.at).Hits++
		}
	}
	for _, r := range a.missLog {
		if r.at.After(cutoff) {
			get(r.at).Misses++
		}
	}
	a.mu.Unlock()

	out := make([]TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	return out
}

// Reset drops all counters and records. Stores stay registered with zero values.
func (a *Analytics) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.hits, a.misses = 0, 0
	a.hitLog, a.missLog = nil, nil
	for _, s := range a.stores {
		s.entries, s.bytes, s.evictions = 0, 0, 0
	}
}

// StoreStats is the size and eviction sink of one store.
type StoreStats struct {
	name      string
	parent    *Analytics
	entries   int
	bytes     int64
	evictions int64
}

// RecordEviction records one eviction.
func (s *StoreStats) RecordEviction() {
	s.parent.mu.Lock()
	s.evictions++
	s.parent.mu.Unlock()

	s.parent.instr.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("cache.store", s.name)))
}

// UpdateSizeStats replaces the store's entry count and size estimate.
func (s *StoreStats) UpdateSizeStats(entryCount int, estimatedBytes int64) {
	s.parent.mu.Lock()
	s.entries = entryCount
	s.bytes = estimatedBytes
	s.parent.mu.Unlock()
}

func (s *StoreStats) snapshotLocked() StoreSnapshot {
	return StoreSnapshot{
		Entries:        s.entries,
		EstimatedBytes: s.bytes,
		Evictions:      s.evictions,
	}
}

func appendBounded(rs []record, r record, max int) []record {
	rs = append(rs, r)
	if len(rs) > max {
		// The dropped head is released on the next reallocation.
		rs = rs[len(rs)-max:]
	}

	return rs
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}
