package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/m-zajac/semcache"
	"github.com/m-zajac/semcache/analytics"
	redisbackend "github.com/m-zajac/semcache/backend/redis"
	"github.com/m-zajac/semcache/internal/config"
	"github.com/m-zajac/semcache/normalize"
	"github.com/m-zajac/semcache/normalize/ollama"
)

func scopeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "scope",
		Aliases: []string{"s"},
		Usage:   "scope appended to every key, e.g. a user id",
	}
}

func normalizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "normalize",
		Usage:     "print the cache key of each query",
		UsageText: `semcache normalize [--scope SCOPE] QUERY...`,
		Flags:     []cli.Flag{scopeFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return errors.New("no query given")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			n, err := newNormalizer(cfg)
			if err != nil {
				return err
			}

			for _, q := range cmd.Args().Slice() {
				fmt.Printf("%s\t%s\n", n.Normalize(ctx, q, cmd.String("scope")), q)
			}

			return nil
		},
	}
}

func lookupCommand() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "run queries through a cache with a simulated computation",
		UsageText: `semcache lookup [--scope SCOPE] [--delay DURATION] QUERY...`,
		Flags: []cli.Flag{
			scopeFlag(),
			&cli.DurationFlag{
				Name:  "delay",
				Usage: "duration of the simulated computation",
				Value: 200 * time.Millisecond,
			},
		},
		Action: lookupAction,
	}
}

func lookupAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() == 0 {
		return errors.New("no query given")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, shutdown, err := newAnalytics(ctx, cmd.String("metrics"))
	if err != nil {
		return err
	}
	defer shutdown()

	cache, err := newCache(cfg, a)
	if err != nil {
		return err
	}
	defer cache.Close()

	delay := cmd.Duration("delay")
	scope := cmd.String("scope")
	for _, q := range cmd.Args().Slice() {
		computed := false
		start := time.Now()
		v, err := cache.LookupOrCompute(ctx, q, scope, func(ctx context.Context) (string, error) {
			computed = true
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			return "result for " + q, nil
		})
		if err != nil {
			return fmt.Errorf("looking up %q: %w", q, err)
		}

		status := semcache.StatusHit
		if computed {
			status = semcache.StatusMiss
		}
		fmt.Printf("%-5s %-8s %-30s %s\n", status, time.Since(start).Round(time.Millisecond), cache.Key(ctx, q, scope), v)
	}

	printStats(cache.Stats(), a)

	return nil
}

func printStats(s analytics.Snapshot, a *analytics.Analytics) {
	fmt.Println()
	fmt.Printf("hits: %d, misses: %d, hit rate: %.1f%%\n", s.Hits, s.Misses, s.HitRate*100)
	fmt.Printf("entries: %d, estimated size: %s, evictions: %d\n",
		s.Entries,
		humanize.Bytes(uint64(s.EstimatedBytes)),
		s.Evictions,
	)

	e := a.Effectiveness(time.Hour)
	if e.TotalHits > 0 {
		fmt.Printf("estimated time saved: %s\n", e.TotalLatencySaved.Round(time.Millisecond))
	}
	for _, p := range a.QueryPatterns(5, time.Hour) {
		fmt.Printf("  %-30s %s\n", p.Query, humanize.Comma(int64(p.Hits))+" hits")
	}
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, err
	}

	// Flags win over the file.
	if v := cmd.String("redis-addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := cmd.String("ollama-url"); v != "" {
		cfg.Normalizer.URL = v
	}
	if v := cmd.String("model"); v != "" {
		cfg.Normalizer.Model = v
	}

	return cfg, nil
}

func newNormalizer(cfg config.Config) (*normalize.Normalizer, error) {
	opts := append(cfg.NormalizerOptions(), normalize.WithLogger(log.Log))
	if cfg.Normalizer.URL != "" {
		log.WithFields(log.Fields{
			"url":   cfg.Normalizer.URL,
			"model": cfg.Normalizer.Model,
		}).Debug("using external normalizer")
		opts = append(opts, normalize.WithCanonicalizer(
			ollama.New(cfg.Normalizer.Model, ollama.WithBaseURL(cfg.Normalizer.URL)),
		))
	}

	return normalize.New(opts...)
}

func newCache(cfg config.Config, a *analytics.Analytics) (*semcache.Cache[string], error) {
	n, err := newNormalizer(cfg)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.CacheOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		semcache.WithNormalizer(n),
		semcache.WithAnalytics(a),
		semcache.WithLogger(log.Log),
	)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		keys, err := redisbackend.NewBackend[string](rdb, cfg.Redis.Prefix+"index:", redisbackend.WithDefaultTTL(cfg.TTL))
		if err != nil {
			return nil, err
		}
		content, err := redisbackend.NewBackend[semcache.ContentEntry[string]](rdb, cfg.Redis.Prefix+"content:", redisbackend.WithDefaultTTL(cfg.TTL))
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			semcache.WithIndexBackend(keys),
			semcache.WithContentBackend[string](content),
		)
	}

	return semcache.New[string](opts...)
}

func newAnalytics(ctx context.Context, exporter string) (*analytics.Analytics, func(), error) {
	switch strings.ToLower(exporter) {
	case "", "none":
		a, err := analytics.New()
		return a, func() {}, err
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("creating metrics exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))

		a, err := analytics.New(analytics.WithMeter(provider.Meter("github.com/m-zajac/semcache")))
		if err != nil {
			return nil, nil, err
		}

		return a, func() {
			if err := provider.Shutdown(ctx); err != nil {
				log.WithError(err).Warn("flushing metrics")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown metrics exporter %q", exporter)
	}
}
