// Package config loads the semcache CLI configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	"gopkg.in/yaml.v3"

	"github.com/m-zajac/semcache"
	"github.com/m-zajac/semcache/normalize"
)

// Config mirrors the YAML file. Durations are written as "15m", "2s", ...
type Config struct {
	TTL            time.Duration `yaml:"ttl"`
	Capacity       Capacity      `yaml:"capacity"`
	ComputeTimeout time.Duration `yaml:"compute_timeout"`
	CancelPolicy   string        `yaml:"cancel_policy"`
	Normalizer     Normalizer    `yaml:"normalizer"`
	Redis          Redis         `yaml:"redis"`
}

type Capacity struct {
	Queries int `yaml:"queries"`
	Content int `yaml:"content"`
}

type Normalizer struct {
	// URL of an Ollama or LM Studio server. Empty disables the external strategy.
	URL            string        `yaml:"url"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	MemoSize       int           `yaml:"memo_size"`
	MinTokenLength int           `yaml:"min_token_length"`
	Stopwords      []string      `yaml:"stopwords"`
}

type Redis struct {
	// Addr of the redis server. Empty keeps both levels in memory.
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		TTL: 15 * time.Minute,
		Capacity: Capacity{
			Queries: 500,
			Content: 500,
		},
		CancelPolicy: semcache.RunToCompletion.String(),
		Normalizer: Normalizer{
			Timeout:        2 * time.Second,
			MemoSize:       4096,
			MinTokenLength: 2,
		},
		Redis: Redis{
			Prefix: "semcache:",
		},
	}
}

// Load reads the file at path on top of Default. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	log.WithField("path", path).Debug("config loaded")

	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.TTL <= 0 {
		errs = append(errs, errors.New("ttl has to be > 0"))
	}
	if c.Capacity.Queries <= 0 || c.Capacity.Content <= 0 {
		errs = append(errs, errors.New("capacity has to be > 0"))
	}
	if c.ComputeTimeout < 0 {
		errs = append(errs, errors.New("compute_timeout has to be >= 0"))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	if c.Normalizer.Timeout <= 0 {
		errs = append(errs, errors.New("normalizer.timeout has to be > 0"))
	}
	if c.Normalizer.MemoSize <= 0 {
		errs = append(errs, errors.New("normalizer.memo_size has to be > 0"))
	}
	if c.Normalizer.MinTokenLength < 1 {
		errs = append(errs, errors.New("normalizer.min_token_length has to be >= 1"))
	}

	return errors.Join(errs...)
}

// Policy parses CancelPolicy.
func (c Config) Policy() (semcache.CancelPolicy, error) {
	switch c.CancelPolicy {
	case "", semcache.RunToCompletion.String():
		return semcache.RunToCompletion, nil
	case semcache.CancelWhenAbandoned.String():
		return semcache.CancelWhenAbandoned, nil
	default:
		return 0, fmt.Errorf("unknown cancel_policy %q", c.CancelPolicy)
	}
}

// NormalizerOptions translates the normalizer section. The canonicalizer is wired by the caller.
func (c Config) NormalizerOptions() []normalize.Option {
	opts := []normalize.Option{
		normalize.WithTimeout(c.Normalizer.Timeout),
		normalize.WithMemoSize(c.Normalizer.MemoSize),
		normalize.WithMinTokenLength(c.Normalizer.MinTokenLength),
	}
	if len(c.Normalizer.Stopwords) > 0 {
		opts = append(opts, normalize.WithStopwords(c.Normalizer.Stopwords...))
	}

	return opts
}

// CacheOptions translates the cache settings. Backends and the normalizer are wired by the caller.
func (c Config) CacheOptions() ([]semcache.Option, error) {
	policy, err := c.Policy()
	if err != nil {
		return nil, err
	}

	opts := []semcache.Option{
		semcache.WithTTL(c.TTL),
		semcache.WithCapacity(c.Capacity.Queries, c.Capacity.Content),
		semcache.WithCancelPolicy(policy),
	}
	if c.ComputeTimeout > 0 {
		opts = append(opts, semcache.WithComputeTimeout(c.ComputeTimeout))
	}

	return opts, nil
}
