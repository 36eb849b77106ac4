// Package normalize maps free-form queries to canonical cache keys.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/apex/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	// Separator joins the tokens of a canonical key.
	Separator = ":"
	// ScopeSeparator precedes the scope appended to a key.
	ScopeSeparator = "|"

	defaultTimeout        = 2 * time.Second
	defaultMemoSize       = 4096
	defaultMinTokenLength = 2
)

var (
	// ErrNoIntent is returned when a canonicalizer response holds no usable intent.
	ErrNoIntent = errors.New("normalize: no intent in response")
)

// Canonicalizer is an external, typically model-backed, strategy. It returns free text that
// contains a JSON object with "entity", "collection" and "action" fields.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: implementations should honor cancellation. The Normalizer stops waiting at its
//     timeout either way.
type Canonicalizer interface {
	Canonicalize(ctx context.Context, text string) (string, error)
}

// CanonicalizerFunc adapts a function to Canonicalizer.
type CanonicalizerFunc func(ctx context.Context, text string) (string, error)

func (f CanonicalizerFunc) Canonicalize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Intent is the structured form returned by a Canonicalizer.
type Intent struct {
	Entity     string `json:"entity"`
	Collection string `json:"collection"`
	Action     string `json:"action,omitempty"`
}

// Key builds the canonical key of the intent. Parts are sorted like deterministic tokens.
func (i Intent) Key() string {
	var parts []string
	for _, p := range []string{i.Entity, i.Collection, i.Action} {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			parts = append(parts, p)
		}
	}
	sort.Strings(parts)

	return strings.Join(parts, Separator)
}

type config struct {
	canonicalizer  Canonicalizer
	timeout        time.Duration
	memoSize       int
	minTokenLength int
	extraStopwords []string
	logger         log.Interface
}

// Option configures a Normalizer.
type Option func(*config) error

// WithCanonicalizer enables the external strategy.
func WithCanonicalizer(c Canonicalizer) Option {
	return func(cfg *config) error {
		cfg.canonicalizer = c

		return nil
	}
}

// WithTimeout bounds every canonicalizer call.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("normalize: timeout has to be > 0")
		}
		cfg.timeout = d

		return nil
	}
}

// WithMemoSize sets how many canonicalizer results are remembered.
func WithMemoSize(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return errors.New("normalize: memo size has to be > 0")
		}
		cfg.memoSize = n

		return nil
	}
}

// WithMinTokenLength drops shorter tokens in the deterministic strategy.
func WithMinTokenLength(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.New("normalize: min token length has to be >= 1")
		}
		cfg.minTokenLength = n

		return nil
	}
}

// WithStopwords adds words dropped by the deterministic strategy.
func WithStopwords(words ...string) Option {
	return func(cfg *config) error {
		for _, w := range words {
			cfg.extraStopwords = append(cfg.extraStopwords, strings.ToLower(w))
		}

		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Interface) Option {
	return func(cfg *config) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	}
}

// Normalizer maps free text to canonical cache keys.
//
// Without a Canonicalizer it only uses the deterministic strategy. With one, the external
// result is preferred, and any failure of it falls back to the deterministic strategy.
type Normalizer struct {
	config    config
	stopwords map[string]struct{}
	memo      *lru.Cache[string, string]
	group     singleflight.Group
}

// New creates a Normalizer.
func New(options ...Option) (*Normalizer, error) {
	cfg := config{
		timeout:        defaultTimeout,
		memoSize:       defaultMemoSize,
		minTokenLength: defaultMinTokenLength,
		logger:         log.Log,
	}
	for _, o := range options {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	memo, err := lru.New[string, string](cfg.memoSize)
	if err != nil {
		return nil, fmt.Errorf("normalize: creating memo: %w", err)
	}

	return &Normalizer{
		config:    cfg,
		stopwords: wordSet(englishStopwords, intentNeutralWords, cfg.extraStopwords),
		memo:      memo,
	}, nil
}

// Normalize returns the canonical key for raw. A non-empty scope is appended as-is,
// so the same text scoped to different services never shares a key.
// Normalize never fails.
func (n *Normalizer) Normalize(ctx context.Context, raw, scope string) string {
	key := n.canonical(ctx, raw)
	if scope != "" {
		key += ScopeSeparator + scope
	}

	return key
}

func (n *Normalizer) canonical(ctx context.Context, raw string) string {
	if n.config.canonicalizer == nil {
		return n.Deterministic(raw)
	}

	if key, ok := n.memo.Get(raw); ok {
		return key
	}

	// The shared call outlives any single caller. Each caller stops waiting on its own ctx.
	ch := n.group.DoChan(raw, func() (any, error) {
		key, err := n.external(context.WithoutCancel(ctx), raw)
		if err != nil {
			return "", err
		}
		n.memo.Add(raw, key)

		return key, nil
	})

	var err error
	select {
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(string)
		}
		err = res.Err
	case <-ctx.Done():
		err = fmt.Errorf("normalize: waiting for canonicalizer: %w", ctx.Err())
	}

	n.config.logger.WithError(err).WithField("query", truncate(raw, 50)).
		Warn("external normalization failed, using deterministic fallback")

	return n.Deterministic(raw)
}

func (n *Normalizer) external(ctx context.Context, raw string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.config.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("normalize: canonicalizer panicked: %v", r)}
			}
		}()
		text, err := n.config.canonicalizer.Canonicalize(ctx, raw)
		done <- result{text: text, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return "", fmt.Errorf("normalize: canonicalizer: %w", ctx.Err())
	}
	if res.err != nil {
		return "", res.err
	}

	intent, err := ParseIntent(res.text)
	if err != nil {
		return "", err
	}
	key := intent.Key()
	if key == "" {
		return "", ErrNoIntent
	}

	n.config.logger.WithFields(log.Fields{
		"query":     truncate(raw, 50),
		"canonical": key,
		"duration":  time.Since(start).String(),
	}).Debug("query normalized externally")

	return key, nil
}

// ParseIntent extracts the intent object from free text. Anything before the first '{'
// and after the last '}' is ignored.
func ParseIntent(text string) (Intent, error) {
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first == -1 || last < first {
		return Intent{}, ErrNoIntent
	}

	var intent Intent
	if err := json.Unmarshal([]byte(text[first:last+1]), &intent); err != nil {
		return Intent{}, fmt.Errorf("normalize: decoding intent: %w", err)
	}

	return intent, nil
}

// Deterministic is the rule-based strategy. The result is independent of word order
// and Deterministic(Deterministic(s)) == Deterministic(s).
//
// When every word is filtered out, as in "show me all", the key is built from all the
// words instead, so vague queries with different wording don't share a key.
func (n *Normalizer) Deterministic(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return unicode.ToLower(r)
		}
		return ' '
	}, raw)
	words := strings.Fields(cleaned)

	tokens := n.tokens(words, true)
	if len(tokens) == 0 {
		tokens = n.tokens(words, false)
	}

	return strings.Join(tokens, Separator)
}

// tokens returns the sorted distinct words, optionally dropping short words and stopwords.
func (n *Normalizer) tokens(words []string, filter bool) []string {
	seen := make(map[string]struct{})
	tokens := make([]string, 0, 8)
	for _, t := range words {
		if filter {
			if len([]rune(t)) < n.config.minTokenLength {
				continue
			}
			if _, stop := n.stopwords[t]; stop {
				continue
			}
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	return tokens
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}
