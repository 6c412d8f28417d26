package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// SeedSource supplies the sample collection written on first use of an empty slot
type SeedSource interface {
	SeedRules() []RuleInput
}

// SeedFunc adapts a function to SeedSource
type SeedFunc func() []RuleInput

// SeedRules implements SeedSource
func (f SeedFunc) SeedRules() []RuleInput {
	return f()
}

// StoreMetrics receives store activity
type StoreMetrics interface {
	LoadServed(source string)
	Saved(ok bool)
	Reseeded(reason string)
}

type nopStoreMetrics struct{}

func (nopStoreMetrics) LoadServed(string) {}
func (nopStoreMetrics) Saved(bool)        {}
func (nopStoreMetrics) Reseeded(string)   {}

// Load sources reported to StoreMetrics
const (
	SourceCache  = "cache"
	SourceMedium = "medium"
	SourceSeed   = "seed"
)

// Store persists the full rule collection in a Medium.
// Every collection it returns is a deep copy, so mutating a loaded rule has no
// effect until it is passed back to Save.
type Store struct {
	medium     Medium
	seed       SeedSource
	normalizer *Normalizer
	cache      RulesCache
	metrics    StoreMetrics
	logger     *slog.Logger
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithCache replaces the default no-expiry snapshot cache
func WithCache(cache RulesCache) StoreOption {
	return func(s *Store) { s.cache = cache }
}

// WithNormalizer sets the normalizer used for persisted and seeded entries
func WithNormalizer(n *Normalizer) StoreOption {
	return func(s *Store) { s.normalizer = n }
}

// WithStoreMetrics attaches a metrics sink
func WithStoreMetrics(m StoreMetrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithStoreLogger sets the logger
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store over medium, seeding from seed when the slot is
// empty or unreadable. seed may be nil, in which case the seed is empty.
func NewStore(medium Medium, seed SeedSource, opts ...StoreOption) *Store {
	s := &Store{
		medium:     medium,
		seed:       seed,
		normalizer: NewNormalizer(nil),
		cache:      NewInMemoryRulesCache(DefaultCacheConfig()),
		metrics:    nopStoreMetrics{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seed == nil {
		s.seed = SeedFunc(func() []RuleInput { return nil })
	}
	s.logger = s.logger.With("component", "rule_store")
	return s
}

// Load returns the persisted collection in stored order.
// An empty slot or a corrupt payload is replaced by the normalized seed,
// which is persisted before it is returned. Medium transport errors are
// returned as-is so a transient outage never overwrites real data.
// Entries that are not objects are dropped; when any entry needed a generated
// id or ruleId the normalized collection is written back before it is returned.
func (s *Store) Load(ctx context.Context) ([]*Rule, error) {
	if cached := s.cache.Get(); cached != nil {
		s.metrics.LoadServed(SourceCache)
		return cached, nil
	}

	data, err := s.medium.Read(ctx)
	if errors.Is(err, ErrSlotEmpty) {
		return s.reseed(ctx, "empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	rules, generated, err := s.decode(data)
	if err != nil {
		s.logger.Warn("Discarding unreadable rules payload", "error", err, "bytes", len(data))
		return s.reseed(ctx, "corrupt")
	}

	// Identifiers generated while decoding must be stored or they change on the next read
	if generated > 0 {
		if err := s.Save(ctx, rules); err != nil {
			return nil, fmt.Errorf("failed to persist generated identifiers: %w", err)
		}
		s.logger.Info("Persisted generated rule identifiers", "rules", generated)
		s.metrics.LoadServed(SourceMedium)
		return cloneRules(rules), nil
	}

	s.cache.Set(rules)
	s.metrics.LoadServed(SourceMedium)
	return rules, nil
}

// Save replaces the persisted collection with rules
func (s *Store) Save(ctx context.Context, rules []*Rule) error {
	if rules == nil {
		rules = []*Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		s.metrics.Saved(false)
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	if err := s.medium.Write(ctx, data); err != nil {
		s.metrics.Saved(false)
		s.cache.Invalidate()
		return fmt.Errorf("failed to save rules: %w", err)
	}

	s.cache.Set(rules)
	s.metrics.Saved(true)
	return nil
}

// Invalidate drops the snapshot cache so the next Load reads the medium
func (s *Store) Invalidate() {
	s.cache.Invalidate()
}

// decode normalizes each entry of a stored list on its own. Entries that are
// not objects are skipped. It also reports how many rules were missing an
// identifier and had one generated.
func (s *Store) decode(data []byte) ([]*Rule, int, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if entries == nil {
		return nil, 0, fmt.Errorf("%w: payload is not a rule list", ErrCorruptState)
	}

	rules := make([]*Rule, 0, len(entries))
	generated := 0
	for i, entry := range entries {
		var raw RuleInput
		if err := json.Unmarshal(entry, &raw); err != nil {
			s.logger.Warn("Skipping unreadable rule entry", "index", i, "error", err)
			continue
		}
		if raw.missingIdentity() {
			generated++
		}
		rules = append(rules, s.normalizer.Normalize(raw))
	}
	return rules, generated, nil
}

func (s *Store) reseed(ctx context.Context, reason string) ([]*Rule, error) {
	seeds := s.seed.SeedRules()
	rules := make([]*Rule, len(seeds))
	for i, raw := range seeds {
		rules[i] = s.normalizer.Normalize(raw)
	}

	if err := s.Save(ctx, rules); err != nil {
		return nil, fmt.Errorf("failed to persist seed rules: %w", err)
	}

	s.logger.Info("Seeded rule store", "reason", reason, "rules", len(rules))
	s.metrics.Reseeded(reason)
	s.metrics.LoadServed(SourceSeed)
	return cloneRules(rules), nil
}
