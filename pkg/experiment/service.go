package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/scribbly/engine/pkg/analytics"
	"github.com/scribbly/engine/pkg/kv"
)

// StorageKey is where cached variant assignments are persisted.
const StorageKey = "user_group_assignments"

// buckets is the hash range. Basis-point precision: each allocation
// percent covers 100 buckets.
const buckets = 10000

// Service owns variant assignment for the local user base. It is the
// single writer of the assignment record.
type Service struct {
	mu          sync.Mutex
	initialized bool

	store    kv.Store
	tracker  analytics.Tracker
	registry Registry
	log      *slog.Logger
	now      func() time.Time

	// assignments is keyed by experimentID + ":" + userID. Persisted.
	assignments map[string]string
	// forced is the debug override, keyed by experiment id. Not persisted.
	forced map[string]string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source used for run-window checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRegistry replaces the default experiment registry.
func WithRegistry(registry Registry) Option {
	return func(s *Service) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// New creates an assignment service. Panics if store is nil to fail fast
// during initialization; returns an error if the registry is invalid. A nil
// tracker falls back to a no-op sink.
func New(store kv.Store, tracker analytics.Tracker, opts ...Option) (*Service, error) {
	if store == nil {
		panic("experiment: kv store is required")
	}
	if tracker == nil {
		tracker = analytics.NewNoop()
	}

	s := &Service{
		store:       store,
		tracker:     tracker,
		registry:    DefaultRegistry(),
		log:         slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		assignments: make(map[string]string),
		forced:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.registry.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize loads the persisted assignment cache. A missing or corrupt
// record yields an empty cache; corruption is logged and never fatal.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, kv.ErrKeyNotFound):
		s.assignments = make(map[string]string)
	case err != nil:
		return err
	default:
		var assignments map[string]string
		if uerr := json.Unmarshal(data, &assignments); uerr != nil {
			s.log.Warn("corrupt assignment record, resetting", "error", uerr)
			s.assignments = make(map[string]string)
		} else if assignments == nil {
			s.assignments = make(map[string]string)
		} else {
			s.assignments = assignments
		}
	}

	s.initialized = true
	return nil
}

func (s *Service) mustInit() {
	if !s.initialized {
		panic("experiment: service used before Initialize")
	}
}

// Variant returns the user's variant for an experiment. Deterministic: the
// same user and experiment always produce the same variant. Resolution
// order is forced override, cached assignment, fresh hash. Unknown and
// inactive experiments return control without caching, so a later
// activation still hashes fresh.
func (s *Service) Variant(ctx context.Context, experimentID, userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	if variant, ok := s.forced[experimentID]; ok {
		return variant
	}

	exp, ok := s.registry[experimentID]
	if !ok || !exp.IsRunningAt(s.now()) {
		return ControlVariant
	}

	key := experimentID + ":" + userID
	if variant, ok := s.assignments[key]; ok {
		return variant
	}

	variant := assign(exp, bucket(userID, experimentID))
	s.assignments[key] = variant
	s.persist(ctx)
	s.tracker.Track(ctx, "experiment_assigned", analytics.Properties{
		"experiment_id": experimentID,
		"variant":       variant,
		"user_id":       userID,
	})
	return variant
}

// ForceVariant overrides assignment for an experiment, bypassing hashing
// entirely. Debug only; not persisted. An empty variant clears the
// override.
func (s *Service) ForceVariant(experimentID, variant string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if variant == "" {
		delete(s.forced, experimentID)
		return
	}
	s.forced[experimentID] = variant
}

// TrackConversion records a conversion event tagged with the user's
// assigned variant. The variant is always re-derived, never accepted as a
// parameter, so a conversion cannot be mislabeled.
func (s *Service) TrackConversion(ctx context.Context, experimentID, event, userID string, props analytics.Properties) {
	variant := s.Variant(ctx, experimentID, userID)

	tagged := make(analytics.Properties, len(props)+3)
	maps.Copy(tagged, props)
	// Assignment tags always win over caller-supplied properties.
	tagged["experiment_id"] = experimentID
	tagged["variant"] = variant
	tagged["user_id"] = userID
	s.tracker.Track(ctx, event, tagged)
}

// Assignments returns a snapshot of the cached assignments, keyed by
// "experimentID:userID".
func (s *Service) Assignments() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.assignments)
}

// Reset clears all cached assignments and forced overrides, for logout or
// test reset. Experiment definitions are untouched.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments = make(map[string]string)
	s.forced = make(map[string]string)

	if err := s.store.Delete(ctx, StorageKey); err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
		return err
	}
	return nil
}

// persist writes the assignment cache. In-memory state stays
// authoritative; a write failure is logged and retried on the next
// assignment.
func (s *Service) persist(ctx context.Context) {
	data, err := json.Marshal(s.assignments)
	if err != nil {
		s.log.Error("marshal assignment cache", "error", err)
		return
	}
	if err := s.store.Set(ctx, StorageKey, data); err != nil {
		s.log.Error("persist assignment cache", "error", err)
	}
}

// bucket hashes a user and experiment into [0, buckets). FNV-1a keeps the
// assignment stable across runs and platforms.
func bucket(userID, experimentID string) int {
	h := fnv.New64a()
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write([]byte(experimentID))
	return int(h.Sum64() % buckets)
}

// assign walks the variants in lexical order, accumulating allocations in
// basis points, and returns the variant whose cumulative range covers the
// bucket. The fixed order is what makes the walk deterministic.
func assign(exp Experiment, bucket int) string {
	ids := make([]string, 0, len(exp.Variants))
	for id := range exp.Variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cumulative := 0
	for _, id := range ids {
		cumulative += exp.Variants[id] * 100
		if bucket < cumulative {
			return id
		}
	}
	// Unreachable while allocations sum to 100; guard anyway.
	return ControlVariant
}
