package pricing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scribbly/engine/pkg/analytics"
	"github.com/scribbly/engine/pkg/entitlement"
	"github.com/scribbly/engine/pkg/kv"
	"github.com/scribbly/engine/pkg/notify"
)

// StorageKey is the fixed key the entitlement record is persisted under.
const StorageKey = "user_entitlements"

// Service owns the entitlement record and applies purchase, trial, and
// usage transitions to it. All methods are safe for concurrent use.
type Service struct {
	mu          sync.Mutex
	ent         entitlement.Entitlements
	initialized bool

	store   kv.Store
	tracker analytics.Tracker
	log     *slog.Logger
	hub     *notify.Hub[entitlement.Entitlements]
	now     func() time.Time
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

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a pricing service writing through the given store.
// Panics if store is nil to fail fast during initialization. A nil tracker
// falls back to a no-op sink. Call Initialize before any query or mutation.
func New(store kv.Store, tracker analytics.Tracker, opts ...Option) *Service {
	if store == nil {
		panic("pricing: kv store is required")
	}
	if tracker == nil {
		tracker = analytics.NewNoop()
	}

	s := &Service{
		ent:     entitlement.NewFree(),
		store:   store,
		tracker: tracker,
		log:     slog.Default(),
		hub:     notify.NewHub[entitlement.Entitlements](4),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the persisted record. A missing or corrupt blob yields
// a fresh free-tier record; corruption is logged and never fatal.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Get(ctx, StorageKey)
	switch {
	case err == nil:
		ent, decodeErr := entitlement.Decode(data)
		if decodeErr != nil {
			s.log.WarnContext(ctx, "corrupt entitlement record, resetting to free tier",
				slog.String("error", decodeErr.Error()))
			ent = entitlement.NewFree()
		}
		s.ent = ent
	default:
		// Missing key and store failures both start from the safe default.
		s.ent = entitlement.NewFree()
	}

	s.initialized = true
	return nil
}

func (s *Service) mustInit() {
	if !s.initialized {
		panic("pricing: service used before Initialize")
	}
}

// ActivateRequest carries already-verified purchase facts. The engine does
// no billing verification; callers must have validated the purchase with
// the relevant store API first.
type ActivateRequest struct {
	Type           entitlement.SubscriptionType
	Tier           entitlement.Tier
	ProductID      string
	SubscriptionID string
	EndsAt         *time.Time
}

// ActivateSubscription applies a verified purchase to the entitlement
// record. Returns false without mutating anything when the request is
// invalid: a lifetime purchase with an end date, a recurring purchase
// without one, a non-paid type, or a free tier.
func (s *Service) ActivateSubscription(ctx context.Context, req ActivateRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	if !req.Type.IsPaid() || req.Tier == entitlement.TierFree {
		return false
	}
	// Lifetime has no expiry; an end date here is a caller error.
	if req.Type == entitlement.SubscriptionLifetime && req.EndsAt != nil {
		return false
	}
	if req.Type.IsRecurring() && req.EndsAt == nil {
		return false
	}

	s.ent.Tier = req.Tier
	s.ent.SubscriptionType = req.Type
	s.ent.SubscriptionID = req.SubscriptionID
	s.ent.SubscriptionEndsAt = req.EndsAt
	// A paid purchase supersedes any trial entitlement.
	s.ent.TrialStartedAt = nil
	s.ent.TrialEndsAt = nil

	s.persist(ctx)
	s.publish()
	s.tracker.Track(ctx, "subscription_activated", analytics.Properties{
		"type":       string(req.Type),
		"tier":       req.Tier.String(),
		"product_id": req.ProductID,
	})
	return true
}

// BeginTrial applies a trial entitlement. Refused while a valid paid
// subscription is in effect. Eligibility rules live in the trial service;
// this only guards the record itself.
func (s *Service) BeginTrial(ctx context.Context, tier entitlement.Tier, start, end time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	if tier == entitlement.TierFree || !end.After(start) {
		return false
	}
	if s.ent.SubscriptionType.IsPaid() && s.ent.IsPremiumAt(s.now()) {
		return false
	}

	s.ent.Tier = tier
	s.ent.SubscriptionType = entitlement.SubscriptionTrial
	s.ent.SubscriptionID = ""
	s.ent.SubscriptionEndsAt = nil
	s.ent.TrialStartedAt = &start
	s.ent.TrialEndsAt = &end

	s.persist(ctx)
	s.publish()
	return true
}

// ExtendTrialUntil pushes the trial entitlement's end forward. Only legal
// while a trial entitlement is in place.
func (s *Service) ExtendTrialUntil(ctx context.Context, end time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	if s.ent.SubscriptionType != entitlement.SubscriptionTrial || s.ent.TrialEndsAt == nil {
		return false
	}
	if !end.After(*s.ent.TrialEndsAt) {
		return false
	}

	s.ent.TrialEndsAt = &end
	s.persist(ctx)
	s.publish()
	return true
}

// EndTrial removes a trial entitlement, dropping the record back to free.
// Paid entitlements and usage counters are untouched. No-op returning
// false when no trial entitlement is in place.
func (s *Service) EndTrial(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	if s.ent.SubscriptionType != entitlement.SubscriptionTrial {
		return false
	}

	s.ent.Tier = entitlement.TierFree
	s.ent.SubscriptionType = entitlement.SubscriptionNone
	s.ent.TrialStartedAt = nil
	s.ent.TrialEndsAt = nil

	s.persist(ctx)
	s.publish()
	return true
}

// IsPremiumNow reports whether the user holds a valid premium entitlement
// at this instant. Trials count as premium while active.
func (s *Service) IsPremiumNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	return s.ent.IsPremiumAt(s.now())
}

// IsTrialActiveNow reports whether a trial entitlement is currently valid.
func (s *Service) IsTrialActiveNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	return s.ent.IsTrialActiveAt(s.now())
}

// NeedsRenewal reports whether a recurring subscription has lapsed without
// the record being downgraded yet.
func (s *Service) NeedsRenewal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	return s.ent.NeedsRenewalAt(s.now())
}

// IncrementVoiceNoteUsage bumps the monthly voice-note counter, resetting
// it first if the period started in a prior calendar month. Returns the
// new count.
func (s *Service) IncrementVoiceNoteUsage(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	now := s.now()
	if !entitlement.SameMonth(s.ent.VoicePeriodStart, now) {
		s.ent.MonthVoiceNotes = 0
		s.ent.VoicePeriodStart = now
	}
	s.ent.MonthVoiceNotes++

	s.persist(ctx)
	s.publish()
	return s.ent.MonthVoiceNotes
}

// IncrementExportUsage bumps the monthly export counter with the same lazy
// reset semantics as IncrementVoiceNoteUsage.
func (s *Service) IncrementExportUsage(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	now := s.now()
	if !entitlement.SameMonth(s.ent.ExportPeriodStart, now) {
		s.ent.MonthExports = 0
		s.ent.ExportPeriodStart = now
	}
	s.ent.MonthExports++

	s.persist(ctx)
	s.publish()
	return s.ent.MonthExports
}

// VoiceNotesThisMonth returns the live voice-note counter for the current
// calendar month.
func (s *Service) VoiceNotesThisMonth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	return s.ent.VoiceNotesAt(s.now())
}

// ExportsThisMonth returns the live export counter for the current
// calendar month.
func (s *Service) ExportsThisMonth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	return s.ent.ExportsAt(s.now())
}

// Entitlements returns a snapshot of the current record.
func (s *Service) Entitlements() entitlement.Entitlements {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	return s.ent
}

// ClearData resets the record to a fresh free tier. Used for logout and
// test reset.
func (s *Service) ClearData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	s.ent = entitlement.NewFree()
	if err := s.store.Delete(ctx, StorageKey); err != nil {
		return err
	}

	s.publish()
	s.tracker.Track(ctx, "entitlements_cleared", nil)
	return nil
}

// Changes returns a channel that receives an entitlement snapshot after
// every mutation. The channel closes when ctx is cancelled.
func (s *Service) Changes(ctx context.Context) <-chan entitlement.Entitlements {
	return s.hub.Subscribe(ctx)
}

// Close shuts down the change hub.
func (s *Service) Close() {
	s.hub.Close()
}

// persist writes the current record. A store failure is logged but does
// not roll back the in-memory state: memory is authoritative for the next
// read, and the next successful write repairs the blob.
func (s *Service) persist(ctx context.Context) {
	data, err := s.ent.Encode()
	if err != nil {
		s.log.ErrorContext(ctx, "failed to encode entitlement record", slog.String("error", err.Error()))
		return
	}
	if err := s.store.Set(ctx, StorageKey, data); err != nil {
		s.log.WarnContext(ctx, "failed to persist entitlement record", slog.String("error", err.Error()))
	}
}

func (s *Service) publish() {
	s.hub.Publish(s.ent)
}
