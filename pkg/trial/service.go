package trial

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/scribbly/engine/pkg/analytics"
	"github.com/scribbly/engine/pkg/entitlement"
	"github.com/scribbly/engine/pkg/kv"
	"github.com/scribbly/engine/pkg/notify"
	"github.com/scribbly/engine/pkg/pricing"
)

// Storage keys for the trial service's persisted records.
const (
	KeyActive   = "trial_info"
	KeyHistory  = "trial_history"
	KeyAttempts = "conversion_attempts"
)

// promotionalUnlockAttempts is how many recorded conversion attempts
// unlock promotional trial offers.
const promotionalUnlockAttempts = 2

// EntitlementWriter is the slice of the pricing service the trial service
// drives. Satisfied by *pricing.Service.
type EntitlementWriter interface {
	BeginTrial(ctx context.Context, tier entitlement.Tier, start, end time.Time) bool
	ExtendTrialUntil(ctx context.Context, end time.Time) bool
	EndTrial(ctx context.Context) bool
	ActivateSubscription(ctx context.Context, req pricing.ActivateRequest) bool
}

// Snapshot is published on every trial state change.
type Snapshot struct {
	Active             *Trial
	ConversionAttempts int
}

// Service is the trial lifecycle state machine. All methods are safe for
// concurrent use; expiry is folded into history lazily at the start of
// every public call.
type Service struct {
	mu          sync.Mutex
	active      *Trial
	history     []Trial
	attempts    int
	initialized bool

	store   kv.Store
	pricing EntitlementWriter
	tracker analytics.Tracker
	log     *slog.Logger
	hub     *notify.Hub[Snapshot]
	catalog []Offer
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

// WithCatalog replaces the default offer catalog.
func WithCatalog(catalog []Offer) Option {
	return func(s *Service) {
		if len(catalog) > 0 {
			s.catalog = catalog
		}
	}
}

// New creates a trial service. Panics if store or entitlements is nil to
// fail fast during initialization. A nil tracker falls back to a no-op
// sink. Call Initialize before any query or mutation.
func New(store kv.Store, entitlements EntitlementWriter, tracker analytics.Tracker, opts ...Option) *Service {
	if store == nil {
		panic("trial: kv store is required")
	}
	if entitlements == nil {
		panic("trial: entitlement writer is required")
	}
	if tracker == nil {
		tracker = analytics.NewNoop()
	}

	s := &Service{
		store:   store,
		pricing: entitlements,
		tracker: tracker,
		log:     slog.Default(),
		hub:     notify.NewHub[Snapshot](4),
		catalog: DefaultCatalog(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads the active trial, history, and conversion-attempt
// counter. Missing or corrupt blobs load as type-appropriate defaults.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = nil
	if data, err := s.store.Get(ctx, KeyActive); err == nil {
		var t Trial
		if jsonErr := json.Unmarshal(data, &t); jsonErr == nil && !t.State.IsTerminal() && t.State != "" {
			s.active = &t
		} else if jsonErr != nil {
			s.log.WarnContext(ctx, "corrupt active trial record, discarding",
				slog.String("error", jsonErr.Error()))
		}
	}

	s.history = nil
	if data, err := s.store.Get(ctx, KeyHistory); err == nil {
		var h []Trial
		if jsonErr := json.Unmarshal(data, &h); jsonErr == nil {
			s.history = h
		} else {
			s.log.WarnContext(ctx, "corrupt trial history, discarding",
				slog.String("error", jsonErr.Error()))
		}
	}

	s.attempts = 0
	if data, err := s.store.Get(ctx, KeyAttempts); err == nil {
		var n int
		if json.Unmarshal(data, &n) == nil && n >= 0 {
			s.attempts = n
		}
	}

	s.initialized = true
	return nil
}

func (s *Service) mustInit() {
	if !s.initialized {
		panic("trial: service used before Initialize")
	}
}

// Start begins a new trial. Returns false without side effects when a
// trial is already running, the parameters are invalid, the promo code is
// malformed, or the user is not eligible for this tier+type offer.
func (s *Service) Start(ctx context.Context, tier entitlement.Tier, durationDays int, typ Type, promoCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	s.refreshExpiry(ctx)

	if s.active != nil {
		return false
	}
	if tier == entitlement.TierFree || durationDays <= 0 {
		return false
	}
	if !ValidPromoCode(promoCode) {
		return false
	}
	if !s.eligible(tier, typ) {
		return false
	}

	now := s.now()
	expires := now.AddDate(0, 0, durationDays)

	// Apply the entitlement first so a refusal there leaves no partial state.
	if !s.pricing.BeginTrial(ctx, tier, now, expires) {
		return false
	}

	s.active = &Trial{
		Tier:                 tier,
		Type:                 typ,
		StartedAt:            now,
		ExpiresAt:            expires,
		OriginalDurationDays: durationDays,
		PromoCode:            promoCode,
		State:                StateActive,
	}

	s.persist(ctx)
	s.publish()
	s.tracker.Track(ctx, "trial_started", analytics.Properties{
		"tier":          tier.String(),
		"type":          string(typ),
		"duration_days": durationDays,
		"promo_code":    promoCode,
	})
	return true
}

// Extend pushes the active trial's expiry forward by days. Only legal from
// the active state; an extended trial cannot be extended again.
func (s *Service) Extend(ctx context.Context, days int, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	s.refreshExpiry(ctx)

	if s.active == nil || s.active.State != StateActive || days <= 0 {
		return false
	}

	newEnd := s.active.ExpiresAt.AddDate(0, 0, days)
	if !s.pricing.ExtendTrialUntil(ctx, newEnd) {
		return false
	}

	s.active.ExpiresAt = newEnd
	s.active.ExtensionDays += days
	s.active.State = StateExtended

	s.persist(ctx)
	s.publish()
	s.tracker.Track(ctx, "trial_extended", analytics.Properties{
		"days":   days,
		"reason": reason,
	})
	return true
}

// Convert ends the trial by activating the paid entitlement described by
// req (already-verified purchase facts). Legal from active and extended.
func (s *Service) Convert(ctx context.Context, req pricing.ActivateRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	s.refreshExpiry(ctx)

	if s.active == nil {
		return false
	}
	if !s.pricing.ActivateSubscription(ctx, req) {
		return false
	}

	trial := *s.active
	trial.State = StateConverted
	s.history = append(s.history, trial)
	s.active = nil

	s.persist(ctx)
	s.publish()
	s.tracker.Track(ctx, "trial_converted", analytics.Properties{
		"tier":        trial.Tier.String(),
		"type":        string(trial.Type),
		"target_tier": req.Tier.String(),
	})
	return true
}

// Cancel ends the trial without converting. Legal from active and
// extended. Paid entitlements are never touched.
func (s *Service) Cancel(ctx context.Context, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	s.refreshExpiry(ctx)

	if s.active == nil {
		return false
	}

	trial := *s.active
	trial.State = StateCancelled
	s.history = append(s.history, trial)
	s.active = nil
	s.pricing.EndTrial(ctx)

	s.persist(ctx)
	s.publish()
	s.tracker.Track(ctx, "trial_cancelled", analytics.Properties{
		"tier":   trial.Tier.String(),
		"type":   string(trial.Type),
		"reason": reason,
	})
	return true
}

// RecordConversionAttempt counts a paywall interaction that did not end in
// a purchase. Promotional offers unlock after enough of these.
func (s *Service) RecordConversionAttempt(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	s.attempts++
	s.persistAttempts(ctx)
	s.publish()
	s.tracker.Track(ctx, "conversion_attempt_recorded", analytics.Properties{
		"count": s.attempts,
	})
	return s.attempts
}

// ConversionAttempts returns the recorded conversion-attempt count.
func (s *Service) ConversionAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	return s.attempts
}

// Active returns a copy of the running trial, if any. Expiry is applied
// first, so a lapsed trial reads as absent.
func (s *Service) Active(ctx context.Context) (Trial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	s.refreshExpiry(ctx)

	if s.active == nil {
		return Trial{}, false
	}
	return *s.active, true
}

// History returns a copy of the terminal trial records, oldest first.
func (s *Service) History(ctx context.Context) []Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	s.refreshExpiry(ctx)

	out := make([]Trial, len(s.history))
	copy(out, s.history)
	return out
}

// AvailableOffers returns the catalog entries the user is currently
// eligible for. Empty while a trial is running.
func (s *Service) AvailableOffers(ctx context.Context) []Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()
	s.refreshExpiry(ctx)

	if s.active != nil {
		return nil
	}

	var offers []Offer
	for _, offer := range s.catalog {
		if s.eligible(offer.Tier, offer.Type) {
			offers = append(offers, offer)
		}
	}
	return offers
}

// ClearData wipes trial state: active slot, history, and the attempt
// counter. Used for logout and test reset.
func (s *Service) ClearData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	s.active = nil
	s.history = nil
	s.attempts = 0

	for _, key := range []string{KeyActive, KeyHistory, KeyAttempts} {
		if err := s.store.Delete(ctx, key); err != nil {
			return err
		}
	}

	s.publish()
	return nil
}

// Changes returns a channel receiving a snapshot after every state change.
func (s *Service) Changes(ctx context.Context) <-chan Snapshot {
	return s.hub.Subscribe(ctx)
}

// Close shuts down the change hub.
func (s *Service) Close() {
	s.hub.Close()
}

// eligible applies the per-type offer rules against history and the
// conversion-attempt counter. Caller holds the mutex.
func (s *Service) eligible(tier entitlement.Tier, typ Type) bool {
	if s.consumed(tier, typ) {
		return false
	}

	switch typ {
	case TypeStandard:
		return true
	case TypePromotional:
		return s.attempts >= promotionalUnlockAttempts
	case TypeWinback:
		// Win-back requires a prior trial for this tier that expired
		// without converting.
		for _, t := range s.history {
			if t.Tier == tier && t.State == StateExpired {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// consumed reports whether a tier+type combination already appears in
// history. One trial per tier per type, regardless of how it ended.
func (s *Service) consumed(tier entitlement.Tier, typ Type) bool {
	for _, t := range s.history {
		if t.Tier == tier && t.Type == typ {
			return true
		}
	}
	return false
}

// refreshExpiry folds a lapsed active trial into history. Caller holds the
// mutex. This is the lazy-expiry point: no timer ever fires.
func (s *Service) refreshExpiry(ctx context.Context) {
	if s.active == nil || s.now().Before(s.active.ExpiresAt) {
		return
	}

	trial := *s.active
	trial.State = StateExpired
	s.history = append(s.history, trial)
	s.active = nil
	s.pricing.EndTrial(ctx)

	s.persist(ctx)
	s.publish()
	s.tracker.Track(ctx, "trial_expired", analytics.Properties{
		"tier": trial.Tier.String(),
		"type": string(trial.Type),
	})
}

// persist writes the active slot and history. Caller holds the mutex.
func (s *Service) persist(ctx context.Context) {
	if s.active != nil {
		if data, err := json.Marshal(s.active); err == nil {
			if err := s.store.Set(ctx, KeyActive, data); err != nil {
				s.log.WarnContext(ctx, "failed to persist active trial", slog.String("error", err.Error()))
			}
		}
	} else {
		if err := s.store.Delete(ctx, KeyActive); err != nil {
			s.log.WarnContext(ctx, "failed to clear active trial", slog.String("error", err.Error()))
		}
	}

	if data, err := json.Marshal(s.history); err == nil {
		if err := s.store.Set(ctx, KeyHistory, data); err != nil {
			s.log.WarnContext(ctx, "failed to persist trial history", slog.String("error", err.Error()))
		}
	}
}

func (s *Service) persistAttempts(ctx context.Context) {
	data, _ := json.Marshal(s.attempts)
	if err := s.store.Set(ctx, KeyAttempts, data); err != nil {
		s.log.WarnContext(ctx, "failed to persist conversion attempts", slog.String("error", err.Error()))
	}
}

func (s *Service) publish() {
	snap := Snapshot{ConversionAttempts: s.attempts}
	if s.active != nil {
		active := *s.active
		snap.Active = &active
	}
	s.hub.Publish(snap)
}
