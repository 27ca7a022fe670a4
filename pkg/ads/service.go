package ads

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribbly/engine/pkg/analytics"
	"github.com/scribbly/engine/pkg/kv"
	"github.com/scribbly/engine/pkg/statemachine"
)

// StorageKey is where the frequency-cap counters live in the key-value
// store. Instances and session counters are deliberately not persisted.
const StorageKey = "ad_frequency"

// Denial reasons reported in Decision.Reason and analytics properties.
const (
	ReasonPremium          = "premium_user"
	ReasonUnknownPlacement = "unknown_placement"
	ReasonSessionLimit     = "session_limit"
	ReasonMinInterval      = "min_interval"
	ReasonProbability      = "probability"
)

// PremiumChecker is the slice of the pricing service the ads service reads.
// Satisfied by *pricing.Service.
type PremiumChecker interface {
	IsPremiumNow() bool
}

// Decision is the outcome of one placement query. A positive decision
// carries the instance id the caller uses for lifecycle transitions, and is
// cached until the ad is displayed or the decision is explicitly consumed.
type Decision struct {
	Show        bool   `json:"show"`
	InstanceID  string `json:"instance_id,omitempty"`
	PlacementID string `json:"placement_id"`
	Format      Format `json:"format,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// frequencyState is the persisted slice of the service: per-format
// last-shown timestamps, a per-placement daily counter with its day stamp,
// and the interstitial starvation counter.
type frequencyState struct {
	LastShown                map[Format]time.Time `json:"last_shown"`
	Day                      string               `json:"day"`
	ShownToday               map[string]int       `json:"shown_today"`
	ActionsSinceInterstitial int                  `json:"actions_since_interstitial"`
}

func newFrequencyState() frequencyState {
	return frequencyState{
		LastShown:  make(map[Format]time.Time),
		ShownToday: make(map[string]int),
	}
}

// Service owns all ad display decisions and instance lifecycles. It is the
// single writer of the frequency-cap record.
type Service struct {
	mu          sync.Mutex
	initialized bool

	store    kv.Store
	premium  PremiumChecker
	tracker  analytics.Tracker
	registry Registry
	policy   Policy
	log      *slog.Logger
	now      func() time.Time
	random   func() float64

	freq      frequencyState
	session   map[string]int
	decisions map[string]Decision
	instances map[string]*Instance
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for non-fatal persistence failures.
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

// WithRandom overrides the probability-gate random source with a function
// returning values in [0,1). Intended for tests.
func WithRandom(random func() float64) Option {
	return func(s *Service) {
		if random != nil {
			s.random = random
		}
	}
}

// WithRegistry replaces the default placement registry.
func WithRegistry(registry Registry) Option {
	return func(s *Service) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithPolicy replaces the default display policy.
func WithPolicy(policy Policy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

// New creates an ads decision service. Panics if store or premium is nil to
// fail fast during initialization; returns an error if the registry or
// policy is invalid. A nil tracker falls back to a no-op sink.
func New(store kv.Store, premium PremiumChecker, tracker analytics.Tracker, opts ...Option) (*Service, error) {
	if store == nil {
		panic("ads: kv store is required")
	}
	if premium == nil {
		panic("ads: premium checker is required")
	}
	if tracker == nil {
		tracker = analytics.NewNoop()
	}

	s := &Service{
		store:     store,
		premium:   premium,
		tracker:   tracker,
		registry:  DefaultRegistry(),
		policy:    DefaultPolicy(),
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		random:    rand.Float64,
		freq:      newFrequencyState(),
		session:   make(map[string]int),
		decisions: make(map[string]Decision),
		instances: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.registry.Validate(); err != nil {
		return nil, err
	}
	if err := s.policy.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize loads the persisted frequency-cap state. A missing or corrupt
// record resets to fresh counters; corruption is recoverable, never fatal.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, kv.ErrKeyNotFound):
		s.freq = newFrequencyState()
	case err != nil:
		return err
	default:
		var freq frequencyState
		if uerr := json.Unmarshal(data, &freq); uerr != nil {
			s.log.Warn("corrupt ad frequency record, resetting", "error", uerr)
			s.freq = newFrequencyState()
		} else {
			if freq.LastShown == nil {
				freq.LastShown = make(map[Format]time.Time)
			}
			if freq.ShownToday == nil {
				freq.ShownToday = make(map[string]int)
			}
			s.freq = freq
		}
	}

	s.initialized = true
	return nil
}

func (s *Service) mustInit() {
	if !s.initialized {
		panic("ads: service used before Initialize")
	}
}

// Decide evaluates whether the placement may show an ad right now. The
// important flag raises the interstitial probability for significant
// transitions. A positive decision is cached and returned unchanged until
// the ad displays, ConsumeDecision is called, or the user turns premium;
// denials are recomputed on every render.
func (s *Service) Decide(ctx context.Context, placementID string, important bool) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	// Premium wins over everything, including a decision cached before
	// the purchase.
	if s.premium.IsPremiumNow() {
		if cached, ok := s.decisions[placementID]; ok {
			delete(s.decisions, placementID)
			delete(s.instances, cached.InstanceID)
		}
		return s.denied(ctx, placementID, "", ReasonPremium)
	}

	if cached, ok := s.decisions[placementID]; ok {
		return cached
	}

	placement, ok := s.registry[placementID]
	if !ok {
		return s.denied(ctx, placementID, "", ReasonUnknownPlacement)
	}

	s.rolloverDay()

	if s.session[placementID] >= placement.SessionLimit {
		return s.denied(ctx, placementID, "", ReasonSessionLimit)
	}

	format, ok := s.eligibleFormat(placement)
	if !ok {
		return s.denied(ctx, placementID, "", ReasonMinInterval)
	}

	if format == FormatInterstitial && !s.passProbabilityGate(important) {
		return s.denied(ctx, placementID, format, ReasonProbability)
	}

	instance := &Instance{
		ID:          uuid.NewString(),
		PlacementID: placementID,
		Format:      format,
		CreatedAt:   s.now(),
		machine:     newInstanceMachine(),
	}
	s.instances[instance.ID] = instance

	decision := Decision{
		Show:        true,
		InstanceID:  instance.ID,
		PlacementID: placementID,
		Format:      format,
	}
	s.decisions[placementID] = decision
	return decision
}

// eligibleFormat walks the placement's formats in priority order and
// returns the first whose minimum interval has elapsed.
func (s *Service) eligibleFormat(placement Placement) (Format, bool) {
	now := s.now()
	for _, f := range placement.Formats {
		interval, capped := s.policy.MinInterval[f]
		if !capped || interval == 0 {
			return f, true
		}
		last, shown := s.freq.LastShown[f]
		if !shown || now.Sub(last) >= interval {
			return f, true
		}
	}
	return "", false
}

func (s *Service) passProbabilityGate(important bool) bool {
	if s.freq.ActionsSinceInterstitial >= s.policy.StarvationThreshold {
		return true
	}
	probability := s.policy.BaseProbability
	if important {
		probability = s.policy.ImportantProbability
	}
	return s.random() < probability
}

func (s *Service) denied(ctx context.Context, placementID string, format Format, reason string) Decision {
	s.tracker.Track(ctx, "ad_blocked", analytics.Properties{
		"placement_id": placementID,
		"format":       string(format),
		"reason":       reason,
	})
	return Decision{PlacementID: placementID, Format: format, Reason: reason}
}

// MarkLoaded records that the creative finished loading.
func (s *Service) MarkLoaded(ctx context.Context, instanceID string) bool {
	return s.transition(ctx, instanceID, EventLoaded)
}

// MarkDisplayed records that the ad was rendered to the user. This is the
// point where frequency-cap counters advance and the cached decision is
// consumed.
func (s *Service) MarkDisplayed(ctx context.Context, instanceID string) bool {
	return s.transition(ctx, instanceID, EventDisplayed)
}

// MarkClicked records a click on a displayed ad. Terminal.
func (s *Service) MarkClicked(ctx context.Context, instanceID string) bool {
	return s.transition(ctx, instanceID, EventClicked)
}

// MarkDismissed records that a displayed ad was closed. Terminal.
func (s *Service) MarkDismissed(ctx context.Context, instanceID string) bool {
	return s.transition(ctx, instanceID, EventDismissed)
}

// MarkFailed records a load error. Terminal, and distinct from dismissal:
// only an ad that never loaded can fail.
func (s *Service) MarkFailed(ctx context.Context, instanceID string) bool {
	return s.transition(ctx, instanceID, EventFailed)
}

func (s *Service) transition(ctx context.Context, instanceID string, event statemachine.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	instance, ok := s.instances[instanceID]
	if !ok {
		return false
	}
	if err := instance.machine.Fire(ctx, event); err != nil {
		return false
	}

	if event == EventDisplayed {
		s.recordDisplay(ctx, instance)
	}

	s.tracker.Track(ctx, string(event), analytics.Properties{
		"instance_id":  instance.ID,
		"placement_id": instance.PlacementID,
		"format":       string(instance.Format),
	})
	return true
}

func (s *Service) recordDisplay(ctx context.Context, instance *Instance) {
	s.rolloverDay()
	s.freq.LastShown[instance.Format] = s.now()
	s.freq.ShownToday[instance.PlacementID]++
	s.session[instance.PlacementID]++
	if instance.Format == FormatInterstitial {
		s.freq.ActionsSinceInterstitial = 0
	}
	delete(s.decisions, instance.PlacementID)
	s.persist(ctx)
}

// RegisterAction counts a user action toward the interstitial starvation
// override. Call it on meaningful UI actions (note saved, screen changed).
func (s *Service) RegisterAction(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	s.freq.ActionsSinceInterstitial++
	s.persist(ctx)
}

// ConsumeDecision drops the cached decision for a placement so the next
// Decide re-evaluates the gates. Use when a decision goes stale without the
// ad displaying (screen dismissed before render).
func (s *Service) ConsumeDecision(placementID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.decisions, placementID)
}

// ResetSession clears session counters, cached decisions, and live
// instances. Call at app start or foreground.
func (s *Service) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = make(map[string]int)
	s.decisions = make(map[string]Decision)
	s.instances = make(map[string]*Instance)
}

// Instance returns a live instance by id.
func (s *Service) Instance(instanceID string) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instance, ok := s.instances[instanceID]
	return instance, ok
}

// ShownToday returns the persisted daily display count for a placement.
func (s *Service) ShownToday(placementID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mustInit()

	s.rolloverDay()
	return s.freq.ShownToday[placementID]
}

// ClearData wipes frequency-cap state, for logout or account deletion.
func (s *Service) ClearData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.freq = newFrequencyState()
	s.session = make(map[string]int)
	s.decisions = make(map[string]Decision)
	s.instances = make(map[string]*Instance)

	if err := s.store.Delete(ctx, StorageKey); err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
		return err
	}
	return nil
}

// rolloverDay resets daily counters when the UTC date changes. Lazy, like
// the monthly usage counters: no timers.
func (s *Service) rolloverDay() {
	day := s.now().Format(time.DateOnly)
	if s.freq.Day != day {
		s.freq.Day = day
		s.freq.ShownToday = make(map[string]int)
	}
}

// persist writes the frequency state. In-memory state stays authoritative;
// a write failure is logged and the next display retries it.
func (s *Service) persist(ctx context.Context) {
	data, err := json.Marshal(s.freq)
	if err != nil {
		s.log.Error("marshal ad frequency state", "error", err)
		return
	}
	if err := s.store.Set(ctx, StorageKey, data); err != nil {
		s.log.Error("persist ad frequency state", "error", err)
	}
}
