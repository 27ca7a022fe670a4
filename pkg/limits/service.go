package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/scribbly/engine/pkg/analytics"
	"github.com/scribbly/engine/pkg/entitlement"
	"github.com/scribbly/engine/pkg/trial"
)

// Result is the verdict for one gated feature. On a denial, LimitMessage
// explains the cap that was hit and UpgradeMessage suggests the way out;
// the calling UI decides how (and whether) to render either.
type Result struct {
	Allowed        bool   `json:"allowed"`
	LimitMessage   string `json:"limit_message,omitempty"`
	UpgradeMessage string `json:"upgrade_message,omitempty"`
}

func allow() Result {
	return Result{Allowed: true}
}

func deny(limitMsg, upgradeMsg string) Result {
	return Result{LimitMessage: limitMsg, UpgradeMessage: upgradeMsg}
}

// EntitlementSource is the slice of the pricing service the limit service
// reads. Satisfied by *pricing.Service.
type EntitlementSource interface {
	IsPremiumNow() bool
	NeedsRenewal() bool
	Entitlements() entitlement.Entitlements
	VoiceNotesThisMonth() int
	ExportsThisMonth() int
}

// TrialSource supplies trial data for the usage summary. Optional;
// satisfied by *trial.Service.
type TrialSource interface {
	Active(ctx context.Context) (trial.Trial, bool)
	AvailableOffers(ctx context.Context) []trial.Offer
}

// Service evaluates feature gates against the tier limit table.
type Service struct {
	table        Table
	entitlements EntitlementSource
	trials       TrialSource
	tracker      analytics.Tracker
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTable replaces the default limit table.
func WithTable(table Table) Option {
	return func(s *Service) {
		if table != nil {
			s.table = table
		}
	}
}

// WithTrials supplies a trial source so UsageSummary can report trial
// eligibility and days remaining.
func WithTrials(trials TrialSource) Option {
	return func(s *Service) {
		s.trials = trials
	}
}

// WithClock overrides the time source used for trial days remaining.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a limit service. Panics if entitlements is nil to fail fast
// during initialization; returns an error if the limit table is invalid.
// A nil tracker falls back to a no-op sink.
func New(entitlements EntitlementSource, tracker analytics.Tracker, opts ...Option) (*Service, error) {
	if entitlements == nil {
		panic("limits: entitlement source is required")
	}
	if tracker == nil {
		tracker = analytics.NewNoop()
	}

	s := &Service{
		table:        DefaultTable(),
		entitlements: entitlements,
		tracker:      tracker,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.table.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// effectiveLimits returns the limit row in force right now. Access is
// driven by entitlement validity, not tier name: a lapsed premium user is
// limited as free regardless of the stored tier.
func (s *Service) effectiveLimits() TierLimits {
	tier := entitlement.TierFree
	if s.entitlements.IsPremiumNow() {
		tier = s.entitlements.Entitlements().Tier
	}
	return s.table[tier]
}

// CanCreateNote checks a caller-supplied note count against the tier cap.
// The caller owns the count; the service owns no note storage.
func (s *Service) CanCreateNote(ctx context.Context, currentCount int) Result {
	limit := s.effectiveLimits().MaxNotes
	if limit == Unlimited || int64(currentCount) < limit {
		return allow()
	}

	s.trackLimit(ctx, "notes", limit)
	return deny(
		fmt.Sprintf("You've reached the limit of %d notes", limit),
		"Upgrade to Premium for unlimited notes",
	)
}

// CanAddAttachment checks a caller-supplied attachment count for one note.
func (s *Service) CanAddAttachment(ctx context.Context, currentCount int) Result {
	limit := s.effectiveLimits().MaxAttachmentsPerNote
	if limit == Unlimited || int64(currentCount) < limit {
		return allow()
	}

	s.trackLimit(ctx, "attachments", limit)
	return deny(
		fmt.Sprintf("You can attach up to %d files per note", limit),
		"Upgrade to Premium for unlimited attachments",
	)
}

// CanAttachFileOfSize checks one attachment's size in bytes against the
// per-attachment cap.
func (s *Service) CanAttachFileOfSize(ctx context.Context, sizeBytes int64) Result {
	limit := s.effectiveLimits().MaxAttachmentSizeMB
	if limit == Unlimited || sizeBytes <= limit*1024*1024 {
		return allow()
	}

	s.trackLimit(ctx, "attachment_size", limit)
	return deny(
		fmt.Sprintf("Attachments are limited to %dMB on your plan", limit),
		"Upgrade to Premium for larger attachments",
	)
}

// CanRecordVoiceNote checks the live monthly voice-note counter, so it
// reflects increments made through the pricing service.
func (s *Service) CanRecordVoiceNote(ctx context.Context) Result {
	limit := s.effectiveLimits().MonthlyVoiceNotes
	if limit == Unlimited || int64(s.entitlements.VoiceNotesThisMonth()) < limit {
		return allow()
	}

	s.trackLimit(ctx, "voice_notes", limit)
	return deny(
		fmt.Sprintf("You've reached your monthly limit of %d voice notes", limit),
		"Upgrade to Premium for unlimited voice notes",
	)
}

// CanExportNotes checks the live monthly export counter.
func (s *Service) CanExportNotes(ctx context.Context) Result {
	limit := s.effectiveLimits().MonthlyExports
	if limit == Unlimited || int64(s.entitlements.ExportsThisMonth()) < limit {
		return allow()
	}

	s.trackLimit(ctx, "exports", limit)
	return deny(
		fmt.Sprintf("You've reached your monthly limit of %d exports", limit),
		"Upgrade to Premium for unlimited exports",
	)
}

// Boolean feature checks: allowed iff the user holds a valid premium
// entitlement right now. An active trial counts.

func (s *Service) CanAccessCloudSync(ctx context.Context) Result {
	return s.premiumFeature(ctx, "cloud_sync", "Cloud sync")
}

func (s *Service) CanAccessAdvancedDrawingTools(ctx context.Context) Result {
	return s.premiumFeature(ctx, "advanced_drawing_tools", "Advanced drawing tools")
}

func (s *Service) CanAccessCustomThemes(ctx context.Context) Result {
	return s.premiumFeature(ctx, "custom_themes", "Custom themes")
}

func (s *Service) CanAccessOCR(ctx context.Context) Result {
	return s.premiumFeature(ctx, "ocr", "Text recognition")
}

func (s *Service) CanAccessUnlimitedBackups(ctx context.Context) Result {
	return s.premiumFeature(ctx, "unlimited_backups", "Unlimited backups")
}

func (s *Service) premiumFeature(ctx context.Context, feature, displayName string) Result {
	if s.entitlements.IsPremiumNow() {
		return allow()
	}

	s.tracker.Track(ctx, "premium_feature_blocked", analytics.Properties{
		"feature": feature,
	})
	return deny("", fmt.Sprintf("%s is a Premium feature. Upgrade to unlock it.", displayName))
}

// ShouldShowAds reports whether ads may be considered for this user: the
// negation of premium validity.
func (s *Service) ShouldShowAds() bool {
	return !s.entitlements.IsPremiumNow()
}

func (s *Service) trackLimit(ctx context.Context, feature string, limit int64) {
	s.tracker.Track(ctx, "limit_reached", analytics.Properties{
		"feature": feature,
		"limit":   limit,
	})
}
