package limits

import (
	"context"

	"github.com/scribbly/engine/pkg/trial"
)

// Usage is one counter's slice of the summary.
type Usage struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Unlimited bool  `json:"unlimited"`
}

// Summary is the single snapshot a settings/usage screen needs, so the UI
// does not scatter individual queries.
type Summary struct {
	Tier         string `json:"tier"`
	Premium      bool   `json:"premium"`
	NeedsRenewal bool   `json:"needs_renewal"`

	VoiceNotes Usage `json:"voice_notes"`
	Exports    Usage `json:"exports"`

	MaxNotes              int64 `json:"max_notes"`
	MaxAttachmentsPerNote int64 `json:"max_attachments_per_note"`
	MaxAttachmentSizeMB   int64 `json:"max_attachment_size_mb"`

	CloudSync            bool `json:"cloud_sync"`
	AdvancedDrawingTools bool `json:"advanced_drawing_tools"`
	CustomThemes         bool `json:"custom_themes"`
	OCR                  bool `json:"ocr"`
	UnlimitedBackups     bool `json:"unlimited_backups"`
	ShowAds              bool `json:"show_ads"`

	TrialDaysRemaining int           `json:"trial_days_remaining"`
	TrialOffers        []trial.Offer `json:"trial_offers,omitempty"`
}

// UsageSummary assembles the full snapshot from the pricing service, the
// limit table, and (when wired) the trial service.
func (s *Service) UsageSummary(ctx context.Context) Summary {
	ent := s.entitlements.Entitlements()
	premium := s.entitlements.IsPremiumNow()
	row := s.effectiveLimits()

	summary := Summary{
		Tier:         ent.Tier.String(),
		Premium:      premium,
		NeedsRenewal: s.entitlements.NeedsRenewal(),

		VoiceNotes: usageOf(int64(s.entitlements.VoiceNotesThisMonth()), row.MonthlyVoiceNotes),
		Exports:    usageOf(int64(s.entitlements.ExportsThisMonth()), row.MonthlyExports),

		MaxNotes:              row.MaxNotes,
		MaxAttachmentsPerNote: row.MaxAttachmentsPerNote,
		MaxAttachmentSizeMB:   row.MaxAttachmentSizeMB,

		CloudSync:            premium,
		AdvancedDrawingTools: premium,
		CustomThemes:         premium,
		OCR:                  premium,
		UnlimitedBackups:     premium,
		ShowAds:              !premium,
	}

	if !premium {
		summary.Tier = "free"
	}

	if s.trials != nil {
		if active, ok := s.trials.Active(ctx); ok {
			summary.TrialDaysRemaining = active.DaysRemainingAt(s.now())
		}
		summary.TrialOffers = s.trials.AvailableOffers(ctx)
	}

	return summary
}

func usageOf(used, limit int64) Usage {
	u := Usage{Used: used, Limit: limit}
	if limit == Unlimited {
		u.Unlimited = true
		u.Remaining = Unlimited
		return u
	}
	u.Remaining = max(limit-used, 0)
	return u
}
