package entitlement

import (
	"encoding/json"
	"time"
)

// Entitlements is the persisted record of a user's tier, subscription, and
// per-period usage. Owned exclusively by the pricing service; everyone else
// reads snapshots.
type Entitlements struct {
	Tier             Tier             `json:"tier"`
	SubscriptionType SubscriptionType `json:"subscription_type"`

	// SubscriptionID is an opaque reference into the external billing
	// system. Empty for free users and trials.
	SubscriptionID string `json:"subscription_id,omitempty"`

	// SubscriptionEndsAt is set for monthly/annual subscriptions and nil
	// for lifetime and none.
	SubscriptionEndsAt *time.Time `json:"subscription_ends_at,omitempty"`

	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"`
	TrialEndsAt    *time.Time `json:"trial_ends_at,omitempty"`

	// Per-period usage counters, each tagged with the period they were
	// accumulated in. Counters reset lazily when the period start falls in
	// a prior calendar month.
	MonthVoiceNotes   int       `json:"month_voice_notes"`
	VoicePeriodStart  time.Time `json:"voice_period_start"`
	MonthExports      int       `json:"month_exports"`
	ExportPeriodStart time.Time `json:"export_period_start"`
}

// NewFree returns a fresh free-tier record, the safe default for new users
// and for recovery from corrupt persisted state.
func NewFree() Entitlements {
	return Entitlements{
		Tier:             TierFree,
		SubscriptionType: SubscriptionNone,
	}
}

// IsPremiumAt reports whether the user holds a valid premium entitlement at
// the given instant. Computed, never stored: lifetime is always valid,
// recurring subscriptions are valid until their end date, trials until
// their end timestamp.
func (e Entitlements) IsPremiumAt(now time.Time) bool {
	switch e.SubscriptionType {
	case SubscriptionLifetime:
		return true
	case SubscriptionMonthly, SubscriptionAnnual:
		return e.SubscriptionEndsAt != nil && now.Before(*e.SubscriptionEndsAt)
	case SubscriptionTrial:
		return e.TrialEndsAt != nil && now.Before(*e.TrialEndsAt)
	default:
		return false
	}
}

// IsTrialActiveAt reports whether a trial entitlement is valid at now.
func (e Entitlements) IsTrialActiveAt(now time.Time) bool {
	return e.SubscriptionType == SubscriptionTrial &&
		e.TrialEndsAt != nil && now.Before(*e.TrialEndsAt)
}

// NeedsRenewalAt reports whether a recurring subscription has lapsed but
// the record has not been downgraded yet. The UI uses this window to show
// a renewal prompt before the user silently drops to free.
func (e Entitlements) NeedsRenewalAt(now time.Time) bool {
	if !e.SubscriptionType.IsRecurring() {
		return false
	}
	return e.SubscriptionEndsAt == nil || !now.Before(*e.SubscriptionEndsAt)
}

// VoiceNotesAt returns the voice-note counter as of now, accounting for a
// lazy calendar-month reset without mutating the record.
func (e Entitlements) VoiceNotesAt(now time.Time) int {
	if !SameMonth(e.VoicePeriodStart, now) {
		return 0
	}
	return e.MonthVoiceNotes
}

// ExportsAt returns the export counter as of now, accounting for a lazy
// calendar-month reset without mutating the record.
func (e Entitlements) ExportsAt(now time.Time) int {
	if !SameMonth(e.ExportPeriodStart, now) {
		return 0
	}
	return e.MonthExports
}

// SameMonth reports whether two instants fall in the same UTC calendar
// month. Rollover is calendar-based, not a sliding 30-day window.
func SameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// Encode serializes the record for the key-value store.
func (e Entitlements) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a persisted record. Callers fall back to NewFree on error:
// persistence corruption is recoverable, never fatal.
func Decode(data []byte) (Entitlements, error) {
	var e Entitlements
	if err := json.Unmarshal(data, &e); err != nil {
		return Entitlements{}, err
	}
	return e, nil
}
