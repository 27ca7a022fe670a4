package trial

import (
	"regexp"
	"time"

	"github.com/scribbly/engine/pkg/entitlement"
)

// Type classifies how a trial offer came about.
type Type string

const (
	// TypeStandard is the one-per-tier trial every user may take once.
	TypeStandard Type = "standard"
	// TypePromotional unlocks after repeated conversion attempts.
	TypePromotional Type = "promotional"
	// TypeWinback is offered after a prior trial expired unconverted.
	TypeWinback Type = "winback"
)

// State is the lifecycle state of a trial.
type State string

const (
	StateActive    State = "active"
	StateExtended  State = "extended"
	StateConverted State = "converted"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// IsTerminal reports whether the state ends the trial's lifecycle.
func (s State) IsTerminal() bool {
	switch s {
	case StateConverted, StateCancelled, StateExpired:
		return true
	default:
		return false
	}
}

// Trial is one trial record: the active instance while it runs, a history
// entry once it reaches a terminal state.
type Trial struct {
	Tier                 entitlement.Tier `json:"tier"`
	Type                 Type             `json:"type"`
	StartedAt            time.Time        `json:"started_at"`
	ExpiresAt            time.Time        `json:"expires_at"`
	OriginalDurationDays int              `json:"original_duration_days"`
	ExtensionDays        int              `json:"extension_days"`
	PromoCode            string           `json:"promo_code,omitempty"`
	State                State            `json:"state"`
}

// DaysRemainingAt returns whole days left at now, rounding partial days up
// so the UI never shows "0 days" while hours remain. Zero once expired.
func (t Trial) DaysRemainingAt(now time.Time) int {
	remaining := t.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := remaining.Hours() / 24
	return int(days + 0.5)
}

// Offer describes a trial the user is currently eligible to start.
type Offer struct {
	Tier         entitlement.Tier `json:"tier"`
	Type         Type             `json:"type"`
	DurationDays int              `json:"duration_days"`
}

// DefaultCatalog is the built-in set of trial offers. Eligibility rules
// filter it per user; see Service.AvailableOffers.
func DefaultCatalog() []Offer {
	return []Offer{
		{Tier: entitlement.TierPremium, Type: TypeStandard, DurationDays: 7},
		{Tier: entitlement.TierPro, Type: TypeStandard, DurationDays: 14},
		{Tier: entitlement.TierPremium, Type: TypePromotional, DurationDays: 14},
		{Tier: entitlement.TierPremium, Type: TypeWinback, DurationDays: 7},
	}
}

var promoCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// ValidPromoCode reports whether a promo code is well-formed. The empty
// code is valid (no code supplied).
func ValidPromoCode(code string) bool {
	return code == "" || promoCodePattern.MatchString(code)
}
