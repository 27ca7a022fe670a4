package entitlement

import (
	"encoding/json"
	"fmt"
)

// Tier is the user's display tier, ordered by upgrade direction.
// Access control is driven by entitlement validity, not by tier name:
// the tier only selects limit tables and display strings.
type Tier int

const (
	TierFree Tier = iota
	TierPremium
	TierPro
	TierEnterprise
)

var tierNames = map[Tier]string{
	TierFree:       "free",
	TierPremium:    "premium",
	TierPro:        "pro",
	TierEnterprise: "enterprise",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "free"
}

// AtLeast reports whether t is the same tier as other or a higher one.
func (t Tier) AtLeast(other Tier) bool {
	return t >= other
}

// ParseTier converts a tier name to a Tier. Unknown names map to TierFree
// so a corrupt or future value degrades safely.
func ParseTier(name string) Tier {
	for tier, n := range tierNames {
		if n == name {
			return tier
		}
	}
	return TierFree
}

// MarshalJSON serializes the tier as its name so persisted blobs remain
// stable if the enum ordering ever changes.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("entitlement: invalid tier value: %w", err)
	}
	*t = ParseTier(name)
	return nil
}

// SubscriptionType describes how the current entitlement was acquired.
type SubscriptionType string

const (
	SubscriptionNone     SubscriptionType = "none"
	SubscriptionTrial    SubscriptionType = "trial"
	SubscriptionMonthly  SubscriptionType = "monthly"
	SubscriptionAnnual   SubscriptionType = "annual"
	SubscriptionLifetime SubscriptionType = "lifetime"
)

// IsPaid reports whether the type represents a paid subscription.
func (s SubscriptionType) IsPaid() bool {
	switch s {
	case SubscriptionMonthly, SubscriptionAnnual, SubscriptionLifetime:
		return true
	default:
		return false
	}
}

// IsRecurring reports whether the type renews and can therefore lapse.
func (s SubscriptionType) IsRecurring() bool {
	return s == SubscriptionMonthly || s == SubscriptionAnnual
}
