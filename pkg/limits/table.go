package limits

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/scribbly/engine/pkg/entitlement"
)

// Unlimited represents a resource with no cap.
const Unlimited int64 = -1

// TierLimits is one tier's row in the limit table.
type TierLimits struct {
	MaxNotes              int64 `yaml:"max_notes"`
	MonthlyVoiceNotes     int64 `yaml:"monthly_voice_notes"`
	MonthlyExports        int64 `yaml:"monthly_exports"`
	MaxAttachmentsPerNote int64 `yaml:"max_attachments_per_note"`
	MaxAttachmentSizeMB   int64 `yaml:"max_attachment_size_mb"`
}

// Table maps every tier to its limits. Validated at startup; never mutated
// at runtime.
type Table map[entitlement.Tier]TierLimits

// DefaultTable returns the built-in limit table: a capped free tier and
// unlimited paid tiers.
func DefaultTable() Table {
	unlimited := TierLimits{
		MaxNotes:              Unlimited,
		MonthlyVoiceNotes:     Unlimited,
		MonthlyExports:        Unlimited,
		MaxAttachmentsPerNote: Unlimited,
		MaxAttachmentSizeMB:   Unlimited,
	}

	return Table{
		entitlement.TierFree: {
			MaxNotes:              100,
			MonthlyVoiceNotes:     10,
			MonthlyExports:        5,
			MaxAttachmentsPerNote: 3,
			MaxAttachmentSizeMB:   5,
		},
		entitlement.TierPremium:    unlimited,
		entitlement.TierPro:        unlimited,
		entitlement.TierEnterprise: unlimited,
	}
}

// Validate checks the table covers every tier with sane values. A limit is
// either Unlimited or positive; zero would silently lock a feature.
func (t Table) Validate() error {
	tiers := []entitlement.Tier{
		entitlement.TierFree,
		entitlement.TierPremium,
		entitlement.TierPro,
		entitlement.TierEnterprise,
	}

	for _, tier := range tiers {
		row, ok := t[tier]
		if !ok {
			return errors.Join(ErrInvalidTable, fmt.Errorf("missing tier %q", tier))
		}
		for name, v := range map[string]int64{
			"max_notes":                row.MaxNotes,
			"monthly_voice_notes":      row.MonthlyVoiceNotes,
			"monthly_exports":          row.MonthlyExports,
			"max_attachments_per_note": row.MaxAttachmentsPerNote,
			"max_attachment_size_mb":   row.MaxAttachmentSizeMB,
		} {
			if v != Unlimited && v <= 0 {
				return errors.Join(ErrInvalidTable,
					fmt.Errorf("tier %q: %s must be positive or Unlimited, got %d", tier, name, v))
			}
		}
	}
	return nil
}

// LoadTableYAML parses a limit table keyed by tier name, for deployments
// that override the defaults without recompiling.
func LoadTableYAML(data []byte) (Table, error) {
	var raw map[string]TierLimits
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Join(ErrInvalidTable, err)
	}

	table := make(Table, len(raw))
	for name, row := range raw {
		tier := entitlement.ParseTier(name)
		if tier.String() != name {
			return nil, errors.Join(ErrInvalidTable, fmt.Errorf("unknown tier %q", name))
		}
		table[tier] = row
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}
