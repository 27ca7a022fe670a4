package experiment

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ControlVariant is the reserved fallback variant. Unknown and inactive
// experiments always resolve to it.
const ControlVariant = "control"

// Experiment is one A/B test's static definition. Registries are validated
// at startup and never mutated at runtime.
type Experiment struct {
	ID string `yaml:"id"`
	// Variants maps variant id to its traffic allocation in percent.
	// Allocations must sum to exactly 100.
	Variants map[string]int `yaml:"variants"`
	Active   bool           `yaml:"active"`
	// StartsAt and EndsAt bound the run window. A nil bound is open.
	StartsAt *time.Time `yaml:"starts_at,omitempty"`
	EndsAt   *time.Time `yaml:"ends_at,omitempty"`
}

// IsRunningAt reports whether the experiment accepts assignments at the
// given instant: the active flag is set and the instant falls inside the
// run window.
func (e Experiment) IsRunningAt(now time.Time) bool {
	if !e.Active {
		return false
	}
	if e.StartsAt != nil && now.Before(*e.StartsAt) {
		return false
	}
	if e.EndsAt != nil && !now.Before(*e.EndsAt) {
		return false
	}
	return true
}

func (e Experiment) validate() error {
	if e.ID == "" {
		return errors.New("empty experiment id")
	}
	if len(e.Variants) == 0 {
		return fmt.Errorf("experiment %q: no variants", e.ID)
	}

	sum := 0
	for id, allocation := range e.Variants {
		if id == "" {
			return fmt.Errorf("experiment %q: empty variant id", e.ID)
		}
		if allocation <= 0 {
			return fmt.Errorf("experiment %q: variant %q allocation must be positive, got %d", e.ID, id, allocation)
		}
		sum += allocation
	}
	if sum != 100 {
		return fmt.Errorf("experiment %q: allocations sum to %d, want 100", e.ID, sum)
	}

	if e.StartsAt != nil && e.EndsAt != nil && !e.EndsAt.After(*e.StartsAt) {
		return fmt.Errorf("experiment %q: window ends before it starts", e.ID)
	}
	return nil
}

// Registry maps experiment id to its definition.
type Registry map[string]Experiment

// DefaultRegistry returns the built-in experiments for the note-taking app.
func DefaultRegistry() Registry {
	return Registry{
		"upsell_copy": {
			ID:     "upsell_copy",
			Active: true,
			Variants: map[string]int{
				"control":     50,
				"benefit_led": 50,
			},
		},
		"paywall_trial_cta": {
			ID:     "paywall_trial_cta",
			Active: true,
			Variants: map[string]int{
				"control":     34,
				"start_trial": 33,
				"see_plans":   33,
			},
		},
	}
}

// Validate checks every experiment's id, variants, and window.
func (r Registry) Validate() error {
	for id, e := range r {
		if e.ID != id {
			return errors.Join(ErrInvalidRegistry,
				fmt.Errorf("experiment %q: id field %q does not match key", id, e.ID))
		}
		if err := e.validate(); err != nil {
			return errors.Join(ErrInvalidRegistry, err)
		}
	}
	return nil
}

// LoadRegistryYAML parses an experiment registry from YAML, for deployments
// that roll out tests without recompiling.
func LoadRegistryYAML(data []byte) (Registry, error) {
	var raw []Experiment
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Join(ErrInvalidRegistry, err)
	}

	registry := make(Registry, len(raw))
	for _, e := range raw {
		if _, exists := registry[e.ID]; exists {
			return nil, errors.Join(ErrInvalidRegistry,
				fmt.Errorf("duplicate experiment %q", e.ID))
		}
		registry[e.ID] = e
	}

	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}
