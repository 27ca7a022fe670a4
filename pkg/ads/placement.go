package ads

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Format is an ad creative format.
type Format string

const (
	FormatBanner       Format = "banner"
	FormatInterstitial Format = "interstitial"
	FormatRewarded     Format = "rewarded"
)

func (f Format) valid() bool {
	switch f {
	case FormatBanner, FormatInterstitial, FormatRewarded:
		return true
	}
	return false
}

// Placement is one ad slot's static configuration. Registries are validated
// at startup and never mutated at runtime.
type Placement struct {
	ID string `yaml:"id"`
	// Formats is the priority order: the first format that passes its
	// minimum interval wins the decision.
	Formats       []Format `yaml:"formats"`
	SessionLimit  int      `yaml:"session_limit"`
	ABTestEnabled bool     `yaml:"ab_test_enabled"`
}

// Registry maps placement id to its configuration.
type Registry map[string]Placement

// DefaultRegistry returns the built-in placements for the note-taking app.
func DefaultRegistry() Registry {
	return Registry{
		"note_list_banner": {
			ID:           "note_list_banner",
			Formats:      []Format{FormatBanner},
			SessionLimit: 20,
		},
		"note_saved_interstitial": {
			ID:            "note_saved_interstitial",
			Formats:       []Format{FormatInterstitial},
			SessionLimit:  3,
			ABTestEnabled: true,
		},
		"export_rewarded": {
			ID:           "export_rewarded",
			Formats:      []Format{FormatRewarded, FormatInterstitial},
			SessionLimit: 2,
		},
	}
}

// Validate checks every placement has an id matching its key, at least one
// known format, and a positive session limit.
func (r Registry) Validate() error {
	if len(r) == 0 {
		return errors.Join(ErrInvalidRegistry, errors.New("registry is empty"))
	}
	for id, p := range r {
		if p.ID != id {
			return errors.Join(ErrInvalidRegistry,
				fmt.Errorf("placement %q: id field %q does not match key", id, p.ID))
		}
		if len(p.Formats) == 0 {
			return errors.Join(ErrInvalidRegistry,
				fmt.Errorf("placement %q: no formats", id))
		}
		for _, f := range p.Formats {
			if !f.valid() {
				return errors.Join(ErrInvalidRegistry,
					fmt.Errorf("placement %q: unknown format %q", id, f))
			}
		}
		if p.SessionLimit <= 0 {
			return errors.Join(ErrInvalidRegistry,
				fmt.Errorf("placement %q: session limit must be positive, got %d", id, p.SessionLimit))
		}
	}
	return nil
}

// LoadRegistryYAML parses a placement registry from YAML, for deployments
// that override the defaults without recompiling.
func LoadRegistryYAML(data []byte) (Registry, error) {
	var raw []Placement
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Join(ErrInvalidRegistry, err)
	}

	registry := make(Registry, len(raw))
	for _, p := range raw {
		if _, exists := registry[p.ID]; exists {
			return nil, errors.Join(ErrInvalidRegistry,
				fmt.Errorf("duplicate placement %q", p.ID))
		}
		registry[p.ID] = p
	}

	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}
