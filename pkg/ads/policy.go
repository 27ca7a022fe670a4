package ads

import (
	"errors"
	"fmt"
	"time"
)

// Default interstitial display policy. Probabilities are rolled per
// decision; the starvation threshold forces a display once enough user
// actions have passed without one, so bad luck cannot suppress
// interstitials indefinitely.
const (
	DefaultBaseProbability      = 0.15
	DefaultImportantProbability = 0.25
	DefaultStarvationThreshold  = 3
)

// Policy holds the tunable knobs of the display gates.
type Policy struct {
	// BaseProbability is the chance an interstitial shows on an ordinary
	// transition; ImportantProbability applies when the caller flags the
	// transition as important.
	BaseProbability      float64
	ImportantProbability float64
	// StarvationThreshold is the number of user actions since the last
	// interstitial after which the probability gate is bypassed.
	StarvationThreshold int
	// MinInterval is the per-format minimum time between displays.
	// A missing entry means no minimum.
	MinInterval map[Format]time.Duration
}

// DefaultPolicy returns the standard gate configuration: banners have no
// minimum interval, interstitials wait 3 minutes, rewarded ads 5.
func DefaultPolicy() Policy {
	return Policy{
		BaseProbability:      DefaultBaseProbability,
		ImportantProbability: DefaultImportantProbability,
		StarvationThreshold:  DefaultStarvationThreshold,
		MinInterval: map[Format]time.Duration{
			FormatInterstitial: 3 * time.Minute,
			FormatRewarded:     5 * time.Minute,
		},
	}
}

func (p Policy) validate() error {
	if p.BaseProbability < 0 || p.BaseProbability > 1 {
		return errors.Join(ErrInvalidPolicy,
			fmt.Errorf("base probability %v out of [0,1]", p.BaseProbability))
	}
	if p.ImportantProbability < 0 || p.ImportantProbability > 1 {
		return errors.Join(ErrInvalidPolicy,
			fmt.Errorf("important probability %v out of [0,1]", p.ImportantProbability))
	}
	if p.StarvationThreshold < 0 {
		return errors.Join(ErrInvalidPolicy,
			fmt.Errorf("starvation threshold %d is negative", p.StarvationThreshold))
	}
	for f, d := range p.MinInterval {
		if !f.valid() {
			return errors.Join(ErrInvalidPolicy, fmt.Errorf("unknown format %q", f))
		}
		if d < 0 {
			return errors.Join(ErrInvalidPolicy,
				fmt.Errorf("format %q: negative interval %v", f, d))
		}
	}
	return nil
}
