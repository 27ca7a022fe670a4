// Package ads decides, per placement, whether an advertisement may load and
// show. A display must pass three independent gates: a per-placement session
// cap, a persisted per-format minimum interval, and (for interstitials) a
// probability gate with an anti-starvation override. Premium users
// short-circuit every gate to "never display".
//
// Ad instances move through a small state machine
// (loading -> loaded -> displayed -> clicked/dismissed, or loading -> failed)
// and every transition emits exactly one analytics event. Instances are
// transient; only the frequency-cap counters survive a restart.
package ads
