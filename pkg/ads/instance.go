package ads

import (
	"time"

	"github.com/scribbly/engine/pkg/statemachine"
)

// Instance lifecycle states.
const (
	StateLoading   statemachine.State = "loading"
	StateLoaded    statemachine.State = "loaded"
	StateDisplayed statemachine.State = "displayed"
	StateClicked   statemachine.State = "clicked"
	StateDismissed statemachine.State = "dismissed"
	StateFailed    statemachine.State = "failed"
)

// Instance lifecycle events. Each successful transition emits exactly one
// analytics event of the same name.
const (
	EventLoaded    statemachine.Event = "ad_loaded"
	EventDisplayed statemachine.Event = "ad_displayed"
	EventClicked   statemachine.Event = "ad_clicked"
	EventDismissed statemachine.Event = "ad_dismissed"
	EventFailed    statemachine.Event = "ad_failed"
)

// Instance is one ad creative's lifetime within a session. Instances are
// transient: a restart discards them, only frequency-cap counters persist.
type Instance struct {
	ID          string
	PlacementID string
	Format      Format
	CreatedAt   time.Time

	machine *statemachine.Machine
}

// newInstanceMachine builds the lifecycle machine. Failed is reachable only
// from loading: a failure is a load error, a closed ad is a dismissal.
func newInstanceMachine() *statemachine.Machine {
	return statemachine.MustNew(StateLoading,
		statemachine.WithTransition(StateLoading, StateLoaded, EventLoaded, nil, nil),
		statemachine.WithTransition(StateLoading, StateFailed, EventFailed, nil, nil),
		statemachine.WithTransition(StateLoaded, StateDisplayed, EventDisplayed, nil, nil),
		statemachine.WithTransition(StateDisplayed, StateClicked, EventClicked, nil, nil),
		statemachine.WithTransition(StateDisplayed, StateDismissed, EventDismissed, nil, nil),
	)
}

// State returns the instance's current lifecycle state.
func (i *Instance) State() statemachine.State {
	return i.machine.Current()
}

// Terminal reports whether the instance can make no further transitions.
func (i *Instance) Terminal() bool {
	switch i.machine.Current() {
	case StateClicked, StateDismissed, StateFailed:
		return true
	}
	return false
}
