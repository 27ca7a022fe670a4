package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// State identifies a node in the machine.
type State string

// Event triggers a transition between states.
type Event string

// Guard evaluates whether a transition should be allowed.
type Guard func(ctx context.Context, from State, event Event) bool

// Action executes a side effect during a transition. Returning an error
// aborts the transition and leaves the current state unchanged.
type Action func(ctx context.Context, from, to State, event Event) error

// Machine is a thread-safe finite state machine with guarded transitions.
// Transitions are registered at construction time via options; the runtime
// surface is Fire/CanFire/Current.
type Machine struct {
	mu          sync.RWMutex
	initial     State
	current     State
	transitions map[State]map[Event]transition
}

type transition struct {
	to      State
	guards  []Guard
	actions []Action
}

// Option configures a machine during construction.
type Option func(*Machine) error

// WithTransition registers a transition from -> to on event.
func WithTransition(from, to State, event Event, guards []Guard, actions []Action) Option {
	return func(m *Machine) error {
		if from == "" || to == "" || event == "" {
			return ErrInvalidTransition
		}
		if _, ok := m.transitions[from]; !ok {
			m.transitions[from] = make(map[Event]transition)
		}
		if _, exists := m.transitions[from][event]; exists {
			return fmt.Errorf("%w: duplicate transition from %q on %q", ErrInvalidTransition, from, event)
		}
		m.transitions[from][event] = transition{to: to, guards: guards, actions: actions}
		return nil
	}
}

// New creates a machine starting at initial with the given transitions.
func New(initial State, opts ...Option) (*Machine, error) {
	if initial == "" {
		return nil, ErrInvalidState
	}

	m := &Machine{
		initial:     initial,
		current:     initial,
		transitions: make(map[State]map[Event]transition),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is New that panics on configuration errors. Machine topologies
// are static, so a failure here is a programming error.
func MustNew(initial State, opts ...Option) *Machine {
	m, err := New(initial, opts...)
	if err != nil {
		panic(fmt.Sprintf("statemachine: %v", err))
	}
	return m
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Fire attempts the transition triggered by event from the current state.
// Returns ErrNoTransition when none is registered, ErrTransitionRejected
// when a guard blocks it, or the action's error when an action fails.
func (m *Machine) Fire(ctx context.Context, event Event) error {
	if event == "" {
		return ErrInvalidEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transitions[m.current][event]
	if !ok {
		return fmt.Errorf("%w: from %q on %q", ErrNoTransition, m.current, event)
	}

	for _, guard := range t.guards {
		if guard != nil && !guard(ctx, m.current, event) {
			return fmt.Errorf("%w: from %q on %q", ErrTransitionRejected, m.current, event)
		}
	}

	for _, action := range t.actions {
		if action != nil {
			if err := action(ctx, m.current, t.to, event); err != nil {
				return fmt.Errorf("statemachine: action failed: %w", err)
			}
		}
	}

	m.current = t.to
	return nil
}

// CanFire reports whether Fire would succeed for event, without executing
// any actions.
func (m *Machine) CanFire(ctx context.Context, event Event) bool {
	if event == "" {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transitions[m.current][event]
	if !ok {
		return false
	}

	for _, guard := range t.guards {
		if guard != nil && !guard(ctx, m.current, event) {
			return false
		}
	}
	return true
}

// Reset returns the machine to its initial state.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.initial
}
