package statemachine

import "errors"

var (
	ErrInvalidState       = errors.New("statemachine: state cannot be empty")
	ErrInvalidEvent       = errors.New("statemachine: event cannot be empty")
	ErrInvalidTransition  = errors.New("statemachine: invalid transition definition")
	ErrNoTransition       = errors.New("statemachine: no transition available")
	ErrTransitionRejected = errors.New("statemachine: transition rejected by guard")
)
