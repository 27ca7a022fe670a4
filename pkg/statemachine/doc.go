// Package statemachine implements a small guarded finite state machine.
//
// The engine uses it to enforce lifecycle invariants on records that move
// through a fixed set of states, such as an ad instance going from loading
// to displayed to dismissed. Illegal transitions are reported, never
// executed, so callers can translate them into the engine's boolean
// verdict convention.
package statemachine
