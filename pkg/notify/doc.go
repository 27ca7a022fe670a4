// Package notify provides a small in-process change-notification hub.
//
// Engine services publish a snapshot of their state after every mutation;
// UI layers subscribe to re-render on change without the engine depending
// on any UI toolkit. Publishing never blocks: messages to slow subscribers
// are dropped, which is acceptable because subscribers only care about the
// latest snapshot and can always re-query the service.
package notify
