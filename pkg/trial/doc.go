// Package trial manages time-boxed feature unlocks on top of the pricing
// service.
//
// At most one trial is active at a time. Every terminal transition
// (converted, cancelled, expired) appends the record to an append-only
// history and clears the active slot; eligibility for future offers is
// computed from that history and a conversion-attempt counter. Expiry is
// detected lazily on read, never by a timer.
//
// All transition methods follow the engine's verdict convention: an
// illegal transition is a safe no-op returning false, and callers branch
// on the boolean.
package trial
