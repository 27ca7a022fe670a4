// Package pricing owns the user's entitlement record.
//
// It is the single writer of the persisted "user_entitlements" blob: every
// read-modify-write (purchase activation, trial application, usage counter
// increments) is serialized through the service's mutex, persisted, and
// only then visible to readers. Expiry is computed lazily on every query
// from stored timestamps; there is no background timer.
//
// The service must be initialized before use. A corrupt persisted record
// loads as a fresh free-tier record rather than failing.
package pricing
