// Package limits turns a feature request plus the user's entitlements into
// an allow/deny verdict with user-facing messaging.
//
// The service is a pure decision layer: it owns no counters. Count-based
// checks compare a caller-supplied count against the tier table;
// usage-based checks read the pricing service's live monthly counters;
// boolean feature checks follow premium validity (a trial counts as
// premium). Denials carry a limit message and an upgrade message for the
// UI to render; the engine renders nothing itself.
package limits
