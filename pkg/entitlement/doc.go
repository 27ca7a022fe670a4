// Package entitlement holds the user's tier, subscription, and usage record
// together with its validity queries.
//
// Validity is always computed lazily from stored timestamps: "is premium"
// is derived at read time from the subscription type and end date, never
// stored as a boolean and never expired by a background timer. The record
// itself is pure data; mutation and persistence belong to the pricing
// service that owns it.
package entitlement
