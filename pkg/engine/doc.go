// Package engine wires the entitlement, trial, limit, ads, and experiment
// services into one composition root. The embedding application constructs
// an Engine, calls Initialize to load persisted state, and reaches each
// service through its accessor. No package-level singletons; two engines in
// one process stay fully independent.
package engine
