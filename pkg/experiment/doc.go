// Package experiment assigns users to A/B test variants deterministically.
//
// Assignment hashes the user and experiment ids into a bucket and walks the
// experiment's variants in a fixed order until the cumulative traffic
// allocation covers the bucket. The first assignment is cached and
// persisted; a cached assignment always wins over recomputation, so a user
// never silently switches groups even if the hashing changes in a later
// version. Unknown or inactive experiments resolve to the reserved control
// variant without caching.
package experiment
