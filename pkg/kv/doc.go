// Package kv defines the key-value store boundary used by the engine to
// persist its records. The engine reads and writes a small set of opaque
// serialized blobs under fixed keys; durability, file format, and platform
// binding belong to the adapter, not to the engine.
//
// Four adapters are provided:
//
//   - MemoryStore: process-local, the default for tests
//   - FileStore: a single JSON file, the default for on-device use
//   - RedisStore: wraps a go-redis client for server-side deployments
//   - PostgresStore: a single-table upsert on top of a pgx pool
//
// Adapters never interpret values. Callers are expected to treat a corrupt
// or missing value as "use the type-appropriate default" rather than as a
// fatal condition.
package kv
