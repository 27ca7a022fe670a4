package kv

import "context"

// Store is the persistence contract the engine's services write through.
// Values are opaque blobs; keys are fixed, well-known names owned by the
// service that writes them.
type Store interface {
	// Get returns the value stored under key.
	// Returns ErrKeyNotFound if the key has never been written.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
