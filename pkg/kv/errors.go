package kv

import "errors"

var (
	ErrKeyNotFound     = errors.New("kv: key not found")
	ErrEmptyKey        = errors.New("kv: key cannot be empty")
	ErrFailedToLoad    = errors.New("kv: failed to load store contents")
	ErrFailedToPersist = errors.New("kv: failed to persist store contents")
)
