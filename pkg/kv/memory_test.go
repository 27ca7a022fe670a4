package kv_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribbly/engine/pkg/kv"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	t.Run("get missing key returns ErrKeyNotFound", func(t *testing.T) {
		t.Parallel()
		store := kv.NewMemoryStore()

		_, err := store.Get(context.Background(), "user_entitlements")
		assert.ErrorIs(t, err, kv.ErrKeyNotFound)
	})

	t.Run("set then get round-trips", func(t *testing.T) {
		t.Parallel()
		store := kv.NewMemoryStore()

		require.NoError(t, store.Set(context.Background(), "trial_info", []byte(`{"state":"active"}`)))

		value, err := store.Get(context.Background(), "trial_info")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"state":"active"}`), value)
	})

	t.Run("returned value is a copy", func(t *testing.T) {
		t.Parallel()
		store := kv.NewMemoryStore()

		require.NoError(t, store.Set(context.Background(), "k", []byte("abc")))

		value, err := store.Get(context.Background(), "k")
		require.NoError(t, err)
		value[0] = 'z'

		again, err := store.Get(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("delete removes key and is idempotent", func(t *testing.T) {
		t.Parallel()
		store := kv.NewMemoryStore()

		require.NoError(t, store.Set(context.Background(), "k", []byte("v")))
		require.NoError(t, store.Delete(context.Background(), "k"))
		require.NoError(t, store.Delete(context.Background(), "k"))

		_, err := store.Get(context.Background(), "k")
		assert.ErrorIs(t, err, kv.ErrKeyNotFound)
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		t.Parallel()
		store := kv.NewMemoryStore()

		_, err := store.Get(context.Background(), "")
		assert.ErrorIs(t, err, kv.ErrEmptyKey)
		assert.ErrorIs(t, store.Set(context.Background(), "", nil), kv.ErrEmptyKey)
		assert.ErrorIs(t, store.Delete(context.Background(), ""), kv.ErrEmptyKey)
	})

	t.Run("concurrent writers do not race", func(t *testing.T) {
		t.Parallel()
		store := kv.NewMemoryStore()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = store.Set(context.Background(), "counter", []byte("v"))
				_, _ = store.Get(context.Background(), "counter")
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, store.Len())
	})
}
