package pricing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribbly/engine/pkg/analytics"
	"github.com/scribbly/engine/pkg/entitlement"
	"github.com/scribbly/engine/pkg/kv"
	"github.com/scribbly/engine/pkg/pricing"
)

func ptr(t time.Time) *time.Time { return &t }

func newService(t *testing.T, opts ...pricing.Option) (*pricing.Service, *kv.MemoryStore, *analytics.Recorder) {
	t.Helper()

	store := kv.NewMemoryStore()
	rec := analytics.NewRecorder()
	svc := pricing.New(store, rec, opts...)
	require.NoError(t, svc.Initialize(context.Background()))
	t.Cleanup(svc.Close)
	return svc, store, rec
}

func TestActivateSubscription(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("monthly purchase makes the user premium", func(t *testing.T) {
		t.Parallel()
		svc, _, rec := newService(t, pricing.WithClock(clock))

		ok := svc.ActivateSubscription(context.Background(), pricing.ActivateRequest{
			Type:           entitlement.SubscriptionMonthly,
			Tier:           entitlement.TierPremium,
			ProductID:      "premium_monthly",
			SubscriptionID: "sub_42",
			EndsAt:         ptr(now.AddDate(0, 1, 0)),
		})

		require.True(t, ok)
		assert.True(t, svc.IsPremiumNow())
		assert.False(t, svc.NeedsRenewal())
		assert.Equal(t, 1, rec.Count("subscription_activated"))
	})

	t.Run("lifetime with an end date is a caller error", func(t *testing.T) {
		t.Parallel()
		svc, _, rec := newService(t, pricing.WithClock(clock))

		ok := svc.ActivateSubscription(context.Background(), pricing.ActivateRequest{
			Type:   entitlement.SubscriptionLifetime,
			Tier:   entitlement.TierPremium,
			EndsAt: ptr(now.AddDate(1, 0, 0)),
		})

		assert.False(t, ok)
		assert.False(t, svc.IsPremiumNow())
		assert.Equal(t, 0, rec.Count("subscription_activated"))
	})

	t.Run("recurring purchase without an end date is rejected", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newService(t, pricing.WithClock(clock))

		ok := svc.ActivateSubscription(context.Background(), pricing.ActivateRequest{
			Type: entitlement.SubscriptionAnnual,
			Tier: entitlement.TierPro,
		})
		assert.False(t, ok)
	})

	t.Run("lifetime stays premium with no end date", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newService(t, pricing.WithClock(clock))

		require.True(t, svc.ActivateSubscription(context.Background(), pricing.ActivateRequest{
			Type:      entitlement.SubscriptionLifetime,
			Tier:      entitlement.TierPremium,
			ProductID: "premium_lifetime",
		}))
		assert.True(t, svc.IsPremiumNow())
	})

	t.Run("purchase supersedes an active trial", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newService(t, pricing.WithClock(clock))

		require.True(t, svc.BeginTrial(context.Background(), entitlement.TierPremium, now, now.AddDate(0, 0, 7)))
		require.True(t, svc.ActivateSubscription(context.Background(), pricing.ActivateRequest{
			Type:   entitlement.SubscriptionMonthly,
			Tier:   entitlement.TierPremium,
			EndsAt: ptr(now.AddDate(0, 1, 0)),
		}))

		ent := svc.Entitlements()
		assert.Equal(t, entitlement.SubscriptionMonthly, ent.SubscriptionType)
		assert.Nil(t, ent.TrialEndsAt)
	})
}

func TestNeedsRenewal(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	current := now
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	svc, _, _ := newService(t, pricing.WithClock(clock))

	require.True(t, svc.ActivateSubscription(context.Background(), pricing.ActivateRequest{
		Type:   entitlement.SubscriptionMonthly,
		Tier:   entitlement.TierPremium,
		EndsAt: ptr(now.AddDate(0, 1, 0)),
	}))
	assert.False(t, svc.NeedsRenewal())
	assert.True(t, svc.IsPremiumNow())

	// Jump past the end date: premium lapses, renewal window opens.
	mu.Lock()
	current = now.AddDate(0, 1, 1)
	mu.Unlock()

	assert.False(t, svc.IsPremiumNow())
	assert.True(t, svc.NeedsRenewal())
}

func TestTrialEntitlement(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	current := now
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	t.Run("trial is premium until the instant it expires", func(t *testing.T) {
		svc, _, _ := newService(t, pricing.WithClock(clock))

		end := now.AddDate(0, 0, 7)
		require.True(t, svc.BeginTrial(context.Background(), entitlement.TierPremium, now, end))
		assert.True(t, svc.IsPremiumNow())
		assert.True(t, svc.IsTrialActiveNow())

		mu.Lock()
		current = end.Add(-time.Second)
		mu.Unlock()
		assert.True(t, svc.IsPremiumNow())

		mu.Lock()
		current = end
		mu.Unlock()
		assert.False(t, svc.IsPremiumNow())
		assert.False(t, svc.IsTrialActiveNow())

		mu.Lock()
		current = now
		mu.Unlock()
	})

	t.Run("trial cannot clobber a valid paid subscription", func(t *testing.T) {
		svc, _, _ := newService(t, pricing.WithClock(func() time.Time { return now }))

		require.True(t, svc.ActivateSubscription(context.Background(), pricing.ActivateRequest{
			Type:   entitlement.SubscriptionAnnual,
			Tier:   entitlement.TierPro,
			EndsAt: ptr(now.AddDate(1, 0, 0)),
		}))
		assert.False(t, svc.BeginTrial(context.Background(), entitlement.TierPremium, now, now.AddDate(0, 0, 7)))
	})

	t.Run("end trial drops back to free without touching counters", func(t *testing.T) {
		svc, _, _ := newService(t, pricing.WithClock(func() time.Time { return now }))

		svc.IncrementVoiceNoteUsage(context.Background())
		require.True(t, svc.BeginTrial(context.Background(), entitlement.TierPremium, now, now.AddDate(0, 0, 7)))
		require.True(t, svc.EndTrial(context.Background()))

		ent := svc.Entitlements()
		assert.Equal(t, entitlement.TierFree, ent.Tier)
		assert.Equal(t, entitlement.SubscriptionNone, ent.SubscriptionType)
		assert.Equal(t, 1, svc.VoiceNotesThisMonth())

		// Ending again is a no-op.
		assert.False(t, svc.EndTrial(context.Background()))
	})
}

func TestUsageCounters(t *testing.T) {
	t.Parallel()

	march := time.Date(2026, 3, 28, 10, 0, 0, 0, time.UTC)
	current := march
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	t.Run("counter equals call count within one month, resets to 1 next month", func(t *testing.T) {
		svc, _, _ := newService(t, pricing.WithClock(clock))

		for i := 1; i <= 5; i++ {
			assert.Equal(t, i, svc.IncrementVoiceNoteUsage(context.Background()))
		}
		assert.Equal(t, 5, svc.VoiceNotesThisMonth())

		mu.Lock()
		current = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		mu.Unlock()

		assert.Equal(t, 0, svc.VoiceNotesThisMonth())
		assert.Equal(t, 1, svc.IncrementVoiceNoteUsage(context.Background()))

		mu.Lock()
		current = march
		mu.Unlock()
	})

	t.Run("concurrent increments never clobber each other", func(t *testing.T) {
		svc, _, _ := newService(t, pricing.WithClock(func() time.Time { return march }))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				svc.IncrementExportUsage(context.Background())
			}()
		}
		wg.Wait()

		assert.Equal(t, 20, svc.ExportsThisMonth())
	})
}

func TestPersistence(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("state survives a service restart", func(t *testing.T) {
		t.Parallel()
		store := kv.NewMemoryStore()

		svc := pricing.New(store, analytics.NewNoop(), pricing.WithClock(func() time.Time { return now }))
		require.NoError(t, svc.Initialize(context.Background()))
		require.True(t, svc.ActivateSubscription(context.Background(), pricing.ActivateRequest{
			Type:      entitlement.SubscriptionLifetime,
			Tier:      entitlement.TierPremium,
			ProductID: "premium_lifetime",
		}))
		svc.IncrementExportUsage(context.Background())
		svc.Close()

		reopened := pricing.New(store, analytics.NewNoop(), pricing.WithClock(func() time.Time { return now }))
		require.NoError(t, reopened.Initialize(context.Background()))
		defer reopened.Close()

		assert.True(t, reopened.IsPremiumNow())
		assert.Equal(t, 1, reopened.ExportsThisMonth())
	})

	t.Run("corrupt blob resets to the free-tier default", func(t *testing.T) {
		t.Parallel()
		store := kv.NewMemoryStore()
		require.NoError(t, store.Set(context.Background(), pricing.StorageKey, []byte("{garbage")))

		svc := pricing.New(store, analytics.NewNoop())
		require.NoError(t, svc.Initialize(context.Background()))
		defer svc.Close()

		assert.Equal(t, entitlement.NewFree(), svc.Entitlements())
		assert.False(t, svc.IsPremiumNow())
	})

	t.Run("clear data resets and deletes the blob", func(t *testing.T) {
		t.Parallel()
		svc, store, rec := newService(t)

		require.True(t, svc.ActivateSubscription(context.Background(), pricing.ActivateRequest{
			Type:      entitlement.SubscriptionLifetime,
			Tier:      entitlement.TierPremium,
			ProductID: "premium_lifetime",
		}))
		require.NoError(t, svc.ClearData(context.Background()))

		assert.False(t, svc.IsPremiumNow())
		_, err := store.Get(context.Background(), pricing.StorageKey)
		assert.ErrorIs(t, err, kv.ErrKeyNotFound)
		assert.Equal(t, 1, rec.Count("entitlements_cleared"))
	})
}

func TestChanges(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)

	ch := svc.Changes(context.Background())
	svc.IncrementVoiceNoteUsage(context.Background())

	select {
	case ent := <-ch:
		assert.Equal(t, 1, ent.MonthVoiceNotes)
	case <-time.After(time.Second):
		t.Fatal("no change notification received")
	}
}

func TestUninitializedServicePanics(t *testing.T) {
	t.Parallel()

	svc := pricing.New(kv.NewMemoryStore(), nil)
	assert.Panics(t, func() { svc.IsPremiumNow() })
}
