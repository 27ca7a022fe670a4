package limits_test

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
	"github.com/scribbly/engine/pkg/limits"
	"github.com/scribbly/engine/pkg/pricing"
	"github.com/scribbly/engine/pkg/trial"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *clock
	recorder *analytics.Recorder
	pricing  *pricing.Service
	limits   *limits.Service
}

func newFixture(t *testing.T, opts ...limits.Option) *fixture {
	t.Helper()

	c := &clock{now: time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)}
	rec := analytics.NewRecorder()
	p := pricing.New(kv.NewMemoryStore(), rec, pricing.WithClock(c.Now))
	require.NoError(t, p.Initialize(context.Background()))

	opts = append(opts, limits.WithClock(c.Now))
	l, err := limits.New(p, rec, opts...)
	require.NoError(t, err)

	return &fixture{clock: c, recorder: rec, pricing: p, limits: l}
}

func (f *fixture) goPremium(t *testing.T) {
	t.Helper()
	end := f.clock.Now().AddDate(0, 1, 0)
	ok := f.pricing.ActivateSubscription(context.Background(), pricing.ActivateRequest{
		Type:           entitlement.SubscriptionMonthly,
		Tier:           entitlement.TierPremium,
		ProductID:      "premium_monthly",
		SubscriptionID: "sub_123",
		EndsAt:         &end,
	})
	require.True(t, ok)
}

func TestService_CanCreateNote(t *testing.T) {
	t.Parallel()

	t.Run("free user under cap is allowed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		res := f.limits.CanCreateNote(context.Background(), 99)
		assert.True(t, res.Allowed)
		assert.Empty(t, res.LimitMessage)
	})

	t.Run("free user at cap is denied with messaging", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		res := f.limits.CanCreateNote(context.Background(), 100)
		assert.False(t, res.Allowed)
		assert.Contains(t, res.LimitMessage, "100 notes")
		assert.Contains(t, res.UpgradeMessage, "Upgrade")
	})

	t.Run("premium user is unlimited", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.goPremium(t)

		res := f.limits.CanCreateNote(context.Background(), 1_000_000)
		assert.True(t, res.Allowed)
	})

	t.Run("denial emits limit_reached event", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.limits.CanCreateNote(context.Background(), 100)

		require.Equal(t, 1, f.recorder.Count("limit_reached"))
		ev, ok := f.recorder.Last("limit_reached")
		require.True(t, ok)
		assert.Equal(t, "notes", ev.Props["feature"])
	})
}

func TestService_CanExportNotes(t *testing.T) {
	t.Parallel()

	t.Run("free user denied after five exports with exact count in message", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			res := f.limits.CanExportNotes(ctx)
			require.True(t, res.Allowed, "export %d should be allowed", i+1)
			f.pricing.IncrementExportUsage(ctx)
		}

		res := f.limits.CanExportNotes(ctx)
		assert.False(t, res.Allowed)
		assert.Contains(t, res.LimitMessage, "5 exports")
	})

	t.Run("counter resets in a new calendar month", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			f.pricing.IncrementExportUsage(ctx)
		}
		require.False(t, f.limits.CanExportNotes(ctx).Allowed)

		f.clock.Advance(31 * 24 * time.Hour)
		assert.True(t, f.limits.CanExportNotes(ctx).Allowed)
	})
}

func TestService_CanRecordVoiceNote(t *testing.T) {
	t.Parallel()

	t.Run("free tier caps at ten per month", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			require.True(t, f.limits.CanRecordVoiceNote(ctx).Allowed)
			f.pricing.IncrementVoiceNoteUsage(ctx)
		}

		res := f.limits.CanRecordVoiceNote(ctx)
		assert.False(t, res.Allowed)
		assert.Contains(t, res.LimitMessage, "10 voice notes")
	})

	t.Run("premium user is never capped", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.goPremium(t)
		ctx := context.Background()

		for i := 0; i < 50; i++ {
			f.pricing.IncrementVoiceNoteUsage(ctx)
		}
		assert.True(t, f.limits.CanRecordVoiceNote(ctx).Allowed)
	})
}

func TestService_Attachments(t *testing.T) {
	t.Parallel()

	t.Run("free tier caps attachments per note", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		assert.True(t, f.limits.CanAddAttachment(context.Background(), 2).Allowed)
		assert.False(t, f.limits.CanAddAttachment(context.Background(), 3).Allowed)
	})

	t.Run("free tier caps attachment size at 5MB", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		assert.True(t, f.limits.CanAttachFileOfSize(context.Background(), 5*1024*1024).Allowed)

		res := f.limits.CanAttachFileOfSize(context.Background(), 5*1024*1024+1)
		assert.False(t, res.Allowed)
		assert.Contains(t, res.LimitMessage, "5MB")
	})

	t.Run("premium user attaches any size", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.goPremium(t)
		assert.True(t, f.limits.CanAttachFileOfSize(context.Background(), 500*1024*1024).Allowed)
	})
}

func TestService_PremiumFeatures(t *testing.T) {
	t.Parallel()

	t.Run("free user blocked from every premium feature", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		ctx := context.Background()

		checks := []func(context.Context) limits.Result{
			f.limits.CanAccessCloudSync,
			f.limits.CanAccessAdvancedDrawingTools,
			f.limits.CanAccessCustomThemes,
			f.limits.CanAccessOCR,
			f.limits.CanAccessUnlimitedBackups,
		}
		for _, check := range checks {
			res := check(ctx)
			assert.False(t, res.Allowed)
			assert.Contains(t, res.UpgradeMessage, "Premium")
		}
		assert.Equal(t, len(checks), f.recorder.Count("premium_feature_blocked"))
	})

	t.Run("premium user allowed everywhere", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.goPremium(t)

		assert.True(t, f.limits.CanAccessCloudSync(context.Background()).Allowed)
		assert.True(t, f.limits.CanAccessOCR(context.Background()).Allowed)
	})

	t.Run("active trial counts as premium", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		start := f.clock.Now()
		require.True(t, f.pricing.BeginTrial(context.Background(), entitlement.TierPremium, start, start.AddDate(0, 0, 7)))

		assert.True(t, f.limits.CanAccessCloudSync(context.Background()).Allowed)
		assert.True(t, f.limits.CanCreateNote(context.Background(), 5000).Allowed)
	})

	t.Run("lapsed subscription falls back to free limits", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.goPremium(t)
		require.True(t, f.limits.CanCreateNote(context.Background(), 5000).Allowed)

		f.clock.Advance(32 * 24 * time.Hour)
		assert.False(t, f.limits.CanCreateNote(context.Background(), 5000).Allowed)
		assert.False(t, f.limits.CanAccessCloudSync(context.Background()).Allowed)
	})
}

func TestService_ShouldShowAds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	assert.True(t, f.limits.ShouldShowAds())

	f.goPremium(t)
	assert.False(t, f.limits.ShouldShowAds())
}

func TestService_UsageSummary(t *testing.T) {
	t.Parallel()

	t.Run("free user snapshot", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		ctx := context.Background()
		f.pricing.IncrementExportUsage(ctx)
		f.pricing.IncrementExportUsage(ctx)

		sum := f.limits.UsageSummary(ctx)
		assert.Equal(t, "free", sum.Tier)
		assert.False(t, sum.Premium)
		assert.True(t, sum.ShowAds)
		assert.Equal(t, int64(2), sum.Exports.Used)
		assert.Equal(t, int64(5), sum.Exports.Limit)
		assert.Equal(t, int64(3), sum.Exports.Remaining)
		assert.False(t, sum.Exports.Unlimited)
		assert.False(t, sum.CloudSync)
		assert.Equal(t, int64(100), sum.MaxNotes)
	})

	t.Run("premium user snapshot", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.goPremium(t)

		sum := f.limits.UsageSummary(context.Background())
		assert.Equal(t, "premium", sum.Tier)
		assert.True(t, sum.Premium)
		assert.False(t, sum.ShowAds)
		assert.True(t, sum.VoiceNotes.Unlimited)
		assert.True(t, sum.CloudSync)
		assert.True(t, sum.OCR)
	})

	t.Run("includes trial days and offers when wired", func(t *testing.T) {
		t.Parallel()

		c := &clock{now: time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)}
		rec := analytics.NewRecorder()
		store := kv.NewMemoryStore()
		p := pricing.New(store, rec, pricing.WithClock(c.Now))
		require.NoError(t, p.Initialize(context.Background()))
		tr := trial.New(store, p, rec, trial.WithClock(c.Now))
		require.NoError(t, tr.Initialize(context.Background()))
		l, err := limits.New(p, rec, limits.WithTrials(tr), limits.WithClock(c.Now))
		require.NoError(t, err)

		ctx := context.Background()
		sum := l.UsageSummary(ctx)
		assert.Zero(t, sum.TrialDaysRemaining)
		assert.NotEmpty(t, sum.TrialOffers)

		require.True(t, tr.Start(ctx, entitlement.TierPremium, 7, trial.TypeStandard, ""))
		sum = l.UsageSummary(ctx)
		assert.Equal(t, 7, sum.TrialDaysRemaining)
		assert.True(t, sum.Premium)
	})
}

func TestTable(t *testing.T) {
	t.Parallel()

	t.Run("default table is valid", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, limits.DefaultTable().Validate())
	})

	t.Run("missing tier fails validation", func(t *testing.T) {
		t.Parallel()

		table := limits.DefaultTable()
		delete(table, entitlement.TierPro)
		assert.ErrorIs(t, table.Validate(), limits.ErrInvalidTable)
	})

	t.Run("zero limit fails validation", func(t *testing.T) {
		t.Parallel()

		table := limits.DefaultTable()
		row := table[entitlement.TierFree]
		row.MonthlyExports = 0
		table[entitlement.TierFree] = row
		assert.ErrorIs(t, table.Validate(), limits.ErrInvalidTable)
	})

	t.Run("yaml table round trip", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
free:
  max_notes: 50
  monthly_voice_notes: 5
  monthly_exports: 2
  max_attachments_per_note: 2
  max_attachment_size_mb: 3
premium: &unlimited
  max_notes: -1
  monthly_voice_notes: -1
  monthly_exports: -1
  max_attachments_per_note: -1
  max_attachment_size_mb: -1
pro: *unlimited
enterprise: *unlimited
`)
		table, err := limits.LoadTableYAML(data)
		require.NoError(t, err)
		assert.Equal(t, int64(50), table[entitlement.TierFree].MaxNotes)
		assert.Equal(t, limits.Unlimited, table[entitlement.TierPro].MaxNotes)
	})

	t.Run("unknown tier name rejected", func(t *testing.T) {
		t.Parallel()

		_, err := limits.LoadTableYAML([]byte("platinum:\n  max_notes: 1\n  monthly_voice_notes: 1\n  monthly_exports: 1\n  max_attachments_per_note: 1\n  max_attachment_size_mb: 1\n"))
		assert.ErrorIs(t, err, limits.ErrInvalidTable)
	})

	t.Run("custom table via option", func(t *testing.T) {
		t.Parallel()

		table := limits.DefaultTable()
		row := table[entitlement.TierFree]
		row.MaxNotes = 3
		table[entitlement.TierFree] = row

		f := newFixture(t, limits.WithTable(table))
		assert.True(t, f.limits.CanCreateNote(context.Background(), 2).Allowed)
		assert.False(t, f.limits.CanCreateNote(context.Background(), 3).Allowed)
	})
}
