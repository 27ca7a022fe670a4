package analytics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribbly/engine/pkg/analytics"
)

func TestRecorder(t *testing.T) {
	t.Parallel()

	t.Run("records events in order", func(t *testing.T) {
		t.Parallel()
		rec := analytics.NewRecorder()

		rec.Track(context.Background(), "trial_started", analytics.Properties{"tier": "premium"})
		rec.Track(context.Background(), "limit_reached", analytics.Properties{"feature": "exports"})

		events := rec.Events()
		require.Len(t, events, 2)
		assert.Equal(t, "trial_started", events[0].Name)
		assert.Equal(t, "limit_reached", events[1].Name)
	})

	t.Run("count and last", func(t *testing.T) {
		t.Parallel()
		rec := analytics.NewRecorder()

		rec.Track(context.Background(), "ad_displayed", analytics.Properties{"placement": "home"})
		rec.Track(context.Background(), "ad_displayed", analytics.Properties{"placement": "editor"})

		assert.Equal(t, 2, rec.Count("ad_displayed"))
		assert.Equal(t, 0, rec.Count("ad_clicked"))

		last, ok := rec.Last("ad_displayed")
		require.True(t, ok)
		assert.Equal(t, "editor", last.Props["placement"])

		_, ok = rec.Last("ad_clicked")
		assert.False(t, ok)
	})

	t.Run("clones properties on record", func(t *testing.T) {
		t.Parallel()
		rec := analytics.NewRecorder()

		props := analytics.Properties{"variant": "control"}
		rec.Track(context.Background(), "experiment_assigned", props)
		props["variant"] = "treatment"

		last, ok := rec.Last("experiment_assigned")
		require.True(t, ok)
		assert.Equal(t, "control", last.Props["variant"])
	})

	t.Run("reset clears events", func(t *testing.T) {
		t.Parallel()
		rec := analytics.NewRecorder()

		rec.Track(context.Background(), "anything", nil)
		rec.Reset()

		assert.Empty(t, rec.Events())
	})
}
