package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCleanupItem(t *testing.T) {
	t.Run("creates pending item due immediately", func(t *testing.T) {
		item, err := NewCleanupItem("personnel/badge", CleanupReasonUserDelete)

		require.NoError(t, err)
		assert.NotEmpty(t, item.ID)
		assert.Equal(t, CleanupStatusPending, item.Status)
		assert.Zero(t, item.Attempts)
		assert.False(t, item.NextAttemptAt.After(time.Now().UTC()))
	})

	t.Run("rejects empty public id", func(t *testing.T) {
		_, err := NewCleanupItem(" ", CleanupReasonUserDelete)
		assert.ErrorIs(t, err, ErrEmptyPublicID)
	})
}

func TestCleanupItem_RecordFailure(t *testing.T) {
	const (
		maxAttempts = 5
		base        = 30 * time.Second
		cap         = 30 * time.Minute
	)

	t.Run("schedules retry with backoff below max attempts", func(t *testing.T) {
		item, err := NewCleanupItem("a", CleanupReasonUserDelete)
		require.NoError(t, err)

		now := time.Now().UTC()
		dead := item.RecordFailure("rate limited", maxAttempts, base, cap, now)

		assert.False(t, dead)
		assert.Equal(t, CleanupStatusPending, item.Status)
		assert.Equal(t, 1, item.Attempts)
		require.NotNil(t, item.LastError)
		assert.Equal(t, "rate limited", *item.LastError)
		assert.Equal(t, now.Add(base), item.NextAttemptAt)
	})

	t.Run("doubles backoff per attempt", func(t *testing.T) {
		item, err := NewCleanupItem("a", CleanupReasonUserDelete)
		require.NoError(t, err)
		now := time.Now().UTC()

		item.RecordFailure("err", maxAttempts, base, cap, now)
		assert.Equal(t, now.Add(30*time.Second), item.NextAttemptAt)

		item.RecordFailure("err", maxAttempts, base, cap, now)
		assert.Equal(t, now.Add(60*time.Second), item.NextAttemptAt)

		item.RecordFailure("err", maxAttempts, base, cap, now)
		assert.Equal(t, now.Add(120*time.Second), item.NextAttemptAt)
	})

	t.Run("dead-letters at exactly max attempts", func(t *testing.T) {
		item, err := NewCleanupItem("a", CleanupReasonUserDelete)
		require.NoError(t, err)
		now := time.Now().UTC()

		for i := 0; i < maxAttempts-1; i++ {
			dead := item.RecordFailure("err", maxAttempts, base, cap, now)
			assert.False(t, dead)
			assert.Equal(t, CleanupStatusPending, item.Status)
		}

		dead := item.RecordFailure("err", maxAttempts, base, cap, now)
		assert.True(t, dead)
		assert.Equal(t, CleanupStatusFailed, item.Status)
		assert.Equal(t, maxAttempts, item.Attempts)
		require.NotNil(t, item.CompletedAt)
	})

	t.Run("backoff never exceeds cap", func(t *testing.T) {
		item, err := NewCleanupItem("a", CleanupReasonUserDelete)
		require.NoError(t, err)
		now := time.Now().UTC()

		// Large attempt budget so backoff would overflow the cap without clamping
		for i := 0; i < 12; i++ {
			item.RecordFailure("err", 100, base, cap, now)
		}

		assert.False(t, item.NextAttemptAt.After(now.Add(cap)))
	})
}

func TestCleanupItem_MarkDone(t *testing.T) {
	item, err := NewCleanupItem("a", CleanupReasonConflictFix)
	require.NoError(t, err)

	now := time.Now().UTC()
	item.MarkDone(now)

	assert.Equal(t, CleanupStatusDone, item.Status)
	require.NotNil(t, item.CompletedAt)
	assert.Equal(t, now, *item.CompletedAt)
}
