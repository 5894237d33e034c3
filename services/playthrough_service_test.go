package services

import (
	"testing"
	"time"

	"playthrough-challenge-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePlaythrough(t *testing.T) {
	t.Run("materializes one inactive rule per ruleset rule in setup state", func(t *testing.T) {
		svc, _ := newRuntime(t)

		p, err := svc.CreatePlaythrough(createInput("user-1", 3))
		require.NoError(t, err)

		assert.Equal(t, models.PlaythroughStatusSetup, p.Status)
		assert.NotEmpty(t, p.UUID)
		require.Len(t, p.Rules, 3)
		for _, r := range p.Rules {
			assert.False(t, r.IsActive)
			assert.Nil(t, r.CurrentAmount)
			assert.Nil(t, r.ExpiresAt)
			assert.Nil(t, r.CompletedAt)
		}
	})

	t.Run("rejects a second running playthrough for the same user", func(t *testing.T) {
		svc, _ := newRuntime(t)

		createStarted(t, svc, "user-1")
		_, err := svc.CreatePlaythrough(createInput("user-1", 3))
		assert.ErrorIs(t, err, ErrUserHasActivePlaythrough)
	})

	t.Run("a paused playthrough still blocks creation", func(t *testing.T) {
		svc, _ := newRuntime(t)

		p := createStarted(t, svc, "user-1")
		_, err := svc.Pause(p.UUID, "user-1")
		require.NoError(t, err)

		_, err = svc.CreatePlaythrough(createInput("user-1", 3))
		assert.ErrorIs(t, err, ErrUserHasActivePlaythrough)
	})

	t.Run("a setup playthrough does not block creation", func(t *testing.T) {
		svc, _ := newRuntime(t)

		_, err := svc.CreatePlaythrough(createInput("user-1", 3))
		require.NoError(t, err)
		_, err = svc.CreatePlaythrough(createInput("user-1", 3))
		assert.NoError(t, err)
	})

	t.Run("validates the concurrency cap range", func(t *testing.T) {
		svc, _ := newRuntime(t)

		_, err := svc.CreatePlaythrough(createInput("user-1", 0))
		assert.ErrorIs(t, err, ErrValidation)
		_, err = svc.CreatePlaythrough(createInput("user-1", 11))
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown ruleset is a not-found", func(t *testing.T) {
		svc, _ := newRuntime(t)

		input := createInput("user-1", 3)
		input.RulesetID = "missing"
		_, err := svc.CreatePlaythrough(input)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLifecycleTransitions(t *testing.T) {
	t.Run("start stamps StartedAt and only works from setup", func(t *testing.T) {
		svc, _ := newRuntime(t)

		p, err := svc.CreatePlaythrough(createInput("user-1", 3))
		require.NoError(t, err)

		started, err := svc.Start(p.UUID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, models.PlaythroughStatusActive, started.Status)
		require.NotNil(t, started.StartedAt)

		_, err = svc.Start(p.UUID, "user-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("ownership is enforced on every transition", func(t *testing.T) {
		svc, _ := newRuntime(t)

		p, err := svc.CreatePlaythrough(createInput("user-1", 3))
		require.NoError(t, err)

		_, err = svc.Start(p.UUID, "someone-else")
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = svc.Start("no-such-uuid", "user-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("pause and resume flip between active and paused", func(t *testing.T) {
		svc, _ := newRuntime(t)
		p := createStarted(t, svc, "user-1")

		paused, err := svc.Pause(p.UUID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, models.PlaythroughStatusPaused, paused.Status)
		require.NotNil(t, paused.PausedAt)

		_, err = svc.Pause(p.UUID, "user-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		resumed, err := svc.Resume(p.UUID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, models.PlaythroughStatusActive, resumed.Status)
		assert.Nil(t, resumed.PausedAt)

		_, err = svc.Resume(p.UUID, "user-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("resume accumulates paused seconds and shifts live timers", func(t *testing.T) {
		svc, db := newRuntime(t)
		p := createStarted(t, svc, "user-1")

		activated, err := svc.ActivateRule(p.UUID, "user-1", timerRuleID, "medium")
		require.NoError(t, err)
		require.NotNil(t, activated.ExpiresAt)
		expiryBefore := *activated.ExpiresAt

		_, err = svc.Pause(p.UUID, "user-1")
		require.NoError(t, err)

		// Backdate the pause so the frozen interval is measurable
		pausedAt := time.Now().UTC().Add(-10 * time.Minute)
		require.NoError(t, db.Model(&models.Playthrough{}).
			Where("uuid = ?", p.UUID).
			Update("paused_at", pausedAt).Error)

		resumed, err := svc.Resume(p.UUID, "user-1")
		require.NoError(t, err)
		assert.InDelta(t, 600, resumed.TotalPausedDuration, 2)

		record := ruleRecord(t, db, p.ID, timerRuleID)
		require.NotNil(t, record.ExpiresAt)
		shift := record.ExpiresAt.Sub(expiryBefore)
		// Remaining time survives the pause: the deadline moved by the paused interval
		assert.InDelta(t, (10 * time.Minute).Seconds(), shift.Seconds(), 2)
	})

	t.Run("finish computes duration net of paused time", func(t *testing.T) {
		svc, db := newRuntime(t)
		p := createStarted(t, svc, "user-1")

		// Backdate the run: started 1h ago with 15min of accumulated pause
		startedAt := time.Now().UTC().Add(-time.Hour)
		require.NoError(t, db.Model(&models.Playthrough{}).
			Where("uuid = ?", p.UUID).
			Updates(map[string]interface{}{
				"started_at":            startedAt,
				"total_paused_duration": int64(900),
			}).Error)

		finished, err := svc.Finish(p.UUID, "user-1", models.PlaythroughStatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, models.PlaythroughStatusCompleted, finished.Status)
		require.NotNil(t, finished.EndedAt)
		assert.InDelta(t, 2700, finished.TotalDuration, 2) // 3600 − 900
	})

	t.Run("finish works from paused and folds the open pause", func(t *testing.T) {
		svc, _ := newRuntime(t)
		p := createStarted(t, svc, "user-1")
		_, err := svc.Pause(p.UUID, "user-1")
		require.NoError(t, err)

		finished, err := svc.Finish(p.UUID, "user-1", models.PlaythroughStatusAbandoned)
		require.NoError(t, err)
		assert.Equal(t, models.PlaythroughStatusAbandoned, finished.Status)
	})

	t.Run("finish validates the outcome and rejects terminal replays", func(t *testing.T) {
		svc, _ := newRuntime(t)
		p := createStarted(t, svc, "user-1")

		_, err := svc.Finish(p.UUID, "user-1", "victory")
		assert.ErrorIs(t, err, ErrValidation)

		_, err = svc.Finish(p.UUID, "user-1", models.PlaythroughStatusFailed)
		require.NoError(t, err)

		// Terminal playthroughs are immutable
		_, err = svc.Finish(p.UUID, "user-1", models.PlaythroughStatusCompleted)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = svc.Pause(p.UUID, "user-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestVersionConflict(t *testing.T) {
	t.Run("a stale writer loses with a retryable conflict", func(t *testing.T) {
		svc, db := newRuntime(t)
		p := createStarted(t, svc, "user-1")

		var stale models.Playthrough
		require.NoError(t, db.First(&stale, "id = ?", p.ID).Error)

		// Another request commits first
		_, err := svc.Pause(p.UUID, "user-1")
		require.NoError(t, err)

		err = svc.commitPlaythrough(db, &stale, map[string]interface{}{
			"status": models.PlaythroughStatusPaused,
		})
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("a stale rule writer loses the same way", func(t *testing.T) {
		svc, db := newRuntime(t)
		p := createStarted(t, svc, "user-1")

		record, err := svc.ActivateRule(p.UUID, "user-1", counterRuleID, "medium")
		require.NoError(t, err)

		var stale models.PlaythroughRule
		require.NoError(t, db.First(&stale, "id = ?", record.ID).Error)

		// A duplicate decrement request commits first
		_, err = svc.DecrementCounter(record.ID, "user-1")
		require.NoError(t, err)

		err = svc.commitRule(db, &stale, map[string]interface{}{
			"current_amount": 2,
		})
		assert.ErrorIs(t, err, ErrVersionConflict)

		// The committed value stands untouched
		reloaded := ruleRecord(t, db, p.ID, counterRuleID)
		require.NotNil(t, reloaded.CurrentAmount)
		assert.Equal(t, 2, *reloaded.CurrentAmount)
	})
}
