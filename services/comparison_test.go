package services

import (
	"testing"

	"playthrough-challenge-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetComparison(t *testing.T) {
	t.Run("owner only", func(t *testing.T) {
		coord, runtime, _ := newCoordinator(t)
		source := createStarted(t, runtime, "user-1")

		_, err := coord.GetComparison(source.UUID, "user-2")
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = coord.GetComparison("no-such-uuid", "user-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("one accepted and one pending participant", func(t *testing.T) {
		coord, runtime, db := newCoordinator(t)
		seedUser(t, db, "user-2", "rival")
		seedUser(t, db, "user-3", "lurker")
		source := createStarted(t, runtime, "user-1")

		accepted, err := coord.SendChallenge("user-1", source.UUID, "rival")
		require.NoError(t, err)
		_, err = coord.Respond(accepted.UUID, "user-2", "accept")
		require.NoError(t, err)

		_, err = coord.SendChallenge("user-1", source.UUID, "lurker")
		require.NoError(t, err)

		view, err := coord.GetComparison(source.UUID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, source.UUID, view.SourcePlaythroughUUID)
		assert.Equal(t, models.PlaythroughStatusActive, view.SourceStatus)
		require.Len(t, view.Participants, 2)

		// Challenge creation order, no secondary sort
		first, second := view.Participants[0], view.Participants[1]
		assert.Equal(t, "rival", first.Username)
		assert.Equal(t, models.ChallengeStatusAccepted, first.ChallengeStatus)
		require.NotNil(t, first.DurationSeconds)

		assert.Equal(t, "lurker", second.Username)
		assert.Equal(t, models.ChallengeStatusPending, second.ChallengeStatus)
		assert.Nil(t, second.DurationSeconds)
		assert.Empty(t, second.Rules)
	})

	t.Run("snapshots cover active and completed rules only", func(t *testing.T) {
		coord, runtime, db := newCoordinator(t)
		seedUser(t, db, "user-2", "rival")
		source := createStarted(t, runtime, "user-1")

		challenge, err := coord.SendChallenge("user-1", source.UUID, "rival")
		require.NoError(t, err)
		resolved, err := coord.Respond(challenge.UUID, "user-2", "accept")
		require.NoError(t, err)

		clone, err := runtime.reload(*resolved.ResultingPlaythroughID)
		require.NoError(t, err)
		_, err = runtime.Start(clone.UUID, "user-2")
		require.NoError(t, err)

		// One counter activated and drained, one timer running, permanent untouched
		counter, err := runtime.ActivateRule(clone.UUID, "user-2", counterRuleID, "medium")
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err = runtime.DecrementCounter(counter.ID, "user-2")
			require.NoError(t, err)
		}
		_, err = runtime.ActivateRule(clone.UUID, "user-2", timerRuleID, "medium")
		require.NoError(t, err)

		view, err := coord.GetComparison(source.UUID, "user-1")
		require.NoError(t, err)
		require.Len(t, view.Participants, 1)
		participant := view.Participants[0]
		require.NotNil(t, participant.DurationSeconds)
		require.Len(t, participant.Rules, 2)

		byRule := map[string]RuleSnapshot{}
		for _, snap := range participant.Rules {
			byRule[snap.RuleID] = snap
		}

		drained, ok := byRule[counterRuleID]
		require.True(t, ok)
		assert.True(t, drained.Completed)
		assert.False(t, drained.IsActive)
		require.NotNil(t, drained.CurrentAmount)
		assert.Zero(t, *drained.CurrentAmount)
		assert.NotNil(t, drained.CompletedAt)
		assert.Equal(t, "Drink Water", drained.Name)

		running, ok := byRule[timerRuleID]
		require.True(t, ok)
		assert.True(t, running.IsActive)
		assert.False(t, running.Completed)
		assert.Equal(t, models.RuleTypeCourt, running.RuleType)

		_, untouched := byRule[permanentRuleID]
		assert.False(t, untouched)
	})

	t.Run("direct accepts appear as participants too", func(t *testing.T) {
		coord, runtime, db := newCoordinator(t)
		seedUser(t, db, "user-2", "rival")
		source := createStarted(t, runtime, "user-1")

		_, _, err := coord.AcceptDirect("user-2", source.UUID)
		require.NoError(t, err)

		view, err := coord.GetComparison(source.UUID, "user-1")
		require.NoError(t, err)
		require.Len(t, view.Participants, 1)
		assert.Equal(t, models.ChallengeStatusAccepted, view.Participants[0].ChallengeStatus)
		require.NotNil(t, view.Participants[0].DurationSeconds)
	})

	t.Run("finalized source reports its stored duration", func(t *testing.T) {
		coord, runtime, db := newCoordinator(t)
		source := createStarted(t, runtime, "user-1")

		require.NoError(t, db.Model(&models.Playthrough{}).
			Where("id = ?", source.ID).
			Updates(map[string]interface{}{
				"status":         models.PlaythroughStatusCompleted,
				"total_duration": int64(1234),
			}).Error)

		view, err := coord.GetComparison(source.UUID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1234), view.SourceDurationSeconds)
	})
}
