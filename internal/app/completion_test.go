package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-quiz-service/internal/domain"
)

func TestParticipantFinishedWaitsForEveryone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	session := f.createSession(t)
	a := f.join(t, session, "A", "user-a")
	b := f.join(t, session, "B", "user-b")

	for i := 0; i < 2; i++ {
		_, err := f.store.ApplyAnswer(ctx, a.ID, domain.ScoreDelta{Index: i, Points: 100, Correct: true})
		require.NoError(t, err)
	}
	done, err := f.coordinator.ParticipantFinished(ctx, session.ID, 2)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = f.coordinator.CheckSession(ctx, session.ID, 2)
	require.NoError(t, err)
	assert.False(t, done)

	for i := 0; i < 2; i++ {
		_, err := f.store.ApplyAnswer(ctx, b.ID, domain.ScoreDelta{Index: i, Points: 50, Correct: true})
		require.NoError(t, err)
	}
	done, err = f.coordinator.CheckSession(ctx, session.ID, 2)
	require.NoError(t, err)
	assert.True(t, done)

	current, _ := f.store.GetSession(ctx, session.ID)
	assert.Equal(t, domain.SessionCompleted, current.Status)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	session := f.createSession(t)
	a := f.join(t, session, "A", "user-a")
	_, err := f.store.ApplyAnswer(ctx, a.ID, domain.ScoreDelta{Index: 0, Points: 120, Correct: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		lb, err := f.coordinator.EndSession(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, lb.Entries, 1)
		assert.Equal(t, 1, lb.Entries[0].Position)
	}

	board, err := f.coordinator.CumulativeLeaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 120, board[0].TotalScore)
	assert.Equal(t, 1, board[0].SessionsParticipated)
}

func TestLeaderboardIsCapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	session := f.createSession(t)
	for i := 0; i < 12; i++ {
		f.join(t, session, "p", "")
	}
	lb, err := f.coordinator.Leaderboard(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, lb.Entries, 10)
}

func TestEndSessionPublishesToHub(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	session := f.createSession(t)
	f.join(t, session, "A", "")

	ch, cancel := f.hub.Subscribe(session.ID)
	defer cancel()

	_, err := f.coordinator.EndSession(ctx, session.ID)
	require.NoError(t, err)

	lb := <-ch
	assert.Equal(t, session.ID, lb.SessionID)
	assert.Len(t, lb.Entries, 1)
}
