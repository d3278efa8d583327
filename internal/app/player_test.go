package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// answerAll answers every remaining question with option and advances.
func answerAll(t *testing.T, p *app.Player, option int) {
	t.Helper()
	ctx := context.Background()
	for p.State() == app.StateQuestion {
		_, err := p.SubmitAnswer(ctx, option)
		require.NoError(t, err)
		p.Advance(ctx)
	}
}

func TestTwoPlayersThreeQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	session := f.createSession(t)
	alice := f.join(t, session, "Alice", "user-a")
	bob := f.join(t, session, "Bob", "")

	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)

	pa := f.startPlayer(t, session, alice)
	pb := f.startPlayer(t, session, bob)
	require.Equal(t, app.StateQuestion, pa.State())
	require.Equal(t, app.StateQuestion, pb.State())

	// Bob answers the first question and stops at index 1.
	_, err = pb.SubmitAnswer(ctx, 0)
	require.NoError(t, err)
	pb.Advance(ctx)
	require.Equal(t, 1, pb.Snapshot().QuestionIndex)

	// Alice answers correct, correct, incorrect.
	for _, option := range []int{1, 1, 0} {
		_, err := pa.SubmitAnswer(ctx, option)
		require.NoError(t, err)
		pa.Advance(ctx)
	}
	assert.Equal(t, app.StateWaitingForOthers, pa.State())

	snap := pa.Snapshot()
	assert.Equal(t, 3, snap.QuestionIndex)
	assert.Equal(t, 300, snap.Score)
	assert.Equal(t, 2, snap.CorrectAnswers)
	assert.Equal(t, 0, snap.Streak)

	current, err := f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, current.Status)
	pa.CheckCompletion(ctx)
	assert.Equal(t, app.StateWaitingForOthers, pa.State())

	answerAll(t, pb, 0)
	assert.Equal(t, app.StateEnded, pb.State())

	current, err = f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, current.Status)
	require.NotNil(t, current.EndedAt)
	endedAt := *current.EndedAt

	pa.CheckCompletion(ctx)
	assert.Equal(t, app.StateEnded, pa.State())

	// Later checks see the completed session and do not complete it again.
	done, err := f.coordinator.CheckSession(ctx, session.ID, 3)
	require.NoError(t, err)
	assert.True(t, done)
	current, err = f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, current.EndedAt.Equal(endedAt))

	final := pa.Snapshot()
	require.NotNil(t, final.Leaderboard)
	require.Len(t, final.Leaderboard.Entries, 2)
	assert.Equal(t, alice.ID, final.Leaderboard.Entries[0].ParticipantID)
	assert.Equal(t, 300, final.Leaderboard.Entries[0].Score)
	assert.Equal(t, bob.ID, final.Leaderboard.Entries[1].ParticipantID)
	assert.Equal(t, 0, final.Leaderboard.Entries[1].Score)

	for _, id := range []string{"badge-first-steps", "badge-quick-draw"} {
		has, err := f.store.HasAchievement(ctx, "user-a", id)
		require.NoError(t, err)
		assert.True(t, has, id)
	}
	perfect, err := f.store.HasAchievement(ctx, "user-a", "badge-perfect-score")
	require.NoError(t, err)
	assert.False(t, perfect)

	board, err := f.coordinator.CumulativeLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 300, board[0].TotalScore)
	assert.Equal(t, 1, board[0].SessionsParticipated)
}

func TestSinglePlayerCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	session := f.createSession(t)
	solo := f.join(t, session, "Solo", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)

	p := f.startPlayer(t, session, solo)
	answerAll(t, p, 1)

	assert.Equal(t, app.StateEnded, p.State())
	current, _ := f.store.GetSession(ctx, session.ID)
	assert.Equal(t, domain.SessionCompleted, current.Status)

	lb, ok := f.hub.Latest(session.ID)
	require.True(t, ok)
	assert.Equal(t, 300, lb.Entries[0].Score)
}

func TestDuplicateSubmissionIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)
	player := f.startPlayer(t, session, p)

	out, err := player.SubmitAnswer(ctx, 1)
	require.NoError(t, err)
	assert.True(t, out.Correct)

	_, err = player.SubmitAnswer(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)

	assert.Len(t, f.store.Answers(p.ID), 1)
	row, _ := f.store.GetParticipant(ctx, p.ID)
	assert.Equal(t, 150, row.Score)
	assert.Equal(t, 1, row.CurrentQuestionIndex)
}

func TestConcurrentSubmissionsRecordOneAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)
	player := f.startPlayer(t, session, p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = player.SubmitAnswer(ctx, 1)
		}()
	}
	wg.Wait()

	assert.Len(t, f.store.Answers(p.ID), 1)
	row, _ := f.store.GetParticipant(ctx, p.ID)
	assert.Equal(t, 150, row.Score)
}

func TestStoreClaimStopsSecondWriter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)

	// A second engine instance for the same participant, as after a reconnect.
	first := f.startPlayer(t, session, p)
	second := f.startPlayer(t, session, p)

	_, err = first.SubmitAnswer(ctx, 1)
	require.NoError(t, err)
	_, err = second.SubmitAnswer(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)
	assert.Equal(t, app.StateResults, second.State())

	row, _ := f.store.GetParticipant(ctx, p.ID)
	assert.Equal(t, 150, row.Score)
	assert.Equal(t, 1, row.CurrentQuestionIndex)

	second.Advance(ctx)
	assert.Equal(t, 1, second.Snapshot().QuestionIndex)
}

func TestTimeoutSubmitsSentinel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)
	player := f.startPlayer(t, session, p)

	for i := 0; i < 29; i++ {
		player.Tick(ctx)
	}
	assert.Equal(t, app.StateQuestion, player.State())
	assert.Equal(t, 1, player.Snapshot().TimeLeft)

	player.Tick(ctx)
	assert.Equal(t, app.StateResults, player.State())

	answers := f.store.Answers(p.ID)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.TimeoutAnswer, answers[0].Answer)
	assert.Equal(t, 30, answers[0].TimeTaken)
	assert.False(t, answers[0].IsCorrect)

	// Ticks outside the question state change nothing.
	player.Tick(ctx)
	assert.Len(t, f.store.Answers(p.ID), 1)
}

func TestSpeedBonusUsesRemainingTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)
	player := f.startPlayer(t, session, p)

	for i := 0; i < 15; i++ {
		player.Tick(ctx)
	}
	out, err := player.SubmitAnswer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 125, out.Points)
	assert.Equal(t, 15, out.TimeTaken)
}

func TestForceEndOverridesProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	session := f.createSession(t)
	a := f.join(t, session, "Ann", "")
	b := f.join(t, session, "Ben", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)
	pa := f.startPlayer(t, session, a)
	pb := f.startPlayer(t, session, b)

	_, err = pa.SubmitAnswer(ctx, 1)
	require.NoError(t, err)

	_, err = f.coordinator.EndSession(ctx, session.ID)
	require.NoError(t, err)

	pa.ApplySessionStatus(ctx, domain.SessionCompleted)
	pb.ApplySessionStatus(ctx, domain.SessionCompleted)
	assert.Equal(t, app.StateEnded, pa.State())
	assert.Equal(t, app.StateEnded, pb.State())

	// Results timer or late advance must not revive the player.
	pa.Advance(ctx)
	assert.Equal(t, app.StateEnded, pa.State())
	_, err = pa.SubmitAnswer(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotInQuestion)
}

func TestWaitingPlayerStartsOnActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	player := f.startPlayer(t, session, p)
	assert.Equal(t, app.StateWaiting, player.State())

	player.ApplySessionStatus(ctx, domain.SessionActive)
	assert.Equal(t, app.StateQuestion, player.State())
	// A repeated status delivery is harmless.
	player.ApplySessionStatus(ctx, domain.SessionActive)
	assert.Equal(t, 0, player.Snapshot().QuestionIndex)
}

func TestLoadQuestionOutOfRangeKeepsState(t *testing.T) {
	f := newFixture(t, 2)
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	player := f.startPlayer(t, session, p)

	assert.False(t, player.LoadQuestion(context.Background(), 7))
	assert.Equal(t, app.StateWaiting, player.State())
}

func TestRejoinedPlayerResumesAtCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)

	_, err = f.store.ApplyAnswer(ctx, p.ID, domain.ScoreDelta{Index: 0, Points: 150, Correct: true})
	require.NoError(t, err)

	player := f.startPlayer(t, session, p)
	snap := player.Snapshot()
	assert.Equal(t, app.StateQuestion, snap.State)
	assert.Equal(t, 1, snap.QuestionIndex)
	assert.Equal(t, 150, snap.Score)
}

func TestRunEndsWhenSessionCompletes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := newFixtureWithTiming(t, 3, app.Timing{
		Tick:         time.Hour,
		ResultsDelay: 10 * time.Millisecond,
		StatusPoll:   20 * time.Millisecond,
		FastPoll:     10 * time.Millisecond,
		WaitingCheck: 50 * time.Millisecond,
	})
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	f.join(t, session, "Ben", "")
	player := f.startPlayer(t, session, p)

	done := make(chan error, 1)
	go func() { done <- player.Run(ctx) }()

	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return player.State() == app.StateQuestion }, 2*time.Second, 5*time.Millisecond)

	_, err = player.SubmitAnswer(ctx, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap := player.Snapshot()
		return snap.State == app.StateQuestion && snap.QuestionIndex == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.coordinator.EndSession(ctx, session.ID)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatalf("player did not stop after session end")
	}
	assert.Equal(t, app.StateEnded, player.State())

	var last app.PlayerSnapshot
	for snap := range player.Updates() {
		last = snap
	}
	assert.Equal(t, app.StateEnded, last.State)
}

func TestSecondTabAnswersTheQuestionItShows(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := newFixtureWithTiming(t, 3, app.Timing{
		Tick:         time.Hour,
		StatusPoll:   10 * time.Millisecond,
		FastPoll:     10 * time.Millisecond,
		WaitingCheck: 10 * time.Millisecond,
	})
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)

	tabA := f.startPlayer(t, session, p)
	tabB := f.startPlayer(t, session, p)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- tabB.Run(runCtx) }()

	_, err = tabA.SubmitAnswer(ctx, 1)
	require.NoError(t, err)

	// Let tab B pull the stored cursor a few times while q1 is on screen.
	time.Sleep(60 * time.Millisecond)
	snap := tabB.Snapshot()
	require.Equal(t, app.StateQuestion, snap.State)
	require.Equal(t, "q1", snap.Question.ID)
	assert.Equal(t, 0, snap.QuestionIndex)

	_, err = tabB.SubmitAnswer(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)
	tabB.Advance(ctx)

	snap = tabB.Snapshot()
	assert.Equal(t, app.StateQuestion, snap.State)
	require.NotNil(t, snap.Question)
	assert.Equal(t, "q2", snap.Question.ID)
	assert.Equal(t, 1, snap.QuestionIndex)

	stop()
	require.NoError(t, <-done)
}

func TestRejoinAfterCacheExpiryKeepsSessionQuiz(t *testing.T) {
	ctx := context.Background()
	loader := &editableLoader{quiz: sampleQuiz(2)}
	f := newFixtureWithLoader(t, loader, time.Millisecond, app.Timing{})
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)

	edited := sampleQuiz(3)
	edited.Questions[0].ID = "edited-q1"
	loader.set(edited)
	time.Sleep(10 * time.Millisecond)

	live, err := f.quizzes.GetQuiz(ctx, testQuizID)
	require.NoError(t, err)
	require.Len(t, live.Questions, 3)

	_, rejoined, err := f.lobby.Rejoin(ctx, p.ID)
	require.NoError(t, err)
	player := f.startPlayer(t, session, rejoined)
	snap := player.Snapshot()
	assert.Equal(t, 2, snap.QuestionCount)
	require.NotNil(t, snap.Question)
	assert.Equal(t, "q1", snap.Question.ID)

	// Completion releases the pinned snapshot.
	_, err = f.coordinator.EndSession(ctx, session.ID)
	require.NoError(t, err)
	released, err := f.quizzes.SessionQuiz(ctx, session.ID, testQuizID)
	require.NoError(t, err)
	assert.Len(t, released.Questions, 3)
}

func TestWaitingPlayerSwitchesToSessionQuizOnStart(t *testing.T) {
	ctx := context.Background()
	loader := &editableLoader{quiz: sampleQuiz(2)}
	f := newFixtureWithLoader(t, loader, time.Millisecond, app.Timing{})
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	player := f.startPlayer(t, session, p)
	require.Equal(t, 2, player.Snapshot().QuestionCount)

	loader.set(sampleQuiz(3))
	time.Sleep(10 * time.Millisecond)
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)

	player.ApplySessionStatus(ctx, domain.SessionActive)
	snap := player.Snapshot()
	assert.Equal(t, app.StateQuestion, snap.State)
	assert.Equal(t, 3, snap.QuestionCount)
}

func TestPersistenceFailureKeepsLocalProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	session := f.createSession(t)
	p := f.join(t, session, "Ann", "")
	_, err := f.lobby.StartSession(ctx, session.ID)
	require.NoError(t, err)

	engine := app.NewEngine(f.quizzes, failingWrites{Store: f.store}, f.badges, f.coordinator, f.feed, zap.NewNop(), nil, app.Timing{})
	player := engine.NewPlayer(session, p, nil)
	require.NoError(t, player.Start(ctx))

	out, err := player.SubmitAnswer(ctx, 1)
	require.NoError(t, err)
	assert.True(t, out.Correct)

	snap := player.Snapshot()
	assert.Equal(t, app.StateResults, snap.State)
	assert.Equal(t, out.Points, snap.Score)
	assert.Equal(t, 1, snap.Streak)
	assert.Equal(t, 1, snap.CorrectAnswers)

	// Nothing reached the store.
	row, err := f.store.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, row.Score)
	assert.Empty(t, f.store.Answers(p.ID))

	player.Advance(ctx)
	snap = player.Snapshot()
	assert.Equal(t, app.StateQuestion, snap.State)
	assert.Equal(t, 1, snap.QuestionIndex)
	assert.Equal(t, out.Points, snap.Score)
}
