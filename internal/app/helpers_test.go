package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/feed"
	"live-quiz-service/internal/infra/memory"
)

const testQuizID = "quiz-1"

type fixture struct {
	store       *memory.Store
	quizzes     *memory.QuizRepository
	feed        *feed.MemoryFeed
	hub         *app.LeaderboardHub
	lobby       *app.Lobby
	coordinator *app.Coordinator
	badges      *app.BadgeEvaluator
	violations  *app.ViolationAggregator
	engine      *app.Engine
}

// newFixture wires the app layer over the in-memory store with a quiz of n
// questions. Every question is worth 100 points, lasts 30s and has option 1
// as its correct answer.
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	return newFixtureWithTiming(t, n, app.Timing{})
}

func newFixtureWithTiming(t *testing.T, n int, timing app.Timing) *fixture {
	t.Helper()
	loader := memory.NewStaticQuizLoader(map[string]domain.Quiz{testQuizID: sampleQuiz(n)})
	return newFixtureWithLoader(t, loader, time.Minute, timing)
}

func newFixtureWithLoader(t *testing.T, loader memory.QuizLoader, quizTTL time.Duration, timing app.Timing) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	quizzes := memory.NewQuizRepository(loader, quizTTL)
	f := feed.NewMemoryFeed()
	hub := app.NewLeaderboardHub(0)
	coordinator := app.NewCoordinator(store, quizzes, f, hub, logger, nil, 0)
	badges := app.NewBadgeEvaluator(store, logger, nil)
	return &fixture{
		store:       store,
		quizzes:     quizzes,
		feed:        f,
		hub:         hub,
		lobby:       app.NewLobby(store, quizzes, memory.NewPINRegistry(time.Hour), f, logger),
		coordinator: coordinator,
		badges:      badges,
		violations:  app.NewViolationAggregator(store, store, f, logger, nil, 0),
		engine:      app.NewEngine(quizzes, store, badges, coordinator, f, logger, nil, timing),
	}
}

func sampleQuiz(n int) domain.Quiz {
	quiz := domain.Quiz{ID: testQuizID, Title: "Arithmetic"}
	for i := 0; i < n; i++ {
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:            fmt.Sprintf("q%d", i+1),
			Prompt:        fmt.Sprintf("Question %d", i+1),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: 1,
			Points:        100,
			TimeLimit:     30,
			Position:      i,
		})
	}
	return quiz
}

func (f *fixture) createSession(t *testing.T) domain.GameSession {
	t.Helper()
	session, err := f.lobby.CreateSession(context.Background(), testQuizID, "teacher-1", domain.GameSettings{})
	require.NoError(t, err)
	return session
}

func (f *fixture) join(t *testing.T, session domain.GameSession, nickname, userID string) domain.Participant {
	t.Helper()
	_, p, err := f.lobby.JoinByPIN(context.Background(), session.PIN, nickname, userID)
	require.NoError(t, err)
	return p
}

func (f *fixture) startPlayer(t *testing.T, session domain.GameSession, p domain.Participant) *app.Player {
	t.Helper()
	player := f.engine.NewPlayer(session, p, nil)
	require.NoError(t, player.Start(context.Background()))
	return player
}

// editableLoader serves a quiz that tests can replace mid-game.
type editableLoader struct {
	mu   sync.Mutex
	quiz domain.Quiz
}

func (l *editableLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if quizID != l.quiz.ID {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return l.quiz, nil
}

func (l *editableLoader) set(quiz domain.Quiz) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quiz = quiz
}

// failingWrites loses every answer write while reads keep working.
type failingWrites struct {
	app.Store
}

var errStoreDown = errors.New("store unavailable")

func (failingWrites) InsertAnswer(context.Context, domain.Answer) error {
	return errStoreDown
}

func (failingWrites) ApplyAnswer(context.Context, string, domain.ScoreDelta) (domain.Participant, error) {
	return domain.Participant{}, errStoreDown
}
