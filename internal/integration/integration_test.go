package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/feed"
	"live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"
)

type stack struct {
	store       *postgres.Store
	lobby       *app.Lobby
	coordinator *app.Coordinator
	violations  *app.ViolationAggregator
	engine      *app.Engine
}

func TestGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := postgres.OpenDB(pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	s := newStack(db, pool, redisClient)

	session, err := s.lobby.CreateSession(ctx, "quiz-1", "teacher-1", domain.GameSettings{ShowLeaderboard: true})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	_, alice, err := s.lobby.JoinByPIN(ctx, strings.ToLower(session.PIN), "Alice", "user-a")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	_, bob, err := s.lobby.JoinByPIN(ctx, session.PIN, "Bob", "user-b")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if _, err := s.lobby.StartSession(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	pa := s.engine.NewPlayer(session, alice, nil)
	pb := s.engine.NewPlayer(session, bob, nil)
	for _, p := range []*app.Player{pa, pb} {
		if err := p.Start(ctx); err != nil {
			t.Fatalf("start player: %v", err)
		}
		if p.State() != app.StateQuestion {
			t.Fatalf("expected question state, got %s", p.State())
		}
	}

	// The answers table is the claim: a second writer for the same question loses.
	if _, err := pa.SubmitAnswer(ctx, 1); err != nil {
		t.Fatalf("alice answer: %v", err)
	}
	rival := s.engine.NewPlayer(session, alice, nil)
	if err := rival.Start(ctx); err != nil {
		t.Fatalf("start rival: %v", err)
	}
	if !rival.LoadQuestion(ctx, 0) {
		t.Fatalf("rival could not load the first question")
	}
	if _, err := rival.SubmitAnswer(ctx, 1); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected duplicate claim to be rejected, got %v", err)
	}
	pa.Advance(ctx)
	playOut(t, pa, 1)
	if pa.State() != app.StateWaitingForOthers {
		t.Fatalf("expected alice waiting for others, got %s", pa.State())
	}

	if err := s.violations.Report(ctx, session.ID, bob.ID, domain.ViolationTabSwitch); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := s.violations.Report(ctx, session.ID, bob.ID, domain.ViolationTabSwitch); err != nil {
		t.Fatalf("report: %v", err)
	}
	rows, err := s.store.ListViolations(ctx, session.ID)
	if err != nil {
		t.Fatalf("list violations: %v", err)
	}
	if len(rows) != 1 || rows[0].ViolationCount != 2 {
		t.Fatalf("expected one row counting 2, got %+v", rows)
	}

	playOut(t, pb, 0)
	if pb.State() != app.StateEnded {
		t.Fatalf("expected bob to end the game, got %s", pb.State())
	}
	current, err := s.store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if current.Status != domain.SessionCompleted || current.EndedAt == nil {
		t.Fatalf("expected completed session, got %+v", current)
	}
	pa.CheckCompletion(ctx)
	if pa.State() != app.StateEnded {
		t.Fatalf("expected alice to observe the end, got %s", pa.State())
	}

	lb, err := s.coordinator.Leaderboard(ctx, session.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].ParticipantID != alice.ID || lb.Entries[0].Score != 300 {
		t.Fatalf("expected alice leading with 300, got %+v", lb.Entries)
	}

	for _, id := range []string{"badge-first-steps", "badge-perfect-score"} {
		has, err := s.store.HasAchievement(ctx, "user-a", id)
		if err != nil {
			t.Fatalf("has achievement: %v", err)
		}
		if !has {
			t.Fatalf("expected alice to hold %s", id)
		}
	}

	earned, err := s.store.ListAchievements(ctx, "user-a")
	if err != nil {
		t.Fatalf("list achievements: %v", err)
	}
	if len(earned) < 2 {
		t.Fatalf("expected alice's badges listed with their catalog entries, got %+v", earned)
	}
	for _, e := range earned {
		if e.Badge.Name == "" {
			t.Fatalf("expected badge joined with catalog, got %+v", e)
		}
	}

	// Finalizing again must not double count the cumulative rollup.
	if _, err := s.coordinator.Finalize(ctx, session.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	board, err := s.coordinator.CumulativeLeaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("cumulative: %v", err)
	}
	if len(board) != 2 || board[0].UserID != "user-a" || board[0].TotalScore != 300 || board[0].SessionsParticipated != 1 {
		t.Fatalf("unexpected cumulative board: %+v", board)
	}

	if _, _, err := s.lobby.JoinByPIN(ctx, session.PIN, "Late", ""); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("expected ended session to refuse joins, got %v", err)
	}
}

func newStack(db *bun.DB, pool *pgxpool.Pool, client *goredis.Client) stack {
	logger := zap.NewNop()
	store := postgres.NewStore(db)
	quizzes := infraredis.NewQuizRepository(client, postgres.NewQuizLoader(pool), 5*time.Minute, time.Hour, logger)
	f := feed.NewRedisFeed(client)
	hub := app.NewLeaderboardHub(0)
	coordinator := app.NewCoordinator(store, quizzes, f, hub, logger, nil, 0)
	badges := app.NewBadgeEvaluator(store, logger, nil)
	return stack{
		store:       store,
		lobby:       app.NewLobby(store, quizzes, infraredis.NewPINRegistry(client, time.Hour), f, logger),
		coordinator: coordinator,
		violations:  app.NewViolationAggregator(store, store, f, logger, nil, 0),
		engine:      app.NewEngine(quizzes, store, badges, coordinator, f, logger, nil, app.Timing{}),
	}
}

// playOut answers every remaining question with option.
func playOut(t *testing.T, p *app.Player, option int) {
	t.Helper()
	ctx := context.Background()
	for p.State() == app.StateQuestion {
		if _, err := p.SubmitAnswer(ctx, option); err != nil {
			t.Fatalf("submit: %v", err)
		}
		p.Advance(ctx)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateAndSeed(t *testing.T, ctx context.Context, db *bun.DB, quiz domain.Quiz) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, title, time_limit) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		quiz.ID, quiz.Title, quiz.TimeLimit); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
	for _, q := range quiz.Questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			t.Fatalf("marshal options: %v", err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO questions (id, quiz_id, question, options, correct_answer, points, time_limit, explanation, order_index)
			VALUES (?, ?, ?, ?::jsonb, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
			q.ID, quiz.ID, q.Prompt, string(options), q.CorrectAnswer, q.Points, q.TimeLimit, q.Explanation, q.Position)
		if err != nil {
			t.Fatalf("insert question %s: %v", q.ID, err)
		}
	}
}

// sampleQuiz questions are worth 100 points; an answer with the full 30s left
// earns the maximum 50% speed bonus.
func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{ID: "q1", Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectAnswer: 1, Points: 100, TimeLimit: 30, Position: 0},
			{ID: "q2", Prompt: "What is 3 * 3?", Options: []string{"6", "9", "12"}, CorrectAnswer: 1, Points: 100, TimeLimit: 30, Position: 1},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
