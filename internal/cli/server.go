package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"live-quiz-service/internal/anticheat"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/feed"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logging"
	"live-quiz-service/internal/metrics"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 2*time.Hour)

	var (
		store  app.Store
		loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewQuizLoader(pool)

		db := postgres.OpenDB(cfg.Postgres.URL)
		defer db.Close()
		store = postgres.NewStore(db)
	} else {
		logger.Warn("postgres not configured, using in-memory store and sample quizzes")
		store = memory.NewStore()
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var (
		quizRepo   app.QuizRepository
		pins       app.PINRegistry
		f          feed.Feed
		violations app.ViolationRepository = store
	)
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL, redisTTL, logger)
		pins = redisinfra.NewPINRegistry(redisClient, redisTTL)
		f = feed.NewRedisFeed(redisClient)
		if cfg.Postgres.URL == "" {
			violations = redisinfra.NewViolationCounter(redisClient, redisTTL)
		}
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		pins = memory.NewPINRegistry(redisTTL)
		f = feed.NewMemoryFeed()
	}

	defaults := app.DefaultTiming()
	timing := app.Timing{
		Tick:         config.Duration(cfg.Game.Tick, defaults.Tick),
		ResultsDelay: config.Duration(cfg.Game.ResultsDelay, defaults.ResultsDelay),
		StatusPoll:   config.Duration(cfg.Game.StatusPoll, defaults.StatusPoll),
		FastPoll:     config.Duration(cfg.Game.FastPoll, defaults.FastPoll),
		WaitingCheck: config.Duration(cfg.Game.WaitingCheck, defaults.WaitingCheck),
	}

	monitorOpts := anticheat.DefaultOptions()
	monitorOpts.DisableDevTools = config.BoolOr(cfg.Security.DisableDevTools, monitorOpts.DisableDevTools)
	monitorOpts.DisableRightClick = config.BoolOr(cfg.Security.DisableRightClick, monitorOpts.DisableRightClick)
	monitorOpts.DisableTextSelection = config.BoolOr(cfg.Security.DisableTextSelection, monitorOpts.DisableTextSelection)
	monitorOpts.DisablePrintScreen = config.BoolOr(cfg.Security.DisablePrintScreen, monitorOpts.DisablePrintScreen)
	monitorOpts.DevToolsThreshold = config.IntOr(cfg.Security.DevToolsThreshold, anticheat.DefaultDevToolsThreshold)
	monitorOpts.DevToolsPoll = config.Duration(cfg.Security.DevToolsPoll, anticheat.DefaultDevToolsPoll)

	hub := app.NewLeaderboardHub(config.Duration(cfg.Game.LeaderboardRetention, app.DefaultHubRetention))
	coordinator := app.NewCoordinator(store, quizRepo, f, hub, logger, m, cfg.Game.LeaderboardSize)
	badges := app.NewBadgeEvaluator(store, logger, m)
	aggregator := app.NewViolationAggregator(violations, store, f, logger, m, cfg.Security.HighSeverityThreshold)
	lobby := app.NewLobby(store, quizRepo, pins, f, logger)
	engine := app.NewEngine(quizRepo, store, badges, coordinator, f, logger, m, timing)

	playHandler := transport.NewWSHandler(lobby, engine, aggregator, monitorOpts, logger)
	lobbyHandler := transport.NewLobbyHandler(lobby, coordinator, aggregator, hub, f, config.Duration(cfg.Game.RosterPoll, 3*time.Second), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/play", playHandler.ServeWS)
	mux.HandleFunc("/ws/lobby", lobbyHandler.ServeWS)
	transport.NewAPI(lobby, coordinator, aggregator, badges, logger).Register(mux)
	if m != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, m.Handler())
	}

	// No WriteTimeout: sockets stay open for the whole game.
	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes serves a demo quiz when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:            "q1",
					Prompt:        "What is 2 + 2?",
					Options:       []string{"3", "4", "5", "22"},
					CorrectAnswer: 1,
					Points:        100,
					TimeLimit:     20,
					Position:      0,
				},
				{
					ID:            "q2",
					Prompt:        "Which planet is closest to the sun?",
					Options:       []string{"Venus", "Earth", "Mercury", "Mars"},
					CorrectAnswer: 2,
					Points:        100,
					TimeLimit:     20,
					Explanation:   "Mercury orbits at about 58 million km.",
					Position:      1,
				},
				{
					ID:            "q3",
					Prompt:        "How many sides does a hexagon have?",
					Options:       []string{"5", "6", "8"},
					CorrectAnswer: 1,
					Points:        200,
					TimeLimit:     15,
					Position:      2,
				},
			},
		},
	}
}
