package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mcq-attempt-service/internal/app"
	"mcq-attempt-service/internal/config"
	"mcq-attempt-service/internal/domain"
	"mcq-attempt-service/internal/infra/memory"
	"mcq-attempt-service/internal/infra/postgres"
	rediscache "mcq-attempt-service/internal/infra/redis"
	transport "mcq-attempt-service/internal/transport/http"
)

const devSecret = "insecure-dev-secret"

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt service",
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
	setupLogging(cfg)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
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

	var (
		loader rediscache.BankLoader
		store  app.AttemptStore
	)
	if cfg.Postgres.URL != "" {
		db, err := openBun(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := applyMigrations(ctx, db); err != nil {
			return err
		}

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		loader = postgres.NewBankLoader(pool)
		store = postgres.NewAttemptStore(db)
		log.Info().Msg("using postgres storage")
	} else {
		catalog := sampleCatalog()
		loader = catalog
		store = memory.NewAttemptStore(catalog)
		log.Warn().Msg("postgres url not configured, using in-memory storage with sample catalog")
	}

	bankTTL := config.TTLDuration(cfg.Bank.TTL, 10*time.Minute)
	var bank app.QuestionRepository
	if redisClient != nil {
		bank = rediscache.NewBankRepository(redisClient, loader, bankTTL)
	} else {
		bank = memory.NewBankRepository(loader, bankTTL)
	}

	selector := app.NewQuestionSelector(bank, app.RandomShuffler(), cfg.Selection.DefaultCount)
	attempts := app.NewAttemptService(bank, store, selector)
	history := app.NewHistoryService(store)
	if redisClient != nil {
		stats := rediscache.NewStatsCache(redisClient, config.TTLDuration(cfg.Stats.TTL, 5*time.Minute))
		attempts.WithStatsCache(stats)
		history.WithStatsCache(stats)
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if cfg.Postgres.URL != "" {
			return errors.New("auth.jwt_secret (or JWT_SECRET) is required with postgres storage")
		}
		secret = devSecret
		log.Warn().Msg("auth.jwt_secret not set, using development secret")
	}
	auth := transport.NewAuthenticator(secret)

	router := transport.NewRouter(
		auth,
		transport.NewAttemptHandler(attempts, history),
		transport.NewWSHandler(attempts),
		transport.RouterOptions{
			CORSOrigins:    cfg.CORS.Origins,
			RequestTimeout: config.TTLDuration(cfg.Server.RequestTimeout, 30*time.Second),
		},
	)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting attempt service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleCatalog provides a small course for memory mode; swap in the Postgres loader in production.
func sampleCatalog() *memory.Catalog {
	variables, loops := "cs101-l1", "cs101-l2"
	why := "Go compiles ahead of time to native machine code."
	return memory.NewCatalog(
		[]domain.Course{{ID: "cs101", Code: "CS101", Name: "Introduction to Programming"}},
		[]domain.Lecture{
			{ID: variables, CourseID: "cs101", Title: "Variables and Types", OrderIndex: 0},
			{ID: loops, CourseID: "cs101", Title: "Control Flow", OrderIndex: 1},
		},
		[]domain.Question{
			{ID: "cs101-q1", CourseID: "cs101", LectureID: &variables, Text: "What is the zero value of an int?", Choices: []string{"nil", "0", "undefined"}, CorrectIndex: 1},
			{ID: "cs101-q2", CourseID: "cs101", LectureID: &variables, Text: "Which keyword declares a constant?", Choices: []string{"let", "const", "final", "static"}, CorrectIndex: 1},
			{ID: "cs101-q3", CourseID: "cs101", LectureID: &loops, Text: "Which loop keyword does Go have?", Choices: []string{"while", "for", "repeat"}, CorrectIndex: 1},
			{ID: "cs101-q4", CourseID: "cs101", LectureID: &loops, Text: "What does break do inside a loop?", Choices: []string{"exits the loop", "skips one iteration"}, CorrectIndex: 0},
			{ID: "cs101-q5", CourseID: "cs101", Text: "Is Go compiled?", Choices: []string{"yes", "no"}, CorrectIndex: 0, Explanation: &why},
		},
	)
}
