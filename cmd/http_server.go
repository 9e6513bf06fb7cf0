package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kalendae/meeting-insights/internal"
	"github.com/kalendae/meeting-insights/internal/access"
	"github.com/kalendae/meeting-insights/internal/backend"
	"github.com/kalendae/meeting-insights/internal/insight"
	"github.com/kalendae/meeting-insights/internal/store"
	"github.com/kalendae/meeting-insights/internal/transport/rest"
	"github.com/kalendae/meeting-insights/pkg/cache"
	"github.com/kalendae/meeting-insights/pkg/logger"
	"github.com/kalendae/meeting-insights/pkg/poll"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	Router         *chi.Mux
	AccessHandler  *access.Handler
	InsightHandler *insight.Handler
	BackendClient  *backend.Client
	Logger         *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.BackendClient,
		deps.Config.Security.IdentitySecret, deps.AccessHandler, deps.InsightHandler, deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	env := "development"
	if config.Observability.Logging.Format == "json" {
		env = "production"
	}
	logger.Init(env)
	log := logger.L()

	gormDB, sqlxDB, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	cacheStore, err := initCache(config.Cache, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	dataStore := store.New(gormDB, log)

	// Backend access: client -> registry -> session -> repository
	client := backend.NewClient(config.Backend.BaseURL, config.Backend.RequestTimeout, log)
	registry := backend.NewRegistry(client, cacheStore, dataStore, config.Cache.EndpointTTL, log)
	session := backend.NewSession(client, registry, cacheStore,
		credentials(config.Backend), config.Backend.DevelopmentToken, config.Cache.TokenTTL, log)
	repository := backend.NewRepository(client, registry, config.Backend.QueryPath, log)

	accessService := access.NewService(repository, session, cacheStore, config.Cache.UserTTL, log)
	accessHandler := access.NewHandler(accessService)

	assistantClient := insight.NewAssistantClient(config.Assistant.BaseURL, config.Assistant.APIKey,
		config.Assistant.RequestTimeout, log)
	runner := insight.NewRunner(assistantClient, cacheStore, poll.Policy{
		MaxAttempts: config.Assistant.PollMax,
		Min:         config.Assistant.PollBaseDelay,
		Max:         config.Assistant.PollMaxDelay,
		Factor:      config.Assistant.PollFactor,
	}, log)
	insightService := insight.NewService(accessService, runner, cacheStore, dataStore, config.Cache.InsightTTL, log)
	insightHandler := insight.NewHandler(insightService)

	return &Dependencies{
		Config:         config,
		Logger:         log,
		DB:             sqlxDB,
		Router:         chi.NewRouter(),
		AccessHandler:  accessHandler,
		InsightHandler: insightHandler,
		BackendClient:  client,
	}, nil
}

func credentials(cfg internal.BackendConfig) []backend.Credentials {
	creds := make([]backend.Credentials, 0, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		creds = append(creds, backend.Credentials{Email: c.Email, Password: c.Password})
	}
	return creds
}

// initDB opens the database through gorm and wraps the underlying
// connection with sqlx for the health check.
func initDB(cfg internal.DatabaseConfig) (*gorm.DB, *sqlx.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	default:
		dialector = sqlite.Open(cfg.GetDSN())
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to access underlying db: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return gormDB, sqlx.NewDb(sqlDB, cfg.Driver), nil
}

func initCache(cfg internal.CacheConfig, log *slog.Logger) (cache.Store, error) {
	if cfg.Backend == "redis" {
		return cache.NewRedis(cfg.RedisURL, cfg.KeyPrefix, log)
	}
	return cache.NewMemory(), nil
}
