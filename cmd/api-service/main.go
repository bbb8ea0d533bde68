package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/api/handler"
	"github.com/cuongbtq/voicenote-jobs/internal/api/router"
	"github.com/cuongbtq/voicenote-jobs/internal/config"
	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/intake"
	"github.com/cuongbtq/voicenote-jobs/internal/notes"
	"github.com/cuongbtq/voicenote-jobs/internal/queue"
	"github.com/cuongbtq/voicenote-jobs/internal/supervisor"
	"github.com/cuongbtq/voicenote-jobs/shared/database"
	"github.com/cuongbtq/voicenote-jobs/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (.yaml or .toml)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize database client
	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	store := queue.NewSQLStore(dbClient)
	if err := store.Migrate(startupCtx); err != nil {
		return fmt.Errorf("failed to migrate job store: %w", err)
	}

	noteRepo := notes.NewSQLRepository(dbClient)
	if err := noteRepo.Migrate(startupCtx); err != nil {
		return fmt.Errorf("failed to migrate note repository: %w", err)
	}

	queues, retention := initQueues(cfg, store, appLogger.Logger)

	queueSupervisor := supervisor.New(queues, supervisor.Options{
		Logger:    appLogger.Logger,
		Retention: retention,
	})

	var transcribeQueue *queue.JobQueue
	for _, q := range queues {
		if q.Name() == domain.QueueTranscribe {
			transcribeQueue = q
		}
	}

	// Initialize router
	r := initRouter(cfg, &handler.Dependencies{
		Logger:      appLogger.Logger,
		ServiceName: cfg.App.Name,
		AdminToken:  cfg.Admin.Token,
		CORSOrigins: cfg.Admin.CORSOrigins,
		Supervisor:  queueSupervisor,
		Intake:      intake.NewService(noteRepo, transcribeQueue, appLogger.Logger),
		Database:    dbClient,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout.Std()),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout.Std()),
	)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Server failed to start",
			slog.Any("error", err),
		)
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initDatabase initializes the database client for the configured driver
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	dbConfig := &database.Config{
		Driver:          database.Driver(cfg.Driver),
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime.Std(),
		ConnMaxIdleTime: cfg.ConnMaxIdleTime.Std(),
	}

	return database.NewClient(dbConfig, logger)
}

// initQueues creates one job queue per queue name on top of store
func initQueues(cfg *config.Config, store queue.Store, logger *slog.Logger) ([]*queue.JobQueue, map[domain.QueueName]queue.Retention) {
	queues := make([]*queue.JobQueue, 0, len(domain.QueueNames()))
	retention := make(map[domain.QueueName]queue.Retention, len(domain.QueueNames()))

	for _, name := range domain.QueueNames() {
		queueCfg := cfg.Queues.For(name)
		queues = append(queues, queue.New(name, store, queue.Options{
			MaxAttempts: queueCfg.MaxAttempts,
			Logger:      logger,
		}))
		retention[name] = queueCfg.Retention.Policy()
	}
	return queues, retention
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
