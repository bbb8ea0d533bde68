package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/config"
	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/intake"
	"github.com/cuongbtq/voicenote-jobs/internal/notes"
	"github.com/cuongbtq/voicenote-jobs/internal/notify"
	"github.com/cuongbtq/voicenote-jobs/internal/provider/openai"
	"github.com/cuongbtq/voicenote-jobs/internal/queue"
	"github.com/cuongbtq/voicenote-jobs/internal/worker"
	"github.com/cuongbtq/voicenote-jobs/shared/database"
	"github.com/cuongbtq/voicenote-jobs/shared/logger"
	"github.com/cuongbtq/voicenote-jobs/shared/rabbitmq"
	"github.com/gofrs/flock"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (.yaml or .toml)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", cfg.Worker.ID),
	)

	// A SQLite database must only be driven by one worker process
	lock, err := acquireLock(cfg)
	if err != nil {
		return err
	}
	if lock != nil {
		defer lock.Unlock()
		appLogger.Info("Worker lock acquired",
			slog.String("path", lock.Path()),
		)
	}

	// Initialize database client
	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := queue.NewSQLStore(dbClient)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate job store: %w", err)
	}

	noteRepo := notes.NewSQLRepository(dbClient)
	if err := noteRepo.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate note repository: %w", err)
	}

	transcribeQueue := newQueue(cfg, domain.QueueTranscribe, store, appLogger.Logger)
	summarizeQueue := newQueue(cfg, domain.QueueSummarize, store, appLogger.Logger)

	// Initialize RabbitMQ client
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established")
	}

	notifier := initNotifier(cfg, rabbitClient, appLogger.Logger)

	provider := openai.NewClient(openai.Config{
		APIKey:          cfg.Provider.APIKey,
		BaseURL:         cfg.Provider.BaseURL,
		TranscribeModel: cfg.Provider.TranscribeModel,
		SummaryModel:    cfg.Provider.SummaryModel,
		RequestTimeout:  cfg.Provider.RequestTimeout.Std(),
		MediaRoot:       cfg.Provider.MediaRoot,
	})

	pools := []*worker.Pool{
		newPool(cfg, transcribeQueue, worker.NewTranscribeProcessor(provider, noteRepo, summarizeQueue, appLogger.Logger), noteRepo, notifier, appLogger.Logger),
		newPool(cfg, summarizeQueue, worker.NewSummarizeProcessor(provider, noteRepo), noteRepo, notifier, appLogger.Logger),
	}

	maintenance := worker.NewMaintenance(worker.MaintenanceConfig{
		Logger: appLogger.Logger,
		Queues: []worker.MaintainedQueue{
			{Queue: transcribeQueue, Retention: cfg.Queues.Transcribe.Retention.Policy()},
			{Queue: summarizeQueue, Retention: cfg.Queues.Summarize.Retention.Policy()},
		},
		Notes:        noteRepo,
		Notifier:     notifier,
		Interval:     cfg.Worker.MaintenanceInterval.Std(),
		StallTimeout: cfg.Worker.StallTimeout.Std(),
	})

	for _, pool := range pools {
		pool.Start(ctx)
	}
	maintenance.Start(ctx)

	// Start the intake consumer in a goroutine
	errChan := make(chan error, 1)
	if rabbitClient != nil {
		consumer := intake.NewConsumer(
			rabbitClient,
			intake.NewService(noteRepo, transcribeQueue, appLogger.Logger),
			cfg.RabbitMQ.Consumer.Tag,
			cfg.RabbitMQ.Consumer.PrefetchCount,
			appLogger.Logger,
		)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Intake consumer error",
			slog.Any("error", runErr),
		)
	}

	// Cancel context to stop polling; in-flight jobs keep running
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout.Std())
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		for _, pool := range pools {
			pool.Stop()
		}
		maintenance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		// unfinished jobs are recovered by the next maintenance pass
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	return runErr
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

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		IntakeExchange:    cfg.Exchange.Name,
		IntakeQueue:       cfg.Queue.Name,
		IntakeRoutingKey:  cfg.RoutingKey,
		EventsExchange:    cfg.EventsExchange,
		ExchangeType:      cfg.Exchange.Type,
		Durable:           cfg.Exchange.Durable,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval.Std(),
		Heartbeat:         cfg.Connection.Heartbeat.Std(),
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval.Std(),
		PublishBackoff:    cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(ctx, rabbitConfig, logger)
}

// initNotifier logs every note status change and publishes it when a broker is available
func initNotifier(cfg *config.Config, rabbitClient *rabbitmq.Client, logger *slog.Logger) notify.Notifier {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if rabbitClient != nil {
		notifiers = append(notifiers, notify.NewBrokerNotifier(
			rabbitClient,
			cfg.RabbitMQ.EventsExchange,
			cfg.RabbitMQ.Publish.Timeout.Std(),
			logger,
		))
	}
	return notifiers
}

func acquireLock(cfg *config.Config) (*flock.Flock, error) {
	path := cfg.Worker.LockFile
	if path == "" && cfg.Database.Driver == string(database.DriverSQLite) {
		path = cfg.Database.Path + ".lock"
	}
	if path == "" {
		return nil, nil
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire worker lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another worker is already running (lock %s is held)", path)
	}
	return lock, nil
}

func newQueue(cfg *config.Config, name domain.QueueName, store queue.Store, logger *slog.Logger) *queue.JobQueue {
	return queue.New(name, store, queue.Options{
		MaxAttempts: cfg.Queues.For(name).MaxAttempts,
		Logger:      logger,
	})
}

func newPool(cfg *config.Config, q *queue.JobQueue, processor worker.Processor, repo notes.Repository, notifier notify.Notifier, logger *slog.Logger) *worker.Pool {
	queueCfg := cfg.Queues.For(q.Name())

	return worker.NewPool(&worker.Config{
		Logger:            logger,
		WorkerID:          cfg.Worker.ID,
		Queue:             q,
		Processor:         processor,
		Notes:             repo,
		Notifier:          notifier,
		Concurrency:       queueCfg.Concurrency,
		JobTimeout:        queueCfg.JobTimeout.Std(),
		PollInterval:      cfg.Worker.PollInterval.Std(),
		HeartbeatInterval: cfg.Worker.HeartbeatInterval.Std(),
		Backoff: worker.Backoff{
			Initial:    queueCfg.Backoff.Initial.Std(),
			Multiplier: queueCfg.Backoff.Multiplier,
			Max:        queueCfg.Backoff.Max.Std(),
		},
	})
}
