package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/notes"
	"github.com/cuongbtq/voicenote-jobs/internal/notify"
	"github.com/cuongbtq/voicenote-jobs/internal/queue"
)

// Config holds the configuration of one worker pool
type Config struct {
	Logger            *slog.Logger
	WorkerID          string
	Queue             *queue.JobQueue
	Processor         Processor
	Notes             notes.Repository
	Notifier          notify.Notifier
	Concurrency       int
	JobTimeout        time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Backoff           Backoff
}

// Pool runs the jobs of one queue on a fixed number of goroutines
type Pool struct {
	logger            *slog.Logger
	workerID          string
	queue             *queue.JobQueue
	processor         Processor
	notes             notes.Repository
	notifier          notify.Notifier
	concurrency       int
	jobTimeout        time.Duration
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	backoff           Backoff
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewPool creates a worker pool
func NewPool(cfg *Config) *Pool {
	p := &Pool{
		logger:            cfg.Logger,
		workerID:          cfg.WorkerID,
		queue:             cfg.Queue,
		processor:         cfg.Processor,
		notes:             cfg.Notes,
		notifier:          cfg.Notifier,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		backoff:           cfg.Backoff,
		stopChan:          make(chan struct{}),
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.notifier == nil {
		p.notifier = notify.NewNoop()
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.jobTimeout <= 0 {
		p.jobTimeout = 5 * time.Minute
	}
	if p.pollInterval <= 0 {
		p.pollInterval = time.Second
	}
	if p.heartbeatInterval <= 0 {
		p.heartbeatInterval = 30 * time.Second
	}
	p.logger = p.logger.With(
		slog.String("queue", string(p.queue.Name())),
		slog.String("worker_id", p.workerID),
	)
	return p
}

// Queue returns the queue the pool consumes
func (p *Pool) Queue() domain.QueueName {
	return p.queue.Name()
}

// Start spawns the worker goroutines and returns immediately.
// Workers stop polling when ctx is canceled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("job_timeout", p.jobTimeout),
		slog.Duration("poll_interval", p.pollInterval),
	)

	p.spawnWorkerPool(ctx)
}

// Stop stops polling and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool...")
		close(p.stopChan)
	})
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}
