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

// MaintainedQueue pairs a queue with its retention policy
type MaintainedQueue struct {
	Queue     *queue.JobQueue
	Retention queue.Retention
}

// MaintenanceConfig configures the maintenance loop
type MaintenanceConfig struct {
	Logger       *slog.Logger
	Queues       []MaintainedQueue
	Notes        notes.Repository
	Notifier     notify.Notifier
	Interval     time.Duration
	StallTimeout time.Duration
}

// Maintenance recovers jobs abandoned by crashed workers and applies retention
type Maintenance struct {
	cfg      MaintenanceConfig
	logger   *slog.Logger
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMaintenance creates the maintenance loop
func NewMaintenance(cfg MaintenanceConfig) *Maintenance {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewNoop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 10 * time.Minute
	}
	return &Maintenance{
		cfg:      cfg,
		logger:   cfg.Logger.With(slog.String("component", "maintenance")),
		stopChan: make(chan struct{}),
	}
}

// Start runs one pass immediately and then every interval
func (m *Maintenance) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			m.RunOnce(ctx)

			select {
			case <-ctx.Done():
				return
			case <-m.stopChan:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the loop and waits for the running pass
func (m *Maintenance) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// RunOnce performs a single maintenance pass over every queue
func (m *Maintenance) RunOnce(ctx context.Context) {
	for _, mq := range m.cfg.Queues {
		logger := m.logger.With(slog.String("queue", string(mq.Queue.Name())))

		recovered, err := mq.Queue.RecoverStalled(ctx, m.cfg.StallTimeout)
		if err != nil {
			logger.Error("Failed to recover stalled jobs",
				slog.Any("error", err),
			)
		}
		for _, job := range recovered {
			jobLogger := logger.With(
				slog.String("job_id", job.ID),
				slog.String("note_id", job.NoteID),
			)
			jobLogger.Warn("Recovered stalled job",
				slog.String("state", string(job.State)),
				slog.Int("attempts", job.Attempts),
			)
			if job.State == domain.JobStateFailed {
				markNoteFailed(ctx, jobLogger, m.cfg.Notes, m.cfg.Notifier, job, job.LastError)
			}
		}

		removed, err := mq.Queue.ApplyRetention(ctx, mq.Retention)
		if err != nil {
			logger.Error("Failed to apply retention",
				slog.Any("error", err),
			)
			continue
		}
		if removed > 0 {
			logger.Info("Retention applied",
				slog.Int("removed", removed),
			)
		}
	}
}
