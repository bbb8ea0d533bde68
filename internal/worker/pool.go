package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (p *Pool) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}

	p.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", p.concurrency),
	)
}

// workerLoop polls the queue until the pool is stopped. A job that has been
// dequeued always runs to completion, even when the queue is paused meanwhile.
func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("%s-%s-%d", p.workerID, p.queue.Name(), workerNum)
	p.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-p.stopChan:
			p.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			p.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		default:
		}

		processed, err := p.processNext(ctx)
		if err != nil {
			p.logger.Error("Failed to dequeue job",
				slog.String("worker_name", workerName),
				slog.Any("error", err),
			)
		}
		if !processed {
			p.idle(ctx)
		}
	}
}

// processNext dequeues and processes one job. It reports whether a job was found.
func (p *Pool) processNext(ctx context.Context) (bool, error) {
	job, err := p.queue.DequeueNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	p.processJob(ctx, job)
	return true, nil
}

// idle waits for the poll interval, stop or cancellation
func (p *Pool) idle(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-p.stopChan:
	case <-ctx.Done():
	}
}
