package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
)

// MemoryStore is a Store kept in process memory
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	paused   map[domain.QueueName]bool
	position int64
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*domain.Job),
		paused: make(map[domain.QueueName]bool),
	}
}

func (s *MemoryStore) Insert(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openForNoteLocked(job.Queue, job.NoteID) != nil {
		return domain.ErrDuplicateActiveJob
	}

	s.position++
	stored := cloneJob(job)
	stored.Position = s.position
	s.jobs[stored.ID] = stored
	job.Position = stored.Position
	return nil
}

func (s *MemoryStore) ClaimNext(_ context.Context, queue domain.QueueName, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused[queue] {
		return nil, nil
	}

	var next *domain.Job
	for _, job := range s.jobs {
		if job.Queue != queue || job.State != domain.JobStateWaiting || job.AvailableAt.After(now) {
			continue
		}
		if next == nil || job.Position < next.Position {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}

	next.State = domain.JobStateActive
	next.HeartbeatAt = timePtr(now)
	next.UpdatedAt = now
	return cloneJob(next), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) OpenForNote(_ context.Context, queue domain.QueueName, noteID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job := s.openForNoteLocked(queue, noteID); job != nil {
		return cloneJob(job), nil
	}
	return nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, now time.Time) (*domain.Job, error) {
	return s.transition(id, func(job *domain.Job) {
		job.State = domain.JobStateCompleted
		job.FinishedAt = timePtr(now)
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) Retry(_ context.Context, id, reason string, availableAt, now time.Time) (*domain.Job, error) {
	return s.transition(id, func(job *domain.Job) {
		s.position++
		job.State = domain.JobStateWaiting
		job.Attempts++
		job.LastError = reason
		job.Position = s.position
		job.AvailableAt = availableAt
		job.HeartbeatAt = nil
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) Fail(_ context.Context, id, reason string, now time.Time) (*domain.Job, error) {
	return s.transition(id, func(job *domain.Job) {
		job.State = domain.JobStateFailed
		job.Attempts++
		job.LastError = reason
		job.FinishedAt = timePtr(now)
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) Touch(_ context.Context, id string, now time.Time) error {
	_, err := s.transition(id, func(job *domain.Job) {
		job.HeartbeatAt = timePtr(now)
		job.UpdatedAt = now
	})
	return err
}

// transition applies mutate to an active job under the lock
func (s *MemoryStore) transition(id string, mutate func(job *domain.Job)) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.State != domain.JobStateActive {
		return nil, domain.ErrJobNotActive
	}
	mutate(job)
	return cloneJob(job), nil
}

func (s *MemoryStore) Stalled(_ context.Context, queue domain.QueueName, heartbeatBefore time.Time) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stalled []*domain.Job
	for _, job := range s.jobs {
		if job.Queue != queue || job.State != domain.JobStateActive {
			continue
		}
		if job.HeartbeatAt == nil || job.HeartbeatAt.Before(heartbeatBefore) {
			stalled = append(stalled, cloneJob(job))
		}
	}
	sort.Slice(stalled, func(i, j int) bool { return stalled[i].Position < stalled[j].Position })
	return stalled, nil
}

func (s *MemoryStore) DeleteFinished(_ context.Context, queue domain.QueueName, state domain.JobState, finishedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Queue != queue || job.State != state || job.FinishedAt == nil {
			continue
		}
		if job.FinishedAt.Before(finishedBefore) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) TrimFinished(_ context.Context, queue domain.QueueName, state domain.JobState, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished []*domain.Job
	for _, job := range s.jobs {
		if job.Queue == queue && job.State == state {
			finished = append(finished, job)
		}
	}
	if len(finished) <= keep {
		return 0, nil
	}

	// newest first
	sort.Slice(finished, func(i, j int) bool {
		a, b := finished[i], finished[j]
		if !a.FinishedAt.Equal(*b.FinishedAt) {
			return a.FinishedAt.After(*b.FinishedAt)
		}
		return a.Position > b.Position
	})

	for _, job := range finished[keep:] {
		delete(s.jobs, job.ID)
	}
	return len(finished) - keep, nil
}

func (s *MemoryStore) Counts(_ context.Context, queue domain.QueueName, now time.Time) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats domain.QueueStats
	for _, job := range s.jobs {
		if job.Queue != queue {
			continue
		}
		switch job.State {
		case domain.JobStateWaiting:
			if job.Delayed(now) {
				stats.Delayed++
			} else {
				stats.Waiting++
			}
		case domain.JobStateActive:
			stats.Active++
		case domain.JobStateCompleted:
			stats.Completed++
		case domain.JobStateFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *MemoryStore) SetPaused(_ context.Context, queue domain.QueueName, paused bool, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused[queue] = paused
	return nil
}

func (s *MemoryStore) Paused(_ context.Context, queue domain.QueueName) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paused[queue], nil
}

func (s *MemoryStore) openForNoteLocked(queue domain.QueueName, noteID string) *domain.Job {
	for _, job := range s.jobs {
		if job.Queue == queue && job.NoteID == noteID && !job.State.Terminal() {
			return job
		}
	}
	return nil
}

func cloneJob(job *domain.Job) *domain.Job {
	c := *job
	if job.Payload != nil {
		c.Payload = append([]byte(nil), job.Payload...)
	}
	if job.HeartbeatAt != nil {
		c.HeartbeatAt = timePtr(*job.HeartbeatAt)
	}
	if job.FinishedAt != nil {
		c.FinishedAt = timePtr(*job.FinishedAt)
	}
	return &c
}

func timePtr(t time.Time) *time.Time {
	return &t
}
