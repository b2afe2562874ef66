package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/codrhq/codr/internal/protocol"
)

const sweepInterval = time.Minute

// MemoryStore is an in-process Store. It backs tests and single-node
// deployments; the SQLite store is the durable-enough production adapter.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	tokens map[string]time.Time // consumed token ID → expiry

	done chan struct{}
	once sync.Once
}

// NewMemoryStore creates a memory store and starts its expiry sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		jobs:   make(map[string]*Job),
		tokens: make(map[string]time.Time),
		done:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.live(id)
	if err != nil {
		return nil, err
	}
	cp := *job
	if job.Result != nil {
		res := *job.Result
		cp.Result = &res
	}
	return &cp, nil
}

func (s *MemoryStore) SetSubmission(ctx context.Context, id, code string, language protocol.Language, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.live(id)
	if err != nil {
		return err
	}
	if job.Status != StatusQueued {
		return ErrIllegalTransition
	}
	job.Code = code
	job.Language = language
	job.Filename = filename
	return nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.live(id)
	if err != nil {
		return err
	}
	if job.Status != StatusQueued {
		return ErrIllegalTransition
	}
	job.Status = StatusProcessing
	return nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id string, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.live(id)
	if err != nil {
		return err
	}
	if job.Status != StatusProcessing {
		return ErrIllegalTransition
	}
	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.Result = &result
	job.CompletedAt = &now
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, errMsg string, partial *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.live(id)
	if err != nil {
		return err
	}
	if job.Status != StatusQueued && job.Status != StatusProcessing {
		return ErrIllegalTransition
	}
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.Error = errMsg
	job.Result = partial
	job.CompletedAt = &now
	return nil
}

func (s *MemoryStore) ConsumeTokenID(ctx context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.tokens[tokenID]; used {
		return ErrTokenUsed
	}
	s.tokens[tokenID] = expiresAt
	return nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// live returns the job if it exists and has not expired.
// Caller holds s.mu.
func (s *MemoryStore) live(id string) (*Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(job.ExpiresAt) {
		delete(s.jobs, id)
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, job := range s.jobs {
				if now.After(job.ExpiresAt) {
					delete(s.jobs, id)
				}
			}
			for id, exp := range s.tokens {
				if now.After(exp) {
					delete(s.tokens, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
