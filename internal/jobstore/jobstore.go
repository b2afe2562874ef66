// Package jobstore persists job records and consumed job-token IDs for the
// lifetime of a job's TTL. Records expire with the job; nothing here is an
// execution history.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/codrhq/codr/internal/protocol"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrTokenUsed         = errors.New("token already used")
)

// Status represents the state of a job. Transitions are monotone:
// queued → processing → completed | failed. Terminal states never change.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result is the outcome of an execution, present only in terminal states.
type Result struct {
	Success    bool    `json:"success"`
	ExitCode   int     `json:"exit_code"`
	ElapsedSec float64 `json:"execution_time"`
	Stdout     string  `json:"stdout"`
	Stderr     string  `json:"stderr"`
}

// Job is a single user submission with its lifecycle record.
type Job struct {
	ID          string
	Code        string
	Language    protocol.Language
	Filename    string
	Status      Status
	Error       string
	Result      *Result
	CreatedAt   time.Time
	CompletedAt *time.Time
	ExpiresAt   time.Time
}

// NewJob creates a queued job record with a fresh identifier and TTL.
// The source arrives later over the socket; see Store.SetSubmission.
func NewJob(ttl time.Duration) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Store defines the persistence interface for jobs and consumed tokens.
//
// Implementations must enforce the monotone status transitions with
// conditional updates (or equivalent) and must make ConsumeTokenID
// single-shot: a second call with the same ID fails with ErrTokenUsed.
type Store interface {
	// CreateJob persists a queued job record.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns the latest job record, or ErrNotFound after expiry.
	GetJob(ctx context.Context, id string) (*Job, error)

	// SetSubmission attaches validated source to a still-queued job.
	SetSubmission(ctx context.Context, id, code string, language protocol.Language, filename string) error

	// MarkProcessing transitions queued → processing.
	MarkProcessing(ctx context.Context, id string) error

	// MarkCompleted transitions processing → completed and stores the result.
	MarkCompleted(ctx context.Context, id string, result Result) error

	// MarkFailed transitions queued|processing → failed and stores the error.
	// A partial result may accompany the failure.
	MarkFailed(ctx context.Context, id, errMsg string, partial *Result) error

	// ConsumeTokenID burns a token identifier. The ID stays burned until
	// expiresAt, which must cover the token's remaining lifetime.
	ConsumeTokenID(ctx context.Context, tokenID string, expiresAt time.Time) error

	// Close releases the store.
	Close() error
}
