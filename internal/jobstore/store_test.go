package jobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codrhq/codr/internal/protocol"
)

// Both stores must satisfy the same contract; run every case against each.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestJobLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			job := NewJob(time.Hour)
			if job.Status != StatusQueued {
				t.Fatalf("new job status = %s", job.Status)
			}
			if err := store.CreateJob(ctx, job); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}

			if err := store.SetSubmission(ctx, job.ID, "print(1)", protocol.LangPython, "main.py"); err != nil {
				t.Fatalf("SetSubmission: %v", err)
			}
			if err := store.MarkProcessing(ctx, job.ID); err != nil {
				t.Fatalf("MarkProcessing: %v", err)
			}

			result := Result{Success: true, ExitCode: 0, ElapsedSec: 0.5, Stdout: "1\n"}
			if err := store.MarkCompleted(ctx, job.ID, result); err != nil {
				t.Fatalf("MarkCompleted: %v", err)
			}

			got, err := store.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if got.Status != StatusCompleted {
				t.Errorf("status = %s, want completed", got.Status)
			}
			if got.Code != "print(1)" || got.Language != protocol.LangPython {
				t.Errorf("submission not recorded: %+v", got)
			}
			if got.Result == nil || got.Result.Stdout != "1\n" {
				t.Errorf("result not recorded: %+v", got.Result)
			}
			if got.CompletedAt == nil {
				t.Error("CompletedAt not set")
			}
		})
	}
}

func TestTransitionsAreMonotone(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			job := NewJob(time.Hour)
			if err := store.CreateJob(ctx, job); err != nil {
				t.Fatal(err)
			}

			// Completed requires processing first.
			err := store.MarkCompleted(ctx, job.ID, Result{})
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("MarkCompleted from queued: %v, want ErrIllegalTransition", err)
			}

			if err := store.MarkProcessing(ctx, job.ID); err != nil {
				t.Fatal(err)
			}
			// Processing twice is illegal.
			err = store.MarkProcessing(ctx, job.ID)
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("MarkProcessing twice: %v, want ErrIllegalTransition", err)
			}
			// Submissions only attach to queued jobs.
			err = store.SetSubmission(ctx, job.ID, "x", protocol.LangPython, "main.py")
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("SetSubmission after processing: %v, want ErrIllegalTransition", err)
			}

			if err := store.MarkFailed(ctx, job.ID, "boom", nil); err != nil {
				t.Fatal(err)
			}
			// Terminal states never change.
			err = store.MarkCompleted(ctx, job.ID, Result{})
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("MarkCompleted after failed: %v, want ErrIllegalTransition", err)
			}
			err = store.MarkFailed(ctx, job.ID, "again", nil)
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("MarkFailed twice: %v, want ErrIllegalTransition", err)
			}
		})
	}
}

func TestMarkFailedFromQueued(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			job := NewJob(time.Hour)
			if err := store.CreateJob(ctx, job); err != nil {
				t.Fatal(err)
			}
			if err := store.MarkFailed(ctx, job.ID, "rejected", nil); err != nil {
				t.Fatalf("MarkFailed from queued: %v", err)
			}

			got, err := store.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != StatusFailed || got.Error != "rejected" {
				t.Errorf("got status=%s error=%q", got.Status, got.Error)
			}
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			_, err := store.GetJob(context.Background(), "nope")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestJobExpiry(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			job := NewJob(-time.Second) // already expired
			if err := store.CreateJob(ctx, job); err != nil {
				t.Fatal(err)
			}
			if _, err := store.GetJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("expired job: got %v, want ErrNotFound", err)
			}
			if err := store.MarkProcessing(ctx, job.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("expired job transition: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestConsumeTokenIDSingleShot(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			exp := time.Now().Add(time.Minute)

			if err := store.ConsumeTokenID(ctx, "tok-1", exp); err != nil {
				t.Fatalf("first consume: %v", err)
			}
			if err := store.ConsumeTokenID(ctx, "tok-1", exp); !errors.Is(err, ErrTokenUsed) {
				t.Errorf("second consume: got %v, want ErrTokenUsed", err)
			}
			// A different ID is unaffected.
			if err := store.ConsumeTokenID(ctx, "tok-2", exp); err != nil {
				t.Errorf("independent consume: %v", err)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusQueued.Terminal() || StatusProcessing.Terminal() {
		t.Error("queued and processing are not terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Error("completed and failed are terminal")
	}
}
