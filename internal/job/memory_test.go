package job

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryRepository_Insert(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("abc123", "video", KindVideo, "a cat surfing a wave")

	if err := repo.Insert(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := repo.FindByID(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Status != StatusQueued {
		t.Errorf("expected status queued, got %s", saved.Status)
	}
}

func TestMemoryRepository_Insert_Duplicate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_ = repo.Insert(ctx, New("abc123", "video", KindVideo, "a cat surfing a wave"))
	err := repo.Insert(ctx, New("abc123", "video", KindVideo, "another prompt here"))
	if !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestMemoryRepository_UpdateStatus(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Insert(ctx, New("abc123", "video", KindVideo, "a cat surfing a wave"))

	updated, err := repo.UpdateStatus(ctx, "abc123", StatusUpdate{Status: StatusProcessing, Progress: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusProcessing || updated.Progress != 50 {
		t.Errorf("unexpected job state %s/%d", updated.Status, updated.Progress)
	}

	done := StatusUpdate{Status: StatusCompleted, ResultURL: "https://cdn/v.mp4", Progress: -1}
	if _, err := repo.UpdateStatus(ctx, "abc123", done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := repo.UpdateStatus(ctx, "abc123", done)
	if err != nil {
		t.Fatalf("identical terminal update must be a no-op, got %v", err)
	}
	if again.ResultURL != "https://cdn/v.mp4" {
		t.Errorf("unexpected result URL %q", again.ResultURL)
	}

	_, err = repo.UpdateStatus(ctx, "abc123", StatusUpdate{Status: StatusFailed, ErrorMessage: "late"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryRepository_UpdateStatus_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.UpdateStatus(context.Background(), "missing", StatusUpdate{Status: StatusProcessing})
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID(context.Background(), "nonexistent")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_FindByID_ReturnsClone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("abc123", "video", KindVideo, "a cat surfing a wave")
	_ = repo.Insert(ctx, job)

	// Mutating the inserted value must not leak into the ledger.
	job.Status = StatusFailed

	found, _ := repo.FindByID(ctx, "abc123")
	found.Status = StatusCompleted

	again, _ := repo.FindByID(ctx, "abc123")
	if again.Status != StatusQueued {
		t.Errorf("expected stored status queued, got %s", again.Status)
	}
}

func TestMemoryRepository_Query(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		j := New(fmt.Sprintf("job-%d", i), "video", KindVideo, "a cat surfing a wave")
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if i%2 == 0 {
			j.BatchID = "batch-1"
		}
		_ = repo.Insert(ctx, j)
	}
	_, _ = repo.UpdateStatus(ctx, "job-1", StatusUpdate{Status: StatusFailed, ErrorMessage: "x"})

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
	}{
		{"all newest first", Filter{}, []string{"job-4", "job-3", "job-2", "job-1", "job-0"}},
		{"by batch", Filter{BatchID: "batch-1"}, []string{"job-4", "job-2", "job-0"}},
		{"by status", Filter{Status: StatusFailed}, []string{"job-1"}},
		{"limit", Filter{Limit: 2}, []string{"job-4", "job-3"}},
		{"no match", Filter{PipelineID: "pipe-1"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := repo.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := make([]string, 0, len(jobs))
			for _, j := range jobs {
				got = append(got, j.ID)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.wantIDs) {
				t.Errorf("expected %v, got %v", tt.wantIDs, got)
			}
		})
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Insert(ctx, New("abc123", "video", KindVideo, "a cat surfing a wave"))

	if err := repo.Delete(ctx, "abc123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.FindByID(ctx, "abc123"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, "abc123"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_ConcurrentAccess(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			id := fmt.Sprintf("job-%d", i)
			_ = repo.Insert(ctx, New(id, "video", KindVideo, "a cat surfing a wave"))
			_, _ = repo.UpdateStatus(ctx, id, StatusUpdate{Status: StatusProcessing, Progress: i})
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_, _ = repo.Query(ctx, Filter{Status: StatusProcessing})
		}
		done <- true
	}()

	<-done
	<-done
}
