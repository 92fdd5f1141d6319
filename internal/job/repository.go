package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/videoforge-api/internal/apperr"
)

var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = fmt.Errorf("job %w", apperr.ErrNotFound)
	// ErrDuplicateJob is returned when inserting a job whose ID already exists.
	ErrDuplicateJob = errors.New("job already exists")
)

// Filter narrows a ledger query. Zero values match everything.
type Filter struct {
	Status     Status
	BatchID    string
	PipelineID string
	// Limit caps the number of results; 0 means no limit.
	Limit int
}

// Matches reports whether j satisfies the filter.
func (f Filter) Matches(j *Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.BatchID != "" && j.BatchID != f.BatchID {
		return false
	}
	if f.PipelineID != "" && j.PipelineID != f.PipelineID {
		return false
	}
	return true
}

// Repository is the job ledger. Updates follow last-writer-wins; each job has
// a single active poller so no conflict detection is performed.
type Repository interface {
	// Insert persists a new job. Returns ErrDuplicateJob if the ID exists.
	Insert(ctx context.Context, job *Job) error

	// UpdateStatus applies a status update and returns the stored job.
	// Re-applying an identical terminal update is a no-op.
	// Returns ErrJobNotFound or ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*Job, error)

	// FindByID retrieves a job by its provider-issued identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// Query returns jobs matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]*Job, error)

	// Delete removes a job. Returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}
