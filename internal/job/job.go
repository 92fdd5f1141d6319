// Package job provides the Job entity tracked by the ledger, its status state
// machine, the ledger port with in-memory and gorm implementations, and the
// submission use case that turns a user prompt into a provider job.
package job

import (
	"errors"
	"sync"
	"time"
)

// Kind classifies what a job produces.
type Kind string

const (
	// KindVideo is a video generation job.
	KindVideo Kind = "video"
	// KindImage is an image generation job (pipeline steps).
	KindImage Kind = "image"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the provider accepted the job but has not started it.
	StatusQueued Status = "queued"
	// StatusProcessing indicates the provider is working on the job.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the job finished and a result is available.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the provider reported a failure.
	StatusFailed Status = "failed"
)

// IsValid returns true if s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transitions can occur from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// processing -> processing carries progress updates.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusUpdate carries the fields the poller may change on a job.
type StatusUpdate struct {
	Status       Status
	ResultURL    string
	ErrorMessage string
	// Progress is a 0-100 hint; negative values leave it unchanged.
	Progress int
}

// Job is one request to an external generation provider, tracked by the
// provider-issued id until it reaches a terminal state.
type Job struct {
	mu sync.RWMutex

	// ID is the opaque identifier issued by the provider.
	ID string
	// Kind is what the job produces.
	Kind Kind
	// Provider names the provider that owns ID.
	Provider string
	// Prompt is the validated user prompt.
	Prompt string
	// ImageURL is an optional start/reference image.
	ImageURL string
	// EndImageURL is an optional end frame image.
	EndImageURL string
	// Duration is the requested clip duration as accepted by the provider (e.g. "5").
	Duration string
	// BatchID links the job to a batch run, if any.
	BatchID string
	// PipelineID links the job to a pipeline run, if any.
	PipelineID string
	// Status is the current job state.
	Status Status
	// Progress is the last reported completion percentage (0-100).
	Progress int
	// ResultURL is the generated artifact URL once completed.
	ResultURL string
	// ErrorMessage is the provider failure message once failed.
	ErrorMessage string
	// CreatedAt is when the job was submitted.
	CreatedAt time.Time
	// UpdatedAt is when the job was last changed.
	UpdatedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a queued Job for the provider-issued id.
func New(jobID, providerName string, kind Kind, prompt string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Kind:      kind,
		Provider:  providerName,
		Prompt:    prompt,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply applies a status update following the state machine.
// Re-applying an identical terminal update is a no-op and returns changed=false.
// Any other update out of a terminal state returns ErrInvalidTransition.
func (j *Job) Apply(u StatusUpdate) (changed bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status.IsTerminal() {
		if u.Status == j.Status && u.ResultURL == j.ResultURL && u.ErrorMessage == j.ErrorMessage {
			return false, nil
		}
		return false, ErrInvalidTransition
	}
	if !canTransition(j.Status, u.Status) {
		return false, ErrInvalidTransition
	}

	j.Status = u.Status
	if u.Progress >= 0 {
		j.Progress = clampProgress(u.Progress)
	}
	j.UpdatedAt = time.Now()

	switch u.Status {
	case StatusCompleted:
		j.ResultURL = u.ResultURL
		j.Progress = 100
		j.CompletedAt = j.UpdatedAt
	case StatusFailed:
		j.ErrorMessage = u.ErrorMessage
		j.CompletedAt = j.UpdatedAt
	}

	return true, nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.GetStatus().IsTerminal()
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:           j.ID,
		Kind:         j.Kind,
		Provider:     j.Provider,
		Prompt:       j.Prompt,
		ImageURL:     j.ImageURL,
		EndImageURL:  j.EndImageURL,
		Duration:     j.Duration,
		BatchID:      j.BatchID,
		PipelineID:   j.PipelineID,
		Status:       j.Status,
		Progress:     j.Progress,
		ResultURL:    j.ResultURL,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
