// Package notify publishes job, batch and pipeline lifecycle events. The
// in-process EventBus is always on; Redis pub/sub and SQS publishers fan
// terminal events out to other instances and workers.
package notify

import (
	"context"
	"errors"
	"time"
)

// EventType classifies lifecycle events.
type EventType string

const (
	EventJobCompleted      EventType = "job.completed"
	EventJobFailed         EventType = "job.failed"
	EventJobPollError      EventType = "job.poll_error"
	EventBatchSubmitted    EventType = "batch.submitted"
	EventPipelineStep      EventType = "pipeline.step"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineFailed    EventType = "pipeline.failed"
)

// IsTerminal reports whether the event marks the end of a job or run.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventJobCompleted, EventJobFailed, EventPipelineCompleted, EventPipelineFailed:
		return true
	default:
		return false
	}
}

// Event is a sequenced lifecycle message.
type Event struct {
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	JobID      string    `json:"jobId,omitempty"`
	BatchID    string    `json:"batchId,omitempty"`
	PipelineID string    `json:"pipelineId,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Status     string    `json:"status,omitempty"`
	ResultURL  string    `json:"resultUrl,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi delivers each event to every notifier. A failing notifier does not
// prevent delivery to the others; the caller logs the joined error.
type Multi struct {
	notifiers []Notifier
}

// Compile-time check that Multi implements Notifier.
var _ Notifier = (*Multi)(nil)

// NewMulti combines notifiers, skipping nil entries.
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers event to all notifiers and returns the joined errors.
func (m *Multi) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
