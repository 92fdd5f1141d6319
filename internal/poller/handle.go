package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/provider"
)

// Handle tracks one job's poll loop. Done is closed when the loop stops,
// whether the job reached a terminal state or polling was cancelled.
type Handle struct {
	JobID    string
	Provider string

	provider provider.Provider
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	inFlight atomic.Bool
	terminal atomic.Bool
	canceled atomic.Bool

	mu           sync.RWMutex
	attempts     int
	failures     int // consecutive failed status requests
	lastErr      error
	result       *job.Job
	startedAt    time.Time
	lastPolledAt time.Time
}

// Info is a snapshot of a handle's tracking state.
type Info struct {
	JobID        string    `json:"jobId"`
	Provider     string    `json:"provider"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"lastError,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	LastPolledAt time.Time `json:"lastPolledAt,omitempty"`
	Active       bool      `json:"active"`
}

func newHandle(jobID string, p provider.Provider, cancel context.CancelFunc) *Handle {
	return &Handle{
		JobID:     jobID,
		Provider:  p.Name(),
		provider:  p,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// Done returns a channel closed when polling stops.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// LastError returns the most recent poll failure, or nil after a successful poll.
func (h *Handle) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// Attempts returns the number of status requests issued so far.
func (h *Handle) Attempts() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.attempts
}

// Result returns the terminal job, or nil while polling or after cancellation.
func (h *Handle) Result() *job.Job {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.result == nil {
		return nil
	}
	return h.result.Clone()
}

// Canceled reports whether polling was stopped by Cancel or Shutdown.
func (h *Handle) Canceled() bool {
	return h.canceled.Load()
}

// Wait blocks until polling stops or ctx is done and returns the terminal job.
// It returns ErrCanceled when polling stopped before a terminal status.
func (h *Handle) Wait(ctx context.Context) (*job.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}
	if j := h.Result(); j != nil {
		return j, nil
	}
	if err := h.LastError(); err != nil && !h.Canceled() {
		return nil, err
	}
	return nil, ErrCanceled
}

// Info returns a snapshot of the tracking state.
func (h *Handle) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info := Info{
		JobID:        h.JobID,
		Provider:     h.Provider,
		Attempts:     h.attempts,
		StartedAt:    h.startedAt,
		LastPolledAt: h.lastPolledAt,
	}
	if h.lastErr != nil {
		info.LastError = h.lastErr.Error()
	}
	select {
	case <-h.done:
	default:
		info.Active = true
	}
	return info
}

func (h *Handle) beginAttempt() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts++
	h.lastPolledAt = time.Now()
	return h.attempts
}

func (h *Handle) setLastError(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

// recordFailure stores err and returns the number of consecutive failures.
func (h *Handle) recordFailure(err error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err
	h.failures++
	return h.failures
}

func (h *Handle) recordSuccess() {
	h.mu.Lock()
	h.lastErr = nil
	h.failures = 0
	h.mu.Unlock()
}

func (h *Handle) setResult(j *job.Job) {
	h.mu.Lock()
	h.result = j
	h.mu.Unlock()
	h.terminal.Store(true)
}

func (h *Handle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}
