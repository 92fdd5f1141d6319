// Package poller drives provider jobs to a terminal state. Each tracked job
// gets one poll loop that queries the provider, applies the reported status
// to the ledger and stops once the job is completed or failed.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/notify"
	"github.com/maauso/videoforge-api/internal/provider"
)

// DefaultInterval is the delay between the end of one status request and
// the start of the next.
const DefaultInterval = 4 * time.Second

var (
	// ErrNotTracked is returned when a job has no active poll loop.
	ErrNotTracked = errors.New("poller: job is not tracked")
	// ErrPollInFlight is returned when a status request is already running.
	ErrPollInFlight = errors.New("poller: poll already in flight")
	// ErrCanceled is returned by Handle.Wait when polling stopped early.
	ErrCanceled = errors.New("poller: polling canceled")
	// ErrShutdown is returned when watching after Shutdown.
	ErrShutdown = errors.New("poller: shut down")
)

// Poller runs one poll loop per tracked job.
type Poller struct {
	repo     job.Repository
	notifier notify.Notifier
	logger   *slog.Logger
	interval    time.Duration
	maxWait     time.Duration
	maxFailures int

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	jobs   map[string]*Handle
	closed bool
}

// Compile-time check that Poller can be handed to the submit service.
var _ job.Watcher = (*Poller)(nil)

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the delay between status requests.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxWait marks a job failed when it is still not terminal after d.
// Zero disables the limit.
func WithMaxWait(d time.Duration) Option {
	return func(p *Poller) {
		p.maxWait = d
	}
}

// WithMaxFailures marks a job failed after n consecutive failed status
// requests. Zero keeps retrying until the max wait. Errors the provider
// marks permanent fail the job on the first occurrence either way.
func WithMaxFailures(n int) Option {
	return func(p *Poller) {
		if n >= 0 {
			p.maxFailures = n
		}
	}
}

// WithNotifier sets where lifecycle events are published.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Poller) {
		p.notifier = n
	}
}

// New creates a Poller writing to repo.
func New(repo job.Repository, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	p := &Poller{
		repo:     repo,
		logger:   logger.With(slog.String("component", "poller")),
		interval: DefaultInterval,
		ctx:      ctx,
		stop:     stop,
		jobs:     make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Watch starts polling jobID on prov. Watching a job that is already
// tracked returns the existing handle.
func (p *Poller) Watch(jobID string, prov provider.Provider) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.jobs[jobID]; ok {
		return h
	}

	ctx, cancel := context.WithCancel(p.ctx)
	h := newHandle(jobID, prov, cancel)

	if p.closed {
		cancel()
		h.canceled.Store(true)
		h.setLastError(ErrShutdown)
		h.finish()
		return h
	}

	p.jobs[jobID] = h
	p.wg.Add(1)
	go p.run(ctx, h)

	p.logger.Debug("watching job",
		slog.String("job_id", jobID),
		slog.String("provider", h.Provider),
	)
	return h
}

// Track starts polling jobID without returning the handle.
func (p *Poller) Track(jobID string, prov provider.Provider) {
	p.Watch(jobID, prov)
}

// Handle returns the active handle for jobID.
func (p *Poller) Handle(jobID string) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.jobs[jobID]
	return h, ok
}

// Tracked returns the number of active poll loops.
func (p *Poller) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Cancel stops polling jobID locally. The provider job and the ledger row
// are left untouched. It reports whether the job was tracked.
func (p *Poller) Cancel(jobID string) bool {
	p.mu.Lock()
	h, ok := p.jobs[jobID]
	if ok {
		delete(p.jobs, jobID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	h.canceled.Store(true)
	h.cancel()
	p.logger.Info("polling cancelled", slog.String("job_id", jobID))
	return true
}

// PollNow issues a status request immediately from the caller's goroutine.
// It returns ErrPollInFlight instead of overlapping a running request.
func (p *Poller) PollNow(ctx context.Context, jobID string) error {
	h, ok := p.Handle(jobID)
	if !ok {
		return ErrNotTracked
	}
	terminal, err := p.tick(ctx, h)
	if terminal {
		h.cancel()
	}
	return err
}

// Resume re-watches every non-terminal job found in the ledger. Jobs whose
// provider is not registered are skipped and logged.
func (p *Poller) Resume(ctx context.Context, registry *provider.Registry) (int, error) {
	resumed := 0
	for _, status := range []job.Status{job.StatusQueued, job.StatusProcessing} {
		jobs, err := p.repo.Query(ctx, job.Filter{Status: status})
		if err != nil {
			return resumed, fmt.Errorf("poller: resume: %w", err)
		}
		for _, j := range jobs {
			prov, err := registry.Get(j.Provider)
			if err != nil {
				p.logger.Warn("cannot resume job",
					slog.String("job_id", j.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			p.Watch(j.ID, prov)
			resumed++
		}
	}
	if resumed > 0 {
		p.logger.Info("resumed polling", slog.Int("jobs", resumed))
	}
	return resumed, nil
}

// Shutdown stops all poll loops and waits for them to exit or ctx to end.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for _, h := range p.jobs {
		h.canceled.Store(true)
	}
	p.mu.Unlock()

	p.stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the poll loop. The timer is re-armed only after a request has
// been answered, so requests for one job never overlap.
func (p *Poller) run(ctx context.Context, h *Handle) {
	defer p.wg.Done()
	defer p.release(h)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	var deadline <-chan time.Time
	if p.maxWait > 0 {
		t := time.NewTimer(p.maxWait)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			p.expire(ctx, h)
			return
		case <-timer.C:
			terminal, _ := p.tick(ctx, h)
			if terminal {
				return
			}
			timer.Reset(p.interval)
		}
	}
}

// release removes h from tracking and closes its Done channel.
func (p *Poller) release(h *Handle) {
	p.mu.Lock()
	if cur, ok := p.jobs[h.JobID]; ok && cur == h {
		delete(p.jobs, h.JobID)
	}
	p.mu.Unlock()
	h.finish()
}

// tick performs one status request and applies the result. It reports
// whether polling should stop.
func (p *Poller) tick(ctx context.Context, h *Handle) (bool, error) {
	if h.terminal.Load() {
		return true, nil
	}
	if !h.inFlight.CompareAndSwap(false, true) {
		return false, ErrPollInFlight
	}
	defer h.inFlight.Store(false)

	attempt := h.beginAttempt()
	res, err := h.provider.Poll(ctx, h.JobID)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		perr := &apperr.TransientPollError{JobID: h.JobID, Attempt: attempt, Err: err}
		failures := h.recordFailure(perr)
		p.logger.Warn("poll failed",
			slog.String("job_id", h.JobID),
			slog.Int("attempt", attempt),
			slog.Int("consecutive_failures", failures),
			slog.String("error", err.Error()),
		)
		p.publish(ctx, notify.Event{
			Type:     notify.EventJobPollError,
			JobID:    h.JobID,
			Provider: h.Provider,
			Message:  perr.Error(),
		})

		var pe *apperr.ProviderError
		permanent := errors.As(err, &pe) && pe.Permanent
		if !permanent && (p.maxFailures == 0 || failures < p.maxFailures) {
			return false, perr
		}
		msg := fmt.Sprintf("polling gave up after %d consecutive failures: %v", failures, err)
		if permanent {
			msg = "polling failed: " + err.Error()
		}
		p.logger.Warn("giving up on job", slog.String("job_id", h.JobID), slog.Bool("permanent", permanent))
		if _, ferr := p.finalize(ctx, h, job.StatusUpdate{Status: job.StatusFailed, ErrorMessage: msg, Progress: -1}); ferr != nil {
			return false, ferr
		}
		return true, perr
	}
	h.recordSuccess()

	if !res.Status.IsTerminal() {
		if res.Status == provider.StatusProcessing {
			_, err := p.repo.UpdateStatus(ctx, h.JobID, job.StatusUpdate{
				Status:   job.StatusProcessing,
				Progress: res.Progress,
			})
			if errors.Is(err, job.ErrJobNotFound) {
				return p.stopMissing(h)
			}
			if err != nil && !errors.Is(err, job.ErrInvalidTransition) {
				p.logger.Warn("failed to record progress",
					slog.String("job_id", h.JobID),
					slog.String("error", err.Error()),
				)
			}
		}
		return false, nil
	}

	update := job.StatusUpdate{Status: job.StatusCompleted, ResultURL: res.OutputURL, Progress: 100}
	if res.Status == provider.StatusFailed {
		update = job.StatusUpdate{Status: job.StatusFailed, ErrorMessage: res.Error, Progress: -1}
	}
	return p.finalize(ctx, h, update)
}

// finalize writes a terminal update and publishes the matching event.
func (p *Poller) finalize(ctx context.Context, h *Handle, update job.StatusUpdate) (bool, error) {
	j, err := p.repo.UpdateStatus(ctx, h.JobID, update)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		return p.stopMissing(h)
	case errors.Is(err, job.ErrInvalidTransition):
		// Already terminal with a different outcome; keep the stored one.
		j, err = p.repo.FindByID(ctx, h.JobID)
		if err != nil {
			h.setLastError(err)
			return true, err
		}
	case err != nil:
		h.setLastError(err)
		p.logger.Error("failed to record terminal status",
			slog.String("job_id", h.JobID),
			slog.String("error", err.Error()),
		)
		return false, err
	}

	h.setResult(j)

	evType := notify.EventJobCompleted
	if j.Status == job.StatusFailed {
		evType = notify.EventJobFailed
	}
	p.logger.Info("job finished",
		slog.String("job_id", j.ID),
		slog.String("status", string(j.Status)),
		slog.Int("attempts", h.Attempts()),
	)
	p.publish(ctx, notify.Event{
		Type:       evType,
		JobID:      j.ID,
		BatchID:    j.BatchID,
		PipelineID: j.PipelineID,
		Provider:   j.Provider,
		Status:     string(j.Status),
		ResultURL:  j.ResultURL,
		Message:    j.ErrorMessage,
	})
	return true, nil
}

// expire fails a job that outlived the max wait.
func (p *Poller) expire(ctx context.Context, h *Handle) {
	for !h.inFlight.CompareAndSwap(false, true) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer h.inFlight.Store(false)
	if h.terminal.Load() {
		return
	}

	p.logger.Warn("job exceeded max wait",
		slog.String("job_id", h.JobID),
		slog.Duration("max_wait", p.maxWait),
	)
	_, _ = p.finalize(ctx, h, job.StatusUpdate{
		Status:       job.StatusFailed,
		ErrorMessage: fmt.Sprintf("timed out after %s waiting for provider", p.maxWait),
		Progress:     -1,
	})
}

// stopMissing stops polling a job whose ledger row was deleted.
func (p *Poller) stopMissing(h *Handle) (bool, error) {
	h.setLastError(job.ErrJobNotFound)
	h.terminal.Store(true)
	p.logger.Info("job no longer in ledger, stopping poll", slog.String("job_id", h.JobID))
	return true, job.ErrJobNotFound
}

func (p *Poller) publish(ctx context.Context, ev notify.Event) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, ev); err != nil {
		p.logger.Warn("failed to publish event",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
