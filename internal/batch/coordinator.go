// Package batch submits a themed set of video jobs as one run and tracks
// their aggregate progress. Completed clips can be assembled into a single
// video.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/job/id"
	"github.com/maauso/videoforge-api/internal/media"
	"github.com/maauso/videoforge-api/internal/notify"
	"github.com/maauso/videoforge-api/internal/storage"
)

// DefaultMaxCount caps TargetCount when no limit is configured.
const DefaultMaxCount = 20

var (
	// ErrNoJobsSubmitted is returned when every submission of a run failed.
	ErrNoJobsSubmitted = errors.New("batch: no jobs submitted")
	// ErrBatchNotFound is returned for unknown run ids.
	ErrBatchNotFound = fmt.Errorf("batch %w", apperr.ErrNotFound)
	// ErrNotFinished is returned when assembling a run with jobs still in flight.
	ErrNotFinished = fmt.Errorf("batch: jobs still running: %w", apperr.ErrConflict)
	// ErrNoCompletedClips is returned when assembling a run without any completed job.
	ErrNoCompletedClips = fmt.Errorf("batch: no completed clips: %w", apperr.ErrConflict)
	// ErrAssemblyUnavailable is returned when no storage or media processor is configured.
	ErrAssemblyUnavailable = errors.New("batch: assembly is not configured")
)

// Submitter submits one job. *job.SubmitService implements it.
type Submitter interface {
	Submit(ctx context.Context, in job.SubmitInput) (*job.Job, error)
}

// Request describes a batch run.
type Request struct {
	Theme       string
	TargetCount int
	// Prompts, when set, are used instead of generating variations of Theme.
	Prompts  []string
	Duration string
	ImageURL string
}

// Failure records a submission that did not produce a job.
type Failure struct {
	Index  int    `json:"index"`
	Prompt string `json:"prompt"`
	Error  string `json:"error"`
}

// Run is one batch: the jobs it submitted, in prompt order, and the
// submissions that failed. len(Jobs)+len(Failures) never exceeds TargetCount.
type Run struct {
	ID           string    `json:"id"`
	Theme        string    `json:"theme,omitempty"`
	TargetCount  int       `json:"targetCount"`
	Jobs         []string  `json:"jobs"`
	Failures     []Failure `json:"failures,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	AssembledURL string    `json:"assembledUrl,omitempty"`
	// AssembledSeconds is the length of the assembled video, when ffprobe
	// could read it.
	AssembledSeconds float64 `json:"assembledSeconds,omitempty"`
}

func (r *Run) clone() *Run {
	c := *r
	c.Jobs = append([]string(nil), r.Jobs...)
	c.Failures = append([]Failure(nil), r.Failures...)
	return &c
}

// State is the aggregate state of a run.
type State string

const (
	StateSubmitting State = "submitting"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Status is a run plus its progress computed from the ledger.
type Status struct {
	Run       *Run           `json:"run"`
	State     State          `json:"state"`
	Progress  float64        `json:"progress"`
	Counts    map[string]int `json:"counts"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	// Deleted counts submitted jobs no longer in the ledger.
	Deleted int `json:"deleted,omitempty"`
}

type runState struct {
	run        *Run
	slots      []string
	submitting bool
}

// Coordinator starts batch runs and reports their progress.
type Coordinator struct {
	submitter   Submitter
	repo        job.Repository
	prompts     PromptSource
	notifier    notify.Notifier
	store       storage.Storage
	processor   media.Processor
	concurrency int
	limiter     *rate.Limiter
	maxCount    int
	logger      *slog.Logger

	mu   sync.RWMutex
	runs map[string]*runState
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency bounds how many submissions run at once. The default is 1.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRateLimit caps submissions per second. Zero disables the cap.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Coordinator) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithPromptSource replaces ThemePrompts.
func WithPromptSource(s PromptSource) Option {
	return func(c *Coordinator) {
		c.prompts = s
	}
}

// WithNotifier publishes batch events.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithAssembler enables Assemble.
func WithAssembler(store storage.Storage, processor media.Processor) Option {
	return func(c *Coordinator) {
		c.store = store
		c.processor = processor
	}
}

// WithMaxCount caps TargetCount.
func WithMaxCount(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxCount = n
		}
	}
}

// NewCoordinator creates a Coordinator submitting through s and reading job
// state from repo.
func NewCoordinator(s Submitter, repo job.Repository, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		submitter:   s,
		repo:        repo,
		prompts:     ThemePrompts{},
		concurrency: 1,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		maxCount:    DefaultMaxCount,
		logger:      logger,
		runs:        make(map[string]*runState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start submits every prompt of the run and returns once all submissions
// have been attempted. A failed submission is recorded and the run goes on.
// When no job could be submitted the run is kept as failed and the error
// joins ErrNoJobsSubmitted with every submission error.
func (c *Coordinator) Start(ctx context.Context, req Request) (*Run, error) {
	prompts, err := c.resolvePrompts(req)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:          id.Batch(),
		Theme:       strings.TrimSpace(req.Theme),
		TargetCount: len(prompts),
		CreatedAt:   time.Now(),
	}
	st := &runState{run: run, slots: make([]string, len(prompts)), submitting: true}

	c.mu.Lock()
	c.runs[run.ID] = st
	c.mu.Unlock()

	c.logger.Info("batch started",
		slog.String("batch_id", run.ID),
		slog.Int("target_count", run.TargetCount),
		slog.Int("concurrency", c.concurrency),
	)

	var (
		errsMu sync.Mutex
		errs   []error
	)
	fail := func(i int, prompt string, err error) {
		errsMu.Lock()
		errs = append(errs, fmt.Errorf("prompt %d: %w", i, err))
		errsMu.Unlock()

		c.mu.Lock()
		run.Failures = append(run.Failures, Failure{Index: i, Prompt: prompt, Error: err.Error()})
		c.mu.Unlock()

		c.logger.Warn("batch submission failed",
			slog.String("batch_id", run.ID),
			slog.Int("index", i),
			slog.String("error", err.Error()),
		)
	}

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, prompt := range prompts {
		if err := c.limiter.Wait(ctx); err != nil {
			for j := i; j < len(prompts); j++ {
				fail(j, prompts[j], err)
			}
			break
		}
		g.Go(func() error {
			j, err := c.submitter.Submit(ctx, job.SubmitInput{
				Prompt:   prompt,
				ImageURL: req.ImageURL,
				Duration: req.Duration,
				BatchID:  run.ID,
			})
			if err != nil {
				fail(i, prompt, err)
				return nil
			}
			c.mu.Lock()
			st.slots[i] = j.ID
			c.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	for _, jobID := range st.slots {
		if jobID != "" {
			run.Jobs = append(run.Jobs, jobID)
		}
	}
	sortFailures(run.Failures)
	st.submitting = false
	submitted, failed := len(run.Jobs), len(run.Failures)
	snapshot := run.clone()
	c.mu.Unlock()

	c.logger.Info("batch submitted",
		slog.String("batch_id", run.ID),
		slog.Int("submitted", submitted),
		slog.Int("failed", failed),
	)
	c.publish(ctx, notify.Event{
		Type:    notify.EventBatchSubmitted,
		BatchID: run.ID,
		Message: fmt.Sprintf("%d of %d jobs submitted", submitted, run.TargetCount),
	})

	if submitted == 0 {
		return snapshot, errors.Join(append([]error{ErrNoJobsSubmitted}, errs...)...)
	}
	return snapshot, nil
}

// Get returns the run with its progress: terminal jobs over TargetCount.
func (c *Coordinator) Get(ctx context.Context, batchID string) (*Status, error) {
	c.mu.RLock()
	st, ok := c.runs[batchID]
	var (
		run        *Run
		submitting bool
	)
	if ok {
		run = st.run.clone()
		submitting = st.submitting
	}
	c.mu.RUnlock()
	if !ok {
		return nil, ErrBatchNotFound
	}

	jobs, err := c.repo.Query(ctx, job.Filter{BatchID: batchID})
	if err != nil {
		return nil, fmt.Errorf("query batch jobs: %w", err)
	}

	status := &Status{Run: run, Counts: make(map[string]int)}
	for _, j := range jobs {
		s := j.GetStatus()
		status.Counts[string(s)]++
		switch s {
		case job.StatusCompleted:
			status.Completed++
		case job.StatusFailed:
			status.Failed++
		}
	}
	status.Deleted = max(len(run.Jobs)-len(jobs), 0)
	if run.TargetCount > 0 {
		status.Progress = float64(status.Completed+status.Failed) / float64(run.TargetCount)
	}

	switch {
	case submitting:
		status.State = StateSubmitting
	case len(run.Jobs) == 0, len(jobs) == 0:
		// Nothing was submitted, or every submitted job was deleted.
		status.State = StateFailed
	case status.Completed+status.Failed >= len(jobs):
		status.State = StateCompleted
	default:
		status.State = StateRunning
	}
	return status, nil
}

// Assemble concatenates the run's completed clips in prompt order and
// publishes the result. Every submitted job must be terminal.
func (c *Coordinator) Assemble(ctx context.Context, batchID string) (string, error) {
	if c.store == nil || c.processor == nil {
		return "", ErrAssemblyUnavailable
	}

	status, err := c.Get(ctx, batchID)
	if err != nil {
		return "", err
	}
	if status.State == StateSubmitting || status.State == StateRunning {
		return "", ErrNotFinished
	}

	var urls []string
	for _, jobID := range status.Run.Jobs {
		j, err := c.repo.FindByID(ctx, jobID)
		if errors.Is(err, job.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if j.GetStatus() == job.StatusCompleted && j.ResultURL != "" {
			urls = append(urls, j.ResultURL)
		}
	}
	if len(urls) == 0 {
		return "", ErrNoCompletedClips
	}

	var temps []string
	defer func() {
		if err := c.store.CleanupTemp(context.WithoutCancel(ctx), temps); err != nil {
			c.logger.Warn("failed to clean up assembly files",
				slog.String("batch_id", batchID),
				slog.String("error", err.Error()),
			)
		}
	}()

	clips := make([]string, 0, len(urls))
	for i, u := range urls {
		path, err := c.store.Download(ctx, u, fmt.Sprintf("%s_clip%02d", batchID, i))
		if err != nil {
			return "", fmt.Errorf("download clip %d: %w", i, err)
		}
		temps = append(temps, path)
		clips = append(clips, path)
	}

	out, err := c.store.SaveTemp(ctx, batchID+"_assembled", strings.NewReader(""))
	if err != nil {
		return "", err
	}
	temps = append(temps, out)
	// ffmpeg picks the muxer from the extension.
	output := out + ".mp4"
	temps = append(temps, output)

	if err := c.processor.JoinVideos(ctx, clips, output); err != nil {
		return "", fmt.Errorf("join clips: %w", err)
	}
	seconds, err := c.processor.Duration(ctx, output)
	if err != nil {
		c.logger.Warn("failed to read assembled video duration",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
	}

	f, err := c.store.LoadTemp(ctx, output)
	if err != nil {
		return "", err
	}
	url, err := c.store.Publish(ctx, storage.Key("batches", batchID, ".mp4"), "video/mp4", f)
	_ = f.Close()
	if err != nil {
		return "", fmt.Errorf("publish assembled video: %w", err)
	}

	c.mu.Lock()
	if st, ok := c.runs[batchID]; ok {
		st.run.AssembledURL = url
		st.run.AssembledSeconds = seconds
	}
	c.mu.Unlock()

	c.logger.Info("batch assembled",
		slog.String("batch_id", batchID),
		slog.Int("clips", len(clips)),
		slog.Float64("seconds", seconds),
		slog.String("url", url),
	)
	return url, nil
}

func (c *Coordinator) resolvePrompts(req Request) ([]string, error) {
	if req.TargetCount < 0 {
		return nil, apperr.NewValidation("targetCount", "must not be negative")
	}

	var prompts []string
	if len(req.Prompts) > 0 {
		prompts = req.Prompts
		if req.TargetCount > 0 && req.TargetCount < len(prompts) {
			prompts = prompts[:req.TargetCount]
		}
	} else {
		if strings.TrimSpace(req.Theme) == "" {
			return nil, apperr.NewValidation("theme", "is required when no prompts are given")
		}
		if req.TargetCount == 0 {
			return nil, apperr.NewValidation("targetCount", "must be positive")
		}
		if req.TargetCount > c.maxCount {
			return nil, apperr.NewValidation("targetCount", fmt.Sprintf("must be at most %d", c.maxCount))
		}
		prompts = c.prompts.Prompts(req.Theme, req.TargetCount)
	}

	if len(prompts) > c.maxCount {
		return nil, apperr.NewValidation("prompts", fmt.Sprintf("must be at most %d", c.maxCount))
	}
	return prompts, nil
}

func (c *Coordinator) publish(ctx context.Context, ev notify.Event) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, ev); err != nil {
		c.logger.Warn("failed to publish batch event",
			slog.String("batch_id", ev.BatchID),
			slog.String("error", err.Error()),
		)
	}
}

func sortFailures(f []Failure) {
	slices.SortFunc(f, func(a, b Failure) int { return a.Index - b.Index })
}
