package job

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/provider"
)

// Watcher hands submitted jobs to the status poller.
type Watcher interface {
	// Track starts polling jobID on p until it is terminal.
	Track(jobID string, p provider.Provider)
	// Cancel stops local polling of jobID. It reports whether the job was tracked.
	Cancel(jobID string) bool
}

// SubmitInput contains the parameters of a job submission.
type SubmitInput struct {
	Prompt            string
	ImageURL          string
	EndImageURL       string
	ReferenceImageURL string
	AudioURL          string
	Duration          string
	BatchID           string
	PipelineID        string
	// Provider overrides the service's default provider (pipeline steps).
	Provider provider.Provider
}

// SubmitService validates prompts, submits jobs to a provider and records
// them in the ledger.
type SubmitService struct {
	repo      Repository
	provider  provider.Provider
	validator *PromptValidator
	watcher   Watcher
	logger    *slog.Logger
}

// ServiceOption configures a SubmitService.
type ServiceOption func(*SubmitService)

// WithAutoWatch hands every successfully submitted job to w.
func WithAutoWatch(w Watcher) ServiceOption {
	return func(s *SubmitService) {
		s.watcher = w
	}
}

// WithValidator replaces the default prompt validator.
func WithValidator(v *PromptValidator) ServiceOption {
	return func(s *SubmitService) {
		s.validator = v
	}
}

// NewSubmitService creates a SubmitService submitting to p by default.
func NewSubmitService(repo Repository, p provider.Provider, logger *slog.Logger, opts ...ServiceOption) *SubmitService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SubmitService{
		repo:      repo,
		provider:  p,
		validator: NewPromptValidator(DefaultBannedTerms),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the prompt, submits the job and inserts it as queued.
// Invalid input returns *apperr.ValidationError before any network call.
// Provider failures return *apperr.ProviderError.
func (s *SubmitService) Submit(ctx context.Context, in SubmitInput) (*Job, error) {
	prompt, err := s.validator.Validate(in.Prompt)
	if err != nil {
		return nil, err
	}

	p := in.Provider
	if p == nil {
		p = s.provider
	}

	jobID, err := p.Submit(ctx, provider.Request{
		Prompt:            prompt,
		ImageURL:          in.ImageURL,
		EndImageURL:       in.EndImageURL,
		ReferenceImageURL: in.ReferenceImageURL,
		AudioURL:          in.AudioURL,
		Duration:          in.Duration,
	})
	if err != nil {
		s.logger.Error("provider submit failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		var pe *apperr.ProviderError
		if !errors.As(err, &pe) {
			err = apperr.NewProvider(p.Name(), "submit", err)
		}
		return nil, err
	}
	if jobID == "" {
		return nil, apperr.NewProvider(p.Name(), "submit", errors.New("no job id returned"))
	}

	job := New(jobID, p.Name(), Kind(p.Kind()), prompt)
	job.ImageURL = in.ImageURL
	job.EndImageURL = in.EndImageURL
	job.Duration = in.Duration
	job.BatchID = in.BatchID
	job.PipelineID = in.PipelineID

	if err := s.repo.Insert(ctx, job); err != nil {
		s.logger.Error("failed to insert job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("provider", p.Name()),
		slog.String("batch_id", in.BatchID),
		slog.String("pipeline_id", in.PipelineID),
	)

	if s.watcher != nil {
		s.watcher.Track(jobID, p)
	}

	return job, nil
}

// Get retrieves a job by ID.
func (s *SubmitService) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// List queries the ledger.
func (s *SubmitService) List(ctx context.Context, filter Filter) ([]*Job, error) {
	return s.repo.Query(ctx, filter)
}

// Delete stops local polling and removes the job from the ledger.
// The provider-side job is not cancelled.
func (s *SubmitService) Delete(ctx context.Context, id string) error {
	if s.watcher != nil && s.watcher.Cancel(id) {
		s.logger.Info("stopped polling deleted job", slog.String("job_id", id))
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}
