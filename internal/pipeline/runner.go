package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/job/id"
	"github.com/maauso/videoforge-api/internal/notify"
	"github.com/maauso/videoforge-api/internal/poller"
	"github.com/maauso/videoforge-api/internal/provider"
	"github.com/maauso/videoforge-api/internal/speech"
	"github.com/maauso/videoforge-api/internal/storage"
)

// Fixed prompts of the image preparation steps.
const (
	faceExtractionPrompt = "Extract the face of the person in this photo as a clean, front-facing portrait on a neutral background"
	enhancePrompt        = "Upscale and enhance this image, sharpen fine details and keep the original composition"
)

var (
	// ErrUnavailable is returned when a pipeline needs a provider that is not configured.
	ErrUnavailable = errors.New("pipeline: kind is not available")
	// ErrStepJobFailed is wrapped by step errors for jobs the provider reported failed.
	ErrStepJobFailed = errors.New("pipeline: generation failed")
	// ErrNoOutput is returned when a completed step carries no output URL.
	ErrNoOutput = errors.New("pipeline: step produced no output")
	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("pipeline: runner is shut down")
)

// Submitter submits one job. *job.SubmitService implements it.
type Submitter interface {
	Submit(ctx context.Context, in job.SubmitInput) (*job.Job, error)
}

// Watcher polls a job until it is terminal. *poller.Poller implements it.
type Watcher interface {
	Watch(jobID string, p provider.Provider) *poller.Handle
}

// Providers are the asynchronous providers the chains run on.
type Providers struct {
	Face    provider.Provider
	Scene   provider.Provider
	Upscale provider.Provider
	Video   provider.Provider
}

type stepFunc func(ctx context.Context, sc *stepContext) (string, error)

type stepSpec struct {
	name     string
	provider string
	exec     stepFunc
}

type stepContext struct {
	run     *Run
	step    *Step
	outputs map[string]string
}

// Runner executes pipeline runs.
type Runner struct {
	submitter Submitter
	watcher   Watcher
	providers Providers
	speech    speech.Synthesizer
	artifacts storage.Storage
	runs      RunStore
	notifier  notify.Notifier
	prompts   *job.PromptValidator
	logger    *slog.Logger

	// base is cancelled by Shutdown and stops every background run.
	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithSpeech enables the narrate step. Audio is published through store.
func WithSpeech(s speech.Synthesizer, store storage.Storage) Option {
	return func(r *Runner) {
		r.speech = s
		r.artifacts = store
	}
}

// WithRunStore replaces the in-memory run store.
func WithRunStore(s RunStore) Option {
	return func(r *Runner) {
		r.runs = s
	}
}

// WithPromptValidator replaces the validator applied to user prompts
// before a run starts.
func WithPromptValidator(v *job.PromptValidator) Option {
	return func(r *Runner) {
		r.prompts = v
	}
}

// WithNotifier publishes step and run events.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

// NewRunner creates a Runner.
func NewRunner(s Submitter, w Watcher, providers Providers, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		submitter: s,
		watcher:   w,
		providers: providers,
		runs:      NewMemoryRunStore(),
		prompts:   job.NewPromptValidator(job.DefaultBannedTerms),
		logger:    logger.With(slog.String("component", "pipeline")),
	}
	r.base, r.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start validates in, records a pending run and executes it in the
// background. Cancelling ctx does not stop the run; Shutdown does.
func (r *Runner) Start(ctx context.Context, in Input) (*Run, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShutdown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	run, plan, err := r.prepare(ctx, in)
	if err != nil {
		r.wg.Done()
		return nil, err
	}

	snapshot := run.Clone()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopOnShutdown := context.AfterFunc(r.base, cancel)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer stopOnShutdown()
		_, _ = r.execute(runCtx, run, plan)
	}()
	return snapshot, nil
}

// Run executes in synchronously and returns the finished run. A failed
// step is returned as *apperr.PipelineStepError alongside the run.
func (r *Runner) Run(ctx context.Context, in Input) (*Run, error) {
	run, plan, err := r.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, run, plan)
}

// Available returns the kinds whose providers are all configured.
func (r *Runner) Available() []Kind {
	var kinds []Kind
	for _, k := range Kinds() {
		if needProviders(k, r.requirements(k)...) == nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Get returns a run by id.
func (r *Runner) Get(ctx context.Context, runID string) (*Run, error) {
	return r.runs.Get(ctx, runID)
}

// List returns every run, newest first.
func (r *Runner) List(ctx context.Context) ([]*Run, error) {
	return r.runs.List(ctx)
}

// Shutdown refuses new runs, cancels the background ones and waits for
// them to record their failure or ctx to expire. Runs live in memory and
// are not resumed after a restart.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) prepare(ctx context.Context, in Input) (*Run, []stepSpec, error) {
	if in == nil {
		return nil, nil, apperr.NewValidation("kind", "is required")
	}
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	for _, fp := range in.prompts() {
		if _, err := r.prompts.Validate(fp.prompt); err != nil {
			var ve *apperr.ValidationError
			if errors.As(err, &ve) {
				return nil, nil, apperr.NewValidation(fp.field, ve.Reason)
			}
			return nil, nil, err
		}
	}
	plan, err := r.plan(in)
	if err != nil {
		return nil, nil, err
	}

	run := &Run{
		ID:        id.Pipeline(),
		Kind:      in.Kind(),
		Status:    RunPending,
		CreatedAt: time.Now(),
	}
	prev := ""
	for _, sp := range plan {
		run.Steps = append(run.Steps, &Step{
			Name:      sp.name,
			Provider:  sp.provider,
			DependsOn: prev,
			Status:    StepPending,
		})
		prev = sp.name
	}

	if err := r.runs.Save(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("save pipeline run: %w", err)
	}
	return run, plan, nil
}

func (r *Runner) execute(ctx context.Context, run *Run, plan []stepSpec) (*Run, error) {
	log := r.logger.With(slog.String("pipeline_id", run.ID), slog.String("kind", string(run.Kind)))
	log.Info("pipeline started", slog.Int("steps", len(plan)))

	run.Status = RunRunning
	r.save(ctx, run)

	sc := &stepContext{run: run, outputs: make(map[string]string, len(plan))}
	for i, sp := range plan {
		step := run.Steps[i]
		sc.step = step

		step.Status = StepRunning
		step.StartedAt = time.Now()
		r.save(ctx, run)
		r.publishStep(ctx, run, step)

		out, err := sp.exec(ctx, sc)
		step.CompletedAt = time.Now()
		if err == nil && out == "" {
			err = ErrNoOutput
		}
		if err != nil {
			stepErr := &apperr.PipelineStepError{Pipeline: run.ID, Step: step.Name, Err: err}
			step.Status = StepFailed
			step.Error = err.Error()
			for _, s := range run.Steps[i+1:] {
				s.Status = StepSkipped
			}
			run.Status = RunFailed
			run.Error = stepErr.Error()
			run.CompletedAt = step.CompletedAt
			r.save(ctx, run)
			r.publishStep(ctx, run, step)
			r.publish(ctx, notify.Event{
				Type:       notify.EventPipelineFailed,
				PipelineID: run.ID,
				Status:     string(run.Status),
				Message:    run.Error,
			})
			log.Error("pipeline failed",
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			return run.Clone(), stepErr
		}

		step.Status = StepSucceeded
		step.Output = out
		sc.outputs[step.Name] = out
		r.save(ctx, run)
		r.publishStep(ctx, run, step)
		log.Info("pipeline step succeeded", slog.String("step", step.Name), slog.String("output", out))
	}

	run.Status = RunSucceeded
	run.Result = run.Steps[len(run.Steps)-1].Output
	run.CompletedAt = time.Now()
	r.save(ctx, run)
	r.publish(ctx, notify.Event{
		Type:       notify.EventPipelineCompleted,
		PipelineID: run.ID,
		Status:     string(run.Status),
		ResultURL:  run.Result,
	})
	log.Info("pipeline succeeded", slog.String("result", run.Result))
	return run.Clone(), nil
}

func (r *Runner) plan(in Input) ([]stepSpec, error) {
	switch in := in.(type) {
	case TalkingCharacterInput:
		return r.talkingCharacter(in)
	case *TalkingCharacterInput:
		return r.talkingCharacter(*in)
	case ImageToVideoInput:
		return r.imageToVideo(in)
	case *ImageToVideoInput:
		return r.imageToVideo(*in)
	case SceneToVideoInput:
		return r.sceneToVideo(in)
	case *SceneToVideoInput:
		return r.sceneToVideo(*in)
	default:
		return nil, apperr.NewValidation("kind", fmt.Sprintf("unsupported pipeline input %T", in))
	}
}

func (r *Runner) talkingCharacter(in TalkingCharacterInput) ([]stepSpec, error) {
	p := r.providers
	if err := needProviders(KindTalkingCharacter, r.requirements(KindTalkingCharacter)...); err != nil {
		return nil, err
	}
	withScript := !blank(in.Script)
	if withScript && (r.speech == nil || r.artifacts == nil) {
		return nil, fmt.Errorf("%w: %s narration needs speech synthesis", ErrUnavailable, KindTalkingCharacter)
	}

	plan := []stepSpec{
		{name: StepExtractFace, provider: p.Face.Name(), exec: func(ctx context.Context, sc *stepContext) (string, error) {
			return r.generate(ctx, sc, p.Face, job.SubmitInput{
				Prompt:   faceExtractionPrompt,
				ImageURL: in.PhotoURL,
			})
		}},
		{name: StepComposeScene, provider: p.Scene.Name(), exec: func(ctx context.Context, sc *stepContext) (string, error) {
			return r.generate(ctx, sc, p.Scene, job.SubmitInput{
				Prompt:            in.ScenePrompt,
				ReferenceImageURL: sc.outputs[StepExtractFace],
			})
		}},
	}
	if withScript {
		plan = append(plan, stepSpec{name: StepNarrate, provider: "speech", exec: func(ctx context.Context, sc *stepContext) (string, error) {
			return r.narrate(ctx, sc, in.Script, in.VoiceStyle)
		}})
	}
	plan = append(plan, stepSpec{name: StepAnimate, provider: p.Video.Name(), exec: func(ctx context.Context, sc *stepContext) (string, error) {
		return r.generate(ctx, sc, p.Video, job.SubmitInput{
			Prompt:   in.MotionPrompt,
			ImageURL: sc.outputs[StepComposeScene],
			AudioURL: sc.outputs[StepNarrate],
			Duration: in.Duration,
		})
	}})
	return plan, nil
}

func (r *Runner) imageToVideo(in ImageToVideoInput) ([]stepSpec, error) {
	p := r.providers
	if err := needProviders(KindImageToVideo, r.requirements(KindImageToVideo)...); err != nil {
		return nil, err
	}
	return []stepSpec{
		{name: StepEnhanceImage, provider: p.Upscale.Name(), exec: func(ctx context.Context, sc *stepContext) (string, error) {
			return r.generate(ctx, sc, p.Upscale, job.SubmitInput{
				Prompt:   enhancePrompt,
				ImageURL: in.ImageURL,
			})
		}},
		{name: StepAnimate, provider: p.Video.Name(), exec: func(ctx context.Context, sc *stepContext) (string, error) {
			return r.generate(ctx, sc, p.Video, job.SubmitInput{
				Prompt:      in.Prompt,
				ImageURL:    sc.outputs[StepEnhanceImage],
				EndImageURL: in.EndImageURL,
				Duration:    in.Duration,
			})
		}},
	}, nil
}

func (r *Runner) sceneToVideo(in SceneToVideoInput) ([]stepSpec, error) {
	p := r.providers
	if err := needProviders(KindSceneToVideo, r.requirements(KindSceneToVideo)...); err != nil {
		return nil, err
	}
	return []stepSpec{
		{name: StepGenerateScene, provider: p.Scene.Name(), exec: func(ctx context.Context, sc *stepContext) (string, error) {
			return r.generate(ctx, sc, p.Scene, job.SubmitInput{Prompt: in.ScenePrompt})
		}},
		{name: StepAnimate, provider: p.Video.Name(), exec: func(ctx context.Context, sc *stepContext) (string, error) {
			return r.generate(ctx, sc, p.Video, job.SubmitInput{
				Prompt:   in.MotionPrompt,
				ImageURL: sc.outputs[StepGenerateScene],
				Duration: in.Duration,
			})
		}},
	}, nil
}

// generate submits one job, waits for the poller to see it terminal and
// returns its output URL.
func (r *Runner) generate(ctx context.Context, sc *stepContext, p provider.Provider, in job.SubmitInput) (string, error) {
	in.Provider = p
	in.PipelineID = sc.run.ID

	j, err := r.submitter.Submit(ctx, in)
	if err != nil {
		return "", err
	}
	sc.step.JobID = j.ID
	r.save(ctx, sc.run)

	done, err := r.watcher.Watch(j.ID, p).Wait(ctx)
	if err != nil {
		return "", err
	}
	if done.Status == job.StatusFailed {
		return "", &apperr.ProviderError{
			Provider: p.Name(),
			Op:       "generate",
			Message:  done.ErrorMessage,
			Err:      ErrStepJobFailed,
		}
	}
	return done.ResultURL, nil
}

// narrate synthesizes the script and publishes the audio.
func (r *Runner) narrate(ctx context.Context, sc *stepContext, script, voiceStyle string) (string, error) {
	audio, err := r.speech.Synthesize(ctx, script, voiceStyle)
	if err != nil {
		var pe *apperr.ProviderError
		if !errors.As(err, &pe) {
			err = apperr.NewProvider("speech", "synthesize", err)
		}
		return "", err
	}

	key := storage.Key("speech", sc.run.ID, storage.ExtensionFor(audio.ContentType))
	url, err := r.artifacts.Publish(ctx, key, audio.ContentType, bytes.NewReader(audio.Data))
	if err != nil {
		return "", fmt.Errorf("publish narration: %w", err)
	}
	return url, nil
}

// requirements lists the providers a kind's chain runs on. Narration is
// optional and checked when planning.
func (r *Runner) requirements(kind Kind) []provider.Provider {
	p := r.providers
	switch kind {
	case KindTalkingCharacter:
		return []provider.Provider{p.Face, p.Scene, p.Video}
	case KindImageToVideo:
		return []provider.Provider{p.Upscale, p.Video}
	case KindSceneToVideo:
		return []provider.Provider{p.Scene, p.Video}
	default:
		return []provider.Provider{nil}
	}
}

func needProviders(kind Kind, providers ...provider.Provider) error {
	for _, p := range providers {
		if p == nil {
			return fmt.Errorf("%w: %s", ErrUnavailable, kind)
		}
	}
	return nil
}

func (r *Runner) save(ctx context.Context, run *Run) {
	if err := r.runs.Save(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Error("failed to save pipeline run",
			slog.String("pipeline_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Runner) publishStep(ctx context.Context, run *Run, step *Step) {
	r.publish(ctx, notify.Event{
		Type:       notify.EventPipelineStep,
		PipelineID: run.ID,
		JobID:      step.JobID,
		Status:     string(step.Status),
		ResultURL:  step.Output,
		Message:    step.Name,
	})
}

func (r *Runner) publish(ctx context.Context, ev notify.Event) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn("failed to publish pipeline event",
			slog.String("pipeline_id", ev.PipelineID),
			slog.String("error", err.Error()),
		)
	}
}
