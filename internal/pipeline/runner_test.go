package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/notify"
	"github.com/maauso/videoforge-api/internal/poller"
	"github.com/maauso/videoforge-api/internal/provider"
	"github.com/maauso/videoforge-api/internal/speech"
)

var errUpstream = errors.New("upstream unavailable")

// stubProvider completes every job with output, unless failMsg or submitErr is set.
type stubProvider struct {
	name      string
	kind      provider.Kind
	output    string
	failMsg   string
	submitErr error
	// pending keeps every job processing.
	pending bool

	mu       sync.Mutex
	requests []provider.Request
}

func (s *stubProvider) Name() string        { return s.name }
func (s *stubProvider) Kind() provider.Kind { return s.kind }

func (s *stubProvider) Submit(_ context.Context, req provider.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.submitErr != nil {
		return "", apperr.NewProvider(s.name, "submit", s.submitErr)
	}
	return fmt.Sprintf("%s-%d", s.name, len(s.requests)), nil
}

func (s *stubProvider) Poll(context.Context, string) (provider.Result, error) {
	if s.pending {
		return provider.Result{Status: provider.StatusProcessing, Progress: 10}, nil
	}
	if s.failMsg != "" {
		return provider.Result{Status: provider.StatusFailed, Error: s.failMsg, Progress: -1}, nil
	}
	return provider.Result{Status: provider.StatusCompleted, OutputURL: s.output, Progress: -1}, nil
}

func (s *stubProvider) calls() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Request(nil), s.requests...)
}

type stubSpeech struct {
	err   error
	texts []string
}

func (s *stubSpeech) Synthesize(_ context.Context, text, voiceStyle string) (*speech.Audio, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.texts = append(s.texts, text)
	return &speech.Audio{Data: []byte("ID3audio"), ContentType: "audio/mpeg", Voice: speech.ResolveVoice(voiceStyle)}, nil
}

type stubStorage struct {
	key  string
	body string
}

func (s *stubStorage) SaveTemp(context.Context, string, io.Reader) (string, error) { return "", nil }
func (s *stubStorage) LoadTemp(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}
func (s *stubStorage) CleanupTemp(context.Context, []string) error { return nil }
func (s *stubStorage) Download(context.Context, string, string) (string, error) {
	return "", nil
}

func (s *stubStorage) Publish(_ context.Context, key, _ string, data io.Reader) (string, error) {
	b, _ := io.ReadAll(data)
	s.key, s.body = key, string(b)
	return "https://files.example.com/" + key, nil
}

type fixture struct {
	repo    *job.MemoryRepository
	face    *stubProvider
	scene   *stubProvider
	upscale *stubProvider
	video   *stubProvider
	speech  *stubSpeech
	store   *stubStorage
	bus     *notify.EventBus
	runner  *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    job.NewMemoryRepository(),
		face:    &stubProvider{name: "image:face", kind: provider.KindImage, output: "https://img.example.com/face.png"},
		scene:   &stubProvider{name: "image:scene", kind: provider.KindImage, output: "https://img.example.com/scene.png"},
		upscale: &stubProvider{name: "image:upscale", kind: provider.KindImage, output: "https://img.example.com/sharp.png"},
		video:   &stubProvider{name: "video", kind: provider.KindVideo, output: "https://cdn.example.com/final.mp4"},
		speech:  &stubSpeech{},
		store:   &stubStorage{},
		bus:     notify.NewEventBus(100),
	}

	p := poller.New(f.repo, nil, poller.WithInterval(5*time.Millisecond))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	svc := job.NewSubmitService(f.repo, f.video, nil, job.WithAutoWatch(p))
	f.runner = NewRunner(svc, p, Providers{
		Face:    f.face,
		Scene:   f.scene,
		Upscale: f.upscale,
		Video:   f.video,
	}, nil, WithSpeech(f.speech, f.store), WithNotifier(f.bus))
	return f
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func stepStatuses(run *Run) []StepStatus {
	out := make([]StepStatus, len(run.Steps))
	for i, s := range run.Steps {
		out[i] = s.Status
	}
	return out
}

func TestRunner_TalkingCharacter_FeedsOutputsForward(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	run, err := f.runner.Run(ctx, TalkingCharacterInput{
		PhotoURL:     "https://img.example.com/me.jpg",
		ScenePrompt:  "a cosy library with warm lamps",
		MotionPrompt: "the character looks up and starts talking",
		Script:       "Welcome to my library.",
		VoiceStyle:   "warm",
		Duration:     "5",
	})
	require.NoError(t, err)

	assert.Equal(t, RunSucceeded, run.Status)
	assert.Equal(t, "https://cdn.example.com/final.mp4", run.Result)
	assert.False(t, run.CompletedAt.IsZero())

	names := make([]string, len(run.Steps))
	for i, s := range run.Steps {
		names[i] = s.Name
	}
	assert.Equal(t, []string{StepExtractFace, StepComposeScene, StepNarrate, StepAnimate}, names)
	assert.Equal(t, []StepStatus{StepSucceeded, StepSucceeded, StepSucceeded, StepSucceeded}, stepStatuses(run))
	assert.Equal(t, StepExtractFace, run.Step(StepComposeScene).DependsOn)
	assert.Equal(t, "image:face", run.Step(StepExtractFace).Provider)

	faceReq := f.face.calls()
	require.Len(t, faceReq, 1)
	assert.Equal(t, "https://img.example.com/me.jpg", faceReq[0].ImageURL)

	sceneReq := f.scene.calls()
	require.Len(t, sceneReq, 1)
	assert.Equal(t, "a cosy library with warm lamps", sceneReq[0].Prompt)
	assert.Equal(t, "https://img.example.com/face.png", sceneReq[0].ReferenceImageURL)

	assert.Equal(t, []string{"Welcome to my library."}, f.speech.texts)
	assert.Equal(t, "speech/"+run.ID+".mp3", f.store.key)
	assert.Equal(t, "ID3audio", f.store.body)

	videoReq := f.video.calls()
	require.Len(t, videoReq, 1)
	assert.Equal(t, "https://img.example.com/scene.png", videoReq[0].ImageURL)
	assert.Equal(t, "https://files.example.com/speech/"+run.ID+".mp3", videoReq[0].AudioURL)
	assert.Equal(t, "5", videoReq[0].Duration)

	jobs, err := f.repo.Query(ctx, job.Filter{PipelineID: run.ID})
	require.NoError(t, err)
	assert.Len(t, jobs, 3, "face, scene and animate jobs are in the ledger")
	for _, j := range jobs {
		assert.Equal(t, job.StatusCompleted, j.Status)
	}

	stored, err := f.runner.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, stored.Status)
	assert.NotEmpty(t, stored.Step(StepAnimate).JobID)
}

func TestRunner_TalkingCharacter_WithoutScriptSkipsNarration(t *testing.T) {
	f := newFixture(t)

	run, err := f.runner.Run(testContext(t), TalkingCharacterInput{
		PhotoURL:     "https://img.example.com/me.jpg",
		ScenePrompt:  "a rooftop garden at dusk",
		MotionPrompt: "the character turns toward the camera",
	})
	require.NoError(t, err)

	assert.Len(t, run.Steps, 3)
	assert.Nil(t, run.Step(StepNarrate))
	assert.Empty(t, f.speech.texts)
	assert.Empty(t, f.video.calls()[0].AudioURL)
}

func TestRunner_StepFailure_DownstreamNeverInvoked(t *testing.T) {
	f := newFixture(t)
	f.face.submitErr = errUpstream

	run, err := f.runner.Run(testContext(t), TalkingCharacterInput{
		PhotoURL:     "https://img.example.com/me.jpg",
		ScenePrompt:  "a cosy library with warm lamps",
		MotionPrompt: "the character looks up and starts talking",
		Script:       "Hello there.",
	})
	require.Error(t, err)

	var stepErr *apperr.PipelineStepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepExtractFace, stepErr.Step)
	assert.ErrorIs(t, err, errUpstream)

	assert.Equal(t, RunFailed, run.Status)
	assert.Contains(t, run.Error, "upstream unavailable")
	assert.Equal(t, []StepStatus{StepFailed, StepSkipped, StepSkipped, StepSkipped}, stepStatuses(run))

	assert.Empty(t, f.scene.calls())
	assert.Empty(t, f.speech.texts)
	assert.Empty(t, f.video.calls())
}

func TestRunner_FailedJob_CarriesProviderMessage(t *testing.T) {
	f := newFixture(t)
	f.scene.failMsg = "content policy violation"

	run, err := f.runner.Run(testContext(t), SceneToVideoInput{
		ScenePrompt:  "a neon city street in the rain",
		MotionPrompt: "the camera glides along the street",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepJobFailed)

	var pe *apperr.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "image:scene", pe.Provider)

	assert.Equal(t, []StepStatus{StepFailed, StepSkipped}, stepStatuses(run))
	assert.Contains(t, run.Error, "content policy violation")
	assert.Contains(t, run.Step(StepGenerateScene).Error, "content policy violation")
	assert.Empty(t, f.video.calls())
}

func TestRunner_SpeechFailure(t *testing.T) {
	f := newFixture(t)
	f.speech.err = speech.ErrServerError

	run, err := f.runner.Run(testContext(t), TalkingCharacterInput{
		PhotoURL:     "https://img.example.com/me.jpg",
		ScenePrompt:  "a cosy library with warm lamps",
		MotionPrompt: "the character looks up and starts talking",
		Script:       "Hello there.",
	})
	require.Error(t, err)

	var pe *apperr.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "speech", pe.Provider)
	assert.Equal(t, []StepStatus{StepSucceeded, StepSucceeded, StepFailed, StepSkipped}, stepStatuses(run))
	assert.Empty(t, f.video.calls())
}

func TestRunner_ImageToVideo(t *testing.T) {
	f := newFixture(t)

	run, err := f.runner.Run(testContext(t), ImageToVideoInput{
		ImageURL:    "https://img.example.com/raw.png",
		EndImageURL: "https://img.example.com/end.png",
		Prompt:      "the flowers slowly open in the sunlight",
		Duration:    "8",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/final.mp4", run.Result)

	up := f.upscale.calls()
	require.Len(t, up, 1)
	assert.Equal(t, "https://img.example.com/raw.png", up[0].ImageURL)

	vid := f.video.calls()
	require.Len(t, vid, 1)
	assert.Equal(t, "https://img.example.com/sharp.png", vid[0].ImageURL)
	assert.Equal(t, "https://img.example.com/end.png", vid[0].EndImageURL)
	assert.Equal(t, "8", vid[0].Duration)
}

func TestRunner_Start_RunsInBackground(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	run, err := f.runner.Start(ctx, SceneToVideoInput{
		ScenePrompt:  "a misty pine forest at dawn",
		MotionPrompt: "slow dolly shot between the trees",
	})
	require.NoError(t, err)
	assert.Equal(t, RunPending, run.Status)
	assert.Equal(t, StepGenerateScene, run.Steps[0].Name)

	// The run outlives the request context.
	cancel()

	require.Eventually(t, func() bool {
		got, err := f.runner.Get(context.Background(), run.ID)
		return err == nil && got.Status == RunSucceeded
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, f.runner.Shutdown(testContext(t)))

	var types []notify.EventType
	for _, ev := range f.bus.Since(0) {
		if ev.PipelineID == run.ID {
			types = append(types, ev.Type)
		}
	}
	assert.Contains(t, types, notify.EventPipelineStep)
	assert.Equal(t, notify.EventPipelineCompleted, types[len(types)-1])

	_, err = f.runner.Start(context.Background(), SceneToVideoInput{ScenePrompt: "x", MotionPrompt: "y"})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestRunner_Shutdown_CancelsInFlightRuns(t *testing.T) {
	f := newFixture(t)
	f.video.pending = true

	run, err := f.runner.Start(context.Background(), SceneToVideoInput{
		ScenePrompt:  "a misty pine forest at dawn",
		MotionPrompt: "slow dolly shot between the trees",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.runner.Get(context.Background(), run.ID)
		return err == nil && got.Steps[1].Status == StepRunning && got.Steps[1].JobID != ""
	}, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	started := time.Now()
	require.NoError(t, f.runner.Shutdown(ctx))
	assert.Less(t, time.Since(started), time.Second)

	got, err := f.runner.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, StepFailed, got.Steps[1].Status)
	assert.Contains(t, got.Error, context.Canceled.Error())
}

func TestRunner_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{"nil input", nil, "kind"},
		{"talking character without photo", TalkingCharacterInput{ScenePrompt: "a", MotionPrompt: "b"}, "photoUrl"},
		{"image to video without prompt", ImageToVideoInput{ImageURL: "https://x/y.png"}, "prompt"},
		{"scene to video without motion", &SceneToVideoInput{ScenePrompt: "a forest"}, "motionPrompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.runner.Start(ctx, tt.in)
			var ve *apperr.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestRunner_RejectsBadPromptsBeforeAnyStep(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{"short motion prompt", SceneToVideoInput{ScenePrompt: "a misty pine forest at dawn", MotionPrompt: "zoom in"}, "motionPrompt"},
		{"banned scene prompt", TalkingCharacterInput{
			PhotoURL:     "https://img.example.com/me.jpg",
			ScenePrompt:  "a nude figure in a studio",
			MotionPrompt: "the character looks up and starts talking",
		}, "scenePrompt"},
		{"oversized script", TalkingCharacterInput{
			PhotoURL:     "https://img.example.com/me.jpg",
			ScenePrompt:  "a cosy library with warm lamps",
			MotionPrompt: "the character looks up and starts talking",
			Script:       strings.Repeat("é", speech.MaxTextLength+1),
		}, "script"},
		{"short image prompt", ImageToVideoInput{ImageURL: "https://img.example.com/raw.png", Prompt: "waves"}, "prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := testContext(t)

			_, err := f.runner.Start(ctx, tt.in)
			var ve *apperr.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)

			_, err = f.runner.Run(ctx, tt.in)
			require.True(t, errors.As(err, &ve), "got %v", err)

			for _, p := range []*stubProvider{f.face, f.scene, f.upscale, f.video} {
				assert.Empty(t, p.calls(), p.name)
			}
			assert.Empty(t, f.speech.texts)
			runs, err := f.runner.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestRunner_WithPromptValidator(t *testing.T) {
	f := newFixture(t)
	WithPromptValidator(job.NewPromptValidator([]string{"forest"}))(f.runner)

	_, err := f.runner.Run(testContext(t), SceneToVideoInput{
		ScenePrompt:  "a misty pine forest at dawn",
		MotionPrompt: "slow dolly shot between the trees",
	})
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "scenePrompt", ve.Field)
	assert.Contains(t, ve.Reason, "forest")
	assert.Empty(t, f.scene.calls())
}

func TestRunner_UnavailableKind(t *testing.T) {
	repo := job.NewMemoryRepository()
	p := poller.New(repo, nil)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	video := &stubProvider{name: "video", kind: provider.KindVideo}
	runner := NewRunner(job.NewSubmitService(repo, video, nil), p, Providers{Video: video}, nil)
	assert.Empty(t, runner.Available())

	_, err := runner.Run(context.Background(), ImageToVideoInput{ImageURL: "https://x/y.png", Prompt: "gentle waves on the shore"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = runner.Get(context.Background(), "pipe-missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRunner_Available(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, Kinds(), f.runner.Available())

	sceneOnly := NewRunner(nil, nil, Providers{Scene: f.scene, Video: f.video}, nil)
	assert.Equal(t, []Kind{KindSceneToVideo}, sceneOnly.Available())
}

func TestMemoryRunStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRunStore()
	run := &Run{ID: "pipe-1", Status: RunRunning, Steps: []*Step{{Name: StepAnimate, Status: StepRunning}}, CreatedAt: time.Now()}
	require.NoError(t, s.Save(ctx, run))

	run.Steps[0].Status = StepFailed
	got, err := s.Get(ctx, "pipe-1")
	require.NoError(t, err)
	assert.Equal(t, StepRunning, got.Steps[0].Status)

	got.Status = RunFailed
	again, _ := s.Get(ctx, "pipe-1")
	assert.Equal(t, RunRunning, again.Status)

	require.NoError(t, s.Save(ctx, &Run{ID: "pipe-2", CreatedAt: time.Now().Add(time.Second)}))
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pipe-2", list[0].ID)
}
