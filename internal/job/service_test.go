package job

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/provider"
)

type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Name() string       { return m.name }
func (m *mockProvider) Kind() provider.Kind { return provider.KindVideo }

func (m *mockProvider) Submit(ctx context.Context, req provider.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) Poll(ctx context.Context, jobID string) (provider.Result, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(provider.Result), args.Error(1)
}

type mockWatcher struct {
	mock.Mock
}

func (m *mockWatcher) Track(jobID string, p provider.Provider) {
	m.Called(jobID, p)
}

func (m *mockWatcher) Cancel(jobID string) bool {
	return m.Called(jobID).Bool(0)
}

func TestSubmitService_Submit_Success(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := &mockProvider{name: "video"}
	w := &mockWatcher{}
	svc := NewSubmitService(repo, p, nil, WithAutoWatch(w))

	p.On("Submit", ctx, provider.Request{
		Prompt:   "a cat surfing a wave",
		ImageURL: "https://img/a.png",
		Duration: "5",
	}).Return("abc123", nil)
	w.On("Track", "abc123", mock.Anything).Return()

	job, err := svc.Submit(ctx, SubmitInput{
		Prompt:   "  a cat surfing a wave ",
		ImageURL: "https://img/a.png",
		Duration: "5",
		BatchID:  "batch-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, "a cat surfing a wave", job.Prompt)

	stored, err := repo.FindByID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, stored.Status)
	assert.Equal(t, "batch-1", stored.BatchID)
	assert.Equal(t, "video", stored.Provider)

	p.AssertExpectations(t)
	w.AssertExpectations(t)
}

func TestSubmitService_Submit_InvalidPromptMakesNoNetworkCall(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
	}{
		{"empty", ""},
		{"too short", "cat"},
		{"banned", "a gore filled battlefield"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			p := &mockProvider{name: "video"}
			svc := NewSubmitService(repo, p, nil)

			_, err := svc.Submit(context.Background(), SubmitInput{Prompt: tt.prompt})

			var ve *apperr.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			p.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)

			jobs, _ := repo.Query(context.Background(), Filter{})
			assert.Empty(t, jobs)
		})
	}
}

func TestSubmitService_Submit_ProviderError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := &mockProvider{name: "video"}
	svc := NewSubmitService(repo, p, nil)

	p.On("Submit", ctx, mock.Anything).Return("", errors.New("status 500"))

	_, err := svc.Submit(ctx, SubmitInput{Prompt: "a cat surfing a wave"})

	var pe *apperr.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "video", pe.Provider)
	assert.Equal(t, "submit", pe.Op)

	jobs, _ := repo.Query(ctx, Filter{})
	assert.Empty(t, jobs)
}

func TestSubmitService_Submit_EmptyID(t *testing.T) {
	ctx := context.Background()
	p := &mockProvider{name: "video"}
	svc := NewSubmitService(NewMemoryRepository(), p, nil)

	p.On("Submit", ctx, mock.Anything).Return("", nil)

	_, err := svc.Submit(ctx, SubmitInput{Prompt: "a cat surfing a wave"})
	var pe *apperr.ProviderError
	assert.True(t, errors.As(err, &pe))
}

func TestSubmitService_Submit_ProviderOverride(t *testing.T) {
	ctx := context.Background()
	def := &mockProvider{name: "video"}
	face := &mockProvider{name: "image:face"}
	svc := NewSubmitService(NewMemoryRepository(), def, nil)

	face.On("Submit", ctx, mock.Anything).Return("pred-1", nil)

	job, err := svc.Submit(ctx, SubmitInput{
		Prompt:     "extract the main face",
		PipelineID: "pipe-1",
		Provider:   face,
	})
	require.NoError(t, err)
	assert.Equal(t, "image:face", job.Provider)
	assert.Equal(t, "pipe-1", job.PipelineID)
	def.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestSubmitService_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	w := &mockWatcher{}
	svc := NewSubmitService(repo, &mockProvider{name: "video"}, nil, WithAutoWatch(w))
	require.NoError(t, repo.Insert(ctx, New("abc123", "video", KindVideo, "a cat surfing a wave")))

	w.On("Cancel", "abc123").Return(true)

	require.NoError(t, svc.Delete(ctx, "abc123"))
	_, err := svc.Get(ctx, "abc123")
	assert.ErrorIs(t, err, ErrJobNotFound)
	w.AssertExpectations(t)

	w.On("Cancel", "missing").Return(false)
	assert.ErrorIs(t, svc.Delete(ctx, "missing"), ErrJobNotFound)
}

func TestSubmitService_List(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := NewSubmitService(repo, &mockProvider{name: "video"}, nil)

	a := New("a", "video", KindVideo, "a cat surfing a wave")
	a.BatchID = "b1"
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, New("b", "video", KindVideo, "a dog surfing a wave")))

	jobs, err := svc.List(ctx, Filter{BatchID: "b1"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].ID)
}
