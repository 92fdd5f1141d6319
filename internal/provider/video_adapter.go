package provider

import (
	"context"
	"errors"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/videoapi"
)

// VideoProviderName is the name stored on jobs owned by the video model API.
const VideoProviderName = "video"

// VideoAdapter adapts the video API client to the Provider interface.
type VideoAdapter struct {
	client videoapi.Client
}

// Compile-time check that VideoAdapter implements Provider.
var _ Provider = (*VideoAdapter)(nil)

// NewVideoAdapter creates a new video provider adapter.
func NewVideoAdapter(client videoapi.Client) *VideoAdapter {
	return &VideoAdapter{client: client}
}

// Name returns VideoProviderName.
func (a *VideoAdapter) Name() string { return VideoProviderName }

// Kind returns KindVideo.
func (a *VideoAdapter) Kind() Kind { return KindVideo }

// Submit sends a generation job to the video API.
func (a *VideoAdapter) Submit(ctx context.Context, req Request) (string, error) {
	jobID, err := a.client.Create(ctx, req.Prompt, videoapi.CreateOptions{
		ImageURL:    req.ImageURL,
		EndImageURL: req.EndImageURL,
		AudioURL:    req.AudioURL,
		Duration:    req.Duration,
	})
	if err != nil {
		return "", apperr.NewProvider(VideoProviderName, "submit", err)
	}
	return JobID(KindVideo, jobID), nil
}

// Poll checks the status of a video job.
func (a *VideoAdapter) Poll(ctx context.Context, jobID string) (Result, error) {
	result, err := a.client.Status(ctx, RemoteID(KindVideo, jobID))
	if err != nil {
		permanent := errors.Is(err, videoapi.ErrRequestFailed) || errors.Is(err, videoapi.ErrMalformedResponse)
		return Result{}, pollError(VideoProviderName, err, permanent)
	}

	var status Status
	switch result.Status {
	case videoapi.StatusQueued:
		status = StatusQueued
	case videoapi.StatusCompleted:
		status = StatusCompleted
	case videoapi.StatusFailed:
		status = StatusFailed
	default:
		status = StatusProcessing
	}

	return Result{
		Status:    status,
		OutputURL: result.VideoURL,
		Error:     result.Error,
		Progress:  result.Progress,
	}, nil
}
