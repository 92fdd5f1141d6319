package provider

import (
	"context"
	"errors"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/imagegen"
)

// ImageAdapter adapts the image prediction client to the Provider interface.
// One adapter is bound to one model; its name is "image:<model>".
type ImageAdapter struct {
	client imagegen.Client
	model  string
}

// Compile-time check that ImageAdapter implements Provider.
var _ Provider = (*ImageAdapter)(nil)

// NewImageAdapter creates a new image provider adapter for model.
func NewImageAdapter(client imagegen.Client, model string) *ImageAdapter {
	return &ImageAdapter{client: client, model: model}
}

// Name returns "image:<model>".
func (a *ImageAdapter) Name() string { return "image:" + a.model }

// Kind returns KindImage.
func (a *ImageAdapter) Kind() Kind { return KindImage }

// Model returns the model the adapter submits to.
func (a *ImageAdapter) Model() string { return a.model }

// Submit starts a prediction.
func (a *ImageAdapter) Submit(ctx context.Context, req Request) (string, error) {
	id, err := a.client.Create(ctx, a.model, imagegen.Input{
		Prompt:            req.Prompt,
		ImageURL:          req.ImageURL,
		ReferenceImageURL: req.ReferenceImageURL,
	})
	if err != nil {
		return "", apperr.NewProvider(a.Name(), "submit", err)
	}
	return JobID(KindImage, id), nil
}

// Poll checks the status of a prediction.
func (a *ImageAdapter) Poll(ctx context.Context, jobID string) (Result, error) {
	result, err := a.client.Get(ctx, RemoteID(KindImage, jobID))
	if err != nil {
		permanent := errors.Is(err, imagegen.ErrRequestFailed) || errors.Is(err, imagegen.ErrMalformedResponse)
		return Result{}, pollError(a.Name(), err, permanent)
	}

	var status Status
	switch result.Status {
	case imagegen.StatusStarting:
		status = StatusQueued
	case imagegen.StatusSucceeded:
		status = StatusCompleted
	case imagegen.StatusFailed, imagegen.StatusCanceled:
		status = StatusFailed
	default:
		status = StatusProcessing
	}

	return Result{
		Status:    status,
		OutputURL: result.OutputURL,
		Error:     result.Error,
		Progress:  -1,
	}, nil
}
