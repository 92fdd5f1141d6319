package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errUpstream = errors.New("upstream exploded")

func TestHTTPStatusAndCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", NewValidation("prompt", "is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"wrapped validation", fmt.Errorf("submit: %w", NewValidation("prompt", "too short")), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", fmt.Errorf("job abc: %w", ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", fmt.Errorf("batch b1 still running: %w", ErrConflict), http.StatusConflict, "CONFLICT"},
		{"provider", NewProvider("video", "submit", errUpstream), http.StatusBadGateway, "PROVIDER_ERROR"},
		{"pipeline step", &PipelineStepError{Pipeline: "p1", Step: "animate", Err: errUpstream}, http.StatusBadGateway, "PIPELINE_STEP_FAILED"},
		{"unknown", errUpstream, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, HTTPStatus(tt.err))
			assert.Equal(t, tt.wantCode, Code(tt.err))
		})
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	err := NewProvider("image", "poll", errUpstream)

	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "image provider poll failed: upstream exploded", err.Error())

	err.Message = "quota exhausted"
	assert.Equal(t, "image provider poll failed: quota exhausted", err.Error())
}

func TestPipelineStepError_KeepsOriginatingMessage(t *testing.T) {
	inner := NewProvider("image", "submit", errUpstream)
	err := &PipelineStepError{Pipeline: "run-1", Step: "extract_face", Err: inner}

	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Contains(t, err.Error(), "extract_face")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestTransientPollError(t *testing.T) {
	err := &TransientPollError{JobID: "abc", Attempt: 2, Err: errUpstream}
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "poll abc (attempt 2): upstream exploded", err.Error())
}
