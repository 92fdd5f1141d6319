// Package server provides the HTTP API of the video generation service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/videoforge-api/internal/notify"
	"github.com/maauso/videoforge-api/internal/pipeline"
	"github.com/maauso/videoforge-api/internal/poller"
)

// CreateVideoRequest is the HTTP request body for submitting a video job.
type CreateVideoRequest struct {
	// Prompt describes the video. Length and content rules are enforced by the submitter.
	Prompt string `json:"prompt" validate:"required"`
	// ImageURL is an optional start frame.
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
	// EndImageURL is an optional end frame.
	EndImageURL string `json:"endImageUrl" validate:"omitempty,url"`
	// Duration is the clip length in seconds.
	Duration string `json:"duration" validate:"omitempty,numeric"`
}

// CreateVideoResponse is the HTTP response after submitting a job.
type CreateVideoResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// VideoResponse is the HTTP response for a job record.
type VideoResponse struct {
	ID          string       `json:"id"`
	Kind        string       `json:"kind"`
	Provider    string       `json:"provider"`
	Prompt      string       `json:"prompt"`
	Status      string       `json:"status"`
	Progress    int          `json:"progress"`
	ResultURL   string       `json:"resultUrl,omitempty"`
	Error       string       `json:"error,omitempty"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	EndImageURL string       `json:"endImageUrl,omitempty"`
	Duration    string       `json:"duration,omitempty"`
	BatchID     string       `json:"batchId,omitempty"`
	PipelineID  string       `json:"pipelineId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	Polling     *poller.Info `json:"polling,omitempty"`
}

// ListVideosResponse is the HTTP response for a ledger query.
type ListVideosResponse struct {
	Videos []VideoResponse `json:"videos"`
	Count  int             `json:"count"`
}

// CancelResponse reports whether local polling was stopped.
type CancelResponse struct {
	ID       string `json:"id"`
	Canceled bool   `json:"canceled"`
}

// CreateBatchRequest is the HTTP request body for starting a batch run.
type CreateBatchRequest struct {
	Theme       string   `json:"theme" validate:"required_without=Prompts,max=200"`
	TargetCount int      `json:"targetCount" validate:"omitempty,min=1,max=100"`
	Prompts     []string `json:"prompts" validate:"omitempty,max=100,dive,required"`
	ImageURL    string   `json:"imageUrl" validate:"omitempty,url"`
	Duration    string   `json:"duration" validate:"omitempty,numeric"`
}

// AssembleResponse is the HTTP response after assembling a batch.
type AssembleResponse struct {
	BatchID string `json:"batchId"`
	URL     string `json:"url"`
}

// CreatePipelineRequest is the HTTP request body for starting a pipeline.
// Kind selects which of the other fields are used.
type CreatePipelineRequest struct {
	Kind string `json:"kind" validate:"required,oneof=talking_character image_to_video scene_to_video"`

	PhotoURL     string `json:"photoUrl" validate:"omitempty,url"`
	ScenePrompt  string `json:"scenePrompt" validate:"omitempty,max=500"`
	MotionPrompt string `json:"motionPrompt" validate:"omitempty,max=500"`
	Script       string `json:"script" validate:"omitempty,max=4096"`
	VoiceStyle   string `json:"voiceStyle" validate:"omitempty,max=32"`

	ImageURL    string `json:"imageUrl" validate:"omitempty,url"`
	EndImageURL string `json:"endImageUrl" validate:"omitempty,url"`
	Prompt      string `json:"prompt" validate:"omitempty,max=500"`

	Duration string `json:"duration" validate:"omitempty,numeric"`
}

// Input converts the request into the pipeline input for its kind.
func (r CreatePipelineRequest) Input() pipeline.Input {
	switch pipeline.Kind(r.Kind) {
	case pipeline.KindTalkingCharacter:
		return pipeline.TalkingCharacterInput{
			PhotoURL:     r.PhotoURL,
			ScenePrompt:  r.ScenePrompt,
			MotionPrompt: r.MotionPrompt,
			Script:       r.Script,
			VoiceStyle:   r.VoiceStyle,
			Duration:     r.Duration,
		}
	case pipeline.KindImageToVideo:
		return pipeline.ImageToVideoInput{
			ImageURL:    r.ImageURL,
			EndImageURL: r.EndImageURL,
			Prompt:      r.Prompt,
			Duration:    r.Duration,
		}
	case pipeline.KindSceneToVideo:
		return pipeline.SceneToVideoInput{
			ScenePrompt:  r.ScenePrompt,
			MotionPrompt: r.MotionPrompt,
			Duration:     r.Duration,
		}
	default:
		return nil
	}
}

// SpeechRequest is the HTTP request body for speech synthesis.
type SpeechRequest struct {
	Text       string `json:"text" validate:"required"`
	VoiceStyle string `json:"voiceStyle" validate:"omitempty,max=32"`
}

// EventsResponse is the HTTP response for incremental event reads.
type EventsResponse struct {
	Events  []notify.Event `json:"events"`
	LastSeq int64          `json:"lastSeq"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// RateLimitResponse is returned with 429 Too Many Requests.
type RateLimitResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// ResetTime is when the client's window resets (RFC 3339).
	ResetTime string `json:"resetTime"`
	// RetryAfter is the number of seconds until ResetTime.
	RetryAfter int `json:"retryAfter"`
}

// RateLimitStatusResponse reports the caller's current window without
// counting a request.
type RateLimitStatusResponse struct {
	Client        string `json:"client"`
	Limit         int64  `json:"limit"`
	Remaining     int64  `json:"remaining"`
	WindowSeconds int    `json:"windowSeconds"`
	// ResetTime is empty when the client has no live window.
	ResetTime string `json:"resetTime,omitempty"`
}

// CapabilitiesResponse lists what this deployment can generate.
type CapabilitiesResponse struct {
	Pipelines   []pipeline.Kind `json:"pipelines"`
	Providers   []string        `json:"providers"`
	Speech      bool            `json:"speech"`
	VoiceStyles []string        `json:"voiceStyles,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Polling is the number of jobs currently being polled.
	Polling int `json:"polling"`
}
