// Package videoapi provides an HTTP client for the text/image-to-video model API.
package videoapi

// Status represents the status of a video generation job.
type Status string

// Video job statuses as reported by the API.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CreateOptions contains the optional parameters of a create request.
type CreateOptions struct {
	ImageURL    string // Start frame / reference image
	EndImageURL string // End frame image
	AudioURL    string // Driving audio for talking-character animation
	Duration    string // Clip duration in seconds, as a string (e.g. "5")
}

// createRequest represents the request body for POST /create.
type createRequest struct {
	Prompt      string `json:"prompt"`
	ImageURL    string `json:"imageUrl,omitempty"`
	EndImageURL string `json:"endImageUrl,omitempty"`
	AudioURL    string `json:"audioUrl,omitempty"`
	Duration    string `json:"duration,omitempty"`
}

// createResponse represents the response from POST /create.
type createResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// statusResponse represents the response from GET /status.
type statusResponse struct {
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
	Progress *int   `json:"progress,omitempty"`
}

// errorResponse is the body returned with non-2xx statuses.
type errorResponse struct {
	Error string `json:"error"`
}

// PollResult contains the result of polling a job's status.
type PollResult struct {
	Status   Status
	VideoURL string // Only set when Status is StatusCompleted
	Error    string // Only set when Status is StatusFailed
	Progress int    // -1 when the API did not report progress
}
