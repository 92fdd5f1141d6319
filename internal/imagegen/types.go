// Package imagegen provides an HTTP client for the image model prediction API
// used by multi-step pipelines (face extraction, scene composition, upscaling).
package imagegen

// Status represents the status of a prediction.
type Status string

// Prediction statuses aligned with the image API.
const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Input contains the model input of a prediction.
type Input struct {
	Prompt            string `json:"prompt"`
	ImageURL          string `json:"image_url,omitempty"`
	ReferenceImageURL string `json:"reference_image_url,omitempty"`
}

// predictionRequest represents the request body for POST /predictions.
type predictionRequest struct {
	Model string `json:"model"`
	Input Input  `json:"input"`
}

// predictionResponse represents both the create and the get response.
type predictionResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// PollResult contains the result of polling a prediction.
type PollResult struct {
	Status    Status
	OutputURL string // First output image; only set when Status is StatusSucceeded
	Error     string // Only set when Status is StatusFailed or StatusCanceled
}
