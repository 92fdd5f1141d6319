// Package pipeline runs multi-step generation chains: each step's output
// (an image, audio or video URL) feeds the next step. Pipelines come in a
// closed set of kinds, each with a fixed chain.
package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/speech"
)

// Kind names a pipeline chain.
type Kind string

const (
	// KindTalkingCharacter: extract_face -> compose_scene -> [narrate] -> animate.
	KindTalkingCharacter Kind = "talking_character"
	// KindImageToVideo: enhance_image -> animate.
	KindImageToVideo Kind = "image_to_video"
	// KindSceneToVideo: generate_scene -> animate.
	KindSceneToVideo Kind = "scene_to_video"
)

// Kinds lists every pipeline kind.
func Kinds() []Kind {
	return []Kind{KindTalkingCharacter, KindImageToVideo, KindSceneToVideo}
}

// Step names.
const (
	StepExtractFace   = "extract_face"
	StepComposeScene  = "compose_scene"
	StepNarrate       = "narrate"
	StepAnimate       = "animate"
	StepEnhanceImage  = "enhance_image"
	StepGenerateScene = "generate_scene"
)

// Input is the kind-specific input of a pipeline run. It is implemented
// only by the input types of this package.
type Input interface {
	Kind() Kind
	Validate() error
	// prompts returns the user-written prompts keyed by input field.
	prompts() []fieldPrompt
}

type fieldPrompt struct {
	field  string
	prompt string
}

// TalkingCharacterInput animates a person from a photo inside a generated
// scene, optionally speaking a script.
type TalkingCharacterInput struct {
	PhotoURL     string
	ScenePrompt  string
	MotionPrompt string
	Script       string
	VoiceStyle   string
	Duration     string
}

func (TalkingCharacterInput) Kind() Kind { return KindTalkingCharacter }
func (in TalkingCharacterInput) prompts() []fieldPrompt {
	return []fieldPrompt{{"scenePrompt", in.ScenePrompt}, {"motionPrompt", in.MotionPrompt}}
}

// Validate checks required fields.
func (in TalkingCharacterInput) Validate() error {
	switch {
	case blank(in.PhotoURL):
		return apperr.NewValidation("photoUrl", "is required")
	case blank(in.ScenePrompt):
		return apperr.NewValidation("scenePrompt", "is required")
	case blank(in.MotionPrompt):
		return apperr.NewValidation("motionPrompt", "is required")
	}
	if !blank(in.Script) {
		if _, err := speech.CheckText(in.Script); err != nil {
			return apperr.NewValidation("script", fmt.Sprintf("must be at most %d characters", speech.MaxTextLength))
		}
	}
	return nil
}

// ImageToVideoInput enhances an image and animates it.
type ImageToVideoInput struct {
	ImageURL    string
	EndImageURL string
	Prompt      string
	Duration    string
}

func (ImageToVideoInput) Kind() Kind { return KindImageToVideo }
func (in ImageToVideoInput) prompts() []fieldPrompt {
	return []fieldPrompt{{"prompt", in.Prompt}}
}

// Validate checks required fields.
func (in ImageToVideoInput) Validate() error {
	switch {
	case blank(in.ImageURL):
		return apperr.NewValidation("imageUrl", "is required")
	case blank(in.Prompt):
		return apperr.NewValidation("prompt", "is required")
	}
	return nil
}

// SceneToVideoInput generates a still scene from text and animates it.
type SceneToVideoInput struct {
	ScenePrompt  string
	MotionPrompt string
	Duration     string
}

func (SceneToVideoInput) Kind() Kind { return KindSceneToVideo }
func (in SceneToVideoInput) prompts() []fieldPrompt {
	return []fieldPrompt{{"scenePrompt", in.ScenePrompt}, {"motionPrompt", in.MotionPrompt}}
}

// Validate checks required fields.
func (in SceneToVideoInput) Validate() error {
	switch {
	case blank(in.ScenePrompt):
		return apperr.NewValidation("scenePrompt", "is required")
	case blank(in.MotionPrompt):
		return apperr.NewValidation("motionPrompt", "is required")
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// RunStatus is the state of a pipeline run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StepStatus is the state of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step is one link of a run's chain.
type Step struct {
	Name string `json:"name"`
	// Provider is the provider (and model) the step runs on.
	Provider    string     `json:"provider"`
	DependsOn   string     `json:"dependsOn,omitempty"`
	Status      StepStatus `json:"status"`
	JobID       string     `json:"jobId,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt,omitempty"`
	CompletedAt time.Time  `json:"completedAt,omitempty"`
}

// Run is one execution of a pipeline.
type Run struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Status      RunStatus `json:"status"`
	Steps       []*Step   `json:"steps"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// Step returns the step called name, or nil.
func (r *Run) Step(name string) *Step {
	for _, s := range r.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	c := *r
	c.Steps = make([]*Step, len(r.Steps))
	for i, s := range r.Steps {
		sc := *s
		c.Steps[i] = &sc
	}
	return &c
}
