package batch

import (
	"fmt"
	"strings"
)

// PromptSource expands a theme into clip prompts.
type PromptSource interface {
	Prompts(theme string, n int) []string
}

// defaultShots are the camera treatments ThemePrompts cycles through.
var defaultShots = []string{
	"wide establishing shot at golden hour",
	"close-up with shallow depth of field",
	"slow tracking shot following the subject",
	"aerial drone view sweeping overhead",
	"handheld documentary style",
	"cinematic low angle shot",
	"time-lapse with drifting clouds",
	"soft morning light with a gentle push-in",
}

// ThemePrompts builds deterministic variations of a theme, one camera
// treatment per clip. Past the last treatment it starts over with a take
// number so every prompt stays distinct.
type ThemePrompts struct {
	Shots []string
}

// Prompts returns n prompts for theme.
func (t ThemePrompts) Prompts(theme string, n int) []string {
	theme = strings.TrimSpace(theme)
	shots := t.Shots
	if len(shots) == 0 {
		shots = defaultShots
	}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("%s, %s", theme, shots[i%len(shots)])
		if round := i / len(shots); round > 0 {
			p = fmt.Sprintf("%s (take %d)", p, round+1)
		}
		out = append(out, p)
	}
	return out
}
