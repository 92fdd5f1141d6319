// Package speech provides a client for the text-to-speech service and the
// lookup table that maps user-facing voice styles to provider voices.
package speech

import (
	"slices"
	"strings"
)

// DefaultVoice is used when a style is empty or unknown.
const DefaultVoice = "alloy"

// voiceStyles maps a user-facing voice style to a provider voice id.
var voiceStyles = map[string]string{
	"neutral":   "alloy",
	"warm":      "nova",
	"calm":      "shimmer",
	"deep":      "onyx",
	"narrator":  "fable",
	"energetic": "echo",
}

// ResolveVoice returns the provider voice for a style, falling back to
// DefaultVoice.
func ResolveVoice(style string) string {
	if v, ok := voiceStyles[strings.ToLower(strings.TrimSpace(style))]; ok {
		return v
	}
	return DefaultVoice
}

// Styles returns the known voice styles, sorted.
func Styles() []string {
	out := make([]string, 0, len(voiceStyles))
	for s := range voiceStyles {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
