package job

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/maauso/videoforge-api/internal/apperr"
)

// Prompt length bounds in runes, measured after trimming whitespace.
const (
	MinPromptLength = 10
	MaxPromptLength = 500
)

// DefaultBannedTerms is the built-in list of disallowed prompt terms.
var DefaultBannedTerms = []string{
	"nude",
	"naked",
	"nsfw",
	"porn",
	"gore",
	"beheading",
	"child abuse",
	"terrorist attack",
}

// PromptValidator checks prompts locally before any provider call.
type PromptValidator struct {
	banned *regexp.Regexp
}

// NewPromptValidator builds a validator rejecting the given terms
// (case-insensitive, whole words). An empty list disables term checks.
func NewPromptValidator(bannedTerms []string) *PromptValidator {
	quoted := make([]string, 0, len(bannedTerms))
	for _, term := range bannedTerms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(term)))
	}

	v := &PromptValidator{}
	if len(quoted) > 0 {
		v.banned = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	return v
}

// Validate returns the trimmed prompt or a *apperr.ValidationError.
func (v *PromptValidator) Validate(prompt string) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	n := utf8.RuneCountInString(trimmed)

	switch {
	case n == 0:
		return "", apperr.NewValidation("prompt", "is required")
	case n < MinPromptLength:
		return "", apperr.NewValidation("prompt", "must be at least 10 characters")
	case n > MaxPromptLength:
		return "", apperr.NewValidation("prompt", "must be at most 500 characters")
	}

	if v.banned != nil {
		if term := v.banned.FindString(trimmed); term != "" {
			return "", apperr.NewValidation("prompt", "contains disallowed term \""+strings.ToLower(term)+"\"")
		}
	}

	return trimmed, nil
}
