package template

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxNameLength    = 100
	MaxSubjectLength = 200
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// iconPolicy strips all markup; icons are plain identifiers
var iconPolicy = bluemonday.StrictPolicy()

// ValidationError is a user-correctable problem found before saving
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PersistenceError wraps a failed store operation. Callers keep their
// local state and may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s template: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Validate checks a template before it is persisted
func Validate(t *Template) error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", MaxNameLength)}
	}

	if utf8.RuneCountInString(t.SubjectText()) > MaxSubjectLength {
		return &ValidationError{Field: "subject", Message: fmt.Sprintf("must be at most %d characters", MaxSubjectLength)}
	}

	if strings.TrimSpace(t.Body) == "" {
		return &ValidationError{Field: "body_template", Message: "is required"}
	}

	seen := make(map[string]bool, len(t.Placeholders))
	for _, c := range t.Placeholders {
		if seen[c.Name] {
			return &ValidationError{Field: "custom_placeholders", Message: fmt.Sprintf("duplicate placeholder %q", c.Name)}
		}
		seen[c.Name] = true

		if isEmailField(c.Name) && c.Value != "" && !emailPattern.MatchString(c.Value) {
			return &ValidationError{Field: c.Name, Message: "must be a valid email address"}
		}
	}

	return nil
}

func isEmailField(name string) bool {
	return name == "email" || strings.HasSuffix(name, "_email")
}

// SanitizeIcon reduces an icon tag to plain text
func SanitizeIcon(raw string) string {
	return strings.TrimSpace(iconPolicy.Sanitize(strings.TrimSpace(raw)))
}
