package schema

import (
	"strings"
	"unicode"
)

// NormalizeTaskID trims and validates a task id. Allowed characters:
// letters, digits, '.', '_', '-', ':'.
func NormalizeTaskID(value string) (TaskID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrInvalidTask
	}
	for _, r := range trimmed {
		if r == '.' || r == '_' || r == '-' || r == ':' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return "", ErrInvalidTask
	}
	return TaskID(trimmed), nil
}

// NormalizeStatus lower-cases and trims a status string. Unknown values are kept.
func NormalizeStatus(value string) TaskStatus {
	return TaskStatus(strings.ToLower(strings.TrimSpace(value)))
}
