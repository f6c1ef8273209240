// Package injection flags chat input that tries to override the model's
// instructions. Findings are only logged; the turn still goes through.
package injection

import (
	"log/slog"
	"strings"
)

// phrases are matched case-insensitively against the whole input.
var phrases = []string{
	"ignore previous",
	"ignore all previous",
	"disregard previous",
	"disregard the above",
	"system prompt",
	"reveal your instructions",
	"simulated mode",
	"developer mode",
	"you are now",
}

// Scan returns the phrases found in text, in list order, or nil.
func Scan(text string) []string {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return nil
	}
	var found []string
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			found = append(found, p)
		}
	}
	return found
}

// Check scans text and logs a warning on logger (slog.Default when nil)
// when anything matched. It reports whether a phrase was found.
func Check(text string, logger *slog.Logger, attrs ...any) bool {
	found := Scan(text)
	if len(found) == 0 {
		return false
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("injection: input looks like an instruction override", append([]any{"phrases", found}, attrs...)...)
	return true
}
