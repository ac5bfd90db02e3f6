// Package match implements the per-item processing collaborator: extracting
// hole codes from an item's text and intersecting them with the session's
// search targets.
package match

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/minhvn/holescan/internal/models"
)

// Processor is the per-item processing port. Implementations must be safe
// for concurrent use by many workers.
type Processor interface {
	Process(ctx context.Context, payload string, targets []string) (models.Outcome, error)
}

// Hole codes look like HOLE-123 or HC-456, case-insensitive.
var codePattern = regexp.MustCompile(`(?i)\b(?:HOLE|HC)-\d+\b`)

// CodeMatcher scans plain text for hole codes. The payload is either the
// text itself or a path to a readable file; richer document formats (PDF,
// scans) are extracted upstream by the text-extraction collaborator.
type CodeMatcher struct{}

func NewCodeMatcher() *CodeMatcher {
	return &CodeMatcher{}
}

func (m *CodeMatcher) Process(ctx context.Context, payload string, targets []string) (models.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return models.Outcome{}, err
	}

	content, err := resolvePayload(payload)
	if err != nil {
		return models.Outcome{}, err
	}

	found := ExtractCodes(content)

	wanted := make(map[string]bool, len(targets))
	for _, t := range targets {
		wanted[strings.ToUpper(strings.TrimSpace(t))] = true
	}

	var matches []string
	seen := make(map[string]bool)
	for _, code := range found {
		if wanted[code] && !seen[code] {
			matches = append(matches, code)
			seen[code] = true
		}
	}

	return models.Outcome{
		FoundCodes: matches,
		Status:     StatusLabel(len(matches)),
	}, nil
}

// ExtractCodes returns all hole codes in text, uppercased, in order of
// first appearance.
func ExtractCodes(text string) []string {
	raw := codePattern.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		out = append(out, strings.ToUpper(c))
	}
	return out
}

// StatusLabel renders the per-item status string ("No Match", "1 Code",
// "2 Codes").
func StatusLabel(n int) string {
	switch {
	case n == 0:
		return "No Match"
	case n == 1:
		return "1 Code"
	default:
		return fmt.Sprintf("%d Codes", n)
	}
}

// resolvePayload treats the payload as a file path when one exists on disk,
// otherwise as inline text.
func resolvePayload(payload string) (string, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", nil
	}
	if info, err := os.Stat(trimmed); err == nil && !info.IsDir() {
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return "", fmt.Errorf("read item file: %w", err)
		}
		return string(data), nil
	}
	return payload, nil
}
