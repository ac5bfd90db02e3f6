package server

import (
	"log/slog"
	"time"
)

// maxPayloadLogLen is the maximum length for logged frame payloads before
// truncation.
const maxPayloadLogLen = 200

// slowFrameThreshold is the duration above which frames are logged at WARN
// level.
const slowFrameThreshold = 100 * time.Millisecond

// logFrame logs one handled client frame with timing. Slow frames (>100ms)
// are logged at WARN level; payloads are truncated to 200 characters.
func logFrame(logger *slog.Logger, action string, payload []byte, duration time.Duration, err error) {
	attrs := []any{
		"action", action,
		"duration_ms", duration.Milliseconds(),
		"payload", truncate(string(payload), maxPayloadLogLen),
	}

	switch {
	case err != nil:
		attrs = append(attrs, "error", err.Error())
		logger.Error("frame failed", attrs...)
	case duration > slowFrameThreshold:
		logger.Warn("slow frame", attrs...)
	default:
		logger.Debug("frame handled", attrs...)
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
