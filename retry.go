package thenvoi

import (
	"log/slog"
	"sync"
)

// RetryTracker counts processing attempts per message and classifies
// messages as permanently failed once they exceed the retry bound.
// Scoped to one room's lifetime; discarded with the room.
//
// MarkSuccess clears only the attempt counter. It deliberately does NOT
// remove a prior permanently-failed marking: once an identifier is in
// the failed set it stays failed until the tracker is discarded with its
// room. The upstream behavior is ambiguous here and this implementation
// preserves it rather than guessing a fix.
type RetryTracker struct {
	mu         sync.Mutex
	maxRetries int
	roomID     string
	attempts   map[string]int
	failed     map[string]struct{}
	logger     *slog.Logger
}

// NewRetryTracker creates a tracker allowing maxRetries attempts per
// message before it is permanently failed.
func NewRetryTracker(maxRetries int, roomID string, logger *slog.Logger) *RetryTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryTracker{
		maxRetries: maxRetries,
		roomID:     roomID,
		attempts:   make(map[string]int),
		failed:     make(map[string]struct{}),
		logger:     logger,
	}
}

// MaxRetries returns the configured attempt bound.
func (t *RetryTracker) MaxRetries() int { return t.maxRetries }

// IsPermanentlyFailed reports whether the message has exceeded the bound
// or was explicitly marked failed.
func (t *RetryTracker) IsPermanentlyFailed(msgID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.failed[msgID]
	return ok
}

// RecordAttempt increments the attempt counter for msgID by exactly one
// and reports the new count plus whether it exceeds the bound. On
// exceeding, the identifier is atomically added to the failed set.
func (t *RetryTracker) RecordAttempt(msgID string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := t.attempts[msgID] + 1
	t.attempts[msgID] = count

	exceeded := count > t.maxRetries
	if exceeded {
		t.failed[msgID] = struct{}{}
		t.logger.Error("message exceeded max retries, marking permanently failed",
			"room", t.roomID, "message", msgID, "max_retries", t.maxRetries)
	}
	return count, exceeded
}

// MarkSuccess clears the attempt counter for a successfully processed
// message. See the type comment for failed-set semantics.
func (t *RetryTracker) MarkSuccess(msgID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, msgID)
}

// MarkPermanentlyFailed explicitly adds msgID to the failed set.
func (t *RetryTracker) MarkPermanentlyFailed(msgID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed[msgID] = struct{}{}
	t.logger.Warn("message marked permanently failed", "room", t.roomID, "message", msgID)
}
