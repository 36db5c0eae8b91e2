package thenvoi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryTrackerAttempts(t *testing.T) {
	tr := NewRetryTracker(2, "room-1", nil)

	attempts, exceeded := tr.RecordAttempt("m1")
	assert.Equal(t, 1, attempts)
	assert.False(t, exceeded)

	attempts, exceeded = tr.RecordAttempt("m1")
	assert.Equal(t, 2, attempts)
	assert.False(t, exceeded)

	attempts, exceeded = tr.RecordAttempt("m1")
	assert.Equal(t, 3, attempts)
	assert.True(t, exceeded)
	assert.True(t, tr.IsPermanentlyFailed("m1"))
}

func TestRetryTrackerMarkSuccessResetsCounter(t *testing.T) {
	tr := NewRetryTracker(3, "room-1", nil)

	tr.RecordAttempt("m1")
	tr.RecordAttempt("m1")
	tr.MarkSuccess("m1")

	attempts, exceeded := tr.RecordAttempt("m1")
	assert.Equal(t, 1, attempts)
	assert.False(t, exceeded)
}

func TestRetryTrackerPermanentFailureSticks(t *testing.T) {
	tr := NewRetryTracker(1, "room-1", nil)

	tr.RecordAttempt("m1")
	_, exceeded := tr.RecordAttempt("m1")
	assert.True(t, exceeded)

	// Success clears the attempt counter but not the failed set.
	tr.MarkSuccess("m1")
	assert.True(t, tr.IsPermanentlyFailed("m1"))
}

func TestRetryTrackerExplicitOverride(t *testing.T) {
	tr := NewRetryTracker(5, "room-1", nil)

	assert.False(t, tr.IsPermanentlyFailed("m1"))
	tr.MarkPermanentlyFailed("m1")
	assert.True(t, tr.IsPermanentlyFailed("m1"))
}

func TestRetryTrackerIndependentMessages(t *testing.T) {
	tr := NewRetryTracker(1, "room-1", nil)

	tr.RecordAttempt("m1")
	tr.RecordAttempt("m1")

	attempts, exceeded := tr.RecordAttempt("m2")
	assert.Equal(t, 1, attempts)
	assert.False(t, exceeded)
	assert.False(t, tr.IsPermanentlyFailed("m2"))
}
