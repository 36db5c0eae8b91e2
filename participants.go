package thenvoi

import (
	"log/slog"
	"sync"
)

// ParticipantTracker tracks a room's participants and detects changes
// since the last time the list was sent downstream. Order is arrival
// order; uniqueness is by participant ID.
type ParticipantTracker struct {
	mu           sync.Mutex
	roomID       string
	participants []Participant
	lastSent     []Participant
	sentOnce     bool
	loaded       bool
	logger       *slog.Logger
}

// NewParticipantTracker creates an empty tracker for a room.
func NewParticipantTracker(roomID string, logger *slog.Logger) *ParticipantTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParticipantTracker{roomID: roomID, logger: logger}
}

// Participants returns a defensive copy of the current participant list.
func (t *ParticipantTracker) Participants() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Participant, len(t.participants))
	copy(out, t.participants)
	return out
}

// Loaded reports whether an authoritative list has been set via SetLoaded.
func (t *ParticipantTracker) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// SetLoaded replaces the participant list with an authoritative load
// from the API.
func (t *ParticipantTracker) SetLoaded(participants []Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.participants = make([]Participant, len(participants))
	copy(t.participants, participants)
	t.loaded = true
	t.logger.Debug("participants loaded", "room", t.roomID, "count", len(participants))
}

// Add records a participant join. Returns false without mutation if the
// ID is already present.
func (t *ParticipantTracker) Add(p Participant) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.participants {
		if existing.ID == p.ID {
			return false
		}
	}
	t.participants = append(t.participants, p)
	t.logger.Debug("participant added", "room", t.roomID, "name", p.Name)
	return true
}

// Remove records a participant leave. Returns false if the ID is absent.
func (t *ParticipantTracker) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.participants[:0]
	for _, p := range t.participants {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	removed := len(kept) < len(t.participants)
	t.participants = kept
	if removed {
		t.logger.Debug("participant removed", "room", t.roomID, "id", id)
	}
	return removed
}

// Changed reports whether the current participant ID set differs from
// the last snapshot sent downstream. Unconditionally true before the
// first MarkSent.
func (t *ParticipantTracker) Changed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sentOnce {
		return true
	}
	return !sameIDSet(t.participants, t.lastSent)
}

// MarkSent snapshots the current participant list as sent. The snapshot
// is a copy: later mutation never rewrites it.
func (t *ParticipantTracker) MarkSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make([]Participant, len(t.participants))
	copy(t.lastSent, t.participants)
	t.sentOnce = true
}

// sameIDSet compares two participant lists by identifier set, ignoring
// order and any non-ID fields.
func sameIDSet(a, b []Participant) bool {
	ids := make(map[string]struct{}, len(a))
	for _, p := range a {
		ids[p.ID] = struct{}{}
	}
	if len(ids) != idSetSize(b) {
		return false
	}
	for _, p := range b {
		if _, ok := ids[p.ID]; !ok {
			return false
		}
	}
	return true
}

func idSetSize(ps []Participant) int {
	ids := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		ids[p.ID] = struct{}{}
	}
	return len(ids)
}
