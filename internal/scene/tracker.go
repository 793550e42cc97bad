package scene

import (
	"context"
	"errors"
	"time"
)

// Tracker maintains participant presence intervals per scene. Segments for a
// given participant never overlap and stay ordered by join time; at most one
// segment per participant is open at any instant (both enforced by the
// store's join/leave semantics).
type Tracker struct {
	store Store
}

// NewTracker creates a Tracker over the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// OpenSegment records the actor as present, creating the participant record
// on first join and opening a new segment. Opening while a segment is
// already open is a no-op.
func (t *Tracker) OpenSegment(ctx context.Context, sceneID, actorID, actorName string, at time.Time) (Participant, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return t.store.Join(ctx, sceneID, actorID, actorName, at)
}

// CloseSegment stamps the leave time on the actor's open segment. Closing
// when no segment is open is a no-op, including for actors who never joined.
func (t *Tracker) CloseSegment(ctx context.Context, sceneID, actorID string, at time.Time) (Participant, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	p, err := t.store.Leave(ctx, sceneID, actorID, at)
	if errors.Is(err, ErrNotFound) {
		return Participant{}, nil
	}
	return p, err
}

// SegmentsFor returns the actor's presence segments ordered by join time.
func (t *Tracker) SegmentsFor(ctx context.Context, sceneID, actorID string) ([]Segment, error) {
	return t.store.Segments(ctx, sceneID, actorID)
}

// IsOrWasPresent reports whether the actor was ever present in the scene.
func (t *Tracker) IsOrWasPresent(ctx context.Context, sceneID, actorID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	_, err := t.store.Participant(ctx, sceneID, actorID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
