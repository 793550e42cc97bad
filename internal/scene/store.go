package scene

import (
	"context"
	"time"
)

// Store is the persistence surface for the scene engine. The scene, its
// participants, their segments, and its entries form a strict ownership tree
// partitioned by scene ID.
//
// Two operations carry the cross-process atomicity the engine relies on:
// [Store.CreateScene] (create-if-none-active per location) and
// [Store.AppendEntry] (gapless per-scene ordinal assignment). Everything else
// may be an eventually-consistent read.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// CreateScene persists a new active scene, assigning its Number and, if
	// unset, CreatedAt. The creation is atomic with the check that no other
	// active scene exists at the same location; it returns [ErrConflict]
	// when one does.
	CreateScene(ctx context.Context, sc Scene) (Scene, error)

	// Scene retrieves a scene by ID. Returns [ErrNotFound] when absent.
	Scene(ctx context.Context, id string) (Scene, error)

	// SceneByNumber retrieves a scene by its human-facing number.
	// Returns [ErrNotFound] when absent.
	SceneByNumber(ctx context.Context, number int64) (Scene, error)

	// ActiveSceneAt returns the scene currently active at the location.
	// Returns [ErrNotFound] when the location has none.
	ActiveSceneAt(ctx context.Context, locationID string) (Scene, error)

	// UpdateScene replaces the annotation metadata of an existing scene:
	// title, chapter, group and plot associations, and visibility. Lifecycle
	// fields (status, stamps, location) are never written by this call, so a
	// stale snapshot racing a concurrent close cannot resurrect the scene.
	// Returns [ErrNotFound] when absent.
	UpdateScene(ctx context.Context, sc Scene) error

	// MarkStatus applies a maintenance transition (archived or deleted),
	// stamping the matching timestamp. A scene still active loses its
	// location binding so the location frees for a new scene. Returns
	// [ErrNotFound] when absent.
	MarkStatus(ctx context.Context, id string, status Status, at time.Time) (Scene, error)

	// CloseScene transitions an active scene to completed, clearing its
	// location reference and recording the completion time and auto-closed
	// flag. Returns [ErrSceneClosed] when the scene exists but is not
	// active, [ErrNotFound] when it does not exist.
	CloseScene(ctx context.Context, id string, at time.Time, auto bool) (Scene, error)

	// ListScenes returns scenes matching opts, most recent first.
	ListScenes(ctx context.Context, opts ListOptions) ([]Scene, error)

	// MostRecentFor returns the newest non-deleted scene the actor
	// participated in. Returns [ErrNotFound] when there is none.
	MostRecentFor(ctx context.Context, actorID string) (Scene, error)

	// Join records the actor as present: it creates the participant record
	// on first join, marks it present on re-join, and opens a new segment.
	// Joining while already present is a no-op returning the current record.
	Join(ctx context.Context, sceneID, actorID, actorName string, at time.Time) (Participant, error)

	// Leave marks the actor as departed and closes their open segment.
	// Leaving with no open segment is a no-op. Returns [ErrNotFound] when
	// the actor never joined the scene.
	Leave(ctx context.Context, sceneID, actorID string, at time.Time) (Participant, error)

	// CloseOpenSegments closes every open segment of the scene and marks
	// all present participants as departed at the given time.
	CloseOpenSegments(ctx context.Context, sceneID string, at time.Time) error

	// Participant retrieves one participant record.
	// Returns [ErrNotFound] when the actor never joined the scene.
	Participant(ctx context.Context, sceneID, actorID string) (Participant, error)

	// Participants returns all participant records of a scene, ordered by
	// first join time.
	Participants(ctx context.Context, sceneID string) ([]Participant, error)

	// Segments returns the actor's presence segments for the scene,
	// ordered by join time. An actor who never joined yields an empty slice.
	Segments(ctx context.Context, sceneID, actorID string) ([]Segment, error)

	// AppendEntry persists an entry, atomically assigning the next ordinal
	// for its scene. Concurrent appends against the same scene are
	// linearized; appends against distinct scenes do not contend. Returns
	// [ErrSceneClosed] when the scene is not active.
	AppendEntry(ctx context.Context, e Entry) (Entry, error)

	// Entries returns the scene's entries ordered by ordinal ascending,
	// narrowed by the filter.
	Entries(ctx context.Context, sceneID string, f EntryFilter) ([]Entry, error)
}

// ListOptions narrows the result set of [Store.ListScenes].
// All non-zero fields are applied as AND conditions.
type ListOptions struct {
	// ActorID restricts results to scenes the actor participated in.
	ActorID string

	// IncludeDeleted includes soft-deleted scenes. Off by default.
	IncludeDeleted bool

	// Limit caps the number of results. Zero means no cap.
	Limit int
}

// EntryFilter narrows the result set of [Store.Entries].
type EntryFilter struct {
	// From and To bound entry timestamps inclusively. Zero values are open
	// ends.
	From time.Time
	To   time.Time

	// Kind restricts results to a single entry kind when non-empty.
	Kind EntryKind
}

// Matches reports whether e passes the filter.
func (f EntryFilter) Matches(e Entry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return true
}
