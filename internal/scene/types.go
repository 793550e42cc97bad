// Package scene implements the scene logging engine: scene lifecycle and
// metadata (the registry), ordered transcript entries, participant presence
// segments, and the visibility rules applied when a transcript is read.
//
// All persistent state lives behind the [Store] interface. [MemStore] is the
// in-memory implementation; package scene/postgres provides the
// PostgreSQL-backed one. The services in this package ([Registry], [Tracker],
// [EntryLog], [Resolver]) are stateless wrappers over a Store and are safe
// for concurrent use.
package scene

import "time"

// Visibility is the access tier of a scene.
type Visibility string

const (
	// VisibilityPrivate scenes are readable only by participants and
	// privileged viewers, and auto-close when their location empties.
	VisibilityPrivate Visibility = "private"

	// VisibilityOrganisation scenes are readable by members of any of the
	// scene's associated groups.
	VisibilityOrganisation Visibility = "organisation"

	// VisibilityEvent scenes are publicly readable, including by
	// unauthenticated viewers.
	VisibilityEvent Visibility = "event"
)

// IsValid reports whether v is a recognised visibility tier.
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPrivate, VisibilityOrganisation, VisibilityEvent:
		return true
	}
	return false
}

// Status is the lifecycle state of a scene.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
	StatusDeleted   Status = "deleted"
)

// IsValid reports whether s is a recognised lifecycle status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// EntryKind classifies one captured unit of activity.
type EntryKind string

const (
	// EntrySpeech is spoken dialogue.
	EntrySpeech EntryKind = "speech"

	// EntryAction is a performed (posed) action.
	EntryAction EntryKind = "action"

	// EntryBroadcast is a room-wide emit not attributed to a single speaker.
	EntryBroadcast EntryKind = "broadcast"

	// EntryPrivate is a targeted private message captured in the scene.
	EntryPrivate EntryKind = "private"

	// EntryRoll is a dice result.
	EntryRoll EntryKind = "roll"

	// EntryArrival and EntryDeparture record presence changes.
	EntryArrival   EntryKind = "arrival"
	EntryDeparture EntryKind = "departure"

	// EntrySystem is a system-generated note.
	EntrySystem EntryKind = "system"
)

// IsValid reports whether k is a recognised entry kind.
func (k EntryKind) IsValid() bool {
	switch k {
	case EntrySpeech, EntryAction, EntryBroadcast, EntryPrivate,
		EntryRoll, EntryArrival, EntryDeparture, EntrySystem:
		return true
	}
	return false
}

// Scene is one logging run bound to a location while active.
type Scene struct {
	// ID is the unique identifier for this scene.
	ID string

	// Number is the human-facing scene number, assigned on creation and
	// strictly increasing across all scenes.
	Number int64

	// LocationID references the location the scene is bound to.
	// Cleared when the scene closes.
	LocationID string

	Status     Status
	Visibility Visibility

	// Title is the optional scene title.
	Title string

	// ChapterID tags the scene with the story chapter it happened in.
	ChapterID string

	// GroupIDs are the associated group (organisation) identifiers. They
	// gate readability for organisation-visibility scenes.
	GroupIDs []string

	// PlotIDs are the associated plot/story tags.
	PlotIDs []string

	// StartedBy is the actor who started the scene.
	StartedBy string

	CreatedAt   time.Time
	CompletedAt time.Time
	ArchivedAt  time.Time
	DeletedAt   time.Time

	// AutoClosed is set when the scene was completed by the watcher's
	// empty-location policy rather than an explicit stop.
	AutoClosed bool
}

// Active reports whether the scene is currently recording.
func (s Scene) Active() bool { return s.Status == StatusActive }

// Participant is one actor's relationship to a scene. There is exactly one
// participant record per (scene, actor) pair; re-joining reopens it.
type Participant struct {
	SceneID string
	ActorID string

	// ActorName is the display name captured when the actor first joined.
	ActorName string

	FirstJoinedAt time.Time

	// LastLeftAt is zero while the actor is present.
	LastLeftAt time.Time

	// Present reports whether the actor is currently at the scene.
	Present bool
}

// Segment is one contiguous presence interval for a participant.
// A zero LeftAt means the segment is still open.
type Segment struct {
	JoinedAt time.Time
	LeftAt   time.Time
}

// Open reports whether the segment has not yet been closed.
func (s Segment) Open() bool { return s.LeftAt.IsZero() }

// Contains reports whether t falls inside the segment. For an open segment
// the end is substituted with fallback (typically the scene's completion
// time, or now for a still-active scene).
func (s Segment) Contains(t, fallback time.Time) bool {
	if t.Before(s.JoinedAt) {
		return false
	}
	end := s.LeftAt
	if end.IsZero() {
		end = fallback
	}
	return !t.After(end)
}

// Entry is one immutable captured unit of activity within a scene.
type Entry struct {
	SceneID string

	// Ordinal is the strictly increasing, gapless position of the entry
	// within its scene, assigned at append time.
	Ordinal int64

	Timestamp time.Time
	Kind      EntryKind

	// ActorID is the acting actor, empty for unattributed broadcasts and
	// system notes.
	ActorID string

	// TargetID is the optional target actor (private messages).
	TargetID string

	// Text is the formatted content with colour markup preserved.
	Text string

	// TextPlain is the markup-stripped form used for search and export.
	TextPlain string
}

// Viewer identifies a transcript reader. The privilege flag and group
// memberships are derived externally; this package trusts them as given.
type Viewer struct {
	// ActorID is empty for unauthenticated viewers.
	ActorID string

	// Privileged viewers bypass participation checks entirely.
	Privileged bool

	// GroupIDs are the groups the viewer belongs to.
	GroupIDs []string
}

// Anonymous reports whether the viewer carries no identity.
func (v Viewer) Anonymous() bool { return v.ActorID == "" }

// InGroup reports whether the viewer belongs to the given group.
func (v Viewer) InGroup(groupID string) bool {
	for _, g := range v.GroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}
