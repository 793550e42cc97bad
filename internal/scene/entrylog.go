package scene

import (
	"context"
	"fmt"
)

// EntryLog is the append-only, ordered record of captured activity per
// scene. Ordinal assignment is delegated to the store's per-scene critical
// section, so concurrent appends against one scene linearize while
// independent scenes proceed without contention.
type EntryLog struct {
	store Store
}

// NewEntryLog creates an EntryLog over the given store.
func NewEntryLog(store Store) *EntryLog {
	return &EntryLog{store: store}
}

// Append captures one unit of activity. When plain is empty it is derived
// from text by stripping markup. Returns [ErrSceneClosed] when the scene is
// not active; entries, once appended, are immutable.
func (l *EntryLog) Append(ctx context.Context, sceneID string, kind EntryKind, actorID, targetID, text, plain string) (Entry, error) {
	if !kind.IsValid() {
		return Entry{}, fmt.Errorf("%w: unknown entry kind %q", ErrValidation, kind)
	}
	if plain == "" {
		plain = StripMarkup(text)
	}
	return l.store.AppendEntry(ctx, Entry{
		SceneID:   sceneID,
		Kind:      kind,
		ActorID:   actorID,
		TargetID:  targetID,
		Text:      text,
		TextPlain: plain,
	})
}

// List returns the scene's entries in ordinal order, narrowed by the filter.
func (l *EntryLog) List(ctx context.Context, sceneID string, f EntryFilter) ([]Entry, error) {
	return l.store.Entries(ctx, sceneID, f)
}
