package scene

import (
	"context"
	"errors"
	"time"
)

// Window is the portion of a transcript a viewer may see.
type Window struct {
	// Unrestricted means the entire transcript is visible.
	Unrestricted bool

	// Spans is the union of the viewer's own presence intervals. Open
	// intervals run until End. Empty (and not unrestricted) means nothing
	// is visible.
	Spans []Segment

	// End closes any open span: the scene's completion time, or the
	// evaluation time while the scene is still active.
	End time.Time
}

// Contains reports whether a timestamp falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Unrestricted {
		return true
	}
	for _, s := range w.Spans {
		if s.Contains(t, w.End) {
			return true
		}
	}
	return false
}

// Resolver decides transcript readability per viewer and computes the
// visible window applied to [EntryLog.List] output.
type Resolver struct {
	store Store

	// now is swappable for tests.
	now func() time.Time
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// CanView reports whether the viewer may read the scene at all. Rules, in
// order: privileged viewers see everything; event scenes are public
// (anonymous viewers included); anonymous viewers see nothing else;
// participants see their own scenes; organisation scenes extend to members
// of any associated group.
func (r *Resolver) CanView(ctx context.Context, sc Scene, viewer Viewer) (bool, error) {
	if viewer.Privileged {
		return true, nil
	}
	if sc.Visibility == VisibilityEvent {
		return true, nil
	}
	if viewer.Anonymous() {
		return false, nil
	}

	_, err := r.store.Participant(ctx, sc.ID, viewer.ActorID)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	if sc.Visibility == VisibilityOrganisation {
		for _, g := range sc.GroupIDs {
			if viewer.InGroup(g) {
				return true, nil
			}
		}
	}
	return false, nil
}

// VisibleWindow computes the time range the viewer may read. Privileged
// viewers and non-private scenes get the unrestricted window; for private
// scenes the window is the union of the viewer's own segments, with any open
// segment running until the scene's completion time or, while the scene is
// still active, now.
func (r *Resolver) VisibleWindow(ctx context.Context, sc Scene, viewer Viewer) (Window, error) {
	if viewer.Privileged || sc.Visibility != VisibilityPrivate {
		return Window{Unrestricted: true}, nil
	}

	segs, err := r.store.Segments(ctx, sc.ID, viewer.ActorID)
	if err != nil {
		return Window{}, err
	}

	end := sc.CompletedAt
	if end.IsZero() {
		end = r.now().UTC()
	}
	return Window{Spans: segs, End: end}, nil
}

// CanStream reports whether a freshly captured entry may be delivered to
// the viewer of a live feed. Privileged viewers and non-private scenes
// receive every entry; in a private scene a viewer always receives their
// own entries and everything else only while present. A participant who
// departs mid-stream stops receiving what follows, matching what a later
// transcript read would show them.
func (r *Resolver) CanStream(ctx context.Context, sc Scene, viewer Viewer, e Entry) (bool, error) {
	if viewer.Privileged || sc.Visibility != VisibilityPrivate {
		return true, nil
	}
	if e.ActorID != "" && e.ActorID == viewer.ActorID {
		return true, nil
	}

	p, err := r.store.Participant(ctx, sc.ID, viewer.ActorID)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return p.Present, nil
}

// VisibleEntries is the filtering rule the transcript layer applies: entries
// inside the viewer's window, plus entries acted by the viewer themselves
// (their own arrivals and departures always show). Returns [ErrPermission]
// when the viewer may not read the scene at all.
func (r *Resolver) VisibleEntries(ctx context.Context, sc Scene, viewer Viewer, f EntryFilter) ([]Entry, error) {
	ok, err := r.CanView(ctx, sc, viewer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPermission
	}

	win, err := r.VisibleWindow(ctx, sc, viewer)
	if err != nil {
		return nil, err
	}

	entries, err := r.store.Entries(ctx, sc.ID, f)
	if err != nil {
		return nil, err
	}
	if win.Unrestricted {
		return entries, nil
	}

	visible := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if win.Contains(e.Timestamp) || (e.ActorID != "" && e.ActorID == viewer.ActorID) {
			visible = append(visible, e)
		}
	}
	return visible, nil
}
