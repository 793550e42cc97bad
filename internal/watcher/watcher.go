// Package watcher bridges real-time location events to scene state. A Hub
// owns one watch per location, guarded by that location's lock: joins,
// leaves, captured activity, and the private-scene auto-closure policy all
// serialize through it, so an actor entering at the exact moment a location
// empties is never dropped.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openmux/scrivener/internal/observe"
	"github.com/openmux/scrivener/internal/scene"
)

// Activity is one captured unit of in-world activity at a location. Capture
// is observational: the in-world delivery has already happened by the time
// the watcher sees it.
type Activity struct {
	Kind     scene.EntryKind
	ActorID  string
	TargetID string

	// Text is the formatted content; Plain is optional and derived from
	// Text when empty.
	Text  string
	Plain string
}

// Hub maps location identifiers to watch state. All methods are safe for
// concurrent use; operations against distinct locations do not contend.
type Hub struct {
	mu        sync.Mutex
	locations map[string]*watch

	store    scene.Store
	registry *scene.Registry
	tracker  *scene.Tracker
	entries  *scene.EntryLog
	feed     *Feed
	metrics  *observe.Metrics
}

// watch is the per-location state. Its mutex is the location lock from which
// every occupancy decision is made.
type watch struct {
	mu        sync.Mutex
	occupants map[string]string // actor ID -> display name

	// pendingClose holds the ID of an empty private scene whose auto-close
	// failed; it is retried on the next qualifying event for the location.
	pendingClose string
}

// Config holds the dependencies for a [Hub].
type Config struct {
	Store    scene.Store
	Registry *scene.Registry
	Tracker  *scene.Tracker
	Entries  *scene.EntryLog
	Feed     *Feed
	Metrics  *observe.Metrics
}

// New creates a Hub. A nil Feed disables live fanout; a nil Metrics falls
// back to the default instruments.
func New(cfg Config) *Hub {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Hub{
		locations: make(map[string]*watch),
		store:     cfg.Store,
		registry:  cfg.Registry,
		tracker:   cfg.Tracker,
		entries:   cfg.Entries,
		feed:      cfg.Feed,
		metrics:   m,
	}
}

// StartScene starts logging at a location. Everyone currently at the
// location becomes an initial participant with an open segment. Returns
// [scene.ErrConflict] when the location already has an active scene.
func (h *Hub) StartScene(ctx context.Context, initiator scene.Viewer, p scene.StartParams) (scene.Scene, error) {
	w := h.watchFor(p.LocationID)
	w.mu.Lock()
	defer w.mu.Unlock()

	p.Present = p.Present[:0]
	for id, name := range w.occupants {
		p.Present = append(p.Present, scene.PresentActor{ID: id, Name: name})
	}

	sc, err := h.registry.Start(ctx, initiator, p)
	if err != nil {
		return scene.Scene{}, err
	}

	h.metrics.ScenesStarted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("visibility", string(sc.Visibility))))
	h.metrics.ActiveScenes.Add(ctx, 1)
	h.metrics.PresentParticipants.Add(ctx, int64(len(p.Present)))
	return sc, nil
}

// StopScene explicitly ends a scene on behalf of an actor. The stop runs
// under the scene's location lock so it cannot race the auto-closure path.
func (h *Hub) StopScene(ctx context.Context, actor scene.Viewer, ref, locationID string) (scene.Scene, error) {
	sc, err := h.registry.Resolve(ctx, actor, ref, locationID)
	if err != nil {
		return scene.Scene{}, err
	}
	if !sc.Active() {
		return scene.Scene{}, scene.ErrSceneClosed
	}

	w := h.watchFor(sc.LocationID)
	w.mu.Lock()
	defer w.mu.Unlock()

	stopped, err := h.registry.Stop(ctx, actor, sc.ID, "")
	if err != nil {
		return scene.Scene{}, err
	}
	h.recordCompletion(ctx, w, stopped, false)
	return stopped, nil
}

// OnEnter handles an actor arriving at a location. If a scene is active
// there, the actor gets an open segment and an arrival entry is captured.
func (h *Hub) OnEnter(ctx context.Context, locationID, actorID, actorName string) {
	w := h.watchFor(locationID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.occupants[actorID] = actorName
	// The location is no longer empty, so any deferred auto-close is moot.
	w.pendingClose = ""

	sc, ok := h.activeScene(ctx, locationID)
	if !ok {
		return
	}

	now := time.Now().UTC()
	if _, err := h.tracker.OpenSegment(ctx, sc.ID, actorID, actorName, now); err != nil {
		slog.Error("watcher: open segment failed",
			"scene", sc.Number, "actor", actorID, "err", err)
		return
	}
	h.metrics.PresentParticipants.Add(ctx, 1)

	h.capture(ctx, sc, Activity{
		Kind:    scene.EntryArrival,
		ActorID: actorID,
		Text:    fmt.Sprintf("|w%s|n arrives.", actorName),
	})
}

// OnLeave handles an actor departing a location. Their open segment closes;
// when the departure leaves a private scene's location with no tracked
// occupants, the scene auto-closes. Organisation and event scenes stay
// active until explicitly stopped.
func (h *Hub) OnLeave(ctx context.Context, locationID, actorID string) {
	w := h.watchFor(locationID)
	w.mu.Lock()
	defer w.mu.Unlock()

	name, present := w.occupants[actorID]
	delete(w.occupants, actorID)

	h.retryPendingClose(ctx, w, locationID)

	sc, ok := h.activeScene(ctx, locationID)
	if !ok {
		return
	}

	now := time.Now().UTC()
	if present {
		h.capture(ctx, sc, Activity{
			Kind:    scene.EntryDeparture,
			ActorID: actorID,
			Text:    fmt.Sprintf("|w%s|n departs.", name),
		})
	}
	if _, err := h.tracker.CloseSegment(ctx, sc.ID, actorID, now); err != nil {
		slog.Error("watcher: close segment failed",
			"scene", sc.Number, "actor", actorID, "err", err)
	} else if present {
		h.metrics.PresentParticipants.Add(ctx, -1)
	}

	// Occupancy is re-read under the location lock, not from any snapshot
	// taken before it.
	if sc.Visibility == scene.VisibilityPrivate && len(w.occupants) == 0 {
		h.autoClose(ctx, w, sc)
	}
}

// OnActivity captures one unit of activity at a location. When no scene is
// active the event is ignored. Capture failures are logged and drop that one
// entry; they never propagate back to the in-world action that produced it.
func (h *Hub) OnActivity(ctx context.Context, locationID string, act Activity) (scene.Entry, bool) {
	w := h.watchFor(locationID)
	w.mu.Lock()
	defer w.mu.Unlock()

	h.retryPendingClose(ctx, w, locationID)

	sc, ok := h.activeScene(ctx, locationID)
	if !ok {
		return scene.Entry{}, false
	}
	return h.capture(ctx, sc, act)
}

// Occupants returns the tracked occupants of a location.
func (h *Hub) Occupants(locationID string) []scene.PresentActor {
	w := h.watchFor(locationID)
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]scene.PresentActor, 0, len(w.occupants))
	for id, name := range w.occupants {
		out = append(out, scene.PresentActor{ID: id, Name: name})
	}
	return out
}

// capture appends one entry and publishes it to live subscribers. Must be
// called with the location lock held.
func (h *Hub) capture(ctx context.Context, sc scene.Scene, act Activity) (scene.Entry, bool) {
	e, err := h.entries.Append(ctx, sc.ID, act.Kind, act.ActorID, act.TargetID, act.Text, act.Plain)
	if err != nil {
		h.metrics.AppendFailures.Add(ctx, 1)
		slog.Error("watcher: entry capture failed; entry dropped",
			"scene", sc.Number, "kind", act.Kind, "actor", act.ActorID, "err", err)
		return scene.Entry{}, false
	}

	h.metrics.EntriesAppended.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", string(act.Kind))))
	if h.feed != nil {
		h.feed.publish(sc.ID, e)
	}
	return e, true
}

// autoClose finalizes an empty private scene. On failure the scene ID is
// parked and retried on the next event observed for the location.
func (h *Hub) autoClose(ctx context.Context, w *watch, sc scene.Scene) {
	closed, err := h.registry.Finalize(ctx, sc.ID, true)
	if err != nil {
		h.metrics.AutoCloseFailures.Add(ctx, 1)
		w.pendingClose = sc.ID
		slog.Error("watcher: auto-close failed; will retry on next event",
			"scene", sc.Number, "err", err)
		return
	}
	w.pendingClose = ""
	h.recordCompletion(ctx, w, closed, true)
	slog.Info("scene auto-closed on empty location", "scene", closed.Number)
}

// retryPendingClose re-attempts a previously failed auto-close, provided the
// location is still empty and the scene is still active. Must be called with
// the location lock held.
func (h *Hub) retryPendingClose(ctx context.Context, w *watch, locationID string) {
	if w.pendingClose == "" || len(w.occupants) > 0 {
		return
	}
	sc, err := h.store.Scene(ctx, w.pendingClose)
	if err != nil || !sc.Active() {
		w.pendingClose = ""
		return
	}
	h.autoClose(ctx, w, sc)
}

// recordCompletion updates gauges and counters after a scene completes.
// Must be called with the location lock held.
func (h *Hub) recordCompletion(ctx context.Context, w *watch, sc scene.Scene, auto bool) {
	h.metrics.ScenesCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("visibility", string(sc.Visibility)),
		attribute.Bool("auto", auto),
	))
	h.metrics.ActiveScenes.Add(ctx, -1)
	h.metrics.PresentParticipants.Add(ctx, -int64(len(w.occupants)))
}

// activeScene looks up the active scene at the location, if any.
func (h *Hub) activeScene(ctx context.Context, locationID string) (scene.Scene, bool) {
	sc, err := h.store.ActiveSceneAt(ctx, locationID)
	if err != nil {
		return scene.Scene{}, false
	}
	return sc, true
}

// watchFor returns the location's watch, creating it on first use.
func (h *Hub) watchFor(locationID string) *watch {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.locations[locationID]
	if !ok {
		w = &watch{occupants: make(map[string]string)}
		h.locations[locationID] = w
	}
	return w
}
