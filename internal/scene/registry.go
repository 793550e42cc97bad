package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxTitleLen bounds scene titles.
const maxTitleLen = 200

// Notifier receives end-of-scene notifications for fanout to participants.
// Delivery is best-effort; the registry never fails a stop on notifier
// errors.
type Notifier interface {
	SceneEnded(ctx context.Context, sc Scene, participants []Participant, auto bool)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) SceneEnded(context.Context, Scene, []Participant, bool) {}

// PresentActor identifies an actor already at a location when a scene
// starts.
type PresentActor struct {
	ID   string
	Name string
}

// StartParams configures a new scene.
type StartParams struct {
	LocationID string
	Visibility Visibility

	// Title is optional at start time.
	Title string

	// ChapterID tags the scene with a story chapter. Empty means the
	// registry's current default chapter.
	ChapterID string

	// GroupTokens and PlotTokens are directory references (IDs or names)
	// to associate with the scene.
	GroupTokens []string
	PlotTokens  []string

	// Present lists the actors already at the location; each gets an open
	// segment the moment the scene starts.
	Present []PresentActor
}

// Registry tracks the lifecycle and metadata of scenes and enforces the
// one-active-scene-per-location rule (delegated to the store's atomic
// create). All methods are safe for concurrent use.
type Registry struct {
	store    Store
	dir      Directory
	notifier Notifier

	// defaultChapter is applied when StartParams does not name one.
	defaultChapter string
}

// RegistryConfig holds the dependencies for a [Registry].
type RegistryConfig struct {
	Store          Store
	Directory      Directory
	Notifier       Notifier
	DefaultChapter string
}

// NewRegistry creates a Registry. A nil Notifier is replaced with
// [NopNotifier]; a nil Directory rejects every group and plot token.
func NewRegistry(cfg RegistryConfig) *Registry {
	n := cfg.Notifier
	if n == nil {
		n = NopNotifier{}
	}
	dir := cfg.Directory
	if dir == nil {
		dir = NewStaticDirectory(nil, nil)
	}
	return &Registry{
		store:          cfg.Store,
		dir:            dir,
		notifier:       n,
		defaultChapter: cfg.DefaultChapter,
	}
}

// Start creates a new active scene at the location. Returns [ErrConflict]
// when the location already has one, and a wrapped [ErrValidation] for bad
// visibility, title, or unknown group/plot references.
func (r *Registry) Start(ctx context.Context, initiator Viewer, p StartParams) (Scene, error) {
	if p.LocationID == "" {
		return Scene{}, fmt.Errorf("%w: location is required", ErrValidation)
	}
	if !p.Visibility.IsValid() {
		return Scene{}, fmt.Errorf("%w: unknown visibility %q", ErrValidation, p.Visibility)
	}
	title := strings.TrimSpace(p.Title)
	if len(title) > maxTitleLen {
		return Scene{}, fmt.Errorf("%w: title longer than %d characters", ErrValidation, maxTitleLen)
	}

	groupIDs, err := r.resolveGroups(p.GroupTokens)
	if err != nil {
		return Scene{}, err
	}
	plotIDs, err := r.resolvePlots(p.PlotTokens)
	if err != nil {
		return Scene{}, err
	}

	chapter := p.ChapterID
	if chapter == "" {
		chapter = r.defaultChapter
	}

	now := time.Now().UTC()
	sc, err := r.store.CreateScene(ctx, Scene{
		ID:         uuid.NewString(),
		LocationID: p.LocationID,
		Status:     StatusActive,
		Visibility: p.Visibility,
		Title:      title,
		ChapterID:  chapter,
		GroupIDs:   groupIDs,
		PlotIDs:    plotIDs,
		StartedBy:  initiator.ActorID,
		CreatedAt:  now,
	})
	if err != nil {
		return Scene{}, err
	}

	for _, a := range p.Present {
		if _, err := r.store.Join(ctx, sc.ID, a.ID, a.Name, now); err != nil {
			slog.Warn("registry: register initial participant failed",
				"scene", sc.Number, "actor", a.ID, "err", err)
		}
	}

	slog.Info("scene started",
		"scene", sc.Number,
		"scene_id", sc.ID,
		"location", sc.LocationID,
		"visibility", sc.Visibility,
		"started_by", sc.StartedBy,
		"participants", len(p.Present),
	)
	return sc, nil
}

// Stop explicitly ends a scene. The target is resolved like every other
// optional scene reference (see [Registry.Resolve]) but must be active;
// stopping a scene the actor neither participates in nor has privilege over
// returns [ErrPermission]. Stopping a scene that is no longer active returns
// [ErrSceneClosed].
func (r *Registry) Stop(ctx context.Context, actor Viewer, ref string, locationID string) (Scene, error) {
	sc, err := r.Resolve(ctx, actor, ref, locationID)
	if err != nil {
		return Scene{}, err
	}
	if !sc.Active() {
		return Scene{}, ErrSceneClosed
	}
	if err := r.requireEditRights(ctx, actor, sc); err != nil {
		return Scene{}, err
	}
	return r.Finalize(ctx, sc.ID, false)
}

// Finalize transitions a scene to completed: it stamps the completion time,
// sets the auto-closed flag, clears the location reference, closes every
// open segment, and notifies participants.
//
// When auto is true the call is idempotent: finalizing an already-completed
// scene is a no-op, so the watcher's auto-close path never races a manual
// stop into an error.
func (r *Registry) Finalize(ctx context.Context, sceneID string, auto bool) (Scene, error) {
	now := time.Now().UTC()
	sc, err := r.store.CloseScene(ctx, sceneID, now, auto)
	if errors.Is(err, ErrSceneClosed) && auto {
		return r.store.Scene(ctx, sceneID)
	}
	if err != nil {
		return Scene{}, err
	}

	if err := r.store.CloseOpenSegments(ctx, sceneID, now); err != nil {
		return Scene{}, fmt.Errorf("registry: close segments for scene %d: %w", sc.Number, err)
	}

	participants, err := r.store.Participants(ctx, sceneID)
	if err != nil {
		slog.Warn("registry: list participants for end notification failed",
			"scene", sc.Number, "err", err)
	} else {
		r.notifier.SceneEnded(ctx, sc, participants, auto)
	}

	slog.Info("scene completed",
		"scene", sc.Number,
		"scene_id", sc.ID,
		"auto_closed", auto,
		"entries_until", now,
	)
	return sc, nil
}

// SetTitle sets or replaces the scene's title. Requires participation or
// privilege; the scene need not be active.
func (r *Registry) SetTitle(ctx context.Context, actor Viewer, ref, locationID, title string) (Scene, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Scene{}, fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if len(title) > maxTitleLen {
		return Scene{}, fmt.Errorf("%w: title longer than %d characters", ErrValidation, maxTitleLen)
	}
	return r.annotate(ctx, actor, ref, locationID, func(sc *Scene) error {
		sc.Title = title
		return nil
	})
}

// SetPlots replaces the scene's plot associations.
func (r *Registry) SetPlots(ctx context.Context, actor Viewer, ref, locationID string, tokens []string) (Scene, error) {
	plotIDs, err := r.resolvePlots(tokens)
	if err != nil {
		return Scene{}, err
	}
	if len(plotIDs) == 0 {
		return Scene{}, fmt.Errorf("%w: no plots specified", ErrValidation)
	}
	return r.annotate(ctx, actor, ref, locationID, func(sc *Scene) error {
		sc.PlotIDs = plotIDs
		return nil
	})
}

// AddGroups adds group associations to the scene. Adding groups to a private
// scene promotes its visibility to organisation so the associations take
// effect.
func (r *Registry) AddGroups(ctx context.Context, actor Viewer, ref, locationID string, tokens []string) (Scene, error) {
	groupIDs, err := r.resolveGroups(tokens)
	if err != nil {
		return Scene{}, err
	}
	if len(groupIDs) == 0 {
		return Scene{}, fmt.Errorf("%w: no groups specified", ErrValidation)
	}
	return r.annotate(ctx, actor, ref, locationID, func(sc *Scene) error {
		sc.GroupIDs = mergeIDs(sc.GroupIDs, groupIDs)
		if sc.Visibility == VisibilityPrivate {
			sc.Visibility = VisibilityOrganisation
			slog.Info("scene visibility promoted to organisation", "scene", sc.Number)
		}
		return nil
	})
}

// SetVisibility changes the scene's visibility tier. Privileged actors only;
// switching to organisation visibility requires at least one associated
// group.
func (r *Registry) SetVisibility(ctx context.Context, actor Viewer, ref, locationID string, v Visibility) (Scene, error) {
	if !actor.Privileged {
		return Scene{}, ErrPermission
	}
	if !v.IsValid() {
		return Scene{}, fmt.Errorf("%w: unknown visibility %q", ErrValidation, v)
	}
	sc, err := r.Resolve(ctx, actor, ref, locationID)
	if err != nil {
		return Scene{}, err
	}
	if v == VisibilityOrganisation && len(sc.GroupIDs) == 0 {
		return Scene{}, fmt.Errorf("%w: associate at least one group before switching to organisation visibility", ErrValidation)
	}
	sc.Visibility = v
	if err := r.store.UpdateScene(ctx, sc); err != nil {
		return Scene{}, err
	}
	slog.Info("scene visibility changed", "scene", sc.Number, "visibility", v, "by", actor.ActorID)
	return sc, nil
}

// Archive marks a scene as archived. Privileged actors only; archiving an
// already-archived scene is a no-op.
func (r *Registry) Archive(ctx context.Context, actor Viewer, ref string) (Scene, error) {
	return r.maintain(ctx, actor, ref, StatusArchived)
}

// SoftDelete marks a scene as deleted, hiding it from listings and
// resolution. Privileged actors only.
func (r *Registry) SoftDelete(ctx context.Context, actor Viewer, ref string) (Scene, error) {
	return r.maintain(ctx, actor, ref, StatusDeleted)
}

// Resolve finds the scene an optional reference points at, in this order:
//
//  1. An explicit reference (scene number or ID), if the actor may access
//     it: privileged, or a participant. Otherwise [ErrNotFound], so the
//     existence of inaccessible scenes is not revealed.
//  2. The scene currently active at the actor's location, if the actor is a
//     participant of it.
//  3. The most recent scene the actor participated in.
//
// Soft-deleted scenes are never resolved.
func (r *Registry) Resolve(ctx context.Context, actor Viewer, ref string, locationID string) (Scene, error) {
	if ref != "" {
		sc, err := r.lookup(ctx, ref)
		if err != nil {
			return Scene{}, err
		}
		if sc.Status == StatusDeleted {
			return Scene{}, ErrNotFound
		}
		if actor.Privileged {
			return sc, nil
		}
		ok, err := r.isParticipant(ctx, sc.ID, actor.ActorID)
		if err != nil {
			return Scene{}, err
		}
		if !ok {
			return Scene{}, ErrNotFound
		}
		return sc, nil
	}

	if locationID != "" {
		sc, err := r.store.ActiveSceneAt(ctx, locationID)
		switch {
		case err == nil:
			ok, perr := r.isParticipant(ctx, sc.ID, actor.ActorID)
			if perr != nil {
				return Scene{}, perr
			}
			if ok {
				return sc, nil
			}
		case !errors.Is(err, ErrNotFound):
			return Scene{}, err
		}
	}

	if actor.ActorID == "" {
		return Scene{}, ErrNotFound
	}
	return r.store.MostRecentFor(ctx, actor.ActorID)
}

// Accessible lists the scenes the viewer may see in listings: all non-deleted
// scenes for privileged viewers, otherwise the viewer's own participations.
func (r *Registry) Accessible(ctx context.Context, viewer Viewer, limit int) ([]Scene, error) {
	opts := ListOptions{Limit: limit}
	if !viewer.Privileged {
		if viewer.Anonymous() {
			return nil, nil
		}
		opts.ActorID = viewer.ActorID
	}
	return r.store.ListScenes(ctx, opts)
}

// annotate resolves the target scene, checks edit rights, applies mutate,
// and persists the result. Annotation is permitted regardless of scene
// status; completed scenes stay editable by their participants indefinitely.
func (r *Registry) annotate(ctx context.Context, actor Viewer, ref, locationID string, mutate func(*Scene) error) (Scene, error) {
	sc, err := r.Resolve(ctx, actor, ref, locationID)
	if err != nil {
		return Scene{}, err
	}
	if err := r.requireEditRights(ctx, actor, sc); err != nil {
		return Scene{}, err
	}
	if err := mutate(&sc); err != nil {
		return Scene{}, err
	}
	if err := r.store.UpdateScene(ctx, sc); err != nil {
		return Scene{}, err
	}
	return sc, nil
}

// maintain is the privileged-only transition used by archive and delete. A
// still-active target is finalized first, so the location frees and open
// segments close before the status changes; the active-scene bookkeeping is
// never left pointing at an archived or deleted scene.
func (r *Registry) maintain(ctx context.Context, actor Viewer, ref string, status Status) (Scene, error) {
	if !actor.Privileged {
		return Scene{}, ErrPermission
	}
	sc, err := r.lookup(ctx, ref)
	if err != nil {
		return Scene{}, err
	}
	if sc.Status == status {
		return sc, nil
	}
	if sc.Active() {
		// A racing manual stop or auto-close may finalize it first.
		if _, err := r.Finalize(ctx, sc.ID, false); err != nil && !errors.Is(err, ErrSceneClosed) {
			return Scene{}, err
		}
	}
	sc, err = r.store.MarkStatus(ctx, sc.ID, status, time.Now().UTC())
	if err != nil {
		return Scene{}, err
	}
	slog.Info("scene maintenance", "scene", sc.Number, "status", sc.Status, "by", actor.ActorID)
	return sc, nil
}

// requireEditRights checks that the actor may modify the scene: privileged,
// or a participant (past or present).
func (r *Registry) requireEditRights(ctx context.Context, actor Viewer, sc Scene) error {
	if actor.Privileged {
		return nil
	}
	ok, err := r.isParticipant(ctx, sc.ID, actor.ActorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermission
	}
	return nil
}

func (r *Registry) isParticipant(ctx context.Context, sceneID, actorID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	_, err := r.store.Participant(ctx, sceneID, actorID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// lookup fetches a scene by explicit reference: a decimal scene number, or
// a scene ID.
func (r *Registry) lookup(ctx context.Context, ref string) (Scene, error) {
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return r.store.SceneByNumber(ctx, n)
	}
	return r.store.Scene(ctx, ref)
}

func (r *Registry) resolveGroups(tokens []string) ([]string, error) {
	return resolveTokens(tokens, r.dir.Group, r.dir.GroupNames, "group")
}

func (r *Registry) resolvePlots(tokens []string) ([]string, error) {
	return resolveTokens(tokens, r.dir.Plot, r.dir.PlotNames, "plot")
}

// resolveTokens maps directory tokens to IDs, deduplicating and skipping
// blanks. An unknown token is a validation error carrying a nearest-name
// suggestion when one is close enough.
func resolveTokens(tokens []string, find func(string) (Ref, bool), names func() []string, kind string) ([]string, error) {
	var ids []string
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		ref, ok := find(token)
		if !ok {
			if hint := SuggestName(token, names()); hint != "" {
				return nil, fmt.Errorf("%w: unknown %s %q (did you mean %q?)", ErrValidation, kind, token, hint)
			}
			return nil, fmt.Errorf("%w: unknown %s %q", ErrValidation, kind, token)
		}
		ids = mergeIDs(ids, []string{ref.ID})
	}
	return ids, nil
}

// mergeIDs appends the IDs from add that are not already in base.
func mergeIDs(base, add []string) []string {
	for _, id := range add {
		seen := false
		for _, b := range base {
			if b == id {
				seen = true
				break
			}
		}
		if !seen {
			base = append(base, id)
		}
	}
	return base
}
