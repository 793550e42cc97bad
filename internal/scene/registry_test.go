package scene_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/openmux/scrivener/internal/scene"
)

var (
	narrator = scene.Viewer{ActorID: "narrator", Privileged: true}
	alice    = scene.Viewer{ActorID: "alice"}
	bob      = scene.Viewer{ActorID: "bob"}
)

func newRegistry(t *testing.T) (*scene.Registry, *scene.MemStore) {
	t.Helper()
	store := scene.NewMemStore()
	reg := scene.NewRegistry(scene.RegistryConfig{
		Store: store,
		Directory: scene.NewStaticDirectory(
			[]scene.Ref{{ID: "grp-watch", Name: "The Night Watch"}},
			[]scene.Ref{{ID: "plot-siege", Name: "Siege of the Outer Gate"}},
		),
		DefaultChapter: "chapter-3",
	})
	return reg, store
}

func startScene(t *testing.T, reg *scene.Registry, initiator scene.Viewer, p scene.StartParams) scene.Scene {
	t.Helper()
	if p.Visibility == "" {
		p.Visibility = scene.VisibilityPrivate
	}
	sc, err := reg.Start(context.Background(), initiator, p)
	if err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	return sc
}

func TestRegistryStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("applies default chapter and joins present actors", func(t *testing.T) {
		t.Parallel()
		reg, store := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}},
		})
		if sc.ChapterID != "chapter-3" {
			t.Fatalf("Start: expected default chapter, got %q", sc.ChapterID)
		}
		if sc.StartedBy != "alice" {
			t.Fatalf("Start: expected started_by alice, got %q", sc.StartedBy)
		}
		participants, err := store.Participants(ctx, sc.ID)
		if err != nil {
			t.Fatalf("Participants: unexpected error: %v", err)
		}
		if len(participants) != 2 {
			t.Fatalf("Participants: expected 2 initial participants, got %d", len(participants))
		}
		for _, p := range participants {
			if !p.Present {
				t.Fatalf("Participants: expected %s present", p.ActorID)
			}
		}
	})

	t.Run("resolves group and plot tokens by name", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID:  "tavern",
			Visibility:  scene.VisibilityOrganisation,
			GroupTokens: []string{"the night watch"},
			PlotTokens:  []string{"plot-siege"},
		})
		if len(sc.GroupIDs) != 1 || sc.GroupIDs[0] != "grp-watch" {
			t.Fatalf("Start: expected group grp-watch, got %v", sc.GroupIDs)
		}
		if len(sc.PlotIDs) != 1 || sc.PlotIDs[0] != "plot-siege" {
			t.Fatalf("Start: expected plot plot-siege, got %v", sc.PlotIDs)
		}
	})

	t.Run("unknown token suggests the nearest name", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		_, err := reg.Start(ctx, alice, scene.StartParams{
			LocationID:  "tavern",
			Visibility:  scene.VisibilityOrganisation,
			GroupTokens: []string{"The Night Wach"},
		})
		if !errors.Is(err, scene.ErrValidation) {
			t.Fatalf("Start: expected ErrValidation, got %v", err)
		}
		if !strings.Contains(err.Error(), "The Night Watch") {
			t.Fatalf("Start: expected suggestion in error, got %q", err)
		}
	})

	t.Run("rejects missing location and bad visibility", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		if _, err := reg.Start(ctx, alice, scene.StartParams{Visibility: scene.VisibilityPrivate}); !errors.Is(err, scene.ErrValidation) {
			t.Fatalf("Start without location: expected ErrValidation, got %v", err)
		}
		if _, err := reg.Start(ctx, alice, scene.StartParams{LocationID: "tavern", Visibility: "secret"}); !errors.Is(err, scene.ErrValidation) {
			t.Fatalf("Start with bad visibility: expected ErrValidation, got %v", err)
		}
	})

	t.Run("over-long title is rejected", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		_, err := reg.Start(ctx, alice, scene.StartParams{
			LocationID: "tavern",
			Visibility: scene.VisibilityPrivate,
			Title:      strings.Repeat("x", 201),
		})
		if !errors.Is(err, scene.ErrValidation) {
			t.Fatalf("Start: expected ErrValidation, got %v", err)
		}
	})
}

func TestRegistryStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("participant may stop by scene number", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})

		stopped, err := reg.Stop(ctx, alice, strconv.FormatInt(sc.Number, 10), "")
		if err != nil {
			t.Fatalf("Stop: unexpected error: %v", err)
		}
		if stopped.Status != scene.StatusCompleted {
			t.Fatalf("Stop: expected completed, got %q", stopped.Status)
		}
		if stopped.AutoClosed {
			t.Fatal("Stop: explicit stop must not set auto-closed")
		}
	})

	t.Run("non-participant cannot see the scene", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})
		_, err := reg.Stop(ctx, bob, sc.ID, "")
		if !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("Stop: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("stopping a completed scene returns ErrSceneClosed", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})
		if _, err := reg.Stop(ctx, alice, sc.ID, ""); err != nil {
			t.Fatalf("Stop: unexpected error: %v", err)
		}
		_, err := reg.Stop(ctx, alice, sc.ID, "")
		if !errors.Is(err, scene.ErrSceneClosed) {
			t.Fatalf("Stop twice: expected ErrSceneClosed, got %v", err)
		}
	})

	t.Run("finalize closes segments and is idempotent on the auto path", func(t *testing.T) {
		t.Parallel()
		reg, store := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})

		closed, err := reg.Finalize(ctx, sc.ID, true)
		if err != nil {
			t.Fatalf("Finalize: unexpected error: %v", err)
		}
		if !closed.AutoClosed {
			t.Fatal("Finalize: expected auto-closed flag")
		}
		segs, err := store.Segments(ctx, sc.ID, "alice")
		if err != nil {
			t.Fatalf("Segments: unexpected error: %v", err)
		}
		if len(segs) != 1 || segs[0].Open() {
			t.Fatalf("Segments: expected one closed segment, got %+v", segs)
		}

		// A second auto finalize is a no-op, not an error.
		again, err := reg.Finalize(ctx, sc.ID, true)
		if err != nil {
			t.Fatalf("Finalize twice: unexpected error: %v", err)
		}
		if again.ID != sc.ID || again.Status != scene.StatusCompleted {
			t.Fatalf("Finalize twice: expected the completed scene back, got %+v", again)
		}
	})
}

func TestRegistryAnnotate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("title can be set after completion", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})
		if _, err := reg.Stop(ctx, alice, sc.ID, ""); err != nil {
			t.Fatalf("Stop: unexpected error: %v", err)
		}

		got, err := reg.SetTitle(ctx, alice, sc.ID, "", "The Long Night")
		if err != nil {
			t.Fatalf("SetTitle: unexpected error: %v", err)
		}
		if got.Title != "The Long Night" {
			t.Fatalf("SetTitle: expected title set, got %q", got.Title)
		}
	})

	t.Run("adding groups promotes a private scene to organisation", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})

		got, err := reg.AddGroups(ctx, alice, sc.ID, "", []string{"grp-watch"})
		if err != nil {
			t.Fatalf("AddGroups: unexpected error: %v", err)
		}
		if got.Visibility != scene.VisibilityOrganisation {
			t.Fatalf("AddGroups: expected promotion to organisation, got %q", got.Visibility)
		}
		if len(got.GroupIDs) != 1 || got.GroupIDs[0] != "grp-watch" {
			t.Fatalf("AddGroups: expected group recorded, got %v", got.GroupIDs)
		}
	})

	t.Run("non-participant may not annotate even a visible scene", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Visibility: scene.VisibilityEvent,
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})
		_, err := reg.SetTitle(ctx, bob, sc.ID, "", "Vandalism")
		if !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("SetTitle: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("visibility change requires privilege", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})

		if _, err := reg.SetVisibility(ctx, alice, sc.ID, "", scene.VisibilityEvent); !errors.Is(err, scene.ErrPermission) {
			t.Fatalf("SetVisibility as participant: expected ErrPermission, got %v", err)
		}
		got, err := reg.SetVisibility(ctx, narrator, sc.ID, "", scene.VisibilityEvent)
		if err != nil {
			t.Fatalf("SetVisibility as narrator: unexpected error: %v", err)
		}
		if got.Visibility != scene.VisibilityEvent {
			t.Fatalf("SetVisibility: expected event, got %q", got.Visibility)
		}
	})

	t.Run("organisation visibility needs an associated group", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})
		_, err := reg.SetVisibility(ctx, narrator, sc.ID, "", scene.VisibilityOrganisation)
		if !errors.Is(err, scene.ErrValidation) {
			t.Fatalf("SetVisibility: expected ErrValidation, got %v", err)
		}
	})

	t.Run("archive and delete are privileged-only", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})
		if _, err := reg.Archive(ctx, alice, sc.ID); !errors.Is(err, scene.ErrPermission) {
			t.Fatalf("Archive as participant: expected ErrPermission, got %v", err)
		}
		if _, err := reg.SoftDelete(ctx, alice, sc.ID); !errors.Is(err, scene.ErrPermission) {
			t.Fatalf("SoftDelete as participant: expected ErrPermission, got %v", err)
		}

		got, err := reg.SoftDelete(ctx, narrator, sc.ID)
		if err != nil {
			t.Fatalf("SoftDelete as narrator: unexpected error: %v", err)
		}
		if got.Status != scene.StatusDeleted || got.DeletedAt.IsZero() {
			t.Fatalf("SoftDelete: expected deleted with stamp, got %+v", got)
		}
	})

	t.Run("deleting an active scene frees its location", func(t *testing.T) {
		t.Parallel()
		reg, store := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})

		got, err := reg.SoftDelete(ctx, narrator, sc.ID)
		if err != nil {
			t.Fatalf("SoftDelete of active scene: unexpected error: %v", err)
		}
		if got.Status != scene.StatusDeleted || got.LocationID != "" {
			t.Fatalf("SoftDelete: expected deleted with cleared location, got %+v", got)
		}
		if _, err := store.ActiveSceneAt(ctx, "tavern"); !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("ActiveSceneAt after delete: expected ErrNotFound, got %v", err)
		}
		p, err := store.Participant(ctx, sc.ID, "alice")
		if err != nil {
			t.Fatalf("Participant: unexpected error: %v", err)
		}
		if p.Present {
			t.Fatal("SoftDelete of active scene must close open segments")
		}

		if _, err := reg.Start(ctx, bob, scene.StartParams{
			LocationID: "tavern",
			Visibility: scene.VisibilityPrivate,
		}); err != nil {
			t.Fatalf("Start after delete: location should be free, got %v", err)
		}
	})

	t.Run("archiving an active scene completes it first", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})

		got, err := reg.Archive(ctx, narrator, sc.ID)
		if err != nil {
			t.Fatalf("Archive of active scene: unexpected error: %v", err)
		}
		if got.Status != scene.StatusArchived || got.ArchivedAt.IsZero() {
			t.Fatalf("Archive: expected archived with stamp, got %+v", got)
		}
		if got.CompletedAt.IsZero() {
			t.Fatal("Archive of active scene must stamp completion")
		}

		again, err := reg.Archive(ctx, narrator, sc.ID)
		if err != nil {
			t.Fatalf("Archive twice: unexpected error: %v", err)
		}
		if !again.ArchivedAt.Equal(got.ArchivedAt) {
			t.Fatalf("Archive twice: stamp moved from %v to %v", got.ArchivedAt, again.ArchivedAt)
		}
	})
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("explicit reference wins", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})

		got, err := reg.Resolve(ctx, alice, strconv.FormatInt(sc.Number, 10), "elsewhere")
		if err != nil {
			t.Fatalf("Resolve: unexpected error: %v", err)
		}
		if got.ID != sc.ID {
			t.Fatalf("Resolve: expected %q, got %q", sc.ID, got.ID)
		}
	})

	t.Run("falls back to the active scene at the location", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})

		got, err := reg.Resolve(ctx, alice, "", "tavern")
		if err != nil {
			t.Fatalf("Resolve: unexpected error: %v", err)
		}
		if got.ID != sc.ID {
			t.Fatalf("Resolve: expected %q, got %q", sc.ID, got.ID)
		}
	})

	t.Run("skips the local scene when the actor is not in it", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		mine := startScene(t, reg, bob, scene.StartParams{
			LocationID: "market",
			Present:    []scene.PresentActor{{ID: "bob", Name: "Bob"}},
		})
		if _, err := reg.Stop(ctx, bob, mine.ID, ""); err != nil {
			t.Fatalf("Stop: unexpected error: %v", err)
		}
		startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})

		// Bob stands in the tavern but is not part of its scene; resolution
		// falls through to his most recent participation.
		got, err := reg.Resolve(ctx, bob, "", "tavern")
		if err != nil {
			t.Fatalf("Resolve: unexpected error: %v", err)
		}
		if got.ID != mine.ID {
			t.Fatalf("Resolve: expected fallback to %q, got %q", mine.ID, got.ID)
		}
	})

	t.Run("deleted scenes never resolve", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		sc := startScene(t, reg, alice, scene.StartParams{
			LocationID: "tavern",
			Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
		})
		if _, err := reg.SoftDelete(ctx, narrator, sc.ID); err != nil {
			t.Fatalf("SoftDelete: unexpected error: %v", err)
		}
		_, err := reg.Resolve(ctx, alice, sc.ID, "")
		if !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("Resolve: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("anonymous viewer with no reference resolves nothing", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		_, err := reg.Resolve(ctx, scene.Viewer{}, "", "")
		if !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("Resolve: expected ErrNotFound, got %v", err)
		}
	})
}

func TestRegistryAccessible(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg, _ := newRegistry(t)

	mine := startScene(t, reg, alice, scene.StartParams{
		LocationID: "tavern",
		Present:    []scene.PresentActor{{ID: "alice", Name: "Alice"}},
	})
	startScene(t, reg, bob, scene.StartParams{
		LocationID: "market",
		Present:    []scene.PresentActor{{ID: "bob", Name: "Bob"}},
	})

	t.Run("participant sees only their own scenes", func(t *testing.T) {
		t.Parallel()
		scenes, err := reg.Accessible(ctx, alice, 0)
		if err != nil {
			t.Fatalf("Accessible: unexpected error: %v", err)
		}
		if len(scenes) != 1 || scenes[0].ID != mine.ID {
			t.Fatalf("Accessible: expected only %q, got %+v", mine.ID, scenes)
		}
	})

	t.Run("privileged viewer sees everything", func(t *testing.T) {
		t.Parallel()
		scenes, err := reg.Accessible(ctx, narrator, 0)
		if err != nil {
			t.Fatalf("Accessible: unexpected error: %v", err)
		}
		if len(scenes) != 2 {
			t.Fatalf("Accessible: expected 2 scenes, got %d", len(scenes))
		}
	})

	t.Run("anonymous viewer sees nothing", func(t *testing.T) {
		t.Parallel()
		scenes, err := reg.Accessible(ctx, scene.Viewer{}, 0)
		if err != nil {
			t.Fatalf("Accessible: unexpected error: %v", err)
		}
		if len(scenes) != 0 {
			t.Fatalf("Accessible: expected no scenes, got %d", len(scenes))
		}
	})
}
