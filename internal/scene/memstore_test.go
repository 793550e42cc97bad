package scene_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openmux/scrivener/internal/scene"
)

func newActiveScene(t *testing.T, s scene.Store, locationID string) scene.Scene {
	t.Helper()
	sc, err := s.CreateScene(context.Background(), scene.Scene{
		LocationID: locationID,
		Visibility: scene.VisibilityPrivate,
	})
	if err != nil {
		t.Fatalf("CreateScene: unexpected error: %v", err)
	}
	return sc
}

func TestCreateScene(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("assigns increasing numbers", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		first := newActiveScene(t, s, "tavern")
		second := newActiveScene(t, s, "market")
		if first.Number <= 0 {
			t.Fatalf("CreateScene: expected positive number, got %d", first.Number)
		}
		if second.Number <= first.Number {
			t.Fatalf("CreateScene: expected number > %d, got %d", first.Number, second.Number)
		}
	})

	t.Run("second active scene at one location conflicts", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		newActiveScene(t, s, "tavern")
		_, err := s.CreateScene(ctx, scene.Scene{LocationID: "tavern", Visibility: scene.VisibilityPrivate})
		if !errors.Is(err, scene.ErrConflict) {
			t.Fatalf("CreateScene: expected ErrConflict, got %v", err)
		}
	})

	t.Run("concurrent creates have exactly one winner", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()

		const attempts = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CreateScene(ctx, scene.Scene{
					LocationID: "tavern",
					Visibility: scene.VisibilityPrivate,
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !errors.Is(err, scene.ErrConflict) {
					t.Errorf("CreateScene: unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("CreateScene: expected exactly 1 winner, got %d", wins)
		}
	})

	t.Run("location is free again after close", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		if _, err := s.CloseScene(ctx, sc.ID, time.Now(), false); err != nil {
			t.Fatalf("CloseScene: unexpected error: %v", err)
		}
		if _, err := s.CreateScene(ctx, scene.Scene{LocationID: "tavern", Visibility: scene.VisibilityPrivate}); err != nil {
			t.Fatalf("CreateScene after close: unexpected error: %v", err)
		}
	})
}

func TestCloseScene(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("clears location and stamps completion", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		at := time.Now().UTC()

		closed, err := s.CloseScene(ctx, sc.ID, at, true)
		if err != nil {
			t.Fatalf("CloseScene: unexpected error: %v", err)
		}
		if closed.Status != scene.StatusCompleted {
			t.Fatalf("CloseScene: expected status completed, got %q", closed.Status)
		}
		if closed.LocationID != "" {
			t.Fatalf("CloseScene: expected cleared location, got %q", closed.LocationID)
		}
		if !closed.CompletedAt.Equal(at) {
			t.Fatalf("CloseScene: expected completion time %v, got %v", at, closed.CompletedAt)
		}
		if !closed.AutoClosed {
			t.Fatal("CloseScene: expected auto-closed flag set")
		}
		if _, err := s.ActiveSceneAt(ctx, "tavern"); !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("ActiveSceneAt after close: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("closing twice returns ErrSceneClosed", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		if _, err := s.CloseScene(ctx, sc.ID, time.Now(), false); err != nil {
			t.Fatalf("CloseScene: unexpected error: %v", err)
		}
		_, err := s.CloseScene(ctx, sc.ID, time.Now(), false)
		if !errors.Is(err, scene.ErrSceneClosed) {
			t.Fatalf("CloseScene: expected ErrSceneClosed, got %v", err)
		}
	})

	t.Run("missing scene returns ErrNotFound", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		_, err := s.CloseScene(ctx, "does-not-exist", time.Now(), false)
		if !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("CloseScene: expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateScene(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("writes annotation metadata", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")

		sc.Title = "The Long Night"
		sc.GroupIDs = []string{"grp-watch"}
		sc.Visibility = scene.VisibilityOrganisation
		if err := s.UpdateScene(ctx, sc); err != nil {
			t.Fatalf("UpdateScene: unexpected error: %v", err)
		}

		got, err := s.Scene(ctx, sc.ID)
		if err != nil {
			t.Fatalf("Scene: unexpected error: %v", err)
		}
		if got.Title != "The Long Night" || got.Visibility != scene.VisibilityOrganisation {
			t.Fatalf("UpdateScene: metadata not applied, got %+v", got)
		}
	})

	t.Run("stale snapshot cannot resurrect a closed scene", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")

		// Snapshot read before the close, as an annotation racing a stop
		// would hold.
		snapshot := sc
		if _, err := s.CloseScene(ctx, sc.ID, time.Now().UTC(), true); err != nil {
			t.Fatalf("CloseScene: unexpected error: %v", err)
		}

		snapshot.Title = "Renamed after the fact"
		if err := s.UpdateScene(ctx, snapshot); err != nil {
			t.Fatalf("UpdateScene: unexpected error: %v", err)
		}

		got, err := s.Scene(ctx, sc.ID)
		if err != nil {
			t.Fatalf("Scene: unexpected error: %v", err)
		}
		if got.Status != scene.StatusCompleted {
			t.Fatalf("UpdateScene: stale snapshot changed status to %q", got.Status)
		}
		if got.Title != "Renamed after the fact" {
			t.Fatalf("UpdateScene: expected title applied, got %q", got.Title)
		}
		_, err = s.AppendEntry(ctx, scene.Entry{SceneID: sc.ID, Kind: scene.EntrySpeech, Text: "too late"})
		if !errors.Is(err, scene.ErrSceneClosed) {
			t.Fatalf("AppendEntry after close: expected ErrSceneClosed, got %v", err)
		}
	})
}

func TestMarkStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("frees the location of a still-active scene", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		at := time.Now().UTC()

		got, err := s.MarkStatus(ctx, sc.ID, scene.StatusDeleted, at)
		if err != nil {
			t.Fatalf("MarkStatus: unexpected error: %v", err)
		}
		if got.Status != scene.StatusDeleted || !got.DeletedAt.Equal(at) {
			t.Fatalf("MarkStatus: expected deleted with stamp, got %+v", got)
		}
		if got.LocationID != "" {
			t.Fatalf("MarkStatus: expected cleared location, got %q", got.LocationID)
		}
		if _, err := s.ActiveSceneAt(ctx, "tavern"); !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("ActiveSceneAt after delete: expected ErrNotFound, got %v", err)
		}
		if _, err := s.CreateScene(ctx, scene.Scene{LocationID: "tavern", Visibility: scene.VisibilityPrivate}); err != nil {
			t.Fatalf("CreateScene after delete: location should be free, got %v", err)
		}
	})

	t.Run("archives a completed scene", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		if _, err := s.CloseScene(ctx, sc.ID, time.Now().UTC(), false); err != nil {
			t.Fatalf("CloseScene: unexpected error: %v", err)
		}

		at := time.Now().UTC()
		got, err := s.MarkStatus(ctx, sc.ID, scene.StatusArchived, at)
		if err != nil {
			t.Fatalf("MarkStatus: unexpected error: %v", err)
		}
		if got.Status != scene.StatusArchived || !got.ArchivedAt.Equal(at) {
			t.Fatalf("MarkStatus: expected archived with stamp, got %+v", got)
		}
		if got.CompletedAt.IsZero() {
			t.Fatal("MarkStatus: completion stamp must survive archiving")
		}
	})

	t.Run("missing scene returns ErrNotFound", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		_, err := s.MarkStatus(ctx, "does-not-exist", scene.StatusArchived, time.Now())
		if !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("MarkStatus: expected ErrNotFound, got %v", err)
		}
	})
}

func TestAppendEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("ordinals start at one and increase", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")

		for want := int64(1); want <= 3; want++ {
			e, err := s.AppendEntry(ctx, scene.Entry{SceneID: sc.ID, Kind: scene.EntrySpeech, Text: "hello"})
			if err != nil {
				t.Fatalf("AppendEntry: unexpected error: %v", err)
			}
			if e.Ordinal != want {
				t.Fatalf("AppendEntry: expected ordinal %d, got %d", want, e.Ordinal)
			}
		}
	})

	t.Run("concurrent appends stay gapless", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")

		const n = 64
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.AppendEntry(ctx, scene.Entry{SceneID: sc.ID, Kind: scene.EntryAction, Text: "x"}); err != nil {
					t.Errorf("AppendEntry: unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		entries, err := s.Entries(ctx, sc.ID, scene.EntryFilter{})
		if err != nil {
			t.Fatalf("Entries: unexpected error: %v", err)
		}
		if len(entries) != n {
			t.Fatalf("Entries: expected %d entries, got %d", n, len(entries))
		}
		for i, e := range entries {
			if e.Ordinal != int64(i+1) {
				t.Fatalf("Entries: expected ordinal %d at position %d, got %d", i+1, i, e.Ordinal)
			}
		}
	})

	t.Run("closed scene rejects appends", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		if _, err := s.CloseScene(ctx, sc.ID, time.Now(), false); err != nil {
			t.Fatalf("CloseScene: unexpected error: %v", err)
		}
		_, err := s.AppendEntry(ctx, scene.Entry{SceneID: sc.ID, Kind: scene.EntrySpeech, Text: "late"})
		if !errors.Is(err, scene.ErrSceneClosed) {
			t.Fatalf("AppendEntry: expected ErrSceneClosed, got %v", err)
		}
	})

	t.Run("filter narrows by kind and time", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")

		base := time.Now().UTC()
		fixtures := []scene.Entry{
			{SceneID: sc.ID, Kind: scene.EntrySpeech, Text: "one", Timestamp: base},
			{SceneID: sc.ID, Kind: scene.EntryAction, Text: "two", Timestamp: base.Add(time.Minute)},
			{SceneID: sc.ID, Kind: scene.EntrySpeech, Text: "three", Timestamp: base.Add(2 * time.Minute)},
		}
		for _, e := range fixtures {
			if _, err := s.AppendEntry(ctx, e); err != nil {
				t.Fatalf("AppendEntry: unexpected error: %v", err)
			}
		}

		got, err := s.Entries(ctx, sc.ID, scene.EntryFilter{Kind: scene.EntrySpeech, From: base.Add(time.Minute)})
		if err != nil {
			t.Fatalf("Entries: unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Text != "three" {
			t.Fatalf("Entries: expected only %q, got %+v", "three", got)
		}
	})
}

func TestJoinAndLeave(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rejoin opens a second segment", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		base := time.Now().UTC()

		if _, err := s.Join(ctx, sc.ID, "alice", "Alice", base); err != nil {
			t.Fatalf("Join: unexpected error: %v", err)
		}
		if _, err := s.Leave(ctx, sc.ID, "alice", base.Add(time.Minute)); err != nil {
			t.Fatalf("Leave: unexpected error: %v", err)
		}
		p, err := s.Join(ctx, sc.ID, "alice", "Alice", base.Add(2*time.Minute))
		if err != nil {
			t.Fatalf("Join again: unexpected error: %v", err)
		}
		if !p.Present {
			t.Fatal("Join again: expected participant present")
		}
		if !p.FirstJoinedAt.Equal(base) {
			t.Fatalf("Join again: expected first join %v preserved, got %v", base, p.FirstJoinedAt)
		}

		segs, err := s.Segments(ctx, sc.ID, "alice")
		if err != nil {
			t.Fatalf("Segments: unexpected error: %v", err)
		}
		if len(segs) != 2 {
			t.Fatalf("Segments: expected 2 segments, got %d", len(segs))
		}
		if segs[0].Open() {
			t.Fatal("Segments: expected first segment closed")
		}
		if !segs[1].Open() {
			t.Fatal("Segments: expected second segment open")
		}
	})

	t.Run("joining while present is a no-op", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		at := time.Now().UTC()

		if _, err := s.Join(ctx, sc.ID, "bob", "Bob", at); err != nil {
			t.Fatalf("Join: unexpected error: %v", err)
		}
		if _, err := s.Join(ctx, sc.ID, "bob", "Bob", at.Add(time.Second)); err != nil {
			t.Fatalf("Join twice: unexpected error: %v", err)
		}
		segs, err := s.Segments(ctx, sc.ID, "bob")
		if err != nil {
			t.Fatalf("Segments: unexpected error: %v", err)
		}
		if len(segs) != 1 {
			t.Fatalf("Segments: expected 1 segment, got %d", len(segs))
		}
	})

	t.Run("leave by a stranger returns ErrNotFound", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		_, err := s.Leave(ctx, sc.ID, "nobody", time.Now())
		if !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("Leave: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("close open segments departs everyone", func(t *testing.T) {
		t.Parallel()
		s := scene.NewMemStore()
		sc := newActiveScene(t, s, "tavern")
		at := time.Now().UTC()

		for _, actor := range []string{"alice", "bob"} {
			if _, err := s.Join(ctx, sc.ID, actor, actor, at); err != nil {
				t.Fatalf("Join %s: unexpected error: %v", actor, err)
			}
		}
		end := at.Add(time.Hour)
		if err := s.CloseOpenSegments(ctx, sc.ID, end); err != nil {
			t.Fatalf("CloseOpenSegments: unexpected error: %v", err)
		}

		participants, err := s.Participants(ctx, sc.ID)
		if err != nil {
			t.Fatalf("Participants: unexpected error: %v", err)
		}
		if len(participants) != 2 {
			t.Fatalf("Participants: expected 2, got %d", len(participants))
		}
		for _, p := range participants {
			if p.Present {
				t.Fatalf("Participants: expected %s departed", p.ActorID)
			}
			if !p.LastLeftAt.Equal(end) {
				t.Fatalf("Participants: expected %s left at %v, got %v", p.ActorID, end, p.LastLeftAt)
			}
		}
	})
}

func TestListScenes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := scene.NewMemStore()

	older, err := s.CreateScene(ctx, scene.Scene{
		LocationID: "tavern",
		Visibility: scene.VisibilityPrivate,
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateScene: unexpected error: %v", err)
	}
	newer := newActiveScene(t, s, "market")
	if _, err := s.Join(ctx, older.ID, "alice", "Alice", older.CreatedAt); err != nil {
		t.Fatalf("Join: unexpected error: %v", err)
	}

	t.Run("most recent first", func(t *testing.T) {
		t.Parallel()
		scenes, err := s.ListScenes(ctx, scene.ListOptions{})
		if err != nil {
			t.Fatalf("ListScenes: unexpected error: %v", err)
		}
		if len(scenes) != 2 || scenes[0].ID != newer.ID {
			t.Fatalf("ListScenes: expected %q first, got %+v", newer.ID, scenes)
		}
	})

	t.Run("actor filter restricts to participations", func(t *testing.T) {
		t.Parallel()
		scenes, err := s.ListScenes(ctx, scene.ListOptions{ActorID: "alice"})
		if err != nil {
			t.Fatalf("ListScenes: unexpected error: %v", err)
		}
		if len(scenes) != 1 || scenes[0].ID != older.ID {
			t.Fatalf("ListScenes: expected only %q, got %+v", older.ID, scenes)
		}
	})

	t.Run("most recent for actor", func(t *testing.T) {
		t.Parallel()
		sc, err := s.MostRecentFor(ctx, "alice")
		if err != nil {
			t.Fatalf("MostRecentFor: unexpected error: %v", err)
		}
		if sc.ID != older.ID {
			t.Fatalf("MostRecentFor: expected %q, got %q", older.ID, sc.ID)
		}
		if _, err := s.MostRecentFor(ctx, "nobody"); !errors.Is(err, scene.ErrNotFound) {
			t.Fatalf("MostRecentFor: expected ErrNotFound, got %v", err)
		}
	})
}
