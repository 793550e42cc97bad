package scene

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It is the
// default store for single-process deployments and testing.
//
// The top-level mutex guards only the maps and the scene/location indexes;
// each scene carries its own lock so concurrent appends against distinct
// scenes never contend with one another.
type MemStore struct {
	mu         sync.RWMutex
	scenes     map[string]*sceneState
	byNumber   map[int64]string
	activeAt   map[string]string // location ID -> active scene ID
	nextNumber int64
}

// sceneState bundles one scene with everything it owns. Its mutex guards all
// fields; when both locks are needed the store lock is taken first.
type sceneState struct {
	mu           sync.RWMutex
	scene        Scene
	participants map[string]*Participant
	joinOrder    []string
	segments     map[string][]Segment
	entries      []Entry
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		scenes:   make(map[string]*sceneState),
		byNumber: make(map[int64]string),
		activeAt: make(map[string]string),
	}
}

// CreateScene implements [Store.CreateScene]. The conflict check and the
// insert happen under a single critical section so concurrent starts against
// the same location yield exactly one winner.
func (s *MemStore) CreateScene(ctx context.Context, sc Scene) (Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.activeAt[sc.LocationID]; busy {
		return Scene{}, ErrConflict
	}

	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	s.nextNumber++
	sc.Number = s.nextNumber
	sc.Status = StatusActive

	s.scenes[sc.ID] = &sceneState{
		scene:        sc,
		participants: make(map[string]*Participant),
		segments:     make(map[string][]Segment),
	}
	s.byNumber[sc.Number] = sc.ID
	s.activeAt[sc.LocationID] = sc.ID

	return sc, nil
}

// Scene implements [Store.Scene].
func (s *MemStore) Scene(ctx context.Context, id string) (Scene, error) {
	st, err := s.state(id)
	if err != nil {
		return Scene{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.scene, nil
}

// SceneByNumber implements [Store.SceneByNumber].
func (s *MemStore) SceneByNumber(ctx context.Context, number int64) (Scene, error) {
	s.mu.RLock()
	id, ok := s.byNumber[number]
	s.mu.RUnlock()
	if !ok {
		return Scene{}, ErrNotFound
	}
	return s.Scene(ctx, id)
}

// ActiveSceneAt implements [Store.ActiveSceneAt].
func (s *MemStore) ActiveSceneAt(ctx context.Context, locationID string) (Scene, error) {
	s.mu.RLock()
	id, ok := s.activeAt[locationID]
	s.mu.RUnlock()
	if !ok {
		return Scene{}, ErrNotFound
	}
	return s.Scene(ctx, id)
}

// UpdateScene implements [Store.UpdateScene]. Only annotation metadata is
// written; lifecycle fields (status, stamps, number, location) are preserved
// from the stored record.
func (s *MemStore) UpdateScene(ctx context.Context, sc Scene) error {
	st, err := s.state(sc.ID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	cur := st.scene
	cur.Title = sc.Title
	cur.ChapterID = sc.ChapterID
	cur.GroupIDs = append([]string(nil), sc.GroupIDs...)
	cur.PlotIDs = append([]string(nil), sc.PlotIDs...)
	cur.Visibility = sc.Visibility
	st.scene = cur
	return nil
}

// MarkStatus implements [Store.MarkStatus]. Transitioning a still-active
// scene out of active drops its entry from the location index, so the
// location frees the same way [MemStore.CloseScene] frees it.
func (s *MemStore) MarkStatus(ctx context.Context, id string, status Status, at time.Time) (Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.scenes[id]
	if !ok {
		return Scene{}, ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.scene.Status == StatusActive {
		delete(s.activeAt, st.scene.LocationID)
		st.scene.LocationID = ""
	}
	st.scene.Status = status
	switch status {
	case StatusArchived:
		st.scene.ArchivedAt = at
	case StatusDeleted:
		st.scene.DeletedAt = at
	}
	return st.scene, nil
}

// CloseScene implements [Store.CloseScene].
func (s *MemStore) CloseScene(ctx context.Context, id string, at time.Time, auto bool) (Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.scenes[id]
	if !ok {
		return Scene{}, ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.scene.Status != StatusActive {
		return Scene{}, ErrSceneClosed
	}
	delete(s.activeAt, st.scene.LocationID)
	st.scene.LocationID = ""
	st.scene.Status = StatusCompleted
	st.scene.CompletedAt = at
	st.scene.AutoClosed = auto
	return st.scene, nil
}

// ListScenes implements [Store.ListScenes].
func (s *MemStore) ListScenes(ctx context.Context, opts ListOptions) ([]Scene, error) {
	s.mu.RLock()
	states := make([]*sceneState, 0, len(s.scenes))
	for _, st := range s.scenes {
		states = append(states, st)
	}
	s.mu.RUnlock()

	result := make([]Scene, 0, len(states))
	for _, st := range states {
		st.mu.RLock()
		sc := st.scene
		_, participated := st.participants[opts.ActorID]
		st.mu.RUnlock()

		if sc.Status == StatusDeleted && !opts.IncludeDeleted {
			continue
		}
		if opts.ActorID != "" && !participated {
			continue
		}
		result = append(result, sc)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Number > result[j].Number
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// MostRecentFor implements [Store.MostRecentFor].
func (s *MemStore) MostRecentFor(ctx context.Context, actorID string) (Scene, error) {
	scenes, err := s.ListScenes(ctx, ListOptions{ActorID: actorID, Limit: 1})
	if err != nil {
		return Scene{}, err
	}
	if len(scenes) == 0 {
		return Scene{}, ErrNotFound
	}
	return scenes[0], nil
}

// Join implements [Store.Join].
func (s *MemStore) Join(ctx context.Context, sceneID, actorID, actorName string, at time.Time) (Participant, error) {
	st, err := s.state(sceneID)
	if err != nil {
		return Participant{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	p, ok := st.participants[actorID]
	if !ok {
		p = &Participant{
			SceneID:       sceneID,
			ActorID:       actorID,
			ActorName:     actorName,
			FirstJoinedAt: at,
			Present:       true,
		}
		st.participants[actorID] = p
		st.joinOrder = append(st.joinOrder, actorID)
		st.segments[actorID] = append(st.segments[actorID], Segment{JoinedAt: at})
		return *p, nil
	}

	if p.Present {
		return *p, nil
	}
	p.Present = true
	p.LastLeftAt = time.Time{}
	st.segments[actorID] = append(st.segments[actorID], Segment{JoinedAt: at})
	return *p, nil
}

// Leave implements [Store.Leave].
func (s *MemStore) Leave(ctx context.Context, sceneID, actorID string, at time.Time) (Participant, error) {
	st, err := s.state(sceneID)
	if err != nil {
		return Participant{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	p, ok := st.participants[actorID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	if !p.Present {
		return *p, nil
	}
	p.Present = false
	p.LastLeftAt = at

	segs := st.segments[actorID]
	if n := len(segs); n > 0 && segs[n-1].Open() {
		segs[n-1].LeftAt = at
	}
	return *p, nil
}

// CloseOpenSegments implements [Store.CloseOpenSegments].
func (s *MemStore) CloseOpenSegments(ctx context.Context, sceneID string, at time.Time) error {
	st, err := s.state(sceneID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	for actorID, p := range st.participants {
		if !p.Present {
			continue
		}
		p.Present = false
		p.LastLeftAt = at
		segs := st.segments[actorID]
		if n := len(segs); n > 0 && segs[n-1].Open() {
			segs[n-1].LeftAt = at
		}
	}
	return nil
}

// Participant implements [Store.Participant].
func (s *MemStore) Participant(ctx context.Context, sceneID, actorID string) (Participant, error) {
	st, err := s.state(sceneID)
	if err != nil {
		return Participant{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	p, ok := st.participants[actorID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return *p, nil
}

// Participants implements [Store.Participants].
func (s *MemStore) Participants(ctx context.Context, sceneID string) ([]Participant, error) {
	st, err := s.state(sceneID)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]Participant, 0, len(st.joinOrder))
	for _, actorID := range st.joinOrder {
		result = append(result, *st.participants[actorID])
	}
	return result, nil
}

// Segments implements [Store.Segments].
func (s *MemStore) Segments(ctx context.Context, sceneID, actorID string) ([]Segment, error) {
	st, err := s.state(sceneID)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]Segment(nil), st.segments[actorID]...), nil
}

// AppendEntry implements [Store.AppendEntry]. The active check and the
// ordinal assignment share the scene's critical section, so ordinals come out
// gapless regardless of caller concurrency.
func (s *MemStore) AppendEntry(ctx context.Context, e Entry) (Entry, error) {
	st, err := s.state(e.SceneID)
	if err != nil {
		return Entry{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.scene.Status != StatusActive {
		return Entry{}, ErrSceneClosed
	}
	e.Ordinal = int64(len(st.entries)) + 1
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	st.entries = append(st.entries, e)
	return e, nil
}

// Entries implements [Store.Entries].
func (s *MemStore) Entries(ctx context.Context, sceneID string, f EntryFilter) ([]Entry, error) {
	st, err := s.state(sceneID)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]Entry, 0, len(st.entries))
	for _, e := range st.entries {
		if f.Matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

// state looks up the scene's state bundle under the store lock.
func (s *MemStore) state(sceneID string) (*sceneState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.scenes[sceneID]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}
