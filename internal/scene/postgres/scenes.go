package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openmux/scrivener/internal/scene"
)

// sceneColumns is the select list every scene query shares.
const sceneColumns = `id, number, location_id, status, visibility, title, chapter_id,
	group_ids, plot_ids, started_by, created_at, completed_at, archived_at, deleted_at, auto_closed`

// CreateScene implements [scene.Store.CreateScene]. The one-active-scene-
// per-location rule is enforced by the partial unique index over active
// scenes, so concurrent creates against one location settle in the database.
func (s *Store) CreateScene(ctx context.Context, sc scene.Scene) (scene.Scene, error) {
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	groupsJSON, err := marshalIDs(sc.GroupIDs)
	if err != nil {
		return scene.Scene{}, fmt.Errorf("scene store: marshal group ids: %w", err)
	}
	plotsJSON, err := marshalIDs(sc.PlotIDs)
	if err != nil {
		return scene.Scene{}, fmt.Errorf("scene store: marshal plot ids: %w", err)
	}

	const q = `
		INSERT INTO scenes
		    (id, location_id, status, visibility, title, chapter_id,
		     group_ids, plot_ids, started_by, created_at)
		VALUES ($1, $2, 'active', $3, $4, $5, $6, $7, $8, $9)
		RETURNING number`

	err = s.pool.QueryRow(ctx, q,
		sc.ID, sc.LocationID, sc.Visibility, sc.Title, sc.ChapterID,
		groupsJSON, plotsJSON, sc.StartedBy, sc.CreatedAt,
	).Scan(&sc.Number)
	if err != nil {
		if isUniqueViolation(err, "idx_scenes_active_location") {
			return scene.Scene{}, scene.ErrConflict
		}
		return scene.Scene{}, fmt.Errorf("scene store: create scene: %w", err)
	}
	sc.Status = scene.StatusActive
	return sc, nil
}

// Scene implements [scene.Store.Scene].
func (s *Store) Scene(ctx context.Context, id string) (scene.Scene, error) {
	return s.scanOneScene(ctx, "SELECT "+sceneColumns+" FROM scenes WHERE id = $1", id)
}

// SceneByNumber implements [scene.Store.SceneByNumber].
func (s *Store) SceneByNumber(ctx context.Context, number int64) (scene.Scene, error) {
	return s.scanOneScene(ctx, "SELECT "+sceneColumns+" FROM scenes WHERE number = $1", number)
}

// ActiveSceneAt implements [scene.Store.ActiveSceneAt].
func (s *Store) ActiveSceneAt(ctx context.Context, locationID string) (scene.Scene, error) {
	return s.scanOneScene(ctx,
		"SELECT "+sceneColumns+" FROM scenes WHERE location_id = $1 AND status = 'active'",
		locationID)
}

// UpdateScene implements [scene.Store.UpdateScene]. Only annotation metadata
// is written; status, stamps, and location stay whatever the lifecycle
// operations last committed, so a stale snapshot cannot undo a concurrent
// close.
func (s *Store) UpdateScene(ctx context.Context, sc scene.Scene) error {
	groupsJSON, err := marshalIDs(sc.GroupIDs)
	if err != nil {
		return fmt.Errorf("scene store: marshal group ids: %w", err)
	}
	plotsJSON, err := marshalIDs(sc.PlotIDs)
	if err != nil {
		return fmt.Errorf("scene store: marshal plot ids: %w", err)
	}

	const q = `
		UPDATE scenes
		SET    title = $2, chapter_id = $3, group_ids = $4, plot_ids = $5,
		       visibility = $6
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q,
		sc.ID, sc.Title, sc.ChapterID, groupsJSON, plotsJSON, sc.Visibility,
	)
	if err != nil {
		return fmt.Errorf("scene store: update scene: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scene.ErrNotFound
	}
	return nil
}

// MarkStatus implements [scene.Store.MarkStatus]. Clearing location_id takes
// a still-active scene out of the partial unique index, so the location
// frees on the same statement.
func (s *Store) MarkStatus(ctx context.Context, id string, status scene.Status, at time.Time) (scene.Scene, error) {
	const q = `
		UPDATE scenes
		SET    status = $2,
		       location_id = '',
		       archived_at = CASE WHEN $2 = 'archived' THEN $3 ELSE archived_at END,
		       deleted_at  = CASE WHEN $2 = 'deleted'  THEN $3 ELSE deleted_at  END
		WHERE  id = $1
		RETURNING ` + sceneColumns

	sc, err := scanScene(s.pool.QueryRow(ctx, q, id, status, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return scene.Scene{}, scene.ErrNotFound
	}
	if err != nil {
		return scene.Scene{}, fmt.Errorf("scene store: mark status: %w", err)
	}
	return sc, nil
}

// CloseScene implements [scene.Store.CloseScene]. The status transition is a
// single conditional UPDATE, so a concurrent manual stop and auto-close
// resolve to exactly one winner.
func (s *Store) CloseScene(ctx context.Context, id string, at time.Time, auto bool) (scene.Scene, error) {
	const q = `
		UPDATE scenes
		SET    status = 'completed', completed_at = $2, auto_closed = $3, location_id = ''
		WHERE  id = $1 AND status = 'active'
		RETURNING ` + sceneColumns

	sc, err := scanScene(s.pool.QueryRow(ctx, q, id, at, auto))
	if err == nil {
		return sc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return scene.Scene{}, fmt.Errorf("scene store: close scene: %w", err)
	}

	// No active row matched: distinguish missing from already closed.
	if _, lookupErr := s.Scene(ctx, id); lookupErr != nil {
		return scene.Scene{}, lookupErr
	}
	return scene.Scene{}, scene.ErrSceneClosed
}

// ListScenes implements [scene.Store.ListScenes].
func (s *Store) ListScenes(ctx context.Context, opts scene.ListOptions) ([]scene.Scene, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"TRUE"}
	if !opts.IncludeDeleted {
		conditions = append(conditions, "s.status <> 'deleted'")
	}
	join := ""
	if opts.ActorID != "" {
		join = "JOIN scene_participants p ON p.scene_id = s.id"
		conditions = append(conditions, "p.actor_id = "+next(opts.ActorID))
	}

	q := "SELECT " + prefixColumns("s.", sceneColumns) + "\nFROM scenes s " + join +
		"\nWHERE " + strings.Join(conditions, " AND ") +
		"\nORDER BY s.created_at DESC, s.number DESC"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scene store: list scenes: %w", err)
	}
	return collectScenes(rows)
}

// MostRecentFor implements [scene.Store.MostRecentFor].
func (s *Store) MostRecentFor(ctx context.Context, actorID string) (scene.Scene, error) {
	scenes, err := s.ListScenes(ctx, scene.ListOptions{ActorID: actorID, Limit: 1})
	if err != nil {
		return scene.Scene{}, err
	}
	if len(scenes) == 0 {
		return scene.Scene{}, scene.ErrNotFound
	}
	return scenes[0], nil
}

// scanOneScene runs a single-row scene query, mapping pgx.ErrNoRows to
// [scene.ErrNotFound].
func (s *Store) scanOneScene(ctx context.Context, q string, args ...any) (scene.Scene, error) {
	sc, err := scanScene(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return scene.Scene{}, scene.ErrNotFound
	}
	if err != nil {
		return scene.Scene{}, fmt.Errorf("scene store: get scene: %w", err)
	}
	return sc, nil
}

// scanScene scans one scene row.
func scanScene(row pgx.Row) (scene.Scene, error) {
	var (
		sc                                 scene.Scene
		groupsJSON, plotsJSON              []byte
		completedAt, archivedAt, deletedAt *time.Time
	)
	if err := row.Scan(
		&sc.ID, &sc.Number, &sc.LocationID, &sc.Status, &sc.Visibility,
		&sc.Title, &sc.ChapterID, &groupsJSON, &plotsJSON, &sc.StartedBy,
		&sc.CreatedAt, &completedAt, &archivedAt, &deletedAt, &sc.AutoClosed,
	); err != nil {
		return scene.Scene{}, err
	}
	if err := json.Unmarshal(groupsJSON, &sc.GroupIDs); err != nil {
		return scene.Scene{}, fmt.Errorf("unmarshal group ids: %w", err)
	}
	if err := json.Unmarshal(plotsJSON, &sc.PlotIDs); err != nil {
		return scene.Scene{}, fmt.Errorf("unmarshal plot ids: %w", err)
	}
	sc.CompletedAt = timeOrZero(completedAt)
	sc.ArchivedAt = timeOrZero(archivedAt)
	sc.DeletedAt = timeOrZero(deletedAt)
	return sc, nil
}

// collectScenes scans pgx rows into a slice of scenes.
func collectScenes(rows pgx.Rows) ([]scene.Scene, error) {
	scenes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (scene.Scene, error) {
		return scanScene(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scene store: scan rows: %w", err)
	}
	if scenes == nil {
		scenes = []scene.Scene{}
	}
	return scenes, nil
}

// prefixColumns qualifies each column in list with prefix for joined
// queries.
func prefixColumns(prefix, list string) string {
	cols := strings.Split(list, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
