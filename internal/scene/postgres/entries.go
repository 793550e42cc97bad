package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openmux/scrivener/internal/scene"
)

// AppendEntry implements [scene.Store.AppendEntry]. The scene row is locked
// before the ordinal is computed, so appends against one scene serialize and
// the sequence stays gapless; appends against other scenes take other row
// locks and proceed in parallel.
func (s *Store) AppendEntry(ctx context.Context, e scene.Entry) (scene.Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var status scene.Status
		err := tx.QueryRow(ctx,
			"SELECT status FROM scenes WHERE id = $1 FOR UPDATE", e.SceneID,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return scene.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock scene: %w", err)
		}
		if status != scene.StatusActive {
			return scene.ErrSceneClosed
		}

		const q = `
			INSERT INTO scene_entries
			    (scene_id, ordinal, created_at, kind, actor_id, target_id, text, text_plain)
			SELECT $1, coalesce(max(ordinal), 0) + 1, $2, $3, $4, $5, $6, $7
			FROM   scene_entries
			WHERE  scene_id = $1
			RETURNING ordinal`
		err = tx.QueryRow(ctx, q,
			e.SceneID, e.Timestamp, e.Kind, e.ActorID, e.TargetID, e.Text, e.TextPlain,
		).Scan(&e.Ordinal)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, scene.ErrNotFound) || errors.Is(err, scene.ErrSceneClosed) {
			return scene.Entry{}, err
		}
		return scene.Entry{}, fmt.Errorf("scene store: append entry: %w", err)
	}
	return e, nil
}

// Entries implements [scene.Store.Entries].
func (s *Store) Entries(ctx context.Context, sceneID string, f scene.EntryFilter) ([]scene.Entry, error) {
	args := []any{sceneID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"scene_id = $1"}
	if !f.From.IsZero() {
		conditions = append(conditions, "created_at >= "+next(f.From))
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "created_at <= "+next(f.To))
	}
	if f.Kind != "" {
		conditions = append(conditions, "kind = "+next(f.Kind))
	}

	q := `SELECT scene_id, ordinal, created_at, kind, actor_id, target_id, text, text_plain
		FROM scene_entries
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY ordinal`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scene store: list entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (scene.Entry, error) {
		var e scene.Entry
		err := row.Scan(&e.SceneID, &e.Ordinal, &e.Timestamp, &e.Kind,
			&e.ActorID, &e.TargetID, &e.Text, &e.TextPlain)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scene store: scan entries: %w", err)
	}
	if entries == nil {
		entries = []scene.Entry{}
	}
	return entries, nil
}
