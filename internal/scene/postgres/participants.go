package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openmux/scrivener/internal/scene"
)

// Join implements [scene.Store.Join]. The participant row is locked for the
// duration of the transaction so a join racing a leave for the same actor
// settles in row order.
func (s *Store) Join(ctx context.Context, sceneID, actorID, actorName string, at time.Time) (scene.Participant, error) {
	var p scene.Participant
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		const upsert = `
			INSERT INTO scene_participants (scene_id, actor_id, actor_name, first_joined_at, is_present)
			VALUES ($1, $2, $3, $4, TRUE)
			ON CONFLICT (scene_id, actor_id) DO NOTHING`
		tag, err := tx.Exec(ctx, upsert, sceneID, actorID, actorName, at)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		inserted := tag.RowsAffected() > 0

		p, err = lockParticipant(ctx, tx, sceneID, actorID)
		if err != nil {
			return err
		}
		if !inserted {
			if p.Present {
				// Already present, nothing to do.
				return nil
			}
			const rejoin = `
				UPDATE scene_participants
				SET    is_present = TRUE, last_left_at = NULL
				WHERE  scene_id = $1 AND actor_id = $2`
			if _, err := tx.Exec(ctx, rejoin, sceneID, actorID); err != nil {
				return fmt.Errorf("mark present: %w", err)
			}
			p.Present = true
			p.LastLeftAt = time.Time{}
		}

		const openSegment = `
			INSERT INTO scene_segments (scene_id, actor_id, joined_at)
			VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, openSegment, sceneID, actorID, at); err != nil {
			return fmt.Errorf("open segment: %w", err)
		}
		return nil
	})
	if err != nil {
		return scene.Participant{}, fmt.Errorf("scene store: join: %w", err)
	}
	return p, nil
}

// Leave implements [scene.Store.Leave].
func (s *Store) Leave(ctx context.Context, sceneID, actorID string, at time.Time) (scene.Participant, error) {
	var p scene.Participant
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		p, err = lockParticipant(ctx, tx, sceneID, actorID)
		if err != nil {
			return err
		}
		if !p.Present {
			return nil
		}

		const depart = `
			UPDATE scene_participants
			SET    is_present = FALSE, last_left_at = $3
			WHERE  scene_id = $1 AND actor_id = $2`
		if _, err := tx.Exec(ctx, depart, sceneID, actorID, at); err != nil {
			return fmt.Errorf("mark departed: %w", err)
		}

		const closeSegment = `
			UPDATE scene_segments
			SET    left_at = $3
			WHERE  scene_id = $1 AND actor_id = $2 AND left_at IS NULL`
		if _, err := tx.Exec(ctx, closeSegment, sceneID, actorID, at); err != nil {
			return fmt.Errorf("close segment: %w", err)
		}
		p.Present = false
		p.LastLeftAt = at
		return nil
	})
	if err != nil {
		if errors.Is(err, scene.ErrNotFound) {
			return scene.Participant{}, scene.ErrNotFound
		}
		return scene.Participant{}, fmt.Errorf("scene store: leave: %w", err)
	}
	return p, nil
}

// CloseOpenSegments implements [scene.Store.CloseOpenSegments].
func (s *Store) CloseOpenSegments(ctx context.Context, sceneID string, at time.Time) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		const depart = `
			UPDATE scene_participants
			SET    is_present = FALSE, last_left_at = $2
			WHERE  scene_id = $1 AND is_present`
		if _, err := tx.Exec(ctx, depart, sceneID, at); err != nil {
			return fmt.Errorf("mark departed: %w", err)
		}
		const closeSegments = `
			UPDATE scene_segments
			SET    left_at = $2
			WHERE  scene_id = $1 AND left_at IS NULL`
		if _, err := tx.Exec(ctx, closeSegments, sceneID, at); err != nil {
			return fmt.Errorf("close segments: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scene store: close open segments: %w", err)
	}
	return nil
}

// Participant implements [scene.Store.Participant].
func (s *Store) Participant(ctx context.Context, sceneID, actorID string) (scene.Participant, error) {
	const q = `
		SELECT scene_id, actor_id, actor_name, first_joined_at, last_left_at, is_present
		FROM   scene_participants
		WHERE  scene_id = $1 AND actor_id = $2`
	p, err := scanParticipant(s.pool.QueryRow(ctx, q, sceneID, actorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return scene.Participant{}, scene.ErrNotFound
	}
	if err != nil {
		return scene.Participant{}, fmt.Errorf("scene store: get participant: %w", err)
	}
	return p, nil
}

// Participants implements [scene.Store.Participants].
func (s *Store) Participants(ctx context.Context, sceneID string) ([]scene.Participant, error) {
	const q = `
		SELECT scene_id, actor_id, actor_name, first_joined_at, last_left_at, is_present
		FROM   scene_participants
		WHERE  scene_id = $1
		ORDER BY first_joined_at, actor_id`
	rows, err := s.pool.Query(ctx, q, sceneID)
	if err != nil {
		return nil, fmt.Errorf("scene store: list participants: %w", err)
	}
	participants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (scene.Participant, error) {
		return scanParticipant(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scene store: scan participants: %w", err)
	}
	if participants == nil {
		participants = []scene.Participant{}
	}
	return participants, nil
}

// Segments implements [scene.Store.Segments].
func (s *Store) Segments(ctx context.Context, sceneID, actorID string) ([]scene.Segment, error) {
	const q = `
		SELECT joined_at, left_at
		FROM   scene_segments
		WHERE  scene_id = $1 AND actor_id = $2
		ORDER BY joined_at, id`
	rows, err := s.pool.Query(ctx, q, sceneID, actorID)
	if err != nil {
		return nil, fmt.Errorf("scene store: list segments: %w", err)
	}
	segments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (scene.Segment, error) {
		var (
			seg    scene.Segment
			leftAt *time.Time
		)
		if err := row.Scan(&seg.JoinedAt, &leftAt); err != nil {
			return scene.Segment{}, err
		}
		seg.LeftAt = timeOrZero(leftAt)
		return seg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scene store: scan segments: %w", err)
	}
	if segments == nil {
		segments = []scene.Segment{}
	}
	return segments, nil
}

// lockParticipant selects a participant row FOR UPDATE inside tx, mapping a
// missing row to [scene.ErrNotFound].
func lockParticipant(ctx context.Context, tx pgx.Tx, sceneID, actorID string) (scene.Participant, error) {
	const q = `
		SELECT scene_id, actor_id, actor_name, first_joined_at, last_left_at, is_present
		FROM   scene_participants
		WHERE  scene_id = $1 AND actor_id = $2
		FOR UPDATE`
	p, err := scanParticipant(tx.QueryRow(ctx, q, sceneID, actorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return scene.Participant{}, scene.ErrNotFound
	}
	if err != nil {
		return scene.Participant{}, fmt.Errorf("lock participant: %w", err)
	}
	return p, nil
}

// scanParticipant scans one participant row.
func scanParticipant(row pgx.Row) (scene.Participant, error) {
	var (
		p          scene.Participant
		lastLeftAt *time.Time
	)
	if err := row.Scan(&p.SceneID, &p.ActorID, &p.ActorName, &p.FirstJoinedAt, &lastLeftAt, &p.Present); err != nil {
		return scene.Participant{}, err
	}
	p.LastLeftAt = timeOrZero(lastLeftAt)
	return p, nil
}
