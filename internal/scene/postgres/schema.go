// Package postgres provides the PostgreSQL-backed implementation of
// [scene.Store].
//
// The scene is the partition key for everything it owns: participants,
// segments, and entries all cascade from their scene row. Two statements
// carry the engine's atomicity requirements: scene creation races are
// settled by a partial unique index over active scenes per location, and
// ordinal assignment runs under the scene's row lock so concurrent appends
// against one scene linearize while other scenes proceed untouched.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlScenes = `
CREATE TABLE IF NOT EXISTS scenes (
    id           TEXT         PRIMARY KEY,
    number       BIGINT       GENERATED ALWAYS AS IDENTITY,
    location_id  TEXT         NOT NULL DEFAULT '',
    status       TEXT         NOT NULL DEFAULT 'active',
    visibility   TEXT         NOT NULL,
    title        TEXT         NOT NULL DEFAULT '',
    chapter_id   TEXT         NOT NULL DEFAULT '',
    group_ids    JSONB        NOT NULL DEFAULT '[]',
    plot_ids     JSONB        NOT NULL DEFAULT '[]',
    started_by   TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ,
    archived_at  TIMESTAMPTZ,
    deleted_at   TIMESTAMPTZ,
    auto_closed  BOOLEAN      NOT NULL DEFAULT FALSE,
    UNIQUE (number)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_scenes_active_location
    ON scenes (location_id) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS idx_scenes_status ON scenes (status);
CREATE INDEX IF NOT EXISTS idx_scenes_created_at ON scenes (created_at);
`

const ddlParticipants = `
CREATE TABLE IF NOT EXISTS scene_participants (
    scene_id        TEXT         NOT NULL REFERENCES scenes (id) ON DELETE CASCADE,
    actor_id        TEXT         NOT NULL,
    actor_name      TEXT         NOT NULL DEFAULT '',
    first_joined_at TIMESTAMPTZ  NOT NULL,
    last_left_at    TIMESTAMPTZ,
    is_present      BOOLEAN      NOT NULL DEFAULT TRUE,
    PRIMARY KEY (scene_id, actor_id)
);

CREATE INDEX IF NOT EXISTS idx_scene_participants_actor
    ON scene_participants (actor_id);

CREATE TABLE IF NOT EXISTS scene_segments (
    id        BIGSERIAL    PRIMARY KEY,
    scene_id  TEXT         NOT NULL,
    actor_id  TEXT         NOT NULL,
    joined_at TIMESTAMPTZ  NOT NULL,
    left_at   TIMESTAMPTZ,
    FOREIGN KEY (scene_id, actor_id)
        REFERENCES scene_participants (scene_id, actor_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_scene_segments_lookup
    ON scene_segments (scene_id, actor_id, joined_at);
`

const ddlEntries = `
CREATE TABLE IF NOT EXISTS scene_entries (
    scene_id   TEXT         NOT NULL REFERENCES scenes (id) ON DELETE CASCADE,
    ordinal    BIGINT       NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    kind       TEXT         NOT NULL,
    actor_id   TEXT         NOT NULL DEFAULT '',
    target_id  TEXT         NOT NULL DEFAULT '',
    text       TEXT         NOT NULL,
    text_plain TEXT         NOT NULL DEFAULT '',
    PRIMARY KEY (scene_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_scene_entries_created_at
    ON scene_entries (scene_id, created_at);

CREATE INDEX IF NOT EXISTS idx_scene_entries_fts
    ON scene_entries USING GIN (to_tsvector('english', text_plain));
`

// Migrate executes the DDL against the pool, creating all tables and indexes
// if they do not already exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlScenes, ddlParticipants, ddlEntries} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("scene store: migrate: %w", err)
		}
	}
	return nil
}
