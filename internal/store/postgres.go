package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/resume-tracker/internal/ledger"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tracked_links (
	position       BIGSERIAL,
	id             TEXT PRIMARY KEY,
	artifact_ref   TEXT NOT NULL,
	display_name   TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	view_count     INTEGER NOT NULL DEFAULT 0,
	last_viewed_at TIMESTAMPTZ NULL
);

CREATE TABLE IF NOT EXISTS view_events (
	link_id        TEXT NOT NULL REFERENCES tracked_links(id) ON DELETE CASCADE,
	seq            INTEGER NOT NULL,
	viewed_at      TIMESTAMPTZ NOT NULL,
	viewer_address TEXT NOT NULL,
	referrer       TEXT NOT NULL,
	user_agent     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (link_id, seq)
);

ALTER TABLE tracked_links ADD COLUMN IF NOT EXISTS position BIGSERIAL;
`

// PostgresStore is a PostgreSQL implementation of ledger.Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the ledger tables when they do not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresSchema)

	return err
}

// Ping checks database connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Load(ctx context.Context) (*ledger.Snapshot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, artifact_ref, display_name, created_at, view_count, last_viewed_at
		FROM tracked_links
		ORDER BY position
	`)
	if err != nil {
		return nil, ledger.StorageError("postgres: query links", err)
	}

	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.TrackedLink, error) {
		var (
			link       ledger.TrackedLink
			lastViewed *time.Time
		)

		err := row.Scan(&link.ID, &link.ArtifactRef, &link.DisplayName, &link.CreatedAt, &link.ViewCount, &lastViewed)
		if err != nil {
			return link, err
		}

		link.CreatedAt = link.CreatedAt.UTC()

		if lastViewed != nil {
			ts := lastViewed.UTC()
			link.LastViewedAt = &ts
		}

		link.Events = []ledger.ViewEvent{}

		return link, nil
	})
	if err != nil {
		return nil, ledger.StorageError("postgres: scan links", err)
	}

	index := make(map[ledger.LinkID]int, len(links))
	for i := range links {
		index[links[i].ID] = i
	}

	rows, err = p.pool.Query(ctx, `
		SELECT link_id, viewed_at, viewer_address, referrer, user_agent
		FROM view_events
		ORDER BY link_id, seq
	`)
	if err != nil {
		return nil, ledger.StorageError("postgres: query events", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			linkID ledger.LinkID
			event  ledger.ViewEvent
		)

		if err := rows.Scan(&linkID, &event.Timestamp, &event.ViewerAddress, &event.Referrer, &event.UserAgent); err != nil {
			return nil, ledger.StorageError("postgres: scan event", err)
		}

		i, ok := index[linkID]
		if !ok {
			return nil, ledger.StorageError("postgres: load events", fmt.Errorf("event for unknown link %q", linkID))
		}

		event.Timestamp = event.Timestamp.UTC()
		links[i].Events = append(links[i].Events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, ledger.StorageError("postgres: iterate events", err)
	}

	if links == nil {
		links = []ledger.TrackedLink{}
	}

	return &ledger.Snapshot{Links: links}, nil
}

func (p *PostgresStore) Save(ctx context.Context, _ *ledger.Snapshot, change ledger.Change) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return applyPostgresChange(ctx, tx, change)
	})
	if err != nil {
		return ledger.StorageError("postgres: apply "+string(change.Kind), err)
	}

	return nil
}

func applyPostgresChange(ctx context.Context, tx pgx.Tx, change ledger.Change) error {
	switch change.Kind {
	case ledger.ChangeCreated:
		link := change.Link

		_, err := tx.Exec(ctx, `
			INSERT INTO tracked_links (id, artifact_ref, display_name, created_at, view_count, last_viewed_at)
			VALUES ($1, $2, $3, $4, 0, NULL)
		`, string(link.ID), link.ArtifactRef, link.DisplayName, link.CreatedAt)

		return err
	case ledger.ChangeViewed:
		link, event := change.Link, change.Event
		seq := link.ViewCount - 1

		tag, err := tx.Exec(ctx, `
			UPDATE tracked_links SET view_count = $1, last_viewed_at = $2
			WHERE id = $3 AND view_count = $4
		`, link.ViewCount, event.Timestamp, string(link.ID), seq)
		if err != nil {
			return err
		}

		if tag.RowsAffected() != 1 {
			return errConcurrentUpdate
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO view_events (link_id, seq, viewed_at, viewer_address, referrer, user_agent)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, string(link.ID), seq, event.Timestamp, event.ViewerAddress, event.Referrer, event.UserAgent)

		return err
	case ledger.ChangeDeleted:
		tag, err := tx.Exec(ctx, `DELETE FROM tracked_links WHERE id = $1`, string(change.LinkID))
		if err != nil {
			return err
		}

		if tag.RowsAffected() != 1 {
			return errConcurrentUpdate
		}

		return nil
	case ledger.ChangeWiped:
		_, err := tx.Exec(ctx, `TRUNCATE view_events, tracked_links`)

		return err
	default:
		return fmt.Errorf("unknown change kind %q", change.Kind)
	}
}
