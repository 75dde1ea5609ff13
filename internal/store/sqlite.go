package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/serroba/resume-tracker/internal/ledger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tracked_links (
	id             TEXT PRIMARY KEY,
	artifact_ref   TEXT NOT NULL,
	display_name   TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	view_count     INTEGER NOT NULL DEFAULT 0,
	last_viewed_at TIMESTAMP NULL
);

CREATE TABLE IF NOT EXISTS view_events (
	link_id        TEXT NOT NULL REFERENCES tracked_links(id) ON DELETE CASCADE,
	seq            INTEGER NOT NULL,
	viewed_at      TIMESTAMP NOT NULL,
	viewer_address TEXT NOT NULL,
	referrer       TEXT NOT NULL,
	user_agent     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (link_id, seq)
);
`

// errConcurrentUpdate is returned when a row no longer matches the state the ledger based its change on.
var errConcurrentUpdate = errors.New("link was modified concurrently")

// SQLiteStore is an embedded-database implementation of ledger.Store.
// Changes are applied row by row inside one transaction per save. Links load in
// rowid order, which grows with every insert.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Load(ctx context.Context) (*ledger.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artifact_ref, display_name, created_at, view_count, last_viewed_at
		FROM tracked_links
		ORDER BY rowid
	`)
	if err != nil {
		return nil, ledger.StorageError("sqlite: query links", err)
	}
	defer rows.Close()

	var links []ledger.TrackedLink

	index := make(map[ledger.LinkID]int)

	for rows.Next() {
		var (
			link       ledger.TrackedLink
			lastViewed sql.NullTime
		)

		if err := rows.Scan(&link.ID, &link.ArtifactRef, &link.DisplayName,
			&link.CreatedAt, &link.ViewCount, &lastViewed); err != nil {
			return nil, ledger.StorageError("sqlite: scan link", err)
		}

		link.CreatedAt = link.CreatedAt.UTC()
		link.LastViewedAt = nullableTime(lastViewed)
		link.Events = []ledger.ViewEvent{}
		index[link.ID] = len(links)
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, ledger.StorageError("sqlite: iterate links", err)
	}

	if err := s.loadEvents(ctx, links, index); err != nil {
		return nil, err
	}

	return &ledger.Snapshot{Links: links}, nil
}

func (s *SQLiteStore) loadEvents(ctx context.Context, links []ledger.TrackedLink, index map[ledger.LinkID]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT link_id, viewed_at, viewer_address, referrer, user_agent
		FROM view_events
		ORDER BY link_id, seq
	`)
	if err != nil {
		return ledger.StorageError("sqlite: query events", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			linkID ledger.LinkID
			event  ledger.ViewEvent
		)

		if err := rows.Scan(&linkID, &event.Timestamp, &event.ViewerAddress, &event.Referrer, &event.UserAgent); err != nil {
			return ledger.StorageError("sqlite: scan event", err)
		}

		i, ok := index[linkID]
		if !ok {
			return ledger.StorageError("sqlite: load events", fmt.Errorf("event for unknown link %q", linkID))
		}

		event.Timestamp = event.Timestamp.UTC()
		links[i].Events = append(links[i].Events, event)
	}

	if err := rows.Err(); err != nil {
		return ledger.StorageError("sqlite: iterate events", err)
	}

	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, _ *ledger.Snapshot, change ledger.Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.StorageError("sqlite: begin", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := applySQLiteChange(ctx, tx, change); err != nil {
		return ledger.StorageError("sqlite: apply "+string(change.Kind), err)
	}

	if err := tx.Commit(); err != nil {
		return ledger.StorageError("sqlite: commit", err)
	}

	return nil
}

func applySQLiteChange(ctx context.Context, tx *sql.Tx, change ledger.Change) error {
	switch change.Kind {
	case ledger.ChangeCreated:
		link := change.Link

		_, err := tx.ExecContext(ctx, `
			INSERT INTO tracked_links (id, artifact_ref, display_name, created_at, view_count, last_viewed_at)
			VALUES (?, ?, ?, ?, 0, NULL)
		`, string(link.ID), link.ArtifactRef, link.DisplayName, link.CreatedAt)

		return err
	case ledger.ChangeViewed:
		link, event := change.Link, change.Event
		seq := link.ViewCount - 1

		res, err := tx.ExecContext(ctx, `
			UPDATE tracked_links SET view_count = ?, last_viewed_at = ?
			WHERE id = ? AND view_count = ?
		`, link.ViewCount, event.Timestamp, string(link.ID), seq)
		if err != nil {
			return err
		}

		if err := expectOneRow(res); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO view_events (link_id, seq, viewed_at, viewer_address, referrer, user_agent)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(link.ID), seq, event.Timestamp, event.ViewerAddress, event.Referrer, event.UserAgent)

		return err
	case ledger.ChangeDeleted:
		if _, err := tx.ExecContext(ctx, `DELETE FROM view_events WHERE link_id = ?`, string(change.LinkID)); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM tracked_links WHERE id = ?`, string(change.LinkID))
		if err != nil {
			return err
		}

		return expectOneRow(res)
	case ledger.ChangeWiped:
		if _, err := tx.ExecContext(ctx, `DELETE FROM view_events`); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `DELETE FROM tracked_links`)

		return err
	default:
		return fmt.Errorf("unknown change kind %q", change.Kind)
	}
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n != 1 {
		return errConcurrentUpdate
	}

	return nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	ts := t.Time.UTC()

	return &ts
}
