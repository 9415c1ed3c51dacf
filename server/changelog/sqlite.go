package changelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/cyp0633/caldora/server/changelog/migrations"
)

// SQLite is a Log persisted in a SQLite database.
type SQLite struct {
	db *sql.DB
	// appends are linearized in process; SQLite allows one writer anyway
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLite opens the database at path and brings its schema up to date.
// path may be ":memory:".
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps a database whose schema is already migrated.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection pool.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensureHead returns the head of a collection, registering it with a fresh
// epoch when unknown.
func ensureHead(ctx context.Context, q querier, collectionID string) (head, error) {
	if _, err := q.ExecContext(ctx,
		"INSERT OR IGNORE INTO sync_collections (id, epoch) VALUES (?, ?)",
		collectionID, uuid.NewString()); err != nil {
		return head{}, fmt.Errorf("registering collection %s: %w", collectionID, err)
	}
	var h head
	err := q.QueryRowContext(ctx,
		"SELECT epoch, floor, head FROM sync_collections WHERE id = ?", collectionID,
	).Scan(&h.epoch, &h.floor, &h.seq)
	if err != nil {
		return head{}, fmt.Errorf("reading head of %s: %w", collectionID, err)
	}
	return h, nil
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, collectionID string, c Change) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tok Token
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		h, err := ensureHead(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		h.seq++
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sync_changes (collection_id, seq, name, uid, kind, changed_at) VALUES (?, ?, ?, ?, ?, ?)",
			collectionID, h.seq, c.Name, c.UID, int(c.Kind), s.now().UnixNano()); err != nil {
			return fmt.Errorf("appending change: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE sync_collections SET head = ? WHERE id = ?", h.seq, collectionID); err != nil {
			return fmt.Errorf("advancing head: %w", err)
		}
		tok = h.token(collectionID)
		return nil
	})
	return tok, err
}

func (s *SQLite) ChangesSince(ctx context.Context, collectionID string, since Token) (Changes, error) {
	var out Changes
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		h, err := ensureHead(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if err := h.check(collectionID, since); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT seq, name, uid, kind, changed_at FROM sync_changes WHERE collection_id = ? AND seq > ? ORDER BY seq",
			collectionID, since.Seq)
		if err != nil {
			return fmt.Errorf("reading changes: %w", err)
		}
		defer rows.Close()

		var entries []Entry
		for rows.Next() {
			e := Entry{CollectionID: collectionID}
			var kind int
			var at int64
			if err := rows.Scan(&e.Seq, &e.Name, &e.UID, &kind, &at); err != nil {
				return fmt.Errorf("scanning change: %w", err)
			}
			e.Kind = Kind(kind)
			e.Time = time.Unix(0, at)
			entries = append(entries, e)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("reading changes: %w", err)
		}
		out = collapse(entries, h.token(collectionID))
		return nil
	})
	return out, err
}

func (s *SQLite) Current(ctx context.Context, collectionID string) (Token, error) {
	h, err := ensureHead(ctx, s.db, collectionID)
	if err != nil {
		return Token{}, err
	}
	return h.token(collectionID), nil
}

func (s *SQLite) Reset(ctx context.Context, collectionID string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := head{epoch: uuid.NewString()}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_changes WHERE collection_id = ?", collectionID); err != nil {
			return fmt.Errorf("clearing changes: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_collections (id, epoch, head, floor) VALUES (?, ?, 0, 0)
			 ON CONFLICT(id) DO UPDATE SET epoch = excluded.epoch, head = 0, floor = 0`,
			collectionID, h.epoch); err != nil {
			return fmt.Errorf("resetting collection: %w", err)
		}
		return nil
	})
	if err != nil {
		return Token{}, err
	}
	return h.token(collectionID), nil
}

func (s *SQLite) Prune(ctx context.Context, collectionID string, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var floor sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			"SELECT MAX(seq) FROM sync_changes WHERE collection_id = ? AND changed_at < ?",
			collectionID, before.UnixNano()).Scan(&floor); err != nil {
			return fmt.Errorf("finding prune floor: %w", err)
		}
		if !floor.Valid {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM sync_changes WHERE collection_id = ? AND seq <= ?", collectionID, floor.Int64)
		if err != nil {
			return fmt.Errorf("pruning changes: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		if _, err := tx.ExecContext(ctx,
			"UPDATE sync_collections SET floor = ? WHERE id = ?", floor.Int64, collectionID); err != nil {
			return fmt.Errorf("raising floor: %w", err)
		}
		return nil
	})
	return removed, err
}

func (s *SQLite) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM sync_collections ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ Log = (*SQLite)(nil)
