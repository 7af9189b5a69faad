package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ReOpsIL/forge-sub000/internal/model"

	_ "modernc.org/sqlite"
)

const fileName = "snapshot.sqlite"

// ErrEmpty is returned by Load when no snapshot has been saved yet.
var ErrEmpty = errors.New("no snapshot saved")

// Store keeps the last successfully fetched block collection so the dashboard
// can start (or run with --offline) before the server answers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the snapshot database in dir.
func Open(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}
	// The TUI and a CLI invocation may touch the snapshot at the same time.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS blocks (
			block_id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			payload_json TEXT NOT NULL,
			fetched_at_unixms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS blocks_position ON blocks(position);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("snapshot migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the snapshot with blocks, in the given order.
func (s *Store) Save(ctx context.Context, blocks []model.Block, fetchedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO blocks(block_id, position, payload_json, fetched_at_unixms) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ms := fetchedAt.UnixMilli()
	for i, b := range blocks {
		payload, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode block %s: %w", b.BlockID, err)
		}
		if _, err := stmt.ExecContext(ctx, b.BlockID, i, string(payload), ms); err != nil {
			return fmt.Errorf("save block %s: %w", b.BlockID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(k, v) VALUES('saved_at_unixms', ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		fmt.Sprint(ms),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Load returns the saved blocks in saved order and when they were fetched.
func (s *Store) Load(ctx context.Context) ([]model.Block, time.Time, error) {
	var savedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = 'saved_at_unixms'`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrEmpty
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payload_json, fetched_at_unixms FROM blocks ORDER BY position ASC`)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	blocks := []model.Block{}
	var fetched int64
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload, &fetched); err != nil {
			return nil, time.Time{}, err
		}
		var b model.Block
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return nil, time.Time{}, fmt.Errorf("decode snapshot block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	var ms int64
	if savedAt.Valid {
		_, _ = fmt.Sscan(savedAt.String, &ms)
	}
	if ms == 0 {
		ms = fetched
	}
	return blocks, time.UnixMilli(ms), nil
}
