package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for cursors, block hashes, transfers, and dedupe.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  source_id   TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS block_hashes (
  source_id   TEXT NOT NULL,
  number      INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  PRIMARY KEY(source_id, number)
);

CREATE TABLE IF NOT EXISTS transfers (
  id                INTEGER PRIMARY KEY AUTOINCREMENT,
  transaction_hash  TEXT NOT NULL,
  block_number      INTEGER NOT NULL,
  block_hash        TEXT NOT NULL,
  log_index         INTEGER NOT NULL,
  from_address      TEXT NOT NULL,
  to_address        TEXT NOT NULL,
  amount            TEXT NOT NULL,
  token_contract    TEXT NOT NULL,
  timestamp         INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS transfers_position
  ON transfers(transaction_hash, log_index, block_hash);

CREATE INDEX IF NOT EXISTS transfers_block ON transfers(block_number);

CREATE TABLE IF NOT EXISTS dedupe (
  key         TEXT PRIMARY KEY,
  expires_at  TIMESTAMP NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertCursor records the latest processed height/hash for a source.
func (s *Store) UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error {
	return upsertCursor(ctx, s.db, sourceID, height, hash)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertCursor(ctx context.Context, db execer, sourceID string, height uint64, hash string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO cursors (source_id, height, hash, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(source_id) DO UPDATE SET
  height=excluded.height,
  hash=excluded.hash,
  updated_at=CURRENT_TIMESTAMP;
`, sourceID, height, hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a source.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, hash FROM cursors WHERE source_id = ?;
`, sourceID)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// BlockHash is a processed block remembered for reorg walk-back.
type BlockHash struct {
	Number uint64
	Hash   string
}

// Checkpoint atomically advances the cursor and records the hashes of the blocks
// it covers, then prunes hashes older than keep blocks below height.
func (s *Store) Checkpoint(ctx context.Context, sourceID string, height uint64, hash string, blocks []BlockHash, keep uint64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, b := range blocks {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO block_hashes (source_id, number, hash) VALUES (?, ?, ?)
ON CONFLICT(source_id, number) DO UPDATE SET hash=excluded.hash;
`, sourceID, b.Number, b.Hash); err != nil {
				return fmt.Errorf("put block hash %d: %w", b.Number, err)
			}
		}
		if err := upsertCursor(ctx, tx, sourceID, height, hash); err != nil {
			return err
		}
		if keep > 0 && height > keep {
			if _, err := tx.ExecContext(ctx, `
DELETE FROM block_hashes WHERE source_id = ? AND number < ?;
`, sourceID, height-keep); err != nil {
				return fmt.Errorf("prune block hashes: %w", err)
			}
		}
		return nil
	})
}

// Rewind moves the cursor back to height and forgets block hashes above it.
func (s *Store) Rewind(ctx context.Context, sourceID string, height uint64, hash string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM block_hashes WHERE source_id = ? AND number > ?;
`, sourceID, height); err != nil {
			return fmt.Errorf("drop block hashes: %w", err)
		}
		return upsertCursor(ctx, tx, sourceID, height, hash)
	})
}

// GetBlockHash returns the stored hash of a processed block.
func (s *Store) GetBlockHash(ctx context.Context, sourceID string, number uint64) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
SELECT hash FROM block_hashes WHERE source_id = ? AND number = ?;
`, sourceID, number).Scan(&hash)
	switch {
	case err == nil:
		return hash, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("get block hash: %w", err)
	}
}

// BlockHashes lists stored hashes in [from, to] ascending.
func (s *Store) BlockHashes(ctx context.Context, sourceID string, from, to uint64) ([]BlockHash, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT number, hash FROM block_hashes
WHERE source_id = ? AND number BETWEEN ? AND ?
ORDER BY number;
`, sourceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list block hashes: %w", err)
	}
	defer rows.Close()

	var out []BlockHash
	for rows.Next() {
		var b BlockHash
		if err := rows.Scan(&b.Number, &b.Hash); err != nil {
			return nil, fmt.Errorf("scan block hash: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkDedupe sets or refreshes a dedupe key until expiresAt.
func (s *Store) MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return errors.New("key required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dedupe (key, expires_at)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at=excluded.expires_at;
`, key, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("mark dedupe: %w", err)
	}
	return nil
}

// IsDuplicate returns true if the key exists and is not expired; expired entries are pruned.
func (s *Store) IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("key required")
	}

	var expires time.Time
	err := s.db.QueryRowContext(ctx, `
SELECT expires_at FROM dedupe WHERE key = ?;
`, key).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dedupe: %w", err)
	}

	if expires.After(now.UTC()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedupe WHERE key = ?;`, key); err != nil {
		return false, fmt.Errorf("prune dedupe: %w", err)
	}
	return false, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
