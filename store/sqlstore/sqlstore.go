// Package sqlstore implements store.Store against a local sqlite database,
// grounded on martymcquaid-omnicloud2024's internal/db/db.go for the
// database/sql connection shape and on clintcan-debswarm's choice of
// github.com/mattn/go-sqlite3 as the driver for a standalone P2P crawler
// that should not require a separate database server.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dhtscrape/infohash"
	"dhtscrape/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS torrents (
	info_hash          TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	total_bytes        INTEGER NOT NULL,
	indexed_at         INTEGER NOT NULL,
	is_private         INTEGER NOT NULL DEFAULT 0,
	piece_length_bytes INTEGER NOT NULL DEFAULT 0,
	piece_count        INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS torrent_files (
	info_hash  TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	path       TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	PRIMARY KEY (info_hash, seq)
);
CREATE TABLE IF NOT EXISTS pending_hashes (
	info_hash     TEXT PRIMARY KEY,
	first_seen_at INTEGER NOT NULL,
	attempts      INTEGER NOT NULL,
	last_error    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
	id        TEXT PRIMARY KEY,
	addr      TEXT NOT NULL,
	last_seen INTEGER NOT NULL
);
`

// Store wraps a *sql.DB opened against a sqlite file.
type Store struct {
	db *sql.DB
}

// Open connects to (and if necessary creates) a sqlite database at path,
// setting connection limits the way internal/db/db.go does for its
// postgres pool, scaled down for a single-process embedded database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite allows one writer at a time
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) PutTorrent(ctx context.Context, rec store.TorrentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO torrents (info_hash, name, total_bytes, indexed_at, is_private, piece_length_bytes, piece_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Hash.String(), rec.Name, rec.TotalBytes, time.Now().Unix(), rec.IsPrivate, rec.PieceLengthBytes, rec.PieceCount)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return store.ErrAlreadyIndexed
		}
		return fmt.Errorf("sqlstore: insert torrent: %w", err)
	}
	for i, f := range rec.Files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO torrent_files (info_hash, seq, path, size_bytes) VALUES (?, ?, ?, ?)`,
			rec.Hash.String(), i, f.Path, f.SizeBytes); err != nil {
			return fmt.Errorf("sqlstore: insert file: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetTorrent(ctx context.Context, hash infohash.ID) (store.TorrentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, total_bytes, indexed_at, is_private, piece_length_bytes, piece_count
		 FROM torrents WHERE info_hash = ?`, hash.String())
	var rec store.TorrentRecord
	rec.Hash = hash
	var indexedAt int64
	if err := row.Scan(&rec.Name, &rec.TotalBytes, &indexedAt, &rec.IsPrivate, &rec.PieceLengthBytes, &rec.PieceCount); err != nil {
		if err == sql.ErrNoRows {
			return store.TorrentRecord{}, store.ErrNotFound
		}
		return store.TorrentRecord{}, fmt.Errorf("sqlstore: scan torrent: %w", err)
	}
	rec.IndexedAt = time.Unix(indexedAt, 0)

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size_bytes FROM torrent_files WHERE info_hash = ? ORDER BY seq ASC`, hash.String())
	if err != nil {
		return store.TorrentRecord{}, fmt.Errorf("sqlstore: query files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f store.FileEntry
		if err := rows.Scan(&f.Path, &f.SizeBytes); err != nil {
			return store.TorrentRecord{}, fmt.Errorf("sqlstore: scan file: %w", err)
		}
		rec.Files = append(rec.Files, f)
	}
	return rec, rows.Err()
}

func (s *Store) HasTorrent(ctx context.Context, hash infohash.ID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM torrents WHERE info_hash = ?`, hash.String()).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlstore: has torrent: %w", err)
	}
	return true, nil
}

func (s *Store) ListTorrentHashes(ctx context.Context) ([]infohash.ID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT info_hash FROM torrents`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list torrent hashes: %w", err)
	}
	defer rows.Close()
	var out []infohash.ID
	for rows.Next() {
		var hexID string
		if err := rows.Scan(&hexID); err != nil {
			return nil, fmt.Errorf("sqlstore: scan torrent hash: %w", err)
		}
		id, err := infohash.Parse(hexID)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) PutPendingHash(ctx context.Context, p store.PendingHash) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_hashes (info_hash, first_seen_at, attempts, last_error)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(info_hash) DO UPDATE SET attempts = excluded.attempts, last_error = excluded.last_error`,
		p.Hash.String(), p.FirstSeenAt.Unix(), p.Attempts, p.LastError)
	if err != nil {
		return fmt.Errorf("sqlstore: put pending hash: %w", err)
	}
	return nil
}

func (s *Store) DeletePendingHash(ctx context.Context, hash infohash.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_hashes WHERE info_hash = ?`, hash.String())
	if err != nil {
		return fmt.Errorf("sqlstore: delete pending hash: %w", err)
	}
	return nil
}

func (s *Store) ListPendingHashes(ctx context.Context) ([]store.PendingHash, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT info_hash, first_seen_at, attempts, last_error FROM pending_hashes`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list pending hashes: %w", err)
	}
	defer rows.Close()
	var out []store.PendingHash
	for rows.Next() {
		var hexID string
		var firstSeen int64
		var p store.PendingHash
		if err := rows.Scan(&hexID, &firstSeen, &p.Attempts, &p.LastError); err != nil {
			return nil, fmt.Errorf("sqlstore: scan pending hash: %w", err)
		}
		id, err := infohash.Parse(hexID)
		if err != nil {
			continue
		}
		p.Hash = id
		p.FirstSeenAt = time.Unix(firstSeen, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PutNode(ctx context.Context, n store.NodeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, addr, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET addr = excluded.addr, last_seen = excluded.last_seen`,
		n.ID.String(), n.Addr, n.LastSeen.Unix())
	if err != nil {
		return fmt.Errorf("sqlstore: put node: %w", err)
	}
	return nil
}

func (s *Store) ListNodes(ctx context.Context, limit int) ([]store.NodeRecord, error) {
	query := `SELECT id, addr, last_seen FROM nodes ORDER BY last_seen DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list nodes: %w", err)
	}
	defer rows.Close()
	var out []store.NodeRecord
	for rows.Next() {
		var hexID, addr string
		var lastSeen int64
		if err := rows.Scan(&hexID, &addr, &lastSeen); err != nil {
			return nil, fmt.Errorf("sqlstore: scan node: %w", err)
		}
		id, err := infohash.Parse(hexID)
		if err != nil {
			continue
		}
		out = append(out, store.NodeRecord{ID: id, Addr: addr, LastSeen: time.Unix(lastSeen, 0)})
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
