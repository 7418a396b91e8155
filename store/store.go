// Package store defines the persistence contract named in the external
// interfaces section: torrents, their files, pending hashes awaiting a
// fetch attempt, and crawled nodes, plus two implementations — an
// in-memory reference (store/memstore) and a sqlite-backed one
// (store/sqlstore) grounded on clintcan-debswarm's use of
// github.com/mattn/go-sqlite3 for a standalone P2P crawler.
package store

import (
	"context"
	"errors"
	"time"

	"dhtscrape/infohash"
)

// ErrAlreadyIndexed is returned by PutTorrent when a torrent with the same
// info-hash already exists; the fetcher treats this as success-by-race
// rather than a failure.
var ErrAlreadyIndexed = errors.New("store: torrent already indexed")

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// FileEntry is one file inside a torrent's info dictionary, in the order it
// appeared there.
type FileEntry struct {
	Path      string
	SizeBytes int64
}

// TorrentRecord is a fully-resolved torrent: its info-hash, the name from
// the info dictionary, and its constituent files.
type TorrentRecord struct {
	Hash             infohash.ID
	Name             string
	Files            []FileEntry
	TotalBytes       int64
	IndexedAt        time.Time
	IsPrivate        bool
	PieceLengthBytes int64
	PieceCount       int
}

// PendingHash is a hash the crawler has surfaced that has not yet resolved
// to a TorrentRecord (or has been retried and failed), tracked so a restart
// can resume without re-discovering it from scratch.
type PendingHash struct {
	Hash        infohash.ID
	FirstSeenAt time.Time
	Attempts    int
	LastError   string
}

// NodeRecord is a DHT node endpoint worth remembering across restarts as a
// bootstrap candidate.
type NodeRecord struct {
	ID       infohash.ID
	Addr     string
	LastSeen time.Time
}

// Store is the persistence contract every package above it programs
// against. Implementations must make PutTorrent idempotent on info-hash
// (returning ErrAlreadyIndexed rather than erroring on conflict is
// acceptable and expected under concurrent fetch completion).
type Store interface {
	PutTorrent(ctx context.Context, rec TorrentRecord) error
	GetTorrent(ctx context.Context, hash infohash.ID) (TorrentRecord, error)
	HasTorrent(ctx context.Context, hash infohash.ID) (bool, error)
	// ListTorrentHashes returns every indexed info-hash, with no other
	// fields resolved, for a restart to re-seed an in-memory dedup set
	// without paying for the full record of every torrent it already knows.
	ListTorrentHashes(ctx context.Context) ([]infohash.ID, error)

	PutPendingHash(ctx context.Context, p PendingHash) error
	DeletePendingHash(ctx context.Context, hash infohash.ID) error
	ListPendingHashes(ctx context.Context) ([]PendingHash, error)

	PutNode(ctx context.Context, n NodeRecord) error
	ListNodes(ctx context.Context, limit int) ([]NodeRecord, error)

	Close() error
}
