// Package memstore is an in-memory reference implementation of store.Store,
// used by tests across the module and a legitimate choice for short-lived
// crawls that don't need results to survive a restart.
package memstore

import (
	"context"
	"sync"

	"dhtscrape/infohash"
	"dhtscrape/store"
)

// Store is a mutex-guarded, map-backed store.Store.
type Store struct {
	mu       sync.Mutex
	torrents map[infohash.ID]store.TorrentRecord
	pending  map[infohash.ID]store.PendingHash
	nodes    map[infohash.ID]store.NodeRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		torrents: make(map[infohash.ID]store.TorrentRecord),
		pending:  make(map[infohash.ID]store.PendingHash),
		nodes:    make(map[infohash.ID]store.NodeRecord),
	}
}

func (s *Store) PutTorrent(ctx context.Context, rec store.TorrentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.torrents[rec.Hash]; ok {
		return store.ErrAlreadyIndexed
	}
	s.torrents[rec.Hash] = rec
	return nil
}

func (s *Store) GetTorrent(ctx context.Context, hash infohash.ID) (store.TorrentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.torrents[hash]
	if !ok {
		return store.TorrentRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) HasTorrent(ctx context.Context, hash infohash.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.torrents[hash]
	return ok, nil
}

func (s *Store) ListTorrentHashes(ctx context.Context) ([]infohash.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]infohash.ID, 0, len(s.torrents))
	for h := range s.torrents {
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) PutPendingHash(ctx context.Context, p store.PendingHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.Hash] = p
	return nil
}

func (s *Store) DeletePendingHash(ctx context.Context, hash infohash.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, hash)
	return nil
}

func (s *Store) ListPendingHashes(ctx context.Context) ([]store.PendingHash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.PendingHash, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) PutNode(ctx context.Context, n store.NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
	return nil
}

func (s *Store) ListNodes(ctx context.Context, limit int) ([]store.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.NodeRecord, 0, limit)
	for _, n := range s.nodes {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
