// Package fetcher implements the bounded-concurrency metadata fetch
// workers: for each info-hash handed to it, start a peer-wire session
// through a swarm.Dialer, poll until metadata arrives or a timeout elapses,
// persist the result, and release the concurrency slot.
//
// Grounded on STX5-dht/peer/peer_store.go's bounded-resource style
// (MaxInfoHashes/MaxInfoHashPeers) for the shape of the concurrency bound,
// and on martymcquaid-omnicloud2024's anacrolix/torrent wiring for what a
// session actually does.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/semaphore"

	"dhtscrape/fetcher/swarm"
	"dhtscrape/hashpipeline"
	"dhtscrape/infohash"
	"dhtscrape/metrics"
	"dhtscrape/rlog"
	"dhtscrape/store"
)

// alreadyIndexedCacheSize bounds the LRU cache of hashes known to already
// be indexed, sparing the store a round trip for hashes the crawler keeps
// re-surfacing for an already-completed torrent.
const alreadyIndexedCacheSize = 100_000

// ErrorKind classifies why a fetch failed, so callers can distinguish a
// transient timeout from a hard failure without string matching.
type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindTimeout
	ErrKindDialFailed
	ErrKindAlreadyIndexed
)

// FetchError wraps a fetch failure with its ErrorKind.
type FetchError struct {
	Kind ErrorKind
	Hash infohash.ID
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetcher: %s: %v", e.Hash, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config carries the fetcher's tunables.
type Config struct {
	MaxConcurrentFetches int64
	TimeoutSeconds       int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrentFetches: 64, TimeoutSeconds: 15}
}

// Fetcher drains a hashpipeline.Pipeline, running up to
// Config.MaxConcurrentFetches fetch workflows concurrently.
type Fetcher struct {
	cfg     Config
	dialer  swarm.Dialer
	store   store.Store
	metrics *metrics.Bus
	log     rlog.Logger
	sem     *semaphore.Weighted

	// alreadyIndexed mirrors the store's own uniqueness check in memory, the
	// same groupcache/lru-backed bounded-cache idiom STX5-dht's PeerStore
	// used for its per-infohash peer contact sets.
	alreadyIndexed *lru.Cache
}

// New constructs a Fetcher.
func New(cfg Config, dialer swarm.Dialer, st store.Store, bus *metrics.Bus, log rlog.Logger) *Fetcher {
	if log == nil {
		log = rlog.Nop{}
	}
	return &Fetcher{
		cfg:            cfg,
		dialer:         dialer,
		store:          st,
		metrics:        bus,
		log:            log,
		sem:            semaphore.NewWeighted(cfg.MaxConcurrentFetches),
		alreadyIndexed: lru.New(alreadyIndexedCacheSize),
	}
}

// Run drains pipeline until ctx is cancelled, spawning one goroutine per
// hash, bounded by the configured semaphore.
func (f *Fetcher) Run(ctx context.Context, pipeline *hashpipeline.Pipeline) {
	done := ctx.Done()
	for {
		h, ok := pipeline.Next(done)
		if !ok {
			return
		}
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(h infohash.ID) {
			defer f.sem.Release(1)
			if err := f.fetchOne(ctx, h); err != nil {
				f.log.Debugf("fetcher: %v", err)
			}
			pipeline.MarkDone(h)
		}(h)
	}
}

// fetchOne runs the workflow named in the metadata fetcher's component
// design: check whether the hash is already indexed, start a peer-wire
// session, poll for metadata up to the configured timeout, and persist the
// result.
func (f *Fetcher) fetchOne(ctx context.Context, h infohash.ID) error {
	if _, cached := f.alreadyIndexed.Get(h.String()); cached {
		return &FetchError{Kind: ErrKindAlreadyIndexed, Hash: h, Err: errors.New("already indexed (cached)")}
	}
	already, err := f.store.HasTorrent(ctx, h)
	if err != nil {
		return fmt.Errorf("check existing: %w", err)
	}
	if already {
		f.alreadyIndexed.Add(h.String(), struct{}{})
		return &FetchError{Kind: ErrKindAlreadyIndexed, Hash: h, Err: errors.New("already indexed")}
	}

	if pendingErr := f.store.PutPendingHash(ctx, store.PendingHash{
		Hash: h, FirstSeenAt: time.Now(), Attempts: 1, LastError: "",
	}); pendingErr != nil {
		f.log.Errorf("fetcher: journal pending hash %s: %v", h, pendingErr)
	}

	f.metrics.FetchesStarted.Add(1)
	f.metrics.ActiveFetches.Add(1)
	defer f.metrics.ActiveFetches.Add(-1)

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(f.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	session, err := f.dialer.Start(fetchCtx, h)
	if err != nil {
		f.metrics.FetchesFailed.Add(1)
		return &FetchError{Kind: ErrKindDialFailed, Hash: h, Err: err}
	}
	defer session.Close()

	ticker := time.NewTicker(swarm.PollInterval())
	defer ticker.Stop()
	for {
		if session.HasMetadata() {
			view, ok := session.Torrent()
			if !ok {
				f.metrics.FetchesFailed.Add(1)
				return &FetchError{Kind: ErrKindUnknown, Hash: h, Err: errors.New("metadata reported ready but view unavailable")}
			}
			return f.persist(ctx, h, view)
		}
		select {
		case <-ticker.C:
			continue
		case <-fetchCtx.Done():
			if ctx.Err() != nil {
				// Outer context cancelled (process shutting down): the
				// PendingHash row journaled at ingress already covers
				// recovery, so exit quietly rather than report a timeout.
				return &FetchError{Kind: ErrKindUnknown, Hash: h, Err: ctx.Err()}
			}
			f.metrics.FetchesTimedOut.Add(1)
			if pendingErr := f.store.PutPendingHash(ctx, store.PendingHash{
				Hash: h, FirstSeenAt: time.Now(), Attempts: 1, LastError: "metadata fetch timed out",
			}); pendingErr != nil {
				f.log.Errorf("fetcher: persist pending hash %s: %v", h, pendingErr)
			}
			return &FetchError{Kind: ErrKindTimeout, Hash: h, Err: fetchCtx.Err()}
		}
	}
}

func (f *Fetcher) persist(ctx context.Context, h infohash.ID, view swarm.TorrentView) error {
	rec := store.TorrentRecord{
		Hash:             h,
		Name:             view.Name,
		IndexedAt:        time.Now(),
		IsPrivate:        view.IsPrivate,
		PieceLengthBytes: view.PieceLengthBytes,
		PieceCount:       view.PieceCount,
	}
	for _, fv := range view.Files {
		rec.Files = append(rec.Files, store.FileEntry{Path: fv.Path, SizeBytes: fv.SizeBytes})
		rec.TotalBytes += fv.SizeBytes
	}
	if err := f.store.PutTorrent(ctx, rec); err != nil {
		if errors.Is(err, store.ErrAlreadyIndexed) {
			// Another fetch for the same hash won the race; not a failure.
			return nil
		}
		f.metrics.FetchesFailed.Add(1)
		return fmt.Errorf("persist torrent %s: %w", h, err)
	}
	_ = f.store.DeletePendingHash(ctx, h)
	f.alreadyIndexed.Add(h.String(), struct{}{})
	f.metrics.FetchesSucceeded.Add(1)
	f.metrics.RecordName(rec.Name)
	return nil
}
