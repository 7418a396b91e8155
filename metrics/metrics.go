// Package metrics holds the in-process counters the crawler and fetcher
// update as they run. It mirrors the shape of STX5-dht's bottom-of-file
// expvar counters, but as an explicit struct passed in at construction
// instead of package-level globals, and adds a small bounded ring of
// recently-seen torrent names for human inspection.
package metrics

import (
	"container/ring"
	"sync"
	"sync/atomic"
)

// RecentNamesCapacity bounds the ring of recently fetched torrent names.
const RecentNamesCapacity = 50

// Bus is the metrics surface named in the external interfaces section: one
// instance is constructed by the top-level scraper and shared by reference
// across the crawler and fetcher.
type Bus struct {
	NodesContacted   atomic.Int64
	NodesDiscovered  atomic.Int64
	FindNodeSent     atomic.Int64
	HashesSeen       atomic.Int64
	HashesDiscovered atomic.Int64
	HashesDeduped    atomic.Int64
	HashesDropped    atomic.Int64
	FetchesStarted   atomic.Int64
	FetchesSucceeded atomic.Int64
	FetchesFailed    atomic.Int64
	FetchesTimedOut  atomic.Int64

	// ActiveFetches is a gauge: the number of fetch workflows currently
	// in flight, incremented once fetchOne has passed its already-indexed
	// checks and decremented when it returns by any path after that.
	ActiveFetches atomic.Int64
	// QueueLen is a gauge mirroring the crawler's live send queue length.
	QueueLen atomic.Int64

	mu    sync.Mutex
	names *ring.Ring
}

// New builds a Bus with an empty recent-names ring.
func New() *Bus {
	return &Bus{names: ring.New(RecentNamesCapacity)}
}

// RecordName pushes a torrent name into the bounded recent-names ring,
// overwriting the oldest entry once full — the same round-robin shape
// STX5-dht's peer package uses for its peer-contact ring.
func (b *Bus) RecordName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names.Value = name
	b.names = b.names.Next()
}

// RecentNames returns up to RecentNamesCapacity names, oldest first.
func (b *Bus) RecentNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, RecentNamesCapacity)
	b.names.Do(func(v interface{}) {
		if v == nil {
			return
		}
		out = append(out, v.(string))
	})
	return out
}
