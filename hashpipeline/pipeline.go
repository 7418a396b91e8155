// Package hashpipeline couples the DHT crawler's hash discovery to the
// metadata fetcher: a de-duplicated, optionally-bounded queue of
// infohash.ID values. Unlike the crawler's own SeenNodes/SeenHashes (which
// are single-writer, owned by one goroutine), the pipeline is multi-writer:
// Submit can be called concurrently, grounded on STX5-dht's dedupe-via-map
// idiom in dht.go's peersRequest/nodesRequest drain loops.
package hashpipeline

import (
	"sync"

	"dhtscrape/infohash"
	"dhtscrape/metrics"
)

// Pipeline is a de-duplicated queue of info-hashes awaiting a metadata
// fetch attempt. Zero value is not usable; construct with New.
type Pipeline struct {
	out chan infohash.ID

	mu   sync.Mutex
	seen map[infohash.ID]struct{}

	metrics *metrics.Bus
}

// New builds a Pipeline. capacity bounds the internal channel; 0 means
// unbounded (Submit never drops and never blocks: each hash waits for the
// reader in a goroutine of its own, and the order in which such waiting
// hashes reach the reader is not guaranteed). A non-zero capacity makes Submit
// non-blocking: once the channel is full, new hashes are dropped and
// HashesDropped is incremented rather than stalling the caller (typically
// the crawler's receive loop, which must never block on pipeline backpressure).
func New(capacity int, bus *metrics.Bus) *Pipeline {
	p := &Pipeline{
		seen:    make(map[infohash.ID]struct{}),
		metrics: bus,
	}
	if capacity <= 0 {
		p.out = make(chan infohash.ID)
		return p
	}
	p.out = make(chan infohash.ID, capacity)
	return p
}

// Submit adds h to the pipeline if it has not been seen before. It reports
// whether h was newly queued (false means either a duplicate or a drop due
// to a full bounded channel).
func (p *Pipeline) Submit(h infohash.ID) bool {
	p.mu.Lock()
	if _, dup := p.seen[h]; dup {
		p.mu.Unlock()
		return false
	}
	p.seen[h] = struct{}{}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.HashesSeen.Add(1)
	}

	select {
	case p.out <- h:
		return true
	default:
		if cap(p.out) == 0 {
			// Unbounded pipeline: hand the hash to the reader from its own
			// goroutine, so the caller never blocks and nothing is dropped.
			go func() { p.out <- h }()
			return true
		}
		if p.metrics != nil {
			p.metrics.HashesDropped.Add(1)
		}
		p.mu.Lock()
		delete(p.seen, h)
		p.mu.Unlock()
		return false
	}
}

// Next blocks until a hash is available or done is closed, returning false
// in the latter case.
func (p *Pipeline) Next(done <-chan struct{}) (infohash.ID, bool) {
	select {
	case h, ok := <-p.out:
		return h, ok
	case <-done:
		return infohash.ID{}, false
	}
}

// MarkDone removes h from the de-dup set, allowing it to be resubmitted
// later (the fetcher calls it after every fetch attempt, whatever the
// outcome, so a subsequent crawl sighting can submit the hash again).
func (p *Pipeline) MarkDone(h infohash.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, h)
}

// Len reports the number of hashes currently queued (not yet consumed) in
// a bounded pipeline. For an unbounded pipeline it is always 0, since
// waiting hashes are held by their goroutines rather than in the channel.
func (p *Pipeline) Len() int {
	return len(p.out)
}
