package crawler

import (
	"context"
	"net"
	"testing"
	"time"

	"dhtscrape/bencode"
	"dhtscrape/hashpipeline"
	"dhtscrape/infohash"
	"dhtscrape/krpc"
	"dhtscrape/metrics"
	"dhtscrape/rlog"
	"dhtscrape/store"
	"dhtscrape/store/memstore"
)

func newTestCrawler(t *testing.T) *Crawler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BootstrapHosts = nil
	bus := metrics.New()
	p := hashpipeline.New(16, bus)
	c, err := New(cfg, p, memstore.New(), bus, rlog.Nop{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRandomIDIsFreshEachCall(t *testing.T) {
	a := randomID()
	b := randomID()
	if a == b {
		t.Fatalf("expected two distinct random ids, got the same value twice (vanishingly unlikely unless rand is broken)")
	}
}

func TestHarvestQueryHashFeedsThePipeline(t *testing.T) {
	c := newTestCrawler(t)
	var h infohash.ID
	h[0] = 0x42

	raw := map[string]interface{}{
		"t": "aa", "y": "q", "q": "get_peers",
		"a": map[string]interface{}{"id": string(randomID().Bytes()), "info_hash": string(h.Bytes())},
	}
	enc, err := bencode.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	msg, err := krpc.Parse(enc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c.harvestQueryHash(msg)

	got, ok := c.pipeline.Next(nil)
	if !ok || got != h {
		t.Fatalf("expected harvested hash to reach the pipeline, got ok=%v got=%v", ok, got)
	}
}

func TestHarvestQueryHashDedupes(t *testing.T) {
	c := newTestCrawler(t)
	var h infohash.ID
	h[0] = 0x7

	raw := map[string]interface{}{
		"t": "aa", "y": "q", "q": "announce_peer",
		"a": map[string]interface{}{"id": string(randomID().Bytes()), "info_hash": string(h.Bytes())},
	}
	enc, _ := bencode.Marshal(raw)
	msg, _ := krpc.Parse(enc)

	c.harvestQueryHash(msg)
	c.harvestQueryHash(msg)

	if len(c.seenHashes) != 1 {
		t.Fatalf("seenHashes size = %d, want 1 after duplicate harvest", len(c.seenHashes))
	}
	if got := c.metrics.HashesDiscovered.Load(); got != 2 {
		t.Fatalf("HashesDiscovered = %d, want 2 (one per harvest, duplicate or not)", got)
	}
	if got := c.metrics.HashesSeen.Load(); got != 1 {
		t.Fatalf("HashesSeen = %d, want 1 (only the first, unique, hash reaches the pipeline)", got)
	}
	if c.metrics.HashesSeen.Load() > c.metrics.HashesDiscovered.Load() {
		t.Fatalf("unique hash count must never exceed discovered count")
	}
}

func TestHarvestReplyNodesEnqueues(t *testing.T) {
	c := newTestCrawler(t)
	if len(c.queue) != 0 {
		t.Fatalf("expected empty queue before harvesting any reply")
	}

	var nodeID infohash.ID
	nodeID[0] = 0x9
	addr, err := net.ResolveUDPAddr("udp4", "5.6.7.8:6881")
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	compact, err := infohash.EncodeCompactAddr(addr)
	if err != nil {
		t.Fatalf("EncodeCompactAddr: %v", err)
	}
	nodesField := string(nodeID.Bytes()) + compact

	raw := map[string]interface{}{
		"t": "aa", "y": "r",
		"r": map[string]interface{}{"id": string(randomID().Bytes()), "nodes": nodesField},
	}
	enc, _ := bencode.Marshal(raw)
	msg, _ := krpc.Parse(enc)

	c.harvestReplyNodes(msg)
	if len(c.queue) != 1 {
		t.Fatalf("expected one queued node after harvesting a reply, got %d", len(c.queue))
	}
	if got := c.metrics.NodesDiscovered.Load(); got != 1 {
		t.Fatalf("NodesDiscovered = %d, want 1", got)
	}
	if got := c.metrics.QueueLen.Load(); got != 1 {
		t.Fatalf("QueueLen = %d, want 1 after one enqueue", got)
	}

	c.harvestReplyNodes(msg)
	if got := c.metrics.NodesDiscovered.Load(); got != 1 {
		t.Fatalf("NodesDiscovered = %d, want still 1 after a duplicate node", got)
	}
}

func TestSeedSeenHashesSuppressesResubmission(t *testing.T) {
	c := newTestCrawler(t)
	var h infohash.ID
	h[0] = 0x5

	c.SeedSeenHashes([]infohash.ID{h})

	raw := map[string]interface{}{
		"t": "aa", "y": "q", "q": "get_peers",
		"a": map[string]interface{}{"id": string(randomID().Bytes()), "info_hash": string(h.Bytes())},
	}
	enc, _ := bencode.Marshal(raw)
	msg, _ := krpc.Parse(enc)

	c.harvestQueryHash(msg)

	if got := c.pipeline.Len(); got != 0 {
		t.Fatalf("expected a pre-seeded hash not to be resubmitted to the pipeline, pipeline len = %d", got)
	}
}

func TestBootstrapWarmStartsFromPersistedNodes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BootstrapHosts = nil
	cfg.MinNodesForWarmStart = 1
	bus := metrics.New()
	p := hashpipeline.New(16, bus)
	st := memstore.New()

	addr, _ := net.ResolveUDPAddr("udp4", "9.9.9.9:6881")
	var nodeID infohash.ID
	nodeID[0] = 0x1
	if err := st.PutNode(context.Background(), store.NodeRecord{ID: nodeID, Addr: addr.String(), LastSeen: time.Now()}); err != nil {
		t.Fatalf("PutNode: %v", err)
	}

	c, err := New(cfg, p, st, bus, rlog.Nop{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(c.queue) != 1 {
		t.Fatalf("expected bootstrap to warm start from the one persisted node, got queue len %d", len(c.queue))
	}
}
