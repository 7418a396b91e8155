// Package crawler implements the passive, Sybil-style Mainline DHT crawler:
// it sends find_node queries with a fresh random node id per query, never
// answers incoming queries beyond whatever the host UDP stack does for
// free, and harvests both node contacts and the info-hashes that show up
// in the "info_hash" argument of what other nodes ask it.
//
// Grounded on STX5-dht's dht.go main loop and remoteNode/krpc.go send/receive
// plumbing, stripped of the honest-node half (routing table, query replies,
// get_peers-for-local-downloads) that an honest DHT participant needs but a
// pure crawler does not.
package crawler

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"dhtscrape/arena"
	"dhtscrape/hashpipeline"
	"dhtscrape/infohash"
	"dhtscrape/krpc"
	"dhtscrape/metrics"
	"dhtscrape/rlog"
	"dhtscrape/store"
)

// Config carries the crawler's tunables from the external interfaces
// section; the fetcher's live in fetcher.Config.
type Config struct {
	// ListenPort is the local UDP port; 0 picks an ephemeral port.
	ListenPort int
	// BootstrapHosts are resolved once at startup to seed the crawl queue.
	BootstrapHosts []string
	// MaxQueriesPerSecond bounds outbound find_node traffic.
	MaxQueriesPerSecond float64
	// MaxSeenNodes bounds the seen-nodes set before it is cleared.
	MaxSeenNodes int
	// MaxSeenHashes bounds the seen-hashes set before it is cleared.
	MaxSeenHashes int
	// MaxQueueLen bounds the crawl queue; beyond it, newly discovered nodes
	// are dropped rather than queued.
	MaxQueueLen int

	// MinNodesForWarmStart is the fewest persisted nodes worth warm-starting
	// from; below this, bootstrap falls back to resolving BootstrapHosts.
	MinNodesForWarmStart int
	// NodeSavePeriodSeconds is how often Run persists the current seen-node
	// set as bootstrap candidates for the next warm start.
	NodeSavePeriodSeconds int
	// MaxNodesToSave bounds how many nodes are persisted per save, and how
	// many are loaded back on a warm start.
	MaxNodesToSave int
}

// DefaultConfig returns the tunables' documented defaults.
func DefaultConfig() Config {
	return Config{
		ListenPort:          0,
		BootstrapHosts:      []string{"router.bittorrent.com:6881", "dht.transmissionbt.com:6881", "router.utorrent.com:6881"},
		MaxQueriesPerSecond: 200,
		MaxSeenNodes:        100_000,
		MaxSeenHashes:       1_000_000,
		MaxQueueLen:         100_000,

		MinNodesForWarmStart:  100,
		NodeSavePeriodSeconds: 300,
		MaxNodesToSave:        1_000,
	}
}

// Crawler is a single passive DHT crawl process.
type Crawler struct {
	cfg      Config
	socket   *net.UDPConn
	pipeline *hashpipeline.Pipeline
	metrics  *metrics.Bus
	log      rlog.Logger
	limiter  *rate.Limiter
	store    store.Store

	queue      []*net.UDPAddr
	seenNodes  map[string]infohash.ID
	seenHashes map[infohash.ID]struct{}
}

// New binds a UDP socket and constructs a Crawler. It does not start
// sending or receiving until Run is called. st is used as a bootstrap
// warm-start source and as the destination for periodic node snapshots; it
// may be nil, in which case the crawler always cold-starts from
// cfg.BootstrapHosts and never persists nodes.
func New(cfg Config, pipeline *hashpipeline.Pipeline, st store.Store, bus *metrics.Bus, log rlog.Logger) (*Crawler, error) {
	socket, err := krpc.Listen(cfg.ListenPort)
	if err != nil {
		return nil, fmt.Errorf("crawler: %w", err)
	}
	if log == nil {
		log = rlog.Nop{}
	}
	return &Crawler{
		cfg:        cfg,
		socket:     socket,
		pipeline:   pipeline,
		metrics:    bus,
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxQueriesPerSecond), 1),
		store:      st,
		seenNodes:  make(map[string]infohash.ID),
		seenHashes: make(map[infohash.ID]struct{}),
	}, nil
}

// SeedSeenHashes pre-populates the in-memory seen-hashes set from a restart
// recovery source, so already-indexed hashes resurfacing on the wire are
// suppressed locally instead of being resubmitted to the hash pipeline.
func (c *Crawler) SeedSeenHashes(hashes []infohash.ID) {
	for _, h := range hashes {
		c.seenHashes[h] = struct{}{}
	}
}

// Port returns the bound local UDP port.
func (c *Crawler) Port() int {
	return c.socket.LocalAddr().(*net.UDPAddr).Port
}

// Close releases the UDP socket.
func (c *Crawler) Close() error {
	return c.socket.Close()
}

// Run drives the crawler until ctx is cancelled: it seeds the crawl queue
// (warm start or bootstrap host resolution, see bootstrap), then runs the send loop and receive loop
// concurrently, returning once both have exited.
func (c *Crawler) Run(ctx context.Context) error {
	if err := c.bootstrap(ctx); err != nil {
		return err
	}

	packets := make(chan krpc.Packet, 256)
	a := arena.NewPacketArena(64)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
		c.socket.Close()
	}()
	go krpc.ReadLoop(c.socket, packets, a, done, c.log)

	errc := make(chan error, 1)
	go func() {
		errc <- c.sendLoop(ctx)
	}()

	var saveTick <-chan time.Time
	if c.store != nil && c.cfg.NodeSavePeriodSeconds > 0 {
		ticker := time.NewTicker(time.Duration(c.cfg.NodeSavePeriodSeconds) * time.Second)
		defer ticker.Stop()
		saveTick = ticker.C
	}

	for {
		select {
		case pkt := <-packets:
			c.handlePacket(pkt)
		case <-saveTick:
			c.saveNodes(ctx)
		case <-ctx.Done():
			<-errc
			return ctx.Err()
		}
	}
}

// bootstrap seeds the crawl queue either from persisted, previously
// responsive nodes (a warm start) or, failing that, by resolving the
// configured bootstrap hostnames the same way STX5-dht's bootstrap() does.
func (c *Crawler) bootstrap(ctx context.Context) error {
	if c.warmStart(ctx) {
		return nil
	}
	for _, host := range c.cfg.BootstrapHosts {
		addr, err := net.ResolveUDPAddr("udp4", host)
		if err != nil {
			c.log.Debugf("crawler: bootstrap resolve %s failed: %v", host, err)
			continue
		}
		c.enqueue(addr)
	}
	if len(c.queue) == 0 {
		return fmt.Errorf("crawler: no bootstrap host resolved successfully")
	}
	return nil
}

// warmStart loads previously-persisted responsive nodes into the crawl
// queue, returning false (doing nothing) if there is no store, fewer than
// MinNodesForWarmStart are on record, or the addresses fail to parse.
func (c *Crawler) warmStart(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	nodes, err := c.store.ListNodes(ctx, c.cfg.MaxNodesToSave)
	if err != nil {
		c.log.Debugf("crawler: warm start list nodes: %v", err)
		return false
	}
	if len(nodes) < c.cfg.MinNodesForWarmStart {
		return false
	}
	for _, n := range nodes {
		addr, err := net.ResolveUDPAddr("udp4", n.Addr)
		if err != nil {
			continue
		}
		c.enqueue(addr)
	}
	if len(c.queue) == 0 {
		return false
	}
	c.log.Infof("crawler: warm started from %d persisted nodes", len(c.queue))
	return true
}

// saveNodes snapshots up to MaxNodesToSave entries of the seen-nodes set
// into the store, so a future restart can warm start instead of
// re-bootstrapping from the public routers. The seen-nodes set holds nodes
// named in the "nodes" field of replies; the senders of replies are not
// tracked, so a saved node has not necessarily answered a query. Called from
// Run's main select loop, the same single goroutine that mutates
// seenNodes, so no locking is needed.
func (c *Crawler) saveNodes(ctx context.Context) {
	now := time.Now()
	saved := 0
	for addr, id := range c.seenNodes {
		if saved >= c.cfg.MaxNodesToSave {
			break
		}
		if err := c.store.PutNode(ctx, store.NodeRecord{ID: id, Addr: addr, LastSeen: now}); err != nil {
			c.log.Debugf("crawler: save node %s: %v", addr, err)
			continue
		}
		saved++
	}
}

func (c *Crawler) enqueue(addr *net.UDPAddr) {
	if len(c.queue) >= c.cfg.MaxQueueLen {
		return
	}
	c.queue = append(c.queue, addr)
	c.metrics.QueueLen.Add(1)
}

// sendLoop drains the crawl queue, issuing one rate-limited find_node query
// per entry with a fresh random sybil identity, until ctx is cancelled or
// the queue runs dry (in which case it idles briefly and rechecks, since
// the receive loop keeps refilling it).
func (c *Crawler) sendLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(c.queue) == 0 {
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		addr := c.queue[0]
		c.queue = c.queue[1:]
		c.metrics.QueueLen.Add(-1)

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		self := randomID()
		target := randomID()
		q := krpc.FindNodeQuery(krpc.TxnID, self, target)
		if err := krpc.Send(c.socket, addr, q, c.log); err != nil {
			continue
		}
		c.metrics.FindNodeSent.Add(1)
	}
}

// handlePacket classifies one inbound datagram. Queries from other nodes
// are inspected for a carried info-hash (get_peers/announce_peer's
// "info_hash" argument) and otherwise ignored — this crawler never sends a
// reply, since answering queries would make it an honest participant
// rather than a passive observer. Replies are inspected for compact node
// contacts to keep the crawl queue fed.
func (c *Crawler) handlePacket(pkt krpc.Packet) {
	msg, err := krpc.Parse(pkt.Data)
	if err != nil {
		return
	}
	switch {
	case msg.IsQuery():
		c.harvestQueryHash(msg)
	case msg.IsReply():
		c.metrics.NodesContacted.Add(1)
		c.harvestReplyNodes(msg)
	}
}

func (c *Crawler) harvestQueryHash(msg krpc.ResponseMessage) {
	raw, ok := msg.A["info_hash"]
	if !ok {
		return
	}
	s, ok := raw.(string)
	if !ok {
		return
	}
	id, err := infohash.New([]byte(s))
	if err != nil {
		return
	}
	c.metrics.HashesDiscovered.Add(1)
	if _, dup := c.seenHashes[id]; dup {
		return
	}
	if len(c.seenHashes) >= c.cfg.MaxSeenHashes {
		c.seenHashes = make(map[infohash.ID]struct{})
	}
	c.seenHashes[id] = struct{}{}
	c.pipeline.Submit(id)
}

func (c *Crawler) harvestReplyNodes(msg krpc.ResponseMessage) {
	for _, n := range msg.Nodes() {
		if n.Addr == nil {
			continue
		}
		key := n.Addr.String()
		if _, dup := c.seenNodes[key]; dup {
			continue
		}
		if len(c.seenNodes) >= c.cfg.MaxSeenNodes {
			c.seenNodes = make(map[string]infohash.ID)
		}
		c.seenNodes[key] = n.ID
		c.metrics.NodesDiscovered.Add(1)
		c.enqueue(n.Addr)
	}
}

// randomID generates a fresh 20-byte node id, grounded on STX5-dht's
// remoteNode.RandNodeId. A new id is drawn for every outbound query: this
// crawler never maintains a consistent identity.
func randomID() infohash.ID {
	var b [infohash.Len]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable process state;
		// fall back to an all-zero id rather than panicking mid-crawl.
		return infohash.ID{}
	}
	id, _ := infohash.New(b[:])
	return id
}
