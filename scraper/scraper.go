// Package scraper wires the crawler, hash pipeline, fetcher, metrics and
// store together into one runnable process. Grounded on STX5-dht's dht.go
// New/Start/Stop public API shape and examples/find_infohash_and_wait's
// wiring style.
package scraper

import (
	"context"
	"fmt"

	"dhtscrape/crawler"
	"dhtscrape/fetcher"
	"dhtscrape/fetcher/swarm"
	"dhtscrape/hashpipeline"
	"dhtscrape/metrics"
	"dhtscrape/rlog"
	"dhtscrape/store"
)

// Config composes the crawler and fetcher tunables plus the pieces a
// caller must supply: a store implementation, a peer-wire dialer, and an
// optional logger.
type Config struct {
	Crawler crawler.Config
	Fetcher fetcher.Config
	// PipelineCapacity bounds the hash pipeline; 0 means unbounded.
	PipelineCapacity int

	Store  store.Store
	Dialer swarm.Dialer
	Logger rlog.Logger
}

// DefaultConfig returns crawler/fetcher defaults with no Store/Dialer set;
// callers must still supply those before calling New.
func DefaultConfig() Config {
	return Config{
		Crawler: crawler.DefaultConfig(),
		Fetcher: fetcher.DefaultConfig(),
	}
}

// Scraper is a fully wired crawl+fetch process.
type Scraper struct {
	cfg      Config
	crawler  *crawler.Crawler
	fetcher  *fetcher.Fetcher
	pipeline *hashpipeline.Pipeline
	metrics  *metrics.Bus
}

// New constructs a Scraper. cfg.Store and cfg.Dialer must be set by the
// caller; everything else has a working default.
func New(cfg Config) (*Scraper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("scraper: Config.Store is required")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("scraper: Config.Dialer is required")
	}
	log := cfg.Logger
	if log == nil {
		log = rlog.Nop{}
	}

	bus := metrics.New()
	pipeline := hashpipeline.New(cfg.PipelineCapacity, bus)

	c, err := crawler.New(cfg.Crawler, pipeline, cfg.Store, bus, log)
	if err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}
	f := fetcher.New(cfg.Fetcher, cfg.Dialer, cfg.Store, bus, log)

	if err := seedFromStore(context.Background(), cfg.Store, c, pipeline); err != nil {
		log.Errorf("scraper: seeding from store: %v", err)
	}

	return &Scraper{cfg: cfg, crawler: c, fetcher: f, pipeline: pipeline, metrics: bus}, nil
}

// seedFromStore replays two independent restart-recovery sources: any
// PendingHash rows left over from a previous process's restart are
// resubmitted to the hash pipeline, and every already-indexed torrent's
// hash is loaded into the crawler's own seen-hashes set so a resighting on
// the wire is suppressed locally instead of round-tripping the pipeline
// and store again.
func seedFromStore(ctx context.Context, st store.Store, c *crawler.Crawler, pipeline *hashpipeline.Pipeline) error {
	pending, err := st.ListPendingHashes(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		pipeline.Submit(p.Hash)
	}

	indexed, err := st.ListTorrentHashes(ctx)
	if err != nil {
		return err
	}
	c.SeedSeenHashes(indexed)
	return nil
}

// Metrics returns the shared metrics bus, for a caller that wants to expose
// or inspect it.
func (s *Scraper) Metrics() *metrics.Bus { return s.metrics }

// Port returns the crawler's bound local UDP port.
func (s *Scraper) Port() int { return s.crawler.Port() }

// Run starts the crawler and fetcher and blocks until ctx is cancelled.
func (s *Scraper) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.crawler.Run(ctx)
	}()
	go s.fetcher.Run(ctx, s.pipeline)

	<-ctx.Done()
	err := <-errc
	closeErr := s.cfg.Store.Close()
	if err != nil && err != context.Canceled {
		return err
	}
	return closeErr
}
