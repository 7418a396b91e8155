package hashpipeline

import (
	"testing"

	"dhtscrape/infohash"
	"dhtscrape/metrics"
)

func testHash(b byte) infohash.ID {
	var id infohash.ID
	id[0] = b
	return id
}

func TestSubmitDedupes(t *testing.T) {
	bus := metrics.New()
	p := New(0, bus)
	h := testHash(1)
	go func() { p.Submit(h) }()
	got, ok := p.Next(nil)
	if !ok || got != h {
		t.Fatalf("expected to receive submitted hash")
	}
	if bus.HashesSeen.Load() != 1 {
		t.Fatalf("HashesSeen = %d, want 1", bus.HashesSeen.Load())
	}

	// Resubmitting the same hash before MarkDone should be a no-op dup.
	if p.Submit(h) {
		t.Fatalf("expected duplicate submit to be rejected")
	}
}

func TestMarkDoneAllowsResubmit(t *testing.T) {
	bus := metrics.New()
	p := New(1, bus)
	h := testHash(2)
	if !p.Submit(h) {
		t.Fatalf("first submit should succeed")
	}
	if p.Submit(h) {
		t.Fatalf("duplicate submit before consuming should be rejected")
	}
	<-p.out
	p.MarkDone(h)
	if !p.Submit(h) {
		t.Fatalf("resubmit after MarkDone should succeed")
	}
}

func TestSubmitDropsWhenBoundedChannelFull(t *testing.T) {
	bus := metrics.New()
	p := New(1, bus)
	a, b := testHash(3), testHash(4)
	if !p.Submit(a) {
		t.Fatalf("first submit should fill the single slot")
	}
	if p.Submit(b) {
		t.Fatalf("second submit should be dropped, channel is full")
	}
	if bus.HashesDropped.Load() != 1 {
		t.Fatalf("HashesDropped = %d, want 1", bus.HashesDropped.Load())
	}
}

func TestNextUnblocksOnDone(t *testing.T) {
	p := New(0, metrics.New())
	done := make(chan struct{})
	close(done)
	_, ok := p.Next(done)
	if ok {
		t.Fatalf("expected Next to report !ok once done is closed")
	}
}
