// Package arena is a channel-backed free list of fixed-size byte buffers,
// sized for the crawler's UDP receive loop: every buffer is exactly large
// enough to hold one KRPC datagram, so the hot path (receive, hand off,
// eventually return) never allocates.
package arena

// MaxDatagramSize is the largest UDP datagram the DHT wire protocol needs
// to buffer for; it mirrors krpc.MaxPacketSize (duplicated here rather than
// imported, since krpc depends on this package and not the reverse).
const MaxDatagramSize = 65535

// Arena is a fixed-capacity pool of byte buffers. Pop blocks until a buffer
// is available; Push returns one for reuse. Buffers handed out by Pop are
// not zeroed — a caller must only read the prefix it knows was written,
// typically by re-slicing to the byte count a socket read returned.
type Arena chan []byte

// New builds an Arena of numBlocks buffers, each blockSize bytes.
func New(blockSize, numBlocks int) Arena {
	a := make(Arena, numBlocks)
	for i := 0; i < numBlocks; i++ {
		a <- make([]byte, blockSize)
	}
	return a
}

// NewPacketArena builds an Arena sized for numBlocks concurrent KRPC
// datagrams, the shape the crawler's receive loop actually needs.
func NewPacketArena(numBlocks int) Arena {
	return New(MaxDatagramSize, numBlocks)
}

// Pop removes and returns a buffer, blocking if none is currently free.
func (a Arena) Pop() []byte {
	return <-a
}

// Push returns a buffer to the pool, restoring it to its full capacity so
// the next Pop sees the whole backing array again.
func (a Arena) Push(buf []byte) {
	a <- buf[:cap(buf)]
}

// Len reports how many buffers are currently free.
func (a Arena) Len() int {
	return len(a)
}

// Cap reports the arena's total buffer count.
func (a Arena) Cap() int {
	return cap(a)
}
