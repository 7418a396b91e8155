// Package infohash holds the 20-byte BitTorrent info-hash type and the
// compact binary address formats the DHT wire protocol uses alongside it.
package infohash

import (
	"encoding/hex"
	"fmt"
	"net"
)

// Len is the length in bytes of a raw info-hash or DHT node id.
const Len = 20

// ID is a raw 20-byte info-hash or node id. The zero value is not valid;
// construct with New or Parse.
type ID [Len]byte

// New copies b into an ID. b must be exactly Len bytes.
func New(b []byte) (ID, error) {
	var id ID
	if len(b) != Len {
		return id, fmt.Errorf("infohash: expected %d raw bytes, got %d", Len, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Parse decodes a 40-character hex string into an ID. Hex is accepted in
// either case; String always renders lowercase, which is this package's
// canonical textual form.
func Parse(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("infohash: parse %q: %w", s, err)
	}
	return New(b)
}

// String renders the canonical lowercase hex form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 20 bytes.
func (id ID) Bytes() []byte {
	return id[:]
}

// Distance returns the Kademlia XOR distance between two ids.
func Distance(a, b ID) ID {
	var d ID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether a is numerically closer to zero than b, used to
// order XOR distances.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// NodeEndpoint is a UDP address paired with the DHT node id that most
// recently claimed it, as seen on the wire. The id is not verified.
type NodeEndpoint struct {
	ID   ID
	Addr *net.UDPAddr
}

func (n NodeEndpoint) String() string {
	if n.Addr == nil {
		return n.ID.String()
	}
	return fmt.Sprintf("%s@%s", n.ID, n.Addr)
}

// DecodeCompactNodes parses the concatenated compact node-info string
// returned in a find_node/get_peers reply's "nodes" field: each entry is 20
// bytes of node id followed by 4 bytes of big-endian IPv4 and 2 bytes of
// big-endian port. Malformed trailing bytes (not a multiple of 26) are
// dropped rather than rejecting the whole reply.
func DecodeCompactNodes(s string) []NodeEndpoint {
	const entryLen = Len + 6
	n := len(s) / entryLen
	out := make([]NodeEndpoint, 0, n)
	for i := 0; i < n; i++ {
		off := i * entryLen
		id, err := New([]byte(s[off : off+Len]))
		if err != nil {
			continue
		}
		addr := decodeCompactAddr(s[off+Len : off+entryLen])
		out = append(out, NodeEndpoint{ID: id, Addr: addr})
	}
	return out
}

// DecodeCompactPeer parses one entry of a get_peers reply's "values" list:
// 6 bytes, 4 bytes big-endian IPv4 followed by 2 bytes big-endian port.
func DecodeCompactPeer(s string) (*net.UDPAddr, error) {
	if len(s) != 6 {
		return nil, fmt.Errorf("infohash: compact peer must be 6 bytes, got %d", len(s))
	}
	return decodeCompactAddr(s), nil
}

func decodeCompactAddr(s string) *net.UDPAddr {
	ip := net.IPv4(s[0], s[1], s[2], s[3])
	port := int(s[4])<<8 | int(s[5])
	return &net.UDPAddr{IP: ip, Port: port}
}

// EncodeCompactAddr is the inverse of decodeCompactAddr, used by tests and
// by anything constructing outbound compact node/peer strings.
func EncodeCompactAddr(addr *net.UDPAddr) (string, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return "", fmt.Errorf("infohash: only IPv4 compact addresses are supported, got %v", addr.IP)
	}
	if addr.Port < 0 || addr.Port > 0xffff {
		return "", fmt.Errorf("infohash: port out of range: %d", addr.Port)
	}
	b := make([]byte, 6)
	copy(b, ip4)
	b[4] = byte(addr.Port >> 8)
	b[5] = byte(addr.Port)
	return string(b), nil
}
