// Package krpc implements the KRPC message shapes and UDP socket plumbing
// the Mainline DHT wire protocol uses, grounded on STX5-dht's
// remoteNode/krpc.go: the same arena-backed receive loop and bencode wire
// marshal, restructured around modern bencode:"key,omitempty" struct tags.
package krpc

import (
	"fmt"
	"net"
	"time"

	"dhtscrape/arena"
	"dhtscrape/bencode"
	"dhtscrape/infohash"
	"dhtscrape/rlog"
)

// MaxPacketSize is the largest UDP datagram this package will ever read;
// anything larger is truncated by the kernel before we see it.
const MaxPacketSize = 65535

// QueryMessage is an outbound KRPC query. A is a free-form argument
// dictionary since its shape differs per query type.
type QueryMessage struct {
	T string                 `bencode:"t"`
	Y string                 `bencode:"y"`
	Q string                 `bencode:"q"`
	A map[string]interface{} `bencode:"a"`
}

// ResponseMessage is a generic inbound message: a reply, a query, or an
// error, distinguished by Y. R/A/E are left empty when not applicable to
// the message that was actually received.
type ResponseMessage struct {
	T string                 `bencode:"t"`
	Y string                 `bencode:"y"`
	Q string                 `bencode:"q,omitempty"`
	R replyBody              `bencode:"r"`
	A map[string]interface{} `bencode:"a,omitempty"`
	E []interface{}          `bencode:"e,omitempty"`
}

// replyBody covers the union of fields that can show up in a reply's "r"
// dictionary across ping/find_node/get_peers replies.
type replyBody struct {
	ID     string   `bencode:"id"`
	Nodes  string   `bencode:"nodes,omitempty"`
	Nodes6 string   `bencode:"nodes6,omitempty"`
	Token  string   `bencode:"token,omitempty"`
	Values []string `bencode:"values,omitempty"`
}

// FindNodeQuery builds the outbound query body for find_node against
// target, from the sybil identity selfID.
func FindNodeQuery(txnID string, selfID infohash.ID, target infohash.ID) QueryMessage {
	return QueryMessage{
		T: txnID,
		Y: "q",
		Q: "find_node",
		A: map[string]interface{}{
			"id":     string(selfID.Bytes()),
			"target": string(target.Bytes()),
		},
	}
}

// PingQuery builds the outbound ping query body.
func PingQuery(txnID string, selfID infohash.ID) QueryMessage {
	return QueryMessage{
		T: txnID,
		Y: "q",
		Q: "ping",
		A: map[string]interface{}{"id": string(selfID.Bytes())},
	}
}

// Packet is a raw datagram paired with its sender, handed from the receive
// loop to the crawler for classification.
type Packet struct {
	Data  []byte
	Raddr *net.UDPAddr
}

// Listen binds a UDP socket on the given port; port 0 picks an ephemeral
// port, matching STX5-dht's Listen helper.
func Listen(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("krpc: listen on port %d: %w", port, err)
	}
	return conn, nil
}

// ReadLoop pulls datagrams off socket using buffers from a, pushing each
// onto out, until ctx... (stop) signals. Grounded on STX5-dht's
// ReadFromSocket, replacing its bool stop channel with a done channel so
// callers can use context.Context's Done().
func ReadLoop(socket *net.UDPConn, out chan<- Packet, a arena.Arena, done <-chan struct{}, log rlog.Logger) {
	for {
		buf := a.Pop()
		n, raddr, err := socket.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				a.Push(buf)
				return
			default:
			}
			log.Debugf("krpc: read error: %v", err)
			a.Push(buf)
			continue
		}
		if n == 0 {
			a.Push(buf)
			continue
		}
		pkt := Packet{Data: buf[:n], Raddr: raddr}
		select {
		case out <- pkt:
		case <-done:
			a.Push(buf)
			return
		}
	}
}

// Send bencode-marshals msg and writes it to raddr.
func Send(socket *net.UDPConn, raddr *net.UDPAddr, msg interface{}, log rlog.Logger) error {
	enc, err := bencode.Marshal(msg)
	if err != nil {
		return fmt.Errorf("krpc: marshal: %w", err)
	}
	if _, err := socket.WriteToUDP(enc, raddr); err != nil {
		log.Debugf("krpc: write to %v failed: %v", raddr, err)
		return err
	}
	return nil
}

// Parse decodes a raw datagram into a ResponseMessage. Decoding is best
// effort: malformed input from the wire is common and must not crash the
// receive loop.
func Parse(data []byte) (ResponseMessage, error) {
	var msg ResponseMessage
	if err := bencode.Unmarshal(data, &msg); err != nil {
		return ResponseMessage{}, fmt.Errorf("krpc: unmarshal: %w", err)
	}
	return msg, nil
}

// Nodes extracts compact IPv4 node entries from a find_node/get_peers
// reply's "nodes" field.
func (m ResponseMessage) Nodes() []infohash.NodeEndpoint {
	if m.R.Nodes == "" {
		return nil
	}
	return infohash.DecodeCompactNodes(m.R.Nodes)
}

// Peers extracts compact peer addresses from a get_peers reply's "values".
func (m ResponseMessage) Peers() []*net.UDPAddr {
	out := make([]*net.UDPAddr, 0, len(m.R.Values))
	for _, v := range m.R.Values {
		addr, err := infohash.DecodeCompactPeer(v)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// IsReply reports whether this message is a "y":"r" reply.
func (m ResponseMessage) IsReply() bool { return m.Y == "r" }

// IsError reports whether this message is a "y":"e" error.
func (m ResponseMessage) IsError() bool { return m.Y == "e" }

// IsQuery reports whether this message is a "y":"q" query (from a remote
// node probing us — we never answer these, see crawler).
func (m ResponseMessage) IsQuery() bool { return m.Y == "q" }

// TxnID is the transaction id attached to every outbound query. The
// crawler issues fire-and-forget find_node traffic and never matches
// replies back to a specific pending query by transaction id, so a single
// constant value is sufficient and avoids any per-query bookkeeping.
const TxnID = "aa"

// RetryPeriod mirrors STX5-dht's SearchRetryPeriod: how long before a
// previously-contacted node can be re-queried. The crawler does not read
// it: a node is queued again whenever a reply names it and it is absent
// from the seen-nodes set.
var RetryPeriod = 15 * time.Second
