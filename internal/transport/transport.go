// Package transport defines the small capability set the stream server
// and client are written against — {Send([]byte) error, Recv() ([]byte,
// error)} — with four concrete implementations: TCP unicast, UDP
// unicast, UDP multicast, and UDP broadcast. Callers encode/decode wire
// packets; a Conn only ever moves opaque byte slices, each one exactly
// one encoded packet.
package transport

import "context"

// Conn is the transport capability every server/client session is
// generic over. Recv blocks until one full packet's bytes are available,
// ctx is canceled, or the connection closes.
type Conn interface {
	Send(ctx context.Context, packet []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
	// RemoteAddr is used only for logging; it may be "" for a receiving
	// UDP or broadcast socket before its first packet has arrived.
	RemoteAddr() string
}

// Kind identifies which of the four transports a Conn was built from,
// for logging and for the TCP/UDP split in the server and client (UDP
// pacing, FEC only on non-TCP sessions).
type Kind int

const (
	KindTCPUnicast Kind = iota
	KindUDPUnicast
	KindUDPMulticast
	KindUDPBroadcast
)

func (k Kind) String() string {
	switch k {
	case KindTCPUnicast:
		return "tcp"
	case KindUDPUnicast:
		return "udp-unicast"
	case KindUDPMulticast:
		return "udp-multicast"
	case KindUDPBroadcast:
		return "udp-broadcast"
	default:
		return "unknown"
	}
}
