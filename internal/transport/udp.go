package transport

import (
	"context"
	"net"
	"time"

	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

const maxDatagram = 64 * 1024

// udpConn is a unicast UDP socket, bound locally and (optionally) with a
// fixed peer address for Send. The read loop polls a short deadline so
// ctx cancellation is noticed promptly.
type udpConn struct {
	conn      *net.UDPConn
	peer      *net.UDPAddr // nil until the first packet is received, for a listener with no fixed peer
	connected bool         // true for a DialUDP socket: the fd itself is connected, so Send must use Write, not WriteToUDP
}

// ListenUDP opens a unicast UDP socket bound to addr (use ":0" style host
// parts for an ephemeral port). Send targets the first peer a packet
// was received from; later senders do not replace it.
func ListenUDP(addr string) (Conn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "resolve udp addr", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "listen udp", err)
	}
	return &udpConn{conn: conn}, nil
}

// DialUDP opens a unicast UDP socket with a fixed remote peer, used by
// the stream server to send to one known receiver.
func DialUDP(addr string) (Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "resolve udp addr", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "dial udp", err)
	}
	return &udpConn{conn: conn, peer: raddr, connected: true}, nil
}

// Send writes packet to the peer. A DialUDP socket's fd is connected at
// the OS level, and net.UDPConn.WriteToUDP unconditionally returns
// net.ErrWriteToConnected on a connected fd regardless of whether addr
// matches the connected peer — so the connected case must use plain
// Write, never WriteToUDP. WriteToUDP is only valid for a ListenUDP
// socket that has since learned its peer from an inbound packet.
func (c *udpConn) Send(ctx context.Context, packet []byte) error {
	var err error
	switch {
	case c.connected:
		_, err = c.conn.Write(packet)
	case c.peer != nil:
		_, err = c.conn.WriteToUDP(packet, c.peer)
	default:
		return sanchezerr.New(sanchezerr.ClassIO, "udp write: no peer known yet")
	}
	if err != nil {
		return sanchezerr.Wrap(sanchezerr.ClassIO, "udp write", err)
	}
	return nil
}

func (c *udpConn) Recv(ctx context.Context) ([]byte, error) {
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, from, err := c.conn.ReadFromUDP(buf)
		if err == nil {
			if !c.connected && c.peer == nil {
				c.peer = from
			}
			out := make([]byte, n)
			copy(out, buf[:n])
			return out, nil
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "udp read", err)
	}
}

func (c *udpConn) Close() error { return c.conn.Close() }

func (c *udpConn) RemoteAddr() string {
	if c.peer == nil {
		return ""
	}
	return c.peer.String()
}
