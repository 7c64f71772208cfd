package transport

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

// multicastConn wraps an ipv4.PacketConn so receivers can JoinGroup
// (plain net.ListenMulticastUDP doesn't expose interface selection or
// TTL control) while still satisfying the Conn capability set.
type multicastConn struct {
	pc    *ipv4.PacketConn
	raw   *net.UDPConn
	group *net.UDPAddr
}

// JoinMulticast opens a receiver bound to port on all local addresses
// and joins group on iface; a nil iface leaves the choice of interface
// to the system default. One session, no per-receiver state.
func JoinMulticast(group string, port int, iface *net.Interface) (Conn, error) {
	gaddr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "listen udp for multicast", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(iface, gaddr); err != nil {
		conn.Close()
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "join multicast group", err)
	}
	return &multicastConn{pc: pc, raw: conn, group: gaddr}, nil
}

// NewMulticastSender opens a sender for group:port. ttl controls how far
// (in router hops) the datagrams may travel; 1 keeps them on the local
// subnet.
func NewMulticastSender(group string, port int, ttl int) (Conn, error) {
	gaddr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "open multicast sender socket", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "set multicast ttl", err)
	}
	return &multicastConn{pc: pc, raw: conn, group: gaddr}, nil
}

func (c *multicastConn) Send(ctx context.Context, packet []byte) error {
	_, err := c.pc.WriteTo(packet, nil, c.group)
	if err != nil {
		return sanchezerr.Wrap(sanchezerr.ClassIO, "multicast write", err)
	}
	return nil
}

func (c *multicastConn) Recv(ctx context.Context) ([]byte, error) {
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.pc.SetReadDeadline(time.Now().Add(pollInterval))
		n, _, _, err := c.pc.ReadFrom(buf)
		if err == nil {
			out := make([]byte, n)
			copy(out, buf[:n])
			return out, nil
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "multicast read", err)
	}
}

func (c *multicastConn) Close() error { return c.raw.Close() }

func (c *multicastConn) RemoteAddr() string { return c.group.String() }
