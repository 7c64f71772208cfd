//go:build !windows
// +build !windows

// SO_BROADCAST is set through syscall.SetsockoptInt, whose option-level
// constants differ on Windows; this file covers the Unix-likes actually
// exercised here.

package transport

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

// broadcastConn sends/receives on the IPv4 limited-broadcast address.
// Neither the stdlib net package nor golang.org/x/net/ipv4 exposes
// SO_BROADCAST directly, so enabling broadcast sends needs one raw
// setsockopt call via the connection's syscall.RawConn — everything else
// about this transport is a plain UDP socket.
type broadcastConn struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
}

// NewBroadcastSender opens a sender targeting 255.255.255.255:port.
func NewBroadcastSender(port int) (Conn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "open broadcast sender socket", err)
	}
	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &broadcastConn{conn: conn, dst: &net.UDPAddr{IP: net.IPv4bcast, Port: port}}, nil
}

// ListenBroadcast opens a receiver bound to port on all interfaces.
func ListenBroadcast(port int) (Conn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "listen udp for broadcast", err)
	}
	return &broadcastConn{conn: conn}, nil
}

func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return sanchezerr.Wrap(sanchezerr.ClassIO, "get raw conn for SO_BROADCAST", err)
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if ctrlErr != nil {
		return sanchezerr.Wrap(sanchezerr.ClassIO, "set SO_BROADCAST", ctrlErr)
	}
	if sockErr != nil {
		return sanchezerr.Wrap(sanchezerr.ClassIO, "set SO_BROADCAST", sockErr)
	}
	return nil
}

func (c *broadcastConn) Send(ctx context.Context, packet []byte) error {
	_, err := c.conn.WriteToUDP(packet, c.dst)
	if err != nil {
		return sanchezerr.Wrap(sanchezerr.ClassIO, "broadcast write", err)
	}
	return nil
}

func (c *broadcastConn) Recv(ctx context.Context) ([]byte, error) {
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, from, err := c.conn.ReadFromUDP(buf)
		if err == nil {
			c.dst = from
			out := make([]byte, n)
			copy(out, buf[:n])
			return out, nil
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "broadcast read", err)
	}
}

func (c *broadcastConn) Close() error { return c.conn.Close() }

func (c *broadcastConn) RemoteAddr() string {
	if c.dst == nil {
		return ""
	}
	return c.dst.String()
}
