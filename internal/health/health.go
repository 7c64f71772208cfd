// Package health implements lightweight reachability probes for a
// .sanchez streaming endpoint: can we reach it, and does it speak the
// wire protocol at all (magic/version check only, no full session).
package health

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/cbx-nz/sanchez/internal/wire"
)

// checkHeaderPrefix validates the magic + version bytes a probe read off
// the wire, without decoding a full packet (no CRC, no payload length
// bookkeeping — this is a reachability check, not a session).
func checkHeaderPrefix(b []byte) error {
	if len(b) < 5 {
		return fmt.Errorf("short read: got %d bytes, need at least 5", len(b))
	}
	if b[0] != wire.Magic[0] || b[1] != wire.Magic[1] || b[2] != wire.Magic[2] || b[3] != wire.Magic[3] {
		return fmt.Errorf("bad magic: % x", b[0:4])
	}
	if b[4] != wire.Version {
		return fmt.Errorf("unsupported version %d", b[4])
	}
	return nil
}

// dialDeadline carries ctx's deadline (if any) onto conn, matching the
// "poll the deadline" idiom the transport package uses for the same
// net.Conn types.
func dialDeadline(ctx context.Context, conn net.Conn) {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
}

// CheckTCP dials addr over TCP and confirms the first bytes sent back
// are a valid .sanchez packet header. Returns nil if OK, an error
// describing what failed otherwise.
func CheckTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp dial %s: %w", addr, err)
	}
	defer conn.Close()
	dialDeadline(ctx, conn)

	buf := make([]byte, 5)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("tcp read %s: %w", addr, err)
	}
	if err := checkHeaderPrefix(buf); err != nil {
		return fmt.Errorf("tcp %s: %w", addr, err)
	}
	return nil
}

// CheckUDP binds addr (the same address the real server pushes
// FRAME_CHUNK/SYNC traffic to) and waits for one datagram, confirming
// it carries a valid .sanchez packet header. Unlike CheckTCP there is
// no dial step: a UDP stream is a one-way push, so the only reachable
// check is "is anything actually landing on our configured address".
func CheckUDP(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("udp resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", addr, err)
	}
	defer conn.Close()
	dialDeadline(ctx, conn)

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("udp read %s: %w", addr, err)
	}
	if err := checkHeaderPrefix(buf[:n]); err != nil {
		return fmt.Errorf("udp %s: %w", addr, err)
	}
	return nil
}
