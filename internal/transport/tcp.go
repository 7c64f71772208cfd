package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

// pollInterval bounds how often a blocking read re-checks ctx.Err(); the
// TCP, UDP, multicast and broadcast read loops all use it.
const pollInterval = 2 * time.Second

// TCPListener accepts unicast TCP clients; each accepted client gets its
// own sequence space starting from packet 0, per spec §4.3.
type TCPListener struct {
	ln net.Listener
}

func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "listen tcp", err)
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Addr() string { return l.ln.Addr().String() }

// Accept blocks for the next client connection. The caller is expected
// to loop on Accept and spawn one goroutine per client, as cmd/sanchez's
// serve loop does; clients do not share mutable state.
func (l *TCPListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "accept tcp client", err)
	}
	return newTCPConn(c), nil
}

func (l *TCPListener) Close() error { return l.ln.Close() }

// DialTCP connects to a unicast TCP stream server.
func DialTCP(addr string) (Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "dial tcp", err)
	}
	return newTCPConn(c), nil
}

type tcpConn struct {
	conn net.Conn
	br   *bufio.Reader
}

func newTCPConn(c net.Conn) *tcpConn {
	return &tcpConn{conn: c, br: bufio.NewReaderSize(c, 64*1024)}
}

func (c *tcpConn) Send(ctx context.Context, packet []byte) error {
	_, err := c.conn.Write(packet)
	if err != nil {
		return sanchezerr.Wrap(sanchezerr.ClassIO, "tcp write", err)
	}
	return nil
}

// Recv reassembles exactly one encoded wire packet from the stream: the
// 22-byte fixed header carries the payload length, so we read the header
// first, then payload_len+4 (CRC) more bytes. TCP guarantees order and no
// loss, but we still have to find the packet boundary ourselves — the
// transport is a byte stream, not a datagram channel.
func (c *tcpConn) Recv(ctx context.Context) ([]byte, error) {
	header := make([]byte, 22)
	if err := c.readFullWithCtx(ctx, header); err != nil {
		return nil, err
	}
	payloadLen := binary.BigEndian.Uint32(header[18:22])
	rest := make([]byte, int(payloadLen)+4)
	if err := c.readFullWithCtx(ctx, rest); err != nil {
		return nil, err
	}
	return append(header, rest...), nil
}

func (c *tcpConn) readFullWithCtx(ctx context.Context, buf []byte) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if setter, ok := c.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			setter.SetReadDeadline(time.Now().Add(pollInterval))
		}
		_, err := io.ReadFull(c.br, buf)
		if err == nil {
			return nil
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return sanchezerr.Wrap(sanchezerr.ClassIO, "tcp connection closed", err)
		}
		return sanchezerr.Wrap(sanchezerr.ClassIO, "tcp read", err)
	}
}

func (c *tcpConn) Close() error { return c.conn.Close() }

func (c *tcpConn) RemoteAddr() string {
	if c.conn.RemoteAddr() == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}
