package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/cbx-nz/sanchez/internal/codec"
	"github.com/cbx-nz/sanchez/internal/container"
	"github.com/cbx-nz/sanchez/internal/metrics"
	"github.com/cbx-nz/sanchez/internal/transport"
	"github.com/cbx-nz/sanchez/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeConn feeds a pre-built queue of encoded packets to a Client,
// without touching the network.
type fakeConn struct {
	queue [][]byte
}

func (f *fakeConn) Send(ctx context.Context, packet []byte) error { return nil }

func (f *fakeConn) Recv(ctx context.Context) ([]byte, error) {
	if len(f.queue) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b := f.queue[0]
	f.queue = f.queue[1:]
	return b, nil
}

func (f *fakeConn) Close() error       { return nil }
func (f *fakeConn) RemoteAddr() string { return "fake" }

func (f *fakeConn) push(t wire.Type, seq uint32, payload []byte) {
	f.queue = append(f.queue, wire.Encode(t, seq, uint64(seq)*1000, payload))
}

func encodeFrame(t *testing.T, conn *fakeConn, seq *uint32, idx uint32, pix []byte, chunkSize int) {
	t.Helper()
	deflated, err := codec.DeflateRaw(pix)
	if err != nil {
		t.Fatalf("DeflateRaw: %v", err)
	}
	var chunks [][]byte
	for off := 0; off < len(deflated); off += chunkSize {
		end := off + chunkSize
		if end > len(deflated) {
			end = len(deflated)
		}
		chunks = append(chunks, deflated[off:end])
	}
	conn.push(wire.TypeFrameStart, *seq, wire.EncodeFrameStart(wire.FrameStart{
		FrameIndex: idx, TotalBytes: uint32(len(deflated)), ChunkCount: uint32(len(chunks)),
	}))
	*seq++
	for ci, c := range chunks {
		conn.push(wire.TypeFrameChunk, *seq, wire.EncodeFrameChunk(wire.FrameChunk{
			FrameIndex: idx, ChunkIndex: uint32(ci), Bytes: c,
		}))
		*seq++
	}
	conn.push(wire.TypeFrameEnd, *seq, wire.EncodeFrameEnd(wire.FrameEnd{
		FrameIndex: idx, CRC32: codec.CRC32(deflated),
	}))
	*seq++
}

func pushHeader(conn *fakeConn, seq *uint32, cfg container.Config) {
	meta := container.Metadata{Title: "t", Seconds: "1"}
	metaJSON, _ := json.Marshal(meta)
	conn.push(wire.TypeMetadata, *seq, metaJSON)
	*seq++
	conn.push(wire.TypeConfig, *seq, []byte(configLine(cfg)))
	*seq++
}

func TestReadHeaderAndSimpleFrame(t *testing.T) {
	conn := &fakeConn{}
	var seq uint32
	cfg := container.Config{Width: 2, Height: 1, FrameCount: 1}
	pushHeader(conn, &seq, cfg)
	pix := []byte{255, 0, 0, 0, 255, 0}
	encodeFrame(t, conn, &seq, 0, pix, 8*1024)
	conn.push(wire.TypeEndStream, seq, nil)

	reg := metrics.New(prometheus.NewRegistry())
	c := New(conn, transport.KindTCPUnicast, reg)
	ctx := context.Background()
	if _, gotCfg, err := c.ReadHeader(ctx, Options{}); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	} else if gotCfg != cfg {
		t.Fatalf("config = %+v, want %+v", gotCfg, cfg)
	}

	item, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if item.Kind != ItemFrame || item.FrameIndex != 0 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if string(item.Frame.Pix) != string(pix) {
		t.Errorf("Pix = %v, want %v", item.Frame.Pix, pix)
	}

	if _, err := c.Next(ctx); err != io.EOF {
		t.Fatalf("Next after END_STREAM = %v, want io.EOF", err)
	}
}

func TestOutOfOrderChunksStillAssemble(t *testing.T) {
	conn := &fakeConn{}
	var seq uint32
	cfg := container.Config{Width: 2, Height: 1, FrameCount: 1}
	pushHeader(conn, &seq, cfg)
	pix := []byte{1, 2, 3, 4, 5, 6}
	encodeFrame(t, conn, &seq, 0, pix, 1) // force several small chunks
	// Shuffle the first two FRAME_CHUNK packets (queue indices 3 and 4,
	// after METADATA at 0, CONFIG at 1 and FRAME_START at 2, and before
	// FRAME_END at the end).
	if len(conn.queue) >= 6 {
		conn.queue[3], conn.queue[4] = conn.queue[4], conn.queue[3]
	}
	conn.push(wire.TypeEndStream, seq, nil)

	c := New(conn, transport.KindTCPUnicast, nil)
	ctx := context.Background()
	if _, _, err := c.ReadHeader(ctx, Options{}); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	item, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if item.Kind != ItemFrame || string(item.Frame.Pix) != string(pix) {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestFECRecoversSingleMissingChunk(t *testing.T) {
	conn := &fakeConn{}
	var seq uint32
	cfg := container.Config{Width: 2, Height: 1, FrameCount: 1}
	pushHeader(conn, &seq, cfg)

	pix := []byte{10, 20, 30, 40, 50, 60}
	deflated, err := codec.DeflateRaw(pix)
	if err != nil {
		t.Fatalf("DeflateRaw: %v", err)
	}
	chunkSize := 3
	var chunks [][]byte
	for off := 0; off < len(deflated); off += chunkSize {
		end := off + chunkSize
		if end > len(deflated) {
			end = len(deflated)
		}
		chunks = append(chunks, deflated[off:end])
	}
	if len(chunks) < 2 {
		t.Fatalf("test needs at least 2 chunks, got %d", len(chunks))
	}

	conn.push(wire.TypeFrameStart, seq, wire.EncodeFrameStart(wire.FrameStart{
		FrameIndex: 0, TotalBytes: uint32(len(deflated)), ChunkCount: uint32(len(chunks)),
	}))
	seq++

	maxLen := 0
	for _, c := range chunks {
		if len(c) > maxLen {
			maxLen = len(c)
		}
	}
	members := make([]wire.FECMember, len(chunks))
	for i := range chunks {
		members[i] = wire.FECMember{FrameIndex: 0, ChunkIndex: uint32(i)}
	}
	parity := wire.XORParity(chunks, maxLen)

	// Deliver every chunk except index 0, then the FEC_DATA group, then
	// FRAME_END, then the missing chunk never arrives at all.
	for i := 1; i < len(chunks); i++ {
		conn.push(wire.TypeFrameChunk, seq, wire.EncodeFrameChunk(wire.FrameChunk{
			FrameIndex: 0, ChunkIndex: uint32(i), Bytes: chunks[i],
		}))
		seq++
	}
	conn.push(wire.TypeFECData, seq, wire.EncodeFECData(wire.FECData{
		GroupID: 0, MemberLength: uint32(maxLen), Members: members, Parity: parity,
	}))
	seq++
	conn.push(wire.TypeFrameEnd, seq, wire.EncodeFrameEnd(wire.FrameEnd{
		FrameIndex: 0, CRC32: codec.CRC32(deflated),
	}))
	seq++
	conn.push(wire.TypeEndStream, seq, nil)

	reg := metrics.New(prometheus.NewRegistry())
	c := New(conn, transport.KindUDPUnicast, reg)
	ctx := context.Background()
	if _, _, err := c.ReadHeader(ctx, Options{}); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	item, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if item.Kind != ItemFrame {
		t.Fatalf("frame not recovered: %+v", item)
	}
	if string(item.Frame.Pix) != string(pix) {
		t.Errorf("recovered Pix = %v, want %v", item.Frame.Pix, pix)
	}
}

func TestTwoMissingChunksInGroupAreUnrecoverable(t *testing.T) {
	conn := &fakeConn{}
	var seq uint32
	cfg := container.Config{Width: 2, Height: 1, FrameCount: 2}
	pushHeader(conn, &seq, cfg)

	// Frame 0 is intentionally never completed (two of its chunks are
	// withheld). Frame 1 completes normally so the lag timeout is
	// triggered instead of waiting on a later frame forever.
	pix0 := []byte{1, 1, 1, 2, 2, 2}
	deflated0, _ := codec.DeflateRaw(pix0)
	conn.push(wire.TypeFrameStart, seq, wire.EncodeFrameStart(wire.FrameStart{
		FrameIndex: 0, TotalBytes: uint32(len(deflated0)), ChunkCount: 3,
	}))
	seq++
	// Only 1 of 3 chunks ever shows up. The FEC group covering all three
	// arrives, but with two members missing it cannot recover either.
	conn.push(wire.TypeFrameChunk, seq, wire.EncodeFrameChunk(wire.FrameChunk{
		FrameIndex: 0, ChunkIndex: 0, Bytes: deflated0[:1],
	}))
	seq++
	conn.push(wire.TypeFECData, seq, wire.EncodeFECData(wire.FECData{
		GroupID: 0, MemberLength: 1,
		Members: []wire.FECMember{
			{FrameIndex: 0, ChunkIndex: 0}, {FrameIndex: 0, ChunkIndex: 1}, {FrameIndex: 0, ChunkIndex: 2},
		},
		Parity: wire.XORParity([][]byte{deflated0[0:1], deflated0[1:2], deflated0[2:3]}, 1),
	}))
	seq++

	pix1 := []byte{3, 3, 3, 4, 4, 4}
	encodeFrame(t, conn, &seq, 1, pix1, 8*1024)
	conn.push(wire.TypeEndStream, seq, nil)

	reg := metrics.New(prometheus.NewRegistry())
	c := New(conn, transport.KindUDPUnicast, reg)
	ctx := context.Background()
	if _, _, err := c.ReadHeader(ctx, Options{SyncInterval: 10 * time.Millisecond}); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	c.opts.MaxFrameLag = 20 * time.Millisecond

	item, err := c.Next(ctx)
	if err != nil {
		t.Fatalf("Next (expected FrameLost 0): %v", err)
	}
	if item.Kind != ItemLost || item.FrameIndex != 0 {
		t.Fatalf("item = %+v, want FrameLost(0)", item)
	}

	item, err = c.Next(ctx)
	if err != nil {
		t.Fatalf("Next (expected frame 1): %v", err)
	}
	if item.Kind != ItemFrame || item.FrameIndex != 1 {
		t.Fatalf("item = %+v, want frame 1", item)
	}

	if _, err := c.Next(ctx); err != io.EOF {
		t.Fatalf("Next after stream end = %v, want io.EOF", err)
	}
}

func TestStaleSequenceIsDropped(t *testing.T) {
	conn := &fakeConn{}
	var seq uint32
	cfg := container.Config{Width: 1, Height: 1, FrameCount: 1}
	pushHeader(conn, &seq, cfg)

	reg := metrics.New(prometheus.NewRegistry())
	c := New(conn, transport.KindUDPUnicast, reg)
	ctx := context.Background()
	if _, _, err := c.ReadHeader(ctx, Options{}); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	c.highestSeq = 5000
	c.haveSeq = true
	stale := wire.Packet{Type: wire.TypeSync, Seq: 1, Payload: wire.EncodeSync(wire.Sync{})}
	if err := c.handlePacket(stale); err != nil {
		t.Fatalf("handlePacket: %v", err)
	}
	if c.highestSeq != 5000 {
		t.Errorf("stale packet should not move highestSeq, got %d", c.highestSeq)
	}
}

func configLine(c container.Config) string {
	return fmt.Sprintf("%04d%04d%07d", c.Width, c.Height, c.FrameCount)
}
