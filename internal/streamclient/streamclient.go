// Package streamclient implements the read side of the .sanchez
// streaming protocol: it validates and reorders incoming packets,
// reassembles frames, recovers single missing chunks per FEC group, and
// yields a strictly-increasing sequence of complete (or lost) frames to
// the consumer. It is transport-polymorphic over the same
// transport.Conn the stream server writes to.
package streamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cbx-nz/sanchez/internal/codec"
	"github.com/cbx-nz/sanchez/internal/container"
	"github.com/cbx-nz/sanchez/internal/metrics"
	"github.com/cbx-nz/sanchez/internal/sanchezerr"
	"github.com/cbx-nz/sanchez/internal/transport"
	"github.com/cbx-nz/sanchez/internal/wire"
)

const (
	// reorderWindow is W from spec §4.4: packets more than this far
	// behind the highest sequence seen are discarded as stale.
	reorderWindow = 1024

	defaultSyncInterval = 1 * time.Second
	defaultMaxFrameLag  = 500 * time.Millisecond

	// retainFrames bounds how many already-delivered (or lost) frames'
	// raw chunk bytes are kept around after delivery, so a FEC group
	// straddling a frame boundary can still resolve even though its
	// frame already completed delivery before the parity packet arrived.
	retainFrames = 4
)

// ItemKind distinguishes the two things Next can hand back.
type ItemKind int

const (
	ItemFrame ItemKind = iota
	ItemLost
)

// Item is one unit of the client's output sequence: either a complete,
// decoded Frame or a FrameLost marker, always in strictly increasing
// FrameIndex order with no duplicates.
type Item struct {
	Kind       ItemKind
	FrameIndex uint32
	Frame      container.Frame
}

// Options configures one client session. Zero values are replaced with
// spec-mandated defaults by withDefaults once Metadata/Config are known.
type Options struct {
	SyncInterval time.Duration
	MaxFrameLag  time.Duration
}

func (o Options) withDefaults(meta container.Metadata, frameCount int) Options {
	if o.SyncInterval == 0 {
		o.SyncInterval = defaultSyncInterval
	}
	if o.MaxFrameLag == 0 {
		fps := fpsFromMetadata(meta, frameCount)
		if fps > 0 {
			o.MaxFrameLag = time.Duration(2 * (float64(time.Second) / fps))
		} else {
			o.MaxFrameLag = defaultMaxFrameLag
		}
	}
	return o
}

func fpsFromMetadata(meta container.Metadata, frameCount int) float64 {
	var secs float64
	if _, err := fmt.Sscanf(meta.Seconds, "%g", &secs); err != nil || secs <= 0 || frameCount <= 0 {
		return 0
	}
	return float64(frameCount) / secs
}

type chunkKey struct {
	FrameIndex uint32
	ChunkIndex uint32
}

// partialFrame accumulates one frame's chunks until it is either
// complete and CRC-verified, or declared lost.
type partialFrame struct {
	haveStart  bool
	totalBytes uint32
	chunkCount uint32
	chunks     map[uint32][]byte
	haveEnd    bool
	crc        uint32
	recovered  bool
}

func newPartialFrame() *partialFrame {
	return &partialFrame{chunks: make(map[uint32][]byte)}
}

func (p *partialFrame) chunksComplete() bool {
	return p.haveStart && uint32(len(p.chunks)) == p.chunkCount
}

func (p *partialFrame) assemble() []byte {
	buf := make([]byte, 0, p.totalBytes)
	for i := uint32(0); i < p.chunkCount; i++ {
		buf = append(buf, p.chunks[i]...)
	}
	return buf
}

// Client reassembles one streaming session read from conn. Metrics are
// optional; pass nil to disable.
type Client struct {
	conn    transport.Conn
	kind    transport.Kind
	metrics *metrics.Registry

	opts Options

	haveHeader bool
	meta       container.Metadata
	config     container.Config

	audio      []byte
	audioTotal uint32
	haveAudio  bool

	haveSeq    bool
	highestSeq uint32

	partials     map[uint32]*partialFrame
	chunkCache   map[chunkKey][]byte
	highestFrame uint32
	haveFrame    bool
	nextDeliver  uint32
	blocked      bool
	blockedSince time.Time
	ended        bool
}

// New creates a Client reading from conn. kind identifies the transport
// (TCP sessions never see FEC_DATA packets, matching the write side).
func New(conn transport.Conn, kind transport.Kind, m *metrics.Registry) *Client {
	return &Client{
		conn:       conn,
		kind:       kind,
		metrics:    m,
		partials:   make(map[uint32]*partialFrame),
		chunkCache: make(map[chunkKey][]byte),
	}
}

// ReadHeader blocks until the CONFIG packet has arrived, then returns it
// with the METADATA that precedes it on the wire. AUDIO_CONFIG, which
// the server sends after CONFIG, is not waited for; Next handles it. It
// must be called before Next. opts lets the caller override the
// spec-mandated defaults for sync_interval/max_frame_lag; pass a zero
// Options to take them.
func (c *Client) ReadHeader(ctx context.Context, opts Options) (container.Metadata, container.Config, error) {
	for !c.haveHeader {
		pkt, err := c.recvRaw(ctx)
		if err != nil {
			return container.Metadata{}, container.Config{}, err
		}
		if err := c.handlePacket(pkt); err != nil {
			return container.Metadata{}, container.Config{}, err
		}
	}
	c.opts = opts.withDefaults(c.meta, c.config.FrameCount)
	return c.meta, c.config, nil
}

// Next returns the next item in the delivery sequence, or io.EOF once
// END_STREAM has been processed and every frame has been delivered or
// declared lost. It blocks until an item is ready, ctx is canceled, or
// a fatal (ProtocolError / FormatError / TransportClosed) condition is
// hit.
func (c *Client) Next(ctx context.Context) (Item, error) {
	for {
		if item, ok := c.popDeliverable(); ok {
			return item, nil
		}
		if c.ended && (!c.haveFrame || c.nextDeliver > c.highestFrame) {
			return Item{}, io.EOF
		}

		deadline := time.Now().Add(c.recvTimeout())
		if c.blocked {
			lagDeadline := c.blockedSince.Add(c.opts.MaxFrameLag)
			if lagDeadline.Before(deadline) {
				deadline = lagDeadline
			}
		}

		pkt, err := c.recvRawDeadline(ctx, deadline)
		if err != nil {
			if isDeadlineHit(err) {
				// Either the frame-lag deadline fired (resolved by
				// popDeliverable next time round) or nothing at all
				// arrived within the per-packet receive timeout.
				if c.blocked {
					continue
				}
				return Item{}, sanchezerr.New(sanchezerr.ClassIO,
					fmt.Sprintf("no packet received within %s", c.recvTimeout()))
			}
			return Item{}, err
		}
		if err := c.handlePacket(pkt); err != nil {
			return Item{}, err
		}
	}
}

// Audio returns the fully-reassembled audio blob, if any. It is only
// meaningful once Next has returned io.EOF.
func (c *Client) Audio() []byte { return c.audio }

func (c *Client) recvTimeout() time.Duration {
	if c.opts.SyncInterval == 0 {
		return defaultSyncInterval * 3
	}
	return c.opts.SyncInterval * 3
}

func (c *Client) recvRaw(ctx context.Context) (wire.Packet, error) {
	return c.recvRawDeadline(ctx, time.Now().Add(c.recvTimeout()))
}

func (c *Client) recvRawDeadline(ctx context.Context, deadline time.Time) (wire.Packet, error) {
	recvCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	for {
		b, err := c.conn.Recv(recvCtx)
		if err != nil {
			return wire.Packet{}, err
		}
		pkt, err := wire.Decode(b)
		if err != nil {
			class, _ := sanchezerr.ClassOf(err)
			if class == sanchezerr.ClassIntegrity {
				c.metrics.DropPacket(metrics.DropBadChecksum)
				continue
			}
			return wire.Packet{}, err
		}
		return pkt, nil
	}
}

func isDeadlineHit(err error) bool {
	return err == context.DeadlineExceeded
}

// handlePacket updates session state from one decoded packet. Only a
// fatal condition is returned as an error; recoverable per-packet
// problems are counted via metrics and otherwise ignored.
func (c *Client) handlePacket(pkt wire.Packet) error {
	if c.haveSeq {
		if int64(c.highestSeq)-int64(pkt.Seq) > reorderWindow {
			c.metrics.DropPacket(metrics.DropStale)
			return nil
		}
		if pkt.Seq > c.highestSeq {
			c.highestSeq = pkt.Seq
		}
	} else {
		c.highestSeq = pkt.Seq
		c.haveSeq = true
	}

	switch pkt.Type {
	case wire.TypeMetadata:
		if err := json.Unmarshal(pkt.Payload, &c.meta); err != nil {
			return sanchezerr.Wrap(sanchezerr.ClassFormat, "invalid METADATA payload", err)
		}
	case wire.TypeConfig:
		cfg, err := container.ParseConfigLine(string(pkt.Payload))
		if err != nil {
			return err
		}
		c.config = cfg
		c.haveHeader = true
	case wire.TypeFrameStart:
		fs, err := wire.DecodeFrameStart(pkt.Payload)
		if err != nil {
			return err
		}
		p := c.ensurePartial(fs.FrameIndex)
		p.haveStart = true
		p.totalBytes = fs.TotalBytes
		p.chunkCount = fs.ChunkCount
		c.noteFrameSeen(fs.FrameIndex)
	case wire.TypeFrameChunk:
		fc, err := wire.DecodeFrameChunk(pkt.Payload)
		if err != nil {
			return err
		}
		p := c.ensurePartial(fc.FrameIndex)
		p.chunks[fc.ChunkIndex] = fc.Bytes
		c.chunkCache[chunkKey{fc.FrameIndex, fc.ChunkIndex}] = fc.Bytes
		c.noteFrameSeen(fc.FrameIndex)
	case wire.TypeFrameEnd:
		fe, err := wire.DecodeFrameEnd(pkt.Payload)
		if err != nil {
			return err
		}
		p := c.ensurePartial(fe.FrameIndex)
		p.haveEnd = true
		p.crc = fe.CRC32
		c.noteFrameSeen(fe.FrameIndex)
	case wire.TypeSync:
		// Acceptance only; drift correction is left to the playback
		// scheduler, which reads a monotonic clock and never adjusts
		// from wall-clock beacons (spec's Open Question on SYNC).
	case wire.TypeFECData:
		if c.kind == transport.KindTCPUnicast {
			return nil // unreachable on TCP; ignore defensively rather than fault
		}
		fd, err := wire.DecodeFECData(pkt.Payload)
		if err != nil {
			return err
		}
		c.resolveFEC(fd)
	case wire.TypeAudioConfig:
		ac, err := wire.DecodeAudioConfig(pkt.Payload)
		if err != nil {
			return err
		}
		c.audioTotal = ac.TotalBytes
		if uint32(len(c.audio)) < c.audioTotal {
			grown := make([]byte, c.audioTotal)
			copy(grown, c.audio)
			c.audio = grown
		}
		c.haveAudio = true
	case wire.TypeAudioChunk:
		ach, err := wire.DecodeAudioChunk(pkt.Payload)
		if err != nil {
			return err
		}
		end := ach.Offset + uint32(len(ach.Bytes))
		if end > uint32(len(c.audio)) {
			grown := make([]byte, end)
			copy(grown, c.audio)
			c.audio = grown
		}
		copy(c.audio[ach.Offset:end], ach.Bytes)
	case wire.TypeEndStream:
		c.ended = true
	default:
		c.metrics.DropPacket(metrics.DropUnknownType)
	}
	return nil
}

func (c *Client) ensurePartial(frameIndex uint32) *partialFrame {
	p, ok := c.partials[frameIndex]
	if !ok {
		p = newPartialFrame()
		c.partials[frameIndex] = p
	}
	return p
}

func (c *Client) noteFrameSeen(frameIndex uint32) {
	if !c.haveFrame || frameIndex > c.highestFrame {
		c.highestFrame = frameIndex
		c.haveFrame = true
	}
}

// resolveFEC attempts to recover exactly one missing member of group
// from the chunk cache. Any other outcome (all present, or more than
// one missing) is a silent no-op: the group either needed no help or
// cannot be helped, and the affected frame(s) fall back to the
// max_frame_lag timeout.
func (c *Client) resolveFEC(group wire.FECData) {
	var present [][]byte
	missing := -1
	for i, m := range group.Members {
		if b, ok := c.chunkCache[chunkKey{m.FrameIndex, m.ChunkIndex}]; ok {
			present = append(present, b)
			continue
		}
		if missing >= 0 {
			return // two or more missing: unrecoverable
		}
		missing = i
	}
	if missing == -1 {
		return // nothing missing
	}

	recovered := append([]byte(nil), group.Parity...)
	for _, b := range present {
		for j := 0; j < len(recovered) && j < len(b); j++ {
			recovered[j] ^= b[j]
		}
	}

	m := group.Members[missing]
	p, ok := c.partials[m.FrameIndex]
	if !ok || !p.haveStart {
		return // can't trim confidently without the frame's own geometry
	}
	trueLen := int(group.MemberLength)
	if m.ChunkIndex == p.chunkCount-1 {
		trueLen = int(p.totalBytes) - int(m.ChunkIndex)*int(group.MemberLength)
		if trueLen < 0 || trueLen > len(recovered) {
			trueLen = len(recovered)
		}
	}
	chunkBytes := recovered[:trueLen]
	p.chunks[m.ChunkIndex] = chunkBytes
	p.recovered = true
	c.chunkCache[chunkKey{m.FrameIndex, m.ChunkIndex}] = chunkBytes
}

// popDeliverable returns the next item if nextDeliver is ready to
// resolve one way or another: complete and CRC-valid (ItemFrame),
// complete but CRC-invalid (ItemLost, immediately — there is no
// recovery path for a bad checksum), or timed out past max_frame_lag
// while a later frame is already sitting complete (ItemLost).
func (c *Client) popDeliverable() (Item, bool) {
	for {
		p, ok := c.partials[c.nextDeliver]
		if ok && p.chunksComplete() && p.haveEnd {
			deflated := p.assemble()
			if codec.CRC32(deflated) != p.crc {
				c.metrics.DropPacket(metrics.DropBadChecksum)
				return c.deliverLost()
			}
			pix, err := codec.InflateRaw(deflated, c.config.FrameBytes())
			if err != nil {
				return c.deliverLost()
			}
			if p.recovered {
				c.metrics.FrameRecovered()
			}
			c.metrics.FrameDelivered()
			item := Item{Kind: ItemFrame, FrameIndex: c.nextDeliver,
				Frame: container.Frame{Width: c.config.Width, Height: c.config.Height, Pix: pix}}
			c.advance()
			return item, true
		}

		laterReady := c.anyLaterComplete()
		if !laterReady && !c.ended {
			return Item{}, false
		}
		if !c.blocked {
			c.blocked = true
			c.blockedSince = time.Now()
			return Item{}, false
		}
		if time.Now().Before(c.blockedSince.Add(c.opts.MaxFrameLag)) {
			return Item{}, false
		}
		return c.deliverLost()
	}
}

func (c *Client) deliverLost() (Item, bool) {
	c.metrics.FrameLost()
	item := Item{Kind: ItemLost, FrameIndex: c.nextDeliver}
	c.advance()
	return item, true
}

func (c *Client) advance() {
	delete(c.partials, c.nextDeliver)
	if c.nextDeliver >= retainFrames {
		evict := c.nextDeliver - retainFrames
		for k := range c.chunkCache {
			if k.FrameIndex == evict {
				delete(c.chunkCache, k)
			}
		}
	}
	c.nextDeliver++
	c.blocked = false
}

func (c *Client) anyLaterComplete() bool {
	for idx, p := range c.partials {
		if idx > c.nextDeliver && p.chunksComplete() && p.haveEnd {
			return true
		}
	}
	return false
}
