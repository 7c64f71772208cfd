// Package streamserver implements the write side of the .sanchez
// streaming protocol: it fragments a frame store's frames into
// MTU-sized chunks, interleaves audio and periodic SYNC beacons, and
// optionally emits XOR parity for satellite (lossy) links. It is
// transport-polymorphic over the four transport.Conn implementations.
package streamserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cbx-nz/sanchez/internal/codec"
	"github.com/cbx-nz/sanchez/internal/container"
	"github.com/cbx-nz/sanchez/internal/framestore"
	"github.com/cbx-nz/sanchez/internal/metrics"
	"github.com/cbx-nz/sanchez/internal/sanchezerr"
	"github.com/cbx-nz/sanchez/internal/sessionlog"
	"github.com/cbx-nz/sanchez/internal/transport"
	"github.com/cbx-nz/sanchez/internal/wire"
)

const (
	defaultChunkSizeUnicast        = 8 * 1024
	defaultChunkSizeSat            = 1400
	defaultFECGroup                = 8
	defaultSyncInterval            = 1 * time.Second
	defaultFPS                     = 24.0
	audioCodecTagMP3 uint32        = 0x4D503301 // "MP3\x01"
)

// Options configures one streaming session. Zero values are replaced
// with spec-mandated defaults by withDefaults.
type Options struct {
	Loop         bool
	Satellite    bool
	ChunkSize    int
	FPS          float64
	FECGroup     int
	SyncInterval time.Duration
}

func (o Options) withDefaults(meta container.Metadata, frameCount int) Options {
	if o.ChunkSize == 0 {
		if o.Satellite {
			o.ChunkSize = defaultChunkSizeSat
		} else {
			o.ChunkSize = defaultChunkSizeUnicast
		}
	}
	if o.FECGroup == 0 {
		o.FECGroup = defaultFECGroup
	}
	if o.SyncInterval == 0 {
		o.SyncInterval = defaultSyncInterval
	}
	if o.FPS == 0 {
		o.FPS = fpsFromMetadata(meta, frameCount)
	}
	return o
}

func fpsFromMetadata(meta container.Metadata, frameCount int) float64 {
	var secs float64
	if _, err := fmt.Sscanf(meta.Seconds, "%g", &secs); err != nil || secs <= 0 || frameCount <= 0 {
		return defaultFPS
	}
	return float64(frameCount) / secs
}

// Server streams one frame store's frames over one transport.Conn.
// Metrics and session logging are both optional; pass nil to disable.
type Server struct {
	Metrics *metrics.Registry
	Log     *sessionlog.Store
}

// New creates a Server. Either argument may be nil.
func New(m *metrics.Registry, l *sessionlog.Store) *Server {
	return &Server{Metrics: m, Log: l}
}

// emitter tracks the strictly-increasing sequence number and monotonic
// session clock shared by every packet of one session.
type emitter struct {
	conn   transport.Conn
	start  time.Time
	seq    uint32
	server *Server
	bytes  uint64
}

func (e *emitter) send(ctx context.Context, t wire.Type, payload []byte) error {
	ts := uint64(time.Since(e.start).Nanoseconds())
	packet := wire.Encode(t, e.seq, ts, payload)
	e.seq++
	e.bytes += uint64(len(packet))
	if e.server != nil && e.server.Metrics != nil {
		e.server.Metrics.AddBytesStreamed(len(packet))
	}
	return e.conn.Send(ctx, packet)
}

// Stream runs one session to completion: spec §4.3 steps 1–7. It blocks
// until ctx is canceled, the transport errors, or (when opts.Loop is
// false) the last frame's END_STREAM has been sent.
func (s *Server) Stream(ctx context.Context, kind transport.Kind, conn transport.Conn, meta container.Metadata, store *framestore.Store, audio []byte, opts Options) error {
	opts = opts.withDefaults(meta, store.Len())
	sessionID := uuid.NewString()
	log.Printf("streamserver: session %s starting on %s (%d frames, satellite=%v, loop=%v)",
		sessionID, kind, store.Len(), opts.Satellite, opts.Loop)

	rec := sessionStats{id: sessionID, transport: kind.String(), satellite: opts.Satellite, startedAt: time.Now()}
	em := &emitter{conn: conn, start: time.Now(), server: s}
	defer func() {
		rec.endedAt = time.Now()
		rec.bytesSent = em.bytes
		if s.Log != nil {
			if err := s.Log.RecordSession(ctx, rec.toSessionlog()); err != nil {
				log.Printf("streamserver: session %s: failed to record session log: %v", sessionID, err)
			}
		}
	}()

	cfg := container.Config{Width: store.Width(), Height: store.Height(), FrameCount: store.Len()}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return sanchezerr.Wrap(sanchezerr.ClassFormat, "marshal metadata", err)
	}
	if err := em.send(ctx, wire.TypeMetadata, metaJSON); err != nil {
		return err
	}
	if err := em.send(ctx, wire.TypeConfig, []byte(configLine(cfg))); err != nil {
		return err
	}

	var audioChunks [][]byte
	if len(audio) > 0 {
		if err := em.send(ctx, wire.TypeAudioConfig, wire.EncodeAudioConfig(wire.AudioConfig{
			CodecTag: audioCodecTagMP3, TotalBytes: uint32(len(audio)),
		})); err != nil {
			return err
		}
		audioChunks = splitChunks(audio, opts.ChunkSize)
	}

	var limiter *rate.Limiter
	if kind != transport.KindTCPUnicast {
		limiter = rate.NewLimiter(rate.Limit(opts.FPS), 1)
	}

	fec := newFECAccumulator(opts.FECGroup)
	lastSync := time.Now()
	audioCursor := 0

	emitSyncIfDue := func(frameIndex uint32) error {
		if time.Since(lastSync) < opts.SyncInterval {
			return nil
		}
		lastSync = time.Now()
		return em.send(ctx, wire.TypeSync, wire.EncodeSync(wire.Sync{
			ServerTs:   uint64(time.Now().UnixNano()),
			FrameIndex: frameIndex,
		}))
	}

	streamFrame := func(idx int) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		f := store.Get(idx)
		deflated, err := codec.DeflateRaw(f.Pix)
		if err != nil {
			return err
		}
		chunks := splitChunks(deflated, opts.ChunkSize)

		if err := em.send(ctx, wire.TypeFrameStart, wire.EncodeFrameStart(wire.FrameStart{
			FrameIndex: uint32(idx), TotalBytes: uint32(len(deflated)), ChunkCount: uint32(len(chunks)),
		})); err != nil {
			return err
		}
		for ci, chunk := range chunks {
			if err := em.send(ctx, wire.TypeFrameChunk, wire.EncodeFrameChunk(wire.FrameChunk{
				FrameIndex: uint32(idx), ChunkIndex: uint32(ci), Bytes: chunk,
			})); err != nil {
				return err
			}
			if opts.Satellite && kind != transport.KindTCPUnicast {
				if group, ready := fec.add(chunk, uint32(idx), uint32(ci)); ready {
					if err := em.send(ctx, wire.TypeFECData, wire.EncodeFECData(group)); err != nil {
						return err
					}
				}
			}
			if err := emitSyncIfDue(uint32(idx)); err != nil {
				return err
			}
		}
		if err := em.send(ctx, wire.TypeFrameEnd, wire.EncodeFrameEnd(wire.FrameEnd{
			FrameIndex: uint32(idx), CRC32: codec.CRC32(deflated),
		})); err != nil {
			return err
		}
		rec.framesSent++

		if audioCursor < len(audioChunks) {
			chunk := audioChunks[audioCursor]
			off := audioCursor * opts.ChunkSize
			if err := em.send(ctx, wire.TypeAudioChunk, wire.EncodeAudioChunk(wire.AudioChunk{
				Offset: uint32(off), Bytes: chunk,
			})); err != nil {
				return err
			}
			audioCursor++
		}
		return nil
	}

	for {
		for idx := 0; idx < store.Len(); idx++ {
			if err := ctx.Err(); err != nil {
				log.Printf("streamserver: session %s canceled after %d frames", sessionID, rec.framesSent)
				return err
			}
			if err := streamFrame(idx); err != nil {
				log.Printf("streamserver: session %s ending early after %d frames: %v", sessionID, rec.framesSent, err)
				return err
			}
		}
		if !opts.Loop {
			break
		}
	}

	log.Printf("streamserver: session %s finished: %d frames, %s streamed",
		sessionID, rec.framesSent, humanize.Bytes(em.bytes))
	return em.send(ctx, wire.TypeEndStream, nil)
}

// configLine renders the 15-byte WWWWHHHHFFFFFFF line carried as the
// CONFIG packet's payload — the same format the container file uses.
func configLine(c container.Config) string {
	return fmt.Sprintf("%04d%04d%07d", c.Width, c.Height, c.FrameCount)
}

func splitChunks(b []byte, size int) [][]byte {
	if len(b) == 0 {
		return nil
	}
	var out [][]byte
	for off := 0; off < len(b); off += size {
		end := off + size
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[off:end])
	}
	return out
}

// fecAccumulator buffers consecutive FRAME_CHUNK payloads into groups of
// groupSize and produces one XOR parity packet per full group — the
// "rolling FEC group parity buffer" of spec §3. Grouping runs over the
// whole chunk stream, not reset per frame, so a group may straddle a
// FRAME_END.
type fecAccumulator struct {
	groupSize int
	groupID   uint32
	members   [][]byte
	ids       []wire.FECMember
}

func newFECAccumulator(groupSize int) *fecAccumulator {
	return &fecAccumulator{groupSize: groupSize}
}

func (a *fecAccumulator) add(chunk []byte, frameIndex, chunkIndex uint32) (wire.FECData, bool) {
	a.members = append(a.members, chunk)
	a.ids = append(a.ids, wire.FECMember{FrameIndex: frameIndex, ChunkIndex: chunkIndex})
	if len(a.members) < a.groupSize {
		return wire.FECData{}, false
	}
	maxLen := 0
	for _, m := range a.members {
		if len(m) > maxLen {
			maxLen = len(m)
		}
	}
	parity := wire.XORParity(a.members, maxLen)
	out := wire.FECData{
		GroupID:      a.groupID,
		MemberLength: uint32(maxLen),
		Members:      a.ids,
		Parity:       parity,
	}
	a.groupID++
	a.members = nil
	a.ids = nil
	return out, true
}

// sessionStats accumulates what gets handed to sessionlog at the end of
// a session.
type sessionStats struct {
	id              string
	transport       string
	satellite       bool
	startedAt       time.Time
	endedAt         time.Time
	framesSent      int
	framesLost      int
	framesRecovered int
	bytesSent       uint64
}

func (r sessionStats) toSessionlog() sessionlog.Session {
	return sessionlog.Session{
		ID:              r.id,
		Transport:       r.transport,
		Satellite:       r.satellite,
		StartedAt:       r.startedAt,
		EndedAt:         r.endedAt,
		FramesSent:      r.framesSent,
		FramesLost:      r.framesLost,
		FramesRecovered: r.framesRecovered,
		BytesSent:       r.bytesSent,
	}
}
