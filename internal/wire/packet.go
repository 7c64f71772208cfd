// Package wire implements the .sanchez streaming protocol's fixed-header
// packet codec: magic, version, type, sequence, timestamp, payload, and
// a trailing CRC32 — modeled directly on the HDHomeRun wire packet this
// project's network layer grew out of, but big-endian throughout
// (including the checksum field, where HDHomeRun itself is little-endian)
// and with a wider, 64-bit timestamp field.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/cbx-nz/sanchez/internal/codec"
	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

// Magic is the fixed 4-byte protocol identifier. Version is bumped only
// on a wire-incompatible change to the header layout itself.
var Magic = [4]byte{'S', 'A', 'N', 'C'}

const Version = 1

// headerLen is magic(4) + version(1) + type(1) + seq(4) + ts_ns(8) +
// payload_len(4) = 22 bytes, per spec §4.2.
const headerLen = 22

// Type is a packet type code, per spec §6.
type Type uint8

const (
	TypeMetadata    Type = 0x01
	TypeConfig      Type = 0x02
	TypeFrameStart  Type = 0x10
	TypeFrameChunk  Type = 0x11
	TypeFrameEnd    Type = 0x12
	TypeSync        Type = 0x20
	TypeFECData     Type = 0x30
	TypeAudioConfig Type = 0x40
	TypeAudioChunk  Type = 0x41
	TypeEndStream   Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case TypeMetadata:
		return "METADATA"
	case TypeConfig:
		return "CONFIG"
	case TypeFrameStart:
		return "FRAME_START"
	case TypeFrameChunk:
		return "FRAME_CHUNK"
	case TypeFrameEnd:
		return "FRAME_END"
	case TypeSync:
		return "SYNC"
	case TypeFECData:
		return "FEC_DATA"
	case TypeAudioConfig:
		return "AUDIO_CONFIG"
	case TypeAudioChunk:
		return "AUDIO_CHUNK"
	case TypeEndStream:
		return "END_STREAM"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// Packet is one decoded wire packet.
type Packet struct {
	Type    Type
	Seq     uint32
	TsNs    uint64
	Payload []byte
}

// Encode assembles magic ‖ version ‖ type ‖ seq ‖ ts_ns ‖ payload_len ‖
// payload ‖ crc32, where the CRC32 covers everything preceding it.
func Encode(t Type, seq uint32, tsNs uint64, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload)+4)
	copy(buf[0:4], Magic[:])
	buf[4] = Version
	buf[5] = uint8(t)
	binary.BigEndian.PutUint32(buf[6:10], seq)
	binary.BigEndian.PutUint64(buf[10:18], tsNs)
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(payload)))
	copy(buf[headerLen:headerLen+len(payload)], payload)

	crc := codec.CRC32(buf[:headerLen+len(payload)])
	binary.BigEndian.PutUint32(buf[headerLen+len(payload):], crc)
	return buf
}

// Decode parses and validates one complete packet, including its CRC32.
// An UnknownType code is not an error — it decodes normally so callers
// can surface it as a typed Unknown and continue the session, per spec
// §4.2 ("UnknownType (non-fatal...)").
func Decode(b []byte) (Packet, error) {
	if len(b) < headerLen+4 {
		return Packet{}, sanchezerr.New(sanchezerr.ClassFormat,
			fmt.Sprintf("truncated packet: %d bytes, need at least %d", len(b), headerLen+4))
	}
	if b[0] != Magic[0] || b[1] != Magic[1] || b[2] != Magic[2] || b[3] != Magic[3] {
		return Packet{}, sanchezerr.New(sanchezerr.ClassProtocol, "bad magic")
	}
	if b[4] != Version {
		return Packet{}, sanchezerr.New(sanchezerr.ClassProtocol,
			fmt.Sprintf("unsupported version %d", b[4]))
	}

	payloadLen := binary.BigEndian.Uint32(b[18:22])
	want := headerLen + int(payloadLen) + 4
	if len(b) != want {
		return Packet{}, sanchezerr.New(sanchezerr.ClassFormat,
			fmt.Sprintf("length mismatch: have %d bytes, header declares %d", len(b), want))
	}

	gotCRC := binary.BigEndian.Uint32(b[headerLen+int(payloadLen):])
	wantCRC := codec.CRC32(b[:headerLen+int(payloadLen)])
	if gotCRC != wantCRC {
		return Packet{}, sanchezerr.New(sanchezerr.ClassIntegrity,
			fmt.Sprintf("checksum mismatch: got 0x%08x, want 0x%08x", gotCRC, wantCRC))
	}

	payload := make([]byte, payloadLen)
	copy(payload, b[headerLen:headerLen+int(payloadLen)])

	return Packet{
		Type:    Type(b[5]),
		Seq:     binary.BigEndian.Uint32(b[6:10]),
		TsNs:    binary.BigEndian.Uint64(b[10:18]),
		Payload: payload,
	}, nil
}
