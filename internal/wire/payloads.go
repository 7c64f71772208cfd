package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

// FrameStart is the FRAME_START payload: frame_index ‖ total_bytes ‖
// chunk_count, each a big-endian u32.
type FrameStart struct {
	FrameIndex uint32
	TotalBytes uint32
	ChunkCount uint32
}

func EncodeFrameStart(fs FrameStart) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], fs.FrameIndex)
	binary.BigEndian.PutUint32(b[4:8], fs.TotalBytes)
	binary.BigEndian.PutUint32(b[8:12], fs.ChunkCount)
	return b
}

func DecodeFrameStart(b []byte) (FrameStart, error) {
	if len(b) != 12 {
		return FrameStart{}, shortPayload("FRAME_START", 12, len(b))
	}
	return FrameStart{
		FrameIndex: binary.BigEndian.Uint32(b[0:4]),
		TotalBytes: binary.BigEndian.Uint32(b[4:8]),
		ChunkCount: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// FrameChunk is the FRAME_CHUNK payload: frame_index ‖ chunk_index ‖ raw
// deflated bytes of the chunk.
type FrameChunk struct {
	FrameIndex uint32
	ChunkIndex uint32
	Bytes      []byte
}

func EncodeFrameChunk(fc FrameChunk) []byte {
	b := make([]byte, 8+len(fc.Bytes))
	binary.BigEndian.PutUint32(b[0:4], fc.FrameIndex)
	binary.BigEndian.PutUint32(b[4:8], fc.ChunkIndex)
	copy(b[8:], fc.Bytes)
	return b
}

func DecodeFrameChunk(b []byte) (FrameChunk, error) {
	if len(b) < 8 {
		return FrameChunk{}, shortPayload("FRAME_CHUNK", 8, len(b))
	}
	return FrameChunk{
		FrameIndex: binary.BigEndian.Uint32(b[0:4]),
		ChunkIndex: binary.BigEndian.Uint32(b[4:8]),
		Bytes:      append([]byte(nil), b[8:]...),
	}, nil
}

// FrameEnd is the FRAME_END payload: frame_index ‖ frame_crc32.
type FrameEnd struct {
	FrameIndex uint32
	CRC32      uint32
}

func EncodeFrameEnd(fe FrameEnd) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], fe.FrameIndex)
	binary.BigEndian.PutUint32(b[4:8], fe.CRC32)
	return b
}

func DecodeFrameEnd(b []byte) (FrameEnd, error) {
	if len(b) != 8 {
		return FrameEnd{}, shortPayload("FRAME_END", 8, len(b))
	}
	return FrameEnd{
		FrameIndex: binary.BigEndian.Uint32(b[0:4]),
		CRC32:      binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// Sync is the SYNC payload: server_ts ‖ frame_index.
type Sync struct {
	ServerTs   uint64
	FrameIndex uint32
}

func EncodeSync(s Sync) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint64(b[0:8], s.ServerTs)
	binary.BigEndian.PutUint32(b[8:12], s.FrameIndex)
	return b
}

func DecodeSync(b []byte) (Sync, error) {
	if len(b) != 12 {
		return Sync{}, shortPayload("SYNC", 12, len(b))
	}
	return Sync{
		ServerTs:   binary.BigEndian.Uint64(b[0:8]),
		FrameIndex: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// FECMember identifies one chunk folded into a FEC group's parity, so a
// receiver missing exactly one member can tell which (frame, chunk) slot
// the recovered bytes belong in without having observed every packet in
// the group in order.
type FECMember struct {
	FrameIndex uint32
	ChunkIndex uint32
}

// FECData is the FEC_DATA payload: group_id ‖ member_count ‖
// member_length ‖ members[member_count] (frame_index ‖ chunk_index each)
// ‖ xor_parity, where shorter members were zero-padded to member_length
// before XORing so recovery can trim the same way. The member list is
// this project's own addition over the spec's field list — the spec
// leaves FEC group placement unpinned, and a receiver needs some way to
// map recovered bytes back to a frame/chunk slot.
type FECData struct {
	GroupID      uint32
	MemberLength uint32
	Members      []FECMember
	Parity       []byte
}

func EncodeFECData(f FECData) []byte {
	b := make([]byte, 12+8*len(f.Members)+len(f.Parity))
	binary.BigEndian.PutUint32(b[0:4], f.GroupID)
	binary.BigEndian.PutUint32(b[4:8], uint32(len(f.Members)))
	binary.BigEndian.PutUint32(b[8:12], f.MemberLength)
	off := 12
	for _, m := range f.Members {
		binary.BigEndian.PutUint32(b[off:off+4], m.FrameIndex)
		binary.BigEndian.PutUint32(b[off+4:off+8], m.ChunkIndex)
		off += 8
	}
	copy(b[off:], f.Parity)
	return b
}

func DecodeFECData(b []byte) (FECData, error) {
	if len(b) < 12 {
		return FECData{}, shortPayload("FEC_DATA", 12, len(b))
	}
	memberCount := binary.BigEndian.Uint32(b[4:8])
	memberLength := binary.BigEndian.Uint32(b[8:12])
	off := 12
	need := off + 8*int(memberCount)
	if len(b) < need {
		return FECData{}, shortPayload("FEC_DATA", need, len(b))
	}
	members := make([]FECMember, memberCount)
	for i := range members {
		members[i] = FECMember{
			FrameIndex: binary.BigEndian.Uint32(b[off : off+4]),
			ChunkIndex: binary.BigEndian.Uint32(b[off+4 : off+8]),
		}
		off += 8
	}
	return FECData{
		GroupID:      binary.BigEndian.Uint32(b[0:4]),
		MemberLength: memberLength,
		Members:      members,
		Parity:       append([]byte(nil), b[off:]...),
	}, nil
}

// AudioConfig is the AUDIO_CONFIG payload: codec_tag ‖ total_bytes.
type AudioConfig struct {
	CodecTag   uint32
	TotalBytes uint32
}

func EncodeAudioConfig(a AudioConfig) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], a.CodecTag)
	binary.BigEndian.PutUint32(b[4:8], a.TotalBytes)
	return b
}

func DecodeAudioConfig(b []byte) (AudioConfig, error) {
	if len(b) != 8 {
		return AudioConfig{}, shortPayload("AUDIO_CONFIG", 8, len(b))
	}
	return AudioConfig{
		CodecTag:   binary.BigEndian.Uint32(b[0:4]),
		TotalBytes: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// AudioChunk is the AUDIO_CHUNK payload: offset ‖ bytes.
type AudioChunk struct {
	Offset uint32
	Bytes  []byte
}

func EncodeAudioChunk(a AudioChunk) []byte {
	b := make([]byte, 4+len(a.Bytes))
	binary.BigEndian.PutUint32(b[0:4], a.Offset)
	copy(b[4:], a.Bytes)
	return b
}

func DecodeAudioChunk(b []byte) (AudioChunk, error) {
	if len(b) < 4 {
		return AudioChunk{}, shortPayload("AUDIO_CHUNK", 4, len(b))
	}
	return AudioChunk{
		Offset: binary.BigEndian.Uint32(b[0:4]),
		Bytes:  append([]byte(nil), b[4:]...),
	}, nil
}

func shortPayload(name string, want, got int) error {
	return sanchezerr.New(sanchezerr.ClassFormat,
		fmt.Sprintf("%s payload is %d bytes, want at least %d", name, got, want))
}

// XORParity computes the XOR of members, zero-padding each one up to
// memberLength first. Used both to produce a group's FEC_DATA parity on
// the write side and to recover a single missing chunk on the read side.
func XORParity(members [][]byte, memberLength int) []byte {
	out := make([]byte, memberLength)
	for _, m := range members {
		for i := 0; i < memberLength; i++ {
			if i < len(m) {
				out[i] ^= m[i]
			}
		}
	}
	return out
}
