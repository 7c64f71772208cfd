// Package codec implements the low-level byte transforms the .sanchez
// container and wire protocol are built from: RGB-to-hex-ASCII encoding,
// zlib deflate/inflate, base64, and CRC32 (IEEE).
package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

// crcTable is the IEEE 802.3 polynomial table shared by every checksum in
// this module, wire packets and FRAME_END frame checksums alike.
var crcTable = crc32.MakeTable(crc32.IEEE)

// CRC32 returns the IEEE CRC32 of b.
func CRC32(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}

// DeflateBase64 compresses row-major RGB bytes with zlib and returns the
// base64 encoding of the compressed stream, with no surrounding
// punctuation — this is exactly the compressed per-frame line format.
func DeflateBase64(pixels []byte) (string, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(pixels); err != nil {
		w.Close()
		return "", sanchezerr.Wrap(sanchezerr.ClassFormat, "zlib deflate", err)
	}
	if err := w.Close(); err != nil {
		return "", sanchezerr.Wrap(sanchezerr.ClassFormat, "zlib deflate close", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// InflateBase64 decodes a base64 string (ignoring trailing whitespace)
// and inflates the zlib stream within it, asserting the decompressed
// length equals want.
func InflateBase64(s string, want int) ([]byte, error) {
	trimmed := strings.TrimRight(s, " \t\r\n")
	compressed, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "base64 decode", err)
	}
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "zlib inflate", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "zlib inflate", err)
	}
	if len(out) != want {
		return nil, sanchezerr.New(sanchezerr.ClassFormat,
			fmt.Sprintf("short frame: decoded %d bytes, want %d", len(out), want))
	}
	return out, nil
}

// DeflateRaw compresses pixels with zlib and returns the raw compressed
// bytes (no base64) — this is the payload carried by FRAME_CHUNK packets
// on the wire, per spec: "raw bytes of the compressed frame line payload".
func DeflateRaw(pixels []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(pixels); err != nil {
		w.Close()
		return nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "zlib deflate", err)
	}
	if err := w.Close(); err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "zlib deflate close", err)
	}
	return buf.Bytes(), nil
}

// InflateRaw inflates raw (non-base64) zlib bytes, asserting the
// decompressed length equals want.
func InflateRaw(compressed []byte, want int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "zlib inflate", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "zlib inflate", err)
	}
	if len(out) != want {
		return nil, sanchezerr.New(sanchezerr.ClassFormat,
			fmt.Sprintf("short frame: decoded %d bytes, want %d", len(out), want))
	}
	return out, nil
}

// HexFrame encodes row-major RGB bytes (length must be a multiple of 3)
// as "{RRGGBB,RRGGBB,...}" in uppercase, per the uncompressed line format.
func HexFrame(pixels []byte) (string, error) {
	if len(pixels)%3 != 0 {
		return "", sanchezerr.New(sanchezerr.ClassFormat, "pixel buffer length not a multiple of 3")
	}
	var b strings.Builder
	b.WriteByte('{')
	n := len(pixels) / 3
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		off := i * 3
		fmt.Fprintf(&b, "%02X%02X%02X", pixels[off], pixels[off+1], pixels[off+2])
	}
	b.WriteByte('}')
	return b.String(), nil
}

// DecodeHexFrame parses "{rrggbb,rrggbb,...}" (either case) into
// row-major RGB bytes, requiring exactly wantTriples tokens.
func DecodeHexFrame(line string, wantTriples int) ([]byte, error) {
	if len(line) < 2 || line[0] != '{' || line[len(line)-1] != '}' {
		return nil, sanchezerr.New(sanchezerr.ClassFormat, "hex frame missing surrounding braces")
	}
	inner := line[1 : len(line)-1]
	var tokens []string
	if inner != "" {
		tokens = strings.Split(inner, ",")
	}
	if len(tokens) != wantTriples {
		return nil, sanchezerr.New(sanchezerr.ClassFormat,
			fmt.Sprintf("short frame: %d hex triples, want %d", len(tokens), wantTriples))
	}
	out := make([]byte, 0, wantTriples*3)
	for _, tok := range tokens {
		if len(tok) != 6 {
			return nil, sanchezerr.New(sanchezerr.ClassFormat, fmt.Sprintf("malformed hex triple %q", tok))
		}
		triple, err := hex.DecodeString(tok)
		if err != nil {
			return nil, sanchezerr.Wrap(sanchezerr.ClassFormat, fmt.Sprintf("malformed hex triple %q", tok), err)
		}
		out = append(out, triple...)
	}
	return out, nil
}
