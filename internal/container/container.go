// Package container implements the .sanchez file format: a metadata
// line, a fixed-width config line, and one frame line per frame, in
// either compressed (zlib+base64) or uncompressed (hex-ASCII) encoding.
package container

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cbx-nz/sanchez/internal/codec"
	"github.com/cbx-nz/sanchez/internal/sanchezerr"
)

// Metadata is the session-level descriptor serialized as line 1.
type Metadata struct {
	Title     string `json:"title"`
	Creator   string `json:"creator"`
	CreatedAt string `json:"created_at"`
	Seconds   string `json:"seconds"`
}

// Config is the fixed-geometry triple serialized as line 2.
type Config struct {
	Width      int
	Height     int
	FrameCount int
}

// FrameBytes returns the exact row-major pixel buffer length for one
// frame under this geometry.
func (c Config) FrameBytes() int {
	return c.Width * c.Height * 3
}

const (
	maxDim        = 9999
	maxFrameCount = 9_999_999
)

// Frame is one still image: row-major 8-bit RGB, shape (height, width, 3).
type Frame struct {
	Width  int
	Height int
	Pix    []byte // len == Width*Height*3
}

// At returns the RGB triple at (x, y).
func (f Frame) At(x, y int) (r, g, b byte) {
	off := (y*f.Width + x) * 3
	return f.Pix[off], f.Pix[off+1], f.Pix[off+2]
}

// validateGeometry checks a frame matches the file's declared config.
func validateGeometry(f Frame, c Config) error {
	if f.Width != c.Width || f.Height != c.Height {
		return sanchezerr.New(sanchezerr.ClassGeometry,
			fmt.Sprintf("frame is %dx%d, config declares %dx%d", f.Width, f.Height, c.Width, c.Height))
	}
	if len(f.Pix) != c.FrameBytes() {
		return sanchezerr.New(sanchezerr.ClassGeometry,
			fmt.Sprintf("frame payload is %d bytes, want %d", len(f.Pix), c.FrameBytes()))
	}
	return nil
}

func validateConfigBounds(c Config) error {
	if c.Width < 1 || c.Width > maxDim || c.Height < 1 || c.Height > maxDim {
		return sanchezerr.New(sanchezerr.ClassOverflow,
			fmt.Sprintf("geometry %dx%d out of [1,%d] bounds", c.Width, c.Height, maxDim))
	}
	if c.FrameCount < 0 || c.FrameCount > maxFrameCount {
		return sanchezerr.New(sanchezerr.ClassOverflow,
			fmt.Sprintf("frame_count %d out of [0,%d] bounds", c.FrameCount, maxFrameCount))
	}
	return nil
}

// encodeConfigLine renders the 15-character WWWWHHHHFFFFFFF line.
func encodeConfigLine(c Config) string {
	return fmt.Sprintf("%04d%04d%07d", c.Width, c.Height, c.FrameCount)
}

// ParseConfigLine parses the 15-byte WWWWHHHHFFFFFFF config line carried
// both in the container file and as the streaming protocol's CONFIG
// packet payload.
func ParseConfigLine(line string) (Config, error) {
	return decodeConfigLine(line)
}

func decodeConfigLine(line string) (Config, error) {
	if len(line) != 15 {
		return Config{}, sanchezerr.New(sanchezerr.ClassFormat,
			fmt.Sprintf("config line is %d bytes, want 15", len(line)))
	}
	for _, r := range line {
		if r < '0' || r > '9' {
			return Config{}, sanchezerr.New(sanchezerr.ClassFormat, "config line contains non-digit byte")
		}
	}
	w, err := strconv.Atoi(line[0:4])
	if err != nil {
		return Config{}, sanchezerr.Wrap(sanchezerr.ClassFormat, "parse width", err)
	}
	h, err := strconv.Atoi(line[4:8])
	if err != nil {
		return Config{}, sanchezerr.Wrap(sanchezerr.ClassFormat, "parse height", err)
	}
	n, err := strconv.Atoi(line[8:15])
	if err != nil {
		return Config{}, sanchezerr.Wrap(sanchezerr.ClassFormat, "parse frame_count", err)
	}
	cfg := Config{Width: w, Height: h, FrameCount: n}
	if err := validateConfigBounds(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Writer writes a .sanchez file: metadata line, config line, then one
// frame line per call to WriteFrame, in the encoding chosen at
// construction. There is no per-frame negotiation.
type Writer struct {
	w        io.Writer
	config   Config
	compress bool
	written  int
}

// NewWriter emits the metadata and config lines immediately and returns a
// Writer for config.FrameCount frames. WriteFrame does not check the
// number of frames written against that count.
func NewWriter(w io.Writer, metadata Metadata, config Config, compress bool) (*Writer, error) {
	if err := validateConfigBounds(config); err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "marshal metadata", err)
	}
	if _, err := w.Write(metaJSON); err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "write metadata line", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "write metadata newline", err)
	}
	if _, err := io.WriteString(w, encodeConfigLine(config)+"\n"); err != nil {
		return nil, sanchezerr.Wrap(sanchezerr.ClassIO, "write config line", err)
	}
	return &Writer{w: w, config: config, compress: compress}, nil
}

// WriteFrame encodes and appends one frame line.
func (wr *Writer) WriteFrame(f Frame) error {
	if err := validateGeometry(f, wr.config); err != nil {
		return err
	}
	var line string
	if wr.compress {
		enc, err := codec.DeflateBase64(f.Pix)
		if err != nil {
			return err
		}
		line = enc
	} else {
		enc, err := codec.HexFrame(f.Pix)
		if err != nil {
			return err
		}
		line = enc
	}
	if _, err := io.WriteString(wr.w, line+"\n"); err != nil {
		return sanchezerr.Wrap(sanchezerr.ClassIO, "write frame line", err)
	}
	wr.written++
	return nil
}

// WriteAll writes every frame from the slice, failing fast on the first
// geometry mismatch (no bytes beyond the header are written in that case
// only if called before any prior WriteFrame succeeded).
func WriteAll(w io.Writer, metadata Metadata, config Config, frames []Frame, compress bool) error {
	wr, err := NewWriter(w, metadata, config, compress)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := wr.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// Reader reads a .sanchez file: ReadHeader once, then ReadFrame
// repeatedly until io.EOF.
type Reader struct {
	br     *bufio.Reader
	Config Config
}

// ReadHeader consumes exactly two lines: the metadata JSON line and the
// 15-byte config line.
func ReadHeader(r io.Reader) (Metadata, Config, *Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	metaLine, err := readLine(br)
	if err != nil {
		return Metadata{}, Config{}, nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "read metadata line", err)
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(metaLine), &meta); err != nil {
		return Metadata{}, Config{}, nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "invalid metadata JSON", err)
	}

	cfgLine, err := readLine(br)
	if err != nil {
		return Metadata{}, Config{}, nil, sanchezerr.Wrap(sanchezerr.ClassFormat, "read config line", err)
	}
	cfg, err := decodeConfigLine(cfgLine)
	if err != nil {
		return Metadata{}, Config{}, nil, err
	}

	return meta, cfg, &Reader{br: br, Config: cfg}, nil
}

// readLine reads one newline-terminated line and strips the trailing \n
// (and a possible \r for files touched on another platform).
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadFrame decodes one frame line, dispatching on its first byte: '{'
// means uncompressed hex, anything else means compressed base64+zlib.
// Returns io.EOF when the stream is exhausted.
func (r *Reader) ReadFrame() (Frame, error) {
	line, err := readLine(r.br)
	if err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, sanchezerr.Wrap(sanchezerr.ClassIO, "read frame line", err)
	}
	if line == "" {
		return Frame{}, io.EOF
	}
	want := r.Config.FrameBytes()
	var pix []byte
	if line[0] == '{' {
		pix, err = codec.DecodeHexFrame(line, r.Config.Width*r.Config.Height)
	} else {
		pix, err = codec.InflateBase64(line, want)
	}
	if err != nil {
		return Frame{}, err
	}
	return Frame{Width: r.Config.Width, Height: r.Config.Height, Pix: pix}, nil
}

// Frames returns a lazy, finite, non-restartable iterator of the
// remaining frames in the file — each call to Next advances the
// underlying reader; the iterator cannot be rewound.
type Frames struct {
	r    *Reader
	done bool
}

// Iter wraps r in a Frames iterator.
func (r *Reader) Iter() *Frames {
	return &Frames{r: r}
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
// Once Next returns io.EOF it continues to do so (the iterator does not
// reopen or rewind the source).
func (it *Frames) Next() (Frame, error) {
	if it.done {
		return Frame{}, io.EOF
	}
	f, err := it.r.ReadFrame()
	if err != nil {
		it.done = true
		return Frame{}, err
	}
	return f, nil
}
