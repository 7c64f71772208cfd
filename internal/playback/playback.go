// Package playback implements the scheduler that paces a decoded frame
// sequence at a target rate, with pause/seek/step control. It is a pure
// consumer: it never reads a transport or a container file itself, only
// the frame index a caller should be showing right now.
package playback

import (
	"fmt"
	"time"

	"github.com/cbx-nz/sanchez/internal/container"
)

// State is one of the scheduler's four lifecycle states.
type State int

const (
	Playing State = iota
	Paused
	Seeking
	Ended
)

func (s State) String() string {
	switch s {
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Seeking:
		return "Seeking"
	case Ended:
		return "Ended"
	default:
		return "Unknown"
	}
}

const defaultFPS = 24.0

// fpsFromMetadata derives a frame rate from the container's own
// metadata, falling back to defaultFPS when seconds or frame_count is
// unknown — the same derivation the stream server and client each make
// independently on their side of the wire.
func fpsFromMetadata(meta container.Metadata, frameCount int) float64 {
	var secs float64
	if _, err := fmt.Sscanf(meta.Seconds, "%g", &secs); err != nil || secs <= 0 || frameCount <= 0 {
		return defaultFPS
	}
	return float64(frameCount) / secs
}

// Options configures a new Scheduler.
type Options struct {
	FPS         float64 // overrides derivation from metadata when nonzero
	Loop        bool
	StartPaused bool
}

// Scheduler tracks playback position against a monotonic clock. All
// scheduling decisions read from time.Time values produced by time.Now
// (which carries a monotonic reading in the Go runtime) — never from
// wall-clock arithmetic across serialized timestamps.
type Scheduler struct {
	fps        float64
	frameCount int
	loop       bool

	state State

	startedAt   time.Time // monotonic anchor for the current Playing run
	baseIndex   int       // frame index startedAt corresponds to
	pausedIndex int       // held index while Paused or Seeking

	haveRendered bool
	lastRendered int

	// clock is overridden in tests to drive Pause/Resume/Seek/Restart
	// deterministically; production callers always get time.Now.
	clock func() time.Time
}

// New creates a Scheduler over frameCount frames described by meta.
func New(meta container.Metadata, frameCount int, opts Options) *Scheduler {
	fps := opts.FPS
	if fps <= 0 {
		fps = fpsFromMetadata(meta, frameCount)
	}
	s := &Scheduler{
		fps:        fps,
		frameCount: frameCount,
		loop:       opts.Loop,
		state:      Playing,
		startedAt:  time.Now(),
		clock:      time.Now,
	}
	if opts.StartPaused {
		s.state = Paused
	}
	return s
}

// FPS reports the scheduler's derived or configured frame rate.
func (s *Scheduler) FPS() float64 { return s.fps }

// FramePeriod is 1/fps, the target spacing between rendered frames.
func (s *Scheduler) FramePeriod() time.Duration {
	return time.Duration(float64(time.Second) / s.fps)
}

// State reports the scheduler's current lifecycle state.
func (s *Scheduler) State() State { return s.state }

// Tick evaluates playback position at now and reports the frame index
// that should currently be showing, and whether it has changed since
// the last Tick (maybe_render). now must come from time.Now() (or a
// value derived from it) to preserve the monotonic reading.
func (s *Scheduler) Tick(now time.Time) (index int, shouldRender bool) {
	idx := s.currentIndexAt(now)
	if s.state == Playing && idx >= s.frameCount-1 && !s.loop {
		idx = s.frameCount - 1
		s.state = Ended
	}
	shouldRender = !s.haveRendered || idx != s.lastRendered
	if shouldRender {
		s.lastRendered = idx
		s.haveRendered = true
	}
	return idx, shouldRender
}

// currentIndexAt computes the playback index at now without mutating
// lastRendered/haveRendered, for internal use by pause/seek as well as
// Tick.
func (s *Scheduler) currentIndexAt(now time.Time) int {
	if s.frameCount <= 0 {
		return 0
	}
	if s.state != Playing {
		return s.clampIndex(s.pausedIndex)
	}
	elapsed := now.Sub(s.startedAt).Seconds()
	raw := s.baseIndex + int(elapsed*s.fps)
	return s.clampIndex(raw)
}

func (s *Scheduler) clampIndex(i int) int {
	if s.frameCount <= 0 {
		return 0
	}
	if s.loop {
		i %= s.frameCount
		if i < 0 {
			i += s.frameCount
		}
		return i
	}
	if i < 0 {
		return 0
	}
	if i >= s.frameCount {
		return s.frameCount - 1
	}
	return i
}

// Pause transitions Playing -> Paused, freezing the current index.
func (s *Scheduler) Pause() {
	if s.state != Playing {
		return
	}
	s.pausedIndex = s.currentIndexAt(s.clock())
	s.state = Paused
}

// Resume transitions Paused -> Playing from the frozen index.
func (s *Scheduler) Resume() {
	if s.state != Paused {
		return
	}
	s.baseIndex = s.pausedIndex
	s.startedAt = s.clock()
	s.state = Playing
}

// Seek shifts playback position by deltaSeconds (negative rewinds),
// transitioning through Seeking and back to whichever of
// Playing/Paused was active beforehand, per spec §4.5.
func (s *Scheduler) Seek(deltaSeconds float64) {
	if s.state == Ended {
		return
	}
	prior := s.state
	s.state = Seeking
	idx := s.currentIndexAt(s.clock()) + int(deltaSeconds*s.fps)
	idx = s.clampIndex(idx)

	s.baseIndex = idx
	s.pausedIndex = idx
	s.startedAt = s.clock()
	s.state = prior
}

// Step moves the held index by delta frames. Valid only while Paused.
func (s *Scheduler) Step(delta int) {
	if s.state != Paused {
		return
	}
	s.pausedIndex = s.clampIndex(s.pausedIndex + delta)
	s.baseIndex = s.pausedIndex
}

// Restart resets playback to frame 0 in the Playing state.
func (s *Scheduler) Restart() {
	s.baseIndex = 0
	s.pausedIndex = 0
	s.startedAt = s.clock()
	s.state = Playing
	s.haveRendered = false
	s.lastRendered = 0
}
