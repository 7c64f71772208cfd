package playback

import (
	"testing"
	"time"

	"github.com/cbx-nz/sanchez/internal/container"
)

// fakeClock lets a test advance the Scheduler's notion of "now"
// explicitly, the same way streamclient's tests reach into unexported
// fields directly rather than relying on real sleeps.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) time.Time {
	f.t = f.t.Add(d)
	return f.t
}

func newTestScheduler(meta container.Metadata, frameCount int, opts Options) (*Scheduler, *fakeClock) {
	fc := &fakeClock{t: time.Now()}
	s := New(meta, frameCount, opts)
	s.clock = fc.now
	s.startedAt = fc.t
	return s, fc
}

func TestFPSDerivedFromMetadataWhenKnown(t *testing.T) {
	meta := container.Metadata{Seconds: "2"}
	s := New(meta, 48, Options{})
	if s.FPS() != 24 {
		t.Errorf("FPS() = %v, want 24", s.FPS())
	}
}

func TestFPSDefaultsWhenSecondsUnknown(t *testing.T) {
	s := New(container.Metadata{}, 100, Options{})
	if s.FPS() != defaultFPS {
		t.Errorf("FPS() = %v, want default %v", s.FPS(), defaultFPS)
	}
}

func TestFPSOverrideWins(t *testing.T) {
	meta := container.Metadata{Seconds: "2"}
	s := New(meta, 48, Options{FPS: 60})
	if s.FPS() != 60 {
		t.Errorf("FPS() = %v, want 60", s.FPS())
	}
}

func TestTickAdvancesWhilePlaying(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 10, Options{FPS: 100})
	idx, render := s.Tick(fc.now())
	if idx != 0 || !render {
		t.Fatalf("first tick = (%d, %v), want (0, true)", idx, render)
	}
	idx, render = s.Tick(fc.advance(35 * time.Millisecond))
	if idx != 3 || !render {
		t.Fatalf("tick at 35ms = (%d, %v), want (3, true)", idx, render)
	}
	idx, render = s.Tick(fc.now())
	if render {
		t.Errorf("repeated tick at same instant should not re-render, got index %d", idx)
	}
}

func TestEndsOnLastFrameWithoutLoop(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 5, Options{FPS: 100, Loop: false})
	idx, _ := s.Tick(fc.advance(1 * time.Second))
	if idx != 4 {
		t.Errorf("index = %d, want clamped to last frame 4", idx)
	}
	if s.State() != Ended {
		t.Errorf("state = %s, want Ended", s.State())
	}
}

func TestLoopsInsteadOfEnding(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 5, Options{FPS: 100, Loop: true})
	idx, _ := s.Tick(fc.advance(70 * time.Millisecond)) // 7 frames in, 5-frame loop -> index 2
	if idx != 2 {
		t.Errorf("index = %d, want 2 (wrapped)", idx)
	}
	if s.State() == Ended {
		t.Error("looping scheduler should never reach Ended")
	}
}

func TestPauseHoldsPosition(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 100, Options{FPS: 100})
	s.Tick(fc.advance(20 * time.Millisecond)) // index 2
	s.Pause()
	if s.State() != Paused {
		t.Fatalf("state = %s, want Paused", s.State())
	}
	idx, _ := s.Tick(fc.advance(500 * time.Millisecond))
	if idx != 2 {
		t.Errorf("index while paused = %d, want held at 2", idx)
	}
}

func TestResumeContinuesFromHeldPosition(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 100, Options{FPS: 100})
	s.Tick(fc.advance(20 * time.Millisecond)) // index 2
	s.Pause()
	s.Resume()
	if s.State() != Playing {
		t.Fatalf("state = %s, want Playing", s.State())
	}
	idx, _ := s.Tick(fc.advance(10 * time.Millisecond))
	if idx != 3 {
		t.Errorf("index after resume = %d, want 3", idx)
	}
}

func TestStepOnlyValidWhilePaused(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 10, Options{FPS: 100})
	s.Step(3) // ignored: still Playing
	idx, _ := s.Tick(fc.now())
	if idx != 0 {
		t.Fatalf("step while Playing should be a no-op, index = %d", idx)
	}

	s.Pause()
	s.Step(3)
	idx, _ = s.Tick(fc.now())
	if idx != 3 {
		t.Errorf("index after Step(3) while Paused = %d, want 3", idx)
	}
	s.Step(-1)
	idx, _ = s.Tick(fc.now())
	if idx != 2 {
		t.Errorf("index after Step(-1) = %d, want 2", idx)
	}
}

func TestStepClampsAtBounds(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 5, Options{FPS: 100})
	s.Pause()
	s.Step(-10)
	idx, _ := s.Tick(fc.now())
	if idx != 0 {
		t.Errorf("index = %d, want clamped to 0", idx)
	}
	s.Step(100)
	idx, _ = s.Tick(fc.now())
	if idx != 4 {
		t.Errorf("index = %d, want clamped to last frame 4", idx)
	}
}

func TestSeekReturnsToPriorState(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 1000, Options{FPS: 100})
	s.Pause()
	s.Seek(2) // +2s at 100fps = +200 frames
	if s.State() != Paused {
		t.Fatalf("state after seek while paused = %s, want Paused", s.State())
	}
	idx, _ := s.Tick(fc.now())
	if idx != 200 {
		t.Errorf("index after seek = %d, want 200", idx)
	}

	s2, fc2 := newTestScheduler(container.Metadata{}, 1000, Options{FPS: 100})
	s2.Seek(1)
	if s2.State() != Playing {
		t.Fatalf("state after seek while playing = %s, want Playing", s2.State())
	}
	idx2, _ := s2.Tick(fc2.now())
	if idx2 != 100 {
		t.Errorf("index after seek while playing = %d, want 100", idx2)
	}
}

func TestSeekClampsToValidRange(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 10, Options{FPS: 100})
	s.Pause()
	s.Seek(-100)
	idx, _ := s.Tick(fc.now())
	if idx != 0 {
		t.Errorf("index after large negative seek = %d, want clamped to 0", idx)
	}
	s.Seek(100)
	idx, _ = s.Tick(fc.now())
	if idx != 9 {
		t.Errorf("index after large positive seek = %d, want clamped to 9", idx)
	}
}

func TestSeekNoOpAfterEnded(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 5, Options{FPS: 100})
	s.Tick(fc.advance(1 * time.Second)) // drive to Ended
	if s.State() != Ended {
		t.Fatalf("state = %s, want Ended", s.State())
	}
	s.Seek(-2)
	if s.State() != Ended {
		t.Errorf("Seek should not move an Ended scheduler out of Ended, got %s", s.State())
	}
}

func TestRestartResetsToFrameZeroPlaying(t *testing.T) {
	s, fc := newTestScheduler(container.Metadata{}, 5, Options{FPS: 100})
	s.Tick(fc.advance(1 * time.Second)) // drive to Ended
	s.Restart()
	if s.State() != Playing {
		t.Fatalf("state after Restart = %s, want Playing", s.State())
	}
	idx, render := s.Tick(fc.now())
	if idx != 0 || !render {
		t.Fatalf("tick right after Restart = (%d, %v), want (0, true)", idx, render)
	}
}
