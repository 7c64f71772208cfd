package sessionlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	sess := Session{
		ID:         "session-1",
		Transport:  "tcp",
		Satellite:  false,
		StartedAt:  time.Now().Add(-time.Minute),
		EndedAt:    time.Now(),
		FramesSent: 10,
		BytesSent:  4096,
	}
	if err := store.RecordSession(ctx, sess); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}

	recent, err := store.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 session, got %d", len(recent))
	}
	if recent[0].ID != "session-1" || recent[0].FramesSent != 10 {
		t.Errorf("unexpected session: %+v", recent[0])
	}
}

func TestRecordSessionUpsertsOnID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	sess := Session{ID: "s", Transport: "udp-multicast", StartedAt: time.Now(), FramesSent: 1}
	if err := store.RecordSession(ctx, sess); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	sess.FramesSent = 42
	sess.EndedAt = time.Now()
	if err := store.RecordSession(ctx, sess); err != nil {
		t.Fatalf("RecordSession (update): %v", err)
	}

	recent, err := store.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected the upsert to keep exactly 1 row, got %d", len(recent))
	}
	if recent[0].FramesSent != 42 {
		t.Errorf("FramesSent = %d, want 42", recent[0].FramesSent)
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	var s *Store
	if err := s.RecordSession(context.Background(), Session{}); err != nil {
		t.Errorf("nil store RecordSession should be a no-op, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("nil store Close should be a no-op, got %v", err)
	}
}
