package results

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/voxlane/voxlane/internal/model"
	"github.com/voxlane/voxlane/internal/queue"
)

var testEngines = []string{"coqui"}

func newTestStore(t *testing.T) (*Store, *queue.Queue) {
	t.Helper()
	layout := queue.Layout{Root: t.TempDir()}
	if err := layout.Init(testEngines); err != nil {
		t.Fatalf("Init: %v", err)
	}
	q := queue.New(layout, testEngines)
	return New(q), q
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func makeEnvelope() *model.Envelope {
	return &model.Envelope{
		ID:        model.NewID(),
		Engine:    "coqui",
		Text:      "hello",
		CreatedAt: time.Now().UTC(),
	}
}

func TestWriteResultRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	env := makeEnvelope()
	audio := []byte("RIFF-not-really-wav-but-bytes")

	rec, err := s.WriteResult(env, audio, "audio/wav", 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	if rec.Bytes != int64(len(audio)) {
		t.Errorf("Bytes = %d, want %d", rec.Bytes, len(audio))
	}
	if rec.DurationMS != 1500 {
		t.Errorf("DurationMS = %d, want 1500", rec.DurationMS)
	}

	got, err := s.Fetch(env.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != StatusReady {
		t.Fatalf("Status = %q, want ready", got.Status)
	}
	if !bytes.Equal(got.Audio, audio) {
		t.Error("fetched audio differs from written audio")
	}
	if got.Result.Engine != "coqui" {
		t.Errorf("Result.Engine = %q, want coqui", got.Result.Engine)
	}
	if got.Result.ContentType != "audio/wav" {
		t.Errorf("ContentType = %q, want audio/wav", got.Result.ContentType)
	}
}

func TestWriteFailure(t *testing.T) {
	s, _ := newTestStore(t)
	env := makeEnvelope()

	if _, err := s.WriteFailure(env, model.FailureEngine, "model exploded"); err != nil {
		t.Fatalf("WriteFailure: %v", err)
	}

	got, err := s.Fetch(env.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.Failure.Kind != model.FailureEngine {
		t.Errorf("Kind = %q, want %q", got.Failure.Kind, model.FailureEngine)
	}
	if got.Failure.Message != "model exploded" {
		t.Errorf("Message = %q, want %q", got.Failure.Message, "model exploded")
	}
}

func TestFetchPendingStates(t *testing.T) {
	s, q := newTestStore(t)
	env := makeEnvelope()
	if err := q.Enqueue(env, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := s.Fetch(env.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != StatusPending || got.PendingState != model.StateQueued {
		t.Errorf("Fetch = (%q, %q), want (pending, queued)", got.Status, got.PendingState)
	}

	if _, err := q.Claim("coqui"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	got, err = s.Fetch(env.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != StatusPending || got.PendingState != model.StateClaimed {
		t.Errorf("Fetch = (%q, %q), want (pending, claimed)", got.Status, got.PendingState)
	}
}

func TestFetchMidEvictionReportsEvicted(t *testing.T) {
	s, _ := newTestStore(t)
	env := makeEnvelope()

	if _, err := s.WriteResult(env, []byte("audio"), "audio/wav", time.Second); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	// Freeze the sweep mid-teardown: tombstone written, audio removed,
	// completion record not yet gone.
	if err := s.layout.WriteAtomic(s.tombstonePath(env.ID), nil); err != nil {
		t.Fatalf("write tombstone: %v", err)
	}
	if err := os.Remove(s.audioPath(env.ID)); err != nil {
		t.Fatalf("remove audio: %v", err)
	}

	got, err := s.Fetch(env.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != StatusUnknown {
		t.Errorf("Status = %q, want %q", got.Status, StatusUnknown)
	}
	if !got.Evicted {
		t.Error("Evicted = false, want true for a job mid-eviction")
	}
}

func TestFetchUnknown(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Fetch(model.NewID())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != StatusUnknown || got.Evicted {
		t.Errorf("Fetch = (%q, evicted=%v), want (unknown, false)", got.Status, got.Evicted)
	}
}

func TestHasTerminal(t *testing.T) {
	s, _ := newTestStore(t)
	env := makeEnvelope()
	if s.HasTerminal(env.ID) {
		t.Error("HasTerminal true before any record")
	}
	if _, err := s.WriteFailure(env, model.FailureOrphaned, "worker restarted"); err != nil {
		t.Fatalf("WriteFailure: %v", err)
	}
	if !s.HasTerminal(env.ID) {
		t.Error("HasTerminal false after failure record")
	}
}

func TestSweepEvictsAndTombstones(t *testing.T) {
	s, _ := newTestStore(t)
	env := makeEnvelope()
	if _, err := s.WriteResult(env, []byte("audio"), "audio/wav", time.Second); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	// Not yet past retention: nothing happens.
	evicted, purged, err := s.Sweep(time.Now(), time.Hour, time.Hour, discardLogger())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if evicted != 0 || purged != 0 {
		t.Fatalf("Sweep = (%d, %d), want (0, 0)", evicted, purged)
	}

	// Sweep as if an hour has passed: the result is evicted and fetches as
	// unknown-but-evicted, never as pending.
	evicted, _, err = s.Sweep(time.Now().Add(2*time.Hour), time.Hour, 10*time.Hour, discardLogger())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}

	got, err := s.Fetch(env.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != StatusUnknown || !got.Evicted {
		t.Errorf("Fetch after sweep = (%q, evicted=%v), want (unknown, true)", got.Status, got.Evicted)
	}
	if _, err := os.Stat(s.audioPath(env.ID)); err == nil {
		t.Error("audio artifact survived eviction")
	}
}

func TestSweepPurgesOldTombstones(t *testing.T) {
	s, _ := newTestStore(t)
	env := makeEnvelope()
	if _, err := s.WriteFailure(env, model.FailureEngine, "boom"); err != nil {
		t.Fatalf("WriteFailure: %v", err)
	}

	now := time.Now()
	if _, _, err := s.Sweep(now.Add(2*time.Hour), time.Hour, 24*time.Hour, discardLogger()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	// Within grace: tombstone preserved.
	got, err := s.Fetch(env.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !got.Evicted {
		t.Fatal("expected evicted tombstone after sweep")
	}

	// Past the grace period the tombstone itself is purged.
	_, purged, err := s.Sweep(now.Add(48*time.Hour), time.Hour, 24*time.Hour, discardLogger())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	got, err = s.Fetch(env.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != StatusUnknown || got.Evicted {
		t.Errorf("Fetch after purge = (%q, evicted=%v), want (unknown, false)", got.Status, got.Evicted)
	}
}
