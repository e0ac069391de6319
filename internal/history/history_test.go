package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxlane/voxlane/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeEnvelope(engine string) *model.Envelope {
	return &model.Envelope{
		ID:        model.NewID(),
		Engine:    engine,
		Text:      "hello there",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestRecordSubmitAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := makeEnvelope("coqui")

	if err := s.RecordSubmit(ctx, env); err != nil {
		t.Fatalf("RecordSubmit: %v", err)
	}

	got, err := s.Get(ctx, env.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Engine != "coqui" {
		t.Errorf("Engine = %q, want coqui", got.Engine)
	}
	if got.Status != model.StateQueued {
		t.Errorf("Status = %q, want queued", got.Status)
	}
	if got.TextChars != len("hello there") {
		t.Errorf("TextChars = %d, want %d", got.TextChars, len("hello there"))
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt set before any outcome")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestRecordOutcomeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	env := makeEnvelope("coqui")
	if err := s.RecordSubmit(ctx, env); err != nil {
		t.Fatalf("RecordSubmit: %v", err)
	}

	changed, err := s.RecordOutcome(ctx, env.ID, model.StateCompleted, "", 1200)
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if !changed {
		t.Fatal("first outcome did not change the record")
	}

	// A second observation of the (now terminal) job is a no-op.
	changed, err = s.RecordOutcome(ctx, env.ID, model.StateCompleted, "", 1200)
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if changed {
		t.Error("second outcome changed an already-terminal record")
	}

	got, err := s.Get(ctx, env.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.StateCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.DurationMS == nil || *got.DurationMS != 1200 {
		t.Errorf("DurationMS = %v, want 1200", got.DurationMS)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set on terminal record")
	}
}

func TestRecordOutcomeUnknownIDIsNoop(t *testing.T) {
	s := newTestStore(t)
	changed, err := s.RecordOutcome(context.Background(), model.NewID(), model.StateFailed, "engine: boom", 0)
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if changed {
		t.Error("outcome for unrecorded ID reported a change")
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		env := makeEnvelope("coqui")
		if err := s.RecordSubmit(ctx, env); err != nil {
			t.Fatalf("RecordSubmit[%d]: %v", i, err)
		}
		ids = append(ids, env.ID)
	}

	jobs, total, err := s.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	// ULIDs ascend over time, so newest-first means the last submitted ID
	// comes back first.
	if jobs[0].ID != ids[4] {
		t.Errorf("first listed = %s, want %s", jobs[0].ID, ids[4])
	}

	jobs, _, err = s.List(ctx, 2, 4)
	if err != nil {
		t.Fatalf("List offset: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != ids[0] {
		t.Errorf("offset page = %v, want the oldest job", jobs)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env := makeEnvelope("coqui")
		if err := s.RecordSubmit(ctx, env); err != nil {
			t.Fatalf("RecordSubmit: %v", err)
		}
		if i < 2 {
			if _, err := s.RecordOutcome(ctx, env.ID, model.StateCompleted, "", 1000*(i+1)); err != nil {
				t.Fatalf("RecordOutcome: %v", err)
			}
		}
	}
	failEnv := makeEnvelope("neutts")
	if err := s.RecordSubmit(ctx, failEnv); err != nil {
		t.Fatalf("RecordSubmit: %v", err)
	}
	if _, err := s.RecordOutcome(ctx, failEnv.ID, model.StateFailed, "engine: boom", 0); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.CountByStatus[model.StateCompleted] != 2 {
		t.Errorf("completed = %d, want 2", stats.CountByStatus[model.StateCompleted])
	}
	if stats.CountByStatus[model.StateFailed] != 1 {
		t.Errorf("failed = %d, want 1", stats.CountByStatus[model.StateFailed])
	}
	if stats.CountByStatus[model.StateQueued] != 1 {
		t.Errorf("queued = %d, want 1", stats.CountByStatus[model.StateQueued])
	}
	if stats.CountByEngine["coqui"] != 3 {
		t.Errorf("coqui = %d, want 3", stats.CountByEngine["coqui"])
	}
	if stats.AvgSynthesisMS != 1500 {
		t.Errorf("AvgSynthesisMS = %f, want 1500", stats.AvgSynthesisMS)
	}
}
