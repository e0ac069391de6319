// Package results implements the result store: completed outputs, failure
// records, eviction tombstones, and the retention sweep that bounds disk use.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxlane/voxlane/internal/model"
	"github.com/voxlane/voxlane/internal/queue"
)

// Fetch statuses.
const (
	StatusReady   = "ready"
	StatusFailed  = "failed"
	StatusPending = "pending"
	StatusUnknown = "unknown"
)

const recordSuffix = ".json"

// Fetched is the outcome of a status lookup for one job ID.
type Fetched struct {
	Status string

	// PendingState distinguishes queued from claimed when Status is pending.
	PendingState string

	// Evicted is set when Status is unknown because a retention sweep
	// removed a terminal result, as opposed to an ID that was never seen.
	Evicted bool

	Result  *model.Result
	Audio   []byte
	Failure *model.Failure
}

// Store reads and writes the terminal areas of the shared layout.
type Store struct {
	layout queue.Layout
	queue  *queue.Queue
}

// New creates a Store sharing the queue's layout.
func New(q *queue.Queue) *Store {
	return &Store{layout: q.Layout(), queue: q}
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.layout.OutDir(), id+recordSuffix)
}

func (s *Store) audioPath(id string) string {
	return filepath.Join(s.layout.OutDir(), id+".audio")
}

func (s *Store) failurePath(id string) string {
	return filepath.Join(s.layout.FailedDir(), id+recordSuffix)
}

func (s *Store) tombstonePath(id string) string {
	return filepath.Join(s.layout.GoneDir(), id)
}

// WriteResult persists the output artifact and then the completion record.
// The record rename is last: its presence is the single signal that the job
// completed, so no process can observe a completed job with a partial
// artifact.
func (s *Store) WriteResult(env *model.Envelope, audio []byte, contentType string, took time.Duration) (*model.Result, error) {
	if err := s.layout.WriteAtomic(s.audioPath(env.ID), audio); err != nil {
		return nil, fmt.Errorf("store output artifact: %w", err)
	}

	rec := &model.Result{
		ID:          env.ID,
		Engine:      env.Engine,
		ContentType: contentType,
		Bytes:       int64(len(audio)),
		DurationMS:  int(took.Milliseconds()),
		CreatedAt:   env.CreatedAt,
		FinishedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode completion record: %w", err)
	}
	if err := s.layout.WriteAtomic(s.recordPath(env.ID), data); err != nil {
		os.Remove(s.audioPath(env.ID))
		return nil, fmt.Errorf("store completion record: %w", err)
	}
	return rec, nil
}

// WriteFailure persists a structured failure record for the job.
func (s *Store) WriteFailure(env *model.Envelope, kind, message string) (*model.Failure, error) {
	rec := &model.Failure{
		ID:        env.ID,
		Engine:    env.Engine,
		Kind:      kind,
		Message:   message,
		CreatedAt: env.CreatedAt,
		FailedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode failure record: %w", err)
	}
	if err := s.layout.WriteAtomic(s.failurePath(env.ID), data); err != nil {
		return nil, fmt.Errorf("store failure record: %w", err)
	}
	return rec, nil
}

// HasTerminal reports whether the job already has a completion or failure
// record. The reaper uses it to avoid double-terminating a job whose claimed
// envelope just had not been released yet.
func (s *Store) HasTerminal(id string) bool {
	if _, err := os.Stat(s.recordPath(id)); err == nil {
		return true
	}
	if _, err := os.Stat(s.failurePath(id)); err == nil {
		return true
	}
	return false
}

// Fetch resolves a job ID to its current outcome by probing the shared
// directories in terminal-first order. It never consults in-process state.
func (s *Store) Fetch(id string) (Fetched, error) {
	if data, err := os.ReadFile(s.recordPath(id)); err == nil {
		var rec model.Result
		if err := json.Unmarshal(data, &rec); err != nil {
			return Fetched{}, fmt.Errorf("decode completion record %s: %w", id, err)
		}
		audio, err := os.ReadFile(s.audioPath(id))
		if err == nil {
			return Fetched{Status: StatusReady, Result: &rec, Audio: audio}, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return Fetched{}, fmt.Errorf("read output artifact %s: %w", id, err)
		}
		// The retention sweep took the audio between the two reads; the
		// job is mid-eviction, so fall through to the tombstone probe.
	}

	if data, err := os.ReadFile(s.failurePath(id)); err == nil {
		var rec model.Failure
		if err := json.Unmarshal(data, &rec); err != nil {
			return Fetched{}, fmt.Errorf("decode failure record %s: %w", id, err)
		}
		return Fetched{Status: StatusFailed, Failure: &rec}, nil
	}

	if state, found := s.queue.Locate(id); found {
		return Fetched{Status: StatusPending, PendingState: state}, nil
	}

	if _, err := os.Stat(s.tombstonePath(id)); err == nil {
		return Fetched{Status: StatusUnknown, Evicted: true}, nil
	}

	return Fetched{Status: StatusUnknown}, nil
}

// Sweep evicts terminal results older than the retention window, leaving a
// tombstone per evicted job, and purges tombstones older than the grace
// period. It returns the number of evicted results and purged tombstones.
func (s *Store) Sweep(now time.Time, retention, grace time.Duration, log *slog.Logger) (evicted, purged int, err error) {
	n, err := s.sweepDir(s.layout.OutDir(), now.Add(-retention), log)
	if err != nil {
		return evicted, purged, err
	}
	evicted += n

	n, err = s.sweepDir(s.layout.FailedDir(), now.Add(-retention), log)
	if err != nil {
		return evicted, purged, err
	}
	evicted += n

	entries, err := os.ReadDir(s.layout.GoneDir())
	if err != nil {
		return evicted, purged, fmt.Errorf("scan tombstones: %w", err)
	}
	graveCutoff := now.Add(-grace)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(graveCutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.layout.GoneDir(), entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("purge tombstone", "job_id", entry.Name(), "error", err)
			continue
		}
		purged++
	}

	return evicted, purged, nil
}

// sweepDir evicts every record in dir older than the cutoff. Eviction writes
// the tombstone before removing the record, so a job is never observable as
// never-submitted while its result is being torn down.
func (s *Store) sweepDir(dir string, cutoff time.Time, log *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	evicted := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		id := strings.TrimSuffix(name, recordSuffix)
		if err := s.layout.WriteAtomic(s.tombstonePath(id), nil); err != nil {
			log.Warn("write tombstone", "job_id", id, "error", err)
			continue
		}

		for _, stale := range []string{
			filepath.Join(dir, name),
			s.audioPath(id),
			s.layout.RefPath(id),
		} {
			if err := os.Remove(stale); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn("evict result file", "job_id", id, "path", stale, "error", err)
			}
		}
		evicted++
	}
	return evicted, nil
}
