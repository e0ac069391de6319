// Package queue implements the per-engine filesystem mailboxes and the
// atomic-rename claim protocol that hands jobs from the gateway to workers.
// The directories are the only shared mutable state between processes; a
// file's presence in a directory is the job's authoritative lifecycle state.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxlane/voxlane/internal/model"
)

const envelopeSuffix = ".json"

var (
	// ErrEmpty is returned by Claim when no pending job is available.
	ErrEmpty = errors.New("no pending jobs")

	// ErrStateConflict is returned when a job is not where the requested
	// transition expects it, meaning another process moved it first.
	ErrStateConflict = errors.New("job is not in the expected state")

	// ErrCorruptEnvelope is returned when an envelope file cannot be decoded.
	// Workers treat this as fatal rather than silently dropping the job.
	ErrCorruptEnvelope = errors.New("corrupt job envelope")
)

// Queue coordinates job handoff across the configured engines.
type Queue struct {
	layout  Layout
	engines []string
}

// New creates a Queue over an initialized layout.
func New(layout Layout, engines []string) *Queue {
	return &Queue{layout: layout, engines: engines}
}

// Layout exposes the underlying directory layout.
func (q *Queue) Layout() Layout {
	return q.layout
}

// Enqueue persists the reference artifact (when present) and then the
// envelope into the engine's queue directory. The envelope rename is last,
// so a job never becomes visible before its input artifact is complete.
func (q *Queue) Enqueue(env *model.Envelope, ref []byte) error {
	if env.HasRef {
		if err := q.layout.WriteAtomic(q.layout.RefPath(env.ID), ref); err != nil {
			return fmt.Errorf("store reference artifact: %w", err)
		}
	}

	env.State = model.StateQueued
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	dst := filepath.Join(q.layout.QueueDir(env.Engine), env.ID+envelopeSuffix)
	if err := q.layout.WriteAtomic(dst, data); err != nil {
		// The job never became visible; remove the orphaned artifact.
		if env.HasRef {
			os.Remove(q.layout.RefPath(env.ID))
		}
		return fmt.Errorf("enqueue envelope: %w", err)
	}
	return nil
}

// Claim takes ownership of the oldest pending job for the engine by renaming
// its envelope into the engine's claimed directory. The rename can succeed
// for exactly one caller per file, so no locks are needed: losing a race on
// one candidate just moves on to the next. Returns ErrEmpty when the queue
// holds no claimable job.
func (q *Queue) Claim(engine string) (*model.Envelope, error) {
	dir := q.layout.QueueDir(engine)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}

	// os.ReadDir sorts by name; ULID names sort by creation time, which
	// gives best-effort FIFO order.
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, envelopeSuffix) {
			continue
		}

		dst := filepath.Join(q.layout.ClaimedDir(engine), name)
		if err := os.Rename(filepath.Join(dir, name), dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Another worker claimed it first.
				continue
			}
			return nil, fmt.Errorf("claim %s: %w", name, err)
		}

		// Stamp the claim time; the reaper measures orphan age from it.
		now := time.Now()
		if err := os.Chtimes(dst, now, now); err != nil {
			return nil, fmt.Errorf("stamp claim time: %w", err)
		}

		env, err := readEnvelope(dst)
		if err != nil {
			return nil, err
		}
		env.State = model.StateClaimed
		return env, nil
	}

	return nil, ErrEmpty
}

// Requeue returns a claimed envelope to its engine's queue. This is only
// ever invoked by the orphan reaper under the requeue policy.
func (q *Queue) Requeue(env *model.Envelope) error {
	src := filepath.Join(q.layout.ClaimedDir(env.Engine), env.ID+envelopeSuffix)
	dst := filepath.Join(q.layout.QueueDir(env.Engine), env.ID+envelopeSuffix)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("requeue %s: %w", env.ID, ErrStateConflict)
		}
		return fmt.Errorf("requeue %s: %w", env.ID, err)
	}
	env.State = model.StateQueued
	return nil
}

// ReleaseClaimed removes a claimed envelope and its reference artifact once
// a terminal record has been persisted. Missing files are fine: the terminal
// record is already the authoritative state.
func (q *Queue) ReleaseClaimed(id, engine string) error {
	envPath := filepath.Join(q.layout.ClaimedDir(engine), id+envelopeSuffix)
	if err := os.Remove(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release claimed envelope: %w", err)
	}
	if err := os.Remove(q.layout.RefPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove reference artifact: %w", err)
	}
	return nil
}

// Locate reports whether a job is currently queued or claimed on any engine.
// The check is a pure filesystem probe; no state is cached in-process.
func (q *Queue) Locate(id string) (state string, found bool) {
	name := id + envelopeSuffix
	for _, e := range q.engines {
		if fileExists(filepath.Join(q.layout.ClaimedDir(e), name)) {
			return model.StateClaimed, true
		}
		if fileExists(filepath.Join(q.layout.QueueDir(e), name)) {
			return model.StateQueued, true
		}
	}
	return "", false
}

// Depth returns the number of pending jobs in one engine's queue.
func (q *Queue) Depth(engine string) (int, error) {
	entries, err := os.ReadDir(q.layout.QueueDir(engine))
	if err != nil {
		return 0, fmt.Errorf("scan queue: %w", err)
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), envelopeSuffix) {
			n++
		}
	}
	return n, nil
}

// ClaimedOlderThan returns the envelopes sitting in the engine's claimed
// directory whose claim stamp is older than the cutoff. An undecodable
// envelope is returned with only its ID and engine set so the caller can
// still move it to a terminal state.
func (q *Queue) ClaimedOlderThan(engine string, age time.Duration, now time.Time) ([]*model.Envelope, error) {
	dir := q.layout.ClaimedDir(engine)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan claimed: %w", err)
	}

	cutoff := now.Add(-age)
	var orphans []*model.Envelope
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, envelopeSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat claimed %s: %w", name, err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		env, err := readEnvelope(filepath.Join(dir, name))
		if err != nil {
			env = &model.Envelope{
				ID:     strings.TrimSuffix(name, envelopeSuffix),
				Engine: engine,
			}
		}
		env.State = model.StateClaimed
		orphans = append(orphans, env)
	}
	return orphans, nil
}

// RefPath returns the reference artifact path for a job and whether the
// artifact exists.
func (q *Queue) RefPath(id string) (string, bool) {
	path := q.layout.RefPath(id)
	return path, fileExists(path)
}

func readEnvelope(path string) (*model.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptEnvelope, filepath.Base(path), err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: %s: missing id", ErrCorruptEnvelope, filepath.Base(path))
	}
	return &env, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
