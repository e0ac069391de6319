// Package worker implements the per-engine loop that claims jobs from the
// engine's queue directory, invokes the engine, and persists the outcome.
// One worker process serves exactly one engine and never touches another
// engine's queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/engine"
	"github.com/voxlane/voxlane/internal/model"
	"github.com/voxlane/voxlane/internal/queue"
	"github.com/voxlane/voxlane/internal/results"
)

const outputContentType = "audio/wav"

// Config holds the loop's tunables.
type Config struct {
	Engine string
	Poll   time.Duration

	// ReapAfter is the age past which a claimed job counts as orphaned.
	// Zero disables reaping.
	ReapAfter  time.Duration
	ReapPolicy string
}

// Worker is one engine's claim-and-process loop. It is single-threaded:
// engines are resource-heavy, so one job runs to completion before the next
// poll.
type Worker struct {
	cfg     Config
	eng     engine.Engine
	queue   *queue.Queue
	results *results.Store
	log     *slog.Logger

	nextReap time.Time
}

// New creates a worker loop for one engine.
func New(cfg Config, eng engine.Engine, q *queue.Queue, store *results.Store, log *slog.Logger) *Worker {
	return &Worker{
		cfg:     cfg,
		eng:     eng,
		queue:   q,
		results: store,
		log:     log,
	}
}

// Run publishes the engine's info and processes jobs until the context is
// canceled. Engine failures are persisted and never stop the loop; only
// environment failures (unreadable queue, undecodable envelope, failure to
// persist a result) end it, because continuing would silently drop jobs.
func (w *Worker) Run(ctx context.Context) error {
	if err := engine.PublishInfo(w.queue.Layout(), w.eng.Info()); err != nil {
		return err
	}
	w.log.Info("worker ready", "engine", w.cfg.Engine)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := w.maybeReap(time.Now()); err != nil {
			return err
		}

		env, err := w.queue.Claim(w.cfg.Engine)
		if errors.Is(err, queue.ErrEmpty) {
			if !sleep(ctx, w.cfg.Poll) {
				return nil
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("claim from %s queue: %w", w.cfg.Engine, err)
		}

		if err := w.process(ctx, env); err != nil {
			return err
		}
	}
}

// process invokes the engine for one claimed job and persists the outcome.
// The terminal record is written before the claimed envelope is released, so
// the job is never observable in no location at all.
func (w *Worker) process(ctx context.Context, env *model.Envelope) error {
	w.log.Info("processing job", "engine", w.cfg.Engine, "job_id", env.ID)
	start := time.Now()

	req := engine.Request{Text: env.Text, Options: env.Options}
	if env.HasRef {
		path, ok := w.queue.RefPath(env.ID)
		if !ok {
			return w.finishFailed(env, engine.KindInvalidInput, "reference artifact is missing")
		}
		req.RefPath = path
	}

	audio, err := w.invoke(ctx, req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			// Shutdown interrupted the invocation. Leave the job claimed:
			// the reaper decides its fate rather than recording a failure
			// for work that was never allowed to finish.
			w.log.Warn("synthesis interrupted by shutdown", "engine", w.cfg.Engine, "job_id", env.ID)
			return nil
		}
		kind, message := classifyEngineError(err)
		w.log.Error("synthesis failed",
			"engine", w.cfg.Engine, "job_id", env.ID, "kind", kind, "error", message)
		return w.finishFailed(env, kind, message)
	}

	took := time.Since(start)
	if _, err := w.results.WriteResult(env, audio, outputContentType, took); err != nil {
		return fmt.Errorf("persist result for %s: %w", env.ID, err)
	}
	if err := w.queue.ReleaseClaimed(env.ID, env.Engine); err != nil {
		return err
	}

	synthesisDuration.WithLabelValues(w.cfg.Engine).Observe(took.Seconds())
	jobsCompleted.WithLabelValues(w.cfg.Engine).Inc()
	w.log.Info("job completed",
		"engine", w.cfg.Engine, "job_id", env.ID,
		"bytes", len(audio), "duration_ms", took.Milliseconds())
	return nil
}

// invoke runs the engine, converting a panic into an error so a misbehaving
// engine fails one job instead of the whole loop.
func (w *Worker) invoke(ctx context.Context, req engine.Request) (audio []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return w.eng.Run(ctx, req)
}

func (w *Worker) finishFailed(env *model.Envelope, kind, message string) error {
	if _, err := w.results.WriteFailure(env, kind, message); err != nil {
		return fmt.Errorf("persist failure for %s: %w", env.ID, err)
	}
	if err := w.queue.ReleaseClaimed(env.ID, env.Engine); err != nil {
		return err
	}
	jobsFailed.WithLabelValues(w.cfg.Engine, kind).Inc()
	return nil
}

// maybeReap runs the orphan sweep when its interval has elapsed.
func (w *Worker) maybeReap(now time.Time) error {
	if w.cfg.ReapAfter <= 0 || now.Before(w.nextReap) {
		return nil
	}
	w.nextReap = now.Add(reapInterval(w.cfg))
	return w.Reap(now)
}

// Reap applies the configured policy to claimed jobs older than ReapAfter.
// A claimed envelope whose terminal record already exists is released
// without further action: its worker finished but crashed before cleanup.
func (w *Worker) Reap(now time.Time) error {
	orphans, err := w.queue.ClaimedOlderThan(w.cfg.Engine, w.cfg.ReapAfter, now)
	if err != nil {
		return fmt.Errorf("scan for orphans: %w", err)
	}

	for _, env := range orphans {
		if w.results.HasTerminal(env.ID) {
			if err := w.queue.ReleaseClaimed(env.ID, env.Engine); err != nil {
				return err
			}
			continue
		}

		switch w.cfg.ReapPolicy {
		case config.ReapRequeue:
			err := w.queue.Requeue(env)
			if errors.Is(err, queue.ErrStateConflict) {
				continue
			}
			if err != nil {
				return err
			}
			w.log.Warn("requeued orphaned job", "engine", w.cfg.Engine, "job_id", env.ID)
		default:
			message := fmt.Sprintf("claimed for longer than %s; worker presumed crashed", w.cfg.ReapAfter)
			if err := w.finishFailed(env, model.FailureOrphaned, message); err != nil {
				return err
			}
			w.log.Warn("failed orphaned job", "engine", w.cfg.Engine, "job_id", env.ID)
		}
	}
	return nil
}

// classifyEngineError maps an invocation error to a failure kind and message.
func classifyEngineError(err error) (kind, message string) {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return ee.Kind, ee.Message
	}
	return model.FailureInternal, err.Error()
}

// reapInterval spaces orphan sweeps at a quarter of the orphan age, clamped
// to at least the poll interval.
func reapInterval(cfg Config) time.Duration {
	interval := cfg.ReapAfter / 4
	if interval < cfg.Poll {
		interval = cfg.Poll
	}
	return interval
}

// sleep waits for the duration or until the context ends; it reports false
// when the context ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
