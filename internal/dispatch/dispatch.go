// Package dispatch implements the gateway side of the job pipeline:
// validating submissions, enqueueing envelopes, and waiting on results with
// a bounded deadline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/history"
	"github.com/voxlane/voxlane/internal/model"
	"github.com/voxlane/voxlane/internal/queue"
	"github.com/voxlane/voxlane/internal/results"
)

var (
	// ErrEngineUnavailable is returned when the requested engine is not in
	// the enabled set.
	ErrEngineUnavailable = errors.New("engine is not available")

	// ErrEmptyText rejects submissions with no text after trimming.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrTextTooLong rejects text over the configured limit.
	ErrTextTooLong = errors.New("text exceeds the configured length limit")

	// ErrRefTooLarge rejects reference audio over the configured limit.
	ErrRefTooLarge = errors.New("reference audio exceeds the configured size limit")

	// ErrAwaitTimeout reports that the wait deadline elapsed. The job is
	// still outstanding server-side; callers may keep polling by ID.
	ErrAwaitTimeout = errors.New("timed out waiting for synthesis result")
)

// Request is one synthesis submission.
type Request struct {
	Engine  string
	Text    string
	Ref     []byte
	Options model.SynthesisOptions
}

// Dispatcher validates submissions and hands them to the queue, then relays
// outcomes back from the result store.
type Dispatcher struct {
	cfg     config.Config
	queue   *queue.Queue
	results *results.Store
	history *history.Store
	log     *slog.Logger
}

// New creates a dispatcher. The history store is optional; a nil history
// disables submission bookkeeping but changes no job semantics.
func New(cfg config.Config, q *queue.Queue, store *results.Store, hist *history.Store, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		queue:   q,
		results: store,
		history: hist,
		log:     log,
	}
}

// Submit validates the request and enqueues a new job. Every check runs
// before the first filesystem write, so a rejected submission leaves no
// state behind.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (*model.Envelope, error) {
	engCfg, err := d.cfg.Engine(req.Engine)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrEngineUnavailable, req.Engine)
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if d.cfg.MaxTextChars > 0 && len([]rune(text)) > d.cfg.MaxTextChars {
		return nil, fmt.Errorf("%w: %d > %d chars", ErrTextTooLong, len([]rune(text)), d.cfg.MaxTextChars)
	}
	if d.cfg.MaxRefBytes > 0 && int64(len(req.Ref)) > d.cfg.MaxRefBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrRefTooLarge, len(req.Ref), d.cfg.MaxRefBytes)
	}

	opts := req.Options
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Voice == "" && len(req.Ref) == 0 {
		opts.Voice = engCfg.DefaultVoice
	}

	env := &model.Envelope{
		ID:        model.NewID(),
		Engine:    req.Engine,
		Text:      text,
		HasRef:    len(req.Ref) > 0,
		Options:   opts,
		CreatedAt: time.Now().UTC(),
	}

	if err := d.queue.Enqueue(env, req.Ref); err != nil {
		return nil, err
	}

	jobsSubmitted.WithLabelValues(env.Engine).Inc()
	if d.history != nil {
		if err := d.history.RecordSubmit(ctx, env); err != nil {
			d.log.Warn("record submission", "job_id", env.ID, "error", err)
		}
	}

	d.log.Info("job submitted", "job_id", env.ID, "engine", env.Engine, "has_ref", env.HasRef)
	return env, nil
}

// Status resolves a job's current outcome from the filesystem and, when the
// outcome is terminal, folds it into the history bookkeeping.
func (d *Dispatcher) Status(ctx context.Context, id string) (results.Fetched, error) {
	fetched, err := d.results.Fetch(id)
	if err != nil {
		return results.Fetched{}, err
	}
	d.observe(ctx, id, fetched)
	return fetched, nil
}

// Await polls the result store until the job terminates or the timeout
// elapses. On timeout the last observed state is returned alongside
// ErrAwaitTimeout; the job itself is not aborted.
func (d *Dispatcher) Await(ctx context.Context, id string, timeout time.Duration) (results.Fetched, error) {
	deadline := time.Now().Add(timeout)
	for {
		fetched, err := d.Status(ctx, id)
		if err != nil {
			return results.Fetched{}, err
		}
		switch fetched.Status {
		case results.StatusReady, results.StatusFailed:
			return fetched, nil
		}

		if time.Now().After(deadline) {
			return fetched, ErrAwaitTimeout
		}

		timer := time.NewTimer(d.cfg.PollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fetched, ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) observe(ctx context.Context, id string, fetched results.Fetched) {
	if d.history == nil {
		return
	}

	var err error
	switch fetched.Status {
	case results.StatusReady:
		_, err = d.history.RecordOutcome(ctx, id, model.StateCompleted, "", fetched.Result.DurationMS)
	case results.StatusFailed:
		cause := fetched.Failure.Kind + ": " + fetched.Failure.Message
		_, err = d.history.RecordOutcome(ctx, id, model.StateFailed, cause, 0)
	default:
		return
	}
	if err != nil {
		d.log.Warn("record outcome", "job_id", id, "error", err)
	}
}
