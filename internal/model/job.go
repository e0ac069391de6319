package model

import "time"

// Job state constants. A job's authoritative state is encoded by which
// on-disk area its envelope or record currently lives in; these values name
// those areas in records and API responses.
const (
	StateQueued    = "queued"
	StateClaimed   = "claimed"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Failure kind constants. This is the complete taxonomy persisted into
// failure records; the engine package aliases the kinds it can raise.
const (
	FailureEngine       = "engine"
	FailureTimeout      = "timeout"
	FailureInvalidInput = "invalid_input"
	FailureOrphaned     = "orphaned"
	FailureInternal     = "internal"
)

// validTransitions maps each state to the set of states it may move to.
// The lifecycle is strictly forward-moving; a requeue of an orphaned job is
// an operator policy applied by the reaper, not a transition a job performs
// on its own.
var validTransitions = map[string]map[string]bool{
	StateQueued: {
		StateClaimed: true,
	},
	StateClaimed: {
		StateCompleted: true,
		StateFailed:    true,
	},
}

// ValidTransition reports whether moving from one job state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// SynthesisOptions carries the per-request knobs recognized by engines.
// Engines ignore options they do not support.
type SynthesisOptions struct {
	Language string  `json:"language,omitempty"`
	Voice    string  `json:"voice,omitempty"`
	Model    string  `json:"model,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// Envelope is the self-contained descriptor of one synthesis job. It is
// written once by the gateway and only ever relocated afterwards; the file's
// location, not the State field, is authoritative for lifecycle queries.
type Envelope struct {
	ID        string           `json:"id"`
	Engine    string           `json:"engine"`
	Text      string           `json:"text"`
	HasRef    bool             `json:"has_ref"`
	Options   SynthesisOptions `json:"options"`
	State     string           `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
}

// Result is the completion record persisted next to the output artifact.
type Result struct {
	ID          string    `json:"id"`
	Engine      string    `json:"engine"`
	ContentType string    `json:"content_type"`
	Bytes       int64     `json:"bytes"`
	DurationMS  int       `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Failure is the structured record persisted when a job terminates without output.
type Failure struct {
	ID        string    `json:"id"`
	Engine    string    `json:"engine"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	FailedAt  time.Time `json:"failed_at"`
}
