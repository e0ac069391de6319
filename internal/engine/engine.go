// Package engine defines the single capability every TTS backend exposes to
// the worker loop, along with the structured error engines raise. Concrete
// engines are opaque: the core never inspects their models or dependencies.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/voxlane/voxlane/internal/model"
)

// Error kinds an engine invocation can raise, aliased from the model's
// failure taxonomy so records cannot drift from it.
const (
	KindEngine       = model.FailureEngine
	KindTimeout      = model.FailureTimeout
	KindInvalidInput = model.FailureInvalidInput
)

// Request carries one synthesis invocation.
type Request struct {
	Text string

	// RefPath is the on-disk voice reference artifact, empty when the
	// request carries no custom voice.
	RefPath string

	Options model.SynthesisOptions
}

// Info describes an engine's capabilities as published to the gateway.
type Info struct {
	Name         string    `json:"name"`
	Languages    []string  `json:"languages,omitempty"`
	DefaultVoice string    `json:"default_voice,omitempty"`
	Ready        bool      `json:"ready"`
	StartedAt    time.Time `json:"started_at"`
}

// Engine is the capability contract for a concrete TTS backend.
type Engine interface {
	// Run synthesizes speech for the request and returns the audio bytes.
	// Failures are reported as *Error where the cause is attributable to
	// the engine or its input.
	Run(ctx context.Context, req Request) ([]byte, error)

	// Info reports the engine's capabilities.
	Info() Info
}

// Error is a structured engine failure.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine error (%s): %s", e.Kind, e.Message)
}

// NewError creates an engine error with the given kind.
func NewError(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
