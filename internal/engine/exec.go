package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/voxlane/voxlane/internal/config"
)

// Argv placeholders recognized in an engine's configured command. {text} is
// replaced with the path of a file holding the input text, {ref} with the
// voice reference path (empty when absent), and {out} with the path the
// binary must write its audio to.
const (
	placeholderText     = "{text}"
	placeholderRef      = "{ref}"
	placeholderOut      = "{out}"
	placeholderLanguage = "{language}"
	placeholderVoice    = "{voice}"
	placeholderModel    = "{model}"
	placeholderSpeed    = "{speed}"
)

// ExecEngine invokes an external TTS binary. Each inference stack lives in
// its own process with its own dependency tree; the only contract is the
// argv template and the output file.
type ExecEngine struct {
	cfg     config.EngineConfig
	info    Info
	timeout time.Duration
	log     *slog.Logger
}

// NewExecEngine creates an engine around the configured command.
func NewExecEngine(cfg config.EngineConfig, timeout time.Duration, log *slog.Logger) (*ExecEngine, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("engine %q has no command configured", cfg.Name)
	}
	return &ExecEngine{
		cfg:     cfg,
		timeout: timeout,
		log:     log,
		info: Info{
			Name:         cfg.Name,
			Languages:    cfg.Languages,
			DefaultVoice: cfg.DefaultVoice,
			Ready:        true,
			StartedAt:    time.Now().UTC(),
		},
	}, nil
}

// Info reports the engine's configured capabilities.
func (e *ExecEngine) Info() Info {
	return e.info
}

// Run writes the text to a scratch file, expands the argv template, and
// executes the binary. The audio is read back from the output path the
// binary was told to write.
func (e *ExecEngine) Run(ctx context.Context, req Request) ([]byte, error) {
	textFile, err := os.CreateTemp("", "voxlane-text-*.txt")
	if err != nil {
		return nil, fmt.Errorf("create text file: %w", err)
	}
	defer e.removeScratch(textFile.Name())

	if _, err := textFile.WriteString(req.Text); err != nil {
		textFile.Close()
		return nil, fmt.Errorf("write text file: %w", err)
	}
	if err := textFile.Close(); err != nil {
		return nil, fmt.Errorf("close text file: %w", err)
	}

	outFile, err := os.CreateTemp("", "voxlane-out-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer e.removeScratch(outPath)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := e.expandArgs(req, textFile.Name(), outPath)

	// #nosec G204 -- argv comes from the operator's engine configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindTimeout, "synthesis exceeded %s", e.timeout)
		}
		return nil, NewError(KindEngine, "%s exited: %v: %s", args[0], err, strings.TrimSpace(string(output)))
	}

	audio, err := os.ReadFile(outPath)
	if err != nil {
		return nil, NewError(KindEngine, "read output artifact: %v", err)
	}
	if len(audio) == 0 {
		return nil, NewError(KindEngine, "%s produced no audio", args[0])
	}
	return audio, nil
}

func (e *ExecEngine) expandArgs(req Request, textPath, outPath string) []string {
	repl := strings.NewReplacer(
		placeholderText, textPath,
		placeholderRef, req.RefPath,
		placeholderOut, outPath,
		placeholderLanguage, req.Options.Language,
		placeholderVoice, req.Options.Voice,
		placeholderModel, req.Options.Model,
		placeholderSpeed, formatSpeed(req.Options.Speed),
	)

	args := make([]string, len(e.cfg.Command))
	for i, a := range e.cfg.Command {
		args[i] = repl.Replace(a)
	}
	return args
}

func (e *ExecEngine) removeScratch(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.Warn("remove scratch file", "path", path, "error", err)
	}
}

func formatSpeed(speed float64) string {
	if speed <= 0 {
		speed = 1.0
	}
	return fmt.Sprintf("%.2f", speed)
}
