// Package playback sends rendered speech to the speakers.
package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/mattn/go-shellwords"
)

// Player plays a WAV file and returns once playback has finished.
type Player interface {
	Play(ctx context.Context, path string) error
}

func New(cfg config.PlaybackConfig, log *slog.Logger) (Player, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockPlayer(1), nil
	case "exec":
		return NewExecPlayer(cfg.Command, log)
	default:
		return nil, fmt.Errorf("unsupported playback mode %q", cfg.Mode)
	}
}

// MockPlayer waits for the file's duration multiplied by scale.
type MockPlayer struct {
	scale float64

	mu     sync.Mutex
	played []string
}

func NewMockPlayer(scale float64) *MockPlayer {
	return &MockPlayer{scale: scale}
}

func (m *MockPlayer) Play(ctx context.Context, path string) error {
	d, err := audio.WAVDuration(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.played = append(m.played, path)
	m.mu.Unlock()

	wait := time.Duration(float64(d) * m.scale)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *MockPlayer) Played() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.played...)
}

type execPlayer struct {
	cmd []string
	log *slog.Logger
}

// NewExecPlayer appends the file path to command, e.g. "aplay -q".
func NewExecPlayer(command string, log *slog.Logger) (Player, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command empty")
	}
	return &execPlayer{cmd: args, log: log.With(slog.String("component", "playback"))}, nil
}

func (e *execPlayer) Play(ctx context.Context, path string) error {
	args := append(append([]string{}, e.cmd[1:]...), path)
	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	e.log.Debug("played", slog.String("path", path), slog.Duration("elapsed", time.Since(start)))
	return nil
}
