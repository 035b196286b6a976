package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeClip(t *testing.T, d time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := audio.WriteWAVFile(path, audio.Clip{PCM: audio.Tone(16000, 440, 3000, d), SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return path
}

func TestMockPlayerWaitsForDuration(t *testing.T) {
	path := writeClip(t, 200*time.Millisecond)
	p := NewMockPlayer(0.5)
	start := time.Now()
	if err := p.Play(context.Background(), path); err != nil {
		t.Fatalf("play: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected ~100ms playback, took %v", elapsed)
	}
	if got := p.Played(); len(got) != 1 || got[0] != path {
		t.Fatalf("unexpected played list %v", got)
	}
}

func TestMockPlayerCancelled(t *testing.T) {
	path := writeClip(t, 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewMockPlayer(1).Play(ctx, path); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMockPlayerMissingFile(t *testing.T) {
	if err := NewMockPlayer(1).Play(context.Background(), filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error")
	}
}

func TestExecPlayerPassesPath(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "played")
	script := filepath.Join(dir, "play.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho \"$1\" > "+marker+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	p, err := NewExecPlayer(script, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	path := writeClip(t, 10*time.Millisecond)
	if err := p.Play(context.Background(), path); err != nil {
		t.Fatalf("play: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(data) != path+"\n" {
		t.Fatalf("expected %q, got %q", path+"\n", data)
	}
}
