package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/journal"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

func TestPrintRunsAndCycles(t *testing.T) {
	ctx := context.Background()
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "interpreter.db"), RetentionMode: "persistent"}
	j, err := journal.Open(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	if err := j.BeginRun(ctx, journal.Run{ID: "run-1", STTMode: "google", TranslateMode: "google", TTSMode: "gtts"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := j.RecordCycle(ctx, protocol.CycleReport{RunID: "run-1", CycleID: "c-1", Outcome: "spoken",
		Transcript: "ধন্যবাদ", Translation: "Thank you", CacheHit: true, SpeakMS: 700}); err != nil {
		t.Fatalf("record cycle: %v", err)
	}

	var runs bytes.Buffer
	if err := printRuns(ctx, &runs, j, 10); err != nil {
		t.Fatalf("print runs: %v", err)
	}
	if !strings.Contains(runs.String(), "run-1") || !strings.Contains(runs.String(), "gtts") {
		t.Fatalf("unexpected runs output:\n%s", runs.String())
	}

	var cycles bytes.Buffer
	if err := printCycles(ctx, &cycles, j, "run-1", 10); err != nil {
		t.Fatalf("print cycles: %v", err)
	}
	for _, want := range []string{"spoken", "hit", "700ms", "Thank you"} {
		if !strings.Contains(cycles.String(), want) {
			t.Fatalf("cycles output missing %q:\n%s", want, cycles.String())
		}
	}
}
