package stt

import (
	"context"
	"sync"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
)

// DefaultMockTranscript is returned for any audible utterance when no
// transcripts are queued.
const DefaultMockTranscript = "আমি ভালো আছি"

// MockRecognizer returns queued transcripts in order. Silent audio and empty
// queued entries report ErrNoSpeech.
type MockRecognizer struct {
	mu          sync.Mutex
	transcripts []string
	calls       int
}

func NewMockRecognizer(transcripts ...string) *MockRecognizer {
	return &MockRecognizer{transcripts: transcripts}
}

func (m *MockRecognizer) Transcribe(ctx context.Context, req Request) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	text := DefaultMockTranscript
	if len(m.transcripts) > 0 {
		text = m.transcripts[0]
		m.transcripts = m.transcripts[1:]
	} else if audio.RMS(req.PCM) == 0 {
		text = ""
	}
	if text == "" {
		return TranscriptResult{}, ErrNoSpeech
	}
	return TranscriptResult{Text: text, Confidence: 1}, nil
}

func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
