package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// ErrNoSpeech means the backend heard audio but found no words in it.
var ErrNoSpeech = errors.New("no speech recognized")

// Request is one utterance to transcribe.
type Request struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Language   string
}

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, req Request) (TranscriptResult, error)
}

// New builds the recognizer selected by cfg.Mode. Backends holding
// connections also implement io.Closer.
func New(ctx context.Context, cfg config.STTConfig, cloud config.CloudConfig, log *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "google":
		return NewGoogleRecognizer(cfg, log), nil
	case "gcloud":
		return NewCloudRecognizer(ctx, cfg, cloud, log)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
