package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// ErrUnavailable means a synthesizer cannot serve the request at all, so a
// fallback may be tried.
var ErrUnavailable = errors.New("synthesizer unavailable")

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text  string
	Voice string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. Both channels are closed
// when synthesis ends; at most one error is sent.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// New builds the synthesizer for cfg.Mode, wrapped with cfg.FallbackMode
// when one is configured.
func New(ctx context.Context, cfg config.TTSConfig, cloud config.CloudConfig, log *slog.Logger) (Synthesizer, error) {
	primary, err := build(ctx, cfg.Mode, cfg, cloud, log)
	if err != nil {
		return nil, err
	}
	if cfg.FallbackMode == "" || cfg.FallbackMode == cfg.Mode {
		return primary, nil
	}
	secondary, err := build(ctx, cfg.FallbackMode, cfg, cloud, log)
	if err != nil {
		return nil, fmt.Errorf("fallback synthesizer: %w", err)
	}
	return NewFallback(primary, secondary, log), nil
}

func build(ctx context.Context, mode string, cfg config.TTSConfig, cloud config.CloudConfig, log *slog.Logger) (Synthesizer, error) {
	switch mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "gtts":
		return NewGTTSSynth(cfg.Endpoint), nil
	case "gcloud":
		return NewCloudSynth(ctx, cfg, cloud)
	case "samples":
		return NewSampleBank(cfg.SamplesManifest, log)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", mode)
	}
}

// Collect drains a synthesis into a single clip.
func Collect(ctx context.Context, s Synthesizer, req SynthRequest) (audio.Clip, error) {
	chunks, errs := s.Synthesize(ctx, req)
	var clip audio.Clip
	for chunk := range chunks {
		if clip.SampleRate == 0 {
			clip.SampleRate, clip.Channels = chunk.SampleRate, chunk.Channels
		} else if chunk.SampleRate != clip.SampleRate || chunk.Channels != clip.Channels {
			go drain(chunks)
			return audio.Clip{}, fmt.Errorf("synthesizer changed format mid-stream")
		}
		clip.PCM = append(clip.PCM, chunk.PCM...)
	}
	if err := <-errs; err != nil {
		return audio.Clip{}, err
	}
	if len(clip.PCM) == 0 {
		return audio.Clip{}, errors.New("synthesizer produced no audio")
	}
	return clip, nil
}

func drain(chunks <-chan SynthChunk) {
	for range chunks {
	}
}
