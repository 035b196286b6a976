// Package capture turns microphone audio into utterances bounded by silence
// or a phrase time limit.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// ErrTransient marks device hiccups; callers pause and retry.
var ErrTransient = errors.New("transient capture failure")

// Utterance is one bounded capture. A zero Utterance means no speech started
// before the listen timeout.
type Utterance struct {
	PCM        []byte
	SampleRate int
	Channels   int
	StartedAt  time.Time
	EndedAt    time.Time
}

func (u Utterance) IsEmpty() bool { return len(u.PCM) == 0 }

func (u Utterance) Duration() time.Duration {
	return audio.Duration(len(u.PCM), u.SampleRate, u.Channels)
}

// Source produces utterances. Capture must only be called while the
// microphone gate is open.
type Source interface {
	Capture(ctx context.Context, timeout, phraseLimit time.Duration) (Utterance, error)
	Close() error
}

// New builds the source selected by cfg.Mode.
func New(cfg config.CaptureConfig, busClient *bus.Client, log *slog.Logger) (Source, error) {
	log = log.With(slog.String("component", "capture"), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case "mock":
		items, err := LoadScript(cfg.Script, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		return NewScriptedSource(items), nil
	case "exec":
		return NewExecSource(cfg, log)
	case "bus":
		if busClient == nil {
			return nil, errors.New("capture mode bus requires a bus connection")
		}
		return NewBusSource(busClient, log)
	case "portaudio":
		return newPortAudioSource(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported capture mode %q", cfg.Mode)
	}
}

func listenerFromConfig(cfg config.CaptureConfig) listenerConfig {
	return listenerConfig{
		sampleRate:      cfg.SampleRate,
		channels:        cfg.Channels,
		frameDuration:   time.Duration(cfg.FrameDurationMS) * time.Millisecond,
		pauseThreshold:  time.Duration(cfg.PauseThresholdMS) * time.Millisecond,
		energyThreshold: cfg.EnergyThreshold,
		calibration:     time.Duration(cfg.CalibrationMS) * time.Millisecond,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
