//go:build !portaudio

package capture

import (
	"errors"
	"log/slog"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

var errNoPortAudio = errors.New("built without portaudio support (rebuild with -tags portaudio)")

func ListDevices() ([]Device, error) {
	return nil, errNoPortAudio
}

func newPortAudioSource(config.CaptureConfig, *slog.Logger) (Source, error) {
	return nil, errNoPortAudio
}
