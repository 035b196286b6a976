//go:build portaudio

package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// ListDevices enumerates input devices known to PortAudio.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()
	return inputDevices()
}

func inputDevices() ([]Device, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()
	var devices []Device
	for i, info := range all {
		if info.MaxInputChannels <= 0 {
			continue
		}
		devices = append(devices, Device{
			Index:    i,
			Name:     info.Name,
			Channels: info.MaxInputChannels,
			Default:  def != nil && def.Name == info.Name,
		})
	}
	return devices, nil
}

type portAudioSource struct {
	cfg      config.CaptureConfig
	listener *listener
	log      *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	frames *frameStream
	closed bool
}

func newPortAudioSource(cfg config.CaptureConfig, log *slog.Logger) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &portAudioSource{
		cfg:      cfg,
		listener: newListener(listenerFromConfig(cfg)),
		log:      log,
	}, nil
}

func (s *portAudioSource) Capture(ctx context.Context, timeout, phraseLimit time.Duration) (Utterance, error) {
	frames, err := s.ensureStream()
	if err != nil {
		return Utterance{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return s.listener.listen(ctx, frames, timeout, phraseLimit)
}

func (s *portAudioSource) device() (*portaudio.DeviceInfo, error) {
	if s.cfg.Device != "" {
		devices, err := inputDevices()
		if err == nil {
			if i := matchDevice(devices, s.cfg.Device); i >= 0 {
				all, err := portaudio.Devices()
				if err == nil {
					return all[devices[i].Index], nil
				}
			}
		}
		s.log.Warn("configured input device not found, using default", slog.String("device", s.cfg.Device))
	}
	return portaudio.DefaultInputDevice()
}

func (s *portAudioSource) ensureStream() (*frameStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("capture source closed")
	}
	if s.frames != nil && s.frames.failed() == nil {
		return s.frames, nil
	}
	s.stopLocked()

	info, err := s.device()
	if err != nil {
		return nil, fmt.Errorf("input device: %w", err)
	}
	samplesPerFrame := s.cfg.SampleRate * s.cfg.FrameDurationMS / 1000 * s.cfg.Channels
	buffer := make([]int16, samplesPerFrame)
	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = s.cfg.Channels
	params.SampleRate = float64(s.cfg.SampleRate)
	params.FramesPerBuffer = samplesPerFrame / s.cfg.Channels

	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	frames := newFrameStream(streamCapacity)
	go func() {
		for {
			if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
				frames.fail(err)
				return
			}
			frame := make([]byte, len(buffer)*2)
			for i, v := range buffer {
				binary.LittleEndian.PutUint16(frame[i*2:], uint16(v))
			}
			frames.push(frame)
		}
	}()

	s.log.Info("microphone opened", slog.String("device", info.Name), slog.Int("sample_rate", s.cfg.SampleRate))
	s.stream, s.frames = stream, frames
	return frames, nil
}

func (s *portAudioSource) stopLocked() {
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.frames != nil {
		s.frames.fail(errors.New("stream stopped"))
	}
	s.stream, s.frames = nil, nil
}

func (s *portAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stopLocked()
	return portaudio.Terminate()
}
