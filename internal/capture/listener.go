package capture

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
)

const (
	// frames kept before the speech onset so the first syllable is not clipped
	prerollFrames = 10
	// ambient RMS is scaled by this factor when calibrating
	ambientFactor = 1.5
)

// frameStream buffers fixed-size PCM frames from a device. When the consumer
// is not listening the oldest frames are dropped, so a capture never sees
// audio recorded while the gate was closed.
type frameStream struct {
	frames chan []byte
	mu     sync.Mutex
	err    error
	closed chan struct{}
	once   sync.Once
}

func newFrameStream(capacity int) *frameStream {
	return &frameStream{
		frames: make(chan []byte, capacity),
		closed: make(chan struct{}),
	}
}

// pump reads frames of frameBytes from r until it fails.
func (s *frameStream) pump(r io.Reader, frameBytes int) {
	for {
		frame := make([]byte, frameBytes)
		if _, err := io.ReadFull(r, frame); err != nil {
			s.fail(err)
			return
		}
		s.push(frame)
	}
}

func (s *frameStream) push(frame []byte) {
	for {
		select {
		case s.frames <- frame:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

func (s *frameStream) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.closed)
	})
}

func (s *frameStream) failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *frameStream) flush() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

func (s *frameStream) next(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		select {
		case frame := <-s.frames:
			return frame, nil
		default:
		}
		return nil, s.failed()
	}
}

type listenerConfig struct {
	sampleRate      int
	channels        int
	frameDuration   time.Duration
	pauseThreshold  time.Duration
	energyThreshold float64
	calibration     time.Duration
}

func (c listenerConfig) frameBytes() int {
	return audio.BytesFor(c.frameDuration, c.sampleRate, c.channels)
}

// listener segments a frame stream with an energy threshold.
type listener struct {
	cfg        listenerConfig
	threshold  float64
	calibrated bool
	clock      func() time.Time
}

func newListener(cfg listenerConfig) *listener {
	return &listener{cfg: cfg, threshold: cfg.energyThreshold, clock: time.Now}
}

// calibrate measures ambient noise once and raises the threshold above it.
func (l *listener) calibrate(ctx context.Context, fs *frameStream) error {
	if l.calibrated || l.cfg.calibration <= 0 {
		l.calibrated = true
		return nil
	}
	fs.flush()
	return l.measureAmbient(ctx, fs)
}

func (l *listener) measureAmbient(ctx context.Context, fs *frameStream) error {
	var (
		sum    float64
		frames int
	)
	for elapsed := time.Duration(0); elapsed < l.cfg.calibration; elapsed += l.cfg.frameDuration {
		frame, err := fs.next(ctx)
		if err != nil {
			return err
		}
		sum += audio.RMS(frame)
		frames++
	}
	if frames > 0 {
		ambient := sum / float64(frames)
		l.threshold = math.Max(l.cfg.energyThreshold, ambient*ambientFactor)
	}
	l.calibrated = true
	return nil
}

// listen waits up to timeout for speech to start and returns once a pause of
// pauseThreshold follows it or phraseLimit of speech has been captured.
// Durations are measured in audio time.
func (l *listener) listen(ctx context.Context, fs *frameStream, timeout, phraseLimit time.Duration) (Utterance, error) {
	if err := l.calibrate(ctx, fs); err != nil {
		return Utterance{}, l.wrap(ctx, err)
	}
	fs.flush()
	return l.segment(ctx, fs, timeout, phraseLimit)
}

// segment reads frames until an utterance is complete or the timeout passes
// without speech.
func (l *listener) segment(ctx context.Context, fs *frameStream, timeout, phraseLimit time.Duration) (Utterance, error) {
	var (
		preroll [][]byte
		buf     []byte
		waited  time.Duration
		phrase  time.Duration
		silence time.Duration
		started bool
		start   time.Time
	)
	for {
		frame, err := fs.next(ctx)
		if err != nil {
			return Utterance{}, l.wrap(ctx, err)
		}
		speech := audio.RMS(frame) >= l.threshold

		if !started {
			preroll = append(preroll, frame)
			if len(preroll) > prerollFrames {
				preroll = preroll[1:]
			}
			if speech {
				started = true
				start = l.clock().Add(-time.Duration(len(preroll)) * l.cfg.frameDuration)
				for _, f := range preroll {
					buf = append(buf, f...)
				}
				phrase = l.cfg.frameDuration
				continue
			}
			waited += l.cfg.frameDuration
			if waited >= timeout {
				return Utterance{}, nil
			}
			continue
		}

		buf = append(buf, frame...)
		phrase += l.cfg.frameDuration
		if speech {
			silence = 0
		} else {
			silence += l.cfg.frameDuration
		}
		if silence >= l.cfg.pauseThreshold || phrase >= phraseLimit {
			break
		}
	}
	return Utterance{
		PCM:        buf,
		SampleRate: l.cfg.sampleRate,
		Channels:   l.cfg.channels,
		StartedAt:  start,
		EndedAt:    l.clock(),
	}, nil
}

func (l *listener) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
