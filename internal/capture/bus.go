package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusSource assembles utterances from audio frames published by remote
// microphones. A session's frames become one utterance when a final frame
// arrives.
type BusSource struct {
	log *slog.Logger
	sub *nats.Subscription

	mu       sync.Mutex
	sessions map[string]*pendingUtterance
	ready    chan Utterance
	closed   bool
}

type pendingUtterance struct {
	pcm        []byte
	sampleRate int
	channels   int
	started    time.Time
}

func NewBusSource(client *bus.Client, log *slog.Logger) (*BusSource, error) {
	s := &BusSource{
		log:      log,
		sessions: make(map[string]*pendingUtterance),
		ready:    make(chan Utterance, 4),
	}
	sub, err := bus.Subscribe(client, protocol.SubjectAudioFramePrefix+".>", func(_ string, frame protocol.AudioFrame) {
		s.handleFrame(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	log.Info("listening for audio frames", slog.String("subject", protocol.SubjectAudioFramePrefix+".>"))
	return s, nil
}

func (s *BusSource) handleFrame(frame protocol.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	p, ok := s.sessions[frame.SessionID]
	if !ok {
		p = &pendingUtterance{sampleRate: frame.SampleRate, channels: frame.Channels, started: time.Now()}
		s.sessions[frame.SessionID] = p
	}
	p.pcm = append(p.pcm, frame.PCM...)
	if !frame.Final {
		return
	}
	delete(s.sessions, frame.SessionID)
	if len(p.pcm) == 0 {
		return
	}
	u := Utterance{PCM: p.pcm, SampleRate: p.sampleRate, Channels: p.channels, StartedAt: p.started, EndedAt: time.Now()}
	select {
	case s.ready <- u:
	default:
		s.log.Warn("dropping utterance, capture not keeping up", slog.String("session_id", frame.SessionID))
	}
}

// Capture discards anything assembled before the call, then waits for the
// next utterance. Speech must begin within timeout; an utterance that has
// begun is given phraseLimit more to finish.
func (s *BusSource) Capture(ctx context.Context, timeout, phraseLimit time.Duration) (Utterance, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Utterance{}, errors.New("capture source closed")
	}
	clear(s.sessions)
	s.mu.Unlock()
	for drained := false; !drained; {
		select {
		case <-s.ready:
		default:
			drained = true
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	extended := false
	for {
		select {
		case <-ctx.Done():
			return Utterance{}, ctx.Err()
		case u := <-s.ready:
			return u, nil
		case <-timer.C:
			if !extended && s.speaking() {
				extended = true
				timer.Reset(phraseLimit)
				continue
			}
			return Utterance{}, nil
		}
	}
}

func (s *BusSource) speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions) > 0
}

func (s *BusSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.sub != nil {
		return s.sub.Unsubscribe()
	}
	return nil
}
