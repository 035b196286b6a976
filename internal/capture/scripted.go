package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
)

// ScriptItem is one canned capture result. A zero item is silence.
type ScriptItem struct {
	Utterance Utterance
	Err       error
}

// LoadScript turns configured entries into script items. An entry is a WAV
// path, "silence", or "error" for a simulated device failure.
func LoadScript(entries []string, sampleRate int) ([]ScriptItem, error) {
	items := make([]ScriptItem, 0, len(entries))
	for _, entry := range entries {
		switch strings.TrimSpace(entry) {
		case "", "silence":
			items = append(items, ScriptItem{})
		case "error":
			items = append(items, ScriptItem{Err: fmt.Errorf("%w: scripted device error", ErrTransient)})
		default:
			clip, err := audio.ReadWAVFile(entry)
			if err != nil {
				return nil, fmt.Errorf("load capture script %s: %w", entry, err)
			}
			if clip.SampleRate != sampleRate {
				return nil, fmt.Errorf("capture script %s: sample rate %d does not match %d", entry, clip.SampleRate, sampleRate)
			}
			items = append(items, ScriptItem{Utterance: Utterance{PCM: clip.PCM, SampleRate: clip.SampleRate, Channels: clip.Channels}})
		}
	}
	return items, nil
}

// ScriptedSource replays a fixed sequence of captures. Once the script is
// exhausted every capture times out with no speech.
type ScriptedSource struct {
	mu        sync.Mutex
	items     []ScriptItem
	next      int
	captures  int
	exhausted chan struct{}
	closed    bool
}

func NewScriptedSource(items []ScriptItem) *ScriptedSource {
	s := &ScriptedSource{items: items, exhausted: make(chan struct{})}
	if len(items) == 0 {
		close(s.exhausted)
	}
	return s
}

func (s *ScriptedSource) Capture(ctx context.Context, timeout, phraseLimit time.Duration) (Utterance, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Utterance{}, errors.New("capture source closed")
	}
	s.captures++
	var (
		item ScriptItem
		ok   bool
	)
	if s.next < len(s.items) {
		item, ok = s.items[s.next], true
		s.next++
		if s.next == len(s.items) {
			close(s.exhausted)
		}
	}
	s.mu.Unlock()

	if ok && item.Err != nil {
		return Utterance{}, item.Err
	}
	if !ok || item.Utterance.IsEmpty() {
		if err := sleepCtx(ctx, timeout); err != nil {
			return Utterance{}, err
		}
		return Utterance{}, nil
	}

	u := item.Utterance
	if limit := audio.BytesFor(phraseLimit, u.SampleRate, u.Channels); limit > 0 && len(u.PCM) > limit {
		u.PCM = u.PCM[:limit]
	}
	now := time.Now()
	u.StartedAt = now.Add(-u.Duration())
	u.EndedAt = now
	return u, ctx.Err()
}

// Exhausted is closed once every scripted item has been handed out.
func (s *ScriptedSource) Exhausted() <-chan struct{} {
	return s.exhausted
}

func (s *ScriptedSource) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
