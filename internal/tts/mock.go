package tts

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
)

// MockSynth renders a tone whose length follows the text, 40 ms per rune.
type MockSynth struct {
	sampleRate int
	channels   int

	mu    sync.Mutex
	texts []string
}

func NewMockSynth(sampleRate, channels int) *MockSynth {
	return &MockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *MockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	m.mu.Lock()
	m.texts = append(m.texts, req.Text)
	m.mu.Unlock()

	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(10 * time.Millisecond):
		}
		d := time.Duration(utf8.RuneCountInString(req.Text)) * 40 * time.Millisecond
		pcm := audio.Tone(m.sampleRate, 220, 4000, d)
		if m.channels > 1 {
			pcm = interleave(pcm, m.channels)
		}
		chunks <- SynthChunk{SampleRate: m.sampleRate, Channels: m.channels, PCM: pcm, Final: true}
	}()
	return chunks, errs
}

// Texts returns every text synthesized so far.
func (m *MockSynth) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

func interleave(mono []byte, channels int) []byte {
	out := make([]byte, 0, len(mono)*channels)
	for i := 0; i+1 < len(mono); i += 2 {
		for c := 0; c < channels; c++ {
			out = append(out, mono[i], mono[i+1])
		}
	}
	return out
}
