package translate

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Phrasebook holds the mock translations, keyed by exact source text.
var Phrasebook = map[string]string{
	"আমি ভালো আছি":     "I am fine",
	"ধন্যবাদ":          "Thank you",
	"আপনি কেমন আছেন":   "How are you",
	"শুভ সকাল":         "Good morning",
	"আমি বুঝতে পারিনি": "I didn't understand that",
	"আবার বলবেন":       "Could you repeat that?",
	"hello":            "hello",
}

// MockTranslator looks text up in Phrasebook and passes unknown text through
// unchanged.
type MockTranslator struct {
	Delay time.Duration

	mu    sync.Mutex
	calls int
}

func NewMockTranslator() *MockTranslator { return &MockTranslator{} }

func (m *MockTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, ErrEmptyTranslation
	}
	if out, ok := Phrasebook[text]; ok {
		return Result{Text: out}, nil
	}
	return Result{Text: text}, nil
}

func (m *MockTranslator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
