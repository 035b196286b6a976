package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/capture"
	"github.com/loqalabs/loqa-interpreter/internal/gate"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
)

func TestMachineHappyPath(t *testing.T) {
	g := gate.New()
	var moves []string
	m := NewMachine(g, newLogger(), func(from, to State) { moves = append(moves, from.String()+">"+to.String()) })

	if !m.BeginCapture() {
		t.Fatal("expected capture to begin from idle")
	}
	if m.BeginCapture() {
		t.Fatal("capture must not begin twice")
	}
	if !m.StartCycle() || g.IsOpen() {
		t.Fatal("expected cycle start to close the gate")
	}
	if !m.Advance(StateTranslating) || !m.Advance(StateSpeaking) {
		t.Fatal("expected forward transitions")
	}
	g.Close("speaking")
	g.Open("settled")
	m.Finish()

	if m.State() != StateIdle || !g.IsOpen() {
		t.Fatalf("expected idle with gate open, got %s open=%v", m.State(), g.IsOpen())
	}
	want := []string{"idle>capturing", "capturing>recognizing", "recognizing>translating", "translating>speaking", "speaking>idle"}
	if len(moves) != len(want) {
		t.Fatalf("unexpected transitions %v", moves)
	}
	for i := range want {
		if moves[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, moves[i], want[i])
		}
	}
	if m.Violations() != 0 {
		t.Fatalf("expected no violations, got %d", m.Violations())
	}
}

func TestMachineRejectsSkippedStages(t *testing.T) {
	m := NewMachine(gate.New(), newLogger(), func(State, State) {})
	if m.Advance(StateSpeaking) {
		t.Fatal("idle cannot jump to speaking")
	}
	m.BeginCapture()
	m.StartCycle()
	if m.Advance(StateSpeaking) {
		t.Fatal("recognizing cannot skip translating")
	}
	if m.Advance(StateIdle) {
		t.Fatal("advance must not return to idle")
	}
}

func TestMachineAbortReopensGateFirst(t *testing.T) {
	g := gate.New()
	var openAtIdle bool
	m := NewMachine(g, newLogger(), func(_, to State) {
		if to == StateIdle {
			openAtIdle = g.IsOpen()
		}
	})
	m.BeginCapture()
	m.StartCycle()
	m.Abort(ReasonAborted)
	if !openAtIdle {
		t.Fatal("gate must be open by the time state reaches idle")
	}
	m.Abort(ReasonAborted)
	if m.Violations() != 0 {
		t.Fatalf("expected no violations, got %d", m.Violations())
	}
}

func TestMachineFinishRecoversClosedGate(t *testing.T) {
	g := gate.New()
	var reasons []string
	g.Observe(func(tr gate.Transition) { reasons = append(reasons, tr.Reason) })
	m := NewMachine(g, newLogger(), func(State, State) {})
	m.BeginCapture()
	m.StartCycle()
	m.Advance(StateTranslating)
	m.Finish()
	if !g.IsOpen() || m.State() != StateIdle {
		t.Fatal("finish must leave the machine idle with the gate open")
	}
	if len(reasons) != 2 || reasons[1] != ReasonRecovered {
		t.Fatalf("unexpected gate reasons %v", reasons)
	}
}

func TestMachineCountsViolations(t *testing.T) {
	g := gate.New()
	m := NewMachine(g, newLogger(), func(State, State) {})
	g.Close("external")
	if m.BeginCapture() {
		t.Fatal("capture must not begin with the gate closed")
	}
	g.Open("external")
	m.BeginCapture()
	g.Close("external")
	m.EndCapture()
	if m.Violations() != 1 {
		t.Fatalf("expected one violation, got %d", m.Violations())
	}
}

func TestCallWithTimeoutReturnsAtDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	_, err := callWithTimeout(context.Background(), 20*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected prompt return, took %v", elapsed)
	}
}

func TestCallWithTimeoutParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := callWithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCallWithTimeoutPassesResult(t *testing.T) {
	v, err := callWithTimeout(context.Background(), time.Second, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("unexpected result %q %v", v, err)
	}
}

type countingRecognizer struct {
	calls atomic.Int32
	text  string
	err   error
}

func (r *countingRecognizer) Transcribe(context.Context, stt.Request) (stt.TranscriptResult, error) {
	r.calls.Add(1)
	return stt.TranscriptResult{Text: r.text}, r.err
}

func TestRecognitionStageStatuses(t *testing.T) {
	utt := capture.Utterance{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
	cases := []struct {
		name string
		rec  *countingRecognizer
		want Status
	}{
		{"text", &countingRecognizer{text: "  নমস্কার "}, StatusOK},
		{"blank", &countingRecognizer{text: "   "}, StatusNoSpeech},
		{"no speech", &countingRecognizer{err: stt.ErrNoSpeech}, StatusNoSpeech},
		{"backend error", &countingRecognizer{err: errors.New("503")}, StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := RecognitionStage{Backend: tc.rec, Timeout: time.Second, Language: "bn-BD"}.Recognize(context.Background(), utt)
			if res.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, res.Status)
			}
			if res.Status == StatusOK && res.Text != "নমস্কার" {
				t.Fatalf("expected trimmed text, got %q", res.Text)
			}
			if res.Status == StatusFailed && !errors.Is(res.Err, ErrRecognition) {
				t.Fatalf("expected ErrRecognition, got %v", res.Err)
			}
		})
	}
}

func TestTranslationStageStatuses(t *testing.T) {
	stage := TranslationStage{Backend: translate.NewMockTranslator(), Timeout: time.Second, Source: "bn", Target: "en"}
	if res := stage.Translate(context.Background(), "আমি ভালো আছি"); res.Status != StatusOK || res.Text != "I am fine" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res := stage.Translate(context.Background(), " "); res.Status != StatusFailed || !errors.Is(res.Err, ErrTranslation) {
		t.Fatalf("expected failure on empty input, got %+v", res)
	}

	slow := TranslationStage{Backend: &translate.MockTranslator{Delay: time.Second}, Timeout: 20 * time.Millisecond}
	if res := slow.Translate(context.Background(), "ধন্যবাদ"); res.Status != StatusTimedOut || !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("expected timeout, got %+v", res)
	}
}
