package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-interpreter/internal/gate"
)

type State int

const (
	StateIdle State = iota
	StateCapturing
	StateRecognizing
	StateTranslating
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateRecognizing:
		return "recognizing"
	case StateTranslating:
		return "translating"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// gateOpenIn reports whether the microphone gate must be open in s.
func gateOpenIn(s State) bool {
	return s == StateIdle || s == StateCapturing
}

// Gate reasons set by the machine.
const (
	ReasonRecognizing = "recognizing"
	ReasonAborted     = "aborted"
	ReasonRecovered   = "recovered"
)

var allowed = map[State][]State{
	StateIdle:        {StateCapturing},
	StateCapturing:   {StateIdle, StateRecognizing},
	StateRecognizing: {StateIdle, StateTranslating},
	StateTranslating: {StateIdle, StateSpeaking},
	StateSpeaking:    {StateIdle},
}

// Machine owns the pipeline state and keeps it consistent with the gate.
// Every state change is checked against the gate; mismatches are counted and
// logged.
type Machine struct {
	mu         sync.Mutex
	state      State
	gate       *gate.Gate
	onChange   func(from, to State)
	log        *slog.Logger
	violations atomic.Int64
}

func NewMachine(g *gate.Gate, log *slog.Logger, onChange func(from, to State)) *Machine {
	if onChange == nil {
		onChange = func(State, State) {}
	}
	return &Machine{gate: g, log: log, onChange: onChange}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Violations counts state changes that left the gate in the wrong position.
func (m *Machine) Violations() int64 { return m.violations.Load() }

// BeginCapture moves Idle to Capturing when the gate is open.
func (m *Machine) BeginCapture() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle || !m.gate.IsOpen() {
		return false
	}
	m.setLocked(StateCapturing)
	return true
}

// EndCapture returns to Idle after a capture that produced nothing.
func (m *Machine) EndCapture() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateCapturing {
		m.setLocked(StateIdle)
	}
}

// StartCycle closes the gate and enters Recognizing.
func (m *Machine) StartCycle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCapturing {
		return false
	}
	m.gate.Close(ReasonRecognizing)
	m.setLocked(StateRecognizing)
	return true
}

// Advance moves one step forward through the processing states.
func (m *Machine) Advance(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.allowedLocked(to) || to == StateIdle {
		return false
	}
	m.setLocked(to)
	return true
}

// Abort ends a cycle early: the gate is reopened, then the state returns to
// Idle.
func (m *Machine) Abort(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return
	}
	m.gate.Open(reason)
	m.setLocked(StateIdle)
}

// Finish returns to Idle, reopening the gate first if nothing else did.
func (m *Machine) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.gate.IsOpen() {
		m.gate.Open(ReasonRecovered)
	}
	if m.state != StateIdle {
		m.setLocked(StateIdle)
	}
}

func (m *Machine) allowedLocked(to State) bool {
	for _, s := range allowed[m.state] {
		if s == to {
			return true
		}
	}
	return false
}

func (m *Machine) setLocked(to State) {
	from := m.state
	if !m.allowedLocked(to) {
		m.log.Error("illegal state transition", slog.String("from", from.String()), slog.String("to", to.String()))
	}
	m.state = to
	if m.gate.IsOpen() != gateOpenIn(to) {
		m.violations.Add(1)
		m.log.Error("gate out of step with state", slog.String("state", to.String()), slog.Bool("gate_open", m.gate.IsOpen()))
	}
	m.onChange(from, to)
}
