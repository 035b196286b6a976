package protocol

import "time"

// AudioFrame carries PCM audio streamed from a remote microphone.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// GateEvent reports a microphone gate transition.
type GateEvent struct {
	RunID     string    `json:"run_id"`
	Open      bool      `json:"open"`
	WasOpen   bool      `json:"was_open"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// StateEvent reports a pipeline state change.
type StateEvent struct {
	RunID     string    `json:"run_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is the recognized source-language text of one cycle.
type Transcript struct {
	RunID     string    `json:"run_id"`
	CycleID   string    `json:"cycle_id"`
	Language  string    `json:"language"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Translation is the target-language text of one cycle.
type Translation struct {
	RunID     string    `json:"run_id"`
	CycleID   string    `json:"cycle_id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// CycleReport summarizes a finished interpretation cycle.
type CycleReport struct {
	RunID       string    `json:"run_id"`
	CycleID     string    `json:"cycle_id"`
	Outcome     string    `json:"outcome"`
	Transcript  string    `json:"transcript,omitempty"`
	Translation string    `json:"translation,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	Cached      bool      `json:"cached"`
	Error       string    `json:"error,omitempty"`
	UtteranceMS int64     `json:"utterance_ms"`
	RecognizeMS int64     `json:"recognize_ms"`
	TranslateMS int64     `json:"translate_ms"`
	SpeakMS     int64     `json:"speak_ms"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectGate             = "interpreter.gate"
	SubjectState            = "interpreter.state"
	SubjectTranscript       = "interpreter.transcript"
	SubjectTranslation      = "interpreter.translation"
	SubjectCycle            = "interpreter.cycle"
)
