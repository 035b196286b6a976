package runtime

import (
	"fmt"
	"io"
	"sync"

	"github.com/loqalabs/loqa-interpreter/internal/pipeline"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

var stageLines = map[string]string{
	"capturing":   "Listening...",
	"recognizing": "Recognizing...",
	"translating": "Translating...",
	"speaking":    "Speaking...",
}

// consoleSink prints an operator status line per stage and the texts of
// each cycle. Repeated listening lines are collapsed.
func consoleSink(w io.Writer) pipeline.Sink {
	var (
		mu   sync.Mutex
		last string
	)
	say := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		if line == last && line == stageLines["capturing"] {
			return
		}
		last = line
		fmt.Fprintln(w, line)
	}
	return func(e pipeline.Event) {
		switch p := e.Payload.(type) {
		case protocol.StateEvent:
			if line, ok := stageLines[p.To]; ok {
				say(line)
			}
		case protocol.Transcript:
			say("Heard: " + p.Text)
		case protocol.Translation:
			say("Translation: " + p.Text)
		case protocol.CycleReport:
			if p.Outcome != pipeline.OutcomeSpoken && p.Outcome != pipeline.OutcomeNoSpeech {
				say(fmt.Sprintf("Cycle ended: %s", p.Outcome))
			}
		}
	}
}
