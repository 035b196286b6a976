package pipeline

import (
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// Event is something observers of the pipeline may want to relay. Payload
// is one of the protocol message types and Subject is its bus subject.
type Event struct {
	Subject string
	Payload any
	At      time.Time
}

// Sink receives pipeline events. It is called synchronously from the
// pipeline, sometimes while internal locks are held, so it must not block
// or call back into the controller.
type Sink func(Event)

// Fanout delivers each event to every sink in order.
func Fanout(sinks ...Sink) Sink {
	return func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s(e)
			}
		}
	}
}

func gateEvent(runID string, open, wasOpen bool, reason string, at time.Time) Event {
	return Event{
		Subject: protocol.SubjectGate,
		Payload: protocol.GateEvent{RunID: runID, Open: open, WasOpen: wasOpen, Reason: reason, Timestamp: at},
		At:      at,
	}
}

func stateEvent(runID string, from, to State, at time.Time) Event {
	return Event{
		Subject: protocol.SubjectState,
		Payload: protocol.StateEvent{RunID: runID, From: from.String(), To: to.String(), Timestamp: at},
		At:      at,
	}
}
