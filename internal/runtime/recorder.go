package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/journal"
	"github.com/loqalabs/loqa-interpreter/internal/pipeline"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// cycleRecorder writes cycle reports to the journal off the pipeline's
// goroutines.
type cycleRecorder struct {
	journal *journal.Journal
	log     *slog.Logger
	reports chan protocol.CycleReport
	done    chan struct{}
}

func newCycleRecorder(j *journal.Journal, log *slog.Logger) *cycleRecorder {
	r := &cycleRecorder{
		journal: j,
		log:     log.With(slog.String("component", "journal")),
		reports: make(chan protocol.CycleReport, 64),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *cycleRecorder) run() {
	defer close(r.done)
	for report := range r.reports {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.journal.RecordCycle(ctx, report); err != nil {
			r.log.Warn("failed to record cycle", slog.String("cycle_id", report.CycleID), slog.String("error", err.Error()))
		}
		cancel()
	}
}

// Publish is a pipeline.Sink.
func (r *cycleRecorder) Publish(e pipeline.Event) {
	report, ok := e.Payload.(protocol.CycleReport)
	if !ok {
		return
	}
	select {
	case r.reports <- report:
	default:
		r.log.Warn("journal backlog full, dropping cycle", slog.String("cycle_id", report.CycleID))
	}
}

// Close flushes pending reports. No events may be published afterwards.
func (r *cycleRecorder) Close() {
	close(r.reports)
	<-r.done
}

func busSink(c *bus.Client, log *slog.Logger) pipeline.Sink {
	return func(e pipeline.Event) {
		if err := c.PublishJSON(e.Subject, e.Payload); err != nil {
			log.Debug("publish event failed", slog.String("subject", e.Subject), slog.String("error", err.Error()))
		}
	}
}
