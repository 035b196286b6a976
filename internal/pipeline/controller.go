// Package pipeline runs the listen, recognize, translate, speak loop and keeps
// the microphone gated while the interpreter is busy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interpreter/internal/capture"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/gate"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/loqalabs/loqa-interpreter/internal/speech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Cycle outcomes reported in CycleReport.Outcome.
const (
	OutcomeSpoken             = "spoken"
	OutcomeNoSpeech           = "no_speech"
	OutcomeRecognitionFailed  = "recognition_failed"
	OutcomeRecognitionTimeout = "recognition_timeout"
	OutcomeTranslationFailed  = "translation_failed"
	OutcomeTranslationTimeout = "translation_timeout"
	OutcomeSpeechFailed       = "speech_failed"
	OutcomeCancelled          = "cancelled"
	OutcomePanic              = "panic"
)

// Speaker is the speech output stage.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) (speech.Result, error)
}

type Options struct {
	Workers       int
	QueueSize     int
	ListenTimeout time.Duration
	PhraseLimit   time.Duration
	PollInterval  time.Duration
	RetryPause    time.Duration
	Voice         string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Workers:       cfg.Pipeline.Workers,
		QueueSize:     cfg.Pipeline.QueueSize,
		ListenTimeout: time.Duration(cfg.Capture.ListenTimeoutMS) * time.Millisecond,
		PhraseLimit:   time.Duration(cfg.Capture.PhraseLimitMS) * time.Millisecond,
		PollInterval:  time.Duration(cfg.Capture.PollIntervalMS) * time.Millisecond,
		RetryPause:    time.Duration(cfg.Capture.RetryPauseMS) * time.Millisecond,
		Voice:         cfg.TTS.Voice,
	}
}

type Deps struct {
	Gate        *gate.Gate
	Source      capture.Source
	Recognition RecognitionStage
	Translation TranslationStage
	Speaker     Speaker
}

// Stats summarizes a run for status reporting.
type Stats struct {
	RunID      string                `json:"run_id"`
	State      string                `json:"state"`
	GateOpen   bool                  `json:"gate_open"`
	Cycles     int                   `json:"cycles"`
	Outcomes   map[string]int        `json:"outcomes"`
	Violations int64                 `json:"violations"`
	LastCycle  *protocol.CycleReport `json:"last_cycle,omitempty"`
}

type cycleJob struct {
	id        string
	utterance capture.Utterance
	queuedAt  time.Time
}

// Controller owns one capture goroutine and a pool of cycle workers. At most
// one cycle is in flight: a new capture only begins once the machine is back
// in Idle with the gate open.
type Controller struct {
	opts    Options
	deps    Deps
	machine *Machine
	metrics *instruments
	sink    Sink
	log     *slog.Logger
	runID   string

	ctx     context.Context
	cancel  context.CancelFunc
	jobs    chan cycleJob
	capWG   sync.WaitGroup
	workWG  sync.WaitGroup
	started bool
	closed  bool
	mu      sync.Mutex

	statsMu  sync.Mutex
	cycles   int
	outcomes map[string]int
	last     *protocol.CycleReport
}

func NewController(parent context.Context, opts Options, deps Deps, sink Sink, log *slog.Logger) (*Controller, error) {
	if deps.Gate == nil || deps.Source == nil || deps.Speaker == nil || deps.Recognition.Backend == nil || deps.Translation.Backend == nil {
		return nil, fmt.Errorf("%w: pipeline dependencies incomplete", ErrFatalInit)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if sink == nil {
		sink = func(Event) {}
	}
	metrics, err := newInstruments(deps.Gate)
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline metrics: %w", ErrFatalInit, err)
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		opts:     opts,
		deps:     deps,
		metrics:  metrics,
		sink:     sink,
		log:      log.With(slog.String("component", "pipeline")),
		runID:    uuid.NewString(),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(chan cycleJob, opts.QueueSize),
		outcomes: make(map[string]int),
	}
	c.machine = NewMachine(deps.Gate, c.log, func(from, to State) {
		c.sink(stateEvent(c.runID, from, to, time.Now().UTC()))
	})
	deps.Gate.Observe(func(t gate.Transition) {
		c.sink(gateEvent(c.runID, t.Open, t.WasOpen, t.Reason, t.At.UTC()))
	})
	return c, nil
}

func (c *Controller) RunID() string { return c.runID }

func (c *Controller) Machine() *Machine { return c.machine }

// Start launches the capture loop and the worker pool.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("pipeline already started")
	}
	c.started = true
	for i := 0; i < c.opts.Workers; i++ {
		c.workWG.Add(1)
		go c.worker()
	}
	c.capWG.Add(1)
	go c.captureLoop()
	c.log.Info("pipeline started", slog.String("run_id", c.runID), slog.Int("workers", c.opts.Workers))
	return nil
}

// Close stops capturing, cancels in-flight cycles, drops queued ones and waits
// for every goroutine to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if !started {
		return
	}
	c.capWG.Wait()
	c.workWG.Wait()
	c.log.Info("pipeline stopped", slog.String("run_id", c.runID))
}

func (c *Controller) Healthy() bool {
	return c.ctx.Err() == nil
}

func (c *Controller) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	outcomes := make(map[string]int, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}
	return Stats{
		RunID:      c.runID,
		State:      c.machine.State().String(),
		GateOpen:   c.deps.Gate.IsOpen(),
		Cycles:     c.cycles,
		Outcomes:   outcomes,
		Violations: c.machine.Violations(),
		LastCycle:  c.last,
	}
}

func (c *Controller) captureLoop() {
	defer c.capWG.Done()
	defer close(c.jobs)

	for c.ctx.Err() == nil {
		if !c.machine.BeginCapture() {
			if err := sleepCtx(c.ctx, c.opts.PollInterval); err != nil {
				return
			}
			continue
		}

		utt, err := c.deps.Source.Capture(c.ctx, c.opts.ListenTimeout, c.opts.PhraseLimit)
		if err != nil {
			c.machine.EndCapture()
			if c.ctx.Err() != nil {
				return
			}
			c.metrics.captureErrors.Add(c.ctx, 1)
			if errors.Is(err, capture.ErrTransient) {
				c.log.Warn("capture failed, retrying", slogError(err))
			} else {
				c.log.Error("capture failed", slogError(err))
			}
			if err := sleepCtx(c.ctx, c.opts.RetryPause); err != nil {
				return
			}
			continue
		}
		if utt.IsEmpty() {
			c.machine.EndCapture()
			continue
		}

		if !c.machine.StartCycle() {
			c.machine.EndCapture()
			continue
		}
		job := cycleJob{id: uuid.NewString(), utterance: utt, queuedAt: time.Now()}
		select {
		case c.jobs <- job:
		case <-c.ctx.Done():
			c.machine.Abort(ReasonAborted)
			return
		}
	}
}

func (c *Controller) worker() {
	defer c.workWG.Done()
	for job := range c.jobs {
		if c.ctx.Err() != nil {
			c.machine.Abort(ReasonAborted)
			c.finishReport(c.ctx, protocol.CycleReport{
				RunID:       c.runID,
				CycleID:     job.id,
				Outcome:     OutcomeCancelled,
				StartedAt:   job.queuedAt.UTC(),
				UtteranceMS: job.utterance.Duration().Milliseconds(),
			})
			continue
		}
		c.runCycle(job)
	}
}

func (c *Controller) runCycle(job cycleJob) {
	ctx, span := c.metrics.tracer.Start(c.ctx, "interpreter.cycle",
		trace.WithAttributes(
			attribute.String("run.id", c.runID),
			attribute.String("cycle.id", job.id),
		))
	report := protocol.CycleReport{
		RunID:       c.runID,
		CycleID:     job.id,
		StartedAt:   job.queuedAt.UTC(),
		UtteranceMS: job.utterance.Duration().Milliseconds(),
	}
	log := c.log.With(slog.String("cycle_id", job.id))

	defer func() {
		if r := recover(); r != nil {
			log.Error("cycle panicked", slog.Any("panic", r))
			report.Outcome = OutcomePanic
			report.Error = fmt.Sprint(r)
		}
		c.machine.Finish()
		span.SetAttributes(attribute.String("cycle.outcome", report.Outcome))
		if report.Error != "" {
			span.SetStatus(codes.Error, report.Error)
		}
		span.End()
		c.finishReport(ctx, report)
	}()

	rec := c.recognize(ctx, job.utterance)
	report.RecognizeMS = rec.Elapsed.Milliseconds()
	switch rec.Status {
	case StatusOK:
	case StatusNoSpeech:
		log.Debug("no speech recognized")
		report.Outcome = OutcomeNoSpeech
		c.machine.Abort(ReasonAborted)
		return
	default:
		report.Outcome, report.Error = c.stageFailure(rec.Status, OutcomeRecognitionTimeout, OutcomeRecognitionFailed, rec.Err)
		log.Warn("recognition failed", slog.String("status", rec.Status.String()), slogError(rec.Err))
		c.machine.Abort(ReasonAborted)
		return
	}
	report.Transcript = rec.Text
	c.emit(protocol.SubjectTranscript, protocol.Transcript{
		RunID: c.runID, CycleID: job.id, Language: c.deps.Recognition.Language, Text: rec.Text, Timestamp: time.Now().UTC(),
	})
	log.Info("recognized", slog.String("text", rec.Text))

	c.machine.Advance(StateTranslating)
	tr := c.translate(ctx, rec.Text)
	report.TranslateMS = tr.Elapsed.Milliseconds()
	if tr.Status != StatusOK {
		report.Outcome, report.Error = c.stageFailure(tr.Status, OutcomeTranslationTimeout, OutcomeTranslationFailed, tr.Err)
		log.Warn("translation failed", slog.String("status", tr.Status.String()), slogError(tr.Err))
		c.machine.Abort(ReasonAborted)
		return
	}
	report.Translation = tr.Text
	c.emit(protocol.SubjectTranslation, protocol.Translation{
		RunID: c.runID, CycleID: job.id, Source: c.deps.Translation.Source, Target: c.deps.Translation.Target, Text: tr.Text, Timestamp: time.Now().UTC(),
	})
	log.Info("translated", slog.String("text", tr.Text))

	c.machine.Advance(StateSpeaking)
	spoken, elapsed, err := c.speak(ctx, tr.Text)
	report.SpeakMS = elapsed.Milliseconds()
	report.CacheHit, report.Cached = spoken.CacheHit, spoken.Cached
	if err != nil {
		report.Outcome, report.Error = OutcomeSpeechFailed, err.Error()
		if ctx.Err() != nil {
			report.Outcome = OutcomeCancelled
		}
		log.Warn("speech output failed", slogError(err))
		return
	}
	report.Outcome = OutcomeSpoken
}

func (c *Controller) stageFailure(status Status, timeoutOutcome, failedOutcome string, err error) (string, string) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if c.ctx.Err() != nil {
		return OutcomeCancelled, msg
	}
	if status == StatusTimedOut {
		return timeoutOutcome, msg
	}
	return failedOutcome, msg
}

func (c *Controller) recognize(ctx context.Context, utt capture.Utterance) RecognitionResult {
	ctx, span := c.metrics.tracer.Start(ctx, "interpreter.recognize")
	defer span.End()
	res := c.deps.Recognition.Recognize(ctx, utt)
	span.SetAttributes(attribute.String("status", res.Status.String()))
	c.metrics.recordStage(ctx, "recognize", res.Elapsed.Seconds(), res.Status)
	return res
}

func (c *Controller) translate(ctx context.Context, text string) TranslationResult {
	ctx, span := c.metrics.tracer.Start(ctx, "interpreter.translate")
	defer span.End()
	res := c.deps.Translation.Translate(ctx, text)
	span.SetAttributes(attribute.String("status", res.Status.String()))
	c.metrics.recordStage(ctx, "translate", res.Elapsed.Seconds(), res.Status)
	return res
}

func (c *Controller) speak(ctx context.Context, text string) (speech.Result, time.Duration, error) {
	ctx, span := c.metrics.tracer.Start(ctx, "interpreter.speak")
	defer span.End()
	start := time.Now()
	res, err := c.deps.Speaker.Speak(ctx, text, c.opts.Voice)
	elapsed := time.Since(start)
	status := StatusOK
	if err != nil {
		status = StatusFailed
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("cache.hit", res.CacheHit))
	c.metrics.recordStage(ctx, "speak", elapsed.Seconds(), status)
	c.metrics.recordCache(ctx, res.CacheHit)
	return res, elapsed, err
}

func (c *Controller) emit(subject string, payload any) {
	c.sink(Event{Subject: subject, Payload: payload, At: time.Now().UTC()})
}

func (c *Controller) finishReport(ctx context.Context, report protocol.CycleReport) {
	report.CompletedAt = time.Now().UTC()
	c.metrics.recordCycle(context.WithoutCancel(ctx), report.Outcome)

	c.statsMu.Lock()
	c.cycles++
	c.outcomes[report.Outcome]++
	last := report
	c.last = &last
	c.statsMu.Unlock()

	c.emit(protocol.SubjectCycle, report)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
