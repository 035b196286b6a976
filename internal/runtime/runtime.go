// Package runtime assembles the interpreter from configuration and runs it
// until the context is cancelled.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/journal"
	"github.com/loqalabs/loqa-interpreter/internal/pipeline"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	console     io.Writer
	httpServer  *http.Server
	tracerClose func(context.Context) error
	metrics     http.Handler
	ready       atomic.Bool
	wg          sync.WaitGroup

	comps    *components
	hub      *Hub
	recorder *cycleRecorder
	ctrl     *pipeline.Controller
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		console: os.Stderr,
	}
}

// Start runs the interpreter and blocks until ctx is done. Initialization
// failures wrap pipeline.ErrFatalInit.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metrics, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("%w: failed to setup telemetry: %w", pipeline.ErrFatalInit, err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metrics

	if err := r.init(ctx); err != nil {
		_ = r.shutdown()
		return err
	}

	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = &http.Server{
			Addr:              addr,
			Handler:           r.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()
		r.logger.Info("http server listening", slog.String("addr", addr))
	}

	if err := r.ctrl.Start(); err != nil {
		_ = r.shutdown()
		return err
	}
	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("run_id", r.ctrl.RunID()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return r.shutdown()
}

// init builds components, warms them up and prepares the controller.
func (r *Runtime) init(ctx context.Context) error {
	comps, err := buildComponents(ctx, r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.comps = comps
	r.hub = NewHub(r.logger)
	r.recorder = newCycleRecorder(comps.journal, r.logger)

	warmup(ctx, r.cfg, comps, r.logger)

	sinks := []pipeline.Sink{r.hub.Publish, r.recorder.Publish}
	if comps.bus != nil {
		sinks = append(sinks, busSink(comps.bus, r.logger))
	}
	if r.cfg.Pipeline.ConsoleStatus {
		sinks = append(sinks, consoleSink(r.console))
	}

	ctrl, err := pipeline.NewController(ctx, pipeline.OptionsFromConfig(r.cfg), pipeline.Deps{
		Gate:        comps.gate,
		Source:      comps.source,
		Recognition: comps.recognition,
		Translation: comps.translation,
		Speaker:     comps.speaker,
	}, pipeline.Fanout(sinks...), r.logger)
	if err != nil {
		return err
	}
	r.ctrl = ctrl

	if err := comps.journal.BeginRun(ctx, journal.Run{
		ID:            ctrl.RunID(),
		STTMode:       r.cfg.STT.Mode,
		TranslateMode: r.cfg.Translate.Mode,
		TTSMode:       r.cfg.TTS.Mode,
	}); err != nil {
		r.logger.Warn("failed to record run start", slog.String("error", err.Error()))
	}
	return nil
}

// shutdown stops the pipeline first so no more events reach the sinks,
// then releases everything else.
func (r *Runtime) shutdown() error {
	r.ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if r.ctrl != nil {
		r.ctrl.Close()
	}
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		r.wg.Wait()
	}
	if r.hub != nil {
		r.hub.Close()
	}
	if r.recorder != nil {
		r.recorder.Close()
	}
	if r.comps != nil {
		if r.ctrl != nil {
			if err := r.comps.journal.EndRun(shutdownCtx, r.ctrl.RunID()); err != nil {
				errs = append(errs, err)
			}
		}
		if err := r.comps.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Error("shutdown finished with errors", slog.String("error", err.Error()))
		return err
	}
	r.logger.Info("runtime stopped")
	return nil
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/status", r.handleStatus)
	mux.HandleFunc("/runs", r.handleRuns)
	if r.hub != nil {
		mux.Handle("/ws/events", r.hub)
	}
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() || r.ctrl == nil || !r.ctrl.Healthy() {
		return false
	}
	return r.comps.bus == nil || r.comps.bus.Healthy()
}

type statusResponse struct {
	Ready        bool           `json:"ready"`
	Pipeline     pipeline.Stats `json:"pipeline"`
	CacheEntries int            `json:"cache_entries"`
	Speaking     bool           `json:"speaking"`
	Subscribers  int            `json:"subscribers"`
	BusConnected bool           `json:"bus_connected"`
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if r.ctrl == nil {
		http.Error(w, "not started", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, statusResponse{
		Ready:        r.isReady(),
		Pipeline:     r.ctrl.Stats(),
		CacheEntries: r.comps.cache.Len(),
		Speaking:     r.comps.lock.Held(),
		Subscribers:  r.hub.Subscribers(),
		BusConnected: r.comps.bus.Healthy(),
	})
}

func (r *Runtime) handleRuns(w http.ResponseWriter, req *http.Request) {
	if r.comps == nil {
		http.Error(w, "not started", http.StatusServiceUnavailable)
		return
	}
	runs, err := r.comps.journal.Runs(req.Context(), 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	writeJSON(w, runs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
