package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/cache"
	"github.com/loqalabs/loqa-interpreter/internal/capture"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/gate"
	"github.com/loqalabs/loqa-interpreter/internal/journal"
	"github.com/loqalabs/loqa-interpreter/internal/natsserver"
	"github.com/loqalabs/loqa-interpreter/internal/pipeline"
	"github.com/loqalabs/loqa-interpreter/internal/playback"
	"github.com/loqalabs/loqa-interpreter/internal/speech"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
	"github.com/loqalabs/loqa-interpreter/internal/tts"
)

// components holds everything the pipeline needs, built once at startup.
type components struct {
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	journal     *journal.Journal
	cache       *cache.Cache
	gate        *gate.Gate
	lock        *gate.SpeakingLock
	source      capture.Source
	recognition pipeline.RecognitionStage
	translation pipeline.TranslationStage
	speaker     *speech.Speaker
	backends    []io.Closer
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// buildComponents wires backends from cfg. Any failure is fatal and wraps
// pipeline.ErrFatalInit; pieces already built are released.
func buildComponents(ctx context.Context, cfg config.Config, log *slog.Logger) (c *components, err error) {
	c = &components{gate: gate.New(), lock: gate.NewSpeakingLock()}
	defer func() {
		if err != nil {
			if cerr := c.close(); cerr != nil {
				log.Warn("cleanup after failed startup", slog.String("error", cerr.Error()))
			}
			c = nil
			err = fmt.Errorf("%w: %w", pipeline.ErrFatalInit, err)
		}
	}()

	if cfg.Bus.Enabled {
		if c.nats, err = natsserver.Start(cfg.Bus, log); err != nil {
			return c, err
		}
		busCfg := cfg.Bus
		if c.nats != nil && len(busCfg.Servers) == 0 {
			busCfg.Servers = []string{c.nats.ClientURL()}
		}
		if c.bus, err = bus.Connect(ctx, busCfg, log.With(slog.String("component", "bus"))); err != nil {
			return c, err
		}
	}

	if c.journal, err = journal.Open(ctx, cfg.Journal, log); err != nil {
		return c, fmt.Errorf("open journal: %w", err)
	}
	if c.cache, err = cache.New(cfg.Cache, log); err != nil {
		return c, err
	}
	if c.source, err = capture.New(cfg.Capture, c.bus, log); err != nil {
		return c, fmt.Errorf("capture source: %w", err)
	}

	recognizer, err := stt.New(ctx, cfg.STT, cfg.Cloud, log)
	if err != nil {
		return c, fmt.Errorf("recognizer: %w", err)
	}
	c.track(recognizer)
	c.recognition = pipeline.RecognitionStage{
		Backend:  recognizer,
		Timeout:  ms(cfg.STT.TimeoutMS),
		Language: cfg.STT.Language,
	}

	translator, err := translate.New(ctx, cfg.Translate, cfg.Cloud, log)
	if err != nil {
		return c, fmt.Errorf("translator: %w", err)
	}
	c.track(translator)
	c.translation = pipeline.TranslationStage{
		Backend: translator,
		Timeout: ms(cfg.Translate.TimeoutMS),
		Source:  cfg.Translate.Source,
		Target:  cfg.Translate.Target,
	}

	synth, err := tts.New(ctx, cfg.TTS, cfg.Cloud, log)
	if err != nil {
		return c, fmt.Errorf("synthesizer: %w", err)
	}
	c.track(synth)
	player, err := playback.New(cfg.Playback, log)
	if err != nil {
		return c, fmt.Errorf("player: %w", err)
	}
	c.speaker = speech.New(c.gate, c.lock, c.cache, synth, player, speech.Options{
		Voice:           cfg.TTS.Voice,
		Settle:          ms(cfg.Pipeline.SettleMS),
		SynthTimeout:    ms(cfg.TTS.TimeoutMS),
		PlaybackTimeout: ms(cfg.Playback.TimeoutMS),
	}, log)
	return c, nil
}

// track remembers backends that hold connections.
func (c *components) track(backend any) {
	if closer, ok := backend.(io.Closer); ok {
		c.backends = append(c.backends, closer)
	}
}

// close releases components in reverse order of construction. Cached audio
// is deleted.
func (c *components) close() error {
	var errs []error
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close capture: %w", err))
		}
	}
	for i := len(c.backends) - 1; i >= 0; i-- {
		if err := c.backends[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Purge(); err != nil {
			errs = append(errs, fmt.Errorf("purge cache: %w", err))
		}
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	c.bus.Close()
	c.nats.Shutdown()
	return errors.Join(errs...)
}
