package runtime

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// warmup exercises the translator once and pre-renders common phrases into
// the cache so the first cycles do not pay for cold backends. Failures are
// logged and never stop startup.
func warmup(ctx context.Context, cfg config.Config, c *components, log *slog.Logger) {
	if !cfg.Warmup.Enabled {
		return
	}
	log = log.With(slog.String("component", "warmup"))

	if probe := cfg.Warmup.ProbeText; probe != "" {
		res := c.translation.Translate(ctx, probe)
		log.Info("translator probe",
			slog.String("status", res.Status.String()),
			slog.String("text", res.Text),
			slog.Duration("elapsed", res.Elapsed))
	}

	cached := 0
	for _, phrase := range cfg.Warmup.Phrases {
		if ctx.Err() != nil {
			return
		}
		ok, err := c.speaker.Prerender(ctx, phrase, cfg.TTS.Voice)
		if err != nil {
			log.Warn("pre-render failed", slog.String("phrase", phrase), slog.String("error", err.Error()))
			continue
		}
		if ok {
			cached++
		}
	}
	log.Info("warm-up complete", slog.Int("cached", cached), slog.Int("cache_size", c.cache.Len()))
}
