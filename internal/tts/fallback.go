package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// fallbackSynth tries primary first and switches to secondary when primary
// reports ErrUnavailable before producing any audio.
type fallbackSynth struct {
	primary   Synthesizer
	secondary Synthesizer
	log       *slog.Logger
}

func NewFallback(primary, secondary Synthesizer, log *slog.Logger) Synthesizer {
	return &fallbackSynth{primary: primary, secondary: secondary, log: log.With(slog.String("component", "tts"))}
}

// Close closes whichever of the wrapped synthesizers hold resources.
func (f *fallbackSynth) Close() error {
	var errs []error
	for _, s := range []Synthesizer{f.primary, f.secondary} {
		if closer, ok := s.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

func (f *fallbackSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	out := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		produced, err := forward(ctx, f.primary, req, out)
		if err == nil {
			return
		}
		if produced || !errors.Is(err, ErrUnavailable) {
			errs <- err
			return
		}
		f.log.Info("primary synthesizer unavailable, using fallback", slog.String("error", err.Error()))
		if _, err := forward(ctx, f.secondary, req, out); err != nil {
			errs <- err
		}
	}()
	return out, errs
}

func forward(ctx context.Context, s Synthesizer, req SynthRequest, out chan<- SynthChunk) (bool, error) {
	chunks, errs := s.Synthesize(ctx, req)
	produced := false
	for chunk := range chunks {
		select {
		case out <- chunk:
			produced = true
		case <-ctx.Done():
			go drain(chunks)
			return produced, ctx.Err()
		}
	}
	return produced, <-errs
}
