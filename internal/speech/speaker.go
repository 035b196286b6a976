// Package speech renders translated text to audio and plays it while the
// microphone is gated.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
	"github.com/loqalabs/loqa-interpreter/internal/cache"
	"github.com/loqalabs/loqa-interpreter/internal/gate"
	"github.com/loqalabs/loqa-interpreter/internal/playback"
	"github.com/loqalabs/loqa-interpreter/internal/tts"
)

var (
	ErrSynthesis = errors.New("speech synthesis failed")
	ErrPlayback  = errors.New("speech playback failed")
)

// Gate reasons used by the speaker.
const (
	ReasonSpeaking = "speaking"
	ReasonSettled  = "settled"
)

type Options struct {
	Voice           string
	Settle          time.Duration
	SynthTimeout    time.Duration
	PlaybackTimeout time.Duration
}

// Result describes how a phrase was spoken.
type Result struct {
	CacheHit bool
	Cached   bool
	Audio    time.Duration
}

type Speaker struct {
	gate   *gate.Gate
	lock   *gate.SpeakingLock
	cache  *cache.Cache
	synth  tts.Synthesizer
	player playback.Player
	opts   Options
	log    *slog.Logger
	sleep  func(time.Duration)
}

func New(g *gate.Gate, lock *gate.SpeakingLock, c *cache.Cache, synth tts.Synthesizer, player playback.Player, opts Options, log *slog.Logger) *Speaker {
	return &Speaker{
		gate:   g,
		lock:   lock,
		cache:  c,
		synth:  synth,
		player: player,
		opts:   opts,
		log:    log.With(slog.String("component", "speaker")),
		sleep:  time.Sleep,
	}
}

// Speak plays text with the microphone closed. The gate stays closed for the
// settle interval after playback, even when ctx is cancelled, and is always
// reopened before the speaking lock is released.
func (s *Speaker) Speak(ctx context.Context, text, voice string) (Result, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return Result{}, err
	}
	s.gate.Close(ReasonSpeaking)
	defer func() {
		s.sleep(s.opts.Settle)
		s.gate.Open(ReasonSettled)
		s.lock.Release()
	}()

	if entry, ok := s.cache.Lookup(text); ok {
		s.log.Debug("cache hit", slog.String("text", text))
		if err := s.play(ctx, entry.Path); err != nil {
			return Result{CacheHit: true}, err
		}
		return Result{CacheHit: true}, nil
	}

	path, clip, err := s.render(ctx, text, voice)
	if err != nil {
		return Result{}, err
	}
	res := Result{Audio: clip.Duration()}
	if err := s.play(ctx, path); err != nil {
		s.cache.Discard(path)
		return res, err
	}
	if s.cache.Admit(text, path) {
		res.Cached = true
	} else {
		s.cache.Discard(path)
	}
	return res, nil
}

// Prerender synthesizes text into the cache without playing it. It reports
// whether a new entry was admitted.
func (s *Speaker) Prerender(ctx context.Context, text, voice string) (bool, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return false, err
	}
	defer s.lock.Release()

	if !s.cache.Admissible(text) {
		return false, nil
	}
	path, _, err := s.render(ctx, text, voice)
	if err != nil {
		return false, err
	}
	if !s.cache.Admit(text, path) {
		s.cache.Discard(path)
		return false, nil
	}
	return true, nil
}

func (s *Speaker) render(ctx context.Context, text, voice string) (string, audio.Clip, error) {
	if voice == "" {
		voice = s.opts.Voice
	}
	synthCtx, cancel := withTimeout(ctx, s.opts.SynthTimeout)
	defer cancel()
	clip, err := tts.Collect(synthCtx, s.synth, tts.SynthRequest{Text: text, Voice: voice})
	if err != nil {
		return "", audio.Clip{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	f, err := s.cache.TempFile("tts_*.wav")
	if err != nil {
		return "", audio.Clip{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	path := f.Name()
	werr := audio.WriteWAV(f, clip.PCM, clip.SampleRate, clip.Channels)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		s.cache.Discard(path)
		return "", audio.Clip{}, fmt.Errorf("%w: %w", ErrSynthesis, werr)
	}
	return path, clip, nil
}

func (s *Speaker) play(ctx context.Context, path string) error {
	playCtx, cancel := withTimeout(ctx, s.opts.PlaybackTimeout)
	defer cancel()
	if err := s.player.Play(playCtx, path); err != nil {
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
