package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/capture"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
)

// Status is the outcome of one stage call.
type Status int

const (
	StatusOK Status = iota
	StatusNoSpeech
	StatusTimedOut
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoSpeech:
		return "no_speech"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

type RecognitionResult struct {
	Status     Status
	Text       string
	Confidence float64
	Err        error
	Elapsed    time.Duration
}

type TranslationResult struct {
	Status  Status
	Text    string
	Err     error
	Elapsed time.Duration
}

// RecognitionStage bounds a recognizer with a deadline.
type RecognitionStage struct {
	Backend  stt.Recognizer
	Timeout  time.Duration
	Language string
}

func (s RecognitionStage) Recognize(ctx context.Context, utt capture.Utterance) RecognitionResult {
	start := time.Now()
	req := stt.Request{PCM: utt.PCM, SampleRate: utt.SampleRate, Channels: utt.Channels, Language: s.Language}
	res, err := callWithTimeout(ctx, s.Timeout, func(ctx context.Context) (stt.TranscriptResult, error) {
		return s.Backend.Transcribe(ctx, req)
	})
	out := RecognitionResult{Elapsed: time.Since(start)}
	switch {
	case errors.Is(err, ErrTimeout):
		out.Status, out.Err = StatusTimedOut, fmt.Errorf("%w: %w", ErrRecognition, err)
	case errors.Is(err, stt.ErrNoSpeech):
		out.Status = StatusNoSpeech
	case err != nil:
		out.Status, out.Err = StatusFailed, fmt.Errorf("%w: %w", ErrRecognition, err)
	case strings.TrimSpace(res.Text) == "":
		out.Status = StatusNoSpeech
	default:
		out.Status, out.Text, out.Confidence = StatusOK, strings.TrimSpace(res.Text), res.Confidence
	}
	return out
}

// TranslationStage bounds a translator with a deadline.
type TranslationStage struct {
	Backend translate.Translator
	Timeout time.Duration
	Source  string
	Target  string
}

func (s TranslationStage) Translate(ctx context.Context, text string) TranslationResult {
	start := time.Now()
	req := translate.Request{Text: text, Source: s.Source, Target: s.Target}
	res, err := callWithTimeout(ctx, s.Timeout, func(ctx context.Context) (translate.Result, error) {
		return s.Backend.Translate(ctx, req)
	})
	out := TranslationResult{Elapsed: time.Since(start)}
	switch {
	case errors.Is(err, ErrTimeout):
		out.Status, out.Err = StatusTimedOut, fmt.Errorf("%w: %w", ErrTranslation, err)
	case err != nil:
		out.Status, out.Err = StatusFailed, fmt.Errorf("%w: %w", ErrTranslation, err)
	case strings.TrimSpace(res.Text) == "":
		out.Status, out.Err = StatusFailed, fmt.Errorf("%w: %w", ErrTranslation, translate.ErrEmptyTranslation)
	default:
		out.Status, out.Text = StatusOK, strings.TrimSpace(res.Text)
	}
	return out
}

// callWithTimeout runs fn under a deadline and returns as soon as the
// deadline passes, even if fn ignores its context. A late result is dropped.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return r.value, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
