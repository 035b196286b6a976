package tts

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-interpreter/internal/audio"
	"gopkg.in/yaml.v3"
)

// Sample is one recording in a custom voice bank.
type Sample struct {
	Path string `yaml:"path"`
	Text string `yaml:"text"`
}

type sampleManifest struct {
	Samples []Sample `yaml:"samples"`
}

// SampleBank speaks with prerecorded samples of the user's own voice. It
// plays the transcribed sample whose text length is nearest the request, or
// a random sample when none are transcribed.
type SampleBank struct {
	samples []Sample
	log     *slog.Logger
	pick    func(n int) int
}

// NewSampleBank loads a YAML manifest. Relative sample paths resolve against
// the manifest's directory.
func NewSampleBank(manifest string, log *slog.Logger) (*SampleBank, error) {
	bank := &SampleBank{log: log.With(slog.String("component", "tts-samples")), pick: rand.IntN}
	if manifest == "" {
		return bank, nil
	}
	data, err := os.ReadFile(manifest)
	if err != nil {
		return nil, fmt.Errorf("read sample manifest: %w", err)
	}
	var m sampleManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse sample manifest: %w", err)
	}
	base := filepath.Dir(manifest)
	for _, s := range m.Samples {
		if s.Path == "" {
			continue
		}
		if !filepath.IsAbs(s.Path) {
			s.Path = filepath.Join(base, s.Path)
		}
		bank.samples = append(bank.samples, s)
	}
	bank.log.Info("voice samples loaded", slog.Int("count", len(bank.samples)))
	return bank, nil
}

func NewSampleBankFrom(samples []Sample, log *slog.Logger) *SampleBank {
	return &SampleBank{samples: samples, log: log.With(slog.String("component", "tts-samples")), pick: rand.IntN}
}

func (b *SampleBank) Len() int { return len(b.samples) }

// Select returns the sample used for text.
func (b *SampleBank) Select(text string) (Sample, bool) {
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	want := utf8.RuneCountInString(strings.TrimSpace(text))
	best, bestDiff := -1, 0
	for i, s := range b.samples {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		diff := utf8.RuneCountInString(strings.TrimSpace(s.Text)) - want
		if diff < 0 {
			diff = -diff
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best < 0 {
		best = b.pick(len(b.samples))
	}
	return b.samples[best], true
}

func (b *SampleBank) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		sample, ok := b.Select(req.Text)
		if !ok {
			errs <- fmt.Errorf("%w: voice bank is empty", ErrUnavailable)
			return
		}
		clip, err := audio.ReadWAVFile(sample.Path)
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrUnavailable, err)
			return
		}
		if err := ctx.Err(); err != nil {
			errs <- err
			return
		}
		b.log.Debug("using voice sample", slog.String("path", sample.Path), slog.String("sample_text", sample.Text))
		chunks <- SynthChunk{SampleRate: clip.SampleRate, Channels: clip.Channels, PCM: clip.PCM, Final: true}
	}()
	return chunks, errs
}
