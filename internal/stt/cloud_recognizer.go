package stt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	speechapi "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/gcloud"
)

// CloudRecognizer sends each utterance to Google Cloud Speech-to-Text as a
// single synchronous request.
type CloudRecognizer struct {
	client   *speechapi.Client
	language string
	log      *slog.Logger
}

func NewCloudRecognizer(ctx context.Context, cfg config.STTConfig, cloud config.CloudConfig, log *slog.Logger) (*CloudRecognizer, error) {
	client, err := speechapi.NewClient(ctx, gcloud.ClientOptions(cloud)...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &CloudRecognizer{
		client:   client,
		language: cfg.Language,
		log:      log.With(slog.String("component", "stt-gcloud")),
	}, nil
}

func (c *CloudRecognizer) Transcribe(ctx context.Context, req Request) (TranscriptResult, error) {
	language := req.Language
	if language == "" {
		language = c.language
	}
	resp, err := c.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig(req, language),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.PCM},
		},
	})
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("recognize: %w", err)
	}
	return bestAlternative(resp.GetResults())
}

func (c *CloudRecognizer) Close() error {
	return c.client.Close()
}

func recognitionConfig(req Request, language string) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Encoding:          speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:   int32(req.SampleRate),
		AudioChannelCount: int32(req.Channels),
		LanguageCode:      language,
		MaxAlternatives:   1,
	}
}

// bestAlternative picks the first non-empty top hypothesis.
func bestAlternative(results []*speechpb.SpeechRecognitionResult) (TranscriptResult, error) {
	for _, result := range results {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			return TranscriptResult{Text: text, Confidence: float64(alts[0].GetConfidence())}, nil
		}
	}
	return TranscriptResult{}, ErrNoSpeech
}
