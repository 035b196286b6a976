package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/loqalabs/loqa-interpreter/internal/audio"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/gcloud"
)

// CloudSynth asks Google Cloud Text-to-Speech for LINEAR16 audio. The
// service wraps it in a WAV header, which is stripped before playback.
type CloudSynth struct {
	client     *texttospeech.Client
	sampleRate int
}

func NewCloudSynth(ctx context.Context, cfg config.TTSConfig, cloud config.CloudConfig) (*CloudSynth, error) {
	client, err := texttospeech.NewClient(ctx, gcloud.ClientOptions(cloud)...)
	if err != nil {
		return nil, fmt.Errorf("texttospeech client: %w", err)
	}
	return &CloudSynth{client: client, sampleRate: cfg.SampleRate}, nil
}

func (c *CloudSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		resp, err := c.client.SynthesizeSpeech(ctx, synthesisRequest(req, c.sampleRate))
		if err != nil {
			errs <- fmt.Errorf("synthesize speech: %w", err)
			return
		}
		clip, err := decodeLinear16(resp.GetAudioContent(), c.sampleRate)
		if err != nil {
			errs <- err
			return
		}
		chunks <- SynthChunk{SampleRate: clip.SampleRate, Channels: clip.Channels, PCM: clip.PCM, Final: true}
	}()
	return chunks, errs
}

func (c *CloudSynth) Close() error {
	return c.client.Close()
}

func synthesisRequest(req SynthRequest, sampleRate int) *texttospeechpb.SynthesizeSpeechRequest {
	lang := req.Voice
	if lang == "" {
		lang = "en-US"
	}
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: lang,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: int32(sampleRate),
		},
	}
}

// decodeLinear16 accepts either a WAV container or bare mono PCM16LE.
func decodeLinear16(content []byte, sampleRate int) (audio.Clip, error) {
	if len(content) == 0 {
		return audio.Clip{}, errors.New("texttospeech returned no audio")
	}
	if bytes.HasPrefix(content, []byte("RIFF")) {
		clip, err := audio.ReadWAV(bytes.NewReader(content))
		if err != nil {
			return audio.Clip{}, fmt.Errorf("decode speech audio: %w", err)
		}
		return clip, nil
	}
	return audio.Clip{PCM: content[:len(content)&^1], SampleRate: sampleRate, Channels: 1}, nil
}
