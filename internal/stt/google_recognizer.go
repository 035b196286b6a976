package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// googleRecognizer posts raw L16 audio to the Google web speech endpoint.
// The response is a stream of JSON objects, usually an empty result followed
// by the final hypotheses.
type googleRecognizer struct {
	endpoint string
	apiKey   string
	language string
	client   *http.Client
	log      *slog.Logger
}

type googleResponse struct {
	Result []struct {
		Alternative []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternative"`
		Final bool `json:"final"`
	} `json:"result"`
}

func NewGoogleRecognizer(cfg config.STTConfig, log *slog.Logger) Recognizer {
	return &googleRecognizer{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		client:   &http.Client{},
		log:      log.With(slog.String("component", "stt-google")),
	}
}

func (g *googleRecognizer) Transcribe(ctx context.Context, req Request) (TranscriptResult, error) {
	if req.Channels != 1 {
		return TranscriptResult{}, fmt.Errorf("google recognizer needs mono audio, got %d channels", req.Channels)
	}
	language := req.Language
	if language == "" {
		language = g.language
	}
	query := url.Values{}
	query.Set("client", "chromium")
	query.Set("lang", language)
	query.Set("key", g.apiKey)
	query.Set("output", "json")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"?"+query.Encode(), bytes.NewReader(toBigEndian(req.PCM)))
	if err != nil {
		return TranscriptResult{}, err
	}
	httpReq.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d", req.SampleRate))

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return TranscriptResult{}, fmt.Errorf("speech service returned status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return parseGoogleResponse(resp.Body)
}

func parseGoogleResponse(r io.Reader) (TranscriptResult, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var payload googleResponse
		if err := json.Unmarshal(line, &payload); err != nil {
			return TranscriptResult{}, fmt.Errorf("decode speech response: %w", err)
		}
		for _, result := range payload.Result {
			if len(result.Alternative) == 0 {
				continue
			}
			// the best hypothesis is the one carrying a confidence, else the first
			best := result.Alternative[0]
			for _, alt := range result.Alternative {
				if alt.Confidence > 0 {
					best = alt
					break
				}
			}
			if text := strings.TrimSpace(best.Transcript); text != "" {
				return TranscriptResult{Text: text, Confidence: best.Confidence}, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{}, ErrNoSpeech
}

// toBigEndian swaps 16-bit little-endian PCM into network byte order as L16
// requires.
func toBigEndian(pcm []byte) []byte {
	out := make([]byte, len(pcm)&^1)
	for i := 0; i+1 < len(pcm); i += 2 {
		out[i], out[i+1] = pcm[i+1], pcm[i]
	}
	return out
}
