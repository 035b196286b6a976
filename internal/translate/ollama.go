package translate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type ollamaTranslator struct {
	endpoint string
	model    string
	log      *slog.Logger
}

// NewOllamaTranslator prompts a local model through the streaming
// /api/generate endpoint.
func NewOllamaTranslator(endpoint, model string, log *slog.Logger) Translator {
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaTranslator{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		log:      log.With(slog.String("component", "translate-ollama")),
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaStreamResponse struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count,omitempty"`
}

func (o *ollamaTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	system := fmt.Sprintf("You are an interpreter. Translate %s into %s. Reply with the translation only, no quotes or notes.",
		languageName(req.Source), languageName(req.Target))
	payload := ollamaRequest{
		Model:   o.model,
		System:  system,
		Prompt:  req.Text,
		Stream:  true,
		Options: ollamaOptions{Temperature: 0},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var (
		accumulated strings.Builder
		tokens      int
	)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Result{}, err
		}
		accumulated.WriteString(chunk.Response)
		if chunk.EvalCount > 0 {
			tokens = chunk.EvalCount
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, err
	}

	text := strings.Trim(strings.TrimSpace(accumulated.String()), `"`)
	if text == "" {
		return Result{}, ErrEmptyTranslation
	}
	o.log.Debug("translation generated", slog.Int("tokens", tokens), slog.Duration("latency", time.Since(start)))
	return Result{Text: text}, nil
}
