package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// googleTranslator uses the public gtx web endpoint. Its response is a nested
// JSON array whose first element lists translated segments.
type googleTranslator struct {
	endpoint string
	client   *http.Client
}

func NewGoogleTranslator(endpoint string) Translator {
	return &googleTranslator{endpoint: strings.TrimRight(endpoint, "/"), client: &http.Client{}}
}

func (g *googleTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	query := url.Values{}
	query.Set("client", "gtx")
	query.Set("sl", req.Source)
	query.Set("tl", req.Target)
	query.Set("dt", "t")
	query.Set("q", req.Text)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/translate_a/single?"+query.Encode(), nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("translate service returned status %s", resp.Status)
	}

	var payload []any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode translate response: %w", err)
	}
	text, err := joinSegments(payload)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text}, nil
}

func joinSegments(payload []any) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyTranslation
	}
	segments, ok := payload[0].([]any)
	if !ok {
		return "", fmt.Errorf("unexpected translate response shape")
	}
	var b strings.Builder
	for _, seg := range segments {
		parts, ok := seg.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if s, ok := parts[0].(string); ok {
			b.WriteString(s)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyTranslation
	}
	return text, nil
}
