package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/hajimehoshi/go-mp3"
)

const (
	gttsChunkBytes = 16 * 1024
	gttsMaxChars   = 100 // translate_tts rejects longer inputs
)

// gttsSynth fetches MP3 speech from a translate_tts style endpoint and
// decodes it to 16-bit stereo PCM. Long text is fetched in parts and the
// decoded audio is joined.
type gttsSynth struct {
	endpoint string
	client   *http.Client
}

func NewGTTSSynth(endpoint string) Synthesizer {
	return &gttsSynth{endpoint: endpoint, client: &http.Client{}}
}

func (g *gttsSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := g.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (g *gttsSynth) run(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk) error {
	lang := req.Voice
	if lang == "" {
		lang = "en"
	}
	parts := splitText(req.Text, gttsMaxChars)
	if len(parts) == 0 {
		return errors.New("tts: empty text")
	}
	sequence := 0
	for i, part := range parts {
		if err := g.fetch(ctx, part, lang, i == len(parts)-1, &sequence, chunks); err != nil {
			return err
		}
	}
	return nil
}

// fetch renders one part. Only the last part's closing chunk is marked final.
func (g *gttsSynth) fetch(ctx context.Context, text, lang string, last bool, sequence *int, chunks chan<- SynthChunk) error {
	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("client", "tw-ob")
	query.Set("tl", lang)
	query.Set("q", text)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("tts service returned status %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "audio") {
		return fmt.Errorf("tts service returned %s", ct)
	}

	dec, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}
	buf := make([]byte, gttsChunkBytes)
	for {
		n, err := io.ReadFull(dec, buf)
		done := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !done {
			return fmt.Errorf("decode mp3: %w", err)
		}
		final := done && last
		if n > 0 || final {
			chunk := SynthChunk{
				Sequence:   *sequence,
				SampleRate: dec.SampleRate(),
				Channels:   2,
				PCM:        append([]byte(nil), buf[:n]...),
				Final:      final,
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
			*sequence++
		}
		if done {
			return nil
		}
	}
}

// splitText breaks text into parts of at most limit characters, preferring
// to cut after punctuation, then at whitespace.
func splitText(text string, limit int) []string {
	var parts []string
	rest := strings.TrimSpace(text)
	for rest != "" {
		runes := []rune(rest)
		if len(runes) <= limit {
			parts = append(parts, rest)
			break
		}
		cut := breakPoint(runes[:limit])
		if part := strings.TrimSpace(string(runes[:cut])); part != "" {
			parts = append(parts, part)
		}
		rest = strings.TrimSpace(string(runes[cut:]))
	}
	return parts
}

func breakPoint(runes []rune) int {
	for i := len(runes) - 1; i > 0; i-- {
		if strings.ContainsRune(".!?;:,।", runes[i]) {
			return i + 1
		}
	}
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return len(runes)
}
