// Package translate converts recognized text between languages.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// ErrEmptyTranslation is returned when a backend answers with no text.
var ErrEmptyTranslation = errors.New("empty translation")

// Request is one text to translate. Languages are ISO 639-1 codes.
type Request struct {
	Text   string
	Source string
	Target string
}

type Result struct {
	Text string
}

// Translator abstracts translation backends.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// New builds the translator selected by cfg.Mode.
func New(ctx context.Context, cfg config.TranslateConfig, cloud config.CloudConfig, log *slog.Logger) (Translator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockTranslator(), nil
	case "exec":
		return NewExecTranslator(cfg.Command)
	case "google":
		return NewGoogleTranslator(cfg.Endpoint), nil
	case "gcloud":
		return NewCloudTranslator(ctx, cloud)
	case "ollama":
		return NewOllamaTranslator(cfg.Endpoint, cfg.Model, log), nil
	default:
		return nil, fmt.Errorf("unsupported translate mode %q", cfg.Mode)
	}
}

var languageNames = map[string]string{
	"bn": "Bengali",
	"en": "English",
	"hi": "Hindi",
	"ur": "Urdu",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"ar": "Arabic",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
