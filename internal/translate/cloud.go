package translate

import (
	"context"
	"fmt"
	"strings"

	gtranslate "cloud.google.com/go/translate"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/gcloud"
	"golang.org/x/text/language"
)

// CloudTranslator calls the Google Cloud Translation v2 API.
type CloudTranslator struct {
	client *gtranslate.Client
}

func NewCloudTranslator(ctx context.Context, cloud config.CloudConfig) (*CloudTranslator, error) {
	client, err := gtranslate.NewClient(ctx, gcloud.ClientOptions(cloud)...)
	if err != nil {
		return nil, fmt.Errorf("translate client: %w", err)
	}
	return &CloudTranslator{client: client}, nil
}

func (c *CloudTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	target, opts, err := cloudParams(req)
	if err != nil {
		return Result{}, err
	}
	translations, err := c.client.Translate(ctx, []string{req.Text}, target, opts)
	if err != nil {
		return Result{}, fmt.Errorf("translate: %w", err)
	}
	if len(translations) == 0 {
		return Result{}, ErrEmptyTranslation
	}
	text := strings.TrimSpace(translations[0].Text)
	if text == "" {
		return Result{}, ErrEmptyTranslation
	}
	return Result{Text: text}, nil
}

func (c *CloudTranslator) Close() error {
	return c.client.Close()
}

// cloudParams parses the language codes. An empty source lets the service
// detect it.
func cloudParams(req Request) (language.Tag, *gtranslate.Options, error) {
	target, err := language.Parse(req.Target)
	if err != nil {
		return language.Und, nil, fmt.Errorf("target language %q: %w", req.Target, err)
	}
	opts := &gtranslate.Options{Format: gtranslate.Text}
	if req.Source != "" {
		source, err := language.Parse(req.Source)
		if err != nil {
			return language.Und, nil, fmt.Errorf("source language %q: %w", req.Source, err)
		}
		opts.Source = source
	}
	return target, opts, nil
}
