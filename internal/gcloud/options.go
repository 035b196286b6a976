// Package gcloud builds the client options shared by the Google Cloud
// speech, translation and text-to-speech backends.
package gcloud

import (
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"google.golang.org/api/option"
)

func ClientOptions(cfg config.CloudConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}
