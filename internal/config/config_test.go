package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Cache.MaxEntries != 50 || cfg.Cache.MaxTextLength != 100 {
		t.Fatalf("unexpected cache bounds: %+v", cfg.Cache)
	}
	if cfg.STT.TimeoutMS != 8000 || cfg.Translate.TimeoutMS != 5000 {
		t.Fatalf("unexpected stage timeouts: stt=%d translate=%d", cfg.STT.TimeoutMS, cfg.Translate.TimeoutMS)
	}
	if cfg.Pipeline.SettleMS != 500 {
		t.Fatalf("expected 500ms settle, got %d", cfg.Pipeline.SettleMS)
	}
	if cfg.STT.Language != "bn-BD" {
		t.Fatalf("expected bn-BD, got %s", cfg.STT.Language)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interpreter.yaml")
	data := []byte(`
translate:
  mode: ollama
  endpoint: http://localhost:11434
  model: qwen2.5:7b
pipeline:
  workers: 2
  settle_ms: 250
capture:
  script:
    - one.wav
    - ""
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Translate.Mode != "ollama" || cfg.Translate.Model != "qwen2.5:7b" {
		t.Fatalf("unexpected translate config: %+v", cfg.Translate)
	}
	if cfg.Pipeline.Workers != 2 || cfg.Pipeline.SettleMS != 250 {
		t.Fatalf("unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if len(cfg.Capture.Script) != 2 || cfg.Capture.Script[1] != "" {
		t.Fatalf("unexpected script: %v", cfg.Capture.Script)
	}
	if cfg.Translate.Source != "bn" {
		t.Fatalf("expected defaults to survive partial file, got %q", cfg.Translate.Source)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_JOURNAL_PATH", "./tmp.db")
	t.Setenv("LOQA_JOURNAL_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_JOURNAL_MAX_RUNS", "12")
	t.Setenv("LOQA_CAPTURE_SCRIPT", "a.wav, b.wav")
	t.Setenv("LOQA_CAPTURE_ENERGY_THRESHOLD", "2500.5")
	t.Setenv("LOQA_STT_TIMEOUT_MS", "9000")
	t.Setenv("LOQA_TRANSLATE_TARGET", "fr")
	t.Setenv("LOQA_CACHE_MAX_ENTRIES", "10")
	t.Setenv("LOQA_PIPELINE_WORKERS", "5")
	t.Setenv("LOQA_WARMUP_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Bus.Enabled {
		t.Fatal("expected bus enabled override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Journal.Path != "./tmp.db" || cfg.Journal.RetentionMode != "persistent" || cfg.Journal.MaxRuns != 12 {
		t.Fatalf("expected journal overrides, got %+v", cfg.Journal)
	}
	if len(cfg.Capture.Script) != 2 || cfg.Capture.Script[1] != "b.wav" {
		t.Fatalf("expected script override, got %v", cfg.Capture.Script)
	}
	if cfg.Capture.EnergyThreshold != 2500.5 {
		t.Fatalf("expected energy threshold override, got %v", cfg.Capture.EnergyThreshold)
	}
	if cfg.STT.TimeoutMS != 9000 {
		t.Fatalf("expected stt timeout override")
	}
	if cfg.Translate.Target != "fr" {
		t.Fatalf("expected target override")
	}
	if cfg.Cache.MaxEntries != 10 {
		t.Fatalf("expected cache override")
	}
	if cfg.Pipeline.Workers != 5 {
		t.Fatalf("expected workers override")
	}
	if cfg.Warmup.Enabled {
		t.Fatalf("expected warmup disabled")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"exec stt without command", func(c *Config) { c.STT.Mode = "exec" }},
		{"google stt without key", func(c *Config) { c.STT.Mode = "google" }},
		{"unknown translate mode", func(c *Config) { c.Translate.Mode = "deepl" }},
		{"samples tts without manifest", func(c *Config) { c.TTS.Mode = "samples" }},
		{"samples fallback", func(c *Config) { c.TTS.FallbackMode = "samples" }},
		{"bus capture without bus", func(c *Config) { c.Capture.Mode = "bus" }},
		{"stereo capture", func(c *Config) { c.Capture.Channels = 2 }},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"negative settle", func(c *Config) { c.Pipeline.SettleMS = -1 }},
		{"bad retention", func(c *Config) { c.Journal.RetentionMode = "forever" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestGoogleCloudModes(t *testing.T) {
	t.Setenv("LOQA_STT_MODE", "gcloud")
	t.Setenv("LOQA_TRANSLATE_MODE", "gcloud")
	t.Setenv("LOQA_TTS_MODE", "gcloud")
	t.Setenv("LOQA_CLOUD_CREDENTIALS_FILE", "/etc/loqa/service-account.json")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.STT.Mode != "gcloud" || cfg.Translate.Mode != "gcloud" || cfg.TTS.Mode != "gcloud" {
		t.Fatalf("unexpected modes stt=%s translate=%s tts=%s", cfg.STT.Mode, cfg.Translate.Mode, cfg.TTS.Mode)
	}
	if cfg.Cloud.CredentialsFile != "/etc/loqa/service-account.json" {
		t.Fatalf("unexpected credentials file %q", cfg.Cloud.CredentialsFile)
	}
}
