package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel          string  `yaml:"log_level"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	OTLPProtocol      string  `yaml:"otlp_protocol"` // grpc, http
	OTLPInsecure      bool    `yaml:"otlp_insecure"`
	OTLPMetrics       bool    `yaml:"otlp_metrics"`
	MetricsIntervalMS int     `yaml:"metrics_interval_ms"`
	SampleRatio       float64 `yaml:"sample_ratio"`
	StdoutTraces      bool    `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Journal     JournalConfig   `yaml:"journal"`
	Capture     CaptureConfig   `yaml:"capture"`
	STT         STTConfig       `yaml:"stt"`
	Translate   TranslateConfig `yaml:"translate"`
	TTS         TTSConfig       `yaml:"tts"`
	Playback    PlaybackConfig  `yaml:"playback"`
	Cache       CacheConfig     `yaml:"cache"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Warmup      WarmupConfig    `yaml:"warmup"`
	Cloud       CloudConfig     `yaml:"cloud"`
}

// CloudConfig is shared by the gcloud backends. An empty credentials file
// falls back to application default credentials.
type CloudConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CaptureConfig struct {
	Mode             string   `yaml:"mode"` // mock, exec, bus, portaudio
	Command          string   `yaml:"command"`
	Device           string   `yaml:"device"`
	SampleRate       int      `yaml:"sample_rate"`
	Channels         int      `yaml:"channels"`
	FrameDurationMS  int      `yaml:"frame_duration_ms"`
	ListenTimeoutMS  int      `yaml:"listen_timeout_ms"`
	PhraseLimitMS    int      `yaml:"phrase_limit_ms"`
	PauseThresholdMS int      `yaml:"pause_threshold_ms"`
	EnergyThreshold  float64  `yaml:"energy_threshold"`
	CalibrationMS    int      `yaml:"calibration_ms"`
	PollIntervalMS   int      `yaml:"poll_interval_ms"`
	RetryPauseMS     int      `yaml:"retry_pause_ms"`
	Script           []string `yaml:"script"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, google, gcloud
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TranslateConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, google, gcloud, ollama
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode            string `yaml:"mode"` // mock, exec, gtts, gcloud, samples
	FallbackMode    string `yaml:"fallback_mode"`
	Command         string `yaml:"command"`
	Endpoint        string `yaml:"endpoint"`
	Voice           string `yaml:"voice"`
	SamplesManifest string `yaml:"samples_manifest"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

type PlaybackConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type CacheConfig struct {
	Dir           string `yaml:"dir"`
	MaxEntries    int    `yaml:"max_entries"`
	MaxTextLength int    `yaml:"max_text_length"`
}

type PipelineConfig struct {
	Workers       int  `yaml:"workers"`
	QueueSize     int  `yaml:"queue_size"`
	SettleMS      int  `yaml:"settle_ms"`
	ConsoleStatus bool `yaml:"console_status"`
}

type WarmupConfig struct {
	Enabled   bool     `yaml:"enabled"`
	ProbeText string   `yaml:"probe_text"`
	Phrases   []string `yaml:"phrases"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-interpreter",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:          "info",
			OTLPEndpoint:      "",
			OTLPProtocol:      "grpc",
			OTLPInsecure:      true,
			MetricsIntervalMS: 15000,
			SampleRatio:       1,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Journal: JournalConfig{
			Path:          "./data/interpreter.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		Capture: CaptureConfig{
			Mode:             "mock",
			Command:          "arecord -q -t raw -f S16_LE -r 16000 -c 1",
			SampleRate:       16000,
			Channels:         1,
			FrameDurationMS:  20,
			ListenTimeoutMS:  1000,
			PhraseLimitMS:    4000,
			PauseThresholdMS: 300,
			EnergyThreshold:  1000,
			CalibrationMS:    1000,
			PollIntervalMS:   100,
			RetryPauseMS:     1000,
		},
		STT: STTConfig{
			Mode:      "mock",
			Endpoint:  "https://www.google.com/speech-api/v2/recognize",
			Language:  "bn-BD",
			TimeoutMS: 8000,
		},
		Translate: TranslateConfig{
			Mode:      "mock",
			Endpoint:  "https://translate.googleapis.com",
			Model:     "llama3.2:latest",
			Source:    "bn",
			Target:    "en",
			TimeoutMS: 5000,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Endpoint:   "https://translate.google.com/translate_tts",
			Voice:      "en",
			SampleRate: 22050,
			Channels:   1,
			TimeoutMS:  10000,
		},
		Playback: PlaybackConfig{
			Mode:      "mock",
			Command:   "aplay -q",
			TimeoutMS: 60000,
		},
		Cache: CacheConfig{
			MaxEntries:    50,
			MaxTextLength: 100,
		},
		Pipeline: PipelineConfig{
			Workers:       3,
			QueueSize:     4,
			SettleMS:      500,
			ConsoleStatus: true,
		},
		Warmup: WarmupConfig{
			Enabled:   true,
			ProbeText: "hello",
			Phrases: []string{
				"I didn't understand that",
				"Could you repeat that?",
				"Thank you",
				"How can I help you?",
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideString(&cfg.Telemetry.OTLPProtocol, "LOQA_TELEMETRY_OTLP_PROTOCOL")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.OTLPMetrics, "LOQA_TELEMETRY_OTLP_METRICS")
	overrideFloat(&cfg.Telemetry.SampleRatio, "LOQA_TELEMETRY_SAMPLE_RATIO")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Journal.Path, "LOQA_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "LOQA_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "LOQA_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxRuns, "LOQA_JOURNAL_MAX_RUNS")
	overrideBool(&cfg.Journal.VacuumOnStart, "LOQA_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.Capture.Mode, "LOQA_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "LOQA_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.Device, "LOQA_CAPTURE_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "LOQA_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.ListenTimeoutMS, "LOQA_CAPTURE_LISTEN_TIMEOUT_MS")
	overrideInt(&cfg.Capture.PhraseLimitMS, "LOQA_CAPTURE_PHRASE_LIMIT_MS")
	overrideInt(&cfg.Capture.PauseThresholdMS, "LOQA_CAPTURE_PAUSE_THRESHOLD_MS")
	overrideFloat(&cfg.Capture.EnergyThreshold, "LOQA_CAPTURE_ENERGY_THRESHOLD")
	overrideInt(&cfg.Capture.CalibrationMS, "LOQA_CAPTURE_CALIBRATION_MS")
	overrideStringSlice(&cfg.Capture.Script, "LOQA_CAPTURE_SCRIPT")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideString(&cfg.Translate.Mode, "LOQA_TRANSLATE_MODE")
	overrideString(&cfg.Translate.Command, "LOQA_TRANSLATE_COMMAND")
	overrideString(&cfg.Translate.Endpoint, "LOQA_TRANSLATE_ENDPOINT")
	overrideString(&cfg.Translate.Model, "LOQA_TRANSLATE_MODEL")
	overrideString(&cfg.Translate.Source, "LOQA_TRANSLATE_SOURCE")
	overrideString(&cfg.Translate.Target, "LOQA_TRANSLATE_TARGET")
	overrideInt(&cfg.Translate.TimeoutMS, "LOQA_TRANSLATE_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.FallbackMode, "LOQA_TTS_FALLBACK_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "LOQA_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideString(&cfg.TTS.SamplesManifest, "LOQA_TTS_SAMPLES_MANIFEST")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "LOQA_TTS_TIMEOUT_MS")
	overrideString(&cfg.Playback.Mode, "LOQA_PLAYBACK_MODE")
	overrideString(&cfg.Playback.Command, "LOQA_PLAYBACK_COMMAND")
	overrideInt(&cfg.Playback.TimeoutMS, "LOQA_PLAYBACK_TIMEOUT_MS")
	overrideString(&cfg.Cache.Dir, "LOQA_CACHE_DIR")
	overrideInt(&cfg.Cache.MaxEntries, "LOQA_CACHE_MAX_ENTRIES")
	overrideInt(&cfg.Cache.MaxTextLength, "LOQA_CACHE_MAX_TEXT_LENGTH")
	overrideInt(&cfg.Pipeline.Workers, "LOQA_PIPELINE_WORKERS")
	overrideInt(&cfg.Pipeline.QueueSize, "LOQA_PIPELINE_QUEUE_SIZE")
	overrideInt(&cfg.Pipeline.SettleMS, "LOQA_PIPELINE_SETTLE_MS")
	overrideBool(&cfg.Pipeline.ConsoleStatus, "LOQA_PIPELINE_CONSOLE_STATUS")
	overrideBool(&cfg.Warmup.Enabled, "LOQA_WARMUP_ENABLED")
	overrideString(&cfg.Cloud.CredentialsFile, "LOQA_CLOUD_CREDENTIALS_FILE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	switch cfg.Telemetry.OTLPProtocol {
	case "", "grpc", "http":
	default:
		return errors.New("telemetry.otlp_protocol must be one of grpc|http")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be between 0 and 1")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty")
		}
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if err := validateCapture(cfg.Capture, cfg.Bus); err != nil {
		return err
	}
	switch cfg.STT.Mode {
	case "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "google":
		if cfg.STT.Endpoint == "" || cfg.STT.APIKey == "" {
			return errors.New("stt.endpoint and stt.api_key must be set when mode=google")
		}
	case "gcloud":
	default:
		return errors.New("stt.mode must be one of mock|exec|google|gcloud")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	switch cfg.Translate.Mode {
	case "mock":
	case "exec":
		if cfg.Translate.Command == "" {
			return errors.New("translate.command must be set when mode=exec")
		}
	case "google", "ollama":
		if cfg.Translate.Endpoint == "" {
			return fmt.Errorf("translate.endpoint must be set when mode=%s", cfg.Translate.Mode)
		}
	case "gcloud":
	default:
		return errors.New("translate.mode must be one of mock|exec|google|gcloud|ollama")
	}
	if cfg.Translate.Source == "" || cfg.Translate.Target == "" {
		return errors.New("translate.source and translate.target must not be empty")
	}
	if cfg.Translate.TimeoutMS <= 0 {
		return errors.New("translate.timeout_ms must be positive")
	}
	if err := validateTTSMode(cfg.TTS, cfg.TTS.Mode, "tts.mode"); err != nil {
		return err
	}
	if cfg.TTS.FallbackMode != "" {
		if cfg.TTS.FallbackMode == "samples" {
			return errors.New("tts.fallback_mode must not be samples")
		}
		if err := validateTTSMode(cfg.TTS, cfg.TTS.FallbackMode, "tts.fallback_mode"); err != nil {
			return err
		}
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.TimeoutMS <= 0 {
		return errors.New("tts.timeout_ms must be positive")
	}
	switch cfg.Playback.Mode {
	case "mock":
	case "exec":
		if cfg.Playback.Command == "" {
			return errors.New("playback.command must be set when mode=exec")
		}
	default:
		return errors.New("playback.mode must be one of mock|exec")
	}
	if cfg.Cache.MaxEntries < 0 {
		return errors.New("cache.max_entries must be >= 0")
	}
	if cfg.Cache.MaxTextLength < 0 {
		return errors.New("cache.max_text_length must be >= 0")
	}
	if cfg.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be >= 1")
	}
	if cfg.Pipeline.QueueSize <= 0 {
		return errors.New("pipeline.queue_size must be >= 1")
	}
	if cfg.Pipeline.SettleMS < 0 {
		return errors.New("pipeline.settle_ms must be >= 0")
	}
	return nil
}

func validateCapture(cfg CaptureConfig, bus BusConfig) error {
	switch cfg.Mode {
	case "mock", "portaudio":
	case "exec":
		if cfg.Command == "" {
			return errors.New("capture.command must be set when mode=exec")
		}
	case "bus":
		if !bus.Enabled {
			return errors.New("capture.mode=bus requires bus.enabled")
		}
	default:
		return errors.New("capture.mode must be one of mock|exec|bus|portaudio")
	}
	if cfg.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Channels != 1 {
		return errors.New("capture.channels must be 1")
	}
	if cfg.FrameDurationMS <= 0 {
		return errors.New("capture.frame_duration_ms must be positive")
	}
	if cfg.ListenTimeoutMS <= 0 || cfg.PhraseLimitMS <= 0 {
		return errors.New("capture.listen_timeout_ms and capture.phrase_limit_ms must be positive")
	}
	if cfg.PauseThresholdMS < cfg.FrameDurationMS {
		return errors.New("capture.pause_threshold_ms must be at least one frame")
	}
	if cfg.PollIntervalMS <= 0 {
		return errors.New("capture.poll_interval_ms must be positive")
	}
	if cfg.RetryPauseMS < 0 {
		return errors.New("capture.retry_pause_ms must be >= 0")
	}
	return nil
}

func validateTTSMode(cfg TTSConfig, mode, field string) error {
	switch mode {
	case "mock":
	case "exec":
		if cfg.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "gtts":
		if cfg.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=gtts")
		}
	case "gcloud":
	case "samples":
		if cfg.SamplesManifest == "" {
			return errors.New("tts.samples_manifest must be set when mode=samples")
		}
	default:
		return fmt.Errorf("%s must be one of mock|exec|gtts|gcloud|samples", field)
	}
	return nil
}
