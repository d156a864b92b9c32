package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"murmur/internal/domain"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepgram = "deepgram"

	BackendFFMPEG    = "ffmpeg"
	BackendPortAudio = "portaudio"
)

// Config stores runtime configuration. Values come from defaults, then the
// optional YAML file, then the environment.
type Config struct {
	Provider    string            `yaml:"provider"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Deepgram    DeepgramConfig    `yaml:"deepgram"`
	Audio       AudioConfig       `yaml:"audio"`
	Engine      EngineConfig      `yaml:"engine"`
	Upload      UploadConfig      `yaml:"upload"`
	Session     SessionConfig     `yaml:"session"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	// File is the config file that was applied, empty when none was found.
	File string `yaml:"-"`
}

type OpenAIConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	TranscriptionModel string `yaml:"transcription_model"`
	TranslationModel   string `yaml:"translation_model"`
	MaxRetries         int    `yaml:"max_retries"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
}

type AudioConfig struct {
	Backend       string `yaml:"backend"`
	FFMPEGCommand string `yaml:"ffmpeg_command"`
	InputFormat   string `yaml:"input_format"`
	InputDevice   string `yaml:"input_device"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
}

type EngineConfig struct {
	HealthTimeout  time.Duration `yaml:"health_timeout"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	ConfigDebounce time.Duration `yaml:"config_debounce"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RetryStep      time.Duration `yaml:"retry_step"`
	FallbackDelay  time.Duration `yaml:"fallback_delay"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	PreRoll        time.Duration `yaml:"pre_roll"`
}

type UploadConfig struct {
	MaxBytes         int64         `yaml:"max_bytes"`
	TargetBytes      int64         `yaml:"target_bytes"`
	MinChunkDuration time.Duration `yaml:"min_chunk_duration"`
	Format           string        `yaml:"format"`
	FFProbeCommand   string        `yaml:"ffprobe_command"`
}

type SessionConfig struct {
	MinRecording time.Duration `yaml:"min_recording"`
}

type PreferencesConfig struct {
	AutoTranslate  bool   `yaml:"auto_translate"`
	TargetLanguage string `yaml:"target_language"`
	ClipboardOnly  bool   `yaml:"clipboard_only"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

type MetricsConfig struct {
	// ListenAddr serves /metrics when non-empty.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) Config {
	return Config{
		Provider: ProviderOpenAI,
		OpenAI: OpenAIConfig{
			BaseURL:            "https://api.openai.com/v1",
			TranscriptionModel: "whisper-1",
			TranslationModel:   "gpt-4o-mini",
			MaxRetries:         2,
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			SmartFormat: true,
		},
		Audio: AudioConfig{
			Backend:       BackendFFMPEG,
			FFMPEGCommand: "ffmpeg",
			InputFormat:   "pulse",
			InputDevice:   "default",
			SampleRate:    16000,
			Channels:      1,
		},
		Engine: EngineConfig{
			HealthTimeout:  2 * time.Second,
			CheckInterval:  3 * time.Second,
			ConfigDebounce: 800 * time.Millisecond,
			RetryAttempts:  6,
			RetryDelay:     time.Second,
			RetryStep:      500 * time.Millisecond,
			FallbackDelay:  30 * time.Second,
			IdleTimeout:    15 * time.Second,
			PreRoll:        time.Second,
		},
		Upload: UploadConfig{
			MaxBytes:         25 << 20,
			TargetBytes:      24 << 20,
			MinChunkDuration: 10 * time.Second,
			Format:           "m4a",
			FFProbeCommand:   "ffprobe",
		},
		Session: SessionConfig{
			MinRecording: 1000 * time.Millisecond,
		},
		Preferences: PreferencesConfig{
			TargetLanguage: domain.English.Code,
		},
		Storage: StorageConfig{
			DataDir: filepath.Join(home, ".local", "share", "murmur"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves configuration from defaults, the YAML file and environment
// variables, in that order of increasing precedence.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Default(home)

	path := strings.TrimSpace(os.Getenv("MURMUR_CONFIG_FILE"))
	explicit := path != ""
	if !explicit {
		path = filepath.Join(home, ".config", "murmur", "config.yaml")
	}
	if err := applyFile(&cfg, path, explicit); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	normalize(&cfg, Default(home))
	return cfg, nil
}

func applyFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.File = path
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Provider = strings.ToLower(envOrDefault("MURMUR_PROVIDER", cfg.Provider))

	cfg.OpenAI.APIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.TranscriptionModel = envOrDefault("MURMUR_TRANSCRIPTION_MODEL", cfg.OpenAI.TranscriptionModel)
	cfg.OpenAI.TranslationModel = envOrDefault("MURMUR_TRANSLATION_MODEL", cfg.OpenAI.TranslationModel)
	cfg.OpenAI.MaxRetries = envOrDefaultInt("MURMUR_OPENAI_MAX_RETRIES", cfg.OpenAI.MaxRetries)

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)

	cfg.Audio.Backend = strings.ToLower(envOrDefault("MURMUR_AUDIO_BACKEND", cfg.Audio.Backend))
	cfg.Audio.FFMPEGCommand = envOrDefault("MURMUR_FFMPEG_COMMAND", cfg.Audio.FFMPEGCommand)
	cfg.Audio.InputFormat = envOrDefault("MURMUR_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("MURMUR_AUDIO_INPUT_DEVICE"), cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("MURMUR_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("MURMUR_CHANNELS", cfg.Audio.Channels)

	cfg.Engine.HealthTimeout = envOrDefaultMillis("MURMUR_ENGINE_HEALTH_TIMEOUT_MS", cfg.Engine.HealthTimeout)
	cfg.Engine.CheckInterval = envOrDefaultMillis("MURMUR_ENGINE_CHECK_INTERVAL_MS", cfg.Engine.CheckInterval)
	cfg.Engine.ConfigDebounce = envOrDefaultMillis("MURMUR_ENGINE_DEBOUNCE_MS", cfg.Engine.ConfigDebounce)
	cfg.Engine.RetryAttempts = envOrDefaultInt("MURMUR_ENGINE_RETRY_ATTEMPTS", cfg.Engine.RetryAttempts)
	cfg.Engine.RetryDelay = envOrDefaultMillis("MURMUR_ENGINE_RETRY_DELAY_MS", cfg.Engine.RetryDelay)
	cfg.Engine.RetryStep = envOrDefaultMillis("MURMUR_ENGINE_RETRY_STEP_MS", cfg.Engine.RetryStep)
	cfg.Engine.FallbackDelay = envOrDefaultMillis("MURMUR_ENGINE_FALLBACK_DELAY_MS", cfg.Engine.FallbackDelay)
	cfg.Engine.IdleTimeout = envOrDefaultMillis("MURMUR_ENGINE_IDLE_TIMEOUT_MS", cfg.Engine.IdleTimeout)
	cfg.Engine.PreRoll = envOrDefaultMillis("MURMUR_ENGINE_PREROLL_MS", cfg.Engine.PreRoll)

	cfg.Upload.MaxBytes = envOrDefaultInt64("MURMUR_UPLOAD_MAX_BYTES", cfg.Upload.MaxBytes)
	cfg.Upload.TargetBytes = envOrDefaultInt64("MURMUR_UPLOAD_TARGET_BYTES", cfg.Upload.TargetBytes)
	cfg.Upload.MinChunkDuration = envOrDefaultMillis("MURMUR_UPLOAD_MIN_CHUNK_MS", cfg.Upload.MinChunkDuration)
	cfg.Upload.Format = envOrDefault("MURMUR_UPLOAD_FORMAT", cfg.Upload.Format)
	cfg.Upload.FFProbeCommand = envOrDefault("MURMUR_FFPROBE_COMMAND", cfg.Upload.FFProbeCommand)

	cfg.Session.MinRecording = envOrDefaultMillis("MURMUR_MIN_RECORDING_MS", cfg.Session.MinRecording)

	cfg.Preferences.AutoTranslate = envOrDefaultBool("MURMUR_AUTO_TRANSLATE", cfg.Preferences.AutoTranslate)
	cfg.Preferences.TargetLanguage = envOrDefault("MURMUR_TARGET_LANGUAGE", cfg.Preferences.TargetLanguage)
	cfg.Preferences.ClipboardOnly = envOrDefaultBool("MURMUR_CLIPBOARD_ONLY", cfg.Preferences.ClipboardOnly)

	cfg.Storage.DataDir = envOrDefault("MURMUR_DATA_DIR", cfg.Storage.DataDir)

	cfg.Logging.Level = envOrDefault("MURMUR_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("MURMUR_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Dir = envOrDefault("MURMUR_LOG_DIR", cfg.Logging.Dir)

	cfg.Metrics.ListenAddr = envOrDefault("MURMUR_METRICS_ADDR", cfg.Metrics.ListenAddr)
}

func normalize(cfg *Config, def Config) {
	switch cfg.Provider {
	case ProviderOpenAI, ProviderDeepgram:
	default:
		cfg.Provider = def.Provider
	}
	switch cfg.Audio.Backend {
	case BackendFFMPEG, BackendPortAudio:
	default:
		cfg.Audio.Backend = def.Audio.Backend
	}
	if cfg.OpenAI.MaxRetries < 0 {
		cfg.OpenAI.MaxRetries = def.OpenAI.MaxRetries
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = def.Audio.Channels
	}

	positive := func(v *time.Duration, fallback time.Duration) {
		if *v <= 0 {
			*v = fallback
		}
	}
	positive(&cfg.Engine.HealthTimeout, def.Engine.HealthTimeout)
	positive(&cfg.Engine.CheckInterval, def.Engine.CheckInterval)
	positive(&cfg.Engine.ConfigDebounce, def.Engine.ConfigDebounce)
	positive(&cfg.Engine.RetryDelay, def.Engine.RetryDelay)
	positive(&cfg.Engine.FallbackDelay, def.Engine.FallbackDelay)
	positive(&cfg.Engine.IdleTimeout, def.Engine.IdleTimeout)
	positive(&cfg.Upload.MinChunkDuration, def.Upload.MinChunkDuration)
	positive(&cfg.Session.MinRecording, def.Session.MinRecording)
	if cfg.Engine.RetryStep < 0 {
		cfg.Engine.RetryStep = def.Engine.RetryStep
	}
	if cfg.Engine.PreRoll < 0 {
		cfg.Engine.PreRoll = def.Engine.PreRoll
	}
	if cfg.Engine.RetryAttempts <= 0 {
		cfg.Engine.RetryAttempts = def.Engine.RetryAttempts
	}

	if cfg.Upload.MaxBytes <= 0 {
		cfg.Upload.MaxBytes = def.Upload.MaxBytes
	}
	if cfg.Upload.TargetBytes <= 0 || cfg.Upload.TargetBytes > cfg.Upload.MaxBytes {
		cfg.Upload.TargetBytes = min(def.Upload.TargetBytes, cfg.Upload.MaxBytes)
	}
	cfg.Upload.Format = strings.TrimPrefix(strings.ToLower(cfg.Upload.Format), ".")
	if cfg.Upload.Format == "" {
		cfg.Upload.Format = def.Upload.Format
	}

	if _, ok := domain.LanguageByCode(cfg.Preferences.TargetLanguage); !ok {
		cfg.Preferences.TargetLanguage = def.Preferences.TargetLanguage
	}
}

// Language resolves the configured target, English when unknown.
func (p PreferencesConfig) Language() domain.Language {
	if lang, ok := domain.LanguageByCode(p.TargetLanguage); ok {
		return lang
	}
	return domain.English
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
