// Package config loads habla settings from a YAML file, a .env file and
// HABLA_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"habla/transport"
)

const EnvPrefix = "HABLA_"

// Voices the relay's speech model accepts.
var Voices = []string{"alloy", "ash", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

type Config struct {
	RelayURL       string `yaml:"relay_url"`
	TranscribePath string `yaml:"transcribe_path"`
	SpeechPath     string `yaml:"speech_path"`
	Voice          string `yaml:"voice"`
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`

	Audio AudioConfig `yaml:"audio"`
	HTTP  HTTPConfig  `yaml:"http"`
	Serve ServeConfig `yaml:"serve"`

	// Secrets come from the environment only.
	OpenAIAPIKey string `yaml:"-"`
}

type AudioConfig struct {
	TargetSampleRate  int    `yaml:"target_sample_rate"`
	CaptureSampleRate int    `yaml:"capture_sample_rate"`
	MaxDuration       string `yaml:"max_duration"`
	Device            string `yaml:"device"`
}

type HTTPConfig struct {
	Timeout string `yaml:"timeout"`
}

type ServeConfig struct {
	Addr               string `yaml:"addr"`
	OpenAIBaseURL      string `yaml:"openai_base_url"`
	TranscriptionModel string `yaml:"transcription_model"`
	TranslationModel   string `yaml:"translation_model"`
	TranslationPrompt  string `yaml:"translation_prompt"`
	SpeechModel        string `yaml:"speech_model"`
	DefaultVoice       string `yaml:"default_voice"`
}

const DefaultTranslationPrompt = "im going to give you a text, if its spanish translate it to english and if its english translate it to spanish. just give me the translation and nothing else"

func Defaults() Config {
	return Config{
		RelayURL:       "http://localhost:3000",
		TranscribePath: "/api/openai",
		SpeechPath:     "/api/tts",
		Voice:          "nova",
		SourceLanguage: "en",
		TargetLanguage: "es",
		Audio: AudioConfig{
			TargetSampleRate:  16000,
			CaptureSampleRate: 16000,
			MaxDuration:       "10m",
		},
		HTTP: HTTPConfig{Timeout: "60s"},
		Serve: ServeConfig{
			Addr:               ":3000",
			TranscriptionModel: "whisper-1",
			TranslationModel:   "gpt-4o-mini",
			TranslationPrompt:  DefaultTranslationPrompt,
			SpeechModel:        "tts-1",
			DefaultVoice:       "alloy",
		},
	}
}

// Load reads path (a missing file is fine), then envFile, then the
// environment. It returns validation warnings alongside the config.
func Load(path, envFile string) (Config, []string, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the process
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

func (c *Config) TranscribeURL() string {
	return transport.JoinURL(c.RelayURL, c.TranscribePath)
}

func (c *Config) SpeechURL() string {
	return transport.JoinURL(c.RelayURL, c.SpeechPath)
}

// MaxDuration falls back to 10 minutes when unset or invalid. "0" and
// negative values disable the cap.
func (c *Config) MaxDuration() time.Duration {
	d, err := time.ParseDuration(c.Audio.MaxDuration)
	if err != nil {
		return 10 * time.Minute
	}
	if d <= 0 {
		return -1
	}
	return d
}

func (c *Config) HTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.HTTP.Timeout)
	if err != nil || d < 0 {
		return 60 * time.Second
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	str("RELAY_URL", &cfg.RelayURL)
	str("TRANSCRIBE_PATH", &cfg.TranscribePath)
	str("SPEECH_PATH", &cfg.SpeechPath)
	str("VOICE", &cfg.Voice)
	str("SOURCE_LANGUAGE", &cfg.SourceLanguage)
	str("TARGET_LANGUAGE", &cfg.TargetLanguage)
	num("TARGET_SAMPLE_RATE", &cfg.Audio.TargetSampleRate)
	num("CAPTURE_SAMPLE_RATE", &cfg.Audio.CaptureSampleRate)
	str("MAX_DURATION", &cfg.Audio.MaxDuration)
	str("DEVICE", &cfg.Audio.Device)
	str("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	str("SERVE_ADDR", &cfg.Serve.Addr)
	str("OPENAI_BASE_URL", &cfg.Serve.OpenAIBaseURL)
	str("TRANSCRIPTION_MODEL", &cfg.Serve.TranscriptionModel)
	str("TRANSLATION_MODEL", &cfg.Serve.TranslationModel)
	str("SPEECH_MODEL", &cfg.Serve.SpeechModel)
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func validate(cfg *Config) []string {
	var warnings []string

	if r := cfg.Audio.TargetSampleRate; r < 8000 || r > 48000 {
		warnings = append(warnings, fmt.Sprintf("target_sample_rate %d out of range, using 16000.", r))
		cfg.Audio.TargetSampleRate = 16000
	}
	if r := cfg.Audio.CaptureSampleRate; r < 8000 || r > 192000 {
		warnings = append(warnings, fmt.Sprintf("capture_sample_rate %d out of range, using 16000.", r))
		cfg.Audio.CaptureSampleRate = 16000
	}
	if _, err := time.ParseDuration(cfg.Audio.MaxDuration); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid max_duration %q, using 10m.", cfg.Audio.MaxDuration))
	}
	if _, err := time.ParseDuration(cfg.HTTP.Timeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid http.timeout %q, using 60s.", cfg.HTTP.Timeout))
	}
	if !slices.Contains(Voices, cfg.Voice) {
		warnings = append(warnings, fmt.Sprintf("Unknown voice %q; the relay may reject it.", cfg.Voice))
	}
	if !strings.HasPrefix(cfg.RelayURL, "http://") && !strings.HasPrefix(cfg.RelayURL, "https://") {
		warnings = append(warnings, fmt.Sprintf("relay_url %q is not an http(s) URL.", cfg.RelayURL))
	}
	return warnings
}

// ServeWarnings lists problems that only matter when running the relay.
func (c *Config) ServeWarnings() []string {
	var warnings []string
	if c.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured. Set OPENAI_API_KEY or "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if !slices.Contains(Voices, c.Serve.DefaultVoice) {
		warnings = append(warnings, fmt.Sprintf("Unknown serve.default_voice %q.", c.Serve.DefaultVoice))
	}
	return warnings
}
