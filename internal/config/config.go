package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"voicepaste/internal/ports"
)

// Backend names selectable via VOICEPASTE_BACKEND.
const (
	BackendDashScope = "dashscope"
	BackendDeepgram  = "deepgram"
)

// Config is the assembled runtime configuration. Environment variables win;
// the persisted store fills the credential and hotkey when the environment
// leaves them blank.
type Config struct {
	Backend string `env:"VOICEPASTE_BACKEND" envDefault:"dashscope"`

	DashScopeAPIKey string `env:"DASHSCOPE_API_KEY"`
	DashScopeModel  string `env:"VOICEPASTE_ASR_MODEL" envDefault:"qwen3-asr-flash"`

	DeepgramAPIKey   string `env:"DEEPGRAM_API_KEY"`
	DeepgramModel    string `env:"VOICEPASTE_DEEPGRAM_MODEL" envDefault:"nova-2"`
	DeepgramLanguage string `env:"VOICEPASTE_DEEPGRAM_LANGUAGE"`

	Hotkey string `env:"VOICEPASTE_HOTKEY"`

	FinalizeTimeout time.Duration `env:"VOICEPASTE_FINALIZE_TIMEOUT" envDefault:"3s"`
	RequestTimeout  time.Duration `env:"VOICEPASTE_REQUEST_TIMEOUT" envDefault:"10s"`
	RestoreDelay    time.Duration `env:"VOICEPASTE_RESTORE_DELAY" envDefault:"100ms"`
	QueueCapacity   int           `env:"VOICEPASTE_QUEUE_CAPACITY" envDefault:"50"`

	FFmpegCommand string        `env:"VOICEPASTE_FFMPEG_COMMAND" envDefault:"ffmpeg"`
	InputFormat   string        `env:"VOICEPASTE_AUDIO_INPUT_FORMAT" envDefault:"pulse"`
	InputDevice   string        `env:"VOICEPASTE_AUDIO_INPUT_DEVICE" envDefault:"default"`
	SampleRate    int           `env:"VOICEPASTE_SAMPLE_RATE" envDefault:"16000"`
	Channels      int           `env:"VOICEPASTE_CHANNELS" envDefault:"1"`
	ChunkDuration time.Duration `env:"VOICEPASTE_CHUNK_DURATION" envDefault:"100ms"`

	LogLevel string `env:"VOICEPASTE_LOG_LEVEL" envDefault:"info"`
}

// Load resolves configuration from the environment layered over the store.
func Load(store ports.ConfigStore) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("environment variables are invalid: %w", err)
	}

	if cfg.DashScopeAPIKey == "" && store != nil {
		cfg.DashScopeAPIKey = store.APIKey()
	}
	if cfg.Hotkey == "" {
		cfg.Hotkey = DefaultHotkey
		if store != nil {
			cfg.Hotkey = store.Hotkey()
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Backend != BackendDashScope && c.Backend != BackendDeepgram {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", c.Channels)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.FinalizeTimeout <= 0 {
		return fmt.Errorf("finalize timeout must be positive, got %s", c.FinalizeTimeout)
	}
	return nil
}
