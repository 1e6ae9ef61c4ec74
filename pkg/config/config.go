// Package config loads the application configuration from a YAML file
// with environment variable expansion applied to every string value.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Gateway  GatewayConfig  `mapstructure:"gateway"`
	STT      STTConfig      `mapstructure:"stt"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Session  SessionConfig  `mapstructure:"session"`
	Timers   TimersConfig   `mapstructure:"timers"`
	Wake     WakeConfig     `mapstructure:"wake"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Playback PlaybackConfig `mapstructure:"playback"`
}

// GatewayConfig points at the voice gateway that fronts chat, synthesis
// and STT token minting.
type GatewayConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type STTConfig struct {
	// Provider selects the streaming recognizer: deepgram, gateway or
	// local.
	Provider string         `mapstructure:"provider"`
	Language string         `mapstructure:"language"`
	Settings map[string]any `mapstructure:"settings"`
}

type TTSConfig struct {
	Voice    string  `mapstructure:"voice"`
	Speed    float64 `mapstructure:"speed"`
	Strategy string  `mapstructure:"strategy"`
}

type SessionConfig struct {
	Greeting            string `mapstructure:"greeting"`
	UtteranceCooldownMS int    `mapstructure:"utterance_cooldown_ms"`
	InterruptSettleMS   int    `mapstructure:"interrupt_settle_ms"`
	ErrorRecoveryMS     int    `mapstructure:"error_recovery_ms"`
	MicReopenDebounceMS int    `mapstructure:"mic_reopen_debounce_ms"`
	MaxHistory          int    `mapstructure:"max_history"`
}

type TimersConfig struct {
	IdleThresholdS int `mapstructure:"idle_threshold_s"`
	TickIntervalMS int `mapstructure:"tick_interval_ms"`
}

type WakeConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	KeywordModel   string   `mapstructure:"keyword_model"`
	MelspecModel   string   `mapstructure:"melspec_model"`
	EmbeddingModel string   `mapstructure:"embedding_model"`
	OnnxLib        string   `mapstructure:"onnx_lib"`
	Threshold      float64  `mapstructure:"threshold"`
	CooldownMS     int      `mapstructure:"cooldown_ms"`
	PhraseVariants []string `mapstructure:"phrase_variants"`
}

type AudioConfig struct {
	InputSampleRate  int    `mapstructure:"input_sample_rate"`
	OutputSampleRate int    `mapstructure:"output_sample_rate"`
	MutePath         string `mapstructure:"mute_path"`
}

type PlaybackConfig struct {
	MinDecodableBytes       int `mapstructure:"min_decodable_bytes"`
	MinBuffers              int `mapstructure:"min_buffers"`
	MaxBufferWaitMS         int `mapstructure:"max_buffer_wait_ms"`
	NetworkSilenceTimeoutMS int `mapstructure:"network_silence_timeout_ms"`
	SynthAhead              int `mapstructure:"synth_ahead"`
	CacheSize               int `mapstructure:"cache_size"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("stt.provider", "gateway")
	v.SetDefault("stt.language", "en")
	v.SetDefault("tts.voice", "alloy")
	v.SetDefault("tts.speed", 1.0)
	v.SetDefault("tts.strategy", "streamed")
	v.SetDefault("session.utterance_cooldown_ms", 1000)
	v.SetDefault("session.interrupt_settle_ms", 250)
	v.SetDefault("session.error_recovery_ms", 3000)
	v.SetDefault("session.mic_reopen_debounce_ms", 150)
	v.SetDefault("session.max_history", 40)
	v.SetDefault("timers.idle_threshold_s", 90)
	v.SetDefault("timers.tick_interval_ms", 1000)
	v.SetDefault("wake.enabled", false)
	v.SetDefault("wake.threshold", 0.3)
	v.SetDefault("wake.cooldown_ms", 1500)
	v.SetDefault("audio.input_sample_rate", 16000)
	v.SetDefault("audio.output_sample_rate", 24000)
	v.SetDefault("audio.mute_path", "")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.STT.Provider)) {
	case "deepgram", "gateway", "local":
	default:
		return fmt.Errorf("stt.provider must be deepgram, gateway or local, got %q", c.STT.Provider)
	}
	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.TTS.Strategy)) {
	case "streamed", "queued":
	default:
		return fmt.Errorf("tts.strategy must be streamed or queued, got %q", c.TTS.Strategy)
	}
	if c.Wake.Enabled && strings.TrimSpace(c.Wake.KeywordModel) == "" {
		return fmt.Errorf("wake.keyword_model is required when wake.enabled is set")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.STT.Settings = expandSettings(cfg.STT.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
