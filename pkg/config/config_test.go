package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sous.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  base_url: http://localhost:8080
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.STT.Provider != "gateway" {
		t.Errorf("stt.provider = %q", cfg.STT.Provider)
	}
	if cfg.Session.UtteranceCooldownMS != 1000 {
		t.Errorf("utterance_cooldown_ms = %d", cfg.Session.UtteranceCooldownMS)
	}
	if cfg.Timers.IdleThresholdS != 90 {
		t.Errorf("idle_threshold_s = %d", cfg.Timers.IdleThresholdS)
	}
	if cfg.TTS.Strategy != "streamed" {
		t.Errorf("tts.strategy = %q", cfg.TTS.Strategy)
	}
	if cfg.Audio.OutputSampleRate != 24000 {
		t.Errorf("output_sample_rate = %d", cfg.Audio.OutputSampleRate)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("SOUS_TEST_KEY", "secret-value")
	path := writeConfig(t, `
gateway:
  base_url: http://localhost:8080
  api_key: ${SOUS_TEST_KEY}
stt:
  provider: deepgram
  settings:
    api_key: ${SOUS_TEST_KEY}
    model: nova-2
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.APIKey != "secret-value" {
		t.Errorf("gateway.api_key = %q", cfg.Gateway.APIKey)
	}

	var dg DeepgramSettings
	if err := DecodeSettings(cfg.STT.Settings, &dg); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if dg.APIKey != "secret-value" || dg.Model != "nova-2" {
		t.Errorf("deepgram settings = %+v", dg)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"missing gateway url": `
stt:
  provider: deepgram
`,
		"bad stt provider": `
gateway:
  base_url: http://localhost:8080
stt:
  provider: whisperx
`,
		"bad tts strategy": `
gateway:
  base_url: http://localhost:8080
tts:
  strategy: chunked
`,
		"wake without model": `
gateway:
  base_url: http://localhost:8080
wake:
  enabled: true
`,
	}
	for name, body := range cases {
		t.Run(strings.ReplaceAll(name, " ", "_"), func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDecodeSettingsKeyNormalization(t *testing.T) {
	var dg DeepgramSettings
	err := DecodeSettings(map[string]any{
		"API-Key":        "k",
		"utteranceEndMS": 1000,
		"VAD_EVENTS":     true,
	}, &dg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dg.APIKey != "k" || dg.UtteranceEndMS != 1000 || !dg.VADEvents {
		t.Errorf("decoded = %+v", dg)
	}
}
