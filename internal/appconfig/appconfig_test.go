package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-livetranslate/pkg/core/live"
	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "key_test")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("LIVETRANSLATE_SELF_ID", "alice")
	t.Setenv("LIVETRANSLATE_SOURCE_LANGUAGE", "JA_jp")
	t.Setenv("LIVETRANSLATE_RELAY_URL", "ws://localhost:8090")
	t.Setenv("LIVETRANSLATE_ROOM", "call-1")
	t.Setenv("LIVETRANSLATE_DEV_SOLO", "")
	t.Setenv("LIVETRANSLATE_SPEED_MODE", "")
	t.Setenv("LIVETRANSLATE_TARGET_LANGUAGES", "")
	t.Setenv("LIVETRANSLATE_CONFIG_FILE", "")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.SourceLanguage != "ja-jp" {
		t.Fatalf("SourceLanguage=%q, want normalized ja-jp", cfg.SourceLanguage)
	}
	if cfg.SpeedMode != live.SpeedBalanced {
		t.Fatalf("SpeedMode=%q", cfg.SpeedMode)
	}
	if cfg.Prices != usage.DefaultPrices() {
		t.Fatalf("Prices=%+v", cfg.Prices)
	}
	if cfg.HandshakeTimeout != 15*time.Second {
		t.Fatalf("HandshakeTimeout=%v", cfg.HandshakeTimeout)
	}

	sc := cfg.SessionConfig()
	if sc.APIKey != "key_test" || sc.SelfID != "alice" || sc.SourceLanguage != "ja-jp" {
		t.Fatalf("SessionConfig=%+v", sc)
	}
	if sc.Model == "" {
		t.Fatalf("SessionConfig.Model should keep the engine default")
	}
	if p := cfg.Participant(); p.ID != "alice" || p.Language != "ja-jp" {
		t.Fatalf("Participant=%+v", p)
	}
}

func TestLoadFromEnv_GoogleAPIKeyFallback(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google_key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.APIKey != "google_key" {
		t.Fatalf("APIKey=%q", cfg.APIKey)
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "api key", env: map[string]string{"GEMINI_API_KEY": ""}, wantErr: "GEMINI_API_KEY"},
		{name: "self id", env: map[string]string{"LIVETRANSLATE_SELF_ID": ""}, wantErr: "LIVETRANSLATE_SELF_ID"},
		{name: "source", env: map[string]string{"LIVETRANSLATE_SOURCE_LANGUAGE": ""}, wantErr: "LIVETRANSLATE_SOURCE_LANGUAGE"},
		{name: "relay", env: map[string]string{"LIVETRANSLATE_RELAY_URL": ""}, wantErr: "LIVETRANSLATE_RELAY_URL"},
		{name: "room", env: map[string]string{"LIVETRANSLATE_ROOM": ""}, wantErr: "LIVETRANSLATE_ROOM"},
		{name: "speed", env: map[string]string{"LIVETRANSLATE_SPEED_MODE": "warp"}, wantErr: "LIVETRANSLATE_SPEED_MODE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv_SoloWithoutRelay(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LIVETRANSLATE_RELAY_URL", "")
	t.Setenv("LIVETRANSLATE_DEV_SOLO", "true")
	t.Setenv("LIVETRANSLATE_TARGET_LANGUAGES", "en, vi")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if !cfg.DevSolo || len(cfg.TargetLanguages) != 2 || cfg.TargetLanguages[1] != "vi" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadFromEnv_AppliesConfigFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "livetranslate.yaml")
	content := `
speed_mode: realtime
speed_profiles:
  realtime:
    send_interval: 200ms
    text_buffer_delay: 0s
  economy:
    cost_multiplier: 0.5
prices:
  output_audio: 10
languages:
  targets: [EN, vi]
  default_target: en
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LIVETRANSLATE_CONFIG_FILE", path)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.SpeedMode != live.SpeedRealtime {
		t.Fatalf("SpeedMode=%q", cfg.SpeedMode)
	}

	rt := cfg.Profiles[live.SpeedRealtime]
	builtin, _ := live.ProfileFor(live.SpeedRealtime)
	if rt.SendInterval != 200*time.Millisecond || rt.TextBufferDelay != 0 || rt.CostMultiplier != builtin.CostMultiplier {
		t.Fatalf("realtime profile=%+v", rt)
	}
	eco := cfg.Profiles[live.SpeedEconomy]
	builtinEco, _ := live.ProfileFor(live.SpeedEconomy)
	if eco.CostMultiplier != 0.5 || eco.SendInterval != builtinEco.SendInterval {
		t.Fatalf("economy profile=%+v", eco)
	}

	want := usage.DefaultPrices()
	want.OutputAudio = 10
	if cfg.Prices != want {
		t.Fatalf("Prices=%+v, want %+v", cfg.Prices, want)
	}
	if len(cfg.TargetLanguages) != 2 || cfg.TargetLanguages[0] != "en" || cfg.DefaultTarget != "en" {
		t.Fatalf("languages targets=%v default=%q", cfg.TargetLanguages, cfg.DefaultTarget)
	}
	if sc := cfg.SessionConfig(); sc.Profiles[live.SpeedRealtime].SendInterval != 200*time.Millisecond {
		t.Fatalf("SessionConfig profiles=%+v", sc.Profiles)
	}
}

func TestLoadFile_RejectsUnknownKeysAndBadProfiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown.yaml": "speed_profile: {}\n",
		"mode.yaml":    "speed_profiles:\n  warp:\n    send_interval: 1s\n",
		"bad.yaml":     "speed_profiles:\n  balanced:\n    send_interval: -1s\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		cfg := Config{}
		if err := LoadFile(path, &cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	if err := LoadFile(filepath.Join(dir, "missing.yaml"), &Config{}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
