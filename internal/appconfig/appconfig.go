// Package appconfig loads the client binary's configuration from the
// environment and an optional YAML overlay file.
package appconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v2"

	"github.com/vango-go/vai-livetranslate/pkg/core/live"
	"github.com/vango-go/vai-livetranslate/pkg/core/types"
	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
)

// Config configures one livetranslate client.
type Config struct {
	APIKey         string
	Model          string
	TranslateModel string

	SelfID          string
	DisplayName     string
	SourceLanguage  string
	TargetLanguages []string
	DefaultTarget   string
	SpeedMode       live.SpeedMode
	LocalPlayback   bool
	DevSolo         bool

	HandshakeTimeout time.Duration
	ConfirmTimeout   time.Duration

	// Relay room. Empty RelayURL runs without a call (DevSolo only).
	RelayURL   string
	RoomID     string
	RelayToken string

	// DatabaseURL enables lifetime usage persistence in Postgres.
	DatabaseURL string
	// MetricsAddr serves /metrics when set.
	MetricsAddr string

	ConfigFile string
	Profiles   map[live.SpeedMode]live.SpeedProfile
	Prices     usage.PriceTable
}

// LoadFromEnv reads the environment, applies LIVETRANSLATE_CONFIG_FILE when
// set, and validates the result.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		APIKey:           envOr("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		Model:            envOr("LIVETRANSLATE_MODEL", ""),
		TranslateModel:   envOr("LIVETRANSLATE_TRANSLATE_MODEL", ""),
		SelfID:           envOr("LIVETRANSLATE_SELF_ID", ""),
		DisplayName:      envOr("LIVETRANSLATE_DISPLAY_NAME", ""),
		SourceLanguage:   types.NormalizeLanguage(envOr("LIVETRANSLATE_SOURCE_LANGUAGE", "")),
		DefaultTarget:    types.NormalizeLanguage(envOr("LIVETRANSLATE_DEFAULT_TARGET", "")),
		LocalPlayback:    envBoolOr("LIVETRANSLATE_LOCAL_PLAYBACK", false),
		DevSolo:          envBoolOr("LIVETRANSLATE_DEV_SOLO", false),
		HandshakeTimeout: envDurationOr("LIVETRANSLATE_HANDSHAKE_TIMEOUT", 15*time.Second),
		ConfirmTimeout:   envDurationOr("LIVETRANSLATE_CONFIRM_TIMEOUT", 10*time.Second),
		RelayURL:         envOr("LIVETRANSLATE_RELAY_URL", ""),
		RoomID:           envOr("LIVETRANSLATE_ROOM", ""),
		RelayToken:       envOr("LIVETRANSLATE_RELAY_TOKEN", ""),
		DatabaseURL:      envOr("LIVETRANSLATE_DATABASE_URL", ""),
		MetricsAddr:      envOr("LIVETRANSLATE_METRICS_ADDR", ""),
		ConfigFile:       envOr("LIVETRANSLATE_CONFIG_FILE", ""),
		Profiles:         make(map[live.SpeedMode]live.SpeedProfile),
		Prices:           usage.DefaultPrices(),
	}
	for _, lang := range splitCSV(os.Getenv("LIVETRANSLATE_TARGET_LANGUAGES")) {
		cfg.TargetLanguages = append(cfg.TargetLanguages, types.NormalizeLanguage(lang))
	}

	mode, err := live.ParseSpeedMode(envOr("LIVETRANSLATE_SPEED_MODE", string(live.SpeedBalanced)))
	if err != nil {
		return Config{}, fmt.Errorf("LIVETRANSLATE_SPEED_MODE: %w", err)
	}
	cfg.SpeedMode = mode

	if cfg.ConfigFile != "" {
		if err := LoadFile(cfg.ConfigFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first configuration error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.SelfID == "" {
		return fmt.Errorf("LIVETRANSLATE_SELF_ID is required")
	}
	if c.SourceLanguage == "" {
		return fmt.Errorf("LIVETRANSLATE_SOURCE_LANGUAGE is required")
	}
	if c.RelayURL == "" && !c.DevSolo {
		return fmt.Errorf("LIVETRANSLATE_RELAY_URL is required unless LIVETRANSLATE_DEV_SOLO is set")
	}
	if c.RelayURL != "" && c.RoomID == "" {
		return fmt.Errorf("LIVETRANSLATE_ROOM is required with LIVETRANSLATE_RELAY_URL")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("LIVETRANSLATE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("LIVETRANSLATE_CONFIRM_TIMEOUT must be > 0")
	}
	for mode, p := range c.Profiles {
		if _, ok := live.ProfileFor(mode); !ok {
			return fmt.Errorf("unknown speed mode %q in config file", mode)
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if c.Prices.InputText < 0 || c.Prices.InputAudio < 0 || c.Prices.OutputText < 0 || c.Prices.OutputAudio < 0 {
		return fmt.Errorf("prices must be >= 0")
	}
	return nil
}

// Participant is the local member as announced to the relay room.
func (c Config) Participant() types.Participant {
	return types.Participant{ID: c.SelfID, DisplayName: c.DisplayName, Language: c.SourceLanguage}
}

// SessionConfig maps the client configuration onto the engine's.
func (c Config) SessionConfig() live.SessionConfig {
	sc := live.DefaultSessionConfig()
	sc.APIKey = c.APIKey
	if c.Model != "" {
		sc.Model = c.Model
	}
	sc.SelfID = c.SelfID
	sc.SourceLanguage = c.SourceLanguage
	sc.TargetLanguages = append([]string(nil), c.TargetLanguages...)
	sc.DefaultTarget = c.DefaultTarget
	sc.SpeedMode = c.SpeedMode
	sc.LocalPlayback = c.LocalPlayback
	sc.DevSolo = c.DevSolo
	sc.HandshakeTimeout = c.HandshakeTimeout
	if len(c.Profiles) > 0 {
		sc.Profiles = make(map[live.SpeedMode]live.SpeedProfile, len(c.Profiles))
		for mode, p := range c.Profiles {
			sc.Profiles[mode] = p
		}
	}
	return sc
}

type fileConfig struct {
	SpeedMode     string                 `yaml:"speed_mode"`
	SpeedProfiles map[string]fileProfile `yaml:"speed_profiles"`
	Prices        *usage.PriceTable      `yaml:"prices"`
	Languages     *fileLanguages         `yaml:"languages"`
}

type fileProfile struct {
	SendInterval    time.Duration  `yaml:"send_interval"`
	TextBufferDelay *time.Duration `yaml:"text_buffer_delay"`
	CostMultiplier  float64        `yaml:"cost_multiplier"`
}

type fileLanguages struct {
	Targets       []string `yaml:"targets"`
	DefaultTarget string   `yaml:"default_target"`
}

// LoadFile overlays a YAML file onto cfg. Profile fields left out of the
// file keep their built-in values; prices left at zero keep cfg's.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	if fc.SpeedMode != "" {
		mode, err := live.ParseSpeedMode(fc.SpeedMode)
		if err != nil {
			return fmt.Errorf("config file %q: %w", path, err)
		}
		cfg.SpeedMode = mode
	}

	if cfg.Profiles == nil {
		cfg.Profiles = make(map[live.SpeedMode]live.SpeedProfile)
	}
	for name, fp := range fc.SpeedProfiles {
		mode, err := live.ParseSpeedMode(name)
		if err != nil {
			return fmt.Errorf("config file %q: %w", path, err)
		}
		p, _ := live.ProfileFor(mode)
		if fp.SendInterval != 0 {
			p.SendInterval = fp.SendInterval
		}
		if fp.TextBufferDelay != nil {
			p.TextBufferDelay = *fp.TextBufferDelay
		}
		if fp.CostMultiplier != 0 {
			p.CostMultiplier = fp.CostMultiplier
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("config file %q: %w", path, err)
		}
		cfg.Profiles[mode] = p
	}

	if fc.Prices != nil {
		if fc.Prices.InputText != 0 {
			cfg.Prices.InputText = fc.Prices.InputText
		}
		if fc.Prices.InputAudio != 0 {
			cfg.Prices.InputAudio = fc.Prices.InputAudio
		}
		if fc.Prices.OutputText != 0 {
			cfg.Prices.OutputText = fc.Prices.OutputText
		}
		if fc.Prices.OutputAudio != 0 {
			cfg.Prices.OutputAudio = fc.Prices.OutputAudio
		}
	}

	if fc.Languages != nil {
		if len(fc.Languages.Targets) > 0 {
			cfg.TargetLanguages = cfg.TargetLanguages[:0]
			for _, lang := range fc.Languages.Targets {
				cfg.TargetLanguages = append(cfg.TargetLanguages, types.NormalizeLanguage(lang))
			}
		}
		if fc.Languages.DefaultTarget != "" {
			cfg.DefaultTarget = types.NormalizeLanguage(fc.Languages.DefaultTarget)
		}
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
