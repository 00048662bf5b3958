package live

import (
	"fmt"
	"strings"
	"time"
)

// SessionState represents the lifecycle state of the translation session.
type SessionState int32

const (
	// StateIdle means no session exists.
	StateIdle SessionState = iota
	// StateOpening means the remote handshake is in flight.
	StateOpening
	// StateActive means audio is being streamed and translations received.
	StateActive
	// StateClosing means teardown is running.
	StateClosing
	// StateClosed means the last session has been torn down.
	StateClosed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOpening:
		return "OPENING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

const (
	// InputSampleRate is the capture rate the remote endpoint expects.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of translated audio.
	OutputSampleRate = 24000

	// InputMIMEType labels outbound PCM.
	InputMIMEType = "audio/pcm;rate=16000"
)

// SpeedMode selects a latency/cost tradeoff.
type SpeedMode string

const (
	SpeedUltrafast SpeedMode = "ultrafast"
	SpeedRealtime  SpeedMode = "realtime"
	SpeedBalanced  SpeedMode = "balanced"
	SpeedEconomy   SpeedMode = "economy"
)

// SpeedProfile is the immutable configuration for one SpeedMode.
type SpeedProfile struct {
	Mode SpeedMode
	// SendInterval bounds how often captured audio is flushed to the endpoint.
	SendInterval time.Duration
	// TextBufferDelay is the longest partial translated text is held before
	// being shown.
	TextBufferDelay time.Duration
	// CostMultiplier scales estimated cost.
	CostMultiplier float64
}

var speedProfiles = map[SpeedMode]SpeedProfile{
	SpeedUltrafast: {Mode: SpeedUltrafast, SendInterval: 100 * time.Millisecond, TextBufferDelay: 0, CostMultiplier: 1.5},
	SpeedRealtime:  {Mode: SpeedRealtime, SendInterval: 250 * time.Millisecond, TextBufferDelay: 150 * time.Millisecond, CostMultiplier: 1.2},
	SpeedBalanced:  {Mode: SpeedBalanced, SendInterval: 500 * time.Millisecond, TextBufferDelay: 400 * time.Millisecond, CostMultiplier: 1.0},
	SpeedEconomy:   {Mode: SpeedEconomy, SendInterval: 1000 * time.Millisecond, TextBufferDelay: 800 * time.Millisecond, CostMultiplier: 0.8},
}

// SpeedModes lists the modes from fastest to cheapest.
func SpeedModes() []SpeedMode {
	return []SpeedMode{SpeedUltrafast, SpeedRealtime, SpeedBalanced, SpeedEconomy}
}

// ProfileFor returns the built-in profile for mode.
func ProfileFor(mode SpeedMode) (SpeedProfile, bool) {
	p, ok := speedProfiles[mode]
	return p, ok
}

// ParseSpeedMode parses a mode name case-insensitively.
func ParseSpeedMode(s string) (SpeedMode, error) {
	mode := SpeedMode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := speedProfiles[mode]; !ok {
		return "", fmt.Errorf("unknown speed mode %q", s)
	}
	return mode, nil
}

// Validate checks a profile, e.g. one loaded from a config file.
func (p SpeedProfile) Validate() error {
	if p.SendInterval <= 0 {
		return fmt.Errorf("speed profile %q: send interval must be > 0", p.Mode)
	}
	if p.TextBufferDelay < 0 {
		return fmt.Errorf("speed profile %q: text buffer delay must be >= 0", p.Mode)
	}
	if p.CostMultiplier <= 0 {
		return fmt.Errorf("speed profile %q: cost multiplier must be > 0", p.Mode)
	}
	return nil
}

// SessionConfig holds caller-facing configuration for the controller.
type SessionConfig struct {
	// APIKey is the credential for the remote translation endpoint.
	APIKey string

	// Model is the streaming model name.
	Model string

	// SelfID identifies the local participant in rosters.
	SelfID string

	// SourceLanguage is the local participant's spoken language.
	SourceLanguage string

	// TargetLanguages, when set, restricts and orders the languages the
	// session may translate into. Empty means follow the roster.
	TargetLanguages []string

	// SpeedMode picks the initial SpeedProfile. Default: balanced.
	SpeedMode SpeedMode

	// Profiles overrides built-in speed profiles.
	Profiles map[SpeedMode]SpeedProfile

	// LocalPlayback plays the local speaker's own translation through the
	// PlaybackScheduler. Peer audio received via the relay always plays.
	LocalPlayback bool

	// DevSolo opens a self-directed session when nobody else is in the call.
	DevSolo bool

	// DefaultTarget is the solo-mode target. Empty picks the opposite of the source.
	DefaultTarget string

	// HandshakeTimeout bounds Opening. Default: 15s.
	HandshakeTimeout time.Duration

	// SendQueueSize bounds outbound batches waiting to be written. Default: 32.
	SendQueueSize int

	// HistorySize is how many recent records stay live for confirmation
	// patches. Default: 64.
	HistorySize int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:            "gemini-2.5-flash-native-audio-preview-09-2025",
		SpeedMode:        SpeedBalanced,
		LocalPlayback:    false,
		HandshakeTimeout: 15 * time.Second,
		SendQueueSize:    32,
		HistorySize:      64,
	}
}

func (c *SessionConfig) applyDefaults() {
	d := DefaultSessionConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.SpeedMode == "" {
		c.SpeedMode = d.SpeedMode
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
}

// profile resolves mode against overrides and the built-in table.
func (c SessionConfig) profile(mode SpeedMode) (SpeedProfile, error) {
	if p, ok := c.Profiles[mode]; ok {
		p.Mode = mode
		if err := p.Validate(); err != nil {
			return SpeedProfile{}, err
		}
		return p, nil
	}
	if p, ok := ProfileFor(mode); ok {
		return p, nil
	}
	return SpeedProfile{}, fmt.Errorf("unknown speed mode %q", mode)
}

// AudioConfig describes a PCM stream.
type AudioConfig struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// InputAudioConfig is the outbound capture format.
func InputAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: InputSampleRate, Channels: 1, BitsPerSample: 16}
}

// OutputAudioConfig is the translated audio format.
func OutputAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: OutputSampleRate, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * c.BitsPerSample / 8
}

// Duration returns the playback length of n bytes.
func (c AudioConfig) Duration(n int) time.Duration {
	bps := c.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// SamplesDuration returns the playback length of n samples per channel.
func (c AudioConfig) SamplesDuration(n int) time.Duration {
	if c.SampleRate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(c.SampleRate)
}
