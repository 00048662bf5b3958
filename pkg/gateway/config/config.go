package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config configures the relay hub.
type Config struct {
	Addr string

	// AuthTokens is the set of accepted bearer tokens. Empty disables auth.
	AuthTokens map[string]struct{}

	// If true, the client address may be derived from proxy headers like
	// X-Forwarded-For. Only enable behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// AllowedOrigins restricts browser WebSocket joins. Empty rejects any
	// request carrying an Origin header.
	AllowedOrigins map[string]struct{}

	// Rooms.
	MaxPeersPerRoom   int
	MaxRooms          int
	MaxMessageBytes   int64
	OutboundQueueSize int

	// Inbound relay budget per peer (token buckets). Zero disables a bucket.
	MaxRelayMessagesPerSecond int
	MaxRelayBytesPerSecond    int64
	InboundBurstSeconds       int

	// WebSocket timings.
	JoinTimeout    time.Duration
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration
	WSReadTimeout  time.Duration

	// Join limits per remote address.
	JoinRPS            float64
	JoinBurst          int
	MaxPeersPerAddress int

	// Optional Redis backplane for multi-instance fan-out.
	RedisURL   string
	InstanceID string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                      envOr("RELAY_ADDR", ":8090"),
		AuthTokens:                make(map[string]struct{}),
		TrustProxyHeaders:         envBoolOr("RELAY_TRUST_PROXY_HEADERS", false),
		AllowedOrigins:            make(map[string]struct{}),
		MaxPeersPerRoom:           envIntOr("RELAY_MAX_PEERS_PER_ROOM", 2),
		MaxRooms:                  envIntOr("RELAY_MAX_ROOMS", 1000),
		MaxMessageBytes:           envInt64Or("RELAY_MAX_MESSAGE_BYTES", 256<<10), // 256 KiB
		OutboundQueueSize:         envIntOr("RELAY_OUTBOUND_QUEUE_SIZE", 128),
		MaxRelayBytesPerSecond:    envInt64Or("RELAY_MAX_RELAY_BPS", 256<<10),
		MaxRelayMessagesPerSecond: envIntOr("RELAY_MAX_RELAY_MPS", 50),
		InboundBurstSeconds:       envIntOr("RELAY_INBOUND_BURST_SECONDS", 2),
		JoinTimeout:               envDurationOr("RELAY_JOIN_TIMEOUT", 10*time.Second),
		WSPingInterval:            envDurationOr("RELAY_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:            envDurationOr("RELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:             envDurationOr("RELAY_WS_READ_TIMEOUT", 60*time.Second),
		JoinRPS:                   envFloat64Or("RELAY_JOIN_RPS", 1.0),
		JoinBurst:                 envIntOr("RELAY_JOIN_BURST", 5),
		MaxPeersPerAddress:        envIntOr("RELAY_MAX_PEERS_PER_ADDRESS", 8),
		RedisURL:                  envOr("RELAY_REDIS_URL", ""),
		InstanceID:                envOr("RELAY_INSTANCE_ID", ""),
		ReadHeaderTimeout:         envDurationOr("RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:       envDurationOr("RELAY_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	for _, token := range splitCSV(os.Getenv("RELAY_AUTH_TOKEN")) {
		cfg.AuthTokens[token] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("RELAY_ALLOWED_ORIGINS")) {
		cfg.AllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxPeersPerRoom <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_PEERS_PER_ROOM must be > 0")
	}
	if cfg.MaxRooms <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_ROOMS must be > 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("RELAY_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.MaxRelayMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_RELAY_MPS must be >= 0")
	}
	if cfg.MaxRelayBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_RELAY_BPS must be >= 0")
	}
	if cfg.InboundBurstSeconds < 0 {
		return Config{}, fmt.Errorf("RELAY_INBOUND_BURST_SECONDS must be >= 0")
	}
	if (cfg.MaxRelayMessagesPerSecond > 0 || cfg.MaxRelayBytesPerSecond > 0) && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("RELAY_INBOUND_BURST_SECONDS must be >= 1 when relay limits are enabled")
	}
	if cfg.MaxRelayBytesPerSecond > 0 && cfg.MaxRelayBytesPerSecond*int64(cfg.InboundBurstSeconds) < cfg.MaxMessageBytes {
		return Config{}, fmt.Errorf("RELAY_MAX_RELAY_BPS * RELAY_INBOUND_BURST_SECONDS must be >= RELAY_MAX_MESSAGE_BYTES")
	}
	if cfg.JoinTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_JOIN_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("RELAY_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.WSReadTimeout > 0 && cfg.WSReadTimeout <= cfg.WSPingInterval {
		return Config{}, fmt.Errorf("RELAY_WS_READ_TIMEOUT must be > RELAY_WS_PING_INTERVAL")
	}
	if cfg.JoinRPS < 0 {
		return Config{}, fmt.Errorf("RELAY_JOIN_RPS must be >= 0")
	}
	if cfg.JoinBurst < 0 {
		return Config{}, fmt.Errorf("RELAY_JOIN_BURST must be >= 0")
	}
	if cfg.MaxPeersPerAddress < 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_PEERS_PER_ADDRESS must be >= 0")
	}
	if cfg.RedisURL != "" && !strings.HasPrefix(cfg.RedisURL, "redis://") && !strings.HasPrefix(cfg.RedisURL, "rediss://") {
		return Config{}, fmt.Errorf("RELAY_REDIS_URL must start with redis:// or rediss://")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("RELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// AuthEnabled reports whether joins must present a bearer token.
func (c Config) AuthEnabled() bool {
	return len(c.AuthTokens) > 0
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
