package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/vai-livetranslate/pkg/gateway/config"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/handlers"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/room"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/metrics"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/mw"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/ratelimit"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	hub       *room.Hub
	backplane room.Backplane
	peers     *sessions.Tracker
	lifecycle *lifecycle.Lifecycle
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
}

type Option func(*Server)

// WithBackplane connects the hub to other relay instances.
func WithBackplane(bp room.Backplane) Option {
	return func(s *Server) { s.backplane = bp }
}

// WithMetrics replaces the server's metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		peers:     sessions.NewTracker(),
		lifecycle: &lifecycle.Lifecycle{},
		limiter: ratelimit.New(ratelimit.Config{
			JoinRPS:            cfg.JoinRPS,
			JoinBurst:          cfg.JoinBurst,
			MaxConcurrentPeers: cfg.MaxPeersPerAddress,
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New("")
	}

	s.hub = room.New(room.Deps{
		Config: room.Config{
			MaxPeersPerRoom:           cfg.MaxPeersPerRoom,
			MaxRooms:                  cfg.MaxRooms,
			MaxMessageBytes:           cfg.MaxMessageBytes,
			OutboundQueueSize:         cfg.OutboundQueueSize,
			MaxRelayMessagesPerSecond: cfg.MaxRelayMessagesPerSecond,
			MaxRelayBytesPerSecond:    cfg.MaxRelayBytesPerSecond,
			InboundBurstSeconds:       cfg.InboundBurstSeconds,
			PingInterval:              cfg.WSPingInterval,
			WriteTimeout:              cfg.WSWriteTimeout,
			ReadTimeout:               cfg.WSReadTimeout,
			InstanceID:                cfg.InstanceID,
		},
		Backplane: s.backplane,
		Metrics:   s.metrics,
		Logger:    logger,
	})

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle, Hub: s.hub})
	s.mux.Handle("/metrics", s.metrics.Handler())

	var join http.Handler = handlers.RoomHandler{
		Config:    s.cfg,
		Hub:       s.hub,
		Peers:     s.peers,
		Lifecycle: s.lifecycle,
		Metrics:   s.metrics,
		Logger:    s.logger,
	}
	join = mw.JoinLimit(s.limiter, s.cfg.TrustProxyHeaders, s.metrics.RecordJoinDenied, join)
	join = mw.Auth(s.cfg.AuthTokens, join)
	s.mux.Handle("/v1/rooms/{room}/ws", join)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Hub returns the room hub. Its Run method must be started by the caller
// when a backplane is configured.
func (s *Server) Hub() *room.Hub { return s.hub }

func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Drain stops accepting joins, warns every peer, closes them and waits for
// their handlers to return or ctx to end. It reports whether all peers
// finished in time.
func (s *Server) Drain(ctx context.Context) bool {
	if !s.lifecycle.BeginDrain(time.Now()) {
		return s.peers.Wait(ctx)
	}
	s.hub.Drain()

	warned := s.peers.WarnAll("draining", "relay is shutting down; reconnect to continue")
	canceled := s.peers.CancelAll()
	s.logger.Info("draining peers", "warned", warned, "canceled", canceled)
	return s.peers.Wait(ctx)
}
