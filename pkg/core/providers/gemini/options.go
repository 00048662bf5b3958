package gemini

import (
	"log/slog"

	"github.com/gorilla/websocket"
)

// Option configures a LiveDialer.
type Option func(*LiveDialer)

// WithBaseWSURL sets the Live endpoint.
// Default: DefaultLiveURL
func WithBaseWSURL(url string) Option {
	return func(d *LiveDialer) {
		d.baseURL = url
	}
}

// WithWebsocketDialer sets the dialer used to connect.
func WithWebsocketDialer(dialer *websocket.Dialer) Option {
	return func(d *LiveDialer) {
		d.ws = dialer
	}
}

// WithLogger sets the logger for connection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *LiveDialer) {
		d.logger = logger
	}
}
