// Command livetranslate-relay runs the room hub that connects the two
// participants of a call.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/vai-livetranslate/internal/bootstrap"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/config"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/backplane"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/room"
	relayserver "github.com/vango-go/vai-livetranslate/pkg/gateway/server"
)

type backplaneConn interface {
	room.Backplane
	Close() error
}

type relayDeps struct {
	loadConfig   func() (config.Config, error)
	newServer    func(config.Config, *slog.Logger, ...relayserver.Option) *relayserver.Server
	newBackplane func(ctx context.Context, url string, logger *slog.Logger) (backplaneConn, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultRelayDeps() relayDeps {
	return relayDeps{
		loadConfig: config.LoadFromEnv,
		newServer:  relayserver.New,
		newBackplane: func(ctx context.Context, url string, logger *slog.Logger) (backplaneConn, error) {
			return backplane.NewRedis(ctx, url, logger)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runRelay(ctx context.Context, logger *slog.Logger, deps relayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newServer == nil {
		return errors.New("missing newServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var opts []relayserver.Option
	if cfg.RedisURL != "" {
		if deps.newBackplane == nil {
			return errors.New("missing newBackplane dependency")
		}
		bp, err := deps.newBackplane(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect backplane: %w", err)
		}
		defer bp.Close()
		opts = append(opts, relayserver.WithBackplane(bp))
	}

	relay := deps.newServer(cfg, logger, opts...)
	httpSrv := buildHTTPServer(cfg, relay.Handler())

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	hubErrCh := make(chan error, 1)
	go func() { hubErrCh <- relay.Hub().Run(hubCtx) }()

	logger.Info("starting relay",
		"addr", cfg.Addr,
		"instance_id", relay.Hub().InstanceID(),
		"auth_enabled", cfg.AuthEnabled(),
		"backplane", cfg.RedisURL != "",
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case err := <-hubErrCh:
		_ = httpSrv.Close()
		if err != nil {
			return fmt.Errorf("hub: %w", err)
		}
		return errors.New("hub stopped unexpectedly")
	case <-ctx.Done():
		_ = httpSrv.Close()
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer drainCancel()
	if !relay.Drain(drainCtx) {
		logger.Warn("peers still connected after grace period")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	hubCancel()
	if err := <-hubErrCh; err != nil {
		logger.Warn("hub stopped with error", "error", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("relay stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps relayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := bootstrap.LoadDotenv(".env"); err != nil {
		fmt.Fprintf(stderr, "livetranslate-relay: %v\n", err)
		return 1
	}
	logger, err := bootstrap.NewLogger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "livetranslate-relay: %v\n", err)
		return 1
	}

	if err := runRelay(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "livetranslate-relay: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultRelayDeps()))
}
