// Command livetranslate translates the local microphone for the other
// participant of a call and plays their translated speech.
//
// Usage:
//
//	LIVETRANSLATE_SELF_ID=alice LIVETRANSLATE_SOURCE_LANGUAGE=ja \
//	LIVETRANSLATE_RELAY_URL=ws://localhost:8090 LIVETRANSLATE_ROOM=call-1 \
//	GEMINI_API_KEY=... livetranslate
//
// Commands on stdin:
//
//	/speed <mode>   ultrafast, realtime, balanced or economy
//	/local on|off   play your own translation locally
//	/stop           stop translating
//	/open           start translating again
//	/usage          print token usage
//	q               quit
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-livetranslate/internal/appconfig"
	"github.com/vango-go/vai-livetranslate/internal/bootstrap"
	"github.com/vango-go/vai-livetranslate/pkg/core/live"
	"github.com/vango-go/vai-livetranslate/pkg/core/providers/gemini"
	"github.com/vango-go/vai-livetranslate/pkg/core/types"
	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
	"github.com/vango-go/vai-livetranslate/pkg/core/usage/postgres"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/metrics"
	livetranslate "github.com/vango-go/vai-livetranslate/sdk"
)

type clientDeps struct {
	loadConfig func() (appconfig.Config, error)
	openAudio  func(push func([]float32) bool, playback io.Reader, logger *slog.Logger) (io.Closer, error)
	joinRoom   func(ctx context.Context, cfg livetranslate.RoomConfig) (*livetranslate.RoomClient, error)
	newDialer  func(cfg appconfig.Config, logger *slog.Logger) live.Dialer
	stdin      io.Reader
}

func defaultClientDeps() clientDeps {
	return clientDeps{
		loadConfig: appconfig.LoadFromEnv,
		openAudio:  openAudio,
		joinRoom:   livetranslate.JoinRoom,
		newDialer: func(cfg appconfig.Config, logger *slog.Logger) live.Dialer {
			return gemini.NewLiveDialer(gemini.LiveConfig{APIKey: cfg.APIKey, Model: cfg.Model}, gemini.WithLogger(logger))
		},
		stdin: os.Stdin,
	}
}

func runClient(ctx context.Context, out io.Writer, logger *slog.Logger, deps clientDeps) error {
	if deps.loadConfig == nil || deps.openAudio == nil || deps.joinRoom == nil || deps.newDialer == nil {
		return errors.New("missing client dependency")
	}
	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	m := metrics.New("")

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ledger := usage.NewLedger(usage.Options{Prices: cfg.Prices, Store: store, Owner: cfg.SelfID})
	if err := ledger.Load(ctx); err != nil {
		logger.Warn("lifetime usage not loaded", "error", err)
	}

	var confirmer *live.Confirmer
	translator, err := gemini.NewTranslator(ctx, gemini.TranslatorConfig{APIKey: cfg.APIKey, Model: cfg.TranslateModel})
	if err != nil {
		logger.Warn("confirmations disabled", "error", err)
	} else {
		confirmer = live.NewConfirmer(translator, live.ConfirmerOptions{
			Timeout: cfg.ConfirmTimeout,
			Logger:  logger,
			Metrics: m,
		})
	}

	var room *livetranslate.RoomClient
	if cfg.RelayURL != "" {
		room, err = deps.joinRoom(ctx, livetranslate.RoomConfig{
			BaseURL:     cfg.RelayURL,
			RoomID:      cfg.RoomID,
			Participant: cfg.Participant(),
			Token:       cfg.RelayToken,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		defer room.Close()
		logger.Info("joined room", "room_id", room.RoomID(), "peer_id", room.PeerID())
	}

	playback := live.NewPlaybackContext(live.OutputSampleRate)
	defer playback.Close()

	engineDeps := live.Dependencies{
		Dialer:    deps.newDialer(cfg, logger),
		Playback:  playback,
		Confirmer: confirmer,
		Ledger:    ledger,
		Metrics:   m,
		Logger:    logger,
	}
	if room != nil {
		engineDeps.Relay = room
	}
	ctrl, err := live.NewController(cfg.SessionConfig(), engineDeps)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	audio, err := deps.openAudio(ctrl.PushFrame, playback.Reader(), logger)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer audio.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return printEvents(gctx, out, ctrl.Events()) })

	rosterReady := make(chan struct{})
	if room != nil {
		g.Go(func() error { return pumpRoom(gctx, room, ctrl, rosterReady) })
	} else {
		g.Go(func() error {
			if err := ctrl.UpdateRoster(gctx, types.Roster{selfParticipant(cfg)}); err != nil {
				return nil
			}
			close(rosterReady)
			return nil
		})
	}
	g.Go(func() error {
		select {
		case <-rosterReady:
		case <-gctx.Done():
			return nil
		}
		if err := ctrl.Open(gctx); err != nil && gctx.Err() == nil {
			logger.Warn("translation not started", "error", err)
		}
		return nil
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	quit := make(chan struct{})
	if deps.stdin != nil {
		go readCommands(deps.stdin, out, ctrl, quit)
	}
	g.Go(func() error {
		select {
		case <-quit:
			return errQuit
		case <-gctx.Done():
			return nil
		}
	})

	fmt.Fprintf(out, "livetranslate: %s speaking %s (%s mode)\n", cfg.SelfID, cfg.SourceLanguage, ctrl.Profile().Mode)
	err = g.Wait()
	snap := ledger.Snapshot()
	fmt.Fprintf(out, "session usage: %d in / %d out tokens, $%.4f\n", snap.Session.InputTokens(), snap.Session.OutputTokens(), snap.Session.CostUSD)
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errQuit = errors.New("quit")

func openStore(ctx context.Context, cfg appconfig.Config, logger *slog.Logger) (usage.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return usage.NewMemoryStore(), func() {}, nil
	}
	store, pool, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open usage store: %w", err)
	}
	logger.Info("lifetime usage persisted in postgres")
	return store, pool.Close, nil
}

func selfParticipant(cfg appconfig.Config) types.Participant {
	p := cfg.Participant()
	p.IsSelf = true
	return p
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// roomFeed is the part of a room connection pumpRoom reads.
type roomFeed interface {
	Roster() types.Roster
	Rosters() <-chan types.Roster
	Incoming() <-chan livetranslate.Incoming
	Done() <-chan struct{}
	Err() error
}

// rosterSink is the part of the controller pumpRoom feeds.
type rosterSink interface {
	UpdateRoster(ctx context.Context, roster types.Roster) error
	HandleRelay(ctx context.Context, env protocol.Envelope) error
}

// pumpRoom applies the room's current roster, closes ready, then feeds roster
// changes and relayed envelopes into the controller until the room connection
// ends. Rosters are applied from this goroutine only, so an older snapshot can
// never overwrite a newer one.
func pumpRoom(ctx context.Context, room roomFeed, ctrl rosterSink, ready chan<- struct{}) error {
	if err := ctrl.UpdateRoster(ctx, room.Roster()); err != nil {
		return nil
	}
	close(ready)

	rosters := room.Rosters()
	incoming := room.Incoming()
	for {
		select {
		case <-ctx.Done():
			return nil
		case roster, ok := <-rosters:
			if !ok {
				rosters = nil
				continue
			}
			if err := ctrl.UpdateRoster(ctx, roster); err != nil {
				return nil
			}
		case in, ok := <-incoming:
			if !ok {
				incoming = nil
				continue
			}
			if err := ctrl.HandleRelay(ctx, in.Envelope); err != nil {
				return nil
			}
		case <-room.Done():
			if err := room.Err(); err != nil {
				return fmt.Errorf("relay: %w", err)
			}
			return errors.New("relay connection closed")
		}
	}
}

func printEvents(ctx context.Context, out io.Writer, events <-chan live.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if line := formatEvent(ev); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}
}

func formatEvent(ev live.Event) string {
	switch e := ev.(type) {
	case *live.SessionOpenedEvent:
		if e.Solo {
			return fmt.Sprintf("[session] translating %s → %s (solo)", e.SourceLanguage, e.TargetLanguage)
		}
		return fmt.Sprintf("[session] translating %s → %s", e.SourceLanguage, e.TargetLanguage)
	case *live.SessionClosedEvent:
		return fmt.Sprintf("[session] closed: %s", e.Reason)
	case *live.LanguageUpdatedEvent:
		return fmt.Sprintf("[session] target language %s", e.TargetLanguage)
	case *live.InputTranscriptEvent:
		return fmt.Sprintf("[you] %s", strings.TrimSpace(e.Text))
	case *live.TranslationEvent:
		return fmt.Sprintf("[translation %s] %s", e.Record.ToLanguage, e.Record.TranslatedText)
	case *live.TranslationConfirmedEvent:
		return fmt.Sprintf("[heard as] %s", e.Record.ConfirmedOriginalText)
	case *live.PeerTranslationEvent:
		return fmt.Sprintf("[%s] %s", e.Record.FromParticipant, e.Record.TranslatedText)
	case *live.ErrorEvent:
		return fmt.Sprintf("[error] %s", e.Message)
	default:
		return ""
	}
}

func readCommands(r io.Reader, out io.Writer, ctrl *live.Controller, quit chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		msg, done := runCommand(scanner.Text(), ctrl)
		if done {
			close(quit)
			return
		}
		if msg != "" {
			fmt.Fprintln(out, msg)
		}
	}
}

// runCommand applies one stdin command. done reports a quit request.
func runCommand(line string, ctrl *live.Controller) (msg string, done bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	switch strings.ToLower(fields[0]) {
	case "q", "/quit", "/exit":
		return "", true
	case "/speed":
		if len(fields) != 2 {
			return "usage: /speed <ultrafast|realtime|balanced|economy>", false
		}
		mode, err := live.ParseSpeedMode(fields[1])
		if err == nil {
			err = ctrl.SetSpeedMode(mode)
		}
		if err != nil {
			return err.Error(), false
		}
		return fmt.Sprintf("speed mode %s", mode), false
	case "/local":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return "usage: /local on|off", false
		}
		ctrl.SetLocalPlayback(fields[1] == "on")
		return "local playback " + fields[1], false
	case "/stop":
		ctrl.Stop()
		return "translation stopped", false
	case "/open":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ctrl.Open(ctx); err != nil {
			return err.Error(), false
		}
		return "translation enabled", false
	case "/usage":
		snap := ctrl.Ledger().Snapshot()
		return fmt.Sprintf("session %d/%d tokens $%.4f, lifetime %d/%d tokens $%.4f",
			snap.Session.InputTokens(), snap.Session.OutputTokens(), snap.Session.CostUSD,
			snap.Lifetime.InputTokens(), snap.Lifetime.OutputTokens(), snap.Lifetime.CostUSD), false
	default:
		return "unknown command " + fields[0], false
	}
}

func runMain(ctx context.Context, stdout, stderr io.Writer, deps clientDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := bootstrap.LoadDotenv(".env"); err != nil {
		fmt.Fprintf(stderr, "livetranslate: %v\n", err)
		return 1
	}
	logger, err := bootstrap.NewLogger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "livetranslate: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runClient(ctx, stdout, logger, deps); err != nil {
		fmt.Fprintf(stderr, "livetranslate: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stdout, os.Stderr, defaultClientDeps()))
}
