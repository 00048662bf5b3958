package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vango-go/vai-livetranslate/pkg/core"
	"github.com/vango-go/vai-livetranslate/pkg/core/routing"
	"github.com/vango-go/vai-livetranslate/pkg/core/types"
	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/protocol"
)

const (
	eventBufferSize     = 256
	controlQueueSize    = 4
	persistTimeout      = 5 * time.Second
	sessionEventBacklog = 64
)

var (
	// ErrControllerStopped is returned by commands once Run has exited.
	ErrControllerStopped = errors.New("live: controller stopped")
	// ErrSessionClosed is returned by Open when the session it was waiting
	// for was torn down before it became active.
	ErrSessionClosed = errors.New("live: session closed before it became active")
)

// Dependencies are the collaborators of a Controller. Only Dialer is required.
type Dependencies struct {
	Dialer    Dialer
	Playback  *PlaybackContext
	Relay     Relay
	Confirmer *Confirmer
	Ledger    *usage.Ledger
	Metrics   MetricsRecorder
	Logger    *slog.Logger
	Now       func() time.Time
}

type sessionEventKind int

const (
	sessionOpened sessionEventKind = iota
	sessionMessage
	sessionError
	sessionClosed
)

type sessionEvent struct {
	gen       uint64
	kind      sessionEventKind
	transport Transport
	msg       ServerMessage
	err       error
}

type confirmation struct {
	id   string
	text string
}

// session is one remote translation session. It is owned by the loop.
type session struct {
	gen       uint64
	id        string
	route     routing.Route
	ctx       context.Context
	cancel    context.CancelFunc
	transport Transport
	handshake *time.Timer

	audioQ   chan OutboundAudioBatch
	controlQ chan string

	active      bool
	activatedAt time.Time

	turn          strings.Builder
	original      strings.Builder
	sawTranscript bool
}

// Controller runs the translation session for the local participant. Run is
// its event loop and the only goroutine that touches session state; every
// other method either posts a command to the loop or uses thread-safe parts.
type Controller struct {
	cfg       SessionConfig
	dialer    Dialer
	relay     Relay
	confirmer *Confirmer
	ledger    *usage.Ledger
	metrics   MetricsRecorder
	logger    *slog.Logger
	now       func() time.Time

	capture   *CaptureBuffer
	// scheduler plays this side's own translation; peerAudio plays what the
	// other participant relays. An interrupt of the local session only
	// touches scheduler.
	scheduler *PlaybackScheduler
	peerAudio *PlaybackScheduler
	text      *TextBuffer

	state         atomic.Int32
	profile       atomic.Pointer[SpeedProfile]
	localPlayback atomic.Bool
	running       atomic.Bool

	errMu   sync.Mutex
	lastErr *core.Error

	cmds          chan func()
	sessionEvents chan sessionEvent
	confirmations chan confirmation
	events        chan Event
	done          chan struct{}
	bg            sync.WaitGroup

	// Loop-owned.
	runCtx       context.Context
	enabled      bool
	roster       types.Roster
	sess         *session
	gen          uint64
	waiters      []chan error
	history      []types.TranslationRecord
	textTimer    *time.Timer
	lastLifetime usage.Counters
}

// NewController validates cfg and wires the controller's collaborators.
func NewController(cfg SessionConfig, deps Dependencies) (*Controller, error) {
	if deps.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	cfg.applyDefaults()
	profile, err := cfg.profile(cfg.SpeedMode)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Relay == nil {
		deps.Relay = noopRelay{}
	}
	if deps.Ledger == nil {
		deps.Ledger = usage.NewLedger(usage.Options{})
	}
	if deps.Playback == nil {
		deps.Playback = NewPlaybackContext(OutputSampleRate)
	}

	c := &Controller{
		cfg:           cfg,
		dialer:        deps.Dialer,
		relay:         deps.Relay,
		confirmer:     deps.Confirmer,
		ledger:        deps.Ledger,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		now:           deps.Now,
		capture:       NewCaptureBuffer(InputSampleRate),
		scheduler:     NewPlaybackScheduler(deps.Playback, deps.Logger),
		peerAudio:     NewPlaybackScheduler(deps.Playback, deps.Logger),
		text:          NewTextBuffer(profile.TextBufferDelay),
		cmds:          make(chan func()),
		sessionEvents: make(chan sessionEvent, sessionEventBacklog),
		confirmations: make(chan confirmation, 16),
		events:        make(chan Event, eventBufferSize),
		done:          make(chan struct{}),
	}
	c.profile.Store(&profile)
	c.ledger.SetCostMultiplier(profile.CostMultiplier)
	c.localPlayback.Store(cfg.LocalPlayback)
	c.lastLifetime = c.ledger.Snapshot().Lifetime
	return c, nil
}

// State returns the current session state.
func (c *Controller) State() SessionState { return SessionState(c.state.Load()) }

// IsActive reports whether audio is streaming to the remote endpoint.
func (c *Controller) IsActive() bool { return c.State() == StateActive }

// Err returns the last surfaced error, cleared by the next Open.
func (c *Controller) Err() *core.Error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Events returns the controller's event stream. Events are dropped when the
// consumer falls behind.
func (c *Controller) Events() <-chan Event { return c.events }

// Profile returns the active speed profile.
func (c *Controller) Profile() SpeedProfile { return *c.profile.Load() }

// Ledger returns the usage ledger.
func (c *Controller) Ledger() *usage.Ledger { return c.ledger }

// PushFrame queues one capture frame. It never blocks and drops the frame when
// no session is active.
func (c *Controller) PushFrame(frame []float32) bool { return c.capture.Push(frame) }

// SetSpeedMode switches the speed profile. The capture interval changes on the
// next flush; the text delay applies to text held afterwards.
func (c *Controller) SetSpeedMode(mode SpeedMode) error {
	profile, err := c.cfg.profile(mode)
	if err != nil {
		return err
	}
	c.profile.Store(&profile)
	c.text.SetDelay(profile.TextBufferDelay)
	c.ledger.SetCostMultiplier(profile.CostMultiplier)
	return nil
}

// SetLocalPlayback toggles playback of the local speaker's own translation.
func (c *Controller) SetLocalPlayback(on bool) { c.localPlayback.Store(on) }

// Open enables translation and opens a session if the roster yields a target.
// It blocks until the session is active or fails. With no target it returns
// nil and the session opens later when the roster changes.
func (c *Controller) Open(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.do(ctx, func() { c.handleOpen(reply) }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerStopped
	}
}

// Stop disables translation and tears down any session. It is idempotent and
// returns once teardown has run.
func (c *Controller) Stop() {
	finished := make(chan struct{})
	err := c.do(context.Background(), func() {
		c.enabled = false
		c.teardown("stopped", ErrSessionClosed)
		close(finished)
	})
	if err != nil {
		return
	}
	select {
	case <-finished:
	case <-c.done:
	}
}

// UpdateRoster hands the controller a new call roster.
func (c *Controller) UpdateRoster(ctx context.Context, roster types.Roster) error {
	roster = roster.Clone()
	return c.do(ctx, func() {
		c.roster = roster
		c.reconcile(c.resolveRoute())
	})
}

// HandleRelay processes an envelope received from another participant.
func (c *Controller) HandleRelay(ctx context.Context, env protocol.Envelope) error {
	return c.do(ctx, func() { c.handleRelay(env) })
}

func (c *Controller) do(ctx context.Context, fn func()) error {
	select {
	case c.cmds <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerStopped
	}
}

// Run is the controller's event loop. It returns when ctx is canceled, after
// tearing down any session and waiting for detached persistence.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("controller is already running")
	}
	c.runCtx = ctx
	defer close(c.done)
	defer c.bg.Wait()
	defer func() {
		c.stopTextTimer()
		c.teardown("shutdown", ErrControllerStopped)
		c.peerAudio.Reset()
	}()

	for {
		var textC, handshakeC <-chan time.Time
		if c.textTimer != nil {
			textC = c.textTimer.C
		}
		if c.sess != nil && c.sess.handshake != nil {
			handshakeC = c.sess.handshake.C
		}

		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.cmds:
			fn()
		case ev := <-c.sessionEvents:
			c.handleSessionEvent(ev)
		case conf := <-c.confirmations:
			c.applyConfirmation(conf)
		case <-textC:
			c.textTimer = nil
			if out := c.text.Due(c.now()); out != "" {
				c.emitText(out)
			}
			c.armTextTimer()
		case <-handshakeC:
			c.sess.handshake = nil
			c.fail(core.NewSetupError("handshake timed out", context.DeadlineExceeded), "handshake_timeout")
		}
	}
}

func (c *Controller) handleOpen(reply chan error) {
	c.enabled = true
	c.setErr(nil)

	if s := c.sess; s != nil {
		if s.active {
			reply <- nil
			return
		}
		c.waiters = append(c.waiters, reply)
		return
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		ce := core.NewAuthenticationError("api key is required", nil)
		c.surface(ce)
		c.enabled = false
		reply <- ce
		return
	}
	route := c.resolveRoute()
	if !route.OK {
		reply <- nil
		return
	}
	c.waiters = append(c.waiters, reply)
	c.openSession(route)
}

func (c *Controller) resolveRoute() routing.Route {
	route := routing.Resolve(c.roster, c.cfg.SelfID, routing.Options{
		Source:        c.cfg.SourceLanguage,
		DevSolo:       c.cfg.DevSolo,
		DefaultTarget: c.cfg.DefaultTarget,
	})
	if len(c.cfg.TargetLanguages) == 0 || !route.OK || route.Solo {
		return route
	}
	for _, want := range c.cfg.TargetLanguages {
		if lang := types.NormalizeLanguage(want); slices.Contains(route.Others, lang) {
			route.Target = lang
			return route
		}
	}
	route.Target = ""
	route.OK = false
	return route
}

// reconcile moves the session toward what route asks for.
func (c *Controller) reconcile(route routing.Route) {
	s := c.sess
	switch {
	case s == nil:
		if c.enabled && route.OK {
			c.openSession(route)
		}
	case !route.OK:
		c.teardown("no_target", ErrSessionClosed)
	case route.SameSession(s.route):
		s.route.Others = route.Others
	case !s.active:
		c.reopen(route, "route_changed")
	case types.NormalizeLanguage(route.Source) != types.NormalizeLanguage(s.route.Source):
		c.reopen(route, "source_changed")
		c.emit(&LanguageUpdatedEvent{TargetLanguage: route.Target})
	default:
		if _, ok := s.transport.(TextSender); ok {
			prompt := routing.BuildUpdatePrompt(route.Source, route.Target)
			select {
			case s.controlQ <- prompt:
				c.logger.Info("translation target updated in band", "session_id", s.id, "target", route.Target)
				s.route = route
				c.emit(&LanguageUpdatedEvent{TargetLanguage: route.Target, InBand: true})
				return
			default:
				c.logger.Warn("instruction queue full, reopening session", "session_id", s.id)
			}
		}
		c.reopen(route, "target_changed")
		c.emit(&LanguageUpdatedEvent{TargetLanguage: route.Target})
	}
}

func (c *Controller) openSession(route routing.Route) {
	c.gen++
	ctx, cancel := context.WithCancel(c.runCtx)
	s := &session{
		gen:       c.gen,
		id:        uuid.NewString(),
		route:     route,
		ctx:       ctx,
		cancel:    cancel,
		handshake: time.NewTimer(c.cfg.HandshakeTimeout),
		audioQ:    make(chan OutboundAudioBatch, c.cfg.SendQueueSize),
		controlQ:  make(chan string, controlQueueSize),
	}
	c.sess = s
	c.setState(StateOpening)

	setup := SessionSetup{
		APIKey:            c.cfg.APIKey,
		Model:             c.cfg.Model,
		SourceLanguage:    route.Source,
		TargetLanguage:    route.Target,
		SystemInstruction: routing.BuildPrompt(route.Source, route.Target),
		InputMIMEType:     PCMMIMEType(InputSampleRate),
	}
	c.logger.Info("opening translation session",
		"session_id", s.id,
		"source", route.Source,
		"target", route.Target,
		"solo", route.Solo,
	)

	go func() {
		t, err := c.dialer.Dial(ctx, setup)
		if err != nil {
			c.post(ctx, sessionEvent{gen: s.gen, kind: sessionError, err: err})
			return
		}
		if !c.post(ctx, sessionEvent{gen: s.gen, kind: sessionOpened, transport: t}) {
			_ = t.Close()
		}
	}()
}

func (c *Controller) reopen(route routing.Route, reason string) {
	c.closeSession(reason)
	c.openSession(route)
}

func (c *Controller) post(ctx context.Context, ev sessionEvent) bool {
	select {
	case c.sessionEvents <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

func (c *Controller) handleSessionEvent(ev sessionEvent) {
	s := c.sess
	if s == nil || ev.gen != s.gen {
		if ev.kind == sessionOpened && ev.transport != nil {
			_ = ev.transport.Close()
		}
		return
	}

	switch ev.kind {
	case sessionOpened:
		s.transport = ev.transport
		go c.readLoop(s, ev.transport)
		go c.sendLoop(s, ev.transport)
	case sessionMessage:
		c.handleMessage(s, ev.msg)
	case sessionError:
		c.handleError(s, ev.err)
	case sessionClosed:
		c.handleClosed(s, ev.err)
	}
}

func (c *Controller) readLoop(s *session, t Transport) {
	msgs := t.Messages()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.post(s.ctx, sessionEvent{gen: s.gen, kind: sessionClosed, err: t.Err()})
				return
			}
			if !c.post(s.ctx, sessionEvent{gen: s.gen, kind: sessionMessage, msg: msg}) {
				return
			}
		}
	}
}

// sendLoop writes queued audio and instruction updates in order. Updates go
// first. It keeps going after ordinary provider errors and stops on anything
// the loop will tear the session down for.
func (c *Controller) sendLoop(s *session, t Transport) {
	report := func(err error) bool {
		if err == nil {
			return true
		}
		if s.ctx.Err() != nil {
			return false
		}
		c.post(s.ctx, sessionEvent{gen: s.gen, kind: sessionError, err: err})
		return core.Classify(err) == core.ErrProvider
	}
	sendText := func(text string) bool {
		ts, ok := t.(TextSender)
		if !ok {
			return true
		}
		return report(ts.SendText(s.ctx, text))
	}
	sendAudio := func(batch OutboundAudioBatch) bool {
		if err := t.SendAudio(s.ctx, batch); err != nil {
			return report(err)
		}
		c.ledger.RecordAudio(batch.Duration.Seconds(), 0)
		c.metrics.RecordAudio("in", len(batch.PCM))
		return true
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case text := <-s.controlQ:
			if !sendText(text) {
				return
			}
			continue
		default:
		}

		select {
		case <-s.ctx.Done():
			return
		case text := <-s.controlQ:
			if !sendText(text) {
				return
			}
		case batch := <-s.audioQ:
			if !sendAudio(batch) {
				return
			}
		}
	}
}

func (c *Controller) activate(s *session) {
	if s.active {
		return
	}
	s.active = true
	s.activatedAt = c.now()
	if s.handshake != nil {
		s.handshake.Stop()
		s.handshake = nil
	}

	c.capture.Reset()
	c.capture.Attach()
	go c.capture.Run(s.ctx, func() time.Duration { return c.profile.Load().SendInterval }, func(batch OutboundAudioBatch) {
		select {
		case s.audioQ <- batch:
		default:
			c.logger.Warn("send queue full, dropping audio batch", "session_id", s.id, "duration", batch.Duration)
		}
	})

	c.setState(StateActive)
	c.metrics.RecordSessionStart(s.route.Solo)
	c.logger.Info("translation session active", "session_id", s.id)
	c.emit(&SessionOpenedEvent{
		SessionID:      s.id,
		SourceLanguage: s.route.Source,
		TargetLanguage: s.route.Target,
		Solo:           s.route.Solo,
	})
	c.resolveWaiters(nil)
}

func (c *Controller) handleMessage(s *session, msg ServerMessage) {
	if msg.SetupComplete {
		c.activate(s)
	}
	if msg.Usage != nil {
		c.observeUsage(c.ledger.Update(*msg.Usage), true)
	}

	for _, part := range msg.Audio {
		c.handleAudio(s, part)
	}
	if msg.OutputTranscript != "" {
		s.sawTranscript = true
		c.addTranslatedText(s, msg.OutputTranscript)
	}
	if !s.sawTranscript {
		for _, text := range msg.Text {
			c.addTranslatedText(s, text)
		}
	}
	if msg.InputTranscript != "" {
		s.original.WriteString(msg.InputTranscript)
		c.emit(&InputTranscriptEvent{Text: msg.InputTranscript})
	}

	if msg.Interrupted {
		dropped := c.scheduler.Interrupt()
		c.logger.Debug("output interrupted", "session_id", s.id, "dropped_chunks", dropped)
		c.emit(&InterruptedEvent{DroppedChunks: dropped})
	}
	if msg.TurnComplete {
		c.completeTurn(s)
	}
	if msg.GoAway && c.sess == s {
		c.logger.Info("endpoint requested handover, reopening", "session_id", s.id)
		c.reopen(s.route, "go_away")
	}
}

func (c *Controller) handleAudio(s *session, part InlineAudio) {
	pcm, err := base64.StdEncoding.DecodeString(part.Data)
	if err != nil || len(pcm) == 0 {
		c.logger.Debug("dropping undecodable translated audio", "session_id", s.id, "error", err)
		return
	}
	mime := part.MIMEType
	if mime == "" {
		mime = PCMMIMEType(OutputSampleRate)
	}
	rate := ParsePCMRate(mime, OutputSampleRate)

	if c.localPlayback.Load() {
		c.scheduler.Enqueue(pcm, mime)
	}
	env := protocol.NewTranslatedAudio(part.Data, mime, c.cfg.SelfID, s.route.Source, c.now())
	if err := c.relay.Broadcast(env); err != nil {
		c.logger.Debug("relay dropped translated audio", "session_id", s.id, "error", err)
	}

	seconds := AudioConfig{SampleRate: rate, Channels: 1, BitsPerSample: 16}.Duration(len(pcm)).Seconds()
	c.observeUsage(c.ledger.RecordAudio(0, seconds), false)
	c.metrics.RecordAudio("out", len(pcm))
}

func (c *Controller) addTranslatedText(s *session, delta string) {
	s.turn.WriteString(delta)
	c.observeUsage(c.ledger.RecordTextString(delta), false)
	if out := c.text.Add(delta, c.now()); out != "" {
		c.emitText(out)
	}
	c.armTextTimer()
}

func (c *Controller) emitText(out string) {
	turn := ""
	if c.sess != nil {
		turn = strings.TrimSpace(c.sess.turn.String())
	}
	c.emit(&TranslationTextEvent{Text: out, Turn: turn})
}

func (c *Controller) completeTurn(s *session) {
	c.stopTextTimer()
	if rest := c.text.Flush(); rest != "" {
		c.emitText(rest)
	}
	translated := strings.TrimSpace(s.turn.String())
	original := strings.TrimSpace(s.original.String())
	s.turn.Reset()
	s.original.Reset()
	s.sawTranscript = false
	if translated == "" {
		return
	}

	rec := types.TranslationRecord{
		ID:              uuid.NewString(),
		FromParticipant: c.cfg.SelfID,
		FromLanguage:    s.route.Source,
		ToLanguage:      s.route.Target,
		OriginalText:    original,
		TranslatedText:  translated,
		Timestamp:       c.now(),
	}
	c.remember(rec)
	c.emit(&TranslationEvent{Record: rec})
	if err := c.relay.Broadcast(protocol.NewTranslation(rec)); err != nil {
		c.logger.Debug("relay dropped translation", "session_id", s.id, "error", err)
	}
	c.confirmer.Confirm(rec.ID, translated, s.route.Target, s.route.Source, c.deliverConfirmation)
	c.emit(&UsageEvent{Usage: c.ledger.Snapshot()})
}

func (c *Controller) remember(rec types.TranslationRecord) {
	c.history = append(c.history, rec)
	if over := len(c.history) - c.cfg.HistorySize; over > 0 {
		c.history = slices.Delete(c.history, 0, over)
	}
}

// deliverConfirmation runs on a confirmer goroutine.
func (c *Controller) deliverConfirmation(id, text string) {
	select {
	case c.confirmations <- confirmation{id: id, text: text}:
	case <-c.done:
	}
}

func (c *Controller) applyConfirmation(conf confirmation) {
	for i := range c.history {
		if c.history[i].ID != conf.id {
			continue
		}
		c.history[i].ConfirmedOriginalText = conf.text
		c.emit(&TranslationConfirmedEvent{Record: c.history[i]})
		return
	}
	c.logger.Debug("discarding confirmation for expired record", "record_id", conf.id)
}

func (c *Controller) handleRelay(env protocol.Envelope) {
	switch env.Type {
	case protocol.EnvelopeTranslatedAudio:
		if c.cfg.SelfID != "" && env.From == c.cfg.SelfID {
			return
		}
		chunk, ok := c.peerAudio.EnqueueBase64(env.AudioData, env.AudioFormat)
		if !ok {
			return
		}
		c.emit(&PeerAudioEvent{From: env.From, Chunk: chunk})
	case protocol.EnvelopeTranslation:
		if env.Translation == nil {
			return
		}
		if c.cfg.SelfID != "" && env.Translation.FromParticipant == c.cfg.SelfID {
			return
		}
		c.emit(&PeerTranslationEvent{Record: *env.Translation})
	default:
		c.logger.Debug("ignoring relay envelope", "type", env.Type)
	}
}

func (c *Controller) handleError(s *session, err error) {
	if !s.active {
		c.fail(openError(err), "open_failed")
		return
	}
	switch kind := core.Classify(err); kind {
	case core.ErrQuota, core.ErrAuthentication, core.ErrSetup:
		c.fail(core.Wrap(err), string(kind))
	case core.ErrTransportClosed:
		c.logger.Info("transport closed during send", "session_id", s.id, "error", err)
		c.teardown("send_closed", ErrSessionClosed)
	default:
		c.metrics.RecordError(string(kind))
		c.logger.Warn("send failed", "session_id", s.id, "error", err)
	}
}

func (c *Controller) handleClosed(s *session, err error) {
	if !s.active {
		if err == nil {
			err = errors.New("session closed before setup completed")
		}
		c.fail(openError(err), "open_failed")
		return
	}
	switch kind := core.Classify(err); kind {
	case core.ErrQuota, core.ErrAuthentication, core.ErrSetup:
		c.fail(core.Wrap(err), string(kind))
	case "":
		c.teardown("remote_closed", ErrSessionClosed)
	default:
		c.logger.Info("remote session ended", "session_id", s.id, "error", err)
		c.teardown("remote_closed", ErrSessionClosed)
	}
}

// openError classifies a failure that happened before the session was active.
func openError(err error) *core.Error {
	switch core.Classify(err) {
	case core.ErrQuota, core.ErrAuthentication, core.ErrSetup:
		return core.Wrap(err)
	default:
		return core.NewSetupError("could not open translation session", err)
	}
}

// fail surfaces ce, disables auto-open and tears the session down. The caller
// must call Open again to retry.
func (c *Controller) fail(ce *core.Error, reason string) {
	c.logger.Warn("translation session failed", "reason", reason, "error", ce)
	c.surface(ce)
	c.enabled = false
	c.teardown(reason, ce)
}

func (c *Controller) surface(ce *core.Error) {
	c.setErr(ce)
	c.metrics.RecordError(string(ce.Type))
	c.emit(&ErrorEvent{Err: ce, Message: ce.UserMessage()})
}

// teardown closes the session and resolves pending Open calls with waitErr.
func (c *Controller) teardown(reason string, waitErr error) {
	c.closeSession(reason)
	if len(c.waiters) > 0 {
		if waitErr == nil {
			waitErr = ErrSessionClosed
		}
		c.resolveWaiters(waitErr)
	}
}

// closeSession is the single cleanup path. It is a no-op without a session.
func (c *Controller) closeSession(reason string) {
	s := c.sess
	if s == nil {
		return
	}
	c.sess = nil
	c.setState(StateClosing)

	c.capture.Detach()
	c.capture.Reset()
	s.cancel()
	if s.handshake != nil {
		s.handshake.Stop()
		s.handshake = nil
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			c.logger.Debug("closing transport", "session_id", s.id, "error", err)
		}
	}

	c.scheduler.Reset()
	c.stopTextTimer()
	c.text.Reset()

	c.observeUsage(c.ledger.Snapshot(), false)
	if c.ledger.HasStore() {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := c.ledger.Persist(ctx); err != nil {
				c.logger.Warn("persisting lifetime usage failed", "error", err)
			}
		}()
	}
	c.ledger.ResetSession()

	if s.active {
		c.metrics.RecordSessionEnd(reason, c.now().Sub(s.activatedAt).Seconds())
	}
	c.setState(StateClosed)
	c.logger.Info("translation session closed", "session_id", s.id, "reason", reason)
	c.emit(&SessionClosedEvent{SessionID: s.id, Reason: reason})
}

func (c *Controller) resolveWaiters(err error) {
	for _, w := range c.waiters {
		w <- err
	}
	c.waiters = nil
}

// observeUsage forwards lifetime growth to metrics and optionally emits it.
func (c *Controller) observeUsage(snap usage.Snapshot, emit bool) {
	prev := c.lastLifetime
	cur := snap.Lifetime
	c.lastLifetime = cur
	delta := usage.Counters{
		InputTextTokens:   max(cur.InputTextTokens-prev.InputTextTokens, 0),
		InputAudioTokens:  max(cur.InputAudioTokens-prev.InputAudioTokens, 0),
		OutputTextTokens:  max(cur.OutputTextTokens-prev.OutputTextTokens, 0),
		OutputAudioTokens: max(cur.OutputAudioTokens-prev.OutputAudioTokens, 0),
		CostUSD:           max(cur.CostUSD-prev.CostUSD, 0),
	}
	if !delta.IsZero() {
		c.metrics.RecordTokens(delta)
	}
	if emit {
		c.emit(&UsageEvent{Usage: snap})
	}
}

func (c *Controller) armTextTimer() {
	c.stopTextTimer()
	deadline, ok := c.text.Deadline()
	if !ok {
		return
	}
	c.textTimer = time.NewTimer(max(deadline.Sub(c.now()), 0))
}

func (c *Controller) stopTextTimer() {
	if c.textTimer != nil {
		c.textTimer.Stop()
		c.textTimer = nil
	}
}

func (c *Controller) setState(to SessionState) {
	from := SessionState(c.state.Swap(int32(to)))
	if from != to {
		c.emit(&StateChangedEvent{From: from, To: to})
	}
}

func (c *Controller) setErr(ce *core.Error) {
	c.errMu.Lock()
	c.lastErr = ce
	c.errMu.Unlock()
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event dropped, consumer is behind", "event", ev.EventType())
	}
}

type noopRelay struct{}

func (noopRelay) Broadcast(protocol.Envelope) error { return nil }
