package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-livetranslate/pkg/core"
	"github.com/vango-go/vai-livetranslate/pkg/core/live"
	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
)

// LiveConfig configures a LiveDialer.
type LiveConfig struct {
	APIKey string
	// Model defaults to DefaultLiveModel when the session setup names none.
	Model string
}

// LiveDialer opens Gemini Live sessions. It implements live.Dialer.
type LiveDialer struct {
	apiKey  string
	model   string
	baseURL string
	ws      *websocket.Dialer
	logger  *slog.Logger
}

// NewLiveDialer returns a dialer for the Gemini Live endpoint.
func NewLiveDialer(cfg LiveConfig, opts ...Option) *LiveDialer {
	d := &LiveDialer{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   strings.TrimSpace(cfg.Model),
		baseURL: DefaultLiveURL,
		ws:      websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.model == "" {
		d.model = DefaultLiveModel
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Dial connects, sends the session setup and returns once the setup frame is
// written. setupComplete arrives later as a normal message.
func (d *LiveDialer) Dial(ctx context.Context, setup live.SessionSetup) (live.Transport, error) {
	key := strings.TrimSpace(setup.APIKey)
	if key == "" {
		key = d.apiKey
	}
	if key == "" {
		return nil, core.NewAuthenticationError("gemini api key is required", nil)
	}
	model := strings.TrimSpace(setup.Model)
	if model == "" {
		model = d.model
	}
	wsURL, err := buildLiveURL(d.baseURL, key)
	if err != nil {
		return nil, core.NewSetupError("invalid gemini live url", err)
	}

	conn, resp, err := d.ws.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, dialError(err, resp)
	}

	c := &liveConn{
		conn:     conn,
		logger:   d.logger,
		messages: make(chan live.ServerMessage, defaultMessageBacklog),
		closed:   make(chan struct{}),
	}
	if err := c.writeJSON(ctx, newSetupMessage(model, setup)); err != nil {
		_ = conn.Close()
		return nil, core.NewSetupError("sending gemini live setup", err)
	}
	go c.readLoop()
	return c, nil
}

func buildLiveURL(base, key string) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = DefaultLiveURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type setupMessage struct {
	Setup setupBody `json:"setup"`
}

type setupBody struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  struct{}         `json:"inputAudioTranscription"`
	OutputAudioTranscription struct{}         `json:"outputAudioTranscription"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

func newSetupMessage(model string, setup live.SessionSetup) setupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{Setup: setupBody{
		Model:            model,
		GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
	}}
	if text := strings.TrimSpace(setup.SystemInstruction); text != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: text}}}
	}
	return msg
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *inlineData `json:"audio,omitempty"`
	Text  string      `json:"text,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	GoAway        *struct {
		TimeLeft string `json:"timeLeft,omitempty"`
	} `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type usageMetadata struct {
	PromptTokenCount      int64            `json:"promptTokenCount"`
	ResponseTokenCount    int64            `json:"responseTokenCount"`
	PromptTokensDetails   []modalityTokens `json:"promptTokensDetails,omitempty"`
	ResponseTokensDetails []modalityTokens `json:"responseTokensDetails,omitempty"`
}

type modalityTokens struct {
	Modality   string `json:"modality"`
	TokenCount int64  `json:"tokenCount"`
}

// counters splits token counts by modality. Without details, prompt tokens
// count as audio input and response tokens as audio output.
func (u usageMetadata) counters() usage.Counters {
	var c usage.Counters
	if len(u.PromptTokensDetails) == 0 {
		c.InputAudioTokens = u.PromptTokenCount
	}
	for _, d := range u.PromptTokensDetails {
		if strings.EqualFold(d.Modality, "AUDIO") {
			c.InputAudioTokens += d.TokenCount
		} else {
			c.InputTextTokens += d.TokenCount
		}
	}
	if len(u.ResponseTokensDetails) == 0 {
		c.OutputAudioTokens = u.ResponseTokenCount
	}
	for _, d := range u.ResponseTokensDetails {
		if strings.EqualFold(d.Modality, "AUDIO") {
			c.OutputAudioTokens += d.TokenCount
		} else {
			c.OutputTextTokens += d.TokenCount
		}
	}
	return c
}

// normalize converts a raw frame into a live.ServerMessage. ok is false for
// frames that carry nothing the controller uses.
func normalize(raw serverMessage) (live.ServerMessage, bool) {
	var out live.ServerMessage
	out.SetupComplete = raw.SetupComplete != nil
	out.GoAway = raw.GoAway != nil
	if raw.UsageMetadata != nil {
		counters := raw.UsageMetadata.counters()
		out.Usage = &counters
	}
	if sc := raw.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				switch {
				case p.InlineData != nil && p.InlineData.Data != "":
					out.Audio = append(out.Audio, live.InlineAudio{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
				case p.Text != "" && !p.Thought:
					out.Text = append(out.Text, p.Text)
				}
			}
		}
		if sc.InputTranscription != nil {
			out.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			out.OutputTranscript = sc.OutputTranscription.Text
		}
		out.Interrupted = sc.Interrupted
		out.TurnComplete = sc.TurnComplete
	}
	ok := out.SetupComplete || out.GoAway || out.Usage != nil || len(out.Audio) > 0 || len(out.Text) > 0 ||
		out.InputTranscript != "" || out.OutputTranscript != "" || out.Interrupted || out.TurnComplete
	return out, ok
}

// liveConn is one Gemini Live session. It implements live.Transport and
// live.TextSender.
type liveConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error

	messages  chan live.ServerMessage
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *liveConn) SendAudio(ctx context.Context, batch live.OutboundAudioBatch) error {
	mime := batch.MIMEType
	if mime == "" {
		mime = live.InputMIMEType
	}
	return c.writeJSON(ctx, realtimeInputMessage{RealtimeInput: realtimeInput{
		Audio: &inlineData{MIMEType: mime, Data: batch.Base64()},
	}})
}

func (c *liveConn) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.writeJSON(ctx, realtimeInputMessage{RealtimeInput: realtimeInput{Text: text}})
}

func (c *liveConn) Messages() <-chan live.ServerMessage { return c.messages }

func (c *liveConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *liveConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

func (c *liveConn) readLoop() {
	defer close(c.messages)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.setErr(closeError(err))
			}
			return
		}

		var raw serverMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			c.logger.Debug("gemini live: undecodable frame", "error", err, "bytes", len(data))
			continue
		}
		msg, ok := normalize(raw)
		if !ok {
			continue
		}
		select {
		case c.messages <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *liveConn) writeJSON(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return core.NewTransportClosedError(fmt.Errorf("gemini live: connection closed"))
	default:
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	}
	if err := c.conn.WriteJSON(payload); err != nil {
		if reason := c.Err(); reason != nil {
			return fmt.Errorf("%w (%v)", err, reason)
		}
		return err
	}
	return nil
}

func (c *liveConn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}
