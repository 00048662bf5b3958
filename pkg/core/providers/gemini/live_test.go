package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-livetranslate/pkg/core"
	"github.com/vango-go/vai-livetranslate/pkg/core/live"
)

type liveServer struct {
	*httptest.Server
	setup  chan map[string]any
	frames chan map[string]any
	query  chan string
}

// newLiveServer accepts one connection, reports the setup frame, runs script
// and then reports every later client frame until the client goes away.
func newLiveServer(t *testing.T, script func(conn *websocket.Conn)) *liveServer {
	t.Helper()
	s := &liveServer{
		setup:  make(chan map[string]any, 1),
		frames: make(chan map[string]any, 16),
		query:  make(chan string, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.query <- r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		s.setup <- setup
		if script != nil {
			script(conn)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			select {
			case s.frames <- frame:
			default:
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *liveServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/live"
}

func nextMessage(t *testing.T, tr live.Transport) live.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-tr.Messages():
		if !ok {
			t.Fatalf("messages closed early: err=%v", tr.Err())
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server message")
	}
	return live.ServerMessage{}
}

func TestLiveDialer_SetupAndServerContent(t *testing.T) {
	srv := newLiveServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAAA"}},
				map[string]any{"text": "thinking", "thought": true},
				map[string]any{"text": "hola"},
			}},
			"outputTranscription": map[string]any{"text": "hola"},
			"inputTranscription":  map[string]any{"text": "hello"},
		}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		_ = conn.WriteJSON(map[string]any{"usageMetadata": map[string]any{
			"promptTokenCount":   120,
			"responseTokenCount": 80,
			"promptTokensDetails": []any{
				map[string]any{"modality": "AUDIO", "tokenCount": 100},
				map[string]any{"modality": "TEXT", "tokenCount": 20},
			},
		}})
		_ = conn.WriteJSON(map[string]any{"goAway": map[string]any{"timeLeft": "10s"}})
	})

	d := NewLiveDialer(LiveConfig{APIKey: "config-key"}, WithBaseWSURL(srv.wsURL()))
	tr, err := d.Dial(context.Background(), live.SessionSetup{
		APIKey:            "session-key",
		SystemInstruction: "translate en to es",
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	if q := <-srv.query; q != "key=session-key" {
		t.Fatalf("query=%q", q)
	}
	setup := (<-srv.setup)["setup"].(map[string]any)
	if setup["model"] != "models/"+DefaultLiveModel {
		t.Fatalf("model=%v", setup["model"])
	}
	modalities := setup["generationConfig"].(map[string]any)["responseModalities"].([]any)
	if len(modalities) != 1 || modalities[0] != "AUDIO" {
		t.Fatalf("responseModalities=%v", modalities)
	}
	parts := setup["systemInstruction"].(map[string]any)["parts"].([]any)
	if parts[0].(map[string]any)["text"] != "translate en to es" {
		t.Fatalf("systemInstruction=%v", parts)
	}
	if _, ok := setup["inputAudioTranscription"]; !ok {
		t.Fatalf("inputAudioTranscription missing")
	}
	if _, ok := setup["outputAudioTranscription"]; !ok {
		t.Fatalf("outputAudioTranscription missing")
	}

	if msg := nextMessage(t, tr); !msg.SetupComplete {
		t.Fatalf("first message=%+v", msg)
	}
	content := nextMessage(t, tr)
	if len(content.Audio) != 1 || content.Audio[0].MIMEType != "audio/pcm;rate=24000" {
		t.Fatalf("audio=%+v", content.Audio)
	}
	if len(content.Text) != 1 || content.Text[0] != "hola" {
		t.Fatalf("text=%v (thought parts must be skipped)", content.Text)
	}
	if content.OutputTranscript != "hola" || content.InputTranscript != "hello" {
		t.Fatalf("transcripts=%q/%q", content.OutputTranscript, content.InputTranscript)
	}
	if msg := nextMessage(t, tr); !msg.TurnComplete {
		t.Fatalf("expected turnComplete, got %+v", msg)
	}
	usageMsg := nextMessage(t, tr)
	if usageMsg.Usage == nil {
		t.Fatalf("expected usage")
	}
	if usageMsg.Usage.InputAudioTokens != 100 || usageMsg.Usage.InputTextTokens != 20 || usageMsg.Usage.OutputAudioTokens != 80 {
		t.Fatalf("usage=%+v", *usageMsg.Usage)
	}
	if msg := nextMessage(t, tr); !msg.GoAway {
		t.Fatalf("expected goAway, got %+v", msg)
	}
}

func TestLiveConn_SendsAudioAndText(t *testing.T) {
	srv := newLiveServer(t, nil)
	d := NewLiveDialer(LiveConfig{APIKey: "k", Model: "models/custom"}, WithBaseWSURL(srv.wsURL()))
	tr, err := d.Dial(context.Background(), live.SessionSetup{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()
	setup := (<-srv.setup)["setup"].(map[string]any)
	if setup["model"] != "models/custom" {
		t.Fatalf("model=%v", setup["model"])
	}
	if _, ok := setup["systemInstruction"]; ok {
		t.Fatalf("empty instruction should be omitted")
	}

	batch := live.OutboundAudioBatch{PCM: []byte{1, 0, 2, 0}, MIMEType: live.InputMIMEType}
	if err := tr.SendAudio(context.Background(), batch); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := tr.(live.TextSender).SendText(context.Background(), "now translate to French"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	frame := <-srv.frames
	raw, _ := json.Marshal(frame)
	audio := frame["realtimeInput"].(map[string]any)["audio"].(map[string]any)
	if audio["mimeType"] != "audio/pcm;rate=16000" || audio["data"] != batch.Base64() {
		t.Fatalf("audio frame=%s", raw)
	}
	frame = <-srv.frames
	if frame["realtimeInput"].(map[string]any)["text"] != "now translate to French" {
		raw, _ = json.Marshal(frame)
		t.Fatalf("text frame=%s", raw)
	}
}

func TestLiveConn_CloseReasonIsClassified(t *testing.T) {
	srv := newLiveServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		msg := websocket.FormatCloseMessage(1011, "You exceeded your current quota, please check your plan and billing details.")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	})
	d := NewLiveDialer(LiveConfig{APIKey: "k"}, WithBaseWSURL(srv.wsURL()))
	tr, err := d.Dial(context.Background(), live.SessionSetup{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	nextMessage(t, tr)
	select {
	case _, ok := <-tr.Messages():
		if ok {
			t.Fatalf("expected messages to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
	}
	if got := core.Classify(tr.Err()); got != core.ErrQuota {
		t.Fatalf("Classify(%v)=%q", tr.Err(), got)
	}
	if err := tr.SendAudio(context.Background(), live.OutboundAudioBatch{PCM: []byte{0, 0}}); err == nil {
		t.Fatalf("expected send after remote close to fail")
	}
}

func TestLiveConn_LocalCloseHasNoError(t *testing.T) {
	srv := newLiveServer(t, nil)
	d := NewLiveDialer(LiveConfig{APIKey: "k"}, WithBaseWSURL(srv.wsURL()))
	tr, err := d.Dial(context.Background(), live.SessionSetup{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	<-srv.setup
	_ = tr.Close()
	_ = tr.Close()

	for range tr.Messages() {
	}
	if tr.Err() != nil {
		t.Fatalf("Err=%v", tr.Err())
	}
	err = tr.SendAudio(context.Background(), live.OutboundAudioBatch{PCM: []byte{0, 0}})
	if core.Classify(err) != core.ErrTransportClosed {
		t.Fatalf("SendAudio after Close: %v", err)
	}
}

func TestLiveDialer_RequiresKey(t *testing.T) {
	_, err := NewLiveDialer(LiveConfig{}).Dial(context.Background(), live.SessionSetup{})
	if core.Classify(err) != core.ErrAuthentication {
		t.Fatalf("err=%v", err)
	}
}

func TestLiveDialer_HandshakeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewLiveDialer(LiveConfig{APIKey: "k"}, WithBaseWSURL("ws"+strings.TrimPrefix(srv.URL, "http")))
	_, err := d.Dial(context.Background(), live.SessionSetup{})
	if core.Classify(err) != core.ErrAuthentication {
		t.Fatalf("err=%v", err)
	}
}
