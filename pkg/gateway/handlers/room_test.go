package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-livetranslate/pkg/core/types"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/config"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/room"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/sessions"
)

type deniedRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (d *deniedRecorder) RecordJoinDenied(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
}

func (d *deniedRecorder) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.reasons...)
}

type roomFixture struct {
	srv     *httptest.Server
	handler RoomHandler
	denied  *deniedRecorder
}

func newRoomFixture(t *testing.T, maxPeers int) *roomFixture {
	t.Helper()
	cfg := config.Config{
		MaxPeersPerRoom: maxPeers,
		MaxMessageBytes: 64 << 10,
		JoinTimeout:     time.Second,
		AllowedOrigins:  map[string]struct{}{"https://app.example": {}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &roomFixture{denied: &deniedRecorder{}}
	f.handler = RoomHandler{
		Config: cfg,
		Hub: room.New(room.Deps{
			Config: room.Config{MaxPeersPerRoom: maxPeers, PingInterval: time.Hour, WriteTimeout: time.Second},
			Logger: logger,
		}),
		Peers:     sessions.NewTracker(),
		Lifecycle: &lifecycle.Lifecycle{},
		Metrics:   f.denied,
		Logger:    logger,
	}
	mux := http.NewServeMux()
	mux.Handle("/v1/rooms/{room}/ws", f.handler)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *roomFixture) wsURL(roomID string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/rooms/" + roomID + "/ws"
}

func (f *roomFixture) join(t *testing.T, roomID, id, lang string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(f.wsURL(roomID), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.WriteJSON(protocol.ClientJoin{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.ProtocolVersion1,
		Participant:     types.Participant{ID: id, Language: lang},
	}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	return c
}

func readServer(t *testing.T, c *websocket.Conn) any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func TestRoomHandler_JoinAndRelay(t *testing.T) {
	f := newRoomFixture(t, 2)

	a := f.join(t, "call-1", "alice", "en")
	if _, ok := readServer(t, a).(protocol.ServerJoined); !ok {
		t.Fatalf("alice expected joined")
	}
	b := f.join(t, "call-1", "bob", "ja")
	joined, ok := readServer(t, b).(protocol.ServerJoined)
	if !ok || joined.RoomID != "call-1" || len(joined.Participants) != 2 {
		t.Fatalf("bob joined = %+v", joined)
	}
	roster, ok := readServer(t, a).(protocol.ServerRoster)
	if !ok || len(roster.Participants) != 2 {
		t.Fatalf("alice roster = %+v", roster)
	}

	payload := json.RawMessage(`{"type":"translation","translation":{"id":"rec_1","translatedText":"hi"}}`)
	if err := a.WriteJSON(protocol.ClientRelay{Type: protocol.TypeRelay, Payload: payload}); err != nil {
		t.Fatalf("write relay: %v", err)
	}
	relay, ok := readServer(t, b).(protocol.ServerRelay)
	if !ok || relay.From != "alice" {
		t.Fatalf("bob relay = %+v", relay)
	}
	if f.handler.Peers.Count() != 2 {
		t.Fatalf("tracked peers=%d, want 2", f.handler.Peers.Count())
	}
}

func TestRoomHandler_RoomFullSendsErrorFrame(t *testing.T) {
	f := newRoomFixture(t, 1)

	a := f.join(t, "solo", "alice", "en")
	readServer(t, a)

	b := f.join(t, "solo", "bob", "ja")
	msg, ok := readServer(t, b).(protocol.ServerError)
	if !ok || msg.Code != "room_full" || !msg.Close {
		t.Fatalf("bob got %+v, want room_full error", msg)
	}
	if got := f.denied.snapshot(); len(got) != 1 || got[0] != "room_full" {
		t.Fatalf("denied=%v", got)
	}
}

func TestRoomHandler_FirstFrameMustBeJoin(t *testing.T) {
	f := newRoomFixture(t, 2)

	c, _, err := websocket.DefaultDialer.Dial(f.wsURL("r"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.WriteJSON(protocol.ClientRelay{Type: protocol.TypeRelay, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg, ok := readServer(t, c).(protocol.ServerError)
	if !ok || msg.Code != "bad_request" {
		t.Fatalf("got %+v", msg)
	}
}

func TestRoomHandler_RejectsBeforeUpgrade(t *testing.T) {
	f := newRoomFixture(t, 2)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/rooms/r/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bad origin status=%d", resp.StatusCode)
	}

	f.handler.Lifecycle.BeginDrain(time.Now())
	resp, err = http.Get(f.srv.URL + "/v1/rooms/r/ws")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("draining status=%d", resp.StatusCode)
	}
	if got := f.denied.snapshot(); len(got) != 2 || got[0] != "origin" || got[1] != "draining" {
		t.Fatalf("denied=%v", got)
	}
}
