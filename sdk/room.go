// Package livetranslate provides the Go client for the livetranslate relay
// hub.
//
// A RoomClient joins one room, reports roster changes and relayed envelopes,
// and implements live.Relay so a live.Controller can broadcast through it.
package livetranslate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-livetranslate/pkg/core/live"
	"github.com/vango-go/vai-livetranslate/pkg/core/types"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/protocol"
)

const (
	defaultJoinTimeout  = 15 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultQueueSize    = 64
)

var (
	// ErrRoomClosed is returned by Broadcast after Close or a lost connection.
	ErrRoomClosed = errors.New("livetranslate: room connection closed")
	// ErrQueueFull is returned by Broadcast when the outbound queue is full.
	// The envelope is dropped.
	ErrQueueFull = errors.New("livetranslate: outbound queue full")
)

// RoomError is an error frame sent by the hub.
type RoomError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *RoomError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("relay error %s: %s", e.Code, e.Message)
}

// RoomConfig configures JoinRoom.
type RoomConfig struct {
	// BaseURL is the hub address, e.g. "wss://relay.example.com". http and
	// https schemes are mapped to ws and wss.
	BaseURL     string
	RoomID      string
	Participant types.Participant
	// Token is sent as a bearer token when set.
	Token string

	// QueueSize bounds envelopes waiting to be written. Default: 64.
	QueueSize    int
	JoinTimeout  time.Duration
	WriteTimeout time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Incoming is an envelope relayed from another participant.
type Incoming struct {
	From     string
	Envelope protocol.Envelope
}

// RoomClient is one joined room connection.
type RoomClient struct {
	conn         *websocket.Conn
	roomID       string
	peerID       string
	self         types.Participant
	limits       protocol.JoinedLimits
	writeTimeout time.Duration
	logger       *slog.Logger

	out      chan []byte
	rosters  chan types.Roster
	incoming chan Incoming
	done     chan struct{}
	stop     chan struct{}

	rosterMu sync.Mutex
	roster   types.Roster

	closeOnce sync.Once
	closed    atomic.Bool
	writerWG  sync.WaitGroup

	errMu sync.Mutex
	err   error
}

var _ live.Relay = (*RoomClient)(nil)

// JoinRoom dials the hub, sends the join frame and waits for the hub to
// acknowledge it. A hub rejection is returned as *RoomError.
func JoinRoom(ctx context.Context, cfg RoomConfig) (*RoomClient, error) {
	endpoint, err := roomURL(cfg.BaseURL, cfg.RoomID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Participant.ID) == "" {
		return nil, fmt.Errorf("participant id is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.JoinTimeout)
	defer cancel()
	conn, resp, err := dialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	joined, err := handshake(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &RoomClient{
		conn:         conn,
		roomID:       joined.RoomID,
		peerID:       joined.PeerID,
		self:         cfg.Participant,
		limits:       joined.Limits,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
		out:          make(chan []byte, cfg.QueueSize),
		rosters:      make(chan types.Roster, 1),
		incoming:     make(chan Incoming, cfg.QueueSize),
		done:         make(chan struct{}),
		stop:         make(chan struct{}),
	}
	c.emitRoster(c.setRoster(joined.Participants))

	c.writerWG.Add(1)
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func handshake(conn *websocket.Conn, cfg RoomConfig) (protocol.ServerJoined, error) {
	deadline := time.Now().Add(cfg.JoinTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(protocol.ClientJoin{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.ProtocolVersion1,
		Participant:     cfg.Participant,
	}); err != nil {
		return protocol.ServerJoined{}, fmt.Errorf("send join: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.ServerJoined{}, fmt.Errorf("read join reply: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		return protocol.ServerJoined{}, fmt.Errorf("decode join reply: %w", err)
	}
	switch m := msg.(type) {
	case protocol.ServerJoined:
		return m, nil
	case protocol.ServerError:
		return protocol.ServerJoined{}, &RoomError{Code: m.Code, Message: m.Message, Retryable: m.Retryable}
	default:
		return protocol.ServerJoined{}, fmt.Errorf("unexpected join reply %T", msg)
	}
}

func roomURL(base, roomID string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("relay base url is required")
	}
	if strings.TrimSpace(roomID) == "" {
		return "", fmt.Errorf("room id is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/rooms/" + url.PathEscape(roomID) + "/ws"
	return u.String(), nil
}

// RoomID returns the joined room.
func (c *RoomClient) RoomID() string { return c.roomID }

// PeerID returns the hub-assigned peer id.
func (c *RoomClient) PeerID() string { return c.peerID }

// Limits returns the limits the hub announced on join.
func (c *RoomClient) Limits() protocol.JoinedLimits { return c.limits }

// Roster returns the latest roster with the local participant marked IsSelf.
func (c *RoomClient) Roster() types.Roster {
	c.rosterMu.Lock()
	defer c.rosterMu.Unlock()
	return c.roster.Clone()
}

// Rosters yields roster updates. Only the latest undelivered roster is kept.
// The channel is closed when the connection ends.
func (c *RoomClient) Rosters() <-chan types.Roster { return c.rosters }

// Incoming yields envelopes relayed from other participants. Envelopes are
// dropped when the caller falls behind. The channel is closed when the
// connection ends.
func (c *RoomClient) Incoming() <-chan Incoming { return c.incoming }

// Done is closed when the connection has ended.
func (c *RoomClient) Done() <-chan struct{} { return c.done }

// Broadcast queues env for every other participant in the room. It never
// blocks.
func (c *RoomClient) Broadcast(env protocol.Envelope) error {
	if c.closed.Load() {
		return ErrRoomClosed
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	frame, err := json.Marshal(protocol.ClientRelay{Type: protocol.TypeRelay, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode relay: %w", err)
	}
	if limit := c.limits.MaxMessageBytes; limit > 0 && len(frame) > limit {
		return fmt.Errorf("relay frame is %d bytes, hub limit is %d", len(frame), limit)
	}
	select {
	case <-c.stop:
		return ErrRoomClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close leaves the room and closes the connection. Queued envelopes are
// flushed first.
func (c *RoomClient) Close() error {
	c.shutdown()
	c.writerWG.Wait()
	<-c.done
	return nil
}

// Err returns why the connection ended, or nil after a clean Close. It
// blocks until the connection has ended.
func (c *RoomClient) Err() error {
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *RoomClient) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
	})
}

func (c *RoomClient) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *RoomClient) setRoster(participants []types.Participant) types.Roster {
	roster := make(types.Roster, 0, len(participants))
	for _, p := range participants {
		p.IsSelf = p.ID == c.self.ID
		roster = append(roster, p)
	}
	c.rosterMu.Lock()
	c.roster = roster
	c.rosterMu.Unlock()
	return roster.Clone()
}

func (c *RoomClient) writeLoop() {
	defer c.writerWG.Done()
	for {
		select {
		case frame := <-c.out:
			if err := c.write(frame); err != nil {
				c.setErr(fmt.Errorf("write relay: %w", err))
				c.shutdown()
				_ = c.conn.Close()
				return
			}
		case <-c.stop:
			c.flush()
			return
		}
	}
}

// flush drains queued frames, says goodbye and closes the socket.
func (c *RoomClient) flush() {
	for len(c.out) > 0 {
		if err := c.write(<-c.out); err != nil {
			_ = c.conn.Close()
			return
		}
	}
	if leave, err := json.Marshal(protocol.ClientLeave{Type: protocol.TypeLeave}); err == nil {
		_ = c.write(leave)
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeTimeout))
	_ = c.conn.Close()
}

func (c *RoomClient) write(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *RoomClient) readLoop() {
	defer close(c.done)
	defer close(c.incoming)
	defer close(c.rosters)
	defer c.shutdown()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			c.setErr(fmt.Errorf("relay connection lost: %w", err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.logger.Debug("ignoring relay frame", "room_id", c.roomID, "error", err)
			continue
		}
		switch m := msg.(type) {
		case protocol.ServerRoster:
			c.emitRoster(c.setRoster(m.Participants))
		case protocol.ServerRelay:
			env, err := protocol.DecodeEnvelope(m.Payload)
			if err != nil {
				c.logger.Debug("ignoring relayed payload", "room_id", c.roomID, "from", m.From, "error", err)
				continue
			}
			c.emitIncoming(Incoming{From: m.From, Envelope: env})
		case protocol.ServerWarning:
			c.logger.Warn("relay warning", "room_id", c.roomID, "code", m.Code, "message", m.Message)
		case protocol.ServerError:
			c.setErr(&RoomError{Code: m.Code, Message: m.Message, Retryable: m.Retryable})
			if m.Close {
				return
			}
		}
	}
}

func (c *RoomClient) emitRoster(roster types.Roster) {
	for {
		select {
		case c.rosters <- roster:
			return
		default:
		}
		// Replace the stale undelivered roster.
		select {
		case <-c.rosters:
		default:
		}
	}
}

func (c *RoomClient) emitIncoming(in Incoming) {
	select {
	case c.incoming <- in:
	default:
		c.logger.Debug("dropping relayed envelope", "room_id", c.roomID, "from", in.From, "type", in.Envelope.Type)
	}
}
