package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-livetranslate/pkg/core/types"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/protocol"
)

// Conn is the subset of *websocket.Conn a peer uses.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

var errPeerClosed = errors.New("peer closed")

// Peer is one joined connection.
type Peer struct {
	id          string
	roomID      string
	participant types.Participant
	conn        Conn
	hub         *Hub

	ctx      context.Context
	cancel   context.CancelFunc
	priority chan []byte
	normal   chan []byte
	limiter  *relayLimiter

	mu            sync.Mutex
	closeFrame    []byte
	reason        string
	lastLimitWarn time.Time
}

func newPeer(h *Hub, roomID string, participant types.Participant, conn Conn, parent context.Context) *Peer {
	ctx, cancel := context.WithCancel(parent)
	return &Peer{
		id:          "peer_" + uuid.NewString(),
		roomID:      roomID,
		participant: participant,
		conn:        conn,
		hub:         h,
		ctx:         ctx,
		cancel:      cancel,
		priority:    make(chan []byte, 16),
		normal:      make(chan []byte, h.cfg.OutboundQueueSize),
		limiter: newRelayLimiter(h.now,
			h.cfg.MaxRelayMessagesPerSecond,
			h.cfg.MaxRelayBytesPerSecond,
			h.cfg.InboundBurstSeconds,
		),
	}
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) RoomID() string { return p.roomID }

func (p *Peer) Participant() types.Participant { return p.participant }

// Warn queues a warning ahead of any pending relays.
func (p *Peer) Warn(code, message string) error {
	frame, err := json.Marshal(protocol.ServerWarning{Type: protocol.TypeWarning, Code: code, Message: message})
	if err != nil {
		return err
	}
	if !p.sendPriority(frame) {
		return errPeerClosed
	}
	return nil
}

// Close ends the peer with the given close code. The first close wins.
func (p *Peer) Close(code int, text, reason string) {
	p.mu.Lock()
	if p.closeFrame == nil {
		p.closeFrame = closeMessage(code, text)
		p.reason = reason
	}
	p.mu.Unlock()
	p.cancel()
}

// Shutdown closes the peer as part of a server drain.
func (p *Peer) Shutdown() {
	p.Close(websocket.CloseGoingAway, "server shutting down", "drain")
}

// Run serves the peer until it leaves, the connection fails or the peer is
// closed. It removes the peer from its room before returning.
func (p *Peer) Run() error {
	w := &peerWriter{
		ws:           p.conn,
		ctx:          p.ctx,
		pingInterval: p.hub.cfg.PingInterval,
		writeTimeout: p.hub.cfg.WriteTimeout,
		priority:     p.priority,
		normal:       p.normal,
		closeFrame:   p.currentCloseFrame,
		onWrite:      p.hub.metrics.RecordRelay,
	}
	writerDone := make(chan error, 1)
	go func() {
		err := w.Run()
		p.cancel()
		_ = p.conn.Close()
		writerDone <- err
	}()

	readReason := p.readLoop()
	p.Close(websocket.CloseNormalClosure, "", readReason)
	writeErr := <-writerDone

	p.mu.Lock()
	reason := p.reason
	p.mu.Unlock()
	p.hub.leave(p, reason)

	if writeErr != nil && reason != "drain" && reason != "replaced" {
		return fmt.Errorf("peer write: %w", writeErr)
	}
	return nil
}

func (p *Peer) readLoop() string {
	p.conn.SetReadLimit(p.hub.cfg.MaxMessageBytes)
	readTimeout := p.hub.cfg.ReadTimeout
	extend := func() {
		if readTimeout > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
	}
	extend()
	p.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			switch {
			case p.ctx.Err() != nil:
				return "closed"
			case errors.Is(err, websocket.ErrReadLimit):
				p.hub.metrics.RecordDrop("too_large")
				return "message_too_large"
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return "disconnected"
			default:
				p.hub.logger.Debug("peer read failed", "room_id", p.roomID, "peer_id", p.id, "error", err)
				return "read_error"
			}
		}
		extend()

		if msgType != websocket.TextMessage {
			_ = p.Warn("unsupported", "binary frames are not supported")
			continue
		}
		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			p.hub.metrics.RecordDrop("decode")
			code := "bad_request"
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				code = de.Code
			}
			_ = p.Warn(code, err.Error())
			continue
		}

		switch m := msg.(type) {
		case protocol.ClientRelay:
			if !p.limiter.Allow(len(m.Payload)) {
				p.hub.metrics.RecordDrop("rate_limited")
				p.warnLimited()
				continue
			}
			p.hub.relay(p, m.Payload)
		case protocol.ClientLeave:
			return "leave"
		case protocol.ClientJoin:
			_ = p.Warn("bad_request", "already joined")
		}
	}
}

// warnLimited tells the peer it is over budget at most once per second.
func (p *Peer) warnLimited() {
	now := p.hub.now()
	p.mu.Lock()
	if !p.lastLimitWarn.IsZero() && now.Sub(p.lastLimitWarn) < time.Second {
		p.mu.Unlock()
		return
	}
	p.lastLimitWarn = now
	p.mu.Unlock()
	_ = p.Warn("rate_limited", "relay budget exceeded; messages are being dropped")
}

func (p *Peer) currentCloseFrame() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeFrame
}

// sendPriority queues a control frame. A peer that cannot keep up with
// control traffic is closed.
func (p *Peer) sendPriority(frame []byte) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.priority <- frame:
		return true
	default:
		p.hub.metrics.RecordDrop("slow_consumer")
		p.Close(websocket.CloseTryAgainLater, "slow consumer", "slow_consumer")
		return false
	}
}

// sendRelay queues a relay frame, dropping it when the queue is full.
func (p *Peer) sendRelay(frame []byte) {
	if p.ctx.Err() != nil {
		return
	}
	select {
	case p.normal <- frame:
	default:
		p.hub.metrics.RecordDrop("queue_full")
	}
}
