// Package room implements the relay rooms of the hub: membership, roster
// broadcast and opaque payload fan-out between the peers of a room.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-livetranslate/pkg/core/types"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/protocol"
)

const maxRoomIDLen = 128

// JoinError is returned by Join. Code is the wire error code sent to the peer.
type JoinError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *JoinError) Error() string { return e.Message }

var (
	ErrInvalidRoom  = &JoinError{Code: "bad_request", Message: "invalid room id"}
	ErrRoomFull     = &JoinError{Code: "room_full", Message: "room is full"}
	ErrTooManyRooms = &JoinError{Code: "overloaded", Message: "too many active rooms", Retryable: true}
	ErrDraining     = &JoinError{Code: "draining", Message: "server is shutting down", Retryable: true}
)

type Config struct {
	MaxPeersPerRoom   int
	MaxRooms          int
	MaxMessageBytes   int64
	OutboundQueueSize int

	MaxRelayMessagesPerSecond int
	MaxRelayBytesPerSecond    int64
	InboundBurstSeconds       int

	PingInterval time.Duration
	WriteTimeout time.Duration
	// ReadTimeout closes peers that send nothing (not even a pong) for this
	// long. Zero disables it.
	ReadTimeout time.Duration

	// PresenceInterval is how often local membership is republished on the
	// backplane. Remote presence older than three intervals is dropped.
	PresenceInterval time.Duration
	InstanceID       string
}

type Deps struct {
	Config    Config
	Backplane Backplane
	Metrics   Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

type Hub struct {
	cfg       Config
	backplane Backplane
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	rooms    map[string]*room
	remote   map[string]map[string]remotePresence // room -> origin instance
	draining bool
}

type room struct {
	id    string
	peers []*Peer // join order
}

type remotePresence struct {
	participants []types.Participant
	seen         time.Time
}

func New(deps Deps) *Hub {
	cfg := deps.Config
	if cfg.MaxPeersPerRoom <= 0 {
		cfg.MaxPeersPerRoom = 2
	}
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = 1000
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 256 << 10
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 128
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = 15 * time.Second
	}
	if strings.TrimSpace(cfg.InstanceID) == "" {
		cfg.InstanceID = uuid.NewString()
	}

	h := &Hub{
		cfg:       cfg,
		backplane: deps.Backplane,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
		rooms:     make(map[string]*room),
		remote:    make(map[string]map[string]remotePresence),
	}
	if h.metrics == nil {
		h.metrics = noopMetrics{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Hub) InstanceID() string { return h.cfg.InstanceID }

// ValidRoomID reports whether id can name a room.
func ValidRoomID(id string) bool {
	if id == "" || len(id) > maxRoomIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// Join admits a participant into roomID over conn. The returned peer has its
// joined acknowledgement queued; the caller must call Run.
//
// A participant that joins again with the same id replaces its older
// connection.
func (h *Hub) Join(ctx context.Context, roomID string, participant types.Participant, conn Conn) (*Peer, error) {
	if !ValidRoomID(roomID) {
		return nil, ErrInvalidRoom
	}
	participant = sanitizeParticipant(participant)
	if ctx == nil {
		ctx = context.Background()
	}

	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		return nil, ErrDraining
	}
	rm := h.rooms[roomID]
	if rm == nil {
		if len(h.rooms) >= h.cfg.MaxRooms {
			h.mu.Unlock()
			return nil, ErrTooManyRooms
		}
		rm = &room{id: roomID}
	}

	var replaced *Peer
	for _, p := range rm.peers {
		if p.participant.ID == participant.ID {
			replaced = p
			break
		}
	}
	if replaced != nil {
		rm.remove(replaced)
	}
	if len(h.rosterLocked(rm)) >= h.cfg.MaxPeersPerRoom && !h.remoteHasLocked(roomID, participant.ID) {
		if replaced != nil {
			rm.peers = append(rm.peers, replaced)
		}
		h.mu.Unlock()
		return nil, ErrRoomFull
	}

	p := newPeer(h, roomID, participant, conn, ctx)
	rm.peers = append(rm.peers, p)
	h.rooms[roomID] = rm
	roster := h.rosterLocked(rm)

	joined, _ := json.Marshal(protocol.ServerJoined{
		Type:            protocol.TypeJoined,
		ProtocolVersion: protocol.ProtocolVersion1,
		RoomID:          roomID,
		PeerID:          p.id,
		Participants:    roster,
		Limits: protocol.JoinedLimits{
			MaxMessageBytes:     int(h.cfg.MaxMessageBytes),
			MaxRelayBytesPerSec: h.cfg.MaxRelayBytesPerSecond,
			MaxPeers:            h.cfg.MaxPeersPerRoom,
		},
	})
	p.sendPriority(joined)
	h.broadcastRosterLocked(rm, roster, p)
	local := rm.participants()
	first := len(rm.peers) == 1
	rooms := len(h.rooms)
	h.mu.Unlock()

	if replaced != nil {
		replaced.Close(4000, "replaced by a newer connection", "replaced")
	}
	h.metrics.RecordPeerJoin()
	h.metrics.SetRooms(rooms)
	h.logger.Info("peer joined",
		"room_id", roomID,
		"peer_id", p.id,
		"participant_id", participant.ID,
		"language", participant.Language,
		"replaced", replaced != nil,
	)
	h.publishPresence(roomID, local, first)
	return p, nil
}

// leave removes p from its room. It is called once per peer when Run ends.
func (h *Hub) leave(p *Peer, reason string) {
	h.mu.Lock()
	rm := h.rooms[p.roomID]
	removed := rm != nil && rm.remove(p)
	var local []types.Participant
	if removed {
		if len(rm.peers) == 0 {
			delete(h.rooms, rm.id)
		} else {
			h.broadcastRosterLocked(rm, h.rosterLocked(rm), nil)
		}
		local = rm.participants()
	}
	rooms := len(h.rooms)
	h.mu.Unlock()

	h.metrics.RecordPeerLeave(reason)
	h.metrics.SetRooms(rooms)
	h.logger.Info("peer left",
		"room_id", p.roomID,
		"peer_id", p.id,
		"participant_id", p.participant.ID,
		"reason", reason,
	)
	if removed {
		h.publishPresence(p.roomID, local, false)
	}
}

// relay forwards payload from sender to every other peer of the room, local
// and remote.
func (h *Hub) relay(sender *Peer, payload json.RawMessage) {
	frame, err := json.Marshal(protocol.ServerRelay{
		Type:    protocol.TypeRelay,
		From:    sender.participant.ID,
		Payload: payload,
	})
	if err != nil {
		h.metrics.RecordDrop("encode")
		return
	}

	h.mu.Lock()
	if rm := h.rooms[sender.roomID]; rm != nil {
		for _, p := range rm.peers {
			if p != sender && p.participant.ID != sender.participant.ID {
				p.sendRelay(frame)
			}
		}
	}
	_, hasRemote := h.remote[sender.roomID]
	h.mu.Unlock()

	if h.backplane != nil && hasRemote {
		h.publish(BackplaneMessage{
			RoomID:  sender.roomID,
			Kind:    KindRelay,
			From:    sender.participant.ID,
			Payload: payload,
		})
	}
}

// Roster returns the current membership of roomID across instances.
func (h *Hub) Roster(roomID string) []types.Participant {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm := h.rooms[roomID]
	if rm == nil {
		rm = &room{id: roomID}
	}
	return h.rosterLocked(rm)
}

// Stats returns the number of local rooms and peers.
func (h *Hub) Stats() (rooms, peers int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rm := range h.rooms {
		peers += len(rm.peers)
	}
	return len(h.rooms), peers
}

// Drain rejects new joins. Existing peers are left to the caller to warn
// and close.
func (h *Hub) Drain() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
}

// Run consumes the backplane and republishes presence until ctx is done.
// Without a backplane it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.backplane == nil {
		<-ctx.Done()
		return nil
	}

	subErr := make(chan error, 1)
	go func() { subErr <- h.backplane.Subscribe(ctx, h.deliver) }()

	ticker := time.NewTicker(h.cfg.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.retractPresence()
			return nil
		case err := <-subErr:
			if ctx.Err() != nil {
				h.retractPresence()
				return nil
			}
			if err == nil {
				err = fmt.Errorf("subscription ended")
			}
			return fmt.Errorf("backplane subscribe: %w", err)
		case <-ticker.C:
			h.refreshPresence()
		}
	}
}

func (h *Hub) deliver(msg BackplaneMessage) {
	if msg.Origin == h.cfg.InstanceID || !ValidRoomID(msg.RoomID) {
		return
	}

	switch msg.Kind {
	case KindRelay:
		frame, err := json.Marshal(protocol.ServerRelay{Type: protocol.TypeRelay, From: msg.From, Payload: msg.Payload})
		if err != nil {
			return
		}
		h.mu.Lock()
		if rm := h.rooms[msg.RoomID]; rm != nil {
			for _, p := range rm.peers {
				if p.participant.ID != msg.From {
					p.sendRelay(frame)
				}
			}
		}
		h.mu.Unlock()

	case KindPresence:
		h.mu.Lock()
		byOrigin := h.remote[msg.RoomID]
		if len(msg.Participants) == 0 {
			delete(byOrigin, msg.Origin)
		} else {
			if byOrigin == nil {
				byOrigin = make(map[string]remotePresence)
				h.remote[msg.RoomID] = byOrigin
			}
			byOrigin[msg.Origin] = remotePresence{participants: msg.Participants, seen: h.now()}
		}
		if len(byOrigin) == 0 {
			delete(h.remote, msg.RoomID)
		}
		var local []types.Participant
		if rm := h.rooms[msg.RoomID]; rm != nil {
			h.broadcastRosterLocked(rm, h.rosterLocked(rm), nil)
			local = rm.participants()
		}
		h.mu.Unlock()

		if msg.Request && len(local) > 0 {
			h.publishPresence(msg.RoomID, local, false)
		}
	}
}

func (h *Hub) refreshPresence() {
	cutoff := h.now().Add(-3 * h.cfg.PresenceInterval)

	type snapshot struct {
		roomID string
		local  []types.Participant
	}
	var publish []snapshot

	h.mu.Lock()
	for roomID, byOrigin := range h.remote {
		expired := false
		for origin, rp := range byOrigin {
			if rp.seen.Before(cutoff) {
				delete(byOrigin, origin)
				expired = true
			}
		}
		if len(byOrigin) == 0 {
			delete(h.remote, roomID)
		}
		if rm := h.rooms[roomID]; expired && rm != nil {
			h.broadcastRosterLocked(rm, h.rosterLocked(rm), nil)
		}
	}
	for _, rm := range h.rooms {
		publish = append(publish, snapshot{roomID: rm.id, local: rm.participants()})
	}
	h.mu.Unlock()

	for _, s := range publish {
		h.publishPresence(s.roomID, s.local, false)
	}
}

func (h *Hub) retractPresence() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.publishPresence(id, nil, false)
	}
}

func (h *Hub) publishPresence(roomID string, local []types.Participant, request bool) {
	if h.backplane == nil {
		return
	}
	h.publish(BackplaneMessage{
		RoomID:       roomID,
		Kind:         KindPresence,
		Participants: local,
		Request:      request,
	})
}

func (h *Hub) publish(msg BackplaneMessage) {
	msg.Origin = h.cfg.InstanceID
	msg.At = h.now()

	timeout := h.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := h.backplane.Publish(ctx, msg); err != nil {
		h.metrics.RecordDrop("backplane")
		h.logger.Warn("backplane publish failed", "room_id", msg.RoomID, "kind", msg.Kind, "error", err)
	}
}

// rosterLocked lists local peers in join order followed by remote
// participants, each participant id once.
func (h *Hub) rosterLocked(rm *room) []types.Participant {
	out := make([]types.Participant, 0, len(rm.peers))
	seen := make(map[string]struct{}, len(rm.peers))
	for _, p := range rm.peers {
		if _, dup := seen[p.participant.ID]; dup {
			continue
		}
		seen[p.participant.ID] = struct{}{}
		out = append(out, p.participant)
	}

	byOrigin := h.remote[rm.id]
	origins := make([]string, 0, len(byOrigin))
	for origin := range byOrigin {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	for _, origin := range origins {
		for _, part := range byOrigin[origin].participants {
			if _, dup := seen[part.ID]; dup {
				continue
			}
			seen[part.ID] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

func (h *Hub) remoteHasLocked(roomID, participantID string) bool {
	for _, rp := range h.remote[roomID] {
		for _, part := range rp.participants {
			if part.ID == participantID {
				return true
			}
		}
	}
	return false
}

func (h *Hub) broadcastRosterLocked(rm *room, roster []types.Participant, skip *Peer) {
	frame, err := json.Marshal(protocol.ServerRoster{
		Type:         protocol.TypeRoster,
		RoomID:       rm.id,
		Participants: roster,
	})
	if err != nil {
		return
	}
	for _, p := range rm.peers {
		if p != skip {
			p.sendPriority(frame)
		}
	}
}

func (rm *room) remove(p *Peer) bool {
	for i, cur := range rm.peers {
		if cur == p {
			rm.peers = append(rm.peers[:i], rm.peers[i+1:]...)
			return true
		}
	}
	return false
}

func (rm *room) participants() []types.Participant {
	out := make([]types.Participant, 0, len(rm.peers))
	for _, p := range rm.peers {
		out = append(out, p.participant)
	}
	return out
}

func sanitizeParticipant(p types.Participant) types.Participant {
	p.ID = strings.TrimSpace(p.ID)
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.Language = types.NormalizeLanguage(p.Language)
	p.IsSelf = false
	return p
}

// closeMessage formats a close frame, truncating the reason to the
// protocol limit.
func closeMessage(code int, text string) []byte {
	if len(text) > 120 {
		text = text[:120]
	}
	return websocket.FormatCloseMessage(code, text)
}
