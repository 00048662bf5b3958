package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-livetranslate/pkg/gateway/apierror"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/auth"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/config"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/room"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/mw"
)

// JoinRecorder counts rejected joins.
type JoinRecorder interface {
	RecordJoinDenied(reason string)
}

// RoomHandler handles /v1/rooms/{room}/ws.
type RoomHandler struct {
	Config    config.Config
	Hub       *room.Hub
	Peers     *sessions.Tracker
	Lifecycle *lifecycle.Lifecycle
	Metrics   JoinRecorder
	Logger    *slog.Logger
}

func (h RoomHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{Type: apierror.TypeInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID})
		return
	}
	if h.Lifecycle.IsDraining() {
		h.denied("draining")
		apierror.Write(w, http.StatusServiceUnavailable, &apierror.Error{Type: apierror.TypeOverloaded, Message: "relay is draining", Code: "draining", RequestID: reqID})
		return
	}
	roomID := r.PathValue("room")
	if !room.ValidRoomID(roomID) {
		apierror.Write(w, http.StatusBadRequest, &apierror.Error{Type: apierror.TypeInvalidRequest, Message: "invalid room id", Param: "room", RequestID: reqID})
		return
	}
	if !h.originAllowed(r) {
		h.denied("origin")
		apierror.Write(w, http.StatusForbidden, &apierror.Error{Type: apierror.TypePermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxMessageBytes)
	}
	joinTimeout := h.Config.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = 10 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read join", false)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be join", false)
		return
	}
	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		code := "bad_request"
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Code != "" {
			code = de.Code
		}
		h.writeWSError(conn, code, err.Error(), false)
		return
	}
	join, ok := decoded.(protocol.ClientJoin)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be join", false)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	peer, err := h.Hub.Join(r.Context(), roomID, join.Participant, conn)
	if err != nil {
		var je *room.JoinError
		if !errors.As(err, &je) {
			je = &room.JoinError{Code: "internal", Message: "failed to join room"}
		}
		h.denied(je.Code)
		h.writeWSError(conn, je.Code, je.Message, je.Retryable)
		return
	}

	tokenVia := "none"
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		tokenVia = string(p.Via)
	}
	h.logger().Debug("peer joined",
		"room_id", roomID,
		"peer_id", peer.ID(),
		"request_id", reqID,
		"token_via", tokenVia,
	)

	unregister := h.Peers.Register(peer.ID(), sessions.Handle{
		RoomID: roomID,
		Cancel: peer.Shutdown,
		Warn:   peer.Warn,
	})
	defer unregister()

	if err := peer.Run(); err != nil {
		h.logger().Warn("peer ended with error",
			"room_id", roomID,
			"peer_id", peer.ID(),
			"request_id", reqID,
			"error", err,
		)
	}
}

func (h RoomHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.Config.AllowedOrigins[origin]
	return ok
}

func (h RoomHandler) writeWSError(conn *websocket.Conn, code, message string, retryable bool) {
	_ = conn.WriteJSON(protocol.ServerError{
		Type:      protocol.TypeError,
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Close:     true,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

func (h RoomHandler) denied(reason string) {
	if h.Metrics != nil {
		h.Metrics.RecordJoinDenied(reason)
	}
}

func (h RoomHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
