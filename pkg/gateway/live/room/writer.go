package room

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// peerWriter is the only goroutine that writes to a peer connection. Control
// messages (joined, roster, warnings) travel on the priority lane and always
// go out before queued relays.
type peerWriter struct {
	ws           wsWriter
	ctx          context.Context
	pingInterval time.Duration
	writeTimeout time.Duration
	priority     <-chan []byte
	normal       <-chan []byte

	// closeFrame returns the close payload written on shutdown.
	closeFrame func() []byte
	// onWrite is called with the size of every relay frame written.
	onWrite func(n int)
}

func (w *peerWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutdown(writeTimeout)
			return nil
		default:
		}

		select {
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if w.priority == nil && w.normal == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			w.shutdown(writeTimeout)
			return nil
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case frame, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
		case frame, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			if err := w.write(frame, writeTimeout); err != nil {
				return err
			}
			if w.onWrite != nil {
				w.onWrite(len(frame))
			}
		}
	}
}

// shutdown flushes a bounded number of queued control frames, then sends the
// close frame and closes the connection.
func (w *peerWriter) shutdown(writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)

flush:
	for i := 0; i < 8 && w.priority != nil && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-w.priority:
			if !ok {
				break flush
			}
			if err := w.write(frame, writeTimeout); err != nil {
				break flush
			}
		default:
			break flush
		}
	}

	payload := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if w.closeFrame != nil {
		if p := w.closeFrame(); len(p) > 0 {
			payload = p
		}
	}
	_ = w.ws.WriteControl(websocket.CloseMessage, payload, time.Now().Add(writeTimeout))
	_ = w.ws.Close()
}

func (w *peerWriter) write(frame []byte, writeTimeout time.Duration) error {
	if len(frame) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame)
}
