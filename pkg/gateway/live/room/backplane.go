package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vango-go/vai-livetranslate/pkg/core/types"
)

const (
	KindRelay    = "relay"
	KindPresence = "presence"
)

// BackplaneMessage is what hub instances exchange so that peers of the same
// room connected to different instances can reach each other.
type BackplaneMessage struct {
	Origin string `json:"origin"`
	RoomID string `json:"room_id"`
	Kind   string `json:"kind"`

	// relay
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// presence: the origin's full local membership of the room. Empty means
	// the origin has no peers left there.
	Participants []types.Participant `json:"participants,omitempty"`
	// Request asks the other instances to republish their presence.
	Request bool      `json:"request,omitempty"`
	At      time.Time `json:"at,omitzero"`
}

// Backplane fans messages out to every other hub instance.
type Backplane interface {
	Publish(ctx context.Context, msg BackplaneMessage) error
	// Subscribe delivers messages from all instances (including this one)
	// until ctx is done or the subscription fails.
	Subscribe(ctx context.Context, deliver func(BackplaneMessage)) error
}

// Metrics receives hub telemetry.
type Metrics interface {
	RecordPeerJoin()
	RecordPeerLeave(reason string)
	RecordRelay(bytes int)
	RecordDrop(reason string)
	SetRooms(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordPeerJoin() {}
func (noopMetrics) RecordPeerLeave(string) {}
func (noopMetrics) RecordRelay(int) {}
func (noopMetrics) RecordDrop(string) {}
func (noopMetrics) SetRooms(int) {}
