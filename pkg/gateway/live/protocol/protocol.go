// Package protocol defines the relay room wire format and the application
// envelopes that translation engines exchange through it.
//
// The relay hub only understands the room messages (join, roster, relay,
// error). Envelope payloads are opaque to it and forwarded byte for byte.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vango-go/vai-livetranslate/pkg/core/types"
)

const (
	ProtocolVersion1 = "1"

	TypeJoin    = "join"
	TypeLeave   = "leave"
	TypeRelay   = "relay"
	TypeJoined  = "joined"
	TypeRoster  = "roster"
	TypeError   = "error"
	TypeWarning = "warning"

	EnvelopeTranslatedAudio = "translated-audio"
	EnvelopeTranslation     = "translation"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientJoin is the first frame a peer sends after connecting.
type ClientJoin struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Participant     types.Participant `json:"participant"`
}

// ClientRelay asks the hub to forward Payload to every other peer in the room.
type ClientRelay struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientLeave announces a clean departure.
type ClientLeave struct {
	Type string `json:"type"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeJoin:
		var msg ClientJoin
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid join frame", "")
		}
		if err := ValidateJoin(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeRelay:
		var msg ClientRelay
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid relay frame", "")
		}
		if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
			return nil, badRequest("relay.payload is required", "payload")
		}
		return msg, nil
	case TypeLeave:
		return ClientLeave{Type: TypeLeave}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

func ValidateJoin(msg ClientJoin) error {
	if msg.Type != TypeJoin {
		return badRequest("type must be join", "type")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol_version", "protocol_version")
	}
	if strings.TrimSpace(msg.Participant.ID) == "" {
		return badRequest("participant.id is required", "participant.id")
	}
	if strings.TrimSpace(msg.Participant.Language) == "" {
		return badRequest("participant.language is required", "participant.language")
	}
	return nil
}

type JoinedLimits struct {
	MaxMessageBytes     int   `json:"max_message_bytes"`
	MaxRelayBytesPerSec int64 `json:"max_relay_bytes_per_sec,omitempty"`
	MaxPeers            int   `json:"max_peers"`
}

// ServerJoined acknowledges a join.
type ServerJoined struct {
	Type            string              `json:"type"`
	ProtocolVersion string              `json:"protocol_version"`
	RoomID          string              `json:"room_id"`
	PeerID          string              `json:"peer_id"`
	Participants    []types.Participant `json:"participants"`
	Limits          JoinedLimits        `json:"limits"`
}

// ServerRoster is broadcast to every peer whenever membership changes.
type ServerRoster struct {
	Type         string              `json:"type"`
	RoomID       string              `json:"room_id"`
	Participants []types.Participant `json:"participants"`
}

// ServerRelay is a forwarded payload from another peer.
type ServerRelay struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type ServerError struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Param     string `json:"param,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Close     bool   `json:"close,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeServerMessage is the peer-side counterpart of DecodeClientMessage.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	var target any
	switch strings.TrimSpace(envelope.Type) {
	case TypeJoined:
		target = &ServerJoined{}
	case TypeRoster:
		target = &ServerRoster{}
	case TypeRelay:
		target = &ServerRelay{}
	case TypeError:
		target = &ServerError{}
	case TypeWarning:
		target = &ServerWarning{}
	case "":
		return nil, badRequest("missing type", "type")
	default:
		return nil, unsupported("unsupported message type", "type")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, badRequest("invalid "+envelope.Type+" frame", "")
	}
	switch m := target.(type) {
	case *ServerJoined:
		return *m, nil
	case *ServerRoster:
		return *m, nil
	case *ServerRelay:
		return *m, nil
	case *ServerError:
		return *m, nil
	case *ServerWarning:
		return *m, nil
	}
	return nil, unsupported("unsupported message type", "type")
}

// Envelope is the application payload engines exchange through the relay.
type Envelope struct {
	Type string `json:"type"`

	// translated-audio
	AudioData    string `json:"audioData,omitempty"`
	AudioFormat  string `json:"audioFormat,omitempty"`
	From         string `json:"from,omitempty"`
	FromLanguage string `json:"fromLanguage,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"` // unix milliseconds

	// translation
	Translation *types.TranslationRecord `json:"translation,omitempty"`
}

// NewTranslatedAudio builds a translated-audio envelope.
func NewTranslatedAudio(audioB64, format, from, fromLanguage string, at time.Time) Envelope {
	return Envelope{
		Type:         EnvelopeTranslatedAudio,
		AudioData:    audioB64,
		AudioFormat:  format,
		From:         from,
		FromLanguage: fromLanguage,
		Timestamp:    at.UnixMilli(),
	}
}

// NewTranslation builds a translation envelope.
func NewTranslation(rec types.TranslationRecord) Envelope {
	return Envelope{Type: EnvelopeTranslation, Translation: &rec}
}

// DecodeEnvelope parses and validates an application payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, badRequest("invalid envelope", "")
	}
	switch env.Type {
	case EnvelopeTranslatedAudio:
		if strings.TrimSpace(env.AudioData) == "" {
			return Envelope{}, badRequest("translated-audio.audioData is required", "audioData")
		}
	case EnvelopeTranslation:
		if env.Translation == nil || strings.TrimSpace(env.Translation.ID) == "" {
			return Envelope{}, badRequest("translation.translation.id is required", "translation")
		}
	case "":
		return Envelope{}, badRequest("missing type", "type")
	default:
		return Envelope{}, unsupported("unsupported envelope type", "type")
	}
	return env, nil
}
