package live

import (
	"context"

	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/protocol"
)

// SessionSetup is what the controller asks a Dialer to open.
type SessionSetup struct {
	// APIKey overrides the dialer's configured credential when set.
	APIKey            string
	Model             string
	SourceLanguage    string
	TargetLanguage    string
	SystemInstruction string
	InputMIMEType     string
}

// Dialer opens remote streaming translation sessions.
type Dialer interface {
	Dial(ctx context.Context, setup SessionSetup) (Transport, error)
}

// Transport is one open streaming session.
//
// Messages is closed when the session ends; Err then reports why (nil for a
// local Close).
type Transport interface {
	SendAudio(ctx context.Context, batch OutboundAudioBatch) error
	Messages() <-chan ServerMessage
	Err() error
	Close() error
}

// TextSender is implemented by transports that accept in-band text, used for
// instruction updates without reconnecting.
type TextSender interface {
	SendText(ctx context.Context, text string) error
}

// InlineAudio is one base64 audio part of a server message.
type InlineAudio struct {
	MIMEType string
	Data     string
}

// ServerMessage is one inbound message, normalized across providers. A single
// message may carry any combination of fields.
type ServerMessage struct {
	SetupComplete    bool
	Audio            []InlineAudio
	Text             []string
	InputTranscript  string
	OutputTranscript string
	Interrupted      bool
	TurnComplete     bool
	// Usage is the provider's cumulative session total, when reported.
	Usage *usage.Counters
	// GoAway announces that the endpoint will end the session soon.
	GoAway bool
}

// Relay delivers envelopes to the other participant(s). Broadcast must not
// block; implementations queue and drop.
type Relay interface {
	Broadcast(env protocol.Envelope) error
}

// MetricsRecorder receives engine telemetry. All methods must be cheap.
type MetricsRecorder interface {
	RecordSessionStart(solo bool)
	RecordSessionEnd(reason string, durationSeconds float64)
	RecordAudio(direction string, bytes int)
	RecordTokens(delta usage.Counters)
	RecordError(kind string)
	RecordConfirmation(result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSessionStart(bool) {}
func (noopMetrics) RecordSessionEnd(string, float64) {}
func (noopMetrics) RecordAudio(string, int) {}
func (noopMetrics) RecordTokens(usage.Counters) {}
func (noopMetrics) RecordError(string) {}
func (noopMetrics) RecordConfirmation(string) {}
