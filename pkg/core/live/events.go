package live

import (
	"github.com/vango-go/vai-livetranslate/pkg/core"
	"github.com/vango-go/vai-livetranslate/pkg/core/types"
	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
)

// Event is the interface for all controller events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted when the controller state changes.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// SessionOpenedEvent is emitted when the remote session reports setup complete.
type SessionOpenedEvent struct {
	SessionID      string `json:"session_id"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Solo           bool   `json:"solo,omitempty"`
}

func (e *SessionOpenedEvent) EventType() string { return "session.opened" }

// SessionClosedEvent is emitted after teardown.
type SessionClosedEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }

// LanguageUpdatedEvent is emitted when the session's target language changes.
type LanguageUpdatedEvent struct {
	TargetLanguage string `json:"target_language"`
	InBand         bool   `json:"in_band"` // false means the session was reopened
}

func (e *LanguageUpdatedEvent) EventType() string { return "language.updated" }

// InputTranscriptEvent carries recognized speech of the local speaker.
type InputTranscriptEvent struct {
	Text string `json:"text"`
}

func (e *InputTranscriptEvent) EventType() string { return "transcript.input" }

// TranslationTextEvent carries partial translated text released by the text
// buffer. Turn is everything translated so far in the current turn.
type TranslationTextEvent struct {
	Text string `json:"text"`
	Turn string `json:"turn"`
}

func (e *TranslationTextEvent) EventType() string { return "translation.text" }

// TranslationEvent carries a finished record of the local speaker's turn.
type TranslationEvent struct {
	Record types.TranslationRecord `json:"record"`
}

func (e *TranslationEvent) EventType() string { return "translation" }

// TranslationConfirmedEvent carries a record after its retranslation landed.
type TranslationConfirmedEvent struct {
	Record types.TranslationRecord `json:"record"`
}

func (e *TranslationConfirmedEvent) EventType() string { return "translation.confirmed" }

// PeerTranslationEvent carries a record relayed from the other participant.
type PeerTranslationEvent struct {
	Record types.TranslationRecord `json:"record"`
}

func (e *PeerTranslationEvent) EventType() string { return "translation.peer" }

// PeerAudioEvent is emitted when relayed peer audio was scheduled for playback.
type PeerAudioEvent struct {
	From  string            `json:"from"`
	Chunk InboundAudioChunk `json:"chunk"`
}

func (e *PeerAudioEvent) EventType() string { return "audio.peer" }

// InterruptedEvent is emitted when the endpoint discarded pending output.
type InterruptedEvent struct {
	DroppedChunks int `json:"dropped_chunks"`
}

func (e *InterruptedEvent) EventType() string { return "interrupted" }

// UsageEvent carries the ledger after a turn or a provider usage report.
type UsageEvent struct {
	Usage usage.Snapshot `json:"usage"`
}

func (e *UsageEvent) EventType() string { return "usage" }

// ErrorEvent carries an actionable error: setup, authentication, or quota.
type ErrorEvent struct {
	Err     *core.Error `json:"error"`
	Message string      `json:"message"` // user-facing text
}

func (e *ErrorEvent) EventType() string { return "error" }
