// Package gemini connects the translation engine to Google Gemini.
//
// LiveDialer opens BidiGenerateContent sessions over a WebSocket and
// normalizes their messages for the live controller. Translator performs the
// one-shot retranslations used for confirmation, via the genai SDK.
package gemini

import "time"

const (
	// DefaultLiveURL is the Gemini Live BidiGenerateContent endpoint.
	DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultLiveModel is a native-audio model that translates speech to speech.
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// DefaultTranslateModel is the text model used for confirmations.
	DefaultTranslateModel = "gemini-2.5-flash"

	defaultWriteTimeout   = 5 * time.Second
	defaultMessageBacklog = 256
	maxReasonLength       = 300
)
