// Package live implements the real-time speech translation engine for one
// participant of a two-person call.
//
// The local speaker's microphone is streamed to a remote translation session;
// translated audio and text come back, are relayed to the other participant,
// and optionally played locally. Audio relayed from the other participant is
// scheduled gaplessly on the same output timeline.
//
// # Architecture
//
//   - Controller: the session state machine. Run is its single event loop.
//   - CaptureBuffer: collects capture frames and flushes them on the speed
//     profile's interval.
//   - PlaybackContext and PlaybackScheduler: an output clock plus a scheduler
//     that lays audio chunks back to back and drops them on interrupt.
//   - TextBuffer: holds streamed translated text until it is worth showing.
//   - Confirmer: re-translates finished turns back into the speaker's language
//     off the hot path.
//
// # Data Flow
//
//	mic → PushFrame → CaptureBuffer ─(interval)→ sender → Transport
//	                                                         │
//	Relay ← translated-audio / translation ← Controller ← Messages
//	                                           │
//	                      PlaybackScheduler ←──┴──→ Events
//
// # State Machine
//
//	IDLE → OPENING → ACTIVE → CLOSING → CLOSED
//	          ↑                            │
//	          └──────── roster / Open ─────┘
//
// # Usage
//
//	ctrl, err := live.NewController(live.SessionConfig{
//	    APIKey:         key,
//	    SelfID:         "alice",
//	    SourceLanguage: "ja",
//	}, live.Dependencies{Dialer: gemini.NewLiveDialer(gemini.LiveConfig{APIKey: key})})
//	go ctrl.Run(ctx)
//
//	ctrl.UpdateRoster(ctx, roster)
//	ctrl.Open(ctx)
//
//	for ev := range ctrl.Events() {
//	    switch e := ev.(type) {
//	    case *live.TranslationEvent:
//	        fmt.Println(e.Record.TranslatedText)
//	    }
//	}
package live
