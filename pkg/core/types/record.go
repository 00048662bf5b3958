package types

import "time"

// TranslationRecord is one finished translated turn.
//
// ConfirmedOriginalText is filled in later by the retranslation side channel;
// a record is complete and valid without it.
type TranslationRecord struct {
	ID                    string    `json:"id"`
	FromParticipant       string    `json:"fromParticipant"`
	FromLanguage          string    `json:"fromLanguage"`
	ToLanguage            string    `json:"toLanguage,omitempty"`
	OriginalText          string    `json:"originalText,omitempty"`
	TranslatedText        string    `json:"translatedText"`
	Timestamp             time.Time `json:"timestamp"`
	ConfirmedOriginalText string    `json:"confirmedOriginalText,omitempty"`
}

// Confirmed reports whether the retranslation has landed.
func (r TranslationRecord) Confirmed() bool {
	return r.ConfirmedOriginalText != ""
}
