package types

import "strings"

// Participant is one member of a call.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Language    string `json:"language"` // BCP-47 tag, e.g. "ja", "vi", "en-US"
	IsSelf      bool   `json:"isSelf,omitempty"`
}

// Roster is the living set of call members, owned by the call layer.
type Roster []Participant

// Self returns the local participant, if present.
func (r Roster) Self(selfID string) (Participant, bool) {
	for _, p := range r {
		if p.IsSelf || (selfID != "" && p.ID == selfID) {
			return p, true
		}
	}
	return Participant{}, false
}

// Others returns every participant that is not the local one, in roster order.
func (r Roster) Others(selfID string) []Participant {
	out := make([]Participant, 0, len(r))
	for _, p := range r {
		if p.IsSelf || (selfID != "" && p.ID == selfID) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Clone returns a copy that does not share the backing array.
func (r Roster) Clone() Roster {
	if r == nil {
		return nil
	}
	out := make(Roster, len(r))
	copy(out, r)
	return out
}

// NormalizeLanguage lowercases and trims a language tag. Region subtags are kept.
func NormalizeLanguage(tag string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(tag, "_", "-")))
}

// BaseLanguage strips any region or script subtag: "pt-BR" -> "pt".
func BaseLanguage(tag string) string {
	tag = NormalizeLanguage(tag)
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
