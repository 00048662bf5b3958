package routing

import (
	"strings"
	"testing"

	"github.com/vango-go/vai-livetranslate/pkg/core/types"
)

func roster(ps ...types.Participant) types.Roster { return types.Roster(ps) }

var self = types.Participant{ID: "me", Language: "en", IsSelf: true}

func TestPrimaryTarget(t *testing.T) {
	tests := []struct {
		name   string
		roster types.Roster
		want   string
		ok     bool
	}{
		{"alone", roster(self), "", false},
		{"one other", roster(self, types.Participant{ID: "a", Language: "ja"}), "ja", true},
		{"first other wins", roster(types.Participant{ID: "b", Language: "VI"}, self, types.Participant{ID: "a", Language: "ja"}), "vi", true},
		{"skips empty language", roster(self, types.Participant{ID: "a"}, types.Participant{ID: "b", Language: "ko"}), "ko", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PrimaryTarget(tt.roster, "me")
			if got != tt.want || ok != tt.ok {
				t.Fatalf("PrimaryTarget=%q,%v want %q,%v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestOtherLanguages_Dedupes(t *testing.T) {
	got := OtherLanguages(roster(self,
		types.Participant{ID: "a", Language: "ja"},
		types.Participant{ID: "b", Language: "JA"},
		types.Participant{ID: "c", Language: "vi"},
	), "me")
	if strings.Join(got, ",") != "ja,vi" {
		t.Fatalf("OtherLanguages=%v", got)
	}
}

func TestResolve_SoloBranches(t *testing.T) {
	r := Resolve(roster(self), "me", Options{})
	if r.OK {
		t.Fatalf("expected no route without others outside solo mode: %+v", r)
	}

	r = Resolve(roster(self), "me", Options{DevSolo: true})
	if !r.OK || !r.Solo || r.Source != "en" || r.Target != "ja" {
		t.Fatalf("solo route=%+v", r)
	}

	r = Resolve(roster(self), "me", Options{DevSolo: true, DefaultTarget: "vi"})
	if r.Target != "vi" {
		t.Fatalf("solo default target=%q", r.Target)
	}
}

func TestResolve_OthersBeatSolo(t *testing.T) {
	r := Resolve(roster(self, types.Participant{ID: "a", Language: "vi"}), "me", Options{DevSolo: true})
	if !r.OK || r.Solo || r.Target != "vi" {
		t.Fatalf("route=%+v", r)
	}
}

func TestResolve_SourceOverride(t *testing.T) {
	r := Resolve(roster(self, types.Participant{ID: "a", Language: "ja"}), "me", Options{Source: "fr"})
	if r.Source != "fr" {
		t.Fatalf("source=%q", r.Source)
	}
}

func TestResolve_NoSourceMeansNoRoute(t *testing.T) {
	r := Resolve(roster(types.Participant{ID: "a", Language: "ja"}), "me", Options{})
	if r.OK {
		t.Fatalf("expected no route without a source language: %+v", r)
	}
}

func TestRoute_SameSession(t *testing.T) {
	a := Route{Source: "en", Target: "ja", OK: true}
	if !a.SameSession(Route{Source: "EN", Target: "ja", OK: true, Others: []string{"ja"}}) {
		t.Fatalf("expected same session")
	}
	if a.SameSession(Route{Source: "en", Target: "vi", OK: true}) {
		t.Fatalf("different target must not share a session")
	}
}

func TestDefaultOpposite(t *testing.T) {
	if DefaultOpposite("en-US") != "ja" {
		t.Fatalf("english source should default to ja")
	}
	if DefaultOpposite("vi") != "en" {
		t.Fatalf("non-english source should default to en")
	}
}

func TestBuildPrompt_TranslatorOnly(t *testing.T) {
	p := BuildPrompt("en", "ja")
	for _, want := range []string{"English", "Japanese", "Never answer", "tone", "commentary", "never invent facts"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestBuildUpdatePrompt_NamesNewTarget(t *testing.T) {
	p := BuildUpdatePrompt("en", "vi")
	if !strings.Contains(p, "Vietnamese") || !strings.Contains(p, "English") {
		t.Fatalf("update prompt=%q", p)
	}
	if !strings.Contains(p, "never answer") {
		t.Fatalf("update prompt should restate translator-only rule: %q", p)
	}
}

func TestDisplayName_UnknownFallsBackToTag(t *testing.T) {
	if DisplayName("xx") != "xx" {
		t.Fatalf("DisplayName(xx)=%q", DisplayName("xx"))
	}
}
