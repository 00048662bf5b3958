package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestParseToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		target    string
		wantToken string
		wantVia   TokenVia
		wantOK    bool
	}{
		{name: "bearer", header: "Bearer tok_1", target: "/v1/rooms/r1/ws", wantToken: "tok_1", wantVia: ViaHeader, wantOK: true},
		{name: "lowercase scheme", header: "bearer tok_1", target: "/v1/rooms/r1/ws", wantToken: "tok_1", wantVia: ViaHeader, wantOK: true},
		{name: "query", target: "/v1/rooms/r1/ws?access_token=tok_2", wantToken: "tok_2", wantVia: ViaQuery, wantOK: true},
		{name: "header wins over query", header: "Bearer tok_1", target: "/v1/rooms/r1/ws?access_token=tok_2", wantToken: "tok_1", wantVia: ViaHeader, wantOK: true},
		{name: "basic scheme", header: "Basic dXNlcjpwdw==", target: "/v1/rooms/r1/ws?access_token=tok_2"},
		{name: "empty bearer", header: "Bearer   ", target: "/v1/rooms/r1/ws"},
		{name: "none", target: "/v1/rooms/r1/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			token, via, ok := ParseToken(r)
			if token != tt.wantToken || via != tt.wantVia || ok != tt.wantOK {
				t.Fatalf("ParseToken = (%q, %q, %v), want (%q, %q, %v)", token, via, ok, tt.wantToken, tt.wantVia, tt.wantOK)
			}
		})
	}
}

func TestPrincipalFrom(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatalf("empty context has a principal")
	}
	if _, ok := PrincipalFrom(WithPrincipal(context.Background(), nil)); ok {
		t.Fatalf("nil principal reported as present")
	}
	p, ok := PrincipalFrom(WithPrincipal(context.Background(), &Principal{Token: "tok", Via: ViaQuery}))
	if !ok || p.Token != "tok" || p.Via != ViaQuery {
		t.Fatalf("principal=%+v ok=%v", p, ok)
	}
}
