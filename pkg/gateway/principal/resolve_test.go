package principal

import (
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-livetranslate/pkg/gateway/auth"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/ratelimit"
)

func TestClientIP_IgnoresProxyHeadersUnlessTrusted(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/rooms/r1/ws", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := ClientIP(r, false); got != "10.0.0.1" {
		t.Fatalf("untrusted ip=%q", got)
	}
	if got := ClientIP(r, true); got != "203.0.113.9" {
		t.Fatalf("trusted ip=%q", got)
	}
}

func TestResolve_PrefersToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{Token: "tok"}))
	got := Resolve(r, false)
	if got.Kind != KindToken || got.Key != ratelimit.KeyFromToken("tok") {
		t.Fatalf("resolved=%+v", got)
	}

	anon := httptest.NewRequest("GET", "/", nil)
	anon.RemoteAddr = "not-an-ip"
	if got := Resolve(anon, false); got.Kind != KindAnon {
		t.Fatalf("resolved=%+v", got)
	}
}

func TestClientIP_TrustedHeaderOrder(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "cloudflare first", headers: map[string]string{"CF-Connecting-IP": "198.51.100.4", "X-Real-IP": "198.51.100.5"}, remote: "10.0.0.1:1", want: "198.51.100.4"},
		{name: "bad header skipped", headers: map[string]string{"X-Real-IP": "garbage", "X-Forwarded-For": "198.51.100.6"}, remote: "10.0.0.1:1", want: "198.51.100.6"},
		{name: "falls back to remote", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "nothing parses", remote: "pipe", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/rooms/r1/ws", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, true); got != tt.want {
				t.Fatalf("ClientIP=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_FallsBackToAddress(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/rooms/r1/ws", nil)
	r.RemoteAddr = "192.0.2.10:40000"
	got := Resolve(r, false)
	if got.Kind != KindIP || got.Key != ratelimit.KeyFromIP("192.0.2.10") {
		t.Fatalf("resolved=%+v", got)
	}
}
