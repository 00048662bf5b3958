package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-livetranslate/pkg/gateway/auth"
)

func TestAuth_RejectsMissingAndUnknownTokens(t *testing.T) {
	h := Auth(map[string]struct{}{"tok_test": {}}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/rooms/r1/ws", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/r1/ws", nil)
	req.Header.Set("Authorization", "Bearer nope")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status=%d", rr.Code)
	}
}

func TestAuth_AcceptsHeaderOrQueryToken(t *testing.T) {
	var seen string
	h := Auth(map[string]struct{}{"tok_test": {}}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			seen = p.Token
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/r1/ws", nil)
	req.Header.Set("Authorization", "Bearer tok_test")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || seen != "tok_test" {
		t.Fatalf("header status=%d principal=%q", rr.Code, seen)
	}

	seen = ""
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/rooms/r1/ws?access_token=tok_test", nil))
	if rr.Code != http.StatusNoContent || seen != "tok_test" {
		t.Fatalf("query status=%d principal=%q", rr.Code, seen)
	}
}

func TestAuth_DisabledWithoutTokens(t *testing.T) {
	h := Auth(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/rooms/r1/ws", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
}
