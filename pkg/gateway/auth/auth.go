// Package auth carries the relay's shared-token identity through a request.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// TokenVia records where a join presented its token.
type TokenVia string

const (
	ViaHeader TokenVia = "header"
	ViaQuery  TokenVia = "query"
)

// Principal is a relay client that presented a configured room token.
type Principal struct {
	Token string
	Via   TokenVia
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseToken returns the room token of a join request. Browsers cannot set
// headers on a WebSocket upgrade, so the access_token query parameter is
// accepted when no Authorization header is present. The scheme name is
// matched case-insensitively.
func ParseToken(r *http.Request) (string, TokenVia, bool) {
	if scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); found {
		token = strings.TrimSpace(token)
		if strings.EqualFold(scheme, "bearer") && token != "" {
			return token, ViaHeader, true
		}
		return "", "", false
	}
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return token, ViaQuery, true
	}
	return "", "", false
}
