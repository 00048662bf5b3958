// Package principal decides which join-limit bucket a room join is charged to.
package principal

import (
	"net"
	"net/http"
	"strings"

	"github.com/vango-go/vai-livetranslate/pkg/gateway/auth"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindToken Kind = "token"
	KindIP    Kind = "ip"
	KindAnon  Kind = "anonymous"
)

const anonymousKey = "anonymous"

// Resolved is the bucket a join is charged to. Key is hashed and safe to log.
type Resolved struct {
	Kind Kind
	Key  string
}

// Resolve charges token holders to their token, so one shared token cannot
// dodge its cap by joining from many addresses. Without auth, joins are
// charged to the client address.
func Resolve(r *http.Request, trustProxyHeaders bool) Resolved {
	if r == nil {
		return Resolved{Kind: KindAnon, Key: anonymousKey}
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.Token != "" {
		return Resolved{Kind: KindToken, Key: ratelimit.KeyFromToken(p.Token)}
	}
	if ip := ClientIP(r, trustProxyHeaders); ip != "" {
		return Resolved{Kind: KindIP, Key: ratelimit.KeyFromIP(ip)}
	}
	return Resolved{Kind: KindAnon, Key: anonymousKey}
}

// proxyHeaders are consulted in order when the relay runs behind a trusted
// load balancer.
var proxyHeaders = []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"}

// ClientIP returns the joining client's address, or "" when none parses.
// Proxy headers are ignored unless trustProxyHeaders is set; a client talking
// to the relay directly could otherwise pick its own bucket.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if r == nil {
		return ""
	}
	if trustProxyHeaders {
		for _, h := range proxyHeaders {
			// X-Forwarded-For lists the original client first.
			first, _, _ := strings.Cut(r.Header.Get(h), ",")
			if ip := normalizeIP(first); ip != "" {
				return ip
			}
		}
	}
	return normalizeIP(r.RemoteAddr)
}

func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return ""
}
