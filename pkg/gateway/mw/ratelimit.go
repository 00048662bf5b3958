package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-livetranslate/pkg/gateway/apierror"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/principal"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/ratelimit"
)

// JoinLimit charges one join against the caller's bucket and holds a peer
// slot for as long as the wrapped handler runs. WebSocket handlers block for
// the life of the connection, so the slot covers the peer.
func JoinLimit(limiter *ratelimit.Limiter, trustProxyHeaders bool, onDeny func(reason string), next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who := principal.Resolve(r, trustProxyHeaders)
		dec := limiter.AcquireJoin(who.Key, time.Now())
		if !dec.Allowed {
			if onDeny != nil {
				onDeny(dec.Reason)
			}
			reqID, _ := RequestIDFrom(r.Context())
			var retryAfter *int
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
				v := dec.RetryAfter
				retryAfter = &v
			}
			apierror.Write(w, http.StatusTooManyRequests, &apierror.Error{
				Type:       apierror.TypeRateLimit,
				Message:    "too many joins",
				Code:       dec.Reason,
				RequestID:  reqID,
				RetryAfter: retryAfter,
			})
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
