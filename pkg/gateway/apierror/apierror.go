package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vango-go/vai-livetranslate/pkg/core"
)

// Type values used in relay HTTP error bodies.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAuthentication = "authentication_error"
	TypePermission     = "permission_error"
	TypeNotFound       = "not_found_error"
	TypeRateLimit      = "rate_limit_error"
	TypeOverloaded     = "overloaded_error"
	TypeAPI            = "api_error"
)

// Error is the body of a non-WebSocket relay error response.
type Error struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Param      string `json:"param,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError maps an arbitrary error onto a response body and status. Unknown
// errors do not leak their text.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: TypeAPI, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: TypeAPI, Message: "request cancelled", Code: "cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := &Error{Message: coreErr.Message, Code: coreErr.Code, RequestID: requestID, RetryAfter: coreErr.RetryAfter}
		switch coreErr.Type {
		case core.ErrInvalidRequest, core.ErrDecode:
			out.Type = TypeInvalidRequest
			return out, http.StatusBadRequest
		case core.ErrAuthentication:
			out.Type = TypeAuthentication
			return out, http.StatusUnauthorized
		case core.ErrQuota:
			out.Type = TypeRateLimit
			return out, http.StatusTooManyRequests
		}
	}

	return &Error{Type: TypeAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

// Write sends err as a JSON envelope.
func Write(w http.ResponseWriter, status int, err *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: err})
}
