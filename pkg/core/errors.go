package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Error represents a translation engine error.
type Error struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	Code          string    `json:"code,omitempty"`
	ProviderError string    `json:"provider_error,omitempty"`
	RetryAfter    *int      `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest  ErrorType = "invalid_request_error"
	ErrSetup           ErrorType = "setup_error"
	ErrAuthentication  ErrorType = "authentication_error"
	ErrQuota           ErrorType = "quota_error"
	ErrTransportClosed ErrorType = "transport_closed"
	ErrDecode          ErrorType = "decode_error"
	ErrConfirm         ErrorType = "confirm_error"
	ErrProvider        ErrorType = "provider_error"
)

// QuotaUserMessage is shown instead of the provider text when a session hits
// a quota or rate limit.
const QuotaUserMessage = "Translation quota reached. Please try again later or check your billing settings."

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewSetupError creates a session setup error.
func NewSetupError(message string, cause error) *Error {
	return newWithCause(ErrSetup, message, cause)
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string, cause error) *Error {
	return newWithCause(ErrAuthentication, message, cause)
}

// NewQuotaError creates a quota error. retryAfter is in seconds; 0 means unknown.
func NewQuotaError(cause error, retryAfter int) *Error {
	e := newWithCause(ErrQuota, QuotaUserMessage, cause)
	if retryAfter > 0 {
		e.RetryAfter = &retryAfter
	}
	return e
}

// NewTransportClosedError creates a transport closed error.
func NewTransportClosedError(cause error) *Error {
	return newWithCause(ErrTransportClosed, "session transport closed", cause)
}

// NewDecodeError creates a decode error.
func NewDecodeError(message string, cause error) *Error {
	return newWithCause(ErrDecode, message, cause)
}

// NewProviderError creates a provider-specific error.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:          ErrProvider,
		Message:       fmt.Sprintf("%s: %v", provider, underlying),
		ProviderError: underlying.Error(),
		cause:         underlying,
	}
}

func newWithCause(t ErrorType, message string, cause error) *Error {
	e := &Error{Type: t, Message: message, cause: cause}
	if cause != nil {
		e.ProviderError = cause.Error()
	}
	return e
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrQuota, ErrTransportClosed, ErrProvider:
		return true
	default:
		return false
	}
}

// Surfaced reports whether the error is actionable for the end user. Everything
// else is recovered locally.
func (e *Error) Surfaced() bool {
	switch e.Type {
	case ErrSetup, ErrAuthentication, ErrQuota:
		return true
	default:
		return false
	}
}

// UserMessage returns the text to display for a surfaced error.
func (e *Error) UserMessage() string {
	switch e.Type {
	case ErrQuota:
		return QuotaUserMessage
	case ErrAuthentication:
		return "Translation service rejected the API credential. Check your API key."
	case ErrSetup:
		return "Could not start the translation session: " + e.Message
	default:
		return e.Message
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}

var (
	quotaMarkers = []string{
		"quota",
		"rate limit",
		"rate-limit",
		"ratelimit",
		"resource_exhausted",
		"resource exhausted",
		"too many requests",
		"billing",
	}
	authMarkers = []string{
		"api key not valid",
		"invalid api key",
		"api_key_invalid",
		"unauthenticated",
		"permission denied",
		"permission_denied",
		"unauthorized",
	}
	// statusPattern finds an HTTP status only where it is labelled as one, so
	// addresses such as 10.0.0.1:54291 are not read as a 429.
	statusPattern = regexp.MustCompile(`\b(?:status|code|http(?:/[0-9.]+)?)[\s:=(]*([0-9]{3})\b`)

	closedMarkers = []string{
		"closing",
		"closed",
		"close sent",
		"broken pipe",
		"connection reset",
	}
)

// Classify maps an arbitrary error onto the engine's taxonomy. A *Error keeps
// its type; anything else is classified by substrings of its text. Quota wins
// over closed because providers close the socket when a quota trips.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Type != ErrProvider {
		return ce.Type
	}
	text := strings.ToLower(err.Error())
	status := labelledStatus(text)
	switch {
	case containsAny(text, quotaMarkers) || status == "429":
		return ErrQuota
	case containsAny(text, authMarkers) || status == "401" || status == "403":
		return ErrAuthentication
	case containsAny(text, closedMarkers):
		return ErrTransportClosed
	default:
		return ErrProvider
	}
}

// Wrap returns err as a *Error of its classified type.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Type != ErrProvider {
		return ce
	}
	switch Classify(err) {
	case ErrQuota:
		return NewQuotaError(err, 0)
	case ErrAuthentication:
		return NewAuthenticationError("authentication failed", err)
	case ErrTransportClosed:
		return NewTransportClosedError(err)
	default:
		return NewProviderError("translation", err)
	}
}

func labelledStatus(text string) string {
	if m := statusPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
