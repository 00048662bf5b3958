package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrInvalidRequest,
		Message: "missing source language",
	}

	expected := "invalid_request_error: missing source language"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := &Error{
		Type:    ErrQuota,
		Message: "too many requests",
		Code:    "resource_exhausted",
	}

	expected := "quota_error: too many requests (code: resource_exhausted)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewQuotaError(t *testing.T) {
	cause := errors.New("websocket: close 1011: Quota exceeded for model")
	err := NewQuotaError(cause, 30)
	if err.Type != ErrQuota {
		t.Fatalf("Type = %v, want %v", err.Type, ErrQuota)
	}
	if err.RetryAfter == nil || *err.RetryAfter != 30 {
		t.Fatalf("RetryAfter = %v, want 30", err.RetryAfter)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected quota error to unwrap to cause")
	}
	if strings.Contains(err.UserMessage(), "Quota exceeded for model") {
		t.Fatalf("user message leaks provider text: %q", err.UserMessage())
	}
	if !strings.Contains(err.UserMessage(), "billing") || !strings.Contains(err.UserMessage(), "try again") {
		t.Fatalf("user message = %q, want billing/retry guidance", err.UserMessage())
	}
}

func TestNewProviderError(t *testing.T) {
	underlying := errors.New("upstream error")
	err := NewProviderError("gemini", underlying)
	if err.Type != ErrProvider {
		t.Errorf("Type = %v, want %v", err.Type, ErrProvider)
	}
	if err.ProviderError != "upstream error" {
		t.Errorf("ProviderError = %q", err.ProviderError)
	}
	if !errors.Is(err, underlying) {
		t.Errorf("expected errors.Is to reach underlying error")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"quota", errors.New("send failed: quota exceeded"), ErrQuota},
		{"resource exhausted", errors.New("RESOURCE_EXHAUSTED: limit reached"), ErrQuota},
		{"rate limit", errors.New("HTTP 429 Too Many Requests"), ErrQuota},
		{"quota beats closed", errors.New("websocket: close 1011 (internal server error): quota exceeded, connection closed"), ErrQuota},
		{"auth", errors.New("API key not valid. Please pass a valid API key."), ErrAuthentication},
		{"unauthenticated", errors.New("rpc error: UNAUTHENTICATED"), ErrAuthentication},
		{"close sent", errors.New("websocket: close sent"), ErrTransportClosed},
		{"closed conn", errors.New("write tcp: use of closed network connection"), ErrTransportClosed},
		{"closing", errors.New("session is closing"), ErrTransportClosed},
		{"other", errors.New("unexpected EOF"), ErrProvider},
		{"labelled 403", errors.New("websocket: bad handshake (status 403)"), ErrAuthentication},
		{"status code 401", errors.New("request failed: status code 401"), ErrAuthentication},
		{"port is not a status", errors.New("write tcp 192.168.1.20:54291->142.250.74.10:443: write: broken pipe"), ErrTransportClosed},
		{"port 40123 is not a status", errors.New("read tcp 10.0.0.7:40123->10.0.0.9:443: connection reset by peer"), ErrTransportClosed},
		{"port 4291 dial", errors.New("dial tcp 127.0.0.1:4291: i/o timeout"), ErrProvider},
		{"typed", NewSetupError("handshake timed out", nil), ErrSetup},
		{"wrapped typed", fmt.Errorf("open: %w", NewDecodeError("bad base64", nil)), ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrap_PreservesTypedErrors(t *testing.T) {
	setup := NewSetupError("no setupComplete", nil)
	if got := Wrap(fmt.Errorf("dial: %w", setup)); got != setup {
		t.Fatalf("Wrap returned %v, want original setup error", got)
	}
	if got := Wrap(errors.New("quota exceeded")); got.Type != ErrQuota {
		t.Fatalf("Wrap type = %q, want quota", got.Type)
	}
	if Wrap(nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestError_Surfaced(t *testing.T) {
	surfaced := []ErrorType{ErrSetup, ErrAuthentication, ErrQuota}
	local := []ErrorType{ErrTransportClosed, ErrDecode, ErrConfirm, ErrProvider}
	for _, typ := range surfaced {
		if !(&Error{Type: typ}).Surfaced() {
			t.Errorf("%s should be surfaced", typ)
		}
	}
	for _, typ := range local {
		if (&Error{Type: typ}).Surfaced() {
			t.Errorf("%s should be recovered locally", typ)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
	}{
		{ErrInvalidRequest, false},
		{ErrAuthentication, false},
		{ErrSetup, false},
		{ErrQuota, true},
		{ErrTransportClosed, true},
		{ErrProvider, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &Error{Type: tt.errType}
			if err.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", err.IsRetryable(), tt.retryable)
			}
		})
	}
}
