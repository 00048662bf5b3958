package gemini

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/vai-livetranslate/pkg/core"
)

// liveError is a close or handshake failure reported by the Live endpoint.
// Its text carries the endpoint's reason so core.Classify can sort it.
type liveError struct {
	Code   int
	Reason string
	cause  error
}

func (e *liveError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("gemini live: close %d: %s", e.Code, e.Reason)
	}
	return "gemini live: " + e.Reason
}

func (e *liveError) Unwrap() error { return e.cause }

// convertStatus maps a Google RPC status onto the engine's error taxonomy.
func convertStatus(httpCode int, status, message string, cause error) *core.Error {
	switch {
	case httpCode == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		return core.NewQuotaError(cause, 0)
	case httpCode == http.StatusUnauthorized || httpCode == http.StatusForbidden ||
		status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED":
		return core.NewAuthenticationError(message, cause)
	case status == "INVALID_ARGUMENT" || status == "NOT_FOUND" || status == "FAILED_PRECONDITION":
		return core.NewSetupError(message, cause)
	default:
		e := core.NewProviderError("gemini", cause)
		if status != "" {
			e.Code = status
		}
		return e
	}
}

// convertError normalizes errors from the genai SDK.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return convertStatus(apiErr.Code, apiErr.Status, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return convertStatus(apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message, err)
	}
	return err
}

// dialError explains a failed WebSocket handshake.
func dialError(err error, resp *http.Response) error {
	if resp == nil {
		return core.NewSetupError("could not reach gemini live", err)
	}
	message := fmt.Sprintf("gemini live handshake failed: %s", resp.Status)
	return convertStatus(resp.StatusCode, "", message, err)
}

// closeError turns a read failure into the error a Transport reports.
func closeError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure && strings.TrimSpace(ce.Text) == "" {
			return nil
		}
		return &liveError{Code: ce.Code, Reason: cleanReason(ce.Text), cause: err}
	}
	return &liveError{Reason: cleanReason(err.Error()), cause: err}
}

func cleanReason(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if msg == "" {
		return "connection closed"
	}
	if len(msg) > maxReasonLength {
		msg = msg[:maxReasonLength] + "…"
	}
	return msg
}
