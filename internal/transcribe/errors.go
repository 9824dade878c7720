package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies provider and pipeline failures.
type ErrorKind string

const (
	KindUnknown           ErrorKind = "unknown"
	KindAuth              ErrorKind = "auth_error"
	KindPayloadTooLarge   ErrorKind = "payload_too_large"
	KindRateLimited       ErrorKind = "rate_limited"
	KindModelLoading      ErrorKind = "model_loading"
	KindServerError       ErrorKind = "server_error"
	KindNetworkTimeout    ErrorKind = "network_timeout"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
)

// Transient reports whether a failure of this kind may succeed on retry.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindRateLimited, KindModelLoading, KindServerError, KindNetworkTimeout:
		return true
	}
	return false
}

// Error is a classified transcription failure.
type Error struct {
	Kind     ErrorKind
	Provider ProviderID
	Status   int // HTTP status, 0 when no response was received
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(string(e.Provider))
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an unattributed error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err. Deadline errors count as network
// timeouts; anything unclassified is KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkTimeout
	}
	return KindUnknown
}

// IsRetryable is the default retry predicate for provider calls.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err).Transient()
}

// classifyResponse maps a non-2xx provider response onto an Error.
func classifyResponse(provider ProviderID, status int, body []byte) *Error {
	msg := errorMessage(body)
	lower := strings.ToLower(msg)
	kind := KindUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusRequestEntityTooLarge:
		kind = KindPayloadTooLarge
	case status == http.StatusUnsupportedMediaType:
		kind = KindUnsupportedFormat
	case status == http.StatusBadRequest && (strings.Contains(lower, "format") || strings.Contains(lower, "decode") || strings.Contains(lower, "invalid file")):
		kind = KindUnsupportedFormat
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusServiceUnavailable && strings.Contains(lower, "loading"):
		kind = KindModelLoading
	case status >= 500:
		kind = KindServerError
	}
	return &Error{Kind: kind, Provider: provider, Status: status, Message: msg}
}

// transportError wraps a failure that produced no HTTP response. DNS,
// connection and deadline failures all surface as network timeouts.
func transportError(provider ProviderID, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Kind: KindNetworkTimeout, Provider: provider, Err: err}
}

// errorMessage pulls a human-readable message out of the common error
// envelopes: {"error":{"message":...}} and {"error":"..."}.
func errorMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
