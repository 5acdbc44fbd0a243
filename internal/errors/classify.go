package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"multiapi-go/internal/provider"
)

// ClassifyStatus maps an upstream HTTP status to a failure kind.
// Rate limits and server-side trouble are worth retrying with another
// credential; client-side rejections are not.
func ClassifyStatus(status int) Kind {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return KindTransient
	}
	if status >= 500 {
		return KindTransient
	}
	return KindPermanent
}

// FromStatus builds a classified TransportError from an upstream
// response, pulling the provider's error message out of the body when
// one is present.
func FromStatus(p provider.Provider, keySuffix string, status int, body []byte) *TransportError {
	return &TransportError{
		Provider:  p,
		KeySuffix: keySuffix,
		Status:    status,
		Kind:      ClassifyStatus(status),
		Message:   UpstreamMessage(body, status),
	}
}

// FromNetwork builds a classified TransportError from a client-side
// error. Context cancellation is the caller's signal, not a transport
// failure, and is returned untouched.
func FromNetwork(p provider.Provider, keySuffix string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	kind := KindTransient
	msg := err.Error()
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		msg = "attempt timeout: " + msg
	case stderrors.As(err, &netErr) && netErr.Timeout():
		msg = "network timeout: " + msg
	case strings.Contains(msg, "no such host"):
		msg = "dns failure: " + msg
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "EOF"):
		msg = "connection failure: " + msg
	}
	return &TransportError{
		Provider:  p,
		KeySuffix: keySuffix,
		Kind:      kind,
		Message:   msg,
		Err:       err,
	}
}

// UpstreamMessage extracts a human-readable message from a provider
// error body. All four providers use an "error" envelope; anthropic
// nests "error.message" the same way the OpenAI dialects do, google
// adds "error.status".
func UpstreamMessage(body []byte, status int) string {
	if len(body) == 0 {
		return fmt.Sprintf("HTTP %d", status)
	}
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		return msg
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return fmt.Sprintf("HTTP %d", status)
	}
	return s
}

// IsRetryable reports whether err may be absorbed by another attempt.
func IsRetryable(err error) bool {
	var te *TransportError
	if stderrors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

// IsPermanent reports whether err must surface immediately.
func IsPermanent(err error) bool {
	var te *TransportError
	if stderrors.As(err, &te) {
		return !te.Retryable()
	}
	return false
}

// IsNoEligible reports whether err means an empty-handed pool.
func IsNoEligible(err error) bool {
	var ne *NoEligibleCredentialError
	return stderrors.As(err, &ne)
}
