package errors

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"multiapi-go/internal/provider"
)

func TestClassifyStatus(t *testing.T) {
	transient := []int{408, 429, 500, 502, 503, 504, 599}
	for _, code := range transient {
		if ClassifyStatus(code) != KindTransient {
			t.Errorf("status %d should be transient", code)
		}
	}
	permanent := []int{400, 401, 403, 404, 413, 422}
	for _, code := range permanent {
		if ClassifyStatus(code) != KindPermanent {
			t.Errorf("status %d should be permanent", code)
		}
	}
}

func TestFromStatusExtractsMessage(t *testing.T) {
	body := []byte(`{"error": {"message": "Rate limit reached for gpt-3.5-turbo", "type": "tokens"}}`)
	te := FromStatus(provider.OpenAI, "...abcd1234", 429, body)
	if !te.Retryable() {
		t.Error("429 must be retryable")
	}
	if te.Message != "Rate limit reached for gpt-3.5-turbo" {
		t.Errorf("Message = %q", te.Message)
	}
	if !strings.Contains(te.Error(), "...abcd1234") {
		t.Errorf("Error() lost the key suffix: %s", te.Error())
	}
}

func TestFromNetworkPassesThroughCancellation(t *testing.T) {
	err := FromNetwork(provider.Google, "...x", context.Canceled)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("cancellation was wrapped: %v", err)
	}
	if IsRetryable(err) {
		t.Error("cancellation must not be classified retryable")
	}
}

func TestFromNetworkDeadlineIsTransient(t *testing.T) {
	err := FromNetwork(provider.Google, "...x", context.DeadlineExceeded)
	if !IsRetryable(err) {
		t.Fatalf("deadline should be transient: %v", err)
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Error("underlying deadline error not unwrapped")
	}
}

func TestExhaustedErrorAggregation(t *testing.T) {
	rate := &TransportError{Provider: provider.OpenAI, KeySuffix: "...a", Status: 429, Kind: KindTransient, Message: "rate limited"}
	noElig := &NoEligibleCredentialError{Provider: provider.Anthropic}
	ex := &ExhaustedError{
		Attempts: []AttemptCause{{Provider: provider.OpenAI, KeySuffix: "...a", Err: rate}},
		Skipped:  []*NoEligibleCredentialError{noElig},
	}

	if !stderrors.Is(ex, rate) {
		t.Error("errors.Is should reach attempt causes")
	}
	var ne *NoEligibleCredentialError
	if !stderrors.As(ex, &ne) || ne.Provider != provider.Anthropic {
		t.Error("errors.As should reach skipped providers")
	}
	msg := ex.Error()
	if !strings.Contains(msg, "1 attempt(s)") || !strings.Contains(msg, "anthropic") {
		t.Errorf("aggregate message incomplete: %s", msg)
	}
}
