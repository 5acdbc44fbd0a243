package httpchat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/provider"
)

func testRecord(t *testing.T, p provider.Provider, endpoint string) *credential.Record {
	t.Helper()
	r, err := credential.FromState(credential.State{
		Identifier: "sk-test-key-0123456789abcdef",
		Provider:   p.String(),
		Endpoint:   endpoint,
		DailyLimit: 100,
		LastReset:  "2026-03-10",
	})
	require.NoError(t, err)
	return r
}

func TestOpenAIStyleRequestShape(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	tr := &openAIStyle{cli: srv.Client(), provider: provider.OpenAI}
	rec := testRecord(t, provider.OpenAI, srv.URL)

	resp, err := tr.Complete(context.Background(), rec, []byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test-key-0123456789abcdef", gotAuth)
	assert.Equal(t, "gpt-3.5-turbo", gjson.GetBytes(gotBody, "model").String(),
		"default model injected when the payload omits one")
	assert.Equal(t, provider.OpenAI, resp.Provider)
	assert.Equal(t, "gpt-3.5-turbo", resp.Model)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestOpenAIStyleKeepsExplicitModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := &openAIStyle{cli: srv.Client(), provider: provider.DeepSeek}
	rec := testRecord(t, provider.DeepSeek, srv.URL)

	resp, err := tr.Complete(context.Background(), rec, []byte(`{"model":"deepseek-coder","messages":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "deepseek-coder", resp.Model)
}

func TestAnthropicRequestShape(t *testing.T) {
	var gotKey, gotVersion, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"content":[{"text":"hi"}]}`))
	}))
	defer srv.Close()

	tr := &anthropicTransport{cli: srv.Client()}
	rec := testRecord(t, provider.Anthropic, srv.URL)

	resp, err := tr.Complete(context.Background(), rec, []byte(`{"messages":[]}`))
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "sk-test-key-0123456789abcdef", gotKey)
	assert.Equal(t, anthropicVersion, gotVersion)
	assert.Equal(t, "claude-3-sonnet-20240229", resp.Model)
	assert.EqualValues(t, anthropicDefaultMaxTokens, gjson.GetBytes(gotBody, "max_tokens").Int())
}

func TestGoogleRequestShape(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	tr := &googleTransport{cli: srv.Client()}
	rec := testRecord(t, provider.Google, srv.URL)

	resp, err := tr.Complete(context.Background(), rec, []byte(`{"model":"gemini-pro","contents":[]}`))
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-pro:generateContent", gotPath)
	assert.Equal(t, "sk-test-key-0123456789abcdef", gotKey)
	assert.Equal(t, "gemini-pro", resp.Model)
	assert.False(t, gjson.GetBytes(gotBody, "model").Exists(),
		"model field lifted into the URL, not posted")
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"error":{"message":"upstream says no"}}`))
		}))
		tr := &openAIStyle{cli: srv.Client(), provider: provider.OpenAI}
		rec := testRecord(t, provider.OpenAI, srv.URL)

		_, err := tr.Complete(context.Background(), rec, []byte(`{}`))
		require.Error(t, err, "status %d", tt.status)

		var te *errors.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, tt.retryable, te.Retryable(), "status %d", tt.status)
		assert.Equal(t, tt.status, te.Status)
		assert.Contains(t, te.Message, "upstream says no")
		assert.NotContains(t, err.Error(), "sk-test-key-0123456789abcdef",
			"errors carry only the redacted suffix")
		srv.Close()
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	tr := &openAIStyle{cli: srv.Client(), provider: provider.OpenAI}
	rec := testRecord(t, provider.OpenAI, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Complete(ctx, rec, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err), "attempt timeout feeds the retry machinery")
}

func TestRegistryCoversAllProviders(t *testing.T) {
	reg := NewRegistry(nil)
	for _, p := range provider.DefaultOrder {
		tr, err := reg.Get(p)
		require.NoError(t, err)
		assert.NotNil(t, tr)
	}
}
