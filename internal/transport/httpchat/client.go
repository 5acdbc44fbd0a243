// Package httpchat carries the reference transport implementations:
// one HTTP chat-completion client per supported provider, all sharing
// a pooled http.Client. The core never imports this package directly;
// cmd/server registers these transports with the manager.
package httpchat

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/provider"
	"multiapi-go/internal/transport"
)

// NewHTTPClient builds the pooled client every provider transport
// shares. Per-attempt deadlines come from the request context, so the
// client itself carries no overall timeout.
func NewHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: 0}
}

// NewRegistry wires one transport per supported provider over a shared
// HTTP client.
func NewRegistry(cli *http.Client) transport.Registry {
	if cli == nil {
		cli = NewHTTPClient()
	}
	return transport.Registry{
		provider.OpenAI:    &openAIStyle{cli: cli, provider: provider.OpenAI},
		provider.DeepSeek:  &openAIStyle{cli: cli, provider: provider.DeepSeek},
		provider.Anthropic: &anthropicTransport{cli: cli},
		provider.Google:    &googleTransport{cli: cli},
	}
}

// withDefaultModel injects the provider's default model into payloads
// that omit one and returns the model in effect.
func withDefaultModel(p provider.Provider, payload []byte) ([]byte, string, error) {
	if model := gjson.GetBytes(payload, "model").String(); model != "" {
		return payload, model, nil
	}
	model := p.DefaultModel()
	patched, err := sjson.SetBytes(payload, "model", model)
	if err != nil {
		return nil, "", err
	}
	return patched, model, nil
}

// doJSON posts the payload and converts the outcome into the
// classified contract: success response, transient or permanent
// TransportError, or the caller's own cancellation.
func doJSON(cli *http.Client, req *http.Request, p provider.Provider, rec *credential.Record, model string) (*transport.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	resp, err := cli.Do(req)
	if err != nil {
		return nil, errors.FromNetwork(p, rec.Suffix(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errors.FromNetwork(p, rec.Suffix(), err)
	}
	if resp.StatusCode >= 400 {
		return nil, errors.FromStatus(p, rec.Suffix(), resp.StatusCode, body)
	}
	return &transport.Response{
		Provider: p,
		Model:    model,
		Status:   resp.StatusCode,
		Body:     body,
	}, nil
}

func newRequest(ctx context.Context, url string, payload []byte) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
}
