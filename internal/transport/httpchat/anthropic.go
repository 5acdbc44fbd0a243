package httpchat

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/provider"
	"multiapi-go/internal/transport"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 1024
)

// anthropicTransport speaks the messages API: x-api-key auth, a
// pinned anthropic-version header, and a mandatory max_tokens field.
type anthropicTransport struct {
	cli *http.Client
}

func (a *anthropicTransport) Complete(ctx context.Context, rec *credential.Record, payload []byte) (*transport.Response, error) {
	body, model, err := withDefaultModel(provider.Anthropic, payload)
	if err == nil && !gjson.GetBytes(body, "max_tokens").Exists() {
		body, err = sjson.SetBytes(body, "max_tokens", anthropicDefaultMaxTokens)
	}
	if err != nil {
		return nil, &errors.TransportError{
			Provider:  provider.Anthropic,
			KeySuffix: rec.Suffix(),
			Kind:      errors.KindPermanent,
			Message:   "invalid request payload",
			Err:       err,
		}
	}
	url := strings.TrimSuffix(rec.ResolvedEndpoint(), "/") + "/v1/messages"
	req, err := newRequest(ctx, url, body)
	if err != nil {
		return nil, errors.FromNetwork(provider.Anthropic, rec.Suffix(), err)
	}
	req.Header.Set("x-api-key", rec.Identifier)
	req.Header.Set("anthropic-version", anthropicVersion)
	return doJSON(a.cli, req, provider.Anthropic, rec, model)
}
