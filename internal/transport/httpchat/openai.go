package httpchat

import (
	"context"
	"net/http"
	"strings"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/transport"

	"multiapi-go/internal/provider"
)

// openAIStyle speaks the OpenAI chat-completions dialect with bearer
// auth. DeepSeek exposes the same surface, so both providers share it
// and differ only in default endpoint and model.
type openAIStyle struct {
	cli      *http.Client
	provider provider.Provider
}

func (o *openAIStyle) Complete(ctx context.Context, rec *credential.Record, payload []byte) (*transport.Response, error) {
	body, model, err := withDefaultModel(o.provider, payload)
	if err != nil {
		return nil, &errors.TransportError{
			Provider:  o.provider,
			KeySuffix: rec.Suffix(),
			Kind:      errors.KindPermanent,
			Message:   "invalid request payload",
			Err:       err,
		}
	}
	url := strings.TrimSuffix(rec.ResolvedEndpoint(), "/") + "/chat/completions"
	req, err := newRequest(ctx, url, body)
	if err != nil {
		return nil, errors.FromNetwork(o.provider, rec.Suffix(), err)
	}
	req.Header.Set("Authorization", "Bearer "+rec.Identifier)
	return doJSON(o.cli, req, o.provider, rec, model)
}
