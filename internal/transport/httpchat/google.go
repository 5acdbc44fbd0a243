package httpchat

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/provider"
	"multiapi-go/internal/transport"
)

const googleDefaultBase = "https://generativelanguage.googleapis.com/v1beta"

// googleTransport speaks generateContent. The model travels in the URL
// rather than the body, and the key rides as a query parameter, so the
// payload's "model" field is lifted out before posting.
type googleTransport struct {
	cli *http.Client
}

func (g *googleTransport) Complete(ctx context.Context, rec *credential.Record, payload []byte) (*transport.Response, error) {
	model := gjson.GetBytes(payload, "model").String()
	body := payload
	var err error
	if model == "" {
		model = provider.Google.DefaultModel()
	} else {
		body, err = sjson.DeleteBytes(payload, "model")
	}
	if err != nil {
		return nil, &errors.TransportError{
			Provider:  provider.Google,
			KeySuffix: rec.Suffix(),
			Kind:      errors.KindPermanent,
			Message:   "invalid request payload",
			Err:       err,
		}
	}

	base := rec.ResolvedEndpoint()
	if base == "" {
		base = googleDefaultBase
	}
	endpoint := strings.TrimSuffix(base, "/") + "/models/" + url.PathEscape(model) +
		":generateContent?key=" + url.QueryEscape(rec.Identifier)

	req, err := newRequest(ctx, endpoint, body)
	if err != nil {
		return nil, errors.FromNetwork(provider.Google, rec.Suffix(), err)
	}
	return doJSON(g.cli, req, provider.Google, rec, model)
}
