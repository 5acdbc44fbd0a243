package transport

import (
	"context"
	"fmt"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/provider"
)

// Response is the unmodified outcome of one successful upstream
// attempt. The body passes through the manager untouched.
type Response struct {
	Provider provider.Provider
	Model    string
	Status   int
	Body     []byte
}

// Transport executes one attempt against an upstream with a resolved
// credential. Implementations classify their failures: a returned
// error is either a *errors.TransportError carrying a transient or
// permanent kind, or the context's own error when the caller canceled.
// The attempt timeout arrives through ctx.
type Transport interface {
	Complete(ctx context.Context, rec *credential.Record, payload []byte) (*Response, error)
}

// Registry maps each configured provider to its transport.
type Registry map[provider.Provider]Transport

// Get returns the transport for p.
func (r Registry) Get(p provider.Provider) (Transport, error) {
	t, ok := r[p]
	if !ok {
		return nil, fmt.Errorf("no transport registered for provider %s", p)
	}
	return t, nil
}
