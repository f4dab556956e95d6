package source

import (
	"context"
	"net/http"
)

type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

// BindContext returns a transport that sends every request, redirects
// included, under ctx. Scrapers that cannot pass a context per request use it
// so a cancelled search aborts the transfer in flight.
func BindContext(ctx context.Context, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return contextTransport{ctx: ctx, next: next}
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.Clone(t.ctx))
}
