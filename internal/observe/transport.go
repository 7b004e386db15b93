package observe

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Transport wraps base (or [http.DefaultTransport] when nil) so that every
// outgoing request gets a client span, W3C trace headers, and the otelhttp
// client metrics.
func Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "consult " + r.Method + " " + r.URL.Path
		}),
	)
}
