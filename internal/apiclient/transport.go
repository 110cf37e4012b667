package apiclient

import (
	"crypto/tls"
	"net/http"
)

// HeaderTransport injects a fixed header on every request. It is how the
// GitLab connector attaches its PRIVATE-TOKEN credential without the client
// ever holding it.
type HeaderTransport struct {
	Base   http.RoundTripper
	Header string
	Value  string
}

func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Header != "" {
		clone := req.Clone(req.Context())
		clone.Header.Set(t.Header, t.Value)
		return base.RoundTrip(clone)
	}
	return base.RoundTrip(req)
}

// BaseTransport returns the transport connectors should build on. With
// verifyTLS disabled it skips certificate verification, mirroring the
// verify_tls configuration option.
func BaseTransport(verifyTLS bool) http.RoundTripper {
	if verifyTLS {
		return http.DefaultTransport
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return transport
}
