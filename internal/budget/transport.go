package budget

import (
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that acquires one budget slot for its
// provider before every request.
type Transport struct {
	Manager  *Manager
	Provider string
	Base     http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Manager.Acquire(req.Context(), t.Provider); err != nil {
		return nil, err
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// HTTPClient returns an http.Client whose requests are gated by provider's budget.
func (m *Manager) HTTPClient(provider string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &Transport{
			Manager:  m,
			Provider: provider,
			Base: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}
