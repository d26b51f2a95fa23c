package netstatus

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Prober actively checks that the execution service is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber sends a HEAD request to a health endpoint. Any response below
// 500 counts as reachable: a captive portal or dead link fails at the
// transport, not with a 4xx from the real server.
type HTTPProber struct {
	Client *http.Client
	URL    string
}

// NewHTTPProber returns a prober for healthPath resolved against the origin
// of baseURL, so "/api/health" works for any base path.
func NewHTTPProber(client *http.Client, baseURL, healthPath string) (*HTTPProber, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(healthPath)
	if err != nil {
		return nil, fmt.Errorf("parse health path: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProber{Client: client, URL: base.ResolveReference(ref).String()}, nil
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.URL, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s: status %d", p.URL, resp.StatusCode)
	}
	return nil
}
