package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// forwardedHeaders travel from the client to the downstream service.
var forwardedHeaders = []string{"Content-Type", "Idempotency-Key"}

// ServiceProxy forwards requests to one downstream service.
type ServiceProxy struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewServiceProxy(name, baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		name:    name,
		baseURL: baseURL,
		client:  client,
	}
}

func (p *ServiceProxy) Name() string {
	return p.name
}

// ForwardRequest replays r against path on the downstream service, keeping
// the method, body, query string and forwarded headers.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	return p.client.Do(req)
}

// Health calls the downstream /health endpoint.
func (p *ServiceProxy) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s health returned status %d", p.name, resp.StatusCode)
	}
	return nil
}
