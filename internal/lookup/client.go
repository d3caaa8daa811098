// Package lookup holds the read-only clients for the user directory and the
// product catalog. A 404 is a normal negative answer and is reported as a nil
// result; anything else that goes wrong is an ErrCommunication.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var ErrCommunication = errors.New("remote service communication failure")

type Config struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxAttempts counts the first call. Only timeouts are retried.
	MaxAttempts int
	// Backoff is the base delay before a retry; it is jittered by half.
	Backoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:     2 * time.Second,
		MaxAttempts: 2,
		Backoff:     100 * time.Millisecond,
	}
}

type client struct {
	service    string
	baseURL    string
	httpClient *http.Client
	cfg        Config
}

func newClient(service, baseURL string, httpClient *http.Client, cfg Config) *client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &client{
		service:    service,
		baseURL:    baseURL,
		httpClient: httpClient,
		cfg:        cfg,
	}
}

func getJSON[T any](ctx context.Context, c *client, path string) (*T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.Backoff
	policy.RandomizationFactor = 0.5

	result, err := backoff.Retry(ctx, func() (*T, error) {
		out, err := fetch[T](ctx, c, path)
		if err != nil && !isTimeout(ctx, err) {
			return nil, backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
	)
	if err != nil {
		if errors.Is(err, ErrCommunication) {
			return nil, err
		}
		return nil, fmt.Errorf("%s %s: %w: %w", c.service, path, ErrCommunication, err)
	}
	return result, nil
}

func fetch[T any](ctx context.Context, c *client, path string) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s returned status %d: %w", c.service, resp.StatusCode, ErrCommunication)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w: %w", c.service, ErrCommunication, err)
	}
	return &out, nil
}

// isTimeout reports whether err came from the per-attempt deadline rather
// than from the caller giving up.
func isTimeout(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func escape(id string) string {
	return url.PathEscape(id)
}
