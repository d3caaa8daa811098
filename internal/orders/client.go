package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

// Client drives a remote orders service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	data, err := json.Marshal(updateStatusRequest{Status: string(status)})
	if err != nil {
		return nil, fmt.Errorf("marshal status request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/orders/%s/status", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("update order %s: %w: %w", id, domain.ErrServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	case http.StatusConflict:
		return nil, fmt.Errorf("order %s to %s: %w", id, status, domain.ErrInvalidTransition)
	case http.StatusBadRequest:
		return nil, fmt.Errorf("order %s to %s: %w", id, status, domain.ErrInvalidArgument)
	default:
		return nil, fmt.Errorf("orders service returned status %d for order %s: %w", resp.StatusCode, id, domain.ErrServiceUnavailable)
	}

	var order domain.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return &order, nil
}
