package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

// Client talks to a remote inventory service. Its Reserve, Release and Commit
// have the same contract as the Ledger's, so callers can use either.
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

func (c *Client) Reserve(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	return c.move(ctx, "reserve", productID, quantity)
}

func (c *Client) Release(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	return c.move(ctx, "release", productID, quantity)
}

func (c *Client) Commit(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	return c.move(ctx, "commit", productID, quantity)
}

func (c *Client) move(ctx context.Context, op, productID string, quantity int) (*domain.InventoryRecord, error) {
	data, err := json.Marshal(quantityRequest{Quantity: quantity})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	endpoint := fmt.Sprintf("%s/stock/%s/%s", c.baseURL, url.PathEscape(productID), op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s stock for product %s: %w: %w", op, productID, domain.ErrServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s product %s: %w", op, productID, domain.ErrNotFound)
	case http.StatusConflict:
		return nil, fmt.Errorf("%s %d of %s: %w", op, quantity, productID, domain.ErrInsufficientStock)
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%s %d of %s: %w", op, quantity, productID, domain.ErrInvalidArgument)
	default:
		return nil, fmt.Errorf("inventory service returned status %d for product %s: %w", resp.StatusCode, productID, domain.ErrServiceUnavailable)
	}

	var rec domain.InventoryRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	return &rec, nil
}
