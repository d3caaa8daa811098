package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

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

func (c *Client) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(sendRequest{
		UserID:  n.UserID,
		OrderID: n.OrderID,
		Subject: n.Subject,
		Body:    n.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notifications", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w: %w", domain.ErrServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("notification rejected: %w", domain.ErrInvalidArgument)
	default:
		return fmt.Errorf("notify service returned status %d: %w", resp.StatusCode, domain.ErrServiceUnavailable)
	}
}
