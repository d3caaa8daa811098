package lookup

import (
	"context"
	"net/http"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

type ProductClient struct {
	c *client
}

func NewProductClient(baseURL string, httpClient *http.Client, cfg Config) *ProductClient {
	return &ProductClient{c: newClient("product service", baseURL, httpClient, cfg)}
}

// LookupProduct returns nil, nil when the catalog has no such product.
func (p *ProductClient) LookupProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getJSON[domain.Product](ctx, p.c, "/products/"+escape(productID))
}
