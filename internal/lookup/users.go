package lookup

import (
	"context"
	"net/http"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

type UserClient struct {
	c *client
}

func NewUserClient(baseURL string, httpClient *http.Client, cfg Config) *UserClient {
	return &UserClient{c: newClient("user service", baseURL, httpClient, cfg)}
}

// LookupUser returns nil, nil when the directory has no such user.
func (u *UserClient) LookupUser(ctx context.Context, userID string) (*domain.User, error) {
	return getJSON[domain.User](ctx, u.c, "/users/"+escape(userID))
}
