package c8y

import (
	"context"
	"net/http"
)

// Subscription is one tenant's service credentials as issued by the
// platform's application subscription endpoint.
type Subscription struct {
	Tenant   string `json:"tenant"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Subscriptions lists the tenants currently subscribed to this application.
// Only a bootstrap-credentialed client may call it.
func (c *Client) Subscriptions(ctx context.Context) ([]Subscription, error) {
	var out struct {
		Users []Subscription `json:"users"`
	}
	if err := c.do(ctx, "list subscriptions", http.MethodGet, "/application/currentApplication/subscriptions", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// CurrentUser probes the credentials this client was built with. A nil error
// means the platform accepted them.
func (c *Client) CurrentUser(ctx context.Context) error {
	return c.do(ctx, "current user", http.MethodGet, "/user/currentUser", nil, nil)
}
