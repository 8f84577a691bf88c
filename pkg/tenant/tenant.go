// Package tenant resolves which tenants the service runs for and carries
// their per-tenant state. Contexts are created once at startup and never
// mutated afterwards; there is no runtime subscription polling.
package tenant

import (
	"fmt"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
)

// Context binds everything a pipeline needs to serve one tenant: identity,
// broker addressing and an authenticated platform client.
type Context struct {
	Tenant           string
	Username         string
	Password         string
	Topic            string
	SubscriptionName string
	Platform         *c8y.Client
}

// BrokerUsername returns the tenant-qualified user for broker basic auth.
func (c *Context) BrokerUsername() string {
	return c.Tenant + "/" + c.Username
}

// TopicFor derives a tenant's ingestion topic. The derivation is pure: the
// same tenant id always yields the same topic.
func TopicFor(tenant string) string {
	return fmt.Sprintf("persistent://%s/mqtt/from-device", tenant)
}

// SubscriptionFor derives the tenant-scoped shared subscription name, so
// multiple service instances for the same tenant share one subscription.
func SubscriptionFor(tenant, base string) string {
	return fmt.Sprintf("%s_%s", tenant, base)
}
