// Package device resolves device external ids to platform managed objects.
// Resolution is layered: an in-process LRU cache in front, an optional
// shared Redis cache behind it, and the platform identity API as the source
// of truth, creating unknown devices when auto-provisioning is enabled.
package device

import (
	"context"
	"time"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
)

// Fetcher resolves one device external id to its managed object reference.
// Cache layers implement it and hold a fallback consulted on a miss.
type Fetcher interface {
	Fetch(ctx context.Context, externalID string) (*c8y.ManagedObjectRef, error)
	Close() error
}

// Config controls how devices are identified and provisioned.
type Config struct {
	// ExternalIDType is the identity namespace devices register under.
	ExternalIDType string
	// NamePrefix prefixes the inventory name of auto-created devices.
	NamePrefix string
	// DeviceType is the inventory type of auto-created devices.
	DeviceType string
	// AutoProvision creates devices the platform does not know yet. When
	// off, messages from unknown devices are rejected.
	AutoProvision bool
	// CacheSize bounds the in-process cache, per tenant.
	CacheSize int
	// CacheTTL bounds how long Redis entries live.
	CacheTTL time.Duration
}
