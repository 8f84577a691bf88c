package bridge

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/device"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/mapper"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/messagepipeline"
)

// EntitySubmitter delivers a mapped entity to the platform. The original
// message travels along so custom submitters can reach broker metadata.
type EntitySubmitter func(ctx context.Context, msg *messagepipeline.Message, entity mapper.Entity) error

// NewEntitySubmitter builds the standard submitter: resolve the device's
// managed object through the registry, then post the entity against it.
func NewEntitySubmitter(client *c8y.Client, devices *device.Registry) EntitySubmitter {
	return func(ctx context.Context, _ *messagepipeline.Message, entity mapper.Entity) error {
		ref, err := devices.Resolve(ctx, entity.Device())
		if err != nil {
			return fmt.Errorf("failed to resolve device %q: %w", entity.Device(), err)
		}
		return client.Submit(ctx, entity, ref.ID)
	}
}
