package device

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
	"github.com/rs/zerolog"
)

// platformSource is the end of the fetch chain: the platform identity API.
type platformSource struct {
	client *c8y.Client
	cfg    Config
	logger zerolog.Logger
}

func newPlatformSource(client *c8y.Client, cfg Config, logger zerolog.Logger) *platformSource {
	return &platformSource{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "DeviceSource").Logger(),
	}
}

// Fetch looks the external id up in the identity API. An unknown device is
// created and registered when auto-provisioning is on; otherwise the
// not-found rejection is returned as-is.
func (s *platformSource) Fetch(ctx context.Context, externalID string) (*c8y.ManagedObjectRef, error) {
	ref, err := s.client.GetManagedObjectByExternalID(ctx, s.cfg.ExternalIDType, externalID)
	if err == nil {
		return ref, nil
	}
	if !c8y.IsNotFound(err) || !s.cfg.AutoProvision {
		return nil, err
	}

	s.logger.Info().Str("external_id", externalID).Msg("Device unknown to the platform, creating it.")
	ref, err = s.client.CreateDevice(ctx, s.cfg.NamePrefix+externalID, s.cfg.DeviceType)
	if err != nil {
		return nil, fmt.Errorf("creating device for %s: %w", externalID, err)
	}
	// TODO: delete the managed object again if registration fails, otherwise
	// the next attempt creates a second object for the same device.
	if err := s.client.RegisterExternalID(ctx, ref.ID, s.cfg.ExternalIDType, externalID); err != nil {
		return nil, fmt.Errorf("registering external id for %s: %w", externalID, err)
	}
	s.logger.Info().Str("external_id", externalID).Str("managed_object_id", ref.ID).Msg("Device created and registered.")
	return ref, nil
}

func (s *platformSource) Close() error { return nil }
