package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/messagepipeline"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/metrics"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/tenant"
	"github.com/rs/zerolog"
)

// ConsumerFactory builds the broker consumer for one tenant.
type ConsumerFactory func(tc *tenant.Context) (messagepipeline.MessageConsumer, error)

// SubmitterFactory builds the platform submitter for one tenant.
type SubmitterFactory func(tc *tenant.Context) (EntitySubmitter, error)

// CoordinatorConfig holds the per-pipeline settings shared by all tenants.
type CoordinatorConfig struct {
	NumWorkers    int
	SubmitTimeout time.Duration
}

// Coordinator runs one Pipeline per resolved tenant. A tenant whose pipeline
// fails to start is logged and left out; the remaining tenants keep running.
// Only a start with zero running pipelines is an error.
type Coordinator struct {
	cfg        CoordinatorConfig
	tenants    []*tenant.Context
	transform  EntityTransformer
	consumers  ConsumerFactory
	submitters SubmitterFactory
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	pipelines []*Pipeline
	ready     atomic.Bool
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(
	cfg CoordinatorConfig,
	tenants []*tenant.Context,
	transformer EntityTransformer,
	consumerFactory ConsumerFactory,
	submitterFactory SubmitterFactory,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Coordinator, error) {
	if len(tenants) == 0 {
		return nil, fmt.Errorf("at least one tenant is required")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer cannot be nil")
	}
	if consumerFactory == nil {
		return nil, fmt.Errorf("consumer factory cannot be nil")
	}
	if submitterFactory == nil {
		return nil, fmt.Errorf("submitter factory cannot be nil")
	}

	return &Coordinator{
		cfg:        cfg,
		tenants:    tenants,
		transform:  transformer,
		consumers:  consumerFactory,
		submitters: submitterFactory,
		metrics:    m,
		logger:     logger.With().Str("service", "Coordinator").Logger(),
	}, nil
}

// Start builds and starts one pipeline per tenant. It returns an error only
// when no pipeline could be started at all.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info().Int("tenant_count", len(c.tenants)).Msg("Starting tenant pipelines...")

	for _, tc := range c.tenants {
		pipeline, err := c.buildPipeline(tc)
		if err != nil {
			c.logger.Error().Err(err).Str("tenant", tc.Tenant).Msg("Failed to build tenant pipeline, excluding tenant.")
			continue
		}
		if err := pipeline.Start(ctx); err != nil {
			c.logger.Error().Err(err).Str("tenant", tc.Tenant).Msg("Failed to start tenant pipeline, excluding tenant.")
			continue
		}
		c.pipelines = append(c.pipelines, pipeline)
		c.logger.Info().Str("tenant", tc.Tenant).Str("topic", tc.Topic).Msg("Tenant pipeline running.")
	}

	if len(c.pipelines) == 0 {
		return fmt.Errorf("no tenant pipeline could be started (%d attempted)", len(c.tenants))
	}

	c.metrics.SetTenantsRunning(len(c.pipelines))
	c.ready.Store(true)
	c.logger.Info().Int("running", len(c.pipelines)).Int("attempted", len(c.tenants)).Msg("Coordinator started.")
	return nil
}

func (c *Coordinator) buildPipeline(tc *tenant.Context) (*Pipeline, error) {
	consumer, err := c.consumers(tc)
	if err != nil {
		return nil, fmt.Errorf("consumer for tenant %s: %w", tc.Tenant, err)
	}
	submitter, err := c.submitters(tc)
	if err != nil {
		return nil, fmt.Errorf("submitter for tenant %s: %w", tc.Tenant, err)
	}

	return NewPipeline(
		PipelineConfig{
			Tenant:        tc.Tenant,
			NumWorkers:    c.cfg.NumWorkers,
			SubmitTimeout: c.cfg.SubmitTimeout,
		},
		consumer,
		c.transform,
		submitter,
		c.metrics,
		c.logger,
	)
}

// Stop shuts the pipelines down sequentially under the shared deadline of
// ctx. The first error is returned after every pipeline had its chance to
// stop.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.ready.Store(false)
	c.logger.Info().Int("running", len(c.pipelines)).Msg("Stopping tenant pipelines...")

	var firstErr error
	for _, pipeline := range c.pipelines {
		if err := pipeline.Stop(ctx); err != nil {
			c.logger.Error().Err(err).Str("tenant", pipeline.cfg.Tenant).Msg("Tenant pipeline did not stop cleanly.")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	c.metrics.SetTenantsRunning(0)
	c.logger.Info().Msg("Coordinator stopped.")
	return firstErr
}

// Ready reports whether the coordinator has started and not yet begun
// shutting down. The HTTP readiness probe is wired to this.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}
