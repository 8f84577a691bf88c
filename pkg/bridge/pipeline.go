package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/mapper"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/messagepipeline"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/metrics"
	"github.com/rs/zerolog"
)

// PipelineConfig holds configuration for a single tenant's Pipeline.
type PipelineConfig struct {
	// Tenant labels logs and metrics produced by this pipeline.
	Tenant string
	// NumWorkers is the number of concurrent processing workers.
	NumWorkers int
	// SubmitTimeout bounds the transform-and-submit handling of one message.
	SubmitTimeout time.Duration
}

// Pipeline consumes messages for one tenant, transforms them into entities,
// and submits them to the platform. Every message taken off the consumer
// channel reaches exactly one terminal call, Ack or Nack.
type Pipeline struct {
	cfg       PipelineConfig
	consumer  messagepipeline.MessageConsumer
	transform EntityTransformer
	submit    EntitySubmitter
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

// NewPipeline creates a new Pipeline.
func NewPipeline(
	cfg PipelineConfig,
	consumer messagepipeline.MessageConsumer,
	transformer EntityTransformer,
	submitter EntitySubmitter,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Pipeline, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5 // Default to a reasonable number of workers.
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer cannot be nil")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}

	return &Pipeline{
		cfg:       cfg,
		consumer:  consumer,
		transform: transformer,
		submit:    submitter,
		metrics:   m,
		logger:    logger.With().Str("service", "Pipeline").Str("tenant", cfg.Tenant).Logger(),
	}, nil
}

// Start begins the pipeline operation. It starts the consumer and then spawns
// a pool of workers to process messages concurrently.
func (p *Pipeline) Start(ctx context.Context) error {
	p.logger.Info().Msg("Starting pipeline...")

	if err := p.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}
	p.logger.Info().Msg("Message consumer started.")

	p.logger.Info().Int("worker_count", p.cfg.NumWorkers).Msg("Starting processing workers...")
	p.wg.Add(p.cfg.NumWorkers)
	for i := 0; i < p.cfg.NumWorkers; i++ {
		go p.worker(ctx, i)
	}

	p.logger.Info().Msg("Pipeline started successfully.")
	return nil
}

// Stop gracefully shuts down the pipeline in the correct order.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.logger.Info().Msg("Stopping pipeline...")

	// Stop the consumer first to prevent new messages from arriving.
	if err := p.consumer.Stop(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	// Wait for all workers to finish processing in-flight messages.
	workerDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		p.logger.Info().Msg("All processing workers completed gracefully.")
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}

	p.logger.Info().Msg("Pipeline stopped.")
	return nil
}

// worker is the main processing loop for each concurrent worker.
func (p *Pipeline) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	p.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Int("worker_id", workerID).Msg("Processing worker shutting down due to context cancellation.")
			return
		case msg, ok := <-p.consumer.Messages():
			if !ok {
				p.logger.Info().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			p.processMessage(msg, workerID)
		}
	}
}

// processMessage drives a single message to its terminal outcome. It runs on
// a context detached from the worker's: a message taken off the channel is
// processed to completion even while the service is shutting down, so a
// shutdown never strands a half-submitted entity.
func (p *Pipeline) processMessage(msg messagepipeline.Message, workerID int) {
	p.metrics.RecordReceived(p.cfg.Tenant)
	p.logger.Debug().Int("worker_id", workerID).Str("msg_id", msg.ID).Msg("Transforming message.")

	if msg.RedeliveryCount > 0 {
		p.logger.Warn().Str("msg_id", msg.ID).Uint32("redelivery_count", msg.RedeliveryCount).Msg("Processing redelivered message.")
	}

	procCtx, cancel := context.WithTimeout(context.Background(), p.cfg.SubmitTimeout)
	defer cancel()

	entity, skip, err := p.transform(procCtx, &msg)
	if err != nil {
		outcome := metrics.OutcomeMappingFailed
		if mapper.IsDecode(err) {
			outcome = metrics.OutcomeDecodeFailed
		}
		p.metrics.RecordOutcome(p.cfg.Tenant, outcome)
		p.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to transform message, Nacking.")
		msg.Nack()
		return
	}

	if skip {
		p.metrics.RecordOutcome(p.cfg.Tenant, metrics.OutcomeSkipped)
		p.logger.Debug().Str("msg_id", msg.ID).Msg("Transformer signaled to skip message, Acking.")
		msg.Ack()
		return
	}

	start := time.Now()
	if err := p.submit(procCtx, &msg, entity); err != nil {
		if c8y.IsPermanent(err) {
			p.metrics.RecordOutcome(p.cfg.Tenant, metrics.OutcomeRejected)
			p.logger.Error().Err(err).Str("msg_id", msg.ID).Str("device", entity.Device()).Msg("Platform rejected submission, Nacking.")
		} else {
			p.metrics.RecordOutcome(p.cfg.Tenant, metrics.OutcomeTransient)
			p.logger.Warn().Err(err).Str("msg_id", msg.ID).Str("device", entity.Device()).Msg("Transient submission failure, Nacking for redelivery.")
		}
		msg.Nack()
		return
	}

	p.metrics.RecordSubmission(p.cfg.Tenant, string(entity.Kind()), time.Since(start))
	p.metrics.RecordOutcome(p.cfg.Tenant, metrics.OutcomeSubmitted)
	p.logger.Debug().Str("msg_id", msg.ID).Str("device", entity.Device()).Msg("Entity submitted, Acking.")
	msg.Ack()
}
