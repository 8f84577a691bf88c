package messagepipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/rs/zerolog"
)

// --- Pulsar Consumer Implementation ---

// PulsarConsumerConfig holds the connection and subscription settings for a
// single Pulsar topic.
type PulsarConsumerConfig struct {
	// ServiceURL is the broker endpoint, e.g. "pulsar://host:6650" or
	// "pulsar+ssl://host:6651".
	ServiceURL string
	// Topic is the fully qualified topic to subscribe to, e.g.
	// "persistent://tenant/mqtt/from-device".
	Topic string
	// SubscriptionName identifies the shared subscription. Restarting with the
	// same name resumes from the unacknowledged backlog.
	SubscriptionName string
	// ConsumerName optionally names this consumer instance within the
	// subscription, which helps when reading broker-side stats.
	ConsumerName string
	// AuthUsername and AuthPassword enable basic authentication when the
	// username is non-empty.
	AuthUsername string
	AuthPassword string
	// MaxRedeliveries is the number of deliveries after which the broker
	// routes a message to the dead-letter topic instead of redelivering it.
	MaxRedeliveries uint32
	// DeadLetterTopic overrides the dead-letter topic. Empty means the
	// client derives one from the topic and subscription names.
	DeadLetterTopic string
	// NackRedeliveryDelay is how long the broker waits before redelivering a
	// nacked message.
	NackRedeliveryDelay time.Duration
	// ReceiverQueueSize bounds the number of messages buffered client-side.
	ReceiverQueueSize int
}

// LoadDefaultPulsarConsumerConfig returns a config with the redelivery and
// buffering defaults; callers fill in connection details.
func LoadDefaultPulsarConsumerConfig(serviceURL, topic, subscription string) *PulsarConsumerConfig {
	return &PulsarConsumerConfig{
		ServiceURL:          serviceURL,
		Topic:               topic,
		SubscriptionName:    subscription,
		MaxRedeliveries:     5,
		NackRedeliveryDelay: time.Minute,
		ReceiverQueueSize:   100,
	}
}

// PulsarConsumer implements MessageConsumer on top of a shared Pulsar
// subscription. Acks and nacks on the emitted messages map directly onto the
// underlying consumer, so the broker's redelivery counting and dead-letter
// routing apply.
type PulsarConsumer struct {
	client        pulsar.Client
	consumer      pulsar.Consumer
	cfg           *PulsarConsumerConfig
	logger        zerolog.Logger
	msgChan       chan pulsar.ConsumerMessage
	outputChan    chan Message
	stopOnce      sync.Once
	cancelReceive context.CancelFunc
	wg            sync.WaitGroup
	doneChan      chan struct{}
}

// NewPulsarConsumer creates the Pulsar client but does not subscribe until
// Start is called. Connections are established lazily by the client.
func NewPulsarConsumer(cfg *PulsarConsumerConfig, logger zerolog.Logger) (*PulsarConsumer, error) {
	if cfg.ServiceURL == "" {
		return nil, fmt.Errorf("pulsar service URL is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("pulsar topic is required")
	}
	if cfg.SubscriptionName == "" {
		return nil, fmt.Errorf("pulsar subscription name is required")
	}

	queueSize := cfg.ReceiverQueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	opts := pulsar.ClientOptions{
		URL:               cfg.ServiceURL,
		ConnectionTimeout: 30 * time.Second,
		OperationTimeout:  30 * time.Second,
		Logger:            newPulsarLogger(logger),
	}
	if cfg.AuthUsername != "" {
		auth, err := pulsar.NewAuthenticationBasic(cfg.AuthUsername, cfg.AuthPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to create pulsar basic auth: %w", err)
		}
		opts.Authentication = auth
	}

	client, err := pulsar.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create pulsar client for %s: %w", cfg.ServiceURL, err)
	}

	return &PulsarConsumer{
		client:     client,
		cfg:        cfg,
		logger:     logger.With().Str("component", "PulsarConsumer").Str("topic", cfg.Topic).Logger(),
		msgChan:    make(chan pulsar.ConsumerMessage, queueSize),
		outputChan: make(chan Message, queueSize),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the read-only channel pipeline workers consume from.
func (c *PulsarConsumer) Messages() <-chan Message { return c.outputChan }

// Start subscribes to the topic and launches the receive goroutine.
func (c *PulsarConsumer) Start(ctx context.Context) error {
	consumer, err := c.client.Subscribe(pulsar.ConsumerOptions{
		Topic:               c.cfg.Topic,
		SubscriptionName:    c.cfg.SubscriptionName,
		Type:                pulsar.Shared,
		Name:                c.cfg.ConsumerName,
		NackRedeliveryDelay: c.cfg.NackRedeliveryDelay,
		DLQ: &pulsar.DLQPolicy{
			MaxDeliveries:   c.cfg.MaxRedeliveries,
			DeadLetterTopic: c.cfg.DeadLetterTopic,
		},
		MessageChannel:    c.msgChan,
		ReceiverQueueSize: c.cfg.ReceiverQueueSize,
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s as %s: %w", c.cfg.Topic, c.cfg.SubscriptionName, err)
	}
	c.consumer = consumer
	c.logger.Info().Str("subscription", c.cfg.SubscriptionName).Msg("Starting Pulsar message consumption...")

	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelReceive = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.outputChan)
		defer close(c.doneChan)
		defer c.logger.Info().Msg("Pulsar receive goroutine stopped.")

		c.logger.Info().Msg("Pulsar receive goroutine started.")
		for {
			select {
			case <-receiveCtx.Done():
				return
			case cm, ok := <-c.msgChan:
				if !ok {
					return
				}
				c.forward(receiveCtx, cm)
			}
		}
	}()
	return nil
}

// forward converts one broker message into the pipeline representation and
// hands it to the output channel.
func (c *PulsarConsumer) forward(receiveCtx context.Context, cm pulsar.ConsumerMessage) {
	msg := cm.Message
	consumer := cm.Consumer

	payloadCopy := make([]byte, len(msg.Payload()))
	copy(payloadCopy, msg.Payload())

	attributes := make(map[string]string, len(msg.Properties()))
	for k, v := range msg.Properties() {
		attributes[k] = v
	}

	msgID := fmt.Sprintf("%v", msg.ID())
	out := Message{
		MessageData: MessageData{
			ID:              msgID,
			Payload:         payloadCopy,
			PublishTime:     msg.PublishTime(),
			RedeliveryCount: msg.RedeliveryCount(),
		},
		Attributes: attributes,
		Ack: func() {
			if err := consumer.Ack(msg); err != nil {
				c.logger.Warn().Err(err).Str("msg_id", msgID).Msg("Failed to ack Pulsar message.")
			}
		},
		Nack: func() { consumer.Nack(msg) },
	}

	select {
	case c.outputChan <- out:
	case <-receiveCtx.Done():
		consumer.Nack(msg)
		c.logger.Warn().Str("msg_id", msgID).Msg("Consumer stopping, nacking message received during shutdown.")
	}
}

// Stop cancels the receive goroutine, waits for it to drain, and closes the
// consumer and client. Messages still buffered client-side are redelivered by
// the broker to the next consumer on the subscription.
func (c *PulsarConsumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pulsar consumer...")
		if c.cancelReceive == nil {
			// Never started; there is no receive goroutine to wait for.
			close(c.outputChan)
			close(c.doneChan)
			c.client.Close()
			return
		}
		c.cancelReceive()
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Pulsar receive goroutine confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for Pulsar receive goroutine to stop.")
		}
		c.consumer.Close()
		c.client.Close()
		c.logger.Info().Msg("Pulsar consumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *PulsarConsumer) Done() <-chan struct{} { return c.doneChan }
