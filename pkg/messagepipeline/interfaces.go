package messagepipeline

import (
	"context"
)

// MessageConsumer defines the interface for a message source (e.g., Pulsar,
// MQTT). It is responsible for fetching messages and handing them off to the
// pipeline.
type MessageConsumer interface {
	// Messages returns a read-only channel from which pipeline workers will receive messages.
	Messages() <-chan Message
	// Start begins the consumption process (e.g., by subscribing to the broker).
	Start(ctx context.Context) error
	// Stop gracefully ceases message consumption and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}
