package messagepipeline

import (
	"time"
)

// Message is the canonical, internal representation of a broker message flowing
// through the pipeline. It contains the core data, metadata, and acknowledgment
// handles.
type Message struct {
	// MessageData contains the core payload.
	MessageData

	// Attributes holds metadata from the message broker (e.g., Pulsar message
	// properties, MQTT topic).
	Attributes map[string]string

	// Ack is a function to call to signal that processing reached a terminal
	// outcome and the message can be permanently removed from the source.
	Ack func()

	// Nack is a function to call to signal that processing has failed and the
	// message should be redelivered, or routed to a dead-letter topic once the
	// broker's redelivery budget is spent.
	Nack func()
}

// MessageData holds the essential payload of a message.
type MessageData struct {
	// ID is the unique identifier for the message from the source broker.
	ID string

	// Payload is the raw byte content of the message.
	Payload []byte

	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time

	// RedeliveryCount is how many times the broker has already redelivered
	// this message. Zero on first delivery; brokers that do not track
	// redelivery always report zero.
	RedeliveryCount uint32
}
