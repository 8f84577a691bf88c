// Package bridge connects a broker consumer to the Cumulocity platform: it
// decodes broker messages, maps them to platform entities, and submits them,
// one pipeline per tenant.
package bridge

import (
	"context"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/mapper"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/messagepipeline"
)

// EntityTransformer converts one broker message into a platform entity.
//
// The 'skip' return value can be set to true to signal that this message
// should be acknowledged and not processed further, effectively filtering it
// from the pipeline.
type EntityTransformer func(ctx context.Context, msg *messagepipeline.Message) (entity mapper.Entity, skip bool, err error)

// NewEntityTransformer builds the standard transformer chain: optional topic
// filtering on the "topic" attribute, payload decoding, a clientID fallback
// for the device identity, then mapping into the entity model.
//
// An empty topicFilter admits every message. With a filter set, messages
// whose "topic" attribute differs are skipped, not failed: other consumers
// of the same subscription may want them.
func NewEntityTransformer(topicFilter string, m *mapper.Mapper) EntityTransformer {
	return func(_ context.Context, msg *messagepipeline.Message) (mapper.Entity, bool, error) {
		if topicFilter != "" && msg.Attributes["topic"] != topicFilter {
			return nil, true, nil
		}

		payload, err := mapper.Decode(msg.Payload)
		if err != nil {
			return nil, false, err
		}

		mapper.MergeDeviceID(payload, msg.Attributes["clientID"])

		entity, err := m.Map(payload)
		if err != nil {
			return nil, false, err
		}
		return entity, false, nil
	}
}
