package bridge_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/bridge"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/mapper"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransformerMessage(payload []byte, attributes map[string]string) *messagepipeline.Message {
	return &messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: "m-1", Payload: payload},
		Attributes:  attributes,
	}
}

func TestEntityTransformer_MapsMeasurement(t *testing.T) {
	transformer := bridge.NewEntityTransformer("", mapper.NewMapper(mapper.LoadDefaultConfig()))
	msg := newTransformerMessage([]byte(`{"device_id":"sensor-1","temperature":21.5}`), nil)

	entity, skip, err := transformer(context.Background(), msg)

	require.NoError(t, err)
	require.False(t, skip)
	require.NotNil(t, entity)
	assert.Equal(t, mapper.KindMeasurement, entity.Kind())
	assert.Equal(t, "sensor-1", entity.Device())
}

func TestEntityTransformer_FilterSkipsOtherTopics(t *testing.T) {
	transformer := bridge.NewEntityTransformer("devices/data", mapper.NewMapper(mapper.LoadDefaultConfig()))
	msg := newTransformerMessage([]byte(`{"device_id":"sensor-1","temperature":21.5}`), map[string]string{"topic": "other/stream"})

	entity, skip, err := transformer(context.Background(), msg)

	require.NoError(t, err)
	assert.True(t, skip)
	assert.Nil(t, entity)
}

func TestEntityTransformer_FilterPassesMatchingTopic(t *testing.T) {
	transformer := bridge.NewEntityTransformer("devices/data", mapper.NewMapper(mapper.LoadDefaultConfig()))
	msg := newTransformerMessage([]byte(`{"device_id":"sensor-1","temperature":21.5}`), map[string]string{"topic": "devices/data"})

	entity, skip, err := transformer(context.Background(), msg)

	require.NoError(t, err)
	require.False(t, skip)
	require.NotNil(t, entity)
}

func TestEntityTransformer_EmptyFilterMatchesEverything(t *testing.T) {
	transformer := bridge.NewEntityTransformer("", mapper.NewMapper(mapper.LoadDefaultConfig()))
	msg := newTransformerMessage([]byte(`{"device_id":"sensor-1","temperature":21.5}`), map[string]string{"topic": "anything/at/all"})

	_, skip, err := transformer(context.Background(), msg)

	require.NoError(t, err)
	assert.False(t, skip)
}

func TestEntityTransformer_DecodeErrors(t *testing.T) {
	transformer := bridge.NewEntityTransformer("", mapper.NewMapper(mapper.LoadDefaultConfig()))

	testCases := []struct {
		name    string
		payload []byte
	}{
		{name: "malformed json", payload: []byte(`{"device_id":`)},
		{name: "invalid utf-8", payload: []byte{0xff, 0xfe, '{', '}'}},
		{name: "non-object payload", payload: []byte(`[1,2,3]`)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entity, skip, err := transformer(context.Background(), newTransformerMessage(tc.payload, nil))

			require.Error(t, err)
			assert.True(t, mapper.IsDecode(err))
			assert.False(t, skip)
			assert.Nil(t, entity)
		})
	}
}

func TestEntityTransformer_MappingErrorWithoutDevice(t *testing.T) {
	transformer := bridge.NewEntityTransformer("", mapper.NewMapper(mapper.LoadDefaultConfig()))
	msg := newTransformerMessage([]byte(`{"temperature":21.5}`), nil)

	entity, skip, err := transformer(context.Background(), msg)

	require.Error(t, err)
	assert.True(t, mapper.IsMapping(err))
	assert.False(t, skip)
	assert.Nil(t, entity)
}

func TestEntityTransformer_ClientIDFallback(t *testing.T) {
	transformer := bridge.NewEntityTransformer("", mapper.NewMapper(mapper.LoadDefaultConfig()))
	msg := newTransformerMessage([]byte(`{"temperature":21.5}`), map[string]string{"clientID": "dev-9"})

	entity, skip, err := transformer(context.Background(), msg)

	require.NoError(t, err)
	require.False(t, skip)
	require.NotNil(t, entity)
	assert.Equal(t, "dev-9", entity.Device())
}

func TestEntityTransformer_PayloadDeviceIDWinsOverClientID(t *testing.T) {
	transformer := bridge.NewEntityTransformer("", mapper.NewMapper(mapper.LoadDefaultConfig()))
	msg := newTransformerMessage([]byte(`{"device_id":"from-payload","temperature":21.5}`), map[string]string{"clientID": "from-broker"})

	entity, _, err := transformer(context.Background(), msg)

	require.NoError(t, err)
	assert.Equal(t, "from-payload", entity.Device())
}
