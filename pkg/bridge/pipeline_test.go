package bridge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/bridge"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/mapper"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/messagepipeline"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPipeline wires a pipeline with a mock consumer and the real
// transformer chain.
func newTestPipeline(t *testing.T, topicFilter string, submitter bridge.EntitySubmitter) (*bridge.Pipeline, *MockMessageConsumer) {
	t.Helper()
	consumer := NewMockMessageConsumer(10)
	t.Cleanup(func() {
		// Ensure channels are closed to avoid test hangs if Stop isn't called.
		_ = consumer.Stop(context.Background())
	})

	transformer := bridge.NewEntityTransformer(topicFilter, mapper.NewMapper(mapper.LoadDefaultConfig()))
	pipeline, err := bridge.NewPipeline(
		bridge.PipelineConfig{Tenant: "acme", NumWorkers: 2, SubmitTimeout: 5 * time.Second},
		consumer,
		transformer,
		submitter,
		metrics.New(),
		zerolog.Nop(),
	)
	require.NoError(t, err)
	return pipeline, consumer
}

func startPipeline(t *testing.T, pipeline *bridge.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, pipeline.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = pipeline.Stop(stopCtx)
	})
}

func TestPipeline_SubmitsAndAcks(t *testing.T) {
	// Arrange
	recorder := &RecordingSubmitter{}
	pipeline, consumer := newTestPipeline(t, "", recorder.Submit)
	startPipeline(t, pipeline)

	msg, state := newTrackedMessage("m-1", []byte(`{"device_id":"sensor-1","temperature":21.5,"pressure":90.0}`), nil)

	// Act
	consumer.Push(msg)

	// Assert
	require.Eventually(t, func() bool {
		return len(recorder.GetSubmitted()) == 1
	}, time.Second, 10*time.Millisecond, "entity should have been submitted")
	require.Eventually(t, state.IsAcked, time.Second, 10*time.Millisecond)

	submitted := recorder.GetSubmitted()[0]
	assert.Equal(t, mapper.KindMeasurement, submitted.Kind())
	assert.Equal(t, "sensor-1", submitted.Device())
	assert.False(t, state.IsNacked())
}

func TestPipeline_SubmitsAlarmWithDefaultSeverity(t *testing.T) {
	// Arrange
	recorder := &RecordingSubmitter{}
	pipeline, consumer := newTestPipeline(t, "", recorder.Submit)
	startPipeline(t, pipeline)

	msg, state := newTrackedMessage("m-1", []byte(`{"device_id":"d1","type":"alarm","data":{"type":"c8y_TemperatureAlarm","text":"high temp"}}`), nil)

	// Act
	consumer.Push(msg)

	// Assert
	require.Eventually(t, state.IsAcked, time.Second, 10*time.Millisecond)
	require.Len(t, recorder.GetSubmitted(), 1)
	alarm, ok := recorder.GetSubmitted()[0].(*mapper.Alarm)
	require.True(t, ok, "expected an alarm, got %T", recorder.GetSubmitted()[0])
	assert.Equal(t, "c8y_TemperatureAlarm", alarm.Type)
	assert.Equal(t, "MINOR", alarm.Severity)
}

func TestPipeline_DecodeFailureNacks(t *testing.T) {
	// Arrange
	recorder := &RecordingSubmitter{}
	pipeline, consumer := newTestPipeline(t, "", recorder.Submit)
	startPipeline(t, pipeline)

	msg, state := newTrackedMessage("m-1", []byte(`{"device_id":"sensor-1"`), nil)

	// Act
	consumer.Push(msg)

	// Assert
	require.Eventually(t, state.IsNacked, time.Second, 10*time.Millisecond)
	assert.False(t, state.IsAcked())
	assert.Empty(t, recorder.GetSubmitted())
}

func TestPipeline_MappingFailureNacks(t *testing.T) {
	// Arrange: valid JSON, but no device identity anywhere.
	recorder := &RecordingSubmitter{}
	pipeline, consumer := newTestPipeline(t, "", recorder.Submit)
	startPipeline(t, pipeline)

	msg, state := newTrackedMessage("m-1", []byte(`{"temperature":21.5}`), nil)

	// Act
	consumer.Push(msg)

	// Assert
	require.Eventually(t, state.IsNacked, time.Second, 10*time.Millisecond)
	assert.Empty(t, recorder.GetSubmitted())
}

func TestPipeline_TopicFilter(t *testing.T) {
	// Arrange: only messages tagged with the matching topic pass.
	recorder := &RecordingSubmitter{}
	pipeline, consumer := newTestPipeline(t, "devices/data", recorder.Submit)
	startPipeline(t, pipeline)

	payload := []byte(`{"device_id":"sensor-1","temperature":21.5}`)
	mismatch, mismatchState := newTrackedMessage("m-1", payload, map[string]string{"topic": "other/stream"})
	match, matchState := newTrackedMessage("m-2", payload, map[string]string{"topic": "devices/data"})

	// Act
	consumer.Push(mismatch)
	consumer.Push(match)

	// Assert: the mismatch is acked without submission, the match goes through.
	require.Eventually(t, matchState.IsAcked, time.Second, 10*time.Millisecond)
	require.Eventually(t, mismatchState.IsAcked, time.Second, 10*time.Millisecond)
	require.Len(t, recorder.GetSubmitted(), 1)
	assert.False(t, mismatchState.IsNacked())
}

func TestPipeline_ClientIDFallback(t *testing.T) {
	// Arrange: no device id in the payload, but the broker attributes carry one.
	recorder := &RecordingSubmitter{}
	pipeline, consumer := newTestPipeline(t, "", recorder.Submit)
	startPipeline(t, pipeline)

	msg, state := newTrackedMessage("m-1", []byte(`{"temperature":3.2}`), map[string]string{"clientID": "dev-9"})

	// Act
	consumer.Push(msg)

	// Assert
	require.Eventually(t, state.IsAcked, time.Second, 10*time.Millisecond)
	require.Len(t, recorder.GetSubmitted(), 1)
	assert.Equal(t, "dev-9", recorder.GetSubmitted()[0].Device())
}

func TestPipeline_SubmissionFailuresNack(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{
			name: "permanent rejection",
			err:  &c8y.RequestError{Op: "create measurement", Status: 422, Class: c8y.ClassPermanent, Body: "invalid fragment"},
		},
		{
			name: "transient failure",
			err:  &c8y.RequestError{Op: "create measurement", Status: 503, Class: c8y.ClassTransient},
		},
		{
			name: "network failure",
			err:  errors.New("connection refused"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			recorder := &RecordingSubmitter{}
			recorder.SetError(tc.err)
			pipeline, consumer := newTestPipeline(t, "", recorder.Submit)
			startPipeline(t, pipeline)

			msg, state := newTrackedMessage("m-1", []byte(`{"device_id":"sensor-1","temperature":21.5}`), nil)

			// Act
			consumer.Push(msg)

			// Assert: any submission failure is nacked so the broker redelivers.
			require.Eventually(t, state.IsNacked, time.Second, 10*time.Millisecond)
			assert.False(t, state.IsAcked())
			assert.Empty(t, recorder.GetSubmitted())
		})
	}
}

func TestPipeline_StartFailsWhenConsumerFails(t *testing.T) {
	recorder := &RecordingSubmitter{}
	pipeline, consumer := newTestPipeline(t, "", recorder.Submit)
	consumer.SetStartError(errors.New("broker unreachable"))

	err := pipeline.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
}

func TestPipeline_StopStopsConsumer(t *testing.T) {
	// Arrange
	recorder := &RecordingSubmitter{}
	pipeline, consumer := newTestPipeline(t, "", recorder.Submit)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, pipeline.Start(ctx))

	// Act
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, pipeline.Stop(stopCtx))

	// Assert
	assert.Equal(t, 1, consumer.GetStopCount())
}

func TestPipeline_ShutdownFinishesInFlightMessage(t *testing.T) {
	// Arrange: a submitter that blocks until the test releases it, so the
	// message is guaranteed to be mid-flight when shutdown begins.
	var entered sync.Once
	enteredChan := make(chan struct{})
	release := make(chan struct{})
	var submitted atomic.Int32

	submitter := func(_ context.Context, _ *messagepipeline.Message, _ mapper.Entity) error {
		entered.Do(func() { close(enteredChan) })
		<-release
		submitted.Add(1)
		return nil
	}

	pipeline, consumer := newTestPipeline(t, "", submitter)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, pipeline.Start(ctx))

	msg, state := newTrackedMessage("m-1", []byte(`{"device_id":"sensor-1","temperature":21.5}`), nil)
	consumer.Push(msg)

	select {
	case <-enteredChan:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the message")
	}

	// Act: begin shutdown while the submit is in flight, then let it finish.
	cancel()
	close(release)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, pipeline.Stop(stopCtx))

	// Assert: the in-flight message reached its terminal ack.
	assert.Equal(t, int32(1), submitted.Load())
	assert.True(t, state.IsAcked())
	assert.False(t, state.IsNacked())
}

func TestNewPipeline_Validation(t *testing.T) {
	transformer := bridge.NewEntityTransformer("", mapper.NewMapper(mapper.LoadDefaultConfig()))
	submitter := (&RecordingSubmitter{}).Submit
	consumer := NewMockMessageConsumer(1)

	_, err := bridge.NewPipeline(bridge.PipelineConfig{}, nil, transformer, submitter, nil, zerolog.Nop())
	require.Error(t, err)

	_, err = bridge.NewPipeline(bridge.PipelineConfig{}, consumer, nil, submitter, nil, zerolog.Nop())
	require.Error(t, err)

	_, err = bridge.NewPipeline(bridge.PipelineConfig{}, consumer, transformer, nil, nil, zerolog.Nop())
	require.Error(t, err)
}
