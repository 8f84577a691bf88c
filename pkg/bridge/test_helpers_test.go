package bridge_test

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/mapper"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/messagepipeline"
	"github.com/rs/zerolog/log"
)

// --- MockMessageConsumer ---

// MockMessageConsumer is a mock implementation of the MessageConsumer
// interface, used to simulate a message source in unit tests.
type MockMessageConsumer struct {
	msgChan    chan messagepipeline.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error // Error to be returned by Start()
	startMu    sync.Mutex
	startCount int
	stopCount  int
}

// NewMockMessageConsumer creates a new mock consumer with a buffered channel.
func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &MockMessageConsumer{
		msgChan:  make(chan messagepipeline.Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

// Messages returns the read-only channel for consuming messages.
func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Message {
	return m.msgChan
}

// Start simulates the startup of a real consumer.
func (m *MockMessageConsumer) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.startCount++
	if m.startErr != nil {
		return m.startErr
	}
	// Simulate being stopped by the context.
	go func() {
		<-ctx.Done()
		_ = m.Stop(context.Background())
	}()
	return nil
}

// Stop gracefully closes the message and done channels.
func (m *MockMessageConsumer) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.startMu.Lock()
		m.stopCount++
		m.startMu.Unlock()

		close(m.doneChan)
		close(m.msgChan)

		// Nack any messages that were in the buffer but not processed.
		for msg := range m.msgChan {
			log.Warn().Str("msg_id", msg.ID).Msg("MockConsumer draining and Nacking message on shutdown.")
			if msg.Nack != nil {
				msg.Nack()
			}
		}
	})
	return nil
}

// Done returns the channel that signals when the consumer has fully stopped.
func (m *MockMessageConsumer) Done() <-chan struct{} {
	return m.doneChan
}

// Push is a test helper to inject a message into the mock consumer's channel.
func (m *MockMessageConsumer) Push(msg messagepipeline.Message) {
	// A panic can occur if a test tries to push after Stop() has been called.
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Msg("Recovered from panic trying to push to closed consumer channel.")
		}
	}()
	m.msgChan <- msg
}

// SetStartError configures the mock to return an error on Start().
func (m *MockMessageConsumer) SetStartError(err error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.startErr = err
}

// GetStartCount returns the number of times Start() was called.
func (m *MockMessageConsumer) GetStartCount() int {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.startCount
}

// GetStopCount returns the number of times Stop() was called.
func (m *MockMessageConsumer) GetStopCount() int {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.stopCount
}

// --- RecordingSubmitter ---

// RecordingSubmitter captures submitted entities and returns a configurable
// error, optionally delaying each call.
type RecordingSubmitter struct {
	mu        sync.Mutex
	submitted []mapper.Entity
	err       error
	delay     time.Duration
}

func (s *RecordingSubmitter) Submit(ctx context.Context, _ *messagepipeline.Message, entity mapper.Entity) error {
	s.mu.Lock()
	err := s.err
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.submitted = append(s.submitted, entity)
	s.mu.Unlock()
	return nil
}

func (s *RecordingSubmitter) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *RecordingSubmitter) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// GetSubmitted returns a copy of the entities submitted so far.
func (s *RecordingSubmitter) GetSubmitted() []mapper.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	submittedCopy := make([]mapper.Entity, len(s.submitted))
	copy(submittedCopy, s.submitted)
	return submittedCopy
}

// --- messageState ---

// messageState tracks the Ack/Nack status for individual messages in tests.
type messageState struct {
	ID         string
	mu         sync.Mutex
	ackCalled  bool
	nackCalled bool
}

func (ms *messageState) Ack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.ackCalled = true
}

func (ms *messageState) Nack() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.nackCalled = true
}

func (ms *messageState) IsAcked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.ackCalled
}

func (ms *messageState) IsNacked() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.nackCalled
}

// newTrackedMessage builds a pipeline message whose terminal calls are
// recorded on the returned state.
func newTrackedMessage(id string, payload []byte, attributes map[string]string) (messagepipeline.Message, *messageState) {
	state := &messageState{ID: id}
	msg := messagepipeline.Message{
		MessageData: messagepipeline.MessageData{
			ID:          id,
			Payload:     payload,
			PublishTime: time.Now().UTC(),
		},
		Attributes: attributes,
		Ack:        state.Ack,
		Nack:       state.Nack,
	}
	return msg, state
}
