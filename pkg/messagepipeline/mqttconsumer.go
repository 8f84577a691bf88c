package messagepipeline

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MqttConsumer implements the MessageConsumer interface for an MQTT source.
//
// MQTT has no application-level redelivery: with QoS 1 the broker considers a
// message delivered once the Paho client receives it, so Ack and Nack on the
// emitted messages are no-ops and RedeliveryCount is always zero.
type MqttConsumer struct {
	pahoClient mqtt.Client
	logger     zerolog.Logger
	outputChan chan Message
	doneChan   chan struct{}
	mqttCfg    *MQTTClientConfig
	stopOnce   sync.Once
}

// NewMqttConsumer creates a new MqttConsumer around an existing Paho client.
// It does not connect until Start is called. NewPahoClient builds a client
// from an MQTTClientConfig.
func NewMqttConsumer(client mqtt.Client, cfg *MQTTClientConfig, logger zerolog.Logger) (*MqttConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("MQTT topic is required")
	}
	return &MqttConsumer{
		pahoClient: client,
		logger:     logger.With().Str("component", "MqttConsumer").Logger(),
		outputChan: make(chan Message, 1000),
		doneChan:   make(chan struct{}),
		mqttCfg:    cfg,
	}, nil
}

// Messages returns the read-only channel from which raw messages can be consumed.
func (c *MqttConsumer) Messages() <-chan Message {
	return c.outputChan
}

// Start connects to the broker and subscribes to the configured topic.
func (c *MqttConsumer) Start(ctx context.Context) error {
	connectTimeout := c.mqttCfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	c.logger.Info().Msg("Attempting to connect to MQTT broker...")
	if token := c.pahoClient.Connect(); token.WaitTimeout(connectTimeout) && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker on startup. The Paho client will continue to retry in the background.")
	} else if token.Error() == nil {
		c.logger.Info().Msg("Initial connection to MQTT broker successful.")
	}

	handler := c.handleIncomingMessage(ctx)
	if token := c.pahoClient.Subscribe(c.mqttCfg.Topic, 1, handler); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to MQTT topic %s: %w", c.mqttCfg.Topic, token.Error())
	}
	c.logger.Info().Str("topic", c.mqttCfg.Topic).Msg("Subscribed to MQTT topic.")

	go func() {
		<-ctx.Done()
		c.logger.Info().Msg("Shutdown signal received, ensuring consumer is stopped.")
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop gracefully ceases message consumption.
func (c *MqttConsumer) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping MqttConsumer...")
		if c.pahoClient.IsConnected() {
			if token := c.pahoClient.Unsubscribe(c.mqttCfg.Topic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Str("topic", c.mqttCfg.Topic).Msg("Failed to unsubscribe from MQTT topic.")
			}
			c.pahoClient.Disconnect(500) // 500ms grace period
			c.logger.Info().Msg("Paho MQTT client disconnected.")
		}
		close(c.outputChan)
		close(c.doneChan)
		c.logger.Info().Msg("MqttConsumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *MqttConsumer) Done() <-chan struct{} {
	return c.doneChan
}

// IsConnected returns the connection status of the underlying Paho client.
// This is useful for integration tests to wait until the consumer is ready.
func (c *MqttConsumer) IsConnected() bool {
	return c.pahoClient.IsConnected()
}

// handleIncomingMessage is the callback that converts MQTT messages to the
// pipeline's standard format.
func (c *MqttConsumer) handleIncomingMessage(ctx context.Context) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		c.logger.Debug().Str("topic", msg.Topic()).Msg("Received MQTT message")
		payloadCopy := make([]byte, len(msg.Payload()))
		copy(payloadCopy, msg.Payload())

		consumedMsg := Message{
			MessageData: MessageData{
				ID:          fmt.Sprintf("%d", msg.MessageID()),
				Payload:     payloadCopy,
				PublishTime: time.Now().UTC(),
			},
			Attributes: map[string]string{"topic": msg.Topic()},
			// With QoS 1 the ack is handled at the protocol level by the Paho
			// client, so the pipeline's terminal outcomes need no further
			// action towards the broker.
			Ack:  func() {},
			Nack: func() {},
		}
		select {
		case c.outputChan <- consumedMsg:
		case <-ctx.Done():
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
		}
	}
}

// NewPahoClient assembles the Paho client options from the config and builds
// the client. Reconnects are automatic; subscriptions resume because the
// session is persistent.
func NewPahoClient(cfg *MQTTClientConfig, logger zerolog.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	uniqueSuffix := time.Now().UnixNano() % 1000000
	opts.SetClientID(fmt.Sprintf("%s%d", cfg.ClientIDPrefix, uniqueSuffix))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectWaitMax)
	opts.SetOrderMatters(false)
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info().Str("broker", cfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(cfg.BrokerURL), "tls://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
			logger.Info().Msg("TLS configured for MQTT client.")
		}
	}
	return mqtt.NewClient(opts)
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
