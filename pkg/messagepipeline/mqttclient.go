package messagepipeline

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// MQTTClientConfig holds all necessary configuration for the Paho MQTT client.
// It defines connection parameters, security settings, and the topic
// subscription for the consumer.
type MQTTClientConfig struct {
	// BrokerURL is the full URL of the MQTT broker to connect to.
	// Example: "tls://mqtt.example.com:8883"
	BrokerURL string
	// Topic is the topic filter the consumer subscribes to.
	Topic string
	// ClientIDPrefix is a prefix for the MQTT client ID. A unique suffix is
	// automatically added to ensure client uniqueness, which is required by most brokers.
	ClientIDPrefix string
	// Username for authenticating with the MQTT broker.
	Username string
	// Password for authenticating with the MQTT broker.
	Password string
	// KeepAlive is the interval at which the client sends keep-alive pings to the broker.
	KeepAlive time.Duration
	// ConnectTimeout is the timeout for the initial connection attempt.
	ConnectTimeout time.Duration
	// ReconnectWaitMin is the minimum time to wait before attempting to reconnect.
	ReconnectWaitMin time.Duration
	// ReconnectWaitMax is the maximum time to wait before attempting to reconnect.
	ReconnectWaitMax time.Duration
	// CACertFile is an optional path to a CA certificate file for verifying the broker's certificate.
	CACertFile string
	// ClientCertFile is an optional path to a client certificate file for mTLS authentication.
	ClientCertFile string
	// ClientKeyFile is an optional path to a client key file for mTLS authentication.
	ClientKeyFile string
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool
}

// Env constants for MQTT settings.
const (
	MqttBrokerURL             = "MQTT_BROKER_URL"
	MqttTopic                 = "MQTT_TOPIC"
	MqttClientIDPrefix        = "MQTT_CLIENT_ID_PREFIX"
	MqttUsername              = "MQTT_USERNAME"
	MqttPassword              = "MQTT_PASSWORD"
	MqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	MqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	MqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
)

// LoadMQTTClientConfigWithEnv loads the MQTT configuration from environment
// variables, populating timeouts and keep-alive intervals with sensible
// defaults if the variables are not set.
func LoadMQTTClientConfigWithEnv() *MQTTClientConfig {
	cfg := &MQTTClientConfig{
		KeepAlive:        60 * time.Second,  // Default
		ConnectTimeout:   10 * time.Second,  // Default
		ReconnectWaitMin: 1 * time.Second,   // Default
		ReconnectWaitMax: 120 * time.Second, // Default
		ClientIDPrefix:   "pulsar-mapper-",
	}

	cfg.BrokerURL = os.Getenv(MqttBrokerURL)
	cfg.Topic = os.Getenv(MqttTopic)
	cfg.Username = os.Getenv(MqttUsername)
	cfg.Password = os.Getenv(MqttPassword)
	if prefix := os.Getenv(MqttClientIDPrefix); prefix != "" {
		cfg.ClientIDPrefix = prefix
	}
	if skipVerify := os.Getenv(MqttSkipVerify); skipVerify == "true" {
		cfg.InsecureSkipVerify = true
	}

	// Parse durations if set in env, otherwise use defaults
	if ka := os.Getenv(MqttKeepAliveSeconds); ka != "" {
		s, err := time.ParseDuration(ka + "s")
		if err == nil {
			cfg.KeepAlive = s
		} else {
			log.Printf("messagepipeline: error parsing keepAlive seconds: %s, using default", err)
		}
	}
	if ct := os.Getenv(MqttConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("messagepipeline: error parsing connect timeout seconds: %s, using default", err)
		}
	}

	return cfg
}
