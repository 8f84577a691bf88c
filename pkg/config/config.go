// Package config loads the service configuration from the environment,
// following a read-once-at-startup model: nothing here is re-read while the
// service runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Isolation modes. PER_TENANT runs against one tenant's fixed credentials;
// MULTI_TENANT enumerates subscribed tenants through the bootstrap API.
const (
	IsolationPerTenant   = "PER_TENANT"
	IsolationMultiTenant = "MULTI_TENANT"
)

// Ingestion brokers.
const (
	BrokerPulsar = "pulsar"
	BrokerMQTT   = "mqtt"
)

// Config is the full service configuration. Fields group by concern; all of
// them are immutable after LoadFromEnv.
type Config struct {
	LogLevel string
	HTTPPort string
	Broker   string

	// Platform connection.
	PlatformBaseURL string
	PulsarURL       string

	// Tenant resolution.
	Isolation            string
	Tenant               string
	User                 string
	Password             string
	BootstrapTenant      string
	BootstrapUser        string
	BootstrapPassword    string
	BootstrapMaxAttempts int

	// Subscription and redelivery.
	SubscriptionName    string
	TopicFilter         string
	MaxRedeliveries     uint32
	NackRedeliveryDelay time.Duration
	ReceiverQueueSize   int

	// Pipeline sizing.
	NumWorkers      int
	SubmitTimeout   time.Duration
	ShutdownTimeout time.Duration

	// Entity mapping defaults.
	MeasurementType string
	EventType       string
	AlarmType       string
	AlarmSeverity   string

	// Device identity.
	ExternalIDType   string
	DeviceNamePrefix string
	DeviceType       string
	AutoProvision    bool
	DeviceCacheSize  int
	DeviceCacheTTL   time.Duration

	// Optional shared device cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LoadFromEnv builds a Config from environment variables, falling back to
// defaults for anything unset. Unparseable values are logged and replaced by
// their default rather than failing startup.
func LoadFromEnv() *Config {
	cfg := &Config{
		LogLevel: "info",
		HTTPPort: ":8080",
		Broker:   BrokerPulsar,

		Isolation:            IsolationPerTenant,
		BootstrapMaxAttempts: 5,

		SubscriptionName:    "pulsar-mapper",
		MaxRedeliveries:     5,
		NackRedeliveryDelay: time.Minute,
		ReceiverQueueSize:   100,

		NumWorkers:      5,
		SubmitTimeout:   30 * time.Second,
		ShutdownTimeout: 25 * time.Second,

		AlarmSeverity:   "MINOR",
		MeasurementType: "mqtt_Measurement",
		EventType:       "mqtt_Event",
		AlarmType:       "mqtt_Alarm",

		ExternalIDType:   "c8y_Serial",
		DeviceNamePrefix: "MyDevice-",
		DeviceType:       "mqtt_pulsar_Device",
		AutoProvision:    true,
		DeviceCacheSize:  10000,
		DeviceCacheTTL:   time.Hour,
	}

	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPPort = envString("HTTP_PORT", cfg.HTTPPort)
	cfg.Broker = envString("BROKER", cfg.Broker)

	cfg.PlatformBaseURL = envString("C8Y_BASEURL", "")
	cfg.PulsarURL = envString("C8Y_BASEURL_PULSAR", "")

	cfg.Isolation = envString("ISOLATION", cfg.Isolation)
	cfg.Tenant = envString("C8Y_TENANT", "")
	cfg.User = envString("C8Y_USER", "")
	cfg.Password = envString("C8Y_PASSWORD", "")
	cfg.BootstrapTenant = envString("C8Y_BOOTSTRAP_TENANT", "")
	cfg.BootstrapUser = envString("C8Y_BOOTSTRAP_USER", "")
	cfg.BootstrapPassword = envString("C8Y_BOOTSTRAP_PASSWORD", "")
	cfg.BootstrapMaxAttempts = envInt("BOOTSTRAP_MAX_ATTEMPTS", cfg.BootstrapMaxAttempts)

	cfg.SubscriptionName = envString("SUBSCRIPTION_NAME", cfg.SubscriptionName)
	cfg.TopicFilter = envString("TOPIC_FILTER", cfg.TopicFilter)
	cfg.MaxRedeliveries = envUint32("PULSAR_MAX_REDELIVERIES", cfg.MaxRedeliveries)
	cfg.NackRedeliveryDelay = envDuration("PULSAR_NACK_REDELIVERY_DELAY", cfg.NackRedeliveryDelay)
	cfg.ReceiverQueueSize = envInt("PULSAR_RECEIVER_QUEUE_SIZE", cfg.ReceiverQueueSize)

	cfg.NumWorkers = envInt("NUM_WORKERS", cfg.NumWorkers)
	cfg.SubmitTimeout = envDuration("SUBMIT_TIMEOUT", cfg.SubmitTimeout)
	cfg.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.MeasurementType = envString("MEASUREMENT_TYPE", cfg.MeasurementType)
	cfg.EventType = envString("EVENT_TYPE", cfg.EventType)
	cfg.AlarmType = envString("ALARM_TYPE", cfg.AlarmType)
	cfg.AlarmSeverity = envString("ALARM_DEFAULT_SEVERITY", cfg.AlarmSeverity)

	cfg.ExternalIDType = envString("EXTERNAL_ID_TYPE", cfg.ExternalIDType)
	cfg.DeviceNamePrefix = envString("DEVICE_NAME_PREFIX", cfg.DeviceNamePrefix)
	cfg.DeviceType = envString("DEVICE_TYPE", cfg.DeviceType)
	cfg.AutoProvision = envBool("AUTO_PROVISION_DEVICES", cfg.AutoProvision)
	cfg.DeviceCacheSize = envInt("DEVICE_CACHE_SIZE", cfg.DeviceCacheSize)
	cfg.DeviceCacheTTL = envDuration("DEVICE_CACHE_TTL", cfg.DeviceCacheTTL)

	cfg.RedisAddr = envString("REDIS_ADDR", "")
	cfg.RedisPassword = envString("REDIS_PASSWORD", "")
	cfg.RedisDB = envInt("REDIS_DB", 0)

	return cfg
}

// Validate checks the combinations that cannot be defaulted. It is called
// once at startup; a non-nil error is fatal.
func (c *Config) Validate() error {
	if c.PlatformBaseURL == "" {
		return fmt.Errorf("C8Y_BASEURL is required")
	}
	switch c.Broker {
	case BrokerPulsar:
		if c.PulsarURL == "" {
			return fmt.Errorf("C8Y_BASEURL_PULSAR is required when BROKER is %q", BrokerPulsar)
		}
	case BrokerMQTT:
	default:
		return fmt.Errorf("unknown BROKER %q", c.Broker)
	}
	switch c.Isolation {
	case IsolationPerTenant:
		if c.Tenant == "" || c.User == "" || c.Password == "" {
			return fmt.Errorf("C8Y_TENANT, C8Y_USER and C8Y_PASSWORD are required when ISOLATION is %s", IsolationPerTenant)
		}
	case IsolationMultiTenant:
		if c.BootstrapTenant == "" || c.BootstrapUser == "" || c.BootstrapPassword == "" {
			return fmt.Errorf("C8Y_BOOTSTRAP_TENANT, C8Y_BOOTSTRAP_USER and C8Y_BOOTSTRAP_PASSWORD are required when ISOLATION is %s", IsolationMultiTenant)
		}
	default:
		return fmt.Errorf("unknown ISOLATION %q", c.Isolation)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("NUM_WORKERS must be positive")
	}
	if c.MaxRedeliveries == 0 {
		return fmt.Errorf("PULSAR_MAX_REDELIVERIES must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid integer for %s: %q, using default %d", key, v, def)
		return def
	}
	return n
}

func envUint32(key string, def uint32) uint32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		log.Printf("config: invalid integer for %s: %q, using default %d", key, v, def)
		return def
	}
	return uint32(n)
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid duration for %s: %q, using default %s", key, v, def)
		return def
	}
	return d
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: invalid boolean for %s: %q, using default %t", key, v, def)
		return def
	}
	return b
}
