// Package main runs the broker-to-Cumulocity mapper service: it consumes
// device messages from per-tenant Pulsar topics (or an MQTT broker), maps
// them to platform entities and submits them through the platform REST API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/bridge"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/config"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/device"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/mapper"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/messagepipeline"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/metrics"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/microservice"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/tenant"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.LoadFromEnv()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "pulsar-mapper").Logger()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Service failed")
	}
	logger.Info().Msg("Service stopped.")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	tenants, err := tenant.Resolve(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("resolving tenants: %w", err)
	}
	logger.Info().Int("tenant_count", len(tenants)).Str("broker", cfg.Broker).Msg("Resolved tenants.")

	m := metrics.New()

	entityMapper := mapper.NewMapper(mapper.Config{
		DefaultMeasurementType: cfg.MeasurementType,
		DefaultEventType:       cfg.EventType,
		DefaultAlarmType:       cfg.AlarmType,
		DefaultAlarmSeverity:   cfg.AlarmSeverity,
	})
	transformer := bridge.NewEntityTransformer(cfg.TopicFilter, entityMapper)

	consumerFactory, err := newConsumerFactory(cfg, uuid.NewString()[:8], logger)
	if err != nil {
		return err
	}

	// Registries are closed after the pipelines stop, so in-flight submissions
	// can still resolve devices during shutdown.
	var registries []*device.Registry
	defer func() {
		for _, registry := range registries {
			if closeErr := registry.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Msg("Device registry did not close cleanly.")
			}
		}
	}()

	submitterFactory := func(tc *tenant.Context) (bridge.EntitySubmitter, error) {
		registry, registryErr := device.NewRegistry(ctx, tc.Tenant, tc.Platform, device.Config{
			ExternalIDType: cfg.ExternalIDType,
			NamePrefix:     cfg.DeviceNamePrefix,
			DeviceType:     cfg.DeviceType,
			AutoProvision:  cfg.AutoProvision,
			CacheSize:      cfg.DeviceCacheSize,
			CacheTTL:       cfg.DeviceCacheTTL,
		}, redisConfig(cfg), logger)
		if registryErr != nil {
			return nil, registryErr
		}
		registries = append(registries, registry)
		return bridge.NewEntitySubmitter(tc.Platform, registry), nil
	}

	coordinator, err := bridge.NewCoordinator(
		bridge.CoordinatorConfig{NumWorkers: cfg.NumWorkers, SubmitTimeout: cfg.SubmitTimeout},
		tenants,
		transformer,
		consumerFactory,
		submitterFactory,
		m,
		logger,
	)
	if err != nil {
		return fmt.Errorf("building coordinator: %w", err)
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPPort, coordinator.Ready)
	server.Mux().Handle("/metrics", m.Handler())
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("starting tenant pipelines: %w", err)
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := coordinator.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("Pipelines did not stop cleanly.")
	}
	if err := server.Shutdown(stopCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server did not shut down cleanly.")
	}
	return nil
}

// newConsumerFactory returns the per-tenant consumer constructor for the
// configured broker. The instance id keeps consumer names unique when
// several service replicas share one subscription.
func newConsumerFactory(cfg *config.Config, instanceID string, logger zerolog.Logger) (bridge.ConsumerFactory, error) {
	switch cfg.Broker {
	case config.BrokerPulsar:
		return func(tc *tenant.Context) (messagepipeline.MessageConsumer, error) {
			consumerCfg := messagepipeline.LoadDefaultPulsarConsumerConfig(cfg.PulsarURL, tc.Topic, tc.SubscriptionName)
			consumerCfg.ConsumerName = fmt.Sprintf("pulsar-mapper-%s-%s", tc.Tenant, instanceID)
			consumerCfg.AuthUsername = tc.BrokerUsername()
			consumerCfg.AuthPassword = tc.Password
			consumerCfg.MaxRedeliveries = cfg.MaxRedeliveries
			consumerCfg.NackRedeliveryDelay = cfg.NackRedeliveryDelay
			consumerCfg.ReceiverQueueSize = cfg.ReceiverQueueSize
			return messagepipeline.NewPulsarConsumer(consumerCfg, logger)
		}, nil
	case config.BrokerMQTT:
		return func(tc *tenant.Context) (messagepipeline.MessageConsumer, error) {
			mqttCfg := messagepipeline.LoadMQTTClientConfigWithEnv()
			if mqttCfg.BrokerURL == "" {
				return nil, fmt.Errorf("%s is required when BROKER is %q", messagepipeline.MqttBrokerURL, config.BrokerMQTT)
			}
			client := messagepipeline.NewPahoClient(mqttCfg, logger)
			return messagepipeline.NewMqttConsumer(client, mqttCfg, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

func redisConfig(cfg *config.Config) *device.RedisConfig {
	if cfg.RedisAddr == "" {
		return nil
	}
	return &device.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		CacheTTL: cfg.DeviceCacheTTL,
	}
}
