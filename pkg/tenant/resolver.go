package tenant

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/config"
	"github.com/rs/zerolog"
)

// Backoff bounds for startup calls against the platform.
var (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Resolve builds the tenant contexts the service will run for. In
// PER_TENANT mode that is the single configured tenant, verified against the
// platform; in MULTI_TENANT mode the bootstrap credentials enumerate the
// subscribed tenants. The result is sorted by tenant id so the same platform
// state always produces the same startup order.
func Resolve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]*Context, error) {
	logger = logger.With().Str("component", "TenantResolver").Logger()
	switch cfg.Isolation {
	case config.IsolationMultiTenant:
		return resolveSubscribed(ctx, cfg, logger)
	case config.IsolationPerTenant:
		return resolveSingle(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown isolation mode %q", cfg.Isolation)
	}
}

func resolveSingle(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]*Context, error) {
	client, err := c8y.NewClient(c8y.Config{
		BaseURL:  cfg.PlatformBaseURL,
		Tenant:   cfg.Tenant,
		Username: cfg.User,
		Password: cfg.Password,
		Timeout:  cfg.SubmitTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating platform client for tenant %s: %w", cfg.Tenant, err)
	}

	err = withRetry(ctx, cfg.BootstrapMaxAttempts, logger, "verify credentials", func() error {
		return client.CurrentUser(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("verifying platform credentials for tenant %s: %w", cfg.Tenant, err)
	}

	logger.Info().Str("tenant", cfg.Tenant).Msg("Platform credentials verified.")
	return []*Context{newContext(cfg, cfg.Tenant, cfg.User, cfg.Password, client)}, nil
}

func resolveSubscribed(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]*Context, error) {
	boot, err := c8y.NewClient(c8y.Config{
		BaseURL:  cfg.PlatformBaseURL,
		Tenant:   cfg.BootstrapTenant,
		Username: cfg.BootstrapUser,
		Password: cfg.BootstrapPassword,
		Timeout:  cfg.SubmitTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating bootstrap client: %w", err)
	}

	var subs []c8y.Subscription
	err = withRetry(ctx, cfg.BootstrapMaxAttempts, logger, "list subscriptions", func() error {
		var callErr error
		subs, callErr = boot.Subscriptions(ctx)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("listing subscribed tenants: %w", err)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("no tenants are subscribed to this application")
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].Tenant < subs[j].Tenant })

	contexts := make([]*Context, 0, len(subs))
	for _, sub := range subs {
		client, err := c8y.NewClient(c8y.Config{
			BaseURL:  cfg.PlatformBaseURL,
			Tenant:   sub.Tenant,
			Username: sub.Name,
			Password: sub.Password,
			Timeout:  cfg.SubmitTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating platform client for tenant %s: %w", sub.Tenant, err)
		}
		contexts = append(contexts, newContext(cfg, sub.Tenant, sub.Name, sub.Password, client))
		logger.Info().Str("tenant", sub.Tenant).Msg("Resolved subscribed tenant.")
	}
	return contexts, nil
}

func newContext(cfg *config.Config, tenant, user, password string, client *c8y.Client) *Context {
	return &Context{
		Tenant:           tenant,
		Username:         user,
		Password:         password,
		Topic:            TopicFor(tenant),
		SubscriptionName: SubscriptionFor(tenant, cfg.SubscriptionName),
		Platform:         client,
	}
}

// withRetry runs call up to maxAttempts times with doubling backoff.
// Permanent platform rejections fail immediately: retrying bad credentials
// cannot succeed.
func withRetry(ctx context.Context, maxAttempts int, logger zerolog.Logger, op string, call func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = call()
		if err == nil {
			return nil
		}
		if c8y.IsPermanent(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", backoff).Msg("Startup call failed, backing off before retry.")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxAttempts, err)
}
