package tenant_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/config"
	"github.com/illmade-knight/go-pulsar-mapper/pkg/tenant"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicDerivation(t *testing.T) {
	assert.Equal(t, "persistent://acme/mqtt/from-device", tenant.TopicFor("acme"))
	assert.Equal(t, tenant.TopicFor("acme"), tenant.TopicFor("acme"), "derivation must be deterministic")
	assert.Equal(t, "acme_pulsar-mapper", tenant.SubscriptionFor("acme", "pulsar-mapper"))
}

func singleTenantConfig(baseURL string) *config.Config {
	return &config.Config{
		Isolation:            config.IsolationPerTenant,
		PlatformBaseURL:      baseURL,
		Tenant:               "acme",
		User:                 "svcuser",
		Password:             "secret",
		BootstrapMaxAttempts: 3,
		SubscriptionName:     "pulsar-mapper",
		SubmitTimeout:        2 * time.Second,
	}
}

func TestResolve_SingleTenant(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/currentUser", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"userName":"acme/svcuser"}`))
	}))
	t.Cleanup(server.Close)

	// Act
	contexts, err := tenant.Resolve(context.Background(), singleTenantConfig(server.URL), zerolog.Nop())

	// Assert
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	tc := contexts[0]
	assert.Equal(t, "acme", tc.Tenant)
	assert.Equal(t, "persistent://acme/mqtt/from-device", tc.Topic)
	assert.Equal(t, "acme_pulsar-mapper", tc.SubscriptionName)
	assert.Equal(t, "acme/svcuser", tc.BrokerUsername())
	require.NotNil(t, tc.Platform)
	assert.Equal(t, "acme", tc.Platform.Tenant())
}

func TestResolve_SingleTenant_RetriesTransientFailures(t *testing.T) {
	// Arrange
	restore := tenant.SetStartupBackoffForTest(5 * time.Millisecond)
	t.Cleanup(restore)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	// Act
	contexts, err := tenant.Resolve(context.Background(), singleTenantConfig(server.URL), zerolog.Nop())

	// Assert
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolve_SingleTenant_BadCredentialsFailFast(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	// Act
	contexts, err := tenant.Resolve(context.Background(), singleTenantConfig(server.URL), zerolog.Nop())

	// Assert
	require.Error(t, err)
	assert.Nil(t, contexts)
	assert.Equal(t, int32(1), calls.Load(), "a permanent rejection must not be retried")
}

func TestResolve_SingleTenant_ExhaustsRetryBudget(t *testing.T) {
	// Arrange
	restore := tenant.SetStartupBackoffForTest(5 * time.Millisecond)
	t.Cleanup(restore)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	cfg := singleTenantConfig(server.URL)
	cfg.BootstrapMaxAttempts = 2

	// Act
	contexts, err := tenant.Resolve(context.Background(), cfg, zerolog.Nop())

	// Assert
	require.Error(t, err)
	assert.Nil(t, contexts)
	assert.Equal(t, int32(2), calls.Load())
}

func multiTenantConfig(baseURL string) *config.Config {
	return &config.Config{
		Isolation:            config.IsolationMultiTenant,
		PlatformBaseURL:      baseURL,
		BootstrapTenant:      "management",
		BootstrapUser:        "bootstrap",
		BootstrapPassword:    "bootsecret",
		BootstrapMaxAttempts: 3,
		SubscriptionName:     "pulsar-mapper",
		SubmitTimeout:        2 * time.Second,
	}
}

func TestResolve_MultiTenant(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/application/currentApplication/subscriptions", r.URL.Path)
		user, pass, _ := r.BasicAuth()
		require.Equal(t, "management/bootstrap", user)
		require.Equal(t, "bootsecret", pass)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"users":[
			{"tenant":"zulu","name":"svc-z","password":"pz"},
			{"tenant":"alpha","name":"svc-a","password":"pa"}
		]}`))
	}))
	t.Cleanup(server.Close)

	// Act
	contexts, err := tenant.Resolve(context.Background(), multiTenantConfig(server.URL), zerolog.Nop())

	// Assert
	require.NoError(t, err)
	require.Len(t, contexts, 2)
	assert.Equal(t, "alpha", contexts[0].Tenant, "contexts must come back sorted by tenant id")
	assert.Equal(t, "zulu", contexts[1].Tenant)
	assert.Equal(t, "persistent://alpha/mqtt/from-device", contexts[0].Topic)
	assert.Equal(t, "alpha_pulsar-mapper", contexts[0].SubscriptionName)
	assert.Equal(t, "alpha/svc-a", contexts[0].BrokerUsername())
	assert.Equal(t, "zulu", contexts[1].Platform.Tenant())
}

func TestResolve_MultiTenant_NoSubscriptionsIsFatal(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"users":[]}`))
	}))
	t.Cleanup(server.Close)

	// Act
	contexts, err := tenant.Resolve(context.Background(), multiTenantConfig(server.URL), zerolog.Nop())

	// Assert
	require.Error(t, err)
	assert.Nil(t, contexts)
}

func TestResolve_UnknownIsolation(t *testing.T) {
	cfg := singleTenantConfig("http://localhost:0")
	cfg.Isolation = "SHARED"

	_, err := tenant.Resolve(context.Background(), cfg, zerolog.Nop())

	require.Error(t, err)
}
