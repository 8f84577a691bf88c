package c8y

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxErrorBodyBytes bounds how much of a platform error response is kept for
// logs and error messages.
const maxErrorBodyBytes = 512

// Config holds the connection settings for one tenant's platform client.
type Config struct {
	// BaseURL is the platform REST endpoint, e.g. "https://acme.example.com".
	BaseURL string
	// Tenant is the tenant id. It is combined with Username for basic auth
	// as "{tenant}/{user}". Leave empty to authenticate with Username alone.
	Tenant   string
	Username string
	Password string
	// Timeout caps each HTTP request in addition to the caller's context.
	Timeout time.Duration
}

// Client is a minimal Cumulocity REST client scoped to a single tenant. It
// is safe for concurrent use; all methods perform exactly one HTTP call and
// never retry internally.
type Client struct {
	baseURL  string
	tenant   string
	authUser string
	password string
	hc       *http.Client
	logger   zerolog.Logger
}

// NewClient creates a Client. It does not contact the platform.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	authUser := cfg.Username
	if cfg.Tenant != "" {
		authUser = cfg.Tenant + "/" + cfg.Username
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tenant:   cfg.Tenant,
		authUser: authUser,
		password: cfg.Password,
		hc:       &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With().Str("component", "C8YClient").Str("tenant", cfg.Tenant).Logger(),
	}, nil
}

// Tenant returns the tenant id this client is bound to.
func (c *Client) Tenant() string { return c.tenant }

// do performs one JSON request against the platform. A non-nil out is filled
// from a 2xx response body. All failures come back as a *RequestError
// carrying the retry class.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Op: op, Class: ClassPermanent, Err: fmt.Errorf("encoding request body: %w", err)}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &RequestError{Op: op, Class: ClassPermanent, Err: fmt.Errorf("building request: %w", err)}
	}
	req.SetBasicAuth(c.authUser, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &RequestError{Op: op, Class: ClassTransient, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &RequestError{
			Op:     op,
			Status: resp.StatusCode,
			Class:  classifyStatus(resp.StatusCode),
			Body:   strings.TrimSpace(string(raw)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &RequestError{Op: op, Status: resp.StatusCode, Class: ClassTransient, Err: fmt.Errorf("decoding response body: %w", err)}
		}
	}

	c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("Platform call succeeded.")
	return nil
}

// formatTime renders a timestamp the way the platform expects:
// RFC 3339 in UTC with millisecond precision.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
