// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jeranaias/coca/internal/config"
	"github.com/jeranaias/coca/internal/credstore"
)

// Configuration constants for the backend client.
const (
	// DefaultTimeout bounds every non-streaming request.
	DefaultTimeout = config.DefaultTimeout

	// DefaultUserAgent is sent when no other is configured.
	DefaultUserAgent = "coca-cli"

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024

	// RequestIDHeader carries a per-attempt request id.
	RequestIDHeader = "X-Request-ID"

	tracerName = "github.com/jeranaias/coca/internal/api"
)

// LoginRequiredFunc is called when a 401 could not be recovered. It is the
// client's equivalent of redirecting to the login page.
type LoginRequiredFunc func(ctx context.Context)

// Client talks to the chat backend.
type Client struct {
	baseURL   string
	userAgent string

	// httpClient carries pipeline requests. streamClient has no timeout;
	// streams are bounded by their context. refreshClient bypasses the
	// pipeline entirely.
	httpClient    *http.Client
	streamClient  *http.Client
	refreshClient *http.Client

	store     credstore.Store
	provider  credstore.Provider
	refresher *Refresher

	limiter           *rate.Limiter
	onLoginRequired   LoginRequiredFunc
	streamIdleTimeout time.Duration

	log    *slog.Logger
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for pipeline and refresh calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
			c.refreshClient = hc
		}
	}
}

// WithStreamHTTPClient replaces the client used for streamed sends.
func WithStreamHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.streamClient = hc
		}
	}
}

// WithTimeout sets the timeout of non-streaming requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
			c.refreshClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger. Requests are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTracerProvider sets the OpenTelemetry provider used for spans. The
// global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLoginRequired sets the hook run when re-authentication is needed.
func WithLoginRequired(fn LoginRequiredFunc) Option {
	return func(c *Client) {
		c.onLoginRequired = fn
	}
}

// WithStreamIdleTimeout fails a stream that stays silent for d.
func WithStreamIdleTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.streamIdleTimeout = d
	}
}

// NewClient returns a client for the backend at baseURL whose credentials
// live in store.
func NewClient(baseURL string, store credstore.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		userAgent:     DefaultUserAgent,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		streamClient:  &http.Client{},
		refreshClient: &http.Client{Timeout: DefaultTimeout},
		store:         store,
		log:           slog.Default(),
		tracer:        otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.provider = credstore.NewProvider(store)
	c.refresher = newRefresher(c)
	return c
}

// NewFromConfig builds a client from the [server] section of cfg.
func NewFromConfig(cfg *config.Config, store credstore.Store, opts ...Option) *Client {
	base := []Option{
		WithTimeout(cfg.Server.Timeout.D()),
		WithUserAgent(cfg.Server.UserAgent),
		WithRateLimit(cfg.Server.RateLimit, cfg.Server.Burst),
		WithStreamIdleTimeout(cfg.Server.StreamIdleTimeout.D()),
	}
	return NewClient(cfg.Server.BaseURL, store, append(base, opts...)...)
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Store returns the credential store given to NewClient.
func (c *Client) Store() credstore.Store {
	return c.store
}

// Refresher returns the client's shared refresher.
func (c *Client) Refresher() *Refresher {
	return c.refresher
}

// providerFor returns the credential provider carried by ctx, falling back
// to the client's store.
func (c *Client) providerFor(ctx context.Context) credstore.Provider {
	if p, ok := credstore.ProviderFrom(ctx); ok {
		return p
	}
	return c.provider
}

func (c *Client) loginRequired(ctx context.Context) {
	c.log.Info("login required")
	if c.onLoginRequired != nil {
		c.onLoginRequired(ctx)
	}
}
