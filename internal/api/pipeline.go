// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeranaias/coca/internal/credstore"
)

// =============================================================================
// AUTHENTICATED PIPELINE
// =============================================================================

// call is one logical request. retried flips to true at most once.
type call struct {
	op     string
	method string
	path   string
	body   []byte

	// skipAuthRetry marks the account endpoints, whose 401 means bad
	// credentials rather than an expired token.
	skipAuthRetry bool
	retried       bool
}

func newCall(op, method, path string, payload any) (*call, error) {
	c := &call{op: op, method: method, path: path}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		c.body = body
	}
	return c, nil
}

// do runs a logical request through the pipeline and decodes the envelope
// data into out (which may be nil).
func (c *Client) do(ctx context.Context, cl *call, out any) error {
	ctx, span := c.tracer.Start(ctx, "api."+cl.op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", cl.method),
			attribute.String("url.path", cl.path),
		))
	defer span.End()

	err := c.doTraced(ctx, cl, out)
	span.SetAttributes(attribute.Bool("coca.retried", cl.retried))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) doTraced(ctx context.Context, cl *call, out any) error {
	provider := c.providerFor(ctx)

	resp, sent, err := c.attempt(ctx, cl, provider)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && !cl.skipAuthRetry && !cl.retried {
		cl.retried = true
		original := c.errorFrom(cl.op, resp)

		if _, rerr := c.refresher.Refresh(ctx, provider, sent); rerr != nil {
			c.log.Debug("token refresh failed", "op", cl.op, "error", rerr)
			if cerr := provider.Clear(ctx); cerr != nil {
				c.log.Warn("failed to clear credentials", "error", cerr)
			}
			c.loginRequired(ctx)
			original.loginRequired = true
			return original
		}

		resp, _, err = c.attempt(ctx, cl, provider)
		if err != nil {
			return err
		}
	}

	return c.decode(cl.op, resp, out)
}

// attempt sends the request once with whatever access token is stored now.
// It returns the token it attached.
func (c *Client) attempt(ctx context.Context, cl *call, provider credstore.Provider) (*http.Response, string, error) {
	pair, err := provider.Tokens(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%s: failed to read credentials: %w", cl.op, err)
	}

	req, err := c.newRequest(ctx, cl.method, cl.path, cl.body)
	if err != nil {
		return nil, "", fmt.Errorf("%s: failed to create request: %w", cl.op, err)
	}
	if pair.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}

	resp, err := c.send(ctx, c.httpClient, req)
	if err != nil {
		return nil, "", fmt.Errorf("%s: request failed: %w", cl.op, err)
	}
	return resp, pair.AccessToken, nil
}

// newRequest builds a request with the common headers but no credentials.
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, uuid.NewString())
	return req, nil
}

// send waits for the rate limiter and performs the request, logging the
// outcome without headers or bodies.
func (c *Client) send(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	duration := time.Since(start)

	attrs := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration", duration,
	}
	if err != nil {
		c.log.Debug("api request failed", append(attrs, "error", err)...)
		return nil, err
	}
	c.log.Debug("api request", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}

// =============================================================================
// RESPONSE DECODING
// =============================================================================

// readResponse reads the body with a size limit and closes it.
func readResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// errorFrom builds the APIError for a non-2xx response and consumes it.
func (c *Client) errorFrom(op string, resp *http.Response) *APIError {
	apiErr := &APIError{Op: op, Status: resp.StatusCode}
	body, err := readResponse(resp)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return apiErr
	}
	var env Envelope[json.RawMessage]
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Code
		apiErr.Message = env.Msg
	}
	return apiErr
}

// decode turns a response into out, or into an error for a non-2xx status
// or an envelope code other than 200.
func (c *Client) decode(op string, resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFrom(op, resp)
	}

	body, err := readResponse(resp)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var env Envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", op, err)
	}
	if env.Code != 0 && env.Code != CodeOK {
		return &APIError{Op: op, Status: resp.StatusCode, Code: env.Code, Message: env.Msg}
	}
	if out == nil || len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: failed to parse response data: %w", op, err)
	}
	return nil
}

// isAuthFailure reports whether err is a 401 from the backend.
func isAuthFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
