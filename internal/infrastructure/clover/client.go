// Package clover is a client for the Clover v3 merchant REST API. Every call
// goes through the same throttle and rate-limit retry policy.
package clover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/kds/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseSize caps how much of a response body is read
const maxResponseSize = 10 * 1024 * 1024

// Endpoint names used in logs and metrics
const (
	endpointOrders        = "orders"
	endpointOrder         = "order"
	endpointLineItems     = "line_items"
	endpointModifications = "modifications"
)

// Client calls the Clover merchant API
type Client struct {
	config     Config
	httpClient *http.Client
	retry      RetryPolicy
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *telemetry.Metrics
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithRetryPolicy overrides the default retry policy
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p.normalized()
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records call outcomes into m
func WithMetrics(m *telemetry.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client. The config is validated and defaulted.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, ErrConfigMissingAPIKey
	}
	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry:   DefaultRetryPolicy(),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("clover")
	return c, nil
}

// RetryPolicy returns the policy in effect
func (c *Client) RetryPolicy() RetryPolicy {
	return c.retry
}

// FetchOrders lists the merchant's orders. Line items are not included.
func (c *Client) FetchOrders(ctx context.Context) ([]kitchen.Order, error) {
	var resp elements[OrderResponse]
	if err := c.get(ctx, endpointOrders, "/orders", nil, &resp); err != nil {
		return nil, err
	}

	orders := make([]kitchen.Order, 0, len(resp.Elements))
	for _, o := range resp.Elements {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

// FetchOrder fetches a single order
func (c *Client) FetchOrder(ctx context.Context, orderID string) (kitchen.Order, error) {
	var resp OrderResponse
	path := "/orders/" + url.PathEscape(orderID)
	if err := c.get(ctx, endpointOrder, path, nil, &resp); err != nil {
		return kitchen.Order{}, err
	}
	return resp.toOrder(), nil
}

// FetchLineItems fetches an order's line items with their modifications
// expanded inline.
func (c *Client) FetchLineItems(ctx context.Context, orderID string) ([]kitchen.LineItem, error) {
	return c.fetchLineItems(ctx, orderID, true)
}

func (c *Client) fetchLineItems(ctx context.Context, orderID string, expand bool) ([]kitchen.LineItem, error) {
	var query url.Values
	if expand {
		query = url.Values{"expand": []string{"modifications"}}
	}

	var resp elements[LineItemResponse]
	path := "/orders/" + url.PathEscape(orderID) + "/line_items"
	if err := c.get(ctx, endpointLineItems, path, query, &resp); err != nil {
		return nil, err
	}
	return toLineItems(resp.Elements), nil
}

// FetchModifications fetches the modifications of one line item
func (c *Client) FetchModifications(ctx context.Context, orderID, lineItemID string) ([]kitchen.Modification, error) {
	var resp elements[ModificationResponse]
	path := "/orders/" + url.PathEscape(orderID) + "/line_items/" + url.PathEscape(lineItemID) + "/modifications"
	if err := c.get(ctx, endpointModifications, path, nil, &resp); err != nil {
		return nil, err
	}
	return toModifications(resp.Elements), nil
}

// FetchOrderWithModifications assembles one order with its line items and
// fetches the modifications of each line item separately. Only a failure to
// fetch the order itself is returned; a line item whose modifications cannot
// be fetched keeps an empty list.
func (c *Client) FetchOrderWithModifications(ctx context.Context, orderID string) (kitchen.Order, error) {
	order, err := c.FetchOrder(ctx, orderID)
	if err != nil {
		return kitchen.Order{}, err
	}

	items, err := c.fetchLineItems(ctx, orderID, false)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return kitchen.Order{}, ctxErr
		}
		c.logger.Warn("Failed to fetch line items, returning order without them",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		items = make([]kitchen.LineItem, 0)
	}

	for i := range items {
		mods, err := c.FetchModifications(ctx, orderID, items[i].ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return kitchen.Order{}, ctxErr
			}
			c.logger.Warn("Failed to fetch modifications",
				zap.String("order_id", orderID),
				zap.String("line_item_id", items[i].ID),
				zap.Error(err),
			)
			continue
		}
		items[i].Modifications = mods
	}

	order.LineItems = items
	return order, nil
}

// get performs a GET against a merchant-scoped path and decodes the JSON body
// into out. Rate-limited attempts are retried under the retry policy; every
// other failure returns immediately.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "clover."+endpoint,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute(telemetry.SpanAttrEndpoint, endpoint),
	)
	defer span.End()

	target := c.config.merchantURL() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	start := time.Now()
	attempts := 0
	op := func() error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrRequestFailed, err))
		}
		return c.attempt(ctx, target, out)
	}
	notify := func(err error, wait time.Duration) {
		c.metrics.IncUpstreamRetry(endpoint)
		c.logger.Debug("Upstream rate limited, backing off",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
		)
	}

	err := backoff.RetryNotify(op, c.retry.NewBackOff(ctx), notify)
	c.metrics.ObserveUpstream(endpoint, outcomeOf(err), time.Since(start))
	telemetry.SetAttributes(span, "attempts", attempts)
	if err == nil {
		return nil
	}

	telemetry.RecordError(span, err)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// caller gave up; not an upstream problem
	case errors.Is(err, ErrRateLimited):
		c.logger.Warn("Upstream rate limit retries exhausted",
			zap.String("endpoint", endpoint),
			zap.Int("attempts", attempts),
		)
	default:
		c.logger.Warn("Upstream request failed",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
	}
	return err
}

// attempt performs one HTTP round trip. Only a rate-limited response is
// returned as a retryable error.
func (c *Client) attempt(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("clover: failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrRequestFailed, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%w: failed to read response: %v", ErrRequestFailed, err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || isRateLimitBody(body) {
		return ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("%w: HTTP %d", ErrRequestFailed, resp.StatusCode))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeSuccess
	case errors.Is(err, ErrRateLimited):
		return telemetry.OutcomeRateLimited
	case errors.Is(err, ErrMalformedResponse):
		return telemetry.OutcomeMalformed
	default:
		return telemetry.OutcomeFailed
	}
}
