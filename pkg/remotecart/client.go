// Package remotecart talks to the server-authoritative cart over HTTP/JSON.
// The server recomputes the cart on every mutating call and the returned cart
// replaces whatever the client held before.
package remotecart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
)

const IdempotencyHeader = "Idempotency-Key"

var tracer = otel.Tracer("julianmorley.ca/con-plar/boxcart/pkg/remotecart")

type envelope struct {
	Status  string                   `json:"status"`
	Message string                   `json:"message"`
	Data    json.RawMessage          `json:"data"`
	Errors  []global.ValidationError `json:"errors"`
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
	logger  *logrus.Logger
}

// New builds a client for baseURL. token is called per request and may
// return "" for unauthenticated calls.
func New(baseURL string, timeout time.Duration, token func() string, opts ...Option) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
		logger:  global.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Get(ctx context.Context) (*models.Cart, error) {
	var cart models.Cart
	if err := c.do(ctx, "get cart", http.MethodGet, "/cart", nil, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) Add(ctx context.Context, productID string, quantityBoxes int) (*models.Cart, error) {
	body := models.MergeItem{ProductID: productID, QuantityBoxes: quantityBoxes}
	var cart models.Cart
	if err := c.do(ctx, "add", http.MethodPost, "/cart/add", body, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) Update(ctx context.Context, lineID string, quantityBoxes int) (*models.Cart, error) {
	body := map[string]int{"quantityBoxes": quantityBoxes}
	var cart models.Cart
	if err := c.do(ctx, "update", http.MethodPut, "/cart/items/"+url.PathEscape(lineID), body, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) Remove(ctx context.Context, lineID string) (*models.Cart, error) {
	var cart models.Cart
	if err := c.do(ctx, "remove", http.MethodDelete, "/cart/items/"+url.PathEscape(lineID), nil, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, "clear", http.MethodDelete, "/cart/clear", nil, nil, nil)
}

// Merge submits guest lines. The merge token is sent as the idempotency key so
// a replayed request is applied once by the server.
func (c *Client) Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error) {
	var headers map[string]string
	if req.MergeToken != "" {
		headers = map[string]string{IdempotencyHeader: req.MergeToken}
	}
	var res models.MergeResult
	if err := c.do(ctx, "merge", http.MethodPost, "/cart/merge", req, headers, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Validate asks the server to reconcile its own cart.
func (c *Client) Validate(ctx context.Context) (*models.ValidationResult, error) {
	var res models.ValidationResult
	if err := c.do(ctx, "validate", http.MethodPost, "/cart/validate", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, headers map[string]string, out any) (err error) {
	ctx, span := tracer.Start(ctx, "remotecart."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method), attribute.String("http.route", path)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		raw, merr := json.Marshal(body)
		if merr != nil {
			return models.NewCartError(models.KindInvalidArgument, op, merr)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return models.NewCartError(models.KindInvalidArgument, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		global.LogError(c.logger, "remotecart", op, "request failed", path, err)
		return models.NewCartError(models.KindNetwork, op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewCartError(models.KindNetwork, op, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return models.NewCartErrorf(models.KindNetwork, op, "cart service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.NewCartError(models.KindNetwork, op, fmt.Errorf("malformed cart service response (%d): %w", resp.StatusCode, err))
	}

	if env.Status != global.StatusSuccess || resp.StatusCode >= 400 {
		kind := models.KindRemoteRejected
		if resp.StatusCode == http.StatusNotFound {
			kind = models.KindNotFound
		}
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return models.NewCartError(kind, op, errors.New(msg))
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return models.NewCartError(models.KindNetwork, op, fmt.Errorf("decode cart service payload: %w", err))
		}
	}
	return nil
}
