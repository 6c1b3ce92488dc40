// Package prom wraps the Prometheus HTTP API for the resource monitor and
// the readiness gate.
package prom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/torosent/loadgate/internal/logging"
)

const (
	DefaultAddress      = "http://localhost:9090"
	DefaultQueryTimeout = 10 * time.Second
	healthPath          = "/-/healthy"
)

// ErrNoData is returned when a query succeeds but yields no series.
var ErrNoData = errors.New("query returned no data")

// Client queries one Prometheus server.
type Client struct {
	address string
	raw     api.Client
	api     v1.API
	timeout time.Duration
	logger  *zap.Logger
}

// Options configure a Client.
type Options struct {
	Address      string
	QueryTimeout time.Duration
	RoundTripper http.RoundTripper
	Logger       *zap.Logger
}

func New(opts Options) (*Client, error) {
	address := strings.TrimRight(strings.TrimSpace(opts.Address), "/")
	if address == "" {
		address = DefaultAddress
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	cfg := api.Config{Address: address}
	if opts.RoundTripper != nil {
		cfg.RoundTripper = opts.RoundTripper
	}
	raw, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("prometheus client for %s: %w", address, err)
	}
	return &Client{
		address: address,
		raw:     raw,
		api:     v1.NewAPI(raw),
		timeout: opts.QueryTimeout,
		logger:  logging.OrNop(opts.Logger).Named("prom"),
	}, nil
}

// Address returns the base URL of the server.
func (c *Client) Address() string { return c.address }

// Healthy probes the server's health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.raw.URL(healthPath, nil).String(), nil)
	if err != nil {
		return err
	}
	resp, _, err := c.raw.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("prometheus %s unreachable: %w", c.address, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prometheus %s health check returned %d", c.address, resp.StatusCode)
	}
	return nil
}

// Query runs an instant query and returns its samples. Scalars are returned
// as a single unlabelled sample. An empty result is ErrNoData.
func (c *Client) Query(ctx context.Context, query string) (model.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	for _, w := range warnings {
		c.logger.Debug("query warning", zap.String("query", query), zap.String("warning", w))
	}

	var vec model.Vector
	switch v := value.(type) {
	case model.Vector:
		vec = v
	case *model.Scalar:
		vec = model.Vector{&model.Sample{Value: v.Value, Timestamp: v.Timestamp}}
	default:
		return nil, fmt.Errorf("query %q: unsupported result type %s", query, value.Type())
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("query %q: %w", query, ErrNoData)
	}
	return vec, nil
}

// Sum adds up every sample of the query result.
func (c *Client) Sum(ctx context.Context, query string) (float64, error) {
	vec, err := c.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, s := range vec {
		total += float64(s.Value)
	}
	return total, nil
}

// First returns the value of the first sample of the query result.
func (c *Client) First(ctx context.Context, query string) (float64, error) {
	vec, err := c.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return float64(vec[0].Value), nil
}

// ActiveTargets counts the scrape targets Prometheus currently tracks.
func (c *Client) ActiveTargets(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.api.Targets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list scrape targets: %w", err)
	}
	return len(res.Active), nil
}
