package gns3

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Iram04hack/network-management-system-sub002/errors"
	"github.com/Iram04hack/network-management-system-sub002/metric"
	"github.com/Iram04hack/network-management-system-sub002/pkg/retry"
)

// Client tuning defaults. The rate limit protects the emulator from bursty
// project-wide fanout; GNS3 servers degrade badly under concurrent start
// storms.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultRateLimit      = rate.Limit(20) // requests per second
	DefaultRateBurst      = 10
)

// Client is a GNS3 REST API client implementing Gateway. Calls are rate
// limited and retried with backoff on transient failures; 404s are
// classified as missing entities and never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit overrides the request rate limit.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithClientMetrics enables gateway call metrics.
func WithClientMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a GNS3 client for a server base URL such as
// "http://gns3:3080".
func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "NewClient", "base URL cannot be empty")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		limiter:    rate.NewLimiter(DefaultRateLimit, DefaultRateBurst),
		retryCfg:   retry.Gateway(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListProjects returns all projects on the server.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	err := c.getJSON(ctx, "list_projects", "/v2/projects", &projects)
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// ListNodes returns the nodes of a project.
func (c *Client) ListNodes(ctx context.Context, projectID string) ([]Node, error) {
	if projectID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingProjectID, "Client", "ListNodes", "reject request")
	}

	var nodes []Node
	path := fmt.Sprintf("/v2/projects/%s/nodes", projectID)
	if err := c.getJSON(ctx, "list_nodes", path, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// ListLinks returns the links of a project.
func (c *Client) ListLinks(ctx context.Context, projectID string) ([]Link, error) {
	if projectID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingProjectID, "Client", "ListLinks", "reject request")
	}

	var links []Link
	path := fmt.Sprintf("/v2/projects/%s/links", projectID)
	if err := c.getJSON(ctx, "list_links", path, &links); err != nil {
		return nil, err
	}
	for i := range links {
		links[i].ProjectID = projectID
	}
	return links, nil
}

// StartNode starts one node.
func (c *Client) StartNode(ctx context.Context, projectID, nodeID string) error {
	return c.nodeAction(ctx, "start_node", projectID, nodeID, "start")
}

// StopNode stops one node.
func (c *Client) StopNode(ctx context.Context, projectID, nodeID string) error {
	return c.nodeAction(ctx, "stop_node", projectID, nodeID, "stop")
}

func (c *Client) nodeAction(ctx context.Context, operation, projectID, nodeID, action string) error {
	if projectID == "" {
		return errors.WrapInvalid(errors.ErrMissingProjectID, "Client", operation, "reject request")
	}
	if nodeID == "" {
		return errors.WrapInvalid(errors.ErrMissingNodeID, "Client", operation, "reject request")
	}

	path := fmt.Sprintf("/v2/projects/%s/nodes/%s/%s", projectID, nodeID, action)
	return c.do(ctx, operation, http.MethodPost, path, nil)
}

func (c *Client) getJSON(ctx context.Context, operation, path string, out any) error {
	return c.do(ctx, operation, http.MethodGet, path, out)
}

// do performs one rate-limited, retried request. A nil out discards the
// response body.
func (c *Client) do(ctx context.Context, operation, method, path string, out any) error {
	start := time.Now()
	err := retry.Do(ctx, c.retryCfg, func() error {
		return c.once(ctx, method, path, out)
	})
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.GatewayCalls.WithLabelValues(operation, status).Inc()
		c.metrics.GatewayDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	}

	if err != nil {
		c.logger.Warn("gateway call failed",
			"operation", operation,
			"path", path,
			"duration", elapsed,
			"error", err)
		return err
	}

	c.logger.Debug("gateway call",
		"operation", operation,
		"path", path,
		"duration", elapsed)
	return nil
}

func (c *Client) once(ctx context.Context, method, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return retry.NonRetryable(errors.Wrap(err, "Client", "once", "rate limiter wait"))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return retry.NonRetryable(errors.WrapInvalid(err, "Client", "once", "build request"))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransient(errors.ErrGatewayUnavailable, "Client", "once", err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return retry.NonRetryable(c.notFound(path))
	case resp.StatusCode >= 500:
		return errors.WrapTransient(errors.ErrGatewayUnavailable, "Client", "once",
			fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.NonRetryable(errors.WrapInvalid(errors.ErrGateway, "Client", "once",
			fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, string(body))))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.NonRetryable(errors.WrapInvalid(err, "Client", "once", "decode response"))
	}
	return nil
}

// notFound maps a 404 to the entity sentinel implied by the path shape.
func (c *Client) notFound(path string) error {
	if strings.Contains(path, "/nodes/") {
		return errors.WrapInvalid(errors.ErrNodeNotFound, "Client", "once", path)
	}
	return errors.WrapInvalid(errors.ErrProjectNotFound, "Client", "once", path)
}
