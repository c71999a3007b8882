// Package client provides typed access to the deployer API for interactive
// tools. The deploy call blocks until the server reports a result, so its
// HTTP client carries no timeout of its own; pass a bounded context instead.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the deployer API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:6000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// DeployInput is the payload for a deployment request. ResourceConfig is
// forwarded opaquely to the server.
type DeployInput struct {
	DeploymentID   string          `json:"deploymentId,omitempty"`
	ResourceConfig json.RawMessage `json:"resourceConfig"`
}

// DeployResult is the completion signal; StackName is null when no stack was
// provisioned for the requested configuration.
type DeployResult struct {
	DeploymentID string  `json:"deploymentId"`
	StackName    *string `json:"stackName"`
}

// Deploy submits a deployment and blocks until the server reports a result.
func (c *Client) Deploy(ctx context.Context, token string, input DeployInput) (DeployResult, error) {
	var result DeployResult
	if err := c.do(ctx, http.MethodPost, "/v1/deployments", input, token, &result); err != nil {
		return DeployResult{}, err
	}
	return result, nil
}

// Deployment reflects API deployment payloads.
type Deployment struct {
	ID           string     `json:"id"`
	StackName    string     `json:"stackName"`
	ResourceType string     `json:"resourceType"`
	ResourceID   string     `json:"resourceId"`
	Status       string     `json:"status"`
	Unverified   bool       `json:"unverified"`
	Message      string     `json:"message"`
	Error        string     `json:"error"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// GetDeployment fetches a single deployment record.
func (c *Client) GetDeployment(ctx context.Context, token, deploymentID string) (Deployment, error) {
	path := fmt.Sprintf("/v1/deployments/%s", url.PathEscape(deploymentID))
	var deployment Deployment
	if err := c.do(ctx, http.MethodGet, path, nil, token, &deployment); err != nil {
		return Deployment{}, err
	}
	return deployment, nil
}

// ListDeployments returns recent deployments.
func (c *Client) ListDeployments(ctx context.Context, token string, limit int) ([]Deployment, error) {
	path := "/v1/deployments"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var deployments []Deployment
	if err := c.do(ctx, http.MethodGet, path, nil, token, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// LogEntry is one captured line of deploy tool output.
type LogEntry struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Stream       string    `json:"stream"`
	Line         string    `json:"line"`
	CreatedAt    time.Time `json:"created_at"`
}

// Logs returns captured tool output for a deployment.
func (c *Client) Logs(ctx context.Context, token, deploymentID string, limit, offset int) ([]LogEntry, error) {
	path := fmt.Sprintf("/v1/deployments/%s/logs?limit=%d&offset=%d", url.PathEscape(deploymentID), limit, offset)
	var entries []LogEntry
	if err := c.do(ctx, http.MethodGet, path, nil, token, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
