package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

// Client is a thin HTTP client for the orchestration daemon.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the request timeout. The default is 5 minutes to
// accommodate synchronous reasoning requests.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithToken sets a bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("baseURL is required")
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Kind       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (%d %s): %s", e.StatusCode, e.Kind, e.Message)
}

// ProcessResult is the outcome of a one-shot reasoning request.
type ProcessResult struct {
	Response   string `json:"response"`
	Truncated  bool   `json:"truncated,omitempty"`
	Iterations int    `json:"iterations"`
}

// CreateWorkflowRequest defines a workflow to create. Either Steps or
// Message must be set.
type CreateWorkflowRequest struct {
	WorkflowID       string                 `json:"workflow_id,omitempty"`
	Steps            []types.StepDescriptor `json:"steps,omitempty"`
	Message          string                 `json:"message,omitempty"`
	MaxThinkingSteps int                    `json:"max_thinking_steps,omitempty"`
}

type snapshotListResponse struct {
	WorkflowID string                  `json:"workflow_id"`
	Snapshots  []types.SnapshotSummary `json:"snapshots"`
}

// Process sends a message for direct reasoning outside any workflow.
func (c *Client) Process(ctx context.Context, message string) (*ProcessResult, error) {
	var result ProcessResult
	err := c.do(ctx, http.MethodPost, "/api/v1/agent/process",
		map[string]string{"message": message}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateWorkflow creates and starts a workflow.
func (c *Client) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*types.Workflow, error) {
	var workflow types.Workflow
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", req, &workflow); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// GetWorkflow returns the latest persisted state of a workflow.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*types.WorkflowSnapshot, error) {
	var snapshot types.WorkflowSnapshot
	err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+workflowID, nil, &snapshot)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Suspend asks a running workflow to stop at its next step boundary.
func (c *Client) Suspend(ctx context.Context, workflowID, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/workflows/"+workflowID+"/suspend",
		map[string]string{"reason": reason}, nil)
}

// Resume continues a suspended workflow.
func (c *Client) Resume(ctx context.Context, workflowID string) (*types.Workflow, error) {
	var workflow types.Workflow
	err := c.do(ctx, http.MethodPost, "/api/v1/workflows/"+workflowID+"/resume", nil, &workflow)
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

// ListSnapshots returns the snapshot history of a workflow.
func (c *Client) ListSnapshots(ctx context.Context, workflowID string) ([]types.SnapshotSummary, error) {
	var resp snapshotListResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+workflowID+"/snapshots", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// ListAllSnapshots returns the snapshot history of every workflow.
func (c *Client) ListAllSnapshots(ctx context.Context) ([]types.SnapshotSummary, error) {
	var resp snapshotListResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/workflows/snapshots", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// GetSnapshot returns one specific snapshot version.
func (c *Client) GetSnapshot(ctx context.Context, workflowID string, version int64) (*types.WorkflowSnapshot, error) {
	var snapshot types.WorkflowSnapshot
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/workflows/%s/snapshots/%d", workflowID, version), nil, &snapshot)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
