// ABOUTME: Minimal JSON client for the crewdeck-gateway HTTP API
// ABOUTME: Decodes the gateway's error envelope into apiError

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crewdeck/crewdeck-gateway/internal/gateway"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx response from the gateway.
type apiError struct {
	Status  int
	Message string
	Details json.RawMessage
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%d: %s", e.Status, e.Message)
	if len(e.Details) > 0 && string(e.Details) != "null" {
		msg += " " + string(e.Details)
	}
	return msg
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error   string          `json:"error"`
			Details json.RawMessage `json:"details"`
		}
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
			apiErr.Details = envelope.Details
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		// Health responses carry a body worth decoding even when degraded
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *apiClient) listAgents(ctx context.Context) ([]gateway.AgentResponse, error) {
	var agents []gateway.AgentResponse
	return agents, c.do(ctx, http.MethodGet, "/api/agents", nil, &agents)
}

func (c *apiClient) getAgent(ctx context.Context, id string) (*gateway.AgentResponse, error) {
	var agent gateway.AgentResponse
	if err := c.do(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(id), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (c *apiClient) createAgent(ctx context.Context, body map[string]any) (*gateway.AgentResponse, error) {
	var agent gateway.AgentResponse
	if err := c.do(ctx, http.MethodPost, "/api/agents", body, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (c *apiClient) deleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/agents/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) executeAgent(ctx context.Context, id string) (*gateway.ExecutionResponse, error) {
	var exec gateway.ExecutionResponse
	if err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(id)+"/execute", nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *apiClient) getExecution(ctx context.Context, id string) (*gateway.ExecutionResponse, error) {
	var exec gateway.ExecutionResponse
	if err := c.do(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(id), nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *apiClient) listExecutions(ctx context.Context, limit int) ([]gateway.ExecutionResponse, error) {
	path := "/api/executions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var execs []gateway.ExecutionResponse
	return execs, c.do(ctx, http.MethodGet, path, nil, &execs)
}

func (c *apiClient) cancelExecution(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/executions/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *apiClient) executionStatus(ctx context.Context) (*gateway.QueueStatusResponse, error) {
	var status gateway.QueueStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/executions/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// health returns the decoded body even when the gateway reports degraded.
func (c *apiClient) health(ctx context.Context) (*gateway.HealthResponse, error) {
	var health gateway.HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &health)
	var apiErr *apiError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable) {
		return nil, err
	}
	return &health, err
}
