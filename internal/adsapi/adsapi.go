// SPDX-License-Identifier: Apache-2.0

// Package adsapi is the opaque bridge to the external advertising platform.
// The pipeline only knows the {tool, arguments} to {success, data|error}
// contract; everything about the wire protocol stays behind the Caller
// interface.
package adsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
)

// Caller performs one remote tool invocation. Implementations must respect
// context cancellation; the pipeline treats a timed-out call as failed with
// unknown remote effect.
type Caller interface {
	Call(ctx context.Context, tool string, arguments map[string]interface{}) (map[string]interface{}, error)
}

// Client talks JSON over HTTP to the platform bridge endpoint.
type Client struct {
	baseURL   string
	authToken string
	HTTP      *http.Client
}

// NewClient builds a client from the policy's remote config. The configured
// timeout bounds every call.
func NewClient(cfg policy.RemoteConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.Endpoint, "/"),
		authToken: cfg.AuthToken,
		HTTP:      &http.Client{Timeout: cfg.Timeout()},
	}
}

type callRequest struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

type callResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   string                 `json:"error"`
}

// Call posts one tool invocation and returns the platform's response data.
func (c *Client) Call(ctx context.Context, tool string, arguments map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(callRequest{Tool: tool, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("error encoding call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error building call request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling ads api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ads api returned %d", resp.StatusCode)
	}

	var out callResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("error decoding call response: %w", err)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "unspecified platform error"
		}
		return nil, fmt.Errorf("ads api error: %s", out.Error)
	}
	return out.Data, nil
}
