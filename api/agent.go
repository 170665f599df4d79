// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"encoding/json"
	"net/http"
)

// Agent encapsulates an API client which talks to the agent endpoints.
type Agent struct {
	client *Client
}

// Agent returns a new agent which can be used to query
// the agent-specific endpoints.
func (c *Client) Agent() *Agent {
	return &Agent{client: c}
}

// Self is used to query the /v1/agent/self endpoint and returns the
// agent's resolved configuration plus runtime statistics.
func (a *Agent) Self() (*AgentSelf, error) {
	var out AgentSelf
	if err := a.client.query("/v1/agent/self", &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health queries the agent's health.
func (a *Agent) Health() (*AgentHealthResponse, error) {
	req, err := a.client.newRequest("GET", "/v1/agent/health")
	if err != nil {
		return nil, err
	}

	resp, err := a.client.doRequest(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A healthy agent responds 200, anything else comes with an error
	// body that is surfaced through the returned error.
	var health AgentHealthResponse
	err = json.NewDecoder(resp.Body).Decode(&health)
	if err == nil && resp.StatusCode == http.StatusOK {
		return &health, nil
	}

	return nil, NewUnexpectedResponseError(
		FromStatusCode(resp.StatusCode),
		WithExpectedStatuses([]int{http.StatusOK}),
		WithError(err))
}

// AgentSelf represents the agent's view of itself: resolved configuration
// plus runtime statistics.
type AgentSelf struct {
	Config map[string]interface{}       `json:"config"`
	Stats  map[string]map[string]string `json:"stats"`
}

// AgentHealthResponse is the response from the Health endpoint.
type AgentHealthResponse struct {
	Agent *AgentHealth `json:"agent,omitempty"`
}

// AgentHealth describes the agent's healthiness.
type AgentHealth struct {
	// Ok is whether the agent is healthy.
	Ok bool `json:"ok"`

	// Message describes why the agent is unhealthy, if any.
	Message string `json:"message,omitempty"`
}
