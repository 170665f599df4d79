// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"net/http"
)

func (s *HTTPServer) AgentSelfRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	self := agentSelf{
		Config: s.agent.GetConfig().Copy(),
		Stats:  s.agent.Stats(),
	}
	return self, nil
}

type agentSelf struct {
	Config *Config                      `json:"config"`
	Stats  map[string]map[string]string `json:"stats"`
}

func (s *HTTPServer) HealthRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	// The agent serves requests as long as its subsystems are wired up, so
	// reaching the handler at all means healthy.
	health := healthResponse{
		Agent: &healthResponseAgent{
			Ok:      true,
			Message: "ok",
		},
	}
	return &health, nil
}

type healthResponse struct {
	Agent *healthResponseAgent `json:"agent,omitempty"`
}

type healthResponseAgent struct {
	Ok      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
