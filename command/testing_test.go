// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"testing"

	"github.com/hashicorp/muster/api"
	"github.com/hashicorp/muster/command/agent"
)

// testServer starts an in-process agent in dev mode and returns it along
// with an API client pointed at it and the agent's HTTP address.
func testServer(t *testing.T, cb func(*agent.Config)) (*agent.TestAgent, *api.Client, string) {
	srv := agent.NewTestAgent(t, t.Name(), cb)
	t.Cleanup(srv.Shutdown)

	return srv, srv.Client(), srv.HTTPAddr()
}

// testSessionSpec returns a minimal valid session spec for CLI tests.
func testSessionSpec(name string) *api.SessionSpec {
	return &api.SessionSpec{
		Name:            name,
		Target:          "shop.example.com:443",
		ExpectedWorkers: 5,
		Accounts:        []string{"acct-1", "acct-2"},
		Proxies:         []string{"10.0.0.1:1080"},
	}
}
