// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"fmt"
	"io"
	"math/rand"
	"testing"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/muster/api"
	"github.com/hashicorp/muster/ci"
	"github.com/hashicorp/muster/helper/testlog"
)

// TestAgent encapsulates an Agent with a default configuration and startup.
// Its HTTP API binds an unused localhost port so tests can run in parallel.
type TestAgent struct {
	T testing.TB

	// Name is an optional name of the agent.
	Name string

	// ConfigCallback allows modification of the configuration before the
	// agent is started.
	ConfigCallback func(*Config)

	// Config is the agent configuration. If nil a dev mode configuration is
	// built before start.
	Config *Config

	// LogOutput is the sink for the logs. If nil, logs are written to the
	// test log.
	LogOutput io.Writer

	// Agent is the embedded Muster agent. It is valid after Start has been
	// called.
	Agent *Agent

	// Server is the agent's HTTP API.
	Server *HTTPServer

	shutdown bool
}

// NewTestAgent returns a started agent with the given name and configuration
// callback. The caller must call Shutdown when finished.
func NewTestAgent(t testing.TB, name string, configCallback func(*Config)) *TestAgent {
	a := &TestAgent{
		T:              t,
		Name:           name,
		ConfigCallback: configCallback,
	}
	a.Start()
	return a
}

// Start starts a test agent.
func (a *TestAgent) Start() *TestAgent {
	if a.Agent != nil {
		a.T.Fatalf("TestAgent already started")
	}
	if a.Config == nil {
		a.Config = a.config()
	}

	// The grabbed port may be snatched by another process before the
	// listener comes up, so retry with a fresh one.
	for i := 10; i >= 0; i-- {
		a.Config.BindAddr = fmt.Sprintf("127.0.0.1:%d", ci.PortAllocator.One())

		agent, err := a.start()
		if err == nil {
			a.Agent = agent
			break
		} else if i == 0 {
			a.T.Fatalf("%s: Error starting agent: %v", a.Name, err)
		} else {
			wait := time.Duration(rand.Int31n(2000)) * time.Millisecond
			a.T.Logf("%s: retrying in %v", a.Name, wait)
			time.Sleep(wait)
		}
	}

	return a
}

func (a *TestAgent) start() (*Agent, error) {
	if a.LogOutput == nil {
		a.LogOutput = testlog.NewWriter(a.T)
	}

	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.NewGlobal(metrics.DefaultConfig("muster"), inm)

	logger := testlog.HCLogger(a.T)

	agent, err := NewAgent(a.Config, logger, a.LogOutput, inm)
	if err != nil {
		return nil, err
	}

	// Setup the HTTP server
	http, err := NewHTTPServer(agent, a.Config)
	if err != nil {
		agent.Shutdown()
		return nil, err
	}

	a.Server = http
	return agent, nil
}

// Shutdown stops the agent and its HTTP API.
func (a *TestAgent) Shutdown() {
	if a.shutdown {
		return
	}
	a.shutdown = true

	if a.Server != nil {
		a.Server.Shutdown()
	}
	if a.Agent != nil {
		a.Agent.Shutdown()
	}
}

// HTTPAddr returns the address the agent's HTTP API is bound to, with the
// scheme prepended.
func (a *TestAgent) HTTPAddr() string {
	return "http://" + a.Server.Addr
}

// Client returns an api client that talks to this agent.
func (a *TestAgent) Client() *api.Client {
	conf := api.DefaultConfig()
	conf.Address = a.HTTPAddr()
	c, err := api.NewClient(conf)
	if err != nil {
		a.T.Fatalf("Error creating client: %v", err)
	}
	return c
}

func (a *TestAgent) config() *Config {
	conf := DevConfig()
	if a.ConfigCallback != nil {
		a.ConfigCallback(conf)
	}
	return conf
}
