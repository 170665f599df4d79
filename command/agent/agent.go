// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"context"
	"io"
	"runtime"
	"strconv"
	"sync"

	metrics "github.com/hashicorp/go-metrics/compat"

	log "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/muster/captcha"
	"github.com/hashicorp/muster/gate"
	"github.com/hashicorp/muster/session"
	"github.com/hashicorp/muster/stream"
	"github.com/hashicorp/muster/structs"
)

// Agent is a long running daemon that hosts the session manager, the gate
// registry, the challenge answer cache and the event broker, and exposes
// them over the HTTP API.
type Agent struct {
	config     *Config
	configLock sync.Mutex

	logger     log.InterceptLogger
	httpLogger log.Logger
	logOutput  io.Writer

	// sessions owns every live session runner.
	sessions *session.Manager

	// gates is the rendezvous gate registry shared between the session
	// runners and the worker facing API.
	gates *gate.Registry

	// captcha is the challenge answer cache. It is nil when the captcha
	// block is disabled.
	captcha *captcha.Cache

	// broker fans agent events out to API subscribers. events stamps them
	// with the agent wide index sequence.
	broker       *stream.EventBroker
	brokerCancel context.CancelFunc
	events       *stream.Publisher

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	InmemSink *metrics.InmemSink
}

// NewAgent is used to create a new agent with the given configuration, which
// must have been validated by the caller.
func NewAgent(config *Config, logger log.InterceptLogger, logOutput io.Writer, inmem *metrics.InmemSink) (*Agent, error) {
	a := &Agent{
		config:     config,
		logOutput:  logOutput,
		shutdownCh: make(chan struct{}),
		InmemSink:  inmem,
	}

	// Create the loggers
	a.logger = logger
	a.httpLogger = a.logger.ResetNamed("http")

	bufferSize := 100
	if config.EventBufferSize != nil {
		bufferSize = *config.EventBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.brokerCancel = cancel
	a.broker = stream.NewEventBroker(ctx, stream.EventBrokerCfg{
		EventBufferSize: bufferSize,
		Logger:          a.logger.Named("event_broker"),
	})
	a.events = stream.NewPublisher(a.broker)

	a.gates = gate.NewRegistry(a.logger)

	a.sessions = session.NewManager(&session.ManagerConfig{
		Logger:            a.logger,
		Gates:             a.gates,
		Events:            a.events,
		DefaultGateConfig: config.Gate,
		DefaultBanConfig:  config.Ban,
	})

	if config.Captcha != nil && config.Captcha.Enabled != nil && *config.Captcha.Enabled {
		maxEntries := 0
		if config.Captcha.MaxEntries != nil {
			maxEntries = *config.Captcha.MaxEntries
		}
		a.captcha = captcha.NewCache(a.logger, maxEntries)
	}

	return a, nil
}

// Sessions returns the session manager.
func (a *Agent) Sessions() *session.Manager {
	return a.sessions
}

// Gates returns the gate registry.
func (a *Agent) Gates() *gate.Registry {
	return a.gates
}

// Captcha returns the challenge answer cache or nil when caching is
// disabled.
func (a *Agent) Captcha() *captcha.Cache {
	return a.captcha
}

// EventBroker returns the agent's event broker.
func (a *Agent) EventBroker() *stream.EventBroker {
	return a.broker
}

// PublishEvent hands an event to the agent's subscribers using the agent
// wide index sequence.
func (a *Agent) PublishEvent(topic structs.Topic, etype, key string, filterKeys []string, payload interface{}) {
	a.events.Publish(topic, etype, key, filterKeys, payload)
}

// Shutdown is used to terminate the agent.
func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()

	if a.shutdown {
		return nil
	}

	a.logger.Info("requesting shutdown")

	// Ending the sessions force-opens their gates so no worker stays
	// parked behind a gate across agent exit.
	a.sessions.Shutdown()
	a.gates.Shutdown()
	a.brokerCancel()

	if a.captcha != nil {
		a.captcha.ClearAll()
	}

	a.logger.Info("shutdown complete")
	a.shutdown = true
	close(a.shutdownCh)
	return nil
}

// Stats is used to return statistics for debugging and insight for various
// sub-systems.
func (a *Agent) Stats() map[string]map[string]string {
	stats := map[string]map[string]string{
		"muster": {
			"sessions": strconv.Itoa(a.sessions.Count()),
			"gates":    strconv.Itoa(a.gates.Count()),
			"version":  a.config.Version.VersionNumber(),
		},
		"runtime": runtimeStats(),
	}
	if a.captcha != nil {
		total := a.captcha.TotalStats()
		stats["captcha"] = map[string]string{
			"targets": strconv.Itoa(len(a.captcha.Targets())),
			"entries": strconv.Itoa(total.Size),
			"hits":    strconv.FormatUint(total.Hits, 10),
			"misses":  strconv.FormatUint(total.Misses, 10),
		}
	}
	return stats
}

// GetConfig returns the current agent configuration.
func (a *Agent) GetConfig() *Config {
	a.configLock.Lock()
	defer a.configLock.Unlock()

	return a.config
}

func runtimeStats() map[string]string {
	return map[string]string{
		"kernel.name": runtime.GOOS,
		"arch":        runtime.GOARCH,
		"version":     runtime.Version(),
		"max_procs":   strconv.FormatInt(int64(runtime.GOMAXPROCS(0)), 10),
		"goroutines":  strconv.FormatInt(int64(runtime.NumGoroutine()), 10),
		"cpu_count":   strconv.FormatInt(int64(runtime.NumCPU()), 10),
	}
}
