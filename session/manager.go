// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/muster/gate"
	"github.com/hashicorp/muster/stream"
	"github.com/hashicorp/muster/structs"
	"github.com/hashicorp/muster/structs/config"
)

// ManagerConfig configures a session Manager.
type ManagerConfig struct {
	Logger hclog.Logger

	// Gates is the agent's gate registry. Runners register their gates here
	// and the worker facing API reads through it.
	Gates *gate.Registry

	// Events receives session lifecycle events. It may be nil, in which case
	// events are dropped.
	Events *stream.Publisher

	// DefaultGateConfig and DefaultBanConfig are the agent level defaults
	// that per-session overrides merge over. Nil selects the package
	// defaults.
	DefaultGateConfig *config.GateConfig
	DefaultBanConfig  *config.BanConfig
}

// Manager owns every live session runner of the agent.
type Manager struct {
	logger     hclog.Logger
	baseLogger hclog.Logger

	gates  *gate.Registry
	events *stream.Publisher

	defaultGate *config.GateConfig
	defaultBan  *config.BanConfig

	lock    sync.RWMutex
	runners map[string]*Runner
}

// NewManager creates a session Manager. It panics without a gate registry,
// as wiring one up is the caller's bug, not a runtime condition.
func NewManager(cfg *ManagerConfig) *Manager {
	if cfg.Gates == nil {
		panic("bug: session manager requires a gate registry")
	}

	m := &Manager{
		logger:      cfg.Logger.Named("session_manager"),
		baseLogger:  cfg.Logger,
		gates:       cfg.Gates,
		events:      cfg.Events,
		defaultGate: cfg.DefaultGateConfig,
		defaultBan:  cfg.DefaultBanConfig,
		runners:     make(map[string]*Runner),
	}
	if m.defaultGate == nil {
		m.defaultGate = config.DefaultGateConfig()
	}
	if m.defaultBan == nil {
		m.defaultBan = config.DefaultBanConfig()
	}
	return m
}

// CreateSession canonicalizes and validates the spec, merges its config
// overrides over the agent defaults and starts a runner for it. The caller's
// spec is not mutated; the generated ID is returned in the session view.
func (m *Manager) CreateSession(spec *structs.SessionSpec) (*structs.Session, error) {
	if spec == nil {
		return nil, fmt.Errorf("session spec must not be nil")
	}

	spec = spec.Copy()
	spec.Canonicalize()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session spec: %w", err)
	}

	gateCfg := m.defaultGate.Merge(spec.Gate)
	if err := gateCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate config: %w", err)
	}

	banCfg := m.defaultBan.Merge(spec.Ban)
	if err := banCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ban config: %w", err)
	}

	m.lock.Lock()
	if _, exists := m.runners[spec.ID]; exists {
		m.lock.Unlock()
		return nil, fmt.Errorf("%w: %s", structs.ErrSessionExists, spec.ID)
	}

	runner := newRunner(&runnerConfig{
		Logger:     m.baseLogger,
		Spec:       spec,
		GateConfig: gateCfg,
		BanConfig:  banCfg,
		Gates:      m.gates,
		Events:     m.events,
	})
	m.runners[spec.ID] = runner
	size := len(m.runners)
	m.lock.Unlock()

	go runner.Run()

	metrics.SetGauge([]string{"muster", "session", "active"}, float32(size))
	m.logger.Info("session created", "session_id", spec.ID, "name", spec.Name,
		"target", spec.Target, "expected_workers", spec.ExpectedWorkers)

	return runner.Session(), nil
}

// EndSession ends the session, waits for its runner to finish and removes
// it. The returned session carries the final status.
func (m *Manager) EndSession(id string) (*structs.Session, error) {
	m.lock.Lock()
	runner, ok := m.runners[id]
	if ok {
		delete(m.runners, id)
	}
	size := len(m.runners)
	m.lock.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", structs.ErrSessionNotFound, id)
	}

	runner.Stop()
	<-runner.WaitCh()

	metrics.SetGauge([]string{"muster", "session", "active"}, float32(size))
	m.logger.Info("session ended", "session_id", id)

	return runner.Session(), nil
}

// Session returns a point in time view of the session.
func (m *Manager) Session(id string) (*structs.Session, error) {
	runner, ok := m.runner(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", structs.ErrSessionNotFound, id)
	}
	return runner.Session(), nil
}

// Runner returns the live runner for the session.
func (m *Manager) Runner(id string) (*Runner, bool) {
	return m.runner(id)
}

func (m *Manager) runner(id string) (*Runner, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	r, ok := m.runners[id]
	return r, ok
}

// ListSessions returns stubs for every live session ordered by create time,
// oldest first, with the ID as tie breaker.
func (m *Manager) ListSessions() []*structs.SessionListStub {
	m.lock.RLock()
	runners := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.lock.RUnlock()

	stubs := make([]*structs.SessionListStub, 0, len(runners))
	for _, r := range runners {
		stubs = append(stubs, r.Session().Stub())
	}
	slices.SortFunc(stubs, func(a, b *structs.SessionListStub) int {
		if c := cmp.Compare(a.CreateTime, b.CreateTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return stubs
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.runners)
}

// Shutdown ends every live session and waits for their runners. Runners stop
// their goroutines and force-open their gates, so no worker stays blocked
// behind a gate across agent exit.
func (m *Manager) Shutdown() {
	m.lock.Lock()
	runners := m.runners
	m.runners = make(map[string]*Runner)
	m.lock.Unlock()

	for _, r := range runners {
		r.Shutdown()
	}
	for _, r := range runners {
		<-r.WaitCh()
	}

	metrics.SetGauge([]string{"muster", "session", "active"}, 0)
	m.logger.Info("session manager shut down", "sessions_ended", len(runners))
}
