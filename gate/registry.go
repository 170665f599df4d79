// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"context"
	"sync"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/muster/structs"
)

// Registry tracks the gate of every live session and fronts them with a
// permissive API for workers. Lookups for sessions without a gate behave as
// if the gate were already open, so a worker can never deadlock on a session
// that does not gate, already ended or was never registered.
//
// A Registry belongs to the agent that created it. Sessions register their
// gate on start and deregister on end.
type Registry struct {
	logger hclog.Logger

	lock  sync.RWMutex
	gates map[string]*Gate
}

// NewRegistry creates a Registry with no registered gates.
func NewRegistry(logger hclog.Logger) *Registry {
	return &Registry{
		logger: logger.Named("gate_registry"),
		gates:  make(map[string]*Gate),
	}
}

// OnSessionStart registers the gate for a starting session. Re-registering a
// session force-opens the gate it leaves behind so its waiters are not
// stranded.
func (r *Registry) OnSessionStart(sessionID string, g *Gate) {
	r.lock.Lock()
	old, existed := r.gates[sessionID]
	r.gates[sessionID] = g
	size := len(r.gates)
	r.lock.Unlock()

	if existed {
		r.logger.Warn("replacing gate for already registered session", "session_id", sessionID)
		old.ForceOpen()
	}

	metrics.SetGauge([]string{"muster", "gate", "registry", "size"}, float32(size))
	r.logger.Debug("gate registered", "session_id", sessionID,
		"expected", g.Expected(), "required", g.Required())
}

// OnSessionEnd force-opens and removes the session's gate. Calling it for an
// unknown session is a no-op.
func (r *Registry) OnSessionEnd(sessionID string) {
	r.lock.Lock()
	g, ok := r.gates[sessionID]
	delete(r.gates, sessionID)
	size := len(r.gates)
	r.lock.Unlock()

	if !ok {
		return
	}

	g.ForceOpen()
	metrics.SetGauge([]string{"muster", "gate", "registry", "size"}, float32(size))
	r.logger.Debug("gate deregistered", "session_id", sessionID)
}

// Get returns the gate registered for the session, if any.
func (r *Registry) Get(sessionID string) (*Gate, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	g, ok := r.gates[sessionID]
	return g, ok
}

// Count returns the number of registered gates.
func (r *Registry) Count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.gates)
}

// MarkReady records the worker as ready on the session's gate. It returns
// true only when the report took the gate from closed to open. Without a
// gate the report is dropped and it returns false.
func (r *Registry) MarkReady(sessionID, workerID string) bool {
	g, ok := r.Get(sessionID)
	if !ok {
		return false
	}
	return g.MarkReady(workerID)
}

// IsReady reports whether the worker has been recorded as ready. Without a
// gate every worker counts as ready.
func (r *Registry) IsReady(sessionID, workerID string) bool {
	g, ok := r.Get(sessionID)
	if !ok {
		return true
	}
	return g.IsReady(workerID)
}

// Wait blocks the worker on the session's gate for at most timeout, falling
// back to the gate's configured timeout when non-positive. Without a gate it
// returns true immediately.
func (r *Registry) Wait(ctx context.Context, sessionID string, timeout time.Duration) bool {
	g, ok := r.Get(sessionID)
	if !ok {
		return true
	}
	return g.Wait(ctx, timeout)
}

// IsEnabled reports whether the session has a registered gate.
func (r *Registry) IsEnabled(sessionID string) bool {
	_, ok := r.Get(sessionID)
	return ok
}

// IsOpen reports whether the session's gate has opened. Without a gate it
// reports true.
func (r *Registry) IsOpen(sessionID string) bool {
	g, ok := r.Get(sessionID)
	if !ok {
		return true
	}
	return g.IsOpen()
}

// ReadyCount returns the number of distinct ready workers, or zero without
// a gate.
func (r *Registry) ReadyCount(sessionID string) int {
	g, ok := r.Get(sessionID)
	if !ok {
		return 0
	}
	return g.ReadyCount()
}

// Status returns a point in time view of the session's gate. Without a gate
// it returns the permissive view: not enabled, open, nobody ready.
func (r *Registry) Status(sessionID string) *structs.GateStatus {
	g, ok := r.Get(sessionID)
	if !ok {
		return &structs.GateStatus{
			Enabled: false,
			Open:    true,
		}
	}
	return g.Status()
}

// Shutdown force-opens every registered gate and clears the registry. It is
// called when the agent shuts down so no worker stays blocked behind a gate
// that will never meet its threshold.
func (r *Registry) Shutdown() {
	r.lock.Lock()
	gates := r.gates
	r.gates = make(map[string]*Gate)
	r.lock.Unlock()

	for sessionID, g := range gates {
		if g.ForceOpen() {
			r.logger.Debug("gate force-opened on shutdown", "session_id", sessionID)
		}
	}
	metrics.SetGauge([]string{"muster", "gate", "registry", "size"}, 0)
}
