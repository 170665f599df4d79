// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"
	"github.com/hashicorp/muster/helper"
	"github.com/hashicorp/muster/structs"
)

// Threshold returns the number of ready workers needed to open a gate for
// expected workers at the given percent, rounding up. Threshold(10, 60)
// is 6 and Threshold(3, 50) is 2.
func Threshold(expected, percent int) int {
	return (expected*percent + 99) / 100
}

// Gate is a one shot rendezvous barrier. Workers report ready through
// MarkReady and block on Wait until the ready threshold is met, the gate is
// force-opened or the wait times out. Once open a Gate stays open.
type Gate struct {
	logger hclog.Logger

	expected int
	required int
	timeout  time.Duration

	// ready holds the IDs of workers that reported ready. Insertion is
	// idempotent so a worker retrying its report does not inflate the count.
	lock  sync.Mutex
	ready *set.Set[string]

	// opened flips exactly once. The winner of the CompareAndSwap closes
	// releaseCh, which is how current and future waiters are released.
	opened    atomic.Bool
	openedAt  atomic.Int64
	releaseCh chan struct{}
}

// New creates a Gate for the expected number of workers. The ready threshold
// is derived from thresholdPercent, rounding up. A gate whose derived
// threshold is zero starts out open.
//
// New panics when called with arguments outside their documented ranges, as
// these are validated at the configuration boundary.
func New(logger hclog.Logger, expected, thresholdPercent int, timeout time.Duration) *Gate {
	if expected < 0 {
		panic(fmt.Sprintf("gate: expected workers must not be negative: %d", expected))
	}
	if thresholdPercent < 1 || thresholdPercent > 100 {
		panic(fmt.Sprintf("gate: threshold percent out of range: %d", thresholdPercent))
	}
	if timeout <= 0 {
		panic(fmt.Sprintf("gate: timeout must be positive: %s", timeout))
	}

	g := &Gate{
		logger:    logger.Named("gate"),
		expected:  expected,
		required:  Threshold(expected, thresholdPercent),
		timeout:   timeout,
		ready:     set.New[string](expected),
		releaseCh: make(chan struct{}),
	}

	g.logger.Debug("gate created", "expected", expected,
		"required", g.required, "threshold_percent", thresholdPercent,
		"timeout", timeout)

	if g.required == 0 {
		g.open()
	}
	return g
}

// MarkReady records the worker as ready and opens the gate once the number
// of distinct ready workers reaches the threshold. It returns true only when
// this call took the gate from closed to open, so exactly one report per gate
// observes true. Duplicate reports do not inflate the count and reports
// received after the gate opened cannot change the outcome.
func (g *Gate) MarkReady(worker string) bool {
	g.lock.Lock()
	first := g.ready.Insert(worker)
	count := g.ready.Size()
	g.lock.Unlock()

	if first {
		metrics.IncrCounter([]string{"muster", "gate", "worker_ready"}, 1)
	}
	g.logger.Debug("worker ready", "worker", worker,
		"ready", count, "required", g.required)

	if count >= g.required && g.open() {
		metrics.IncrCounter([]string{"muster", "gate", "open"}, 1)
		g.logger.Info("ready threshold met, releasing workers",
			"ready", count, "required", g.required, "expected", g.expected)
		return true
	}

	return false
}

// Wait blocks until the gate opens, the timeout elapses or ctx is done. A
// non-positive timeout falls back to the gate's configured timeout. It
// returns true when the gate opened within the window and false when the
// worker gave up waiting, either because time ran out or ctx was canceled.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) bool {
	defer metrics.MeasureSince([]string{"muster", "gate", "wait"}, time.Now())

	if g.opened.Load() {
		return true
	}
	if timeout <= 0 {
		timeout = g.timeout
	}

	timer, stop := helper.NewSafeTimer(timeout)
	defer stop()

	select {
	case <-g.releaseCh:
		return true
	case <-timer.C:
		// The gate may open in the same instant the timer fires; the
		// opened flag is the authority on whether a release happened.
		if g.opened.Load() {
			return true
		}
		metrics.IncrCounter([]string{"muster", "gate", "wait_timeout"}, 1)
		g.logger.Warn("gate wait timed out", "timeout", timeout,
			"ready", g.ReadyCount(), "required", g.required)
		return false
	case <-ctx.Done():
		return g.opened.Load()
	}
}

// WaitCh returns the channel the gate closes when it opens, for callers that
// need to select across several conditions.
func (g *Gate) WaitCh() <-chan struct{} {
	return g.releaseCh
}

// ForceOpen releases the gate regardless of the ready count. It returns true
// when this call opened the gate and false when it was already open.
func (g *Gate) ForceOpen() bool {
	if !g.open() {
		return false
	}
	metrics.IncrCounter([]string{"muster", "gate", "force_open"}, 1)
	g.logger.Info("gate forced open", "ready", g.ReadyCount(), "required", g.required)
	return true
}

// open flips the gate exactly once. The CompareAndSwap winner is the only
// caller that closes releaseCh.
func (g *Gate) open() bool {
	if !g.opened.CompareAndSwap(false, true) {
		return false
	}
	g.openedAt.Store(time.Now().UnixNano())
	close(g.releaseCh)
	return true
}

// IsOpen reports whether the gate has opened.
func (g *Gate) IsOpen() bool {
	return g.opened.Load()
}

// IsReady reports whether the worker has been recorded as ready.
func (g *Gate) IsReady(worker string) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.ready.Contains(worker)
}

// ReadyCount returns the number of distinct workers recorded as ready. It
// never decreases.
func (g *Gate) ReadyCount() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.ready.Size()
}

// Expected returns the worker count the gate was created for.
func (g *Gate) Expected() int {
	return g.expected
}

// Required returns the derived ready threshold.
func (g *Gate) Required() int {
	return g.required
}

// Timeout returns the configured maximum wait duration.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Status returns a point in time view of the gate.
func (g *Gate) Status() *structs.GateStatus {
	return &structs.GateStatus{
		Enabled:    true,
		Open:       g.IsOpen(),
		Expected:   g.expected,
		Required:   g.required,
		ReadyCount: g.ReadyCount(),
		OpenedAt:   g.openedAt.Load(),
	}
}
