// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/muster/gate"
	"github.com/hashicorp/muster/stream"
	"github.com/hashicorp/muster/structs"
)

const gateHookName = "gate"

// gateHook registers the session's rendezvous gate for the session's
// lifetime and publishes an event when the gate opens. It is only installed
// when gating is enabled for the session.
type gateHook struct {
	logger hclog.Logger
	gates  *gate.Registry
	events *stream.Publisher

	sessionID string
	expected  int
	percent   int
	timeout   time.Duration
}

func newGateHook(logger hclog.Logger, gates *gate.Registry, events *stream.Publisher,
	sessionID string, expected, percent int, timeout time.Duration) *gateHook {

	h := &gateHook{
		gates:     gates,
		events:    events,
		sessionID: sessionID,
		expected:  expected,
		percent:   percent,
		timeout:   timeout,
	}
	h.logger = logger.Named(gateHookName)
	return h
}

func (*gateHook) Name() string {
	return gateHookName
}

func (h *gateHook) Prerun() error {
	g := gate.New(h.logger, h.expected, h.percent, h.timeout)
	h.gates.OnSessionStart(h.sessionID, g)
	go h.watchOpen(g)
	return nil
}

// Postrun deregisters the gate, force-opening it so no waiter is stranded.
// The registry treats deregistering an unknown session as a no-op, so
// Postrun is safe even when Prerun never ran.
func (h *gateHook) Postrun() error {
	h.gates.OnSessionEnd(h.sessionID)
	return nil
}

// watchOpen publishes the open event once the gate opens. Every gate opens
// eventually because Postrun force-opens it, so the goroutine always exits.
func (h *gateHook) watchOpen(g *gate.Gate) {
	<-g.WaitCh()

	status := g.Status()
	etype := structs.TypeGateOpened
	if status.ReadyCount < status.Required {
		etype = structs.TypeGateForcedOpen
	}

	h.events.Publish(structs.TopicGate, etype, h.sessionID, nil, &structs.GateEvent{
		SessionID: h.sessionID,
		Gate:      status,
	})
}
