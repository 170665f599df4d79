// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"errors"
	"net/url"
	"time"
)

const (
	// SessionStatusPending is the initial status of a registered session
	// before its runner has started.
	SessionStatusPending = "pending"

	// SessionStatusRunning means the session runner is live and workers
	// may report ready.
	SessionStatusRunning = "running"

	// SessionStatusComplete means the session ended normally.
	SessionStatusComplete = "complete"

	// SessionStatusFailed means the session runner gave up.
	SessionStatusFailed = "failed"
)

// Sessions is used to query the session endpoints.
type Sessions struct {
	client *Client
}

// Sessions returns a new handle on the sessions.
func (c *Client) Sessions() *Sessions {
	return &Sessions{client: c}
}

// List is used to dump all of the sessions.
func (s *Sessions) List(q *QueryOptions) ([]*SessionListStub, error) {
	var resp []*SessionListStub
	if err := s.client.query("/v1/sessions", &resp, q); err != nil {
		return nil, err
	}
	return resp, nil
}

// Create registers a session with the agent and starts its runner. The
// returned session reflects the registration time view; poll Info for the
// running status.
func (s *Sessions) Create(spec *SessionSpec, w *WriteOptions) (*Session, error) {
	if spec == nil {
		return nil, errors.New("missing session spec")
	}
	var resp Session
	if err := s.client.write("/v1/sessions", spec, &resp, w); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Info is used to query a single session by ID.
func (s *Sessions) Info(sessionID string, q *QueryOptions) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("missing session ID")
	}
	var resp Session
	if err := s.client.query("/v1/session/"+url.PathEscape(sessionID), &resp, q); err != nil {
		return nil, err
	}
	return &resp, nil
}

// End stops a session. Ending a session forces its gate open so no worker
// stays parked behind a gate that can never fill.
func (s *Sessions) End(sessionID string, w *WriteOptions) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("missing session ID")
	}
	var resp Session
	if err := s.client.delete("/v1/session/"+url.PathEscape(sessionID), &resp, w); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Gate queries the status of a session's rendezvous gate. Unknown sessions
// report a disabled, open gate rather than an error, so a worker that
// outlives its session is never blocked.
func (s *Sessions) Gate(sessionID string, q *QueryOptions) (*GateStatus, error) {
	if sessionID == "" {
		return nil, errors.New("missing session ID")
	}
	var resp GateStatus
	if err := s.client.query("/v1/session/"+url.PathEscape(sessionID)+"/gate", &resp, q); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GateWait blocks until the session's gate opens, the timeout elapses or
// the context attached to q is canceled. A zero timeout waits with the
// gate's configured timeout. Released is false when the wait gave up
// before the gate opened.
func (s *Sessions) GateWait(sessionID string, timeout time.Duration, q *QueryOptions) (*GateWaitResponse, error) {
	if sessionID == "" {
		return nil, errors.New("missing session ID")
	}

	path := "/v1/session/" + url.PathEscape(sessionID) + "/gate/wait"
	if timeout > 0 {
		path += "?timeout=" + url.QueryEscape(timeout.String())
	}

	var resp GateWaitResponse
	if err := s.client.query(path, &resp, q); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkReady records a worker as ready behind the session's gate. The
// report that fills the threshold opens the gate and is the only one
// returned with Transitioned set.
func (s *Sessions) MarkReady(sessionID, workerID string, w *WriteOptions) (*WorkerReadyResponse, error) {
	if sessionID == "" {
		return nil, errors.New("missing session ID")
	}
	if workerID == "" {
		return nil, errors.New("missing worker ID")
	}

	var resp WorkerReadyResponse
	err := s.client.write(workerPath(sessionID, workerID)+"/ready", nil, &resp, w)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadyStatus queries whether a worker already reported ready.
func (s *Sessions) ReadyStatus(sessionID, workerID string, q *QueryOptions) (*WorkerReadyResponse, error) {
	if sessionID == "" {
		return nil, errors.New("missing session ID")
	}
	if workerID == "" {
		return nil, errors.New("missing worker ID")
	}

	var resp WorkerReadyResponse
	if err := s.client.query(workerPath(sessionID, workerID)+"/ready", &resp, q); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Disconnect reports a worker disconnect so the agent can classify it
// against the session's ban patterns. Classification happens
// asynchronously; Accepted only acknowledges the report was queued.
func (s *Sessions) Disconnect(sessionID, workerID string, req *WorkerDisconnectRequest, w *WriteOptions) (*WorkerDisconnectResponse, error) {
	if sessionID == "" {
		return nil, errors.New("missing session ID")
	}
	if workerID == "" {
		return nil, errors.New("missing worker ID")
	}
	if req == nil {
		req = &WorkerDisconnectRequest{}
	}

	var resp WorkerDisconnectResponse
	err := s.client.write(workerPath(sessionID, workerID)+"/disconnect", req, &resp, w)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func workerPath(sessionID, workerID string) string {
	return "/v1/session/" + url.PathEscape(sessionID) + "/worker/" + url.PathEscape(workerID)
}

// SessionSpec describes a session to be registered with the agent: a fleet
// of workers engaging a single target, plus optional per-session overrides
// of the agent's gate, ban and captcha defaults.
type SessionSpec struct {
	// ID uniquely identifies the session. Generated when left empty.
	ID string

	// Name is a human friendly label for the session. Defaults to the ID.
	Name string

	// Target is the host:port the session's workers engage.
	Target string

	// ExpectedWorkers is the number of workers provisioned for the
	// session. The gate threshold is derived from it.
	ExpectedWorkers int

	// Accounts are the account names the workers start out with and
	// ReserveAccounts is an ordered list of replacements activated when
	// an active account gets banned.
	Accounts        []string
	ReserveAccounts []string

	// Proxies are the egress proxy addresses shared by the workers.
	Proxies []string

	// Gate, Ban and Captcha are partial overrides merged over the agent
	// defaults when the session is registered.
	Gate    *GateConfig
	Ban     *BanConfig
	Captcha *CaptchaConfig
}

// GateConfig is the gate block of a session spec. Fields left nil inherit
// the agent's configured defaults.
type GateConfig struct {
	// Enabled turns threshold gating on for the session.
	Enabled *bool

	// ReadyThresholdPercent is the percentage of expected workers that
	// must report ready before the gate opens, within [1, 100].
	ReadyThresholdPercent *int

	// GateTimeout bounds how long a worker blocks on the gate, as a
	// duration string within [30s, 1h].
	GateTimeout *string
}

// BanConfig is the ban block of a session spec. Fields left nil inherit
// the agent's configured defaults.
type BanConfig struct {
	Enabled              *bool
	BanPatterns          []string
	AddressBanPatterns   []string
	RemoveBannedAccounts *bool
	ReplacementDelayMin  *string
	ReplacementDelayMax  *string
}

// CaptchaConfig is the captcha block of a session spec. Fields left nil
// inherit the agent's configured defaults.
type CaptchaConfig struct {
	Enabled    *bool
	MaxEntries *int
	HashMethod *string
}

// Session is a point in time view of a registered session.
type Session struct {
	ID              string
	Name            string
	Target          string
	Status          string
	ExpectedWorkers int

	// Gate summarizes the session's rendezvous gate.
	Gate *GateStatus

	// Pools summarizes the session's account and proxy pools.
	Pools *PoolStatus

	// BannedAccounts and BannedAddresses count classification verdicts
	// observed so far.
	BannedAccounts  int
	BannedAddresses int

	CreateTime int64
	ModifyTime int64
}

// PoolStatus is a point in time view of a session's account and proxy
// pools.
type PoolStatus struct {
	AccountsActive     int
	AccountsReserve    int
	AccountsBanned     int
	ProxiesAvailable   int
	ProxiesQuarantined int
}

// SessionListStub is the subset of session fields returned by the list
// endpoint.
type SessionListStub struct {
	ID              string
	Name            string
	Target          string
	Status          string
	ExpectedWorkers int
	ReadyWorkers    int
	GateOpen        bool
	CreateTime      int64
	ModifyTime      int64
}

// GateStatus is a point in time view of a session's rendezvous gate.
type GateStatus struct {
	// Enabled is false when the session runs without gating, in which
	// case Open is always true.
	Enabled bool

	// Open reports whether released workers may proceed.
	Open bool

	// Expected is the number of workers the threshold was derived from
	// and Required is the derived threshold itself.
	Expected int
	Required int

	// ReadyCount is the number of distinct workers that reported ready.
	ReadyCount int

	// OpenedAt is the wall clock time the gate opened in unix
	// nanoseconds, or zero while it is still closed.
	OpenedAt int64
}

// WorkerReadyResponse is returned when a worker reports ready.
type WorkerReadyResponse struct {
	SessionID string
	WorkerID  string

	// Ready reports whether the worker is recorded as ready after this
	// call.
	Ready bool

	// Transitioned is true only for the single report that took the gate
	// from closed to open.
	Transitioned bool

	ReadyCount int
	Required   int
	GateOpen   bool
}

// GateWaitResponse is returned when a worker finishes waiting on the gate.
type GateWaitResponse struct {
	SessionID string

	// Released is true when the gate opened within the wait window. A
	// wait that timed out or was canceled reports false.
	Released bool

	// Open reports whether the gate is open now.
	Open bool

	ReadyCount int
}

// WorkerDisconnectRequest reports a worker disconnect for ban
// classification.
type WorkerDisconnectRequest struct {
	// Account is the account the worker was using. Defaults to the
	// worker ID when empty.
	Account string

	// Proxy is the egress proxy address the worker was using, if any.
	Proxy string

	// Message is the disconnect message received from the target.
	Message string
}

// WorkerDisconnectResponse is returned when a worker disconnect was
// reported.
type WorkerDisconnectResponse struct {
	SessionID string
	WorkerID  string

	// Accepted is false when classification is disabled for the session
	// or the report was dropped under load.
	Accepted bool
}
