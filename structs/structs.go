// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package structs holds the domain objects shared by the session manager,
// the HTTP agent and the api client.
package structs

import (
	"fmt"
	"net"
	"slices"

	"github.com/hashicorp/go-msgpack/codec"
	uuidparse "github.com/hashicorp/go-uuid"
	"github.com/hashicorp/muster/helper/uuid"
	"github.com/hashicorp/muster/structs/config"
)

var (
	// JsonHandle and JsonHandlePretty are the codec handles used by the HTTP
	// API to encode responses. The pretty handle adds indents for easier
	// human consumption.
	JsonHandle = &codec.JsonHandle{
		HTMLCharsAsIs: true,
	}
	JsonHandlePretty = &codec.JsonHandle{
		HTMLCharsAsIs: true,
		Indent:        4,
	}
)

const (
	// SessionStatusPending is the initial status of a registered session
	// before its runner has started.
	SessionStatusPending = "pending"

	// SessionStatusRunning means the session runner is live and workers may
	// report ready.
	SessionStatusRunning = "running"

	// SessionStatusComplete means the session ended normally.
	SessionStatusComplete = "complete"

	// SessionStatusFailed means the session runner gave up, for example when
	// a lifecycle hook returned an error.
	SessionStatusFailed = "failed"
)

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

	// ExpectedWorkers is the number of workers provisioned for the session.
	// The gate threshold is derived from it.
	ExpectedWorkers int

	// Accounts are the account names the workers start out with and
	// ReserveAccounts is an ordered list of replacements activated when an
	// active account gets banned.
	Accounts        []string
	ReserveAccounts []string

	// Proxies are the egress proxy addresses shared by the workers.
	Proxies []string

	// Gate, Ban and Captcha are partial overrides merged over the agent
	// defaults when the session is registered.
	Gate    *config.GateConfig
	Ban     *config.BanConfig
	Captcha *config.CaptchaConfig
}

func (s *SessionSpec) Copy() *SessionSpec {
	if s == nil {
		return nil
	}
	ns := *s
	ns.Accounts = slices.Clone(s.Accounts)
	ns.ReserveAccounts = slices.Clone(s.ReserveAccounts)
	ns.Proxies = slices.Clone(s.Proxies)
	ns.Gate = s.Gate.Copy()
	ns.Ban = s.Ban.Copy()
	ns.Captcha = s.Captcha.Copy()
	return &ns
}

// Canonicalize fills in defaulted fields. It must be called before Validate.
func (s *SessionSpec) Canonicalize() {
	if s.ID == "" {
		s.ID = uuid.Generate()
	}
	if s.Name == "" {
		s.Name = s.ID[:8]
	}
}

// Validate checks the scalar fields of the spec. The config override blocks
// are validated after merging with the agent defaults, not here, so that a
// spec may set a single field of a block.
func (s *SessionSpec) Validate() error {
	if s == nil {
		return fmt.Errorf("session spec must not be nil")
	}

	if s.ID == "" {
		return fmt.Errorf("session ID must be set")
	}
	if _, err := uuidparse.ParseUUID(s.ID); err != nil {
		return fmt.Errorf("session ID must be a valid UUID: %w", err)
	}

	if s.Target == "" {
		return fmt.Errorf("session target must be set")
	}
	if _, _, err := net.SplitHostPort(s.Target); err != nil {
		return fmt.Errorf("session target must be host:port: %w", err)
	}

	if s.ExpectedWorkers < 0 {
		return fmt.Errorf("expected workers must be >= 0 but found %d", s.ExpectedWorkers)
	}

	return nil
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

// PoolStatus is a point in time view of a session's account and proxy pools.
type PoolStatus struct {
	AccountsActive     int
	AccountsReserve    int
	AccountsBanned     int
	ProxiesAvailable   int
	ProxiesQuarantined int
}

// Stub returns the list view of the session.
func (s *Session) Stub() *SessionListStub {
	stub := &SessionListStub{
		ID:              s.ID,
		Name:            s.Name,
		Target:          s.Target,
		Status:          s.Status,
		ExpectedWorkers: s.ExpectedWorkers,
		CreateTime:      s.CreateTime,
		ModifyTime:      s.ModifyTime,
	}
	if s.Gate != nil {
		stub.GateOpen = s.Gate.Open
		stub.ReadyWorkers = s.Gate.ReadyCount
	}
	return stub
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
	// Enabled is false when the session runs without gating, in which case
	// Open is always true.
	Enabled bool

	// Open reports whether released workers may proceed.
	Open bool

	// Expected is the number of workers the threshold was derived from and
	// Required is the derived threshold itself.
	Expected int
	Required int

	// ReadyCount is the number of distinct workers that reported ready.
	ReadyCount int

	// OpenedAt is the wall clock time the gate opened in unix nanoseconds,
	// or zero while it is still closed.
	OpenedAt int64
}

// WorkerReadyResponse is returned when a worker reports ready.
type WorkerReadyResponse struct {
	SessionID string
	WorkerID  string

	// Ready reports whether the worker is recorded as ready after this call.
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

	// Released is true when the gate opened within the wait window. A wait
	// that timed out or was canceled reports false.
	Released bool

	// Open reports whether the gate is open now. It can trail Released by an
	// instant when the gate opens while a timed out wait is returning.
	Open bool

	ReadyCount int
}

// WorkerDisconnectRequest reports a worker disconnect for ban
// classification.
type WorkerDisconnectRequest struct {
	// Account is the account the worker was using. Defaults to the worker
	// ID when empty.
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

	// Accepted is false when classification is disabled for the session or
	// the report was dropped under load. Classification itself happens
	// asynchronously.
	Accepted bool
}

// CaptchaStats summarizes one target's challenge answer cache.
type CaptchaStats struct {
	Target string
	Size   int
	Hits   uint64
	Misses uint64

	// HitRate is the fraction of lookups that hit, in [0, 1].
	HitRate float64
}

// CaptchaStoreRequest caches the answer for a challenge image. Image holds
// the raw image bytes, base64 in JSON form; alternatively the caller may
// supply a precomputed Fingerprint.
type CaptchaStoreRequest struct {
	Target      string
	Image       []byte
	Fingerprint string
	Answer      string
}

// CaptchaStoreResponse is returned when a challenge answer was cached.
type CaptchaStoreResponse struct {
	Target      string
	Fingerprint string
}

// CaptchaLookupRequest queries the challenge answer cache.
type CaptchaLookupRequest struct {
	Target      string
	Image       []byte
	Fingerprint string
}

// CaptchaLookupResponse is the result of a cache lookup.
type CaptchaLookupResponse struct {
	Target      string
	Fingerprint string
	Answer      string
	Found       bool
}
