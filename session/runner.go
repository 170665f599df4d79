// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package session runs the lifecycle of registered sessions. Each session
// gets a Runner that owns its per-session resources, a rendezvous gate,
// account and proxy pools and a ban watcher, and manages them through
// lifecycle hooks. The Manager tracks every live runner for the agent.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/muster/banwatch"
	"github.com/hashicorp/muster/gate"
	"github.com/hashicorp/muster/pool"
	"github.com/hashicorp/muster/session/interfaces"
	"github.com/hashicorp/muster/stream"
	"github.com/hashicorp/muster/structs"
	"github.com/hashicorp/muster/structs/config"
)

// runnerConfig carries everything a Runner needs from the Manager. The
// config blocks must already be merged with the agent defaults and
// validated.
type runnerConfig struct {
	Logger hclog.Logger

	Spec *structs.SessionSpec

	GateConfig *config.GateConfig
	BanConfig  *config.BanConfig

	Gates  *gate.Registry
	Events *stream.Publisher
}

// Runner drives one session from registration to its end. The zero value is
// not usable, runners are built by the Manager.
type Runner struct {
	id     string
	logger hclog.Logger

	gates  *gate.Registry
	events *stream.Publisher

	accounts *pool.Accounts
	proxies  *pool.Proxies

	// watcher classifies worker disconnects. It is nil when ban
	// classification is disabled for the session.
	watcher *banwatch.Watcher

	// runnerHooks are session lifecycle hooks run on state transitions.
	runnerHooks []interfaces.RunnerHook

	// stateLock guards session.
	stateLock sync.Mutex
	session   *structs.Session

	stopOnce sync.Once
	stopCh   chan struct{}

	shutdownOnce sync.Once

	// waitCh is closed when the runner has finished its postrun hooks.
	waitCh chan struct{}
}

func newRunner(cfg *runnerConfig) *Runner {
	spec := cfg.Spec
	now := time.Now().UnixNano()

	r := &Runner{
		id:       spec.ID,
		gates:    cfg.Gates,
		events:   cfg.Events,
		accounts: pool.NewAccounts(spec.Accounts, spec.ReserveAccounts),
		proxies:  pool.NewProxies(spec.Proxies),
		stopCh:   make(chan struct{}),
		waitCh:   make(chan struct{}),
		session: &structs.Session{
			ID:              spec.ID,
			Name:            spec.Name,
			Target:          spec.Target,
			Status:          structs.SessionStatusPending,
			ExpectedWorkers: spec.ExpectedWorkers,
			CreateTime:      now,
			ModifyTime:      now,
		},
	}
	r.logger = cfg.Logger.Named("session_runner").With("session_id", spec.ID)

	if *cfg.BanConfig.Enabled {
		minDelay, _ := time.ParseDuration(*cfg.BanConfig.ReplacementDelayMin)
		maxDelay, _ := time.ParseDuration(*cfg.BanConfig.ReplacementDelayMax)
		r.watcher = banwatch.NewWatcher(&banwatch.WatcherConfig{
			Logger: r.logger,
			Classifier: banwatch.NewClassifier(r.logger,
				cfg.BanConfig.BanPatterns, cfg.BanConfig.AddressBanPatterns),
			Accounts:             r.accounts,
			Proxies:              r.proxies,
			RemoveBannedAccounts: *cfg.BanConfig.RemoveBannedAccounts,
			ReplacementDelayMin:  minDelay,
			ReplacementDelayMax:  maxDelay,
			OnVerdict:            r.handleVerdict,
		})
	}

	r.initRunnerHooks(cfg)
	return r
}

// Run drives the session lifecycle and is meant to be run in a goroutine.
// The runner is done once WaitCh closes.
func (r *Runner) Run() {
	defer close(r.waitCh)

	// Run the prerun hooks
	if err := r.prerun(); err != nil {
		r.logger.Error("prerun failed", "error", err)
		r.setStatus(structs.SessionStatusFailed)
		goto POST
	}

	r.setStatus(structs.SessionStatusRunning)
	r.events.Publish(structs.TopicSession, structs.TypeSessionRegistered, r.id, nil,
		&structs.SessionEvent{Session: r.Session()})
	r.logger.Info("session started",
		"target", r.session.Target, "expected_workers", r.session.ExpectedWorkers)

	// Block until the session is ended
	<-r.stopCh

POST:
	// Run the postrun hooks
	if err := r.postrun(); err != nil {
		r.logger.Error("postrun failed", "error", err)
	}

	if r.Status() != structs.SessionStatusFailed {
		r.setStatus(structs.SessionStatusComplete)
	}
	r.events.Publish(structs.TopicSession, structs.TypeSessionDeregistered, r.id, nil,
		&structs.SessionEvent{Session: r.Session()})
	r.logger.Info("session ended", "status", r.Status())
}

// Stop signals the runner to end the session. It does not block; callers
// that need completion wait on WaitCh.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// Shutdown stops the runner because the agent process is exiting. Shutdown
// hooks run first so per-session goroutines stop promptly, then the normal
// end path takes over.
func (r *Runner) Shutdown() {
	r.shutdownOnce.Do(r.shutdownHooks)
	r.Stop()
}

// WaitCh returns a channel that is closed when the runner has finished.
func (r *Runner) WaitCh() <-chan struct{} {
	return r.waitCh
}

// ID returns the session ID the runner was built for.
func (r *Runner) ID() string {
	return r.id
}

// Status returns the session's current status.
func (r *Runner) Status() string {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()
	return r.session.Status
}

func (r *Runner) setStatus(status string) {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()
	if r.session.Status == status {
		return
	}
	r.session.Status = status
	r.session.ModifyTime = time.Now().UnixNano()
}

// Session returns a point in time view of the session including its gate and
// pool state.
func (r *Runner) Session() *structs.Session {
	r.stateLock.Lock()
	s := *r.session
	r.stateLock.Unlock()

	s.Gate = r.gates.Status(r.id)

	active, reserve, banned := r.accounts.Stats()
	available, quarantined := r.proxies.Stats()
	s.Pools = &structs.PoolStatus{
		AccountsActive:     active,
		AccountsReserve:    reserve,
		AccountsBanned:     banned,
		ProxiesAvailable:   available,
		ProxiesQuarantined: quarantined,
	}

	if r.watcher != nil {
		s.BannedAccounts, s.BannedAddresses = r.watcher.Stats()
	}
	return &s
}

// Accounts returns the session's account pool.
func (r *Runner) Accounts() *pool.Accounts {
	return r.accounts
}

// Proxies returns the session's proxy pool.
func (r *Runner) Proxies() *pool.Proxies {
	return r.proxies
}

// MarkWorkerReady records a worker readiness report and returns the updated
// gate view. Transitioned is true only for the report that opened the gate.
// Sessions without a gate accept the report as a no-op.
func (r *Runner) MarkWorkerReady(workerID string) *structs.WorkerReadyResponse {
	wasReady := r.gates.IsReady(r.id, workerID)
	transitioned := r.gates.MarkReady(r.id, workerID)
	status := r.gates.Status(r.id)

	if status.Enabled && !wasReady {
		r.events.Publish(structs.TopicWorker, structs.TypeWorkerReady, workerID, []string{r.id},
			&structs.WorkerEvent{
				SessionID:  r.id,
				WorkerID:   workerID,
				ReadyCount: status.ReadyCount,
				Required:   status.Required,
			})
	}

	return &structs.WorkerReadyResponse{
		SessionID:    r.id,
		WorkerID:     workerID,
		Ready:        r.gates.IsReady(r.id, workerID),
		Transitioned: transitioned,
		ReadyCount:   status.ReadyCount,
		Required:     status.Required,
		GateOpen:     status.Open,
	}
}

// IsWorkerReady reports whether the worker has reported ready. Sessions
// without a gate treat every worker as ready.
func (r *Runner) IsWorkerReady(workerID string) bool {
	return r.gates.IsReady(r.id, workerID)
}

// WaitGate blocks the worker on the session's gate until it opens, timeout
// elapses or ctx is done. A non-positive timeout falls back to the gate's
// configured timeout. Released is false when the wait gave up before the
// gate opened.
func (r *Runner) WaitGate(ctx context.Context, timeout time.Duration) *structs.GateWaitResponse {
	released := r.gates.Wait(ctx, r.id, timeout)
	status := r.gates.Status(r.id)

	return &structs.GateWaitResponse{
		SessionID:  r.id,
		Released:   released,
		Open:       status.Open,
		ReadyCount: status.ReadyCount,
	}
}

// GateStatus returns the session's gate view.
func (r *Runner) GateStatus() *structs.GateStatus {
	return r.gates.Status(r.id)
}

// WorkerDisconnected reports a worker disconnect for ban classification.
// The account defaults to the worker ID when not named separately. It
// returns false when classification is disabled for the session or the
// report was dropped.
func (r *Runner) WorkerDisconnected(workerID, account, proxy, message string) bool {
	if r.watcher == nil {
		return false
	}
	if account == "" {
		account = workerID
	}
	return r.watcher.Submit(&banwatch.Report{
		WorkerID: workerID,
		Account:  account,
		Proxy:    proxy,
		Message:  message,
	})
}

// handleVerdict publishes ban verdicts applied by the watcher.
func (r *Runner) handleVerdict(v banwatch.Verdict, report *banwatch.Report) {
	switch v {
	case banwatch.VerdictAccountBan:
		r.events.Publish(structs.TopicWorker, structs.TypeWorkerBanned, report.WorkerID, []string{r.id},
			&structs.BanEvent{
				SessionID: r.id,
				Account:   report.Account,
				Message:   report.Message,
			})
	case banwatch.VerdictAddressBan:
		r.events.Publish(structs.TopicWorker, structs.TypeAddressBanned, report.WorkerID, []string{r.id},
			&structs.BanEvent{
				SessionID: r.id,
				Address:   report.Proxy,
				Message:   report.Message,
			})
	}
}
