// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package banwatch

import (
	"math/rand"
	"sync"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/muster/pool"
)

// watcherQueueDepth bounds the disconnect report queue. Submitting past it
// drops reports rather than blocking workers.
const watcherQueueDepth = 64

// Report describes one worker disconnect as observed by the fleet.
type Report struct {
	WorkerID string
	Account  string
	Proxy    string
	Message  string
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Logger     hclog.Logger
	Classifier *Classifier

	// Accounts and Proxies are the session pools ban side effects are
	// applied to.
	Accounts *pool.Accounts
	Proxies  *pool.Proxies

	// RemoveBannedAccounts rotates a banned account out of the active set
	// and activates a replacement from the reserve.
	RemoveBannedAccounts bool

	// ReplacementDelayMin and ReplacementDelayMax bound the randomized delay
	// before a replacement account is activated, so a wave of bans does not
	// turn into a reconnection stampede.
	ReplacementDelayMin time.Duration
	ReplacementDelayMax time.Duration

	// OnVerdict, when set, is called after a report's side effects have been
	// applied. Reports classified as VerdictNone do not trigger it.
	OnVerdict func(Verdict, *Report)
}

// Watcher consumes worker disconnect reports, classifies them and applies
// ban side effects to the session's pools.
type Watcher struct {
	logger     hclog.Logger
	classifier *Classifier
	accounts   *pool.Accounts
	proxies    *pool.Proxies

	removeBanned bool
	delayMin     time.Duration
	delayMax     time.Duration
	onVerdict    func(Verdict, *Report)

	reportCh chan *Report

	lock        sync.Mutex
	accountBans int
	addressBans int
}

// NewWatcher creates a Watcher. It panics when the classifier or a pool is
// missing, as wiring them up is the caller's bug, not a runtime condition.
func NewWatcher(c *WatcherConfig) *Watcher {
	if c.Classifier == nil {
		panic("bug: ban watcher requires a classifier")
	}
	if c.Accounts == nil || c.Proxies == nil {
		panic("bug: ban watcher requires account and proxy pools")
	}

	return &Watcher{
		logger:       c.Logger.Named("ban_watcher"),
		classifier:   c.Classifier,
		accounts:     c.Accounts,
		proxies:      c.Proxies,
		removeBanned: c.RemoveBannedAccounts,
		delayMin:     c.ReplacementDelayMin,
		delayMax:     c.ReplacementDelayMax,
		onVerdict:    c.OnVerdict,
		reportCh:     make(chan *Report, watcherQueueDepth),
	}
}

// Run consumes reports until stopCh is closed. It is meant to be run in a
// goroutine for the lifetime of the session.
func (w *Watcher) Run(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case report := <-w.reportCh:
			w.process(report)
		}
	}
}

// Submit queues a disconnect report for classification. It never blocks;
// reports submitted while the queue is full are dropped and counted.
func (w *Watcher) Submit(r *Report) bool {
	select {
	case w.reportCh <- r:
		return true
	default:
		metrics.IncrCounter([]string{"muster", "banwatch", "dropped_reports"}, 1)
		w.logger.Warn("dropping disconnect report, queue is full", "worker_id", r.WorkerID)
		return false
	}
}

// Stats returns the number of account and address ban verdicts so far.
func (w *Watcher) Stats() (accountBans, addressBans int) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.accountBans, w.addressBans
}

func (w *Watcher) process(r *Report) {
	verdict := w.classifier.Classify(r.Message)

	switch verdict {
	case VerdictNone:
		w.logger.Debug("disconnect not classified as a ban",
			"worker_id", r.WorkerID, "message", r.Message)
		return

	case VerdictAccountBan:
		metrics.IncrCounter([]string{"muster", "banwatch", "account_ban"}, 1)
		w.logger.Info("account ban detected", "worker_id", r.WorkerID,
			"account", r.Account, "message", r.Message)

		w.lock.Lock()
		w.accountBans++
		w.lock.Unlock()

		w.applyAccountBan(r)

	case VerdictAddressBan:
		metrics.IncrCounter([]string{"muster", "banwatch", "address_ban"}, 1)
		w.logger.Info("address ban detected", "worker_id", r.WorkerID,
			"proxy", r.Proxy, "message", r.Message)

		w.lock.Lock()
		w.addressBans++
		w.lock.Unlock()

		w.applyAddressBan(r)
	}

	if w.onVerdict != nil {
		w.onVerdict(verdict, r)
	}
}

func (w *Watcher) applyAccountBan(r *Report) {
	if r.Account == "" {
		return
	}

	if err := w.accounts.Ban(r.Account, w.removeBanned); err != nil {
		w.logger.Warn("unable to ban account", "account", r.Account, "error", err)
		return
	}
	if !w.removeBanned {
		return
	}

	// Activate a replacement after a randomized delay. The session may have
	// ended by the time the timer fires, in which case activating one more
	// reserve account is harmless.
	time.AfterFunc(w.replacementDelay(), func() {
		name, err := w.accounts.ActivateReplacement()
		if err != nil {
			w.logger.Warn("no replacement available for banned account",
				"account", r.Account, "error", err)
			return
		}
		w.logger.Info("replacement account activated",
			"banned", r.Account, "replacement", name)
	})
}

func (w *Watcher) applyAddressBan(r *Report) {
	if r.Proxy == "" {
		return
	}

	if err := w.proxies.Quarantine(r.Proxy); err != nil {
		w.logger.Warn("unable to quarantine proxy", "proxy", r.Proxy, "error", err)
	}
}

func (w *Watcher) replacementDelay() time.Duration {
	if w.delayMax <= w.delayMin {
		return w.delayMin
	}
	return w.delayMin + time.Duration(rand.Int63n(int64(w.delayMax-w.delayMin)))
}
