// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/muster/pool"
)

const poolHookName = "pool"

// poolHook runs the account and proxy pool change notifiers for the
// session's lifetime and logs the final pool balance when the session ends.
type poolHook struct {
	logger   hclog.Logger
	accounts *pool.Accounts
	proxies  *pool.Proxies

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newPoolHook(logger hclog.Logger, accounts *pool.Accounts, proxies *pool.Proxies) *poolHook {
	h := &poolHook{
		accounts: accounts,
		proxies:  proxies,
		stopCh:   make(chan struct{}),
	}
	h.logger = logger.Named(poolHookName)
	return h
}

func (*poolHook) Name() string {
	return poolHookName
}

func (h *poolHook) Prerun() error {
	go h.accounts.Run(h.stopCh)
	go h.proxies.Run(h.stopCh)
	return nil
}

func (h *poolHook) Postrun() error {
	h.stop()

	active, reserve, banned := h.accounts.Stats()
	available, quarantined := h.proxies.Stats()
	h.logger.Info("session pools closed",
		"accounts_active", active,
		"accounts_reserve", reserve,
		"accounts_banned", banned,
		"proxies_available", available,
		"proxies_quarantined", quarantined)
	return nil
}

func (h *poolHook) Shutdown() {
	h.stop()
}

func (h *poolHook) stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
}
