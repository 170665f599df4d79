// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/muster/banwatch"
)

const banwatchHookName = "ban_watcher"

// banwatchHook runs the session's disconnect classifier for the session's
// lifetime. It is only installed when ban classification is enabled for the
// session.
type banwatchHook struct {
	logger  hclog.Logger
	watcher *banwatch.Watcher

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newBanwatchHook(logger hclog.Logger, watcher *banwatch.Watcher) *banwatchHook {
	h := &banwatchHook{
		watcher: watcher,
		stopCh:  make(chan struct{}),
	}
	h.logger = logger.Named(banwatchHookName)
	return h
}

func (*banwatchHook) Name() string {
	return banwatchHookName
}

func (h *banwatchHook) Prerun() error {
	go h.watcher.Run(h.stopCh)
	return nil
}

func (h *banwatchHook) Postrun() error {
	h.stop()

	accountBans, addressBans := h.watcher.Stats()
	h.logger.Info("ban watcher stopped",
		"account_bans", accountBans, "address_bans", addressBans)
	return nil
}

func (h *banwatchHook) Shutdown() {
	h.stop()
}

func (h *banwatchHook) stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
}
