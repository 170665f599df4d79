// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package pool tracks the account and proxy credentials a session's workers
// draw from, and how both shrink as targets ban them.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/go-set/v3"
	"github.com/hashicorp/muster/helper"
	"github.com/hashicorp/muster/helper/broker"
)

var (
	ErrReserveExhausted = errors.New("pool: no replacement accounts left")
	ErrProxiesExhausted = errors.New("pool: no proxies left")
	ErrUnknownAccount   = errors.New("pool: account not in pool")
	ErrUnknownProxy     = errors.New("pool: proxy not in pool")
)

// Accounts manages one session's account credentials: the active set workers
// use, a reserve of replacements, and the set of accounts targets banned.
//
// Observers can follow membership changes through WaitForChange.
type Accounts struct {
	lock    *sync.Mutex
	active  *set.Set[string]
	banned  *set.Set[string]
	reserve []string

	notifier *broker.GenericNotifier
}

// NewAccounts creates an account pool from the initially active accounts and
// an ordered reserve of replacements.
func NewAccounts(active, reserve []string) *Accounts {
	a := &Accounts{
		lock:     new(sync.Mutex),
		active:   set.From(active),
		banned:   set.New[string](0),
		reserve:  make([]string, len(reserve)),
		notifier: broker.NewGenericNotifier(),
	}
	copy(a.reserve, reserve)
	return a
}

// Run starts the change notifier and blocks until stopCh is closed. It is
// meant to be run in a goroutine for the lifetime of the session.
func (a *Accounts) Run(stopCh <-chan struct{}) {
	a.notifier.Run(stopCh)
}

// WaitForChange blocks until pool membership changes or the timeout elapses
// and returns a description of what happened.
func (a *Accounts) WaitForChange(timeout time.Duration) interface{} {
	return a.notifier.WaitForChange(timeout)
}

// Ban records the account as banned. When remove is set the account is also
// taken out of the active set so no worker re-uses it.
func (a *Accounts) Ban(name string, remove bool) error {
	var err error
	helper.WithLock(a.lock, func() {
		if !a.active.Contains(name) && !a.banned.Contains(name) {
			err = ErrUnknownAccount
			return
		}
		a.banned.Insert(name)
		if remove {
			a.active.Remove(name)
		}
		a.emitGauges()
	})
	if err != nil {
		return err
	}

	metrics.IncrCounter([]string{"muster", "pool", "account_banned"}, 1)
	a.notifier.Notify(fmt.Sprintf("account %q banned", name))
	return nil
}

// ActivateReplacement moves the next reserve account into the active set and
// returns its name, or ErrReserveExhausted when the reserve is empty.
func (a *Accounts) ActivateReplacement() (string, error) {
	var name string
	var err error
	helper.WithLock(a.lock, func() {
		if len(a.reserve) == 0 {
			err = ErrReserveExhausted
			return
		}
		name, a.reserve = a.reserve[0], a.reserve[1:]
		a.active.Insert(name)
		a.emitGauges()
	})
	if err != nil {
		return "", err
	}

	metrics.IncrCounter([]string{"muster", "pool", "account_replaced"}, 1)
	a.notifier.Notify(fmt.Sprintf("account %q activated from reserve", name))
	return name, nil
}

// Contains reports whether the account is currently active.
func (a *Accounts) Contains(name string) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.active.Contains(name)
}

// IsBanned reports whether the account has been banned.
func (a *Accounts) IsBanned(name string) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.banned.Contains(name)
}

// Active returns the active account names in no particular order.
func (a *Accounts) Active() []string {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.active.Slice()
}

// Banned returns the banned account names in no particular order.
func (a *Accounts) Banned() []string {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.banned.Slice()
}

// Stats returns the active, reserve and banned sizes.
func (a *Accounts) Stats() (active, reserve, banned int) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.active.Size(), len(a.reserve), a.banned.Size()
}

// emitGauges must be called with the lock held.
func (a *Accounts) emitGauges() {
	metrics.SetGauge([]string{"muster", "pool", "accounts_active"}, float32(a.active.Size()))
	metrics.SetGauge([]string{"muster", "pool", "accounts_reserve"}, float32(len(a.reserve)))
	metrics.SetGauge([]string{"muster", "pool", "accounts_banned"}, float32(a.banned.Size()))
}
