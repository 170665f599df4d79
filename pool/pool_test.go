// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package pool

import (
	"testing"
	"time"

	"github.com/hashicorp/muster/ci"
	"github.com/shoenig/test/must"
)

func TestAccounts_Ban(t *testing.T) {
	ci.Parallel(t)

	a := NewAccounts([]string{"alpha", "bravo", "charlie"}, nil)

	must.NoError(t, a.Ban("bravo", true))
	must.False(t, a.Contains("bravo"))
	must.True(t, a.IsBanned("bravo"))

	active, reserve, banned := a.Stats()
	must.Eq(t, 2, active)
	must.Eq(t, 0, reserve)
	must.Eq(t, 1, banned)

	// Banning again is idempotent on membership.
	must.NoError(t, a.Ban("bravo", true))
	_, _, banned = a.Stats()
	must.Eq(t, 1, banned)

	must.ErrorIs(t, a.Ban("delta", true), ErrUnknownAccount)
}

func TestAccounts_BanWithoutRemove(t *testing.T) {
	ci.Parallel(t)

	a := NewAccounts([]string{"alpha"}, nil)

	must.NoError(t, a.Ban("alpha", false))
	must.True(t, a.Contains("alpha"))
	must.True(t, a.IsBanned("alpha"))
}

func TestAccounts_ActivateReplacement(t *testing.T) {
	ci.Parallel(t)

	a := NewAccounts([]string{"alpha"}, []string{"reserve1", "reserve2"})

	name, err := a.ActivateReplacement()
	must.NoError(t, err)
	must.Eq(t, "reserve1", name)
	must.True(t, a.Contains("reserve1"))

	name, err = a.ActivateReplacement()
	must.NoError(t, err)
	must.Eq(t, "reserve2", name)

	_, err = a.ActivateReplacement()
	must.ErrorIs(t, err, ErrReserveExhausted)

	active, reserve, _ := a.Stats()
	must.Eq(t, 3, active)
	must.Eq(t, 0, reserve)
}

func TestAccounts_Notify(t *testing.T) {
	ci.Parallel(t)

	a := NewAccounts([]string{"alpha"}, []string{"reserve1"})

	stopCh := make(chan struct{})
	defer close(stopCh)
	go a.Run(stopCh)

	got := make(chan interface{}, 1)
	go func() {
		got <- a.WaitForChange(3 * time.Second)
	}()

	// Give the subscriber time to register before mutating the pool.
	time.Sleep(100 * time.Millisecond)
	must.NoError(t, a.Ban("alpha", true))

	select {
	case msg := <-got:
		must.Eq(t, `account "alpha" banned`, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pool change notification")
	}
}

func TestProxies_Quarantine(t *testing.T) {
	ci.Parallel(t)

	p := NewProxies([]string{"10.0.0.1:1080", "10.0.0.2:1080"})

	must.NoError(t, p.Quarantine("10.0.0.1:1080"))
	must.True(t, p.IsQuarantined("10.0.0.1:1080"))
	must.SliceContains(t, p.Quarantined(), "10.0.0.1:1080")
	must.SliceNotContains(t, p.Available(), "10.0.0.1:1080")

	available, quarantined := p.Stats()
	must.Eq(t, 1, available)
	must.Eq(t, 1, quarantined)

	// Quarantining twice is idempotent, unknown proxies are rejected.
	must.NoError(t, p.Quarantine("10.0.0.1:1080"))
	must.ErrorIs(t, p.Quarantine("10.9.9.9:1080"), ErrUnknownProxy)
}

func TestProxies_Acquire(t *testing.T) {
	ci.Parallel(t)

	p := NewProxies([]string{"10.0.0.1:1080", "10.0.0.2:1080"})

	// Acquire never hands out a quarantined proxy.
	must.NoError(t, p.Quarantine("10.0.0.1:1080"))
	for i := 0; i < 10; i++ {
		addr, err := p.Acquire()
		must.NoError(t, err)
		must.Eq(t, "10.0.0.2:1080", addr)
	}

	must.NoError(t, p.Quarantine("10.0.0.2:1080"))
	_, err := p.Acquire()
	must.ErrorIs(t, err, ErrProxiesExhausted)
}
