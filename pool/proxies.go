// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package pool

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/go-set/v3"
	"github.com/hashicorp/muster/helper"
	"github.com/hashicorp/muster/helper/broker"
)

// Proxies manages one session's egress proxies and quarantines the ones that
// targets ban at the address level. Unlike accounts, proxies are shared, so
// acquiring one does not remove it from the pool.
type Proxies struct {
	lock        *sync.Mutex
	available   *set.Set[string]
	quarantined *set.Set[string]

	notifier *broker.GenericNotifier
}

// NewProxies creates a proxy pool from the available proxy addresses.
func NewProxies(available []string) *Proxies {
	return &Proxies{
		lock:        new(sync.Mutex),
		available:   set.From(available),
		quarantined: set.New[string](0),
		notifier:    broker.NewGenericNotifier(),
	}
}

// Run starts the change notifier and blocks until stopCh is closed.
func (p *Proxies) Run(stopCh <-chan struct{}) {
	p.notifier.Run(stopCh)
}

// WaitForChange blocks until pool membership changes or the timeout elapses
// and returns a description of what happened.
func (p *Proxies) WaitForChange(timeout time.Duration) interface{} {
	return p.notifier.WaitForChange(timeout)
}

// Acquire returns a random available proxy.
func (p *Proxies) Acquire() (string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	members := p.available.Slice()
	if len(members) == 0 {
		return "", ErrProxiesExhausted
	}
	return members[rand.Intn(len(members))], nil
}

// Quarantine removes the proxy from the available set. Workers holding it
// should rotate to another proxy on their next connection.
func (p *Proxies) Quarantine(addr string) error {
	var err error
	helper.WithLock(p.lock, func() {
		if !p.available.Remove(addr) {
			if !p.quarantined.Contains(addr) {
				err = ErrUnknownProxy
				return
			}
		}
		p.quarantined.Insert(addr)
		p.emitGauges()
	})
	if err != nil {
		return err
	}

	metrics.IncrCounter([]string{"muster", "pool", "proxy_quarantined"}, 1)
	p.notifier.Notify(fmt.Sprintf("proxy %q quarantined", addr))
	return nil
}

// IsQuarantined reports whether the proxy has been quarantined.
func (p *Proxies) IsQuarantined(addr string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.quarantined.Contains(addr)
}

// Available returns the usable proxy addresses in no particular order.
func (p *Proxies) Available() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.available.Slice()
}

// Quarantined returns the quarantined proxy addresses in no particular
// order.
func (p *Proxies) Quarantined() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.quarantined.Slice()
}

// Stats returns the available and quarantined sizes.
func (p *Proxies) Stats() (available, quarantined int) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.available.Size(), p.quarantined.Size()
}

// emitGauges must be called with the lock held.
func (p *Proxies) emitGauges() {
	metrics.SetGauge([]string{"muster", "pool", "proxies_available"}, float32(p.available.Size()))
	metrics.SetGauge([]string{"muster", "pool", "proxies_quarantined"}, float32(p.quarantined.Size()))
}
