// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package captcha

import (
	"fmt"
	"sort"
	"sync"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/muster/structs"
	"github.com/hashicorp/muster/structs/config"
)

// Cache maps challenge image fingerprints to their answers, kept separately
// per target since different targets use different challenge sets. Each
// target's cache holds at most maxEntries answers, evicting the least
// recently used one past that, or grows without bound when maxEntries is
// zero.
type Cache struct {
	logger     hclog.Logger
	maxEntries int

	lock    sync.Mutex
	targets map[string]*targetCache
}

// NewCache creates a Cache. maxEntries bounds each target's answer count,
// zero meaning unbounded. Out of range values panic, as they are validated
// at the configuration boundary.
func NewCache(logger hclog.Logger, maxEntries int) *Cache {
	if maxEntries < 0 || maxEntries > config.CaptchaCacheEntriesMax {
		panic(fmt.Sprintf("captcha: max entries out of range: %d", maxEntries))
	}
	return &Cache{
		logger:     logger.Named("captcha_cache"),
		maxEntries: maxEntries,
		targets:    make(map[string]*targetCache),
	}
}

// Store records the answer for a challenge fingerprint.
func (c *Cache) Store(target, fingerprint, answer string) {
	c.lock.Lock()
	tc := c.target(target)
	tc.store(fingerprint, answer)
	size := tc.size()
	c.lock.Unlock()

	metrics.IncrCounter([]string{"muster", "captcha", "stored"}, 1)
	c.logger.Debug("challenge answer stored", "target", target,
		"fingerprint", fingerprint, "size", size)
}

// Lookup returns the cached answer for a challenge fingerprint. Hits and
// misses are counted per target.
func (c *Cache) Lookup(target, fingerprint string) (string, bool) {
	c.lock.Lock()
	tc := c.target(target)
	answer, ok := tc.get(fingerprint)
	if ok {
		tc.hits++
	} else {
		tc.misses++
	}
	c.lock.Unlock()

	if ok {
		metrics.IncrCounter([]string{"muster", "captcha", "hit"}, 1)
	} else {
		metrics.IncrCounter([]string{"muster", "captcha", "miss"}, 1)
	}
	return answer, ok
}

// ClearTarget drops a target's cached answers and counters.
func (c *Cache) ClearTarget(target string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.targets, target)
}

// ClearAll drops every target's cached answers and counters.
func (c *Cache) ClearAll() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.targets = make(map[string]*targetCache)
}

// Targets returns the known targets in lexical order.
func (c *Cache) Targets() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	targets := make([]string, 0, len(c.targets))
	for name := range c.targets {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets
}

// Stats returns one target's cache statistics. Unknown targets report an
// empty cache.
func (c *Cache) Stats(target string) *structs.CaptchaStats {
	c.lock.Lock()
	defer c.lock.Unlock()

	stats := &structs.CaptchaStats{Target: target}
	tc, ok := c.targets[target]
	if !ok {
		return stats
	}
	stats.Size = tc.size()
	stats.Hits = tc.hits
	stats.Misses = tc.misses
	stats.HitRate = hitRate(tc.hits, tc.misses)
	return stats
}

// TotalStats sums the statistics of every target under the pseudo target
// "*".
func (c *Cache) TotalStats() *structs.CaptchaStats {
	c.lock.Lock()
	defer c.lock.Unlock()

	stats := &structs.CaptchaStats{Target: "*"}
	for _, tc := range c.targets {
		stats.Size += tc.size()
		stats.Hits += tc.hits
		stats.Misses += tc.misses
	}
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	return stats
}

// target returns the cache for a target, creating it lazily. The caller
// must hold the lock.
func (c *Cache) target(name string) *targetCache {
	tc, ok := c.targets[name]
	if !ok {
		tc = newTargetCache(c.maxEntries)
		c.targets[name] = tc
	}
	return tc
}

// hitRate is the fraction of lookups served from cache, in [0, 1].
func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// targetCache holds one target's answers, bounded by an LRU when a maximum
// was configured and a plain map otherwise.
type targetCache struct {
	bounded   *lru.Cache[string, string]
	unbounded map[string]string

	hits   uint64
	misses uint64
}

func newTargetCache(maxEntries int) *targetCache {
	if maxEntries == 0 {
		return &targetCache{unbounded: make(map[string]string)}
	}

	cache, err := lru.NewWithEvict(maxEntries, func(string, string) {
		metrics.IncrCounter([]string{"muster", "captcha", "evicted"}, 1)
	})
	if err != nil {
		// lru only errors on a non-positive size, which NewCache rules out.
		panic(fmt.Sprintf("captcha: lru: %v", err))
	}
	return &targetCache{bounded: cache}
}

func (tc *targetCache) store(fingerprint, answer string) {
	if tc.bounded != nil {
		tc.bounded.Add(fingerprint, answer)
		return
	}
	tc.unbounded[fingerprint] = answer
}

func (tc *targetCache) get(fingerprint string) (string, bool) {
	if tc.bounded != nil {
		return tc.bounded.Get(fingerprint)
	}
	answer, ok := tc.unbounded[fingerprint]
	return answer, ok
}

func (tc *targetCache) size() int {
	if tc.bounded != nil {
		return tc.bounded.Len()
	}
	return len(tc.unbounded)
}
