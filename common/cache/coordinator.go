// Copyright 2026 goryl Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/zaillisy/goryl/base/clock"
	"github.com/zaillisy/goryl/base/log"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	payload   any
	expiresAt time.Time
}

// clearance is a Clear issued while fetches were in flight.
type clearance struct {
	epoch  uint64
	prefix string
}

// Coordinator is a short-TTL cache that coalesces concurrent fetches of the
// same key. At most one fetch per key is outstanding at any time; callers
// arriving while it runs wait for its result.
type Coordinator struct {
	clock clock.Clock
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
	waiters map[string]int
	// epoch is bumped by every Clear. fetching counts running fetches by the
	// epoch they started in, and cleared keeps the clears they have not seen.
	epoch    uint64
	fetching map[uint64]int
	cleared  []clearance
}

func NewCoordinator(c clock.Clock) *Coordinator {
	return &Coordinator{
		clock:   c,
		entries:  make(map[string]entry),
		waiters:  make(map[string]int),
		fetching: make(map[uint64]int),
	}
}

// GetOrFetch returns the cached payload of key, or runs fetch once for all
// concurrent callers and caches a successful result until now+ttl. Errors are
// shared by every coalesced caller and never cached.
//
// The fetch runs detached from the caller's context: a caller giving up early
// gets ctx.Err() but the fetch still completes and fills the cache.
func (c *Coordinator) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.clock.Now().Before(e.expiresAt) {
			c.mu.Unlock()
			HitsTotal.Inc()
			return e.payload, nil
		}
		delete(c.entries, key)
	}
	c.waiters[key]++
	ch := c.group.DoChan(key, func() (any, error) {
		epoch := c.begin()
		defer c.end(epoch)
		payload, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(key, payload, ttl, epoch)
		return payload, nil
	})
	c.mu.Unlock()
	defer c.leave(key)

	select {
	case result := <-ch:
		if result.Shared {
			CoalescedTotal.Inc()
		} else {
			MissesTotal.Inc()
		}
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val, nil
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

func (c *Coordinator) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetching[c.epoch]++
	return c.epoch
}

func (c *Coordinator) end(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetching[epoch]--; c.fetching[epoch] <= 0 {
		delete(c.fetching, epoch)
	}
	if len(c.fetching) == 0 {
		c.cleared = nil
		return
	}
	oldest := c.epoch
	for e := range c.fetching {
		oldest = min(oldest, e)
	}
	c.cleared = slices.DeleteFunc(c.cleared, func(r clearance) bool { return r.epoch <= oldest })
}

func (c *Coordinator) store(key string, payload any, ttl time.Duration, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.cleared {
		if r.epoch > epoch && strings.HasPrefix(key, r.prefix) {
			// cleared while fetching, the payload may predate the clear
			return
		}
	}
	c.entries[key] = entry{payload: payload, expiresAt: c.clock.Now().Add(ttl)}
}

func (c *Coordinator) leave(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters[key]--; c.waiters[key] <= 0 {
		delete(c.waiters, key)
	}
}

// Waiters returns the number of callers currently waiting on key.
func (c *Coordinator) Waiters(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters[key]
}

// Clear removes every entry whose key starts with prefix. Fetches of matching
// keys in flight when Clear is called do not store their results.
func (c *Coordinator) Clear(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if len(c.fetching) > 0 {
		c.cleared = append(c.cleared, clearance{epoch: c.epoch, prefix: prefix})
	}
	count := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			count++
		}
	}
	ClearedTotal.Add(float64(count))
	return count
}

// Sweep drops expired entries.
func (c *Coordinator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	count := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			count++
		}
	}
	return count
}

// Len returns the number of stored entries, expired ones included.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartSweeper clears the given regions every period until ctx is done,
// regardless of the TTL of individual entries.
func (c *Coordinator) StartSweeper(ctx context.Context, period time.Duration, prefixes []string) {
	if period <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expired := c.Sweep()
				cleared := 0
				for _, prefix := range prefixes {
					cleared += c.Clear(prefix)
				}
				log.Logger().Debug("swept cache",
					zap.Int("expired", expired),
					zap.Int("cleared", cleared),
					zap.Strings("prefixes", prefixes))
			}
		}
	}()
}

// Fetch is GetOrFetch with a typed payload.
func Fetch[T any](ctx context.Context, c *Coordinator, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	payload, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	value, _ := payload.(T)
	return value, nil
}
