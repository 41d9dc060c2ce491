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

package logics

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/zaillisy/goryl/base/clock"
	"github.com/zaillisy/goryl/base/log"
	"github.com/zaillisy/goryl/config"
	"github.com/zaillisy/goryl/storage/data"
	"go.uber.org/zap"
)

// Decay returns the weight of an event of the given age: 1 at age 0, halved
// every halfLife. Events from the future count fully.
func Decay(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}

// FoldUserAffinity folds interactions of a user into category scores and the
// list of recently interacted items.
func FoldUserAffinity(userId string, interactions []data.Interaction, halfLife time.Duration, capacity int, now time.Time) UserAffinity {
	affinity := UserAffinity{
		UserId:         userId,
		CategoryScores: make(map[string]float64),
		RecentItemIds:  make([]string, 0, min(capacity, len(interactions))),
	}
	sorted := slices.Clone(interactions)
	data.SortInteractions(sorted)
	for _, interaction := range sorted {
		if interaction.Category == "" {
			continue
		}
		affinity.CategoryScores[interaction.Category] += interaction.Weight * Decay(now.Sub(interaction.Timestamp), halfLife)
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	for i := len(sorted) - 1; i >= 0 && len(affinity.RecentItemIds) < capacity; i-- {
		if seen.Add(sorted[i].ItemId) {
			affinity.RecentItemIds = append(affinity.RecentItemIds, sorted[i].ItemId)
		}
	}
	return affinity
}

// FoldItemSignal sums the decayed interactions received by an item and the
// decayed popularity it was imported with.
func FoldItemSignal(item data.Item, interactions []data.Interaction, halfLife time.Duration, now time.Time) ItemSignal {
	signal := ItemSignal{
		ItemId:    item.ItemId,
		Category:  item.Category,
		CreatedAt: item.Timestamp,
	}
	// Popularity stored beyond the recorded events was imported with the
	// item and decays from its creation.
	if base := item.Popularity - float64(len(interactions)); base > 0 {
		signal.Popularity = base * Decay(now.Sub(item.Timestamp), halfLife)
	}
	for _, interaction := range interactions {
		signal.Popularity += Decay(now.Sub(interaction.Timestamp), halfLife)
	}
	return signal
}

type memo[T any] struct {
	value      T
	computedAt time.Time
	hasValue   bool
	valid      bool
	// epoch is bumped by every invalidation. A computation that started
	// before the bump stores its result as already stale.
	epoch uint64
}

// Aggregator memoizes user affinities and item signals. Entries expire after
// the aggregate TTL or on invalidation, but the last computed value is kept to
// be served when the event store fails.
type Aggregator struct {
	database data.Database
	clock    clock.Clock
	ttl      time.Duration
	halfLife time.Duration
	capacity int
	timeout  time.Duration

	mu    sync.Mutex
	users map[string]*memo[UserAffinity]
	items map[string]*memo[ItemSignal]
}

func NewAggregator(cfg *config.Config, database data.Database, c clock.Clock) *Aggregator {
	return &Aggregator{
		database: database,
		clock:    c,
		ttl:      cfg.Recommend.AggregateTTL,
		halfLife: cfg.Recommend.DecayHalfLife,
		capacity: cfg.Recommend.RecentItemsCapacity,
		timeout:  cfg.Database.Timeout,
		users:    make(map[string]*memo[UserAffinity]),
		items:    make(map[string]*memo[ItemSignal]),
	}
}

func (a *Aggregator) GetUserAffinity(ctx context.Context, userId string) (UserAffinity, error) {
	return load(ctx, a, a.users, "user", userId, func(ctx context.Context, now time.Time) (UserAffinity, error) {
		interactions, err := a.database.QueryUserInteractions(ctx, userId, nil)
		if err != nil {
			return UserAffinity{}, errors.Trace(err)
		}
		return FoldUserAffinity(userId, interactions, a.halfLife, a.capacity, now), nil
	})
}

func (a *Aggregator) GetItemSignal(ctx context.Context, itemId string) (ItemSignal, error) {
	return load(ctx, a, a.items, "item", itemId, func(ctx context.Context, now time.Time) (ItemSignal, error) {
		item, err := a.database.GetItem(ctx, itemId)
		if err != nil {
			return ItemSignal{}, errors.Trace(err)
		}
		interactions, err := a.database.QueryItemInteractions(ctx, itemId, nil)
		if err != nil {
			return ItemSignal{}, errors.Trace(err)
		}
		return FoldItemSignal(item, interactions, a.halfLife, now), nil
	})
}

// ItemSignalOf is GetItemSignal for an item the caller has already loaded.
// It shares the memo of GetItemSignal.
func (a *Aggregator) ItemSignalOf(ctx context.Context, item data.Item) (ItemSignal, error) {
	return load(ctx, a, a.items, "item", item.ItemId, func(ctx context.Context, now time.Time) (ItemSignal, error) {
		interactions, err := a.database.QueryItemInteractions(ctx, item.ItemId, nil)
		if err != nil {
			return ItemSignal{}, errors.Trace(err)
		}
		return FoldItemSignal(item, interactions, a.halfLife, now), nil
	})
}

// Invalidate marks the affinity of a user stale.
func (a *Aggregator) Invalidate(userId string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	invalidate(a.users, userId)
}

// InvalidateItem marks the signal of an item stale.
func (a *Aggregator) InvalidateItem(itemId string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	invalidate(a.items, itemId)
}

func invalidate[T any](memos map[string]*memo[T], id string) {
	entry, ok := memos[id]
	if !ok {
		entry = &memo[T]{}
		memos[id] = entry
	}
	entry.valid = false
	entry.epoch++
}

func load[T any](ctx context.Context, a *Aggregator, memos map[string]*memo[T], kind, id string,
	compute func(ctx context.Context, now time.Time) (T, error)) (T, error) {
	now := a.clock.Now()
	a.mu.Lock()
	entry, ok := memos[id]
	if ok && entry.valid && now.Sub(entry.computedAt) < a.ttl {
		value := entry.value
		a.mu.Unlock()
		return value, nil
	}
	var epoch uint64
	if ok {
		epoch = entry.epoch
	}
	a.mu.Unlock()

	start := time.Now()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	value, err := compute(ctx, now)
	AggregateComputeSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok = memos[id]
	if err != nil {
		var zero T
		if errors.Is(err, errors.NotFound) {
			return zero, err
		}
		if ok && entry.hasValue {
			StaleAggregatesServed.WithLabelValues(kind).Inc()
			log.Logger().Warn("serve stale aggregate",
				zap.String("kind", kind), zap.String("id", id),
				zap.Time("computed_at", entry.computedAt), zap.Error(err))
			return entry.value, nil
		}
		return zero, upstream(err, "failed to aggregate "+kind+" "+id)
	}
	if !ok {
		entry = &memo[T]{}
		memos[id] = entry
	} else if entry.hasValue && entry.computedAt.After(now) {
		return value, nil
	}
	entry.value = value
	entry.computedAt = now
	entry.hasValue = true
	entry.valid = entry.epoch == epoch
	return value, nil
}
