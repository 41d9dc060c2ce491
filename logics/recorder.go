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
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/zaillisy/goryl/base/clock"
	"github.com/zaillisy/goryl/base/log"
	"github.com/zaillisy/goryl/common/parallel"
	"github.com/zaillisy/goryl/config"
	"github.com/zaillisy/goryl/storage/data"
	"go.uber.org/zap"
)

// Listener is notified after an interaction has been stored.
type Listener func(ctx context.Context, interaction data.Interaction) error

// Recorder appends interactions to the event store. Invalidation of
// aggregates and listeners run on the side-channel pool after the append.
type Recorder struct {
	database   data.Database
	aggregator *Aggregator
	clock      clock.Clock
	pool       parallel.Pool
	weights    map[string]float64
	timeout    time.Duration

	mu        sync.RWMutex
	listeners []Listener
}

func NewRecorder(cfg *config.Config, database data.Database, aggregator *Aggregator, c clock.Clock, pool parallel.Pool) *Recorder {
	return &Recorder{
		database:   database,
		aggregator: aggregator,
		clock:      c,
		pool:       pool,
		weights:    cfg.Recommend.InteractionWeights,
		timeout:    cfg.Database.Timeout,
	}
}

func (r *Recorder) AddListener(listener Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// Weight returns the weight of an interaction type.
func (r *Recorder) Weight(typ string) (float64, bool) {
	if !lo.Contains(config.InteractionTypes, typ) {
		return 0, false
	}
	weight, ok := r.weights[typ]
	return weight, ok
}

// Record stores an interaction of a user on an item. Anonymous interactions
// are dropped without error.
func (r *Recorder) Record(ctx context.Context, userId, itemId, typ string) error {
	if userId == "" {
		AnonymousInteractions.Inc()
		return nil
	}
	if itemId == "" {
		return validationf("item id is required")
	}
	weight, ok := r.Weight(typ)
	if !ok {
		return validationf("unknown interaction type %q", typ)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	var category string
	item, err := r.database.GetItem(ctx, itemId)
	if err == nil {
		category = item.Category
	} else if !errors.Is(err, errors.NotFound) {
		RecordFailures.Inc()
		return upstream(err, "failed to look up item "+itemId)
	}

	// v7 ids grow with time, so events recorded at the same instant keep their order.
	eventId, err := uuid.NewV7()
	if err != nil {
		RecordFailures.Inc()
		return errors.Trace(err)
	}
	interaction := data.Interaction{
		EventId:   eventId.String(),
		UserId:    userId,
		ItemId:    itemId,
		Category:  category,
		Type:      typ,
		Weight:    weight,
		Timestamp: r.clock.Now().UTC(),
	}
	if err = r.database.AppendInteraction(ctx, interaction); err != nil {
		RecordFailures.Inc()
		return upstream(err, "failed to append interaction")
	}
	InteractionsRecorded.WithLabelValues(typ).Inc()

	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()
	r.pool.Run(func() {
		r.aggregator.Invalidate(userId)
		r.aggregator.InvalidateItem(itemId)
		for _, listener := range listeners {
			if err := listener(context.Background(), interaction); err != nil {
				SideChannelFailures.Inc()
				log.Logger().Warn("side channel failed",
					zap.String("user_id", userId),
					zap.String("item_id", itemId),
					zap.Error(err))
			}
		}
	})
	return nil
}
