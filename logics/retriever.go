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
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/zaillisy/goryl/base/clock"
	"github.com/zaillisy/goryl/base/log"
	"github.com/zaillisy/goryl/common/heap"
	"github.com/zaillisy/goryl/config"
	"github.com/zaillisy/goryl/storage/data"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/zaillisy/goryl/logics")

// Retriever ranks candidate items for a request. Each call walks through
// candidate_fetch, affinity_lookup, score_and_rank and filter_and_truncate.
type Retriever struct {
	database      data.Database
	aggregator    *Aggregator
	scorer        *Scorer
	clock         clock.Clock
	timeout       time.Duration
	candidateSize int
	concurrency   int
	maxLimit      int
	defaultLimit  int
	filter        *vm.Program
	items         *ttlcache.Cache[string, data.Item]
}

func NewRetriever(cfg *config.Config, database data.Database, aggregator *Aggregator, c clock.Clock) (*Retriever, error) {
	r := &Retriever{
		database:      database,
		aggregator:    aggregator,
		scorer:        NewScorer(cfg.Recommend),
		clock:         c,
		timeout:       cfg.Database.Timeout,
		candidateSize: cfg.Recommend.CandidateSize,
		concurrency:   cfg.Recommend.SignalConcurrency,
		maxLimit:      cfg.Recommend.MaxLimit,
		defaultLimit:  cfg.Recommend.DefaultLimit,
	}
	if cfg.Recommend.CandidateFilter != "" {
		program, err := expr.Compile(cfg.Recommend.CandidateFilter,
			expr.Env(map[string]any{"item": data.Item{}}),
			expr.AsBool())
		if err != nil {
			return nil, errors.Annotate(err, "failed to compile candidate filter")
		}
		r.filter = program
	}
	if cfg.Recommend.ItemCacheTTL > 0 {
		r.items = ttlcache.New[string, data.Item](
			ttlcache.WithTTL[string, data.Item](cfg.Recommend.ItemCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, data.Item](),
		)
	}
	return r, nil
}

// Limit resolves the requested result size.
func (r *Retriever) Limit(limit int) (int, error) {
	if limit < 0 {
		return 0, validationf("limit must not be negative, got %d", limit)
	}
	if limit == 0 {
		limit = r.defaultLimit
	}
	return min(limit, r.maxLimit), nil
}

// ForgetItem drops cached metadata of an item after it was modified.
func (r *Retriever) ForgetItem(itemId string) {
	if r.items != nil {
		r.items.Delete(itemId)
	}
}

func (r *Retriever) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func (r *Retriever) GetRecommendations(ctx context.Context, req RecommendationRequest) ([]ScoredItem, error) {
	limit, err := r.Limit(req.Limit)
	if err != nil {
		return nil, err
	}
	mode := req.Mode()
	start := time.Now()
	defer func() {
		RecommendSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	candidates, err := r.fetchCandidates(ctx, req, mode)
	if err != nil {
		return nil, err
	}
	affinity := r.lookupAffinity(ctx, req.UserId)

	scoreCtx, span := tracer.Start(ctx, "score_and_rank")
	signals := r.lookupSignals(scoreCtx, candidates)
	if mode == ModeColdStart {
		candidates = r.hottest(candidates, signals)
	}
	scored := r.scorer.ScoreAll(affinity, candidates, signals, r.clock.Now())
	CandidatesScored.Observe(float64(len(scored)))
	span.SetAttributes(attribute.Int("candidates", len(scored)))
	span.End()

	_, span = tracer.Start(ctx, "filter_and_truncate")
	defer span.End()
	if req.ExcludeViewed && req.UserId != "" {
		viewed := mapset.NewThreadUnsafeSet(affinity.RecentItemIds...)
		scored = lo.Filter(scored, func(item ScoredItem, _ int) bool {
			return !viewed.Contains(item.ItemId)
		})
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	span.SetAttributes(attribute.Int("results", len(scored)))
	return scored, nil
}

func (r *Retriever) fetchCandidates(ctx context.Context, req RecommendationRequest, mode string) ([]data.Item, error) {
	ctx, span := tracer.Start(ctx, "candidate_fetch")
	defer span.End()
	span.SetAttributes(attribute.String("mode", mode))
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		candidates []data.Item
		err        error
	)
	switch mode {
	case ModeCategory:
		candidates, err = r.database.ListActiveItems(ctx, r.candidateSize, req.Category)
	case ModePersonalized:
		candidates, err = r.database.ListActiveItems(ctx, r.candidateSize, "")
	default:
		// stored popularity is a lifetime count, so fresh items are recalled
		// as well and ranked by decayed popularity later
		if candidates, err = r.database.ListTrendingItems(ctx, r.candidateSize, ""); err == nil {
			var latest []data.Item
			latest, err = r.database.ListActiveItems(ctx, r.candidateSize, "")
			candidates = append(candidates, latest...)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "candidate fetch failed")
		return nil, upstream(err, "failed to fetch candidates")
	}
	return r.prepare(candidates, func(item data.Item) bool {
		return req.Category == "" || item.Category == req.Category
	}), nil
}

// prepare drops duplicate, hidden and filtered out candidates.
func (r *Retriever) prepare(candidates []data.Item, keep func(data.Item) bool) []data.Item {
	candidates = lo.UniqBy(candidates, func(item data.Item) string { return item.ItemId })
	return lo.Filter(candidates, func(item data.Item, _ int) bool {
		if item.IsHidden || !keep(item) {
			return false
		}
		if r.filter == nil {
			return true
		}
		result, err := expr.Run(r.filter, map[string]any{"item": item})
		if err != nil {
			log.Logger().Warn("failed to evaluate candidate filter", zap.String("item_id", item.ItemId), zap.Error(err))
			return false
		}
		return result.(bool)
	})
}

// lookupSignals loads decayed popularity of candidates through the
// aggregator. Candidates whose signal cannot be loaded are left out of the
// result and scored with their stored popularity.
func (r *Retriever) lookupSignals(ctx context.Context, candidates []data.Item) map[string]ItemSignal {
	signals := make([]ItemSignal, len(candidates))
	loaded := make([]bool, len(candidates))
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(max(r.concurrency, 1))
	for i, item := range candidates {
		g.Go(func() error {
			signal, err := r.aggregator.ItemSignalOf(ctx, item)
			if err != nil {
				failed.Add(1)
				return nil
			}
			signals[i], loaded[i] = signal, true
			return nil
		})
	}
	_ = g.Wait()
	if n := failed.Load(); n > 0 {
		SignalFallbacks.Add(float64(n))
		log.Logger().Warn("failed to load item signals, fall back to stored popularity",
			zap.Int32("failed", n), zap.Int("candidates", len(candidates)))
	}
	result := make(map[string]ItemSignal, len(candidates))
	for i, signal := range signals {
		if loaded[i] {
			result[signal.ItemId] = signal
		}
	}
	return result
}

// hottest keeps the candidates with the highest decayed popularity.
func (r *Retriever) hottest(candidates []data.Item, signals map[string]ItemSignal) []data.Item {
	if len(candidates) <= r.candidateSize {
		return candidates
	}
	filter := heap.NewTopKFilter[string, float64](r.candidateSize)
	for _, item := range candidates {
		filter.Push(item.ItemId, signalFor(signals, item).Popularity)
	}
	byId := lo.KeyBy(candidates, func(item data.Item) string { return item.ItemId })
	ids, _ := filter.PopAll()
	return lo.Map(ids, func(id string, _ int) data.Item { return byId[id] })
}

func (r *Retriever) lookupAffinity(ctx context.Context, userId string) UserAffinity {
	if userId == "" {
		return UserAffinity{}
	}
	ctx, span := tracer.Start(ctx, "affinity_lookup")
	defer span.End()
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	affinity, err := r.aggregator.GetUserAffinity(ctx, userId)
	if err != nil {
		span.RecordError(err)
		log.Logger().Warn("failed to look up affinity, fall back to empty affinity",
			zap.String("user_id", userId), zap.Error(err))
		return UserAffinity{UserId: userId}
	}
	return affinity
}

// GetSimilarItems ranks active items sharing the category of an item. The
// item itself is never returned.
func (r *Retriever) GetSimilarItems(ctx context.Context, itemId string, limit int) ([]ScoredItem, error) {
	if itemId == "" {
		return nil, validationf("item id is required")
	}
	limit, err := r.Limit(limit)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		RecommendSeconds.WithLabelValues(ModeSimilar).Observe(time.Since(start).Seconds())
	}()

	target, err := r.getItem(ctx, itemId)
	if err != nil {
		return nil, err
	}
	if target.Category == "" {
		return []ScoredItem{}, nil
	}

	fetchCtx, span := tracer.Start(ctx, "candidate_fetch")
	fetchCtx, cancel := r.withTimeout(fetchCtx)
	candidates, err := r.database.ListActiveItems(fetchCtx, r.candidateSize, target.Category)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "candidate fetch failed")
		span.End()
		return nil, upstream(err, "failed to fetch candidates")
	}
	candidates = r.prepare(candidates, func(item data.Item) bool {
		return item.ItemId != itemId && item.Category == target.Category
	})
	span.End()

	scoreCtx, span := tracer.Start(ctx, "score_and_rank")
	signals := r.lookupSignals(scoreCtx, candidates)
	scored := r.scorer.ScoreAll(UserAffinity{}, candidates, signals, r.clock.Now())
	span.End()
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (r *Retriever) getItem(ctx context.Context, itemId string) (data.Item, error) {
	if r.items != nil {
		if cached := r.items.Get(itemId); cached != nil {
			return cached.Value(), nil
		}
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	item, err := r.database.GetItem(ctx, itemId)
	if errors.Is(err, errors.NotFound) {
		return data.Item{}, err
	} else if err != nil {
		return data.Item{}, upstream(err, "failed to get item "+itemId)
	}
	if r.items != nil {
		r.items.Set(itemId, item, ttlcache.DefaultTTL)
	}
	return item, nil
}
