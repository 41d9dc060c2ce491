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
	"cmp"
	"slices"
	"time"

	"github.com/zaillisy/goryl/config"
	"github.com/zaillisy/goryl/storage/data"
)

// Weights combine the score components. They sum to 1.
type Weights struct {
	Affinity   float64
	Popularity float64
	Recency    float64
}

// ScoreContext carries the inputs shared by every candidate of a call.
type ScoreContext struct {
	Now           time.Time
	MaxPopularity float64
}

// Scorer rates candidates on a 0-100 scale. It holds no state besides its
// parameters, so equal inputs always produce equal scores.
type Scorer struct {
	Weights       Weights
	RecencyCutoff time.Duration
}

func NewScorer(cfg config.RecommendConfig) *Scorer {
	return &Scorer{
		Weights: Weights{
			Affinity:   cfg.AffinityWeight,
			Popularity: cfg.PopularityWeight,
			Recency:    cfg.RecencyWeight,
		},
		RecencyCutoff: cfg.RecencyCutoff,
	}
}

// AffinityComponent is the user's score for the category relative to the
// user's favorite category.
func AffinityComponent(affinity UserAffinity, category string) float64 {
	maxScore := affinity.MaxCategoryScore()
	if maxScore <= 0 {
		return 0
	}
	return clamp(affinity.CategoryScores[category] / maxScore)
}

// PopularityComponent is the popularity relative to the most popular candidate.
func PopularityComponent(popularity, maxPopularity float64) float64 {
	if maxPopularity <= 0 {
		return 0
	}
	return clamp(popularity / maxPopularity)
}

// RecencyComponent falls linearly from 1 for a new item to 0 at the cutoff.
func RecencyComponent(createdAt, now time.Time, cutoff time.Duration) float64 {
	if cutoff <= 0 {
		return 0
	}
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1
	}
	return clamp(1 - float64(age)/float64(cutoff))
}

func clamp(x float64) float64 {
	return max(0, min(1, x))
}

// Score rates an item for a user. Category and creation time come from the
// item, popularity from the signal.
func (s *Scorer) Score(affinity UserAffinity, signal ItemSignal, item data.Item, sc ScoreContext) float64 {
	score := s.Weights.Affinity*AffinityComponent(affinity, item.Category) +
		s.Weights.Popularity*PopularityComponent(signal.Popularity, sc.MaxPopularity) +
		s.Weights.Recency*RecencyComponent(item.Timestamp, sc.Now, s.RecencyCutoff)
	return 100 * score
}

// ScoreAll scores candidates with their decayed signals and returns them
// ranked. Popularity is normalized against the largest signal among the
// candidates. A candidate without a signal falls back to its stored
// popularity.
func (s *Scorer) ScoreAll(affinity UserAffinity, candidates []data.Item, signals map[string]ItemSignal, now time.Time) []ScoredItem {
	sc := ScoreContext{Now: now}
	for _, item := range candidates {
		sc.MaxPopularity = max(sc.MaxPopularity, signalFor(signals, item).Popularity)
	}
	scored := make([]ScoredItem, len(candidates))
	for i, item := range candidates {
		scored[i] = ScoredItem{Item: item, Score: s.Score(affinity, signalFor(signals, item), item, sc)}
	}
	Rank(scored)
	return scored
}

func signalFor(signals map[string]ItemSignal, item data.Item) ItemSignal {
	if signal, ok := signals[item.ItemId]; ok {
		return signal
	}
	return SignalOf(item)
}

// Rank orders items by score descending, then by item id.
func Rank(items []ScoredItem) {
	slices.SortFunc(items, func(a, b ScoredItem) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemId, b.ItemId)
	})
}
