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
	"time"

	"github.com/zaillisy/goryl/storage/data"
)

// UserAffinity is the decayed preference of a user per category, folded from
// the user's interactions.
type UserAffinity struct {
	UserId         string
	CategoryScores map[string]float64
	// RecentItemIds holds the most recently interacted items, newest first.
	RecentItemIds []string
}

// MaxCategoryScore returns the largest category score, or 0 without data.
func (a UserAffinity) MaxCategoryScore() float64 {
	var maxScore float64
	for _, score := range a.CategoryScores {
		maxScore = max(maxScore, score)
	}
	return maxScore
}

// ItemSignal is the decayed popularity of an item.
type ItemSignal struct {
	ItemId     string
	Category   string
	CreatedAt  time.Time
	Popularity float64
}

// SignalOf returns the signal carried by an item record.
func SignalOf(item data.Item) ItemSignal {
	return ItemSignal{
		ItemId:     item.ItemId,
		Category:   item.Category,
		CreatedAt:  item.Timestamp,
		Popularity: item.Popularity,
	}
}

type RecommendationRequest struct {
	UserId        string
	Category      string
	Limit         int
	ExcludeViewed bool
}

// Mode reports which candidate source serves the request.
func (r RecommendationRequest) Mode() string {
	if r.Category != "" {
		return ModeCategory
	} else if r.UserId != "" {
		return ModePersonalized
	}
	return ModeColdStart
}

type ScoredItem struct {
	data.Item
	Score float64
}
