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
	"fmt"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"github.com/zaillisy/goryl/base/clock"
	"github.com/zaillisy/goryl/common/parallel"
	"github.com/zaillisy/goryl/config"
	"github.com/zaillisy/goryl/storage/data"
)

type RetrieverTestSuite struct {
	suite.Suite
	config     *config.Config
	clock      *clock.Manual
	database   *mockDatabase
	aggregator *Aggregator
	recorder   *Recorder
	retriever  *Retriever
}

func (suite *RetrieverTestSuite) SetupTest() {
	suite.config = config.GetDefaultConfig()
	suite.clock = clock.NewManual(now)
	suite.database = newMockDatabase(
		data.Item{ItemId: "b1", Category: "bags", Timestamp: now},
		data.Item{ItemId: "b2", Category: "bags", Timestamp: now},
		data.Item{ItemId: "s1", Category: "shoes", Timestamp: now},
		data.Item{ItemId: "item42", Category: "shoes", Timestamp: now},
		data.Item{ItemId: "b3", Category: "bags", Timestamp: now},
		data.Item{ItemId: "b4", Category: "bags", Timestamp: now},
		data.Item{ItemId: "s2", Category: "shoes", Timestamp: now},
		data.Item{ItemId: "h1", Category: "shoes", Timestamp: now, IsHidden: true},
	)
	suite.seed(map[string]int{"b1": 10, "b2": 8, "s1": 6, "item42": 5, "b3": 4, "b4": 2, "s2": 1, "h1": 100})
	suite.build()
}

// seed appends views of another user at the current time, so that decayed
// and stored popularity agree.
func (suite *RetrieverTestSuite) seed(views map[string]int) {
	ctx := context.Background()
	for itemId, n := range views {
		item, err := suite.database.GetItem(ctx, itemId)
		suite.Require().NoError(err)
		for i := range n {
			suite.Require().NoError(suite.database.AppendInteraction(ctx, data.Interaction{
				EventId:   fmt.Sprintf("seed-%s-%d", itemId, i),
				UserId:    "seed",
				ItemId:    itemId,
				Category:  item.Category,
				Type:      "view",
				Weight:    1,
				Timestamp: suite.clock.Now(),
			}))
		}
	}
}

func (suite *RetrieverTestSuite) build() {
	suite.aggregator = NewAggregator(suite.config, suite.database, suite.clock)
	suite.recorder = NewRecorder(suite.config, suite.database, suite.aggregator, suite.clock, parallel.NewSequentialPool())
	var err error
	suite.retriever, err = NewRetriever(suite.config, suite.database, suite.aggregator, suite.clock)
	suite.Require().NoError(err)
}

func (suite *RetrieverTestSuite) recommend(req RecommendationRequest) []string {
	items, err := suite.retriever.GetRecommendations(context.Background(), req)
	suite.Require().NoError(err)
	ids := lo.Map(items, func(item ScoredItem, _ int) string { return item.ItemId })
	suite.Len(lo.Uniq(ids), len(ids))
	return ids
}

func (suite *RetrieverTestSuite) TestPersonalized() {
	ctx := context.Background()
	suite.Equal([]string{"b1", "b2", "s1", "item42", "b3"}, suite.recommend(RecommendationRequest{UserId: "u1", Limit: 5}))

	suite.NoError(suite.recorder.Record(ctx, "u1", "item42", "purchase"))
	after := suite.recommend(RecommendationRequest{UserId: "u1", Limit: 5})
	suite.Equal([]string{"item42", "s1", "s2", "b1", "b2"}, after)
	suite.Less(lo.IndexOf(after, "s2"), lo.IndexOf(after, "b1"))

	// identical inputs rank identically
	suite.Equal(after, suite.recommend(RecommendationRequest{UserId: "u1", Limit: 5}))

	viewed := suite.recommend(RecommendationRequest{UserId: "u1", Limit: 5, ExcludeViewed: true})
	suite.NotContains(viewed, "item42")
	suite.Equal([]string{"s1", "s2", "b1", "b2", "b3"}, viewed)
}

func (suite *RetrieverTestSuite) TestColdStart() {
	suite.Equal([]string{"b1", "b2", "s1"}, suite.recommend(RecommendationRequest{Limit: 3}))
	// exclusion needs a user
	suite.Equal([]string{"b1", "b2", "s1"}, suite.recommend(RecommendationRequest{Limit: 3, ExcludeViewed: true}))
	items, err := suite.retriever.GetRecommendations(context.Background(), RecommendationRequest{Limit: 1})
	suite.NoError(err)
	suite.InDelta(50, items[0].Score, 1e-9)
}

func (suite *RetrieverTestSuite) TestCategory() {
	suite.Equal([]string{"s1", "item42", "s2"}, suite.recommend(RecommendationRequest{Category: "shoes"}))
	suite.Empty(suite.recommend(RecommendationRequest{Category: "hats"}))

	suite.NoError(suite.recorder.Record(context.Background(), "u1", "b4", "purchase"))
	suite.NoError(suite.recorder.Record(context.Background(), "u1", "s2", "view"))
	suite.Equal([]string{"s1", "item42", "s2"}, suite.recommend(RecommendationRequest{UserId: "u1", Category: "shoes"}))
	suite.Equal([]string{"s1", "item42"}, suite.recommend(RecommendationRequest{UserId: "u1", Category: "shoes", ExcludeViewed: true}))
}

func (suite *RetrieverTestSuite) TestLimit() {
	suite.Len(suite.recommend(RecommendationRequest{UserId: "u1"}), 7)
	suite.Len(suite.recommend(RecommendationRequest{UserId: "u1", Limit: 1000}), 7)
	_, err := suite.retriever.GetRecommendations(context.Background(), RecommendationRequest{Limit: -1})
	suite.ErrorIs(err, ErrValidation)

	suite.config.Recommend.MaxLimit = 2
	suite.config.Recommend.DefaultLimit = 1
	suite.build()
	suite.Len(suite.recommend(RecommendationRequest{UserId: "u1"}), 1)
	suite.Len(suite.recommend(RecommendationRequest{UserId: "u1", Limit: 1000}), 2)
}

func (suite *RetrieverTestSuite) TestUpstream() {
	suite.database.failItems.Store(true)
	_, err := suite.retriever.GetRecommendations(context.Background(), RecommendationRequest{UserId: "u1"})
	suite.ErrorIs(err, ErrUpstreamUnavailable)
	_, err = suite.retriever.GetRecommendations(context.Background(), RecommendationRequest{})
	suite.ErrorIs(err, ErrUpstreamUnavailable)
}

func (suite *RetrieverTestSuite) TestAffinityFailure() {
	suite.database.failInteractions.Store(true)
	suite.Equal([]string{"b1", "b2", "s1"}, suite.recommend(RecommendationRequest{UserId: "u1", Limit: 3}))
}

func (suite *RetrieverTestSuite) TestCandidateFilter() {
	suite.config.Recommend.CandidateFilter = `item.Category != "bags"`
	suite.build()
	suite.Equal([]string{"s1", "item42", "s2"}, suite.recommend(RecommendationRequest{UserId: "u1"}))

	suite.config.Recommend.CandidateFilter = `item.Popularity`
	_, err := NewRetriever(suite.config, suite.database, suite.aggregator, suite.clock)
	suite.Error(err)
}

func (suite *RetrieverTestSuite) TestPrepare() {
	candidates := suite.retriever.prepare([]data.Item{
		{ItemId: "1", Comment: "first"},
		{ItemId: "2", IsHidden: true},
		{ItemId: "1", Comment: "second"},
		{ItemId: "3"},
	}, func(data.Item) bool { return true })
	suite.Equal([]string{"1", "3"}, lo.Map(candidates, func(item data.Item, _ int) string { return item.ItemId }))
	suite.Equal("first", candidates[0].Comment)
}

func (suite *RetrieverTestSuite) TestSimilarItems() {
	ctx := context.Background()
	items, err := suite.retriever.GetSimilarItems(ctx, "s1", 10)
	suite.NoError(err)
	suite.Equal([]string{"item42", "s2"}, lo.Map(items, func(item ScoredItem, _ int) string { return item.ItemId }))
	items, err = suite.retriever.GetSimilarItems(ctx, "s1", 1)
	suite.NoError(err)
	suite.Len(items, 1)

	_, err = suite.retriever.GetSimilarItems(ctx, "unknown", 10)
	suite.True(errors.Is(err, errors.NotFound))
	_, err = suite.retriever.GetSimilarItems(ctx, "", 10)
	suite.ErrorIs(err, ErrValidation)

	// target metadata is cached until forgotten
	suite.NoError(suite.database.BatchInsertItems(ctx, []data.Item{{ItemId: "s1", Category: "bags", Timestamp: now}}))
	items, err = suite.retriever.GetSimilarItems(ctx, "s1", 2)
	suite.NoError(err)
	suite.Equal([]string{"item42", "s2"}, lo.Map(items, func(item ScoredItem, _ int) string { return item.ItemId }))
	suite.retriever.ForgetItem("s1")
	items, err = suite.retriever.GetSimilarItems(ctx, "s1", 2)
	suite.NoError(err)
	suite.Equal([]string{"b1", "b2"}, lo.Map(items, func(item ScoredItem, _ int) string { return item.ItemId }))
}

func (suite *RetrieverTestSuite) TestDecayedPopularity() {
	ctx := context.Background()
	suite.database = newMockDatabase(
		data.Item{ItemId: "old", Category: "bags", Timestamp: now},
		data.Item{ItemId: "new", Category: "shoes", Timestamp: now},
	)
	suite.build()
	for i := range 20 {
		suite.NoError(suite.recorder.Record(ctx, fmt.Sprintf("u%d", i), "old", "view"))
	}
	suite.clock.Advance(365 * 24 * time.Hour)
	for i := range 5 {
		suite.NoError(suite.recorder.Record(ctx, fmt.Sprintf("u%d", i), "new", "view"))
	}
	old, err := suite.database.GetItem(ctx, "old")
	suite.NoError(err)
	suite.Equal(20.0, old.Popularity)

	items, err := suite.retriever.GetRecommendations(ctx, RecommendationRequest{Limit: 2})
	suite.NoError(err)
	suite.Equal([]string{"new", "old"}, lo.Map(items, func(item ScoredItem, _ int) string { return item.ItemId }))
	suite.InDelta(30, items[0].Score, 1e-9)
	suite.Less(items[1].Score, 1e-6)

	// the old item is recalled by stored popularity but loses to the fresh one
	suite.config.Recommend.CandidateSize = 1
	suite.build()
	suite.Equal([]string{"new"}, suite.recommend(RecommendationRequest{Limit: 2}))

	// stored popularity is used when signals cannot be loaded
	suite.database.failInteractions.Store(true)
	suite.config.Recommend.CandidateSize = 10
	suite.build()
	suite.Equal([]string{"old", "new"}, suite.recommend(RecommendationRequest{Limit: 2}))
}

func TestRetriever(t *testing.T) {
	suite.Run(t, new(RetrieverTestSuite))
}
