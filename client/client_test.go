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

package client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"github.com/zaillisy/goryl/base/clock"
	"github.com/zaillisy/goryl/common/parallel"
	"github.com/zaillisy/goryl/config"
	"github.com/zaillisy/goryl/server"
	"github.com/zaillisy/goryl/storage/data"
)

const apiKey = "test_api_key"

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

type GorylClientTestSuite struct {
	suite.Suite
	dataClient data.Database
	httpServer *httptest.Server
	client     *GorylClient
}

func (suite *GorylClientTestSuite) SetupSuite() {
	var err error
	suite.dataClient, err = data.Open(fmt.Sprintf("sqlite://%s/data.db", suite.T().TempDir()), "")
	suite.Require().NoError(err)
	suite.Require().NoError(suite.dataClient.Init())
	cfg := config.GetDefaultConfig()
	cfg.Server.APIKey = apiKey
	restServer, err := server.NewRestServer(cfg, suite.dataClient, clock.NewManual(now), parallel.NewSequentialPool())
	suite.Require().NoError(err)
	suite.httpServer = httptest.NewServer(restServer.Handler())
	suite.client = NewGorylClient(suite.httpServer.URL, apiKey)
}

func (suite *GorylClientTestSuite) TearDownSuite() {
	suite.httpServer.Close()
	suite.NoError(suite.dataClient.Close())
}

func (suite *GorylClientTestSuite) TestItems() {
	ctx := context.Background()
	rows, err := suite.client.InsertItems(ctx, []Item{
		{ItemId: "1", Category: "shoes", Timestamp: "2026-04-30T00:00:00Z", Popularity: 2},
		{ItemId: "2", Category: "shoes", Timestamp: "2026-04-29T00:00:00Z", Popularity: 4},
		{ItemId: "3", Category: "bags", Timestamp: "2026-04-28T00:00:00Z"},
	})
	suite.NoError(err)
	suite.Equal(3, rows.RowAffected)

	item, err := suite.client.GetItem(ctx, "1")
	suite.NoError(err)
	suite.Equal("shoes", item.Category)
	suite.True(item.Timestamp.Equal(time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)))
	_, err = suite.client.GetItem(ctx, "4")
	suite.Error(err)

	rows, err = suite.client.ModifyItem(ctx, "3", ItemPatch{Comment: lo.ToPtr("bag")})
	suite.NoError(err)
	suite.Equal(1, rows.RowAffected)
	item, err = suite.client.GetItem(ctx, "3")
	suite.NoError(err)
	suite.Equal("bag", item.Comment)

	similar, err := suite.client.GetSimilar(ctx, "1", 10)
	suite.NoError(err)
	suite.Equal([]string{"2"}, lo.Map(similar, func(item ScoredItem, _ int) string { return item.ItemId }))

	rows, err = suite.client.InsertInteraction(ctx, Interaction{UserId: "u1", ItemId: "3", Type: "like"})
	suite.NoError(err)
	suite.Equal(1, rows.RowAffected)
	_, err = suite.client.InsertInteraction(ctx, Interaction{UserId: "u1", ItemId: "3", Type: "poke"})
	suite.Error(err)
	interactions, err := suite.client.GetUserInteractions(ctx, "u1")
	suite.NoError(err)
	if suite.Len(interactions, 1) {
		suite.Equal("bags", interactions[0].Category)
	}
	interactions, err = suite.client.GetItemInteractions(ctx, "3")
	suite.NoError(err)
	suite.Len(interactions, 1)

	affinity, err := suite.client.GetAffinity(ctx, "u1")
	suite.NoError(err)
	suite.Equal(map[string]float64{"bags": 3}, affinity.CategoryScores)

	recommend, err := suite.client.GetRecommend(ctx, RecommendOptions{UserId: "u1", N: 2})
	suite.NoError(err)
	suite.Len(recommend, 2)
	suite.Equal("3", recommend[0].ItemId)
	recommend, err = suite.client.GetRecommend(ctx, RecommendOptions{UserId: "u1", ExcludeViewed: true})
	suite.NoError(err)
	suite.NotContains(lo.Map(recommend, func(item ScoredItem, _ int) string { return item.ItemId }), "3")

	rows, err = suite.client.ClearCache(ctx, "")
	suite.NoError(err)
	suite.Positive(rows.RowAffected)
}

func TestGorylClient(t *testing.T) {
	suite.Run(t, new(GorylClientTestSuite))
}
