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

package data

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type baseTestSuite struct {
	suite.Suite
	Database Database
}

func (suite *baseTestSuite) SetupTest() {
	suite.NoError(suite.Database.Purge())
}

func (suite *baseTestSuite) TearDownSuite() {
	suite.NoError(suite.Database.Close())
}

func (suite *baseTestSuite) itemIds(items []Item) []string {
	return lo.Map(items, func(item Item, _ int) string { return item.ItemId })
}

func (suite *baseTestSuite) TestItems() {
	ctx := context.Background()
	items := []Item{
		{ItemId: "1", Category: "shoes", Timestamp: epoch, Comment: "one"},
		{ItemId: "2", Category: "bags", Timestamp: epoch.Add(time.Hour), Popularity: 3},
		{ItemId: "3", Category: "shoes", Timestamp: epoch.Add(2 * time.Hour), IsHidden: true},
	}
	suite.NoError(suite.Database.BatchInsertItems(ctx, items))
	suite.NoError(suite.Database.BatchInsertItems(ctx, nil))

	item, err := suite.Database.GetItem(ctx, "1")
	suite.NoError(err)
	suite.Equal(items[0], item)
	item, err = suite.Database.GetItem(ctx, "2")
	suite.NoError(err)
	suite.Equal(3.0, item.Popularity)
	_, err = suite.Database.GetItem(ctx, "4")
	suite.ErrorIs(err, ErrItemNotExist)
	suite.True(errors.Is(err, errors.NotFound))

	// upsert keeps popularity
	suite.NoError(suite.Database.BatchInsertItems(ctx, []Item{
		{ItemId: "2", Category: "hats", Timestamp: epoch, Popularity: 100},
	}))
	item, err = suite.Database.GetItem(ctx, "2")
	suite.NoError(err)
	suite.Equal("hats", item.Category)
	suite.True(epoch.Equal(item.Timestamp))
	suite.Equal(3.0, item.Popularity)

	// modify
	suite.NoError(suite.Database.ModifyItem(ctx, "1", ItemPatch{
		IsHidden: lo.ToPtr(true),
		Category: lo.ToPtr("boots"),
		Comment:  lo.ToPtr("modified"),
	}))
	item, err = suite.Database.GetItem(ctx, "1")
	suite.NoError(err)
	suite.True(item.IsHidden)
	suite.Equal("boots", item.Category)
	suite.Equal("modified", item.Comment)
	suite.NoError(suite.Database.ModifyItem(ctx, "1", ItemPatch{}))
	suite.ErrorIs(suite.Database.ModifyItem(ctx, "4", ItemPatch{Comment: lo.ToPtr("x")}), ErrItemNotExist)
	suite.ErrorIs(suite.Database.ModifyItem(ctx, "4", ItemPatch{}), ErrItemNotExist)
}

func (suite *baseTestSuite) TestListActiveItems() {
	ctx := context.Background()
	var items []Item
	for i := 0; i < 6; i++ {
		items = append(items, Item{
			ItemId:    strconv.Itoa(i),
			Category:  lo.Ternary(i%2 == 0, "even", "odd"),
			Timestamp: epoch.Add(time.Duration(i/2) * time.Hour),
			IsHidden:  i == 5,
		})
	}
	suite.NoError(suite.Database.BatchInsertItems(ctx, items))

	latest, err := suite.Database.ListActiveItems(ctx, 10, "")
	suite.NoError(err)
	suite.Equal([]string{"4", "2", "3", "0", "1"}, suite.itemIds(latest))
	latest, err = suite.Database.ListActiveItems(ctx, 2, "")
	suite.NoError(err)
	suite.Equal([]string{"4", "2"}, suite.itemIds(latest))
	latest, err = suite.Database.ListActiveItems(ctx, 10, "odd")
	suite.NoError(err)
	suite.Equal([]string{"3", "1"}, suite.itemIds(latest))
	latest, err = suite.Database.ListActiveItems(ctx, 10, "unknown")
	suite.NoError(err)
	suite.Empty(latest)
	latest, err = suite.Database.ListActiveItems(ctx, 0, "")
	suite.NoError(err)
	suite.Empty(latest)
}

func (suite *baseTestSuite) TestListTrendingItems() {
	ctx := context.Background()
	suite.NoError(suite.Database.BatchInsertItems(ctx, []Item{
		{ItemId: "a", Category: "x", Timestamp: epoch, Popularity: 1},
		{ItemId: "b", Category: "x", Timestamp: epoch, Popularity: 5},
		{ItemId: "c", Category: "y", Timestamp: epoch, Popularity: 5},
		{ItemId: "d", Category: "y", Timestamp: epoch, Popularity: 9, IsHidden: true},
		{ItemId: "e", Category: "y", Timestamp: epoch},
	}))
	trending, err := suite.Database.ListTrendingItems(ctx, 10, "")
	suite.NoError(err)
	suite.Equal([]string{"b", "c", "a", "e"}, suite.itemIds(trending))
	trending, err = suite.Database.ListTrendingItems(ctx, 1, "y")
	suite.NoError(err)
	suite.Equal([]string{"c"}, suite.itemIds(trending))

	// interactions move items up
	for i := 0; i < 2; i++ {
		suite.NoError(suite.Database.AppendInteraction(ctx, Interaction{
			EventId:   "e" + strconv.Itoa(i),
			UserId:    "u",
			ItemId:    "a",
			Type:      "like",
			Weight:    3,
			Timestamp: epoch,
		}))
	}
	trending, err = suite.Database.ListTrendingItems(ctx, 10, "x")
	suite.NoError(err)
	suite.Equal([]string{"b", "a"}, suite.itemIds(trending))
	suite.Equal(3.0, trending[1].Popularity)
}

func (suite *baseTestSuite) TestInteractions() {
	ctx := context.Background()
	suite.NoError(suite.Database.BatchInsertItems(ctx, []Item{
		{ItemId: "i1", Category: "shoes", Timestamp: epoch},
	}))
	interactions := []Interaction{
		{EventId: "e3", UserId: "u1", ItemId: "i1", Category: "shoes", Type: "purchase", Weight: 10, Timestamp: epoch.Add(3 * time.Minute)},
		{EventId: "e1", UserId: "u1", ItemId: "i1", Category: "shoes", Type: "view", Weight: 1, Timestamp: epoch.Add(time.Minute)},
		{EventId: "e2", UserId: "u1", ItemId: "i2", Category: "", Type: "like", Weight: 3, Timestamp: epoch.Add(2 * time.Minute)},
		{EventId: "e4", UserId: "u2", ItemId: "i1", Category: "shoes", Type: "save", Weight: 4, Timestamp: epoch.Add(2 * time.Minute)},
	}
	for _, interaction := range interactions {
		suite.NoError(suite.Database.AppendInteraction(ctx, interaction))
	}

	// events are immutable
	duplicate := interactions[0]
	duplicate.Type = "view"
	suite.Error(suite.Database.AppendInteraction(ctx, duplicate))

	result, err := suite.Database.QueryUserInteractions(ctx, "u1", nil)
	suite.NoError(err)
	suite.Equal([]Interaction{interactions[1], interactions[2], interactions[0]}, result)
	result, err = suite.Database.QueryUserInteractions(ctx, "u1", lo.ToPtr(epoch.Add(2*time.Minute)))
	suite.NoError(err)
	suite.Equal([]Interaction{interactions[2], interactions[0]}, result)
	result, err = suite.Database.QueryUserInteractions(ctx, "u3", nil)
	suite.NoError(err)
	suite.Empty(result)

	result, err = suite.Database.QueryItemInteractions(ctx, "i1", nil)
	suite.NoError(err)
	suite.Equal([]string{"e1", "e4", "e3"}, lo.Map(result, func(i Interaction, _ int) string { return i.EventId }))

	// popularity counts interactions on known items only
	item, err := suite.Database.GetItem(ctx, "i1")
	suite.NoError(err)
	suite.Equal(3.0, item.Popularity)
	_, err = suite.Database.GetItem(ctx, "i2")
	suite.ErrorIs(err, ErrItemNotExist)
}

func TestSelectItems(t *testing.T) {
	items := []Item{
		{ItemId: "b", Category: "x", Timestamp: epoch, Popularity: 2},
		{ItemId: "a", Category: "x", Timestamp: epoch, Popularity: 2},
		{ItemId: "c", Category: "y", Timestamp: epoch.Add(time.Second), Popularity: 1},
		{ItemId: "d", Category: "y", Timestamp: epoch.Add(time.Hour), Popularity: 8, IsHidden: true},
	}
	ids := func(items []Item) []string {
		return lo.Map(items, func(item Item, _ int) string { return item.ItemId })
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids(selectLatest(items, 5, "")))
	assert.Equal(t, []string{"a", "b"}, ids(selectLatest(items, 5, "x")))
	assert.Equal(t, []string{"a", "b", "c"}, ids(selectTrending(items, 5, "")))
	assert.Equal(t, []string{"a"}, ids(selectTrending(items, 1, "")))
	assert.Empty(t, selectTrending(items, 0, ""))
}

func TestDedupItems(t *testing.T) {
	items := dedupItems([]Item{
		{ItemId: "a", Comment: "first"},
		{ItemId: "b"},
		{ItemId: "a", Comment: "second"},
	})
	assert.Equal(t, []string{"a", "b"}, lo.Map(items, func(item Item, _ int) string { return item.ItemId }))
	assert.Equal(t, "second", items[0].Comment)
}

func TestSortInteractions(t *testing.T) {
	interactions := []Interaction{
		{EventId: "b", Timestamp: epoch},
		{EventId: "c", Timestamp: epoch.Add(-time.Second)},
		{EventId: "a", Timestamp: epoch},
	}
	SortInteractions(interactions)
	assert.Equal(t, []string{"c", "a", "b"}, lo.Map(interactions, func(i Interaction, _ int) string { return i.EventId }))
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open("cassandra://localhost", "")
	assert.Error(t, err)
}
