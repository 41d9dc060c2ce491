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
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/zaillisy/goryl/storage/data"
)

var errUnreachable = errors.New("connection refused")

// mockDatabase keeps items and interactions in memory. Reads and writes can
// be switched to fail.
type mockDatabase struct {
	data.NoDatabase
	mu           sync.Mutex
	items        map[string]data.Item
	interactions []data.Interaction

	failItems        atomic.Bool
	failInteractions atomic.Bool
	failAppend       atomic.Bool
	userQueries      atomic.Int32
}

func newMockDatabase(items ...data.Item) *mockDatabase {
	db := &mockDatabase{items: make(map[string]data.Item)}
	_ = db.BatchInsertItems(context.Background(), items)
	return db
}

func (db *mockDatabase) BatchInsertItems(_ context.Context, items []data.Item) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, item := range items {
		if existing, ok := db.items[item.ItemId]; ok {
			item.Popularity = existing.Popularity
		}
		db.items[item.ItemId] = item
	}
	return nil
}

func (db *mockDatabase) GetItem(_ context.Context, itemId string) (data.Item, error) {
	if db.failItems.Load() {
		return data.Item{}, errUnreachable
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	item, ok := db.items[itemId]
	if !ok {
		return data.Item{}, errors.Annotate(data.ErrItemNotExist, itemId)
	}
	return item, nil
}

func (db *mockDatabase) list(n int, category string, compare func(a, b data.Item) int) ([]data.Item, error) {
	if db.failItems.Load() {
		return nil, errUnreachable
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	items := lo.Filter(lo.Values(db.items), func(item data.Item, _ int) bool {
		return !item.IsHidden && (category == "" || item.Category == category)
	})
	slices.SortFunc(items, func(a, b data.Item) int {
		if c := compare(a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemId, b.ItemId)
	})
	return items[:min(max(n, 0), len(items))], nil
}

func (db *mockDatabase) ListActiveItems(_ context.Context, n int, category string) ([]data.Item, error) {
	return db.list(n, category, func(a, b data.Item) int { return b.Timestamp.Compare(a.Timestamp) })
}

func (db *mockDatabase) ListTrendingItems(_ context.Context, n int, category string) ([]data.Item, error) {
	return db.list(n, category, func(a, b data.Item) int { return cmp.Compare(b.Popularity, a.Popularity) })
}

func (db *mockDatabase) AppendInteraction(_ context.Context, interaction data.Interaction) error {
	if db.failAppend.Load() {
		return errUnreachable
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if lo.ContainsBy(db.interactions, func(i data.Interaction) bool { return i.EventId == interaction.EventId }) {
		return errors.AlreadyExistsf("interaction %s", interaction.EventId)
	}
	db.interactions = append(db.interactions, interaction)
	if item, ok := db.items[interaction.ItemId]; ok {
		item.Popularity++
		db.items[interaction.ItemId] = item
	}
	return nil
}

func (db *mockDatabase) query(match func(data.Interaction) bool, since *time.Time) ([]data.Interaction, error) {
	if db.failInteractions.Load() {
		return nil, errUnreachable
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	result := lo.Filter(db.interactions, func(i data.Interaction, _ int) bool {
		return match(i) && (since == nil || !i.Timestamp.Before(*since))
	})
	data.SortInteractions(result)
	return result, nil
}

func (db *mockDatabase) QueryUserInteractions(_ context.Context, userId string, since *time.Time) ([]data.Interaction, error) {
	db.userQueries.Add(1)
	return db.query(func(i data.Interaction) bool { return i.UserId == userId }, since)
}

func (db *mockDatabase) QueryItemInteractions(_ context.Context, itemId string, since *time.Time) ([]data.Interaction, error) {
	return db.query(func(i data.Interaction) bool { return i.ItemId == itemId }, since)
}
