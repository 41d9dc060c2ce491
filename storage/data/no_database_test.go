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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoDatabase(t *testing.T) {
	ctx := context.Background()
	var database NoDatabase
	assert.ErrorIs(t, database.Init(), ErrNoDatabase)
	assert.ErrorIs(t, database.Ping(), ErrNoDatabase)
	assert.ErrorIs(t, database.Close(), ErrNoDatabase)
	assert.ErrorIs(t, database.Purge(), ErrNoDatabase)
	assert.ErrorIs(t, database.BatchInsertItems(ctx, nil), ErrNoDatabase)
	_, err := database.GetItem(ctx, "")
	assert.ErrorIs(t, err, ErrNoDatabase)
	assert.ErrorIs(t, database.ModifyItem(ctx, "", ItemPatch{}), ErrNoDatabase)
	_, err = database.ListActiveItems(ctx, 0, "")
	assert.ErrorIs(t, err, ErrNoDatabase)
	_, err = database.ListTrendingItems(ctx, 0, "")
	assert.ErrorIs(t, err, ErrNoDatabase)
	assert.ErrorIs(t, database.AppendInteraction(ctx, Interaction{}), ErrNoDatabase)
	_, err = database.QueryUserInteractions(ctx, "", nil)
	assert.ErrorIs(t, err, ErrNoDatabase)
	_, err = database.QueryItemInteractions(ctx, "", nil)
	assert.ErrorIs(t, err, ErrNoDatabase)
}
