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
	"time"
)

// NoDatabase means that no database connected.
type NoDatabase struct{}

func (NoDatabase) Init() error {
	return ErrNoDatabase
}

func (NoDatabase) Ping() error {
	return ErrNoDatabase
}

func (NoDatabase) Close() error {
	return ErrNoDatabase
}

func (NoDatabase) Purge() error {
	return ErrNoDatabase
}

func (NoDatabase) BatchInsertItems(context.Context, []Item) error {
	return ErrNoDatabase
}

func (NoDatabase) GetItem(context.Context, string) (Item, error) {
	return Item{}, ErrNoDatabase
}

func (NoDatabase) ModifyItem(context.Context, string, ItemPatch) error {
	return ErrNoDatabase
}

func (NoDatabase) ListActiveItems(context.Context, int, string) ([]Item, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) ListTrendingItems(context.Context, int, string) ([]Item, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) AppendInteraction(context.Context, Interaction) error {
	return ErrNoDatabase
}

func (NoDatabase) QueryUserInteractions(context.Context, string, *time.Time) ([]Interaction, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) QueryItemInteractions(context.Context, string, *time.Time) ([]Interaction, error) {
	return nil, ErrNoDatabase
}
