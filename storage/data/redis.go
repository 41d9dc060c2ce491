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
	"encoding/json"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"github.com/zaillisy/goryl/storage"
)

// maxTxRetries bounds optimistic retries of watched transactions.
const maxTxRetries = 100

// Redis stores items in hashes and interactions in lists. Listing items scans
// every item, so it is meant for tests and small deployments.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

func (r *Redis) itemKey(itemId string) string {
	return r.ItemsTable() + "/" + itemId
}

func (r *Redis) userInteractionsKey(userId string) string {
	return r.InteractionsTable() + "/user/" + userId
}

func (r *Redis) itemInteractionsKey(itemId string) string {
	return r.InteractionsTable() + "/item/" + itemId
}

func (r *Redis) eventKey(eventId string) string {
	return r.InteractionsTable() + "/event/" + eventId
}

// Init does nothing.
func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Purge() error {
	ctx := context.Background()
	for _, pattern := range []string{r.ItemsTable() + "*", r.InteractionsTable() + "*"} {
		var cursor uint64
		for {
			keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return errors.Trace(err)
			}
			if len(keys) > 0 {
				if err = r.client.Del(ctx, keys...).Err(); err != nil {
					return errors.Trace(err)
				}
			}
			if cursor = next; cursor == 0 {
				break
			}
		}
	}
	return nil
}

func (r *Redis) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range dedupItems(items) {
			pipe.SAdd(ctx, r.ItemsTable(), item.ItemId)
			pipe.HSet(ctx, r.itemKey(item.ItemId),
				"item_id", item.ItemId,
				"category", item.Category,
				"time_stamp", item.Timestamp.Format(time.RFC3339Nano),
				"is_hidden", strconv.FormatBool(item.IsHidden),
				"comment", item.Comment)
			pipe.HSetNX(ctx, r.itemKey(item.ItemId), "popularity", item.Popularity)
		}
		return nil
	})
	return errors.Trace(err)
}

func parseItem(fields map[string]string) (Item, error) {
	item := Item{
		ItemId:   fields["item_id"],
		Category: fields["category"],
		Comment:  fields["comment"],
	}
	var err error
	if item.Timestamp, err = time.Parse(time.RFC3339Nano, fields["time_stamp"]); err != nil {
		return Item{}, errors.Trace(err)
	}
	if item.IsHidden, err = strconv.ParseBool(fields["is_hidden"]); err != nil {
		return Item{}, errors.Trace(err)
	}
	if item.Popularity, err = strconv.ParseFloat(fields["popularity"], 64); err != nil {
		return Item{}, errors.Trace(err)
	}
	return item, nil
}

func (r *Redis) GetItem(ctx context.Context, itemId string) (Item, error) {
	fields, err := r.client.HGetAll(ctx, r.itemKey(itemId)).Result()
	if err != nil {
		return Item{}, errors.Trace(err)
	}
	if len(fields) == 0 {
		return Item{}, errors.Annotate(ErrItemNotExist, itemId)
	}
	return parseItem(fields)
}

func (r *Redis) ModifyItem(ctx context.Context, itemId string, patch ItemPatch) error {
	exists, err := r.client.Exists(ctx, r.itemKey(itemId)).Result()
	if err != nil {
		return errors.Trace(err)
	}
	if exists == 0 {
		return errors.Annotate(ErrItemNotExist, itemId)
	}
	var values []any
	if patch.IsHidden != nil {
		values = append(values, "is_hidden", strconv.FormatBool(*patch.IsHidden))
	}
	if patch.Category != nil {
		values = append(values, "category", *patch.Category)
	}
	if patch.Comment != nil {
		values = append(values, "comment", *patch.Comment)
	}
	if len(values) == 0 {
		return nil
	}
	return errors.Trace(r.client.HSet(ctx, r.itemKey(itemId), values...).Err())
}

func (r *Redis) allItems(ctx context.Context) ([]Item, error) {
	itemIds, err := r.client.SMembers(ctx, r.ItemsTable()).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(itemIds))
	if _, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, itemId := range itemIds {
			cmds[i] = pipe.HGetAll(ctx, r.itemKey(itemId))
		}
		return nil
	}); err != nil {
		return nil, errors.Trace(err)
	}
	items := make([]Item, 0, len(itemIds))
	for _, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		item, err := parseItem(cmd.Val())
		if err != nil {
			return nil, errors.Trace(err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Redis) ListActiveItems(ctx context.Context, n int, category string) ([]Item, error) {
	items, err := r.allItems(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return selectLatest(items, n, category), nil
}

func (r *Redis) ListTrendingItems(ctx context.Context, n int, category string) ([]Item, error) {
	items, err := r.allItems(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return selectTrending(items, n, category), nil
}

func (r *Redis) AppendInteraction(ctx context.Context, interaction Interaction) error {
	interaction.Timestamp = interaction.Timestamp.UTC()
	payload, err := json.Marshal(interaction)
	if err != nil {
		return errors.Trace(err)
	}
	eventKey, itemKey := r.eventKey(interaction.EventId), r.itemKey(interaction.ItemId)
	// the event guard, both timelines and the popularity bump are written in
	// one MULTI, retried while the watched keys change underneath
	write := func(tx *redis.Tx) error {
		duplicate, err := tx.Exists(ctx, eventKey).Result()
		if err != nil {
			return errors.Trace(err)
		}
		if duplicate > 0 {
			return errors.AlreadyExistsf("interaction %s", interaction.EventId)
		}
		known, err := tx.Exists(ctx, itemKey).Result()
		if err != nil {
			return errors.Trace(err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, eventKey, interaction.UserId, 0)
			pipe.RPush(ctx, r.userInteractionsKey(interaction.UserId), payload)
			pipe.RPush(ctx, r.itemInteractionsKey(interaction.ItemId), payload)
			if known > 0 {
				pipe.HIncrByFloat(ctx, itemKey, "popularity", 1)
			}
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err = r.client.Watch(ctx, write, eventKey, itemKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return errors.Trace(err)
		}
	}
	return errors.Annotatef(err, "append interaction %s", interaction.EventId)
}

func (r *Redis) queryInteractions(ctx context.Context, key string, since *time.Time) ([]Interaction, error) {
	payloads, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	interactions := make([]Interaction, 0, len(payloads))
	for _, payload := range payloads {
		var interaction Interaction
		if err = json.Unmarshal([]byte(payload), &interaction); err != nil {
			return nil, errors.Trace(err)
		}
		interactions = append(interactions, interaction)
	}
	interactions = filterSince(interactions, since)
	SortInteractions(interactions)
	return interactions, nil
}

func (r *Redis) QueryUserInteractions(ctx context.Context, userId string, since *time.Time) ([]Interaction, error) {
	return r.queryInteractions(ctx, r.userInteractionsKey(userId), since)
}

func (r *Redis) QueryItemInteractions(ctx context.Context, itemId string, since *time.Time) ([]Interaction, error) {
	return r.queryInteractions(ctx, r.itemInteractionsKey(itemId), since)
}
