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

	"github.com/juju/errors"
	"github.com/zaillisy/goryl/base/log"
	"github.com/zaillisy/goryl/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type mongoItem struct {
	ItemId     string    `bson:"_id"`
	Category   string    `bson:"category"`
	Timestamp  time.Time `bson:"time_stamp"`
	IsHidden   bool      `bson:"is_hidden"`
	Popularity float64   `bson:"popularity"`
	Comment    string    `bson:"comment"`
}

func (doc mongoItem) toItem() Item {
	return Item{
		ItemId:     doc.ItemId,
		Category:   doc.Category,
		Timestamp:  doc.Timestamp.UTC(),
		IsHidden:   doc.IsHidden,
		Popularity: doc.Popularity,
		Comment:    doc.Comment,
	}
}

type mongoInteraction struct {
	EventId   string    `bson:"_id"`
	UserId    string    `bson:"user_id"`
	ItemId    string    `bson:"item_id"`
	Category  string    `bson:"category"`
	Type      string    `bson:"interaction_type"`
	Weight    float64   `bson:"weight"`
	Timestamp time.Time `bson:"time_stamp"`
}

func (doc mongoInteraction) toInteraction() Interaction {
	return Interaction{
		EventId:   doc.EventId,
		UserId:    doc.UserId,
		ItemId:    doc.ItemId,
		Category:  doc.Category,
		Type:      doc.Type,
		Weight:    doc.Weight,
		Timestamp: doc.Timestamp.UTC(),
	}
}

// MongoDB is the data storage based on MongoDB.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

func (db *MongoDB) items() *mongo.Collection {
	return db.client.Database(db.dbName).Collection(db.ItemsTable())
}

func (db *MongoDB) interactions() *mongo.Collection {
	return db.client.Database(db.dbName).Collection(db.InteractionsTable())
}

// Init creates collections and indices.
func (db *MongoDB) Init() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	existed := make(map[string]bool, len(collections))
	for _, name := range collections {
		existed[name] = true
	}
	for _, name := range []string{db.ItemsTable(), db.InteractionsTable()} {
		if !existed[name] {
			if err = d.CreateCollection(ctx, name); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if _, err = db.items().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "is_hidden", Value: 1}, {Key: "time_stamp", Value: -1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "is_hidden", Value: 1}, {Key: "popularity", Value: -1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
	}); err != nil {
		return errors.Trace(err)
	}
	if _, err = db.interactions().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "time_stamp", Value: 1}}},
		{Keys: bson.D{{Key: "item_id", Value: 1}, {Key: "time_stamp", Value: 1}}},
	}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (db *MongoDB) Ping() error {
	return db.client.Ping(context.Background(), nil)
}

func (db *MongoDB) Close() error {
	return db.client.Disconnect(context.Background())
}

func (db *MongoDB) Purge() error {
	ctx := context.Background()
	for _, c := range []*mongo.Collection{db.items(), db.interactions()} {
		if _, err := c.DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (db *MongoDB) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	var models []mongo.WriteModel
	for _, item := range dedupItems(items) {
		models = append(models, mongo.NewUpdateOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"_id": item.ItemId}).
			SetUpdate(bson.M{
				"$set": bson.M{
					"category":   item.Category,
					"time_stamp": item.Timestamp,
					"is_hidden":  item.IsHidden,
					"comment":    item.Comment,
				},
				"$setOnInsert": bson.M{"popularity": item.Popularity},
			}))
	}
	_, err := db.items().BulkWrite(ctx, models)
	return errors.Trace(err)
}

func (db *MongoDB) GetItem(ctx context.Context, itemId string) (Item, error) {
	var doc mongoItem
	err := db.items().FindOne(ctx, bson.M{"_id": itemId}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Item{}, errors.Annotate(ErrItemNotExist, itemId)
	} else if err != nil {
		return Item{}, errors.Trace(err)
	}
	return doc.toItem(), nil
}

func (db *MongoDB) ModifyItem(ctx context.Context, itemId string, patch ItemPatch) error {
	update := bson.M{}
	if patch.IsHidden != nil {
		update["is_hidden"] = *patch.IsHidden
	}
	if patch.Category != nil {
		update["category"] = *patch.Category
	}
	if patch.Comment != nil {
		update["comment"] = *patch.Comment
	}
	var (
		result *mongo.UpdateResult
		err    error
	)
	if len(update) == 0 {
		var count int64
		if count, err = db.items().CountDocuments(ctx, bson.M{"_id": itemId}); err != nil {
			return errors.Trace(err)
		}
		result = &mongo.UpdateResult{MatchedCount: count}
	} else if result, err = db.items().UpdateOne(ctx, bson.M{"_id": itemId}, bson.M{"$set": update}); err != nil {
		return errors.Trace(err)
	}
	if result.MatchedCount == 0 {
		return errors.Annotate(ErrItemNotExist, itemId)
	}
	return nil
}

func (db *MongoDB) listItems(ctx context.Context, n int, category string, sort bson.D) ([]Item, error) {
	if n <= 0 {
		return nil, nil
	}
	filter := bson.M{"is_hidden": false}
	if category != "" {
		filter["category"] = category
	}
	cursor, err := db.items().Find(ctx, filter, options.Find().SetSort(sort).SetLimit(int64(n)))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var docs []mongoItem
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, errors.Trace(err)
	}
	items := make([]Item, len(docs))
	for i, doc := range docs {
		items[i] = doc.toItem()
	}
	return items, nil
}

func (db *MongoDB) ListActiveItems(ctx context.Context, n int, category string) ([]Item, error) {
	return db.listItems(ctx, n, category, bson.D{{Key: "time_stamp", Value: -1}, {Key: "_id", Value: 1}})
}

func (db *MongoDB) ListTrendingItems(ctx context.Context, n int, category string) ([]Item, error) {
	return db.listItems(ctx, n, category, bson.D{{Key: "popularity", Value: -1}, {Key: "_id", Value: 1}})
}

func (db *MongoDB) AppendInteraction(ctx context.Context, interaction Interaction) error {
	if _, err := db.interactions().InsertOne(ctx, mongoInteraction{
		EventId:   interaction.EventId,
		UserId:    interaction.UserId,
		ItemId:    interaction.ItemId,
		Category:  interaction.Category,
		Type:      interaction.Type,
		Weight:    interaction.Weight,
		Timestamp: interaction.Timestamp.UTC(),
	}); err != nil {
		return errors.Trace(err)
	}
	// the event is committed, so a failed bump is not reported as a failed append
	if _, err := db.items().UpdateOne(ctx, bson.M{"_id": interaction.ItemId}, bson.M{"$inc": bson.M{"popularity": 1}}); err != nil {
		log.Logger().Warn("failed to bump item popularity",
			zap.String("item_id", interaction.ItemId),
			zap.String("event_id", interaction.EventId),
			zap.Error(err))
	}
	return nil
}

func (db *MongoDB) queryInteractions(ctx context.Context, field, id string, since *time.Time) ([]Interaction, error) {
	filter := bson.M{field: id}
	if since != nil {
		filter["time_stamp"] = bson.M{"$gte": since.UTC()}
	}
	cursor, err := db.interactions().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "time_stamp", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var docs []mongoInteraction
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, errors.Trace(err)
	}
	interactions := make([]Interaction, len(docs))
	for i, doc := range docs {
		interactions[i] = doc.toInteraction()
	}
	return interactions, nil
}

func (db *MongoDB) QueryUserInteractions(ctx context.Context, userId string, since *time.Time) ([]Interaction, error) {
	return db.queryInteractions(ctx, "user_id", userId, since)
}

func (db *MongoDB) QueryItemInteractions(ctx context.Context, itemId string, since *time.Time) ([]Interaction, error) {
	return db.queryInteractions(ctx, "item_id", itemId, since)
}
