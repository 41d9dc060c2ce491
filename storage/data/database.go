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
	"sort"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/zaillisy/goryl/common/heap"
	"github.com/zaillisy/goryl/storage"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

var (
	ErrItemNotExist = errors.NotFoundf("item")
	ErrNoDatabase   = errors.NotAssignedf("database")
)

// Item stores meta data about an item. Popularity counts the interactions
// recorded on the item.
type Item struct {
	ItemId     string
	Category   string
	Timestamp  time.Time
	IsHidden   bool
	Popularity float64
	Comment    string
}

// ItemPatch is the modification on an item.
type ItemPatch struct {
	IsHidden *bool
	Category *string
	Comment  *string
}

// Interaction is an immutable record of a user acting on an item. Category is
// the category of the item at record time.
type Interaction struct {
	EventId   string
	UserId    string
	ItemId    string
	Category  string
	Type      string
	Weight    float64
	Timestamp time.Time
}

// SortInteractions sorts interactions from oldest to latest.
func SortInteractions(interactions []Interaction) {
	sort.SliceStable(interactions, func(i, j int) bool {
		if !interactions[i].Timestamp.Equal(interactions[j].Timestamp) {
			return interactions[i].Timestamp.Before(interactions[j].Timestamp)
		}
		return interactions[i].EventId < interactions[j].EventId
	})
}

type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	// BatchInsertItems inserts or replaces items. Popularity is taken from
	// the input for new items and kept for existing ones.
	BatchInsertItems(ctx context.Context, items []Item) error
	GetItem(ctx context.Context, itemId string) (Item, error)
	ModifyItem(ctx context.Context, itemId string, patch ItemPatch) error
	// ListActiveItems returns at most n visible items, latest first. An empty
	// category matches every item.
	ListActiveItems(ctx context.Context, n int, category string) ([]Item, error)
	// ListTrendingItems returns at most n visible items, most popular first.
	ListTrendingItems(ctx context.Context, n int, category string) ([]Item, error)
	// AppendInteraction appends an interaction and bumps the popularity of
	// its item if the item exists. Appending an existing event id fails.
	AppendInteraction(ctx context.Context, interaction Interaction) error
	QueryUserInteractions(ctx context.Context, userId string, since *time.Time) ([]Interaction, error)
	QueryItemInteractions(ctx context.Context, itemId string, since *time.Time) ([]Interaction, error)
}

// Open opens a connection to the data store identified by path.
func Open(path, tablePrefix string) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"sql_mode":  "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			"parseTime": "true",
			"loc":       "UTC",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(attribute.String("db.system", "mysql")),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(attribute.String("db.system", "postgresql")),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
			{A: "_pragma", B: "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("sqlite", name,
			otelsql.WithAttributes(attribute.String("db.system", "sqlite")),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		// SQLite allows one writer at a time
		database.client.SetMaxOpenConns(1)
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database := new(Redis)
		database.client = redis.NewClient(opt)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if err = redisotel.InstrumentTracing(database.client); err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		database := new(MongoDB)
		opts := options.Client()
		opts.Monitor = otelmongo.NewMonitor()
		opts.ApplyURI(path)
		if database.client, err = mongo.Connect(context.Background(), opts); err != nil {
			return nil, errors.Trace(err)
		}
		cs, err := connstring.ParseAndValidate(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database.dbName = cs.Database
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		return database, nil
	} else if strings.HasPrefix(path, storage.DynamoDBPrefix) {
		return openDynamoDB(context.Background(), path, tablePrefix)
	}
	return nil, errors.Errorf("Unknown database: %s", path)
}

// dedupItems keeps the last occurrence of every item id.
func dedupItems(items []Item) []Item {
	index := make(map[string]int, len(items))
	result := make([]Item, 0, len(items))
	for _, item := range items {
		item.Timestamp = item.Timestamp.UTC()
		if i, ok := index[item.ItemId]; ok {
			result[i] = item
		} else {
			index[item.ItemId] = len(result)
			result = append(result, item)
		}
	}
	return result
}

// selectLatest picks the n latest visible items of a category.
func selectLatest(items []Item, n int, category string) []Item {
	filter := heap.NewTopKFilter[string, int64](n)
	byId := make(map[string]Item)
	for _, item := range items {
		if item.IsHidden || (category != "" && item.Category != category) {
			continue
		}
		byId[item.ItemId] = item
		filter.Push(item.ItemId, item.Timestamp.UnixNano())
	}
	ids, _ := filter.PopAll()
	return lo.Map(ids, func(id string, _ int) Item { return byId[id] })
}

// selectTrending picks the n most popular visible items of a category.
func selectTrending(items []Item, n int, category string) []Item {
	filter := heap.NewTopKFilter[string, float64](n)
	byId := make(map[string]Item)
	for _, item := range items {
		if item.IsHidden || (category != "" && item.Category != category) {
			continue
		}
		byId[item.ItemId] = item
		filter.Push(item.ItemId, item.Popularity)
	}
	ids, _ := filter.PopAll()
	return lo.Map(ids, func(id string, _ int) Item { return byId[id] })
}

func filterSince(interactions []Interaction, since *time.Time) []Interaction {
	if since == nil {
		return interactions
	}
	return lo.Filter(interactions, func(interaction Interaction, _ int) bool {
		return !interaction.Timestamp.Before(*since)
	})
}
