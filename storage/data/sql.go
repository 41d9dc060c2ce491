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
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/zaillisy/goryl/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// SQLItem is the row of the items table.
type SQLItem struct {
	ItemId     string    `gorm:"column:item_id;type:varchar(256);primaryKey"`
	Category   string    `gorm:"column:category;type:varchar(256);index"`
	Timestamp  time.Time `gorm:"column:time_stamp;index"`
	IsHidden   bool      `gorm:"column:is_hidden"`
	Popularity float64   `gorm:"column:popularity;index"`
	Comment    string    `gorm:"column:comment;type:text"`
}

func newSQLItem(item Item) SQLItem {
	return SQLItem{
		ItemId:     item.ItemId,
		Category:   item.Category,
		Timestamp:  item.Timestamp.UTC(),
		IsHidden:   item.IsHidden,
		Popularity: item.Popularity,
		Comment:    item.Comment,
	}
}

func (row SQLItem) toItem() Item {
	return Item{
		ItemId:     row.ItemId,
		Category:   row.Category,
		Timestamp:  row.Timestamp.UTC(),
		IsHidden:   row.IsHidden,
		Popularity: row.Popularity,
		Comment:    row.Comment,
	}
}

// SQLInteraction is the row of the interactions table.
type SQLInteraction struct {
	EventId   string    `gorm:"column:event_id;type:varchar(64);primaryKey"`
	UserId    string    `gorm:"column:user_id;type:varchar(256);index"`
	ItemId    string    `gorm:"column:item_id;type:varchar(256);index"`
	Category  string    `gorm:"column:category;type:varchar(256)"`
	Type      string    `gorm:"column:interaction_type;type:varchar(32)"`
	Weight    float64   `gorm:"column:weight"`
	Timestamp time.Time `gorm:"column:time_stamp;index"`
}

func (row SQLInteraction) toInteraction() Interaction {
	return Interaction{
		EventId:   row.EventId,
		UserId:    row.UserId,
		ItemId:    row.ItemId,
		Category:  row.Category,
		Type:      row.Type,
		Weight:    row.Weight,
		Timestamp: row.Timestamp.UTC(),
	}
}

// SQLDatabase stores items and interactions in MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

// Init creates tables and indices.
func (d *SQLDatabase) Init() error {
	db := d.gormDB
	if d.driver == MySQL {
		db = db.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	if err := db.AutoMigrate(&SQLItem{}, &SQLInteraction{}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *SQLDatabase) Ping() error {
	return d.client.Ping()
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

func (d *SQLDatabase) Purge() error {
	for _, table := range []string{d.ItemsTable(), d.InteractionsTable()} {
		if err := d.gormDB.Exec("DELETE FROM " + table).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := lo.Map(dedupItems(items), func(item Item, _ int) SQLItem { return newSQLItem(item) })
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "time_stamp", "is_hidden", "comment"}),
	}).Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetItem(ctx context.Context, itemId string) (Item, error) {
	var rows []SQLItem
	if err := d.gormDB.WithContext(ctx).Where("item_id = ?", itemId).Limit(1).Find(&rows).Error; err != nil {
		return Item{}, errors.Trace(err)
	}
	if len(rows) == 0 {
		return Item{}, errors.Annotate(ErrItemNotExist, itemId)
	}
	return rows[0].toItem(), nil
}

func (d *SQLDatabase) ModifyItem(ctx context.Context, itemId string, patch ItemPatch) error {
	var count int64
	if err := d.gormDB.WithContext(ctx).Model(&SQLItem{}).Where("item_id = ?", itemId).Count(&count).Error; err != nil {
		return errors.Trace(err)
	}
	if count == 0 {
		return errors.Annotate(ErrItemNotExist, itemId)
	}
	attributes := make(map[string]any)
	if patch.IsHidden != nil {
		attributes["is_hidden"] = *patch.IsHidden
	}
	if patch.Category != nil {
		attributes["category"] = *patch.Category
	}
	if patch.Comment != nil {
		attributes["comment"] = *patch.Comment
	}
	if len(attributes) == 0 {
		return nil
	}
	err := d.gormDB.WithContext(ctx).Model(&SQLItem{}).Where("item_id = ?", itemId).Updates(attributes).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) listItems(ctx context.Context, n int, category, order string) ([]Item, error) {
	if n <= 0 {
		return nil, nil
	}
	tx := d.gormDB.WithContext(ctx).Where("is_hidden = ?", false)
	if category != "" {
		tx = tx.Where("category = ?", category)
	}
	var rows []SQLItem
	if err := tx.Order(order).Limit(n).Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLItem, _ int) Item { return row.toItem() }), nil
}

func (d *SQLDatabase) ListActiveItems(ctx context.Context, n int, category string) ([]Item, error) {
	return d.listItems(ctx, n, category, "time_stamp DESC, item_id ASC")
}

func (d *SQLDatabase) ListTrendingItems(ctx context.Context, n int, category string) ([]Item, error) {
	return d.listItems(ctx, n, category, "popularity DESC, item_id ASC")
}

func (d *SQLDatabase) AppendInteraction(ctx context.Context, interaction Interaction) error {
	row := SQLInteraction{
		EventId:   interaction.EventId,
		UserId:    interaction.UserId,
		ItemId:    interaction.ItemId,
		Category:  interaction.Category,
		Type:      interaction.Type,
		Weight:    interaction.Weight,
		Timestamp: interaction.Timestamp.UTC(),
	}
	err := d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return errors.Trace(err)
		}
		return tx.Model(&SQLItem{}).
			Where("item_id = ?", interaction.ItemId).
			UpdateColumn("popularity", gorm.Expr("popularity + ?", 1)).Error
	})
	return errors.Trace(err)
}

func (d *SQLDatabase) queryInteractions(ctx context.Context, column, id string, since *time.Time) ([]Interaction, error) {
	tx := d.gormDB.WithContext(ctx).Where(column+" = ?", id)
	if since != nil {
		tx = tx.Where("time_stamp >= ?", since.UTC())
	}
	var rows []SQLInteraction
	if err := tx.Order("time_stamp ASC, event_id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLInteraction, _ int) Interaction { return row.toInteraction() }), nil
}

func (d *SQLDatabase) QueryUserInteractions(ctx context.Context, userId string, since *time.Time) ([]Interaction, error) {
	return d.queryInteractions(ctx, "user_id", userId, since)
}

func (d *SQLDatabase) QueryItemInteractions(ctx context.Context, itemId string, since *time.Time) ([]Interaction, error) {
	return d.queryInteractions(ctx, "item_id", itemId, since)
}
