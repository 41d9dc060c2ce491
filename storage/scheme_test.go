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

package storage

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"moul.io/zapgorm2"
)

func TestAppendURLParams(t *testing.T) {
	dsn, err := AppendURLParams("sqlite:///tmp/goryl.db", []lo.Tuple2[string, string]{
		{A: "_pragma", B: "busy_timeout(10000)"},
		{A: "_pragma", B: "journal_mode(wal)"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/goryl.db?_pragma=busy_timeout%2810000%29&_pragma=journal_mode%28wal%29", dsn)
}

func TestAppendMySQLParams(t *testing.T) {
	dsn, err := AppendMySQLParams("root:password@tcp(127.0.0.1:3306)/goryl?parseTime=false", map[string]string{
		"parseTime": "true",
		"loc":       "UTC",
	})
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=false")
	assert.Contains(t, dsn, "loc=UTC")

	_, err = AppendMySQLParams("not a dsn", nil)
	assert.Error(t, err)
}

func TestTablePrefix(t *testing.T) {
	prefix := TablePrefix("goryl_")
	assert.Equal(t, "goryl_items", prefix.ItemsTable())
	assert.Equal(t, "goryl_interactions", prefix.InteractionsTable())
	assert.Equal(t, "goryl_recent", prefix.Key("recent"))
}

func TestNewGORMConfig(t *testing.T) {
	cfg := NewGORMConfig("goryl_")
	naming, ok := cfg.NamingStrategy.(schema.NamingStrategy)
	require.True(t, ok)
	assert.Equal(t, "goryl_items", naming.TableName("SQLItem"))
	assert.Equal(t, "goryl_interactions", naming.TableName("SQLInteraction"))

	gormLogger, ok := cfg.Logger.(*zapgorm2.Logger)
	require.True(t, ok)
	assert.Equal(t, logger.Warn, gormLogger.LogLevel)
	assert.True(t, gormLogger.IgnoreRecordNotFoundError)
}
