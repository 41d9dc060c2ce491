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

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zaillisy/goryl/client"
)

func TestRenderScoredItems(t *testing.T) {
	var buf bytes.Buffer
	renderScoredItems(&buf, []client.ScoredItem{
		{ItemRecord: client.ItemRecord{ItemId: "item42", Category: "shoes", Timestamp: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}, Score: 87.5},
		{ItemRecord: client.ItemRecord{ItemId: "b1", Category: "books"}, Score: 12},
	})
	out := buf.String()
	assert.Contains(t, out, "item42")
	assert.Contains(t, out, "87.5000")
	assert.Contains(t, out, "2026-04-01T10:00:00Z")
	assert.Less(t, strings.Index(out, "item42"), strings.Index(out, "b1"))
}

func TestRenderAffinity(t *testing.T) {
	var buf bytes.Buffer
	renderAffinity(&buf, client.Affinity{
		UserId:         "u1",
		CategoryScores: map[string]float64{"books": 2, "shoes": 10},
		RecentItemIds:  []string{"item42"},
	})
	out := buf.String()
	assert.Less(t, strings.Index(out, "shoes"), strings.Index(out, "books"))
	assert.Contains(t, out, "item42")
}
