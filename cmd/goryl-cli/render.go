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
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/zaillisy/goryl/client"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

func renderScoredItems(w io.Writer, items []client.ScoredItem) {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Item", "Category", "Score", "Popularity", "Timestamp")
	for i, item := range items {
		_ = table.Append([]string{
			strconv.Itoa(i + 1),
			item.ItemId,
			item.Category,
			formatFloat(item.Score),
			formatFloat(item.Popularity),
			item.Timestamp.Format(time.RFC3339),
		})
	}
	_ = table.Render()
}

func renderItem(w io.Writer, item client.ItemRecord) {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	_ = table.Append([]string{"ItemId", item.ItemId})
	_ = table.Append([]string{"Category", item.Category})
	_ = table.Append([]string{"IsHidden", strconv.FormatBool(item.IsHidden)})
	_ = table.Append([]string{"Popularity", formatFloat(item.Popularity)})
	_ = table.Append([]string{"Timestamp", item.Timestamp.Format(time.RFC3339)})
	_ = table.Append([]string{"Comment", item.Comment})
	_ = table.Render()
}

// renderAffinity prints category scores in descending order followed by the
// recently interacted items.
func renderAffinity(w io.Writer, affinity client.Affinity) {
	categories := make([]string, 0, len(affinity.CategoryScores))
	for category := range affinity.CategoryScores {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		si, sj := affinity.CategoryScores[categories[i]], affinity.CategoryScores[categories[j]]
		if si != sj {
			return si > sj
		}
		return categories[i] < categories[j]
	})
	table := tablewriter.NewWriter(w)
	table.Header("Category", "Score")
	for _, category := range categories {
		_ = table.Append([]string{category, formatFloat(affinity.CategoryScores[category])})
	}
	_ = table.Render()

	recent := tablewriter.NewWriter(w)
	recent.Header("#", "Recent Item")
	for i, itemId := range affinity.RecentItemIds {
		_ = recent.Append([]string{strconv.Itoa(i + 1), itemId})
	}
	_ = recent.Render()
}

func renderAffected(w io.Writer, affected client.RowAffected) {
	table := tablewriter.NewWriter(w)
	table.Header("RowAffected")
	_ = table.Append([]string{strconv.Itoa(affected.RowAffected)})
	_ = table.Render()
}
