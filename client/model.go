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

package client

import "time"

type Interaction struct {
	UserId string `json:"UserId"`
	ItemId string `json:"ItemId"`
	Type   string `json:"Type"`
}

// InteractionRecord is an interaction as stored by the server.
type InteractionRecord struct {
	EventId   string    `json:"EventId"`
	UserId    string    `json:"UserId"`
	ItemId    string    `json:"ItemId"`
	Category  string    `json:"Category"`
	Type      string    `json:"Type"`
	Weight    float64   `json:"Weight"`
	Timestamp time.Time `json:"Timestamp"`
}

type ErrorMessage string

func (e ErrorMessage) Error() string {
	return string(e)
}

type RowAffected struct {
	RowAffected int `json:"RowAffected"`
}

// Item is sent to the server. An empty Timestamp means the time of insertion.
type Item struct {
	ItemId     string  `json:"ItemId"`
	Category   string  `json:"Category"`
	IsHidden   bool    `json:"IsHidden"`
	Timestamp  string  `json:"Timestamp"`
	Popularity float64 `json:"Popularity"`
	Comment    string  `json:"Comment"`
}

// ItemRecord is an item as stored by the server.
type ItemRecord struct {
	ItemId     string    `json:"ItemId"`
	Category   string    `json:"Category"`
	Timestamp  time.Time `json:"Timestamp"`
	IsHidden   bool      `json:"IsHidden"`
	Popularity float64   `json:"Popularity"`
	Comment    string    `json:"Comment"`
}

type ItemPatch struct {
	IsHidden *bool   `json:"IsHidden,omitempty"`
	Category *string `json:"Category,omitempty"`
	Comment  *string `json:"Comment,omitempty"`
}

type ScoredItem struct {
	ItemRecord
	Score float64 `json:"Score"`
}

type Affinity struct {
	UserId         string             `json:"UserId"`
	CategoryScores map[string]float64 `json:"CategoryScores"`
	RecentItemIds  []string           `json:"RecentItemIds"`
}

type RecommendOptions struct {
	UserId        string
	Category      string
	N             int
	ExcludeViewed bool
}
