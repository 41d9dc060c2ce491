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

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

type GorylClient struct {
	entryPoint string
	apiKey     string
	httpClient http.Client
}

func NewGorylClient(entryPoint, apiKey string) *GorylClient {
	return &GorylClient{
		entryPoint: entryPoint,
		apiKey:     apiKey,
	}
}

func (c *GorylClient) InsertInteraction(ctx context.Context, interaction Interaction) (RowAffected, error) {
	return request[RowAffected](ctx, c, http.MethodPost, "/api/interaction", nil, interaction)
}

func (c *GorylClient) GetUserInteractions(ctx context.Context, userId string) ([]InteractionRecord, error) {
	return request[[]InteractionRecord](ctx, c, http.MethodGet, "/api/interactions/user/"+url.PathEscape(userId), nil, nil)
}

func (c *GorylClient) GetItemInteractions(ctx context.Context, itemId string) ([]InteractionRecord, error) {
	return request[[]InteractionRecord](ctx, c, http.MethodGet, "/api/interactions/item/"+url.PathEscape(itemId), nil, nil)
}

func (c *GorylClient) InsertItems(ctx context.Context, items []Item) (RowAffected, error) {
	return request[RowAffected](ctx, c, http.MethodPost, "/api/items", nil, items)
}

func (c *GorylClient) GetItem(ctx context.Context, itemId string) (ItemRecord, error) {
	return request[ItemRecord](ctx, c, http.MethodGet, "/api/item/"+url.PathEscape(itemId), nil, nil)
}

func (c *GorylClient) ModifyItem(ctx context.Context, itemId string, patch ItemPatch) (RowAffected, error) {
	return request[RowAffected](ctx, c, http.MethodPatch, "/api/item/"+url.PathEscape(itemId), nil, patch)
}

func (c *GorylClient) GetRecommend(ctx context.Context, options RecommendOptions) ([]ScoredItem, error) {
	query := url.Values{}
	if options.UserId != "" {
		query.Set("user-id", options.UserId)
	}
	if options.Category != "" {
		query.Set("category", options.Category)
	}
	if options.N != 0 {
		query.Set("n", strconv.Itoa(options.N))
	}
	if options.ExcludeViewed {
		query.Set("exclude-viewed", "true")
	}
	return request[[]ScoredItem](ctx, c, http.MethodGet, "/api/recommend", query, nil)
}

func (c *GorylClient) GetSimilar(ctx context.Context, itemId string, n int) ([]ScoredItem, error) {
	query := url.Values{}
	if n != 0 {
		query.Set("n", strconv.Itoa(n))
	}
	return request[[]ScoredItem](ctx, c, http.MethodGet, "/api/similar/"+url.PathEscape(itemId), query, nil)
}

func (c *GorylClient) GetAffinity(ctx context.Context, userId string) (Affinity, error) {
	return request[Affinity](ctx, c, http.MethodGet, "/api/affinity/"+url.PathEscape(userId), nil, nil)
}

func (c *GorylClient) ClearCache(ctx context.Context, prefix string) (RowAffected, error) {
	return request[RowAffected](ctx, c, http.MethodDelete, "/api/cache", url.Values{"prefix": {prefix}}, nil)
}

func request[Response any](ctx context.Context, c *GorylClient, method, path string, query url.Values, body any) (result Response, err error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return result, err
		}
		reader = bytes.NewReader(payload)
	}
	target := c.entryPoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return result, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, err
	}
	if resp.StatusCode != http.StatusOK {
		return result, ErrorMessage(buf)
	}
	err = json.Unmarshal(buf, &result)
	return result, err
}
