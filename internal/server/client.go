/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resourcehub/internal/domain"
	"resourcehub/internal/store"
)

// Client is a minimal HTTP client for the read side of the API.
type Client struct {
	BaseURL string
	Token   string // bearer token, only needed for admin routes
	client  *http.Client
}

// NewClient creates a new client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL string, token string) *Client {
	b := strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: b,
		Token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return fmt.Errorf("server %s %s: %s: %s", method, u.Path, resp.Status, body.Error)
		}
		return fmt.Errorf("server %s %s: %s", method, u.Path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// Listing fetches the public listing, filtered by q when non-empty.
func (c *Client) Listing(ctx context.Context, q string) (*store.Listing, error) {
	path := "/api/resources"
	if q != "" {
		path += "?q=" + url.QueryEscape(q)
	}
	var l store.Listing
	if err := c.doJSON(ctx, http.MethodGet, path, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Resource fetches one resource.
func (c *Client) Resource(ctx context.Context, id int64) (*domain.Resource, error) {
	var r domain.Resource
	if err := c.doJSON(ctx, http.MethodGet, "/api/resources/"+strconv.FormatInt(id, 10), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Ready calls /readyz.
func (c *Client) Ready(ctx context.Context) (store.Health, error) {
	var h store.Health
	err := c.doJSON(ctx, http.MethodGet, "/readyz", &h)
	return h, err
}
