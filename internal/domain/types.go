/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package domain holds the backend-independent records managed by resourcehub.
package domain

import (
	"errors"
	"strings"
	"time"
)

// Resource is one catalog entry shown on the public listing.
// Optional text fields are pointers so that NULL and "" stay distinguishable.
type Resource struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	RType       *string   `json:"r_type"`
	Description *string   `json:"description"`
	TGLink      *string   `json:"tg_link"`
	PanLink     *string   `json:"pan_link"`
	PanPass     *string   `json:"pan_pass"`
	Tags        *string   `json:"tags"`
	SortOrder   int64     `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ResourceFields are the caller-settable columns of a resource.
type ResourceFields struct {
	Name        string  `json:"name"`
	RType       *string `json:"r_type"`
	Description *string `json:"description"`
	TGLink      *string `json:"tg_link"`
	PanLink     *string `json:"pan_link"`
	PanPass     *string `json:"pan_pass"`
	Tags        *string `json:"tags"`
}

var (
	// ErrNameRequired is returned when a resource has an empty name.
	ErrNameRequired = errors.New("resource name is required")
	// ErrNoticeEmpty is returned when notice content is blank.
	ErrNoticeEmpty = errors.New("notice content is required")
)

// Validate enforces the required fields from FieldSpecs.
func (f ResourceFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return ErrNameRequired
	}
	return nil
}

// Fields returns the mutable part of r.
func (r Resource) Fields() ResourceFields {
	return ResourceFields{
		Name:        r.Name,
		RType:       r.RType,
		Description: r.Description,
		TGLink:      r.TGLink,
		PanLink:     r.PanLink,
		PanPass:     r.PanPass,
		Tags:        r.Tags,
	}
}

// TagList splits the comma separated tags. Both ASCII and full-width commas are accepted.
func (r Resource) TagList() []string {
	if r.Tags == nil {
		return nil
	}
	parts := strings.FieldsFunc(*r.Tags, func(c rune) bool { return c == ',' || c == '，' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Notice is the site-wide banner. The row with the latest UpdatedAt is the current one.
type Notice struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Enabled   bool      `json:"is_enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultNoticeContent seeds a fresh notices table.
const DefaultNoticeContent = "Welcome! Edit this notice from the admin page."

// Str returns a pointer to s; shorthand for optional fields.
func Str(s string) *string { return &s }

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
