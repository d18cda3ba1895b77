/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"resourcehub/internal/store"
)

// Validation failure reasons.
const (
	ReasonNotDatabase   = "not a valid database file"
	ReasonMissingTables = "missing tables"
	ReasonBadStructure  = "table structure incorrect"
)

// ValidationError rejects an import candidate. The live data is never touched when it is returned.
type ValidationError struct {
	Reason  string
	Missing []string
	Err     error
}

func (e *ValidationError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Missing, ", "))
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	default:
		return e.Reason
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks that path is an embedded database holding both tables in a queryable shape.
func (e *Engine) Validate(ctx context.Context, path string) error {
	db, err := store.OpenEmbeddedReadOnly(path)
	if err != nil {
		return &ValidationError{Reason: ReasonNotDatabase, Err: err}
	}
	defer func() { _ = db.Close() }()

	tables, err := store.SQLiteDialect.ListTables(ctx, db)
	if err != nil {
		return &ValidationError{Reason: ReasonNotDatabase, Err: err}
	}
	if missing := lo.Without(store.RequiredTables, tables...); len(missing) > 0 {
		return &ValidationError{Reason: ReasonMissingTables, Missing: missing}
	}
	for _, t := range store.RequiredTables {
		rows, err := db.QueryxContext(ctx, "SELECT * FROM "+t+" LIMIT 1")
		if err != nil {
			return &ValidationError{Reason: ReasonBadStructure, Err: fmt.Errorf("%s: %w", t, err)}
		}
		_ = rows.Close()
	}
	return nil
}
