/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package store is the dual-backend persistence layer for resources and notices.
// The same Backend interface is served by an embedded single-file SQLite database and by a pooled
// PostgreSQL database. Schema creation, forward migration, connection scoping and the embedded
// interchange file (used for export/import) all live here; callers only see domain records.
package store
