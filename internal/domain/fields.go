/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

// FieldSpec describes how a caller should present one resource field.
type FieldSpec struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Placeholder string   `json:"placeholder"`
	Hint        string   `json:"hint,omitempty"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
}

// FieldSpecs lists the resource form fields in display order.
var FieldSpecs = []FieldSpec{
	{Key: "name", Label: "Name", Placeholder: "Resource name", Required: true},
	{Key: "r_type", Label: "Type", Placeholder: "Pick or type...", Options: []string{"Software", "Video", "Tutorial", "Game", "Document"}},
	{Key: "description", Label: "Description", Placeholder: "Features and usage notes..."},
	{Key: "tg_link", Label: "Telegram channel", Placeholder: "https://t.me/..."},
	{Key: "pan_link", Label: "Download link", Placeholder: "https://pan..."},
	{Key: "pan_pass", Label: "Extraction password", Placeholder: "Optional"},
	{Key: "tags", Label: "Tags", Placeholder: "Comma separated, e.g. portable, cracked", Hint: "Hidden when empty"},
}
