// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package docstore

import (
	"github.com/FerretDB/docsql/internal/exec"
)

// Filter matches documents by equality on field values.
//
// The reserved _id and _version keys match the corresponding columns;
// any other key matches a field inside the document payload.
type Filter map[string]any

// Builder produces backend-specific SQL statements for the document engine.
//
// The engine stays dialect-agnostic; a builder owns quoting, JSON access
// syntax, and placeholder style for one backend. Statements for a missing
// table are allowed to fail; the engine ensures the schema first.
type Builder interface {
	// CreateTable returns the idempotent migrations establishing a collection table.
	CreateTable(table string) []exec.Statement

	// DropTable removes a collection table if it exists.
	DropTable(table string) exec.Statement

	// RenameTable renames a collection table.
	RenameTable(oldName, newName string) exec.Statement

	// Insert adds one document row.
	Insert(table, id string, version int64, payload []byte) exec.Statement

	// SelectByID reads one document row by primary key.
	SelectByID(table, id string) exec.Statement

	// Select reads document rows matching the filter.
	// A limit of 0 means no limit.
	Select(table string, filter Filter, limit int64) exec.Statement

	// Count returns the number of matching documents as a single scalar row.
	Count(table string, filter Filter) exec.Statement

	// UpdateFields sets individual payload fields on matching documents
	// and bumps their version. With single set, at most one document changes.
	UpdateFields(table string, filter Filter, set map[string]any, single bool) exec.Statement

	// Replace swaps the whole payload of matching documents and bumps their
	// version. With single set, at most one document changes.
	Replace(table string, filter Filter, payload []byte, single bool) exec.Statement

	// ReplaceByID swaps the payload of one document and bumps its version.
	// A non-nil expectedVersion makes the update conditional on it.
	ReplaceByID(table, id string, payload []byte, expectedVersion *int64) exec.Statement

	// Delete removes matching documents. With single set, at most one.
	Delete(table string, filter Filter, single bool) exec.Statement

	// DeleteByID removes one document. A non-nil expectedVersion makes
	// the delete conditional on it.
	DeleteByID(table, id string, expectedVersion *int64) exec.Statement
}
