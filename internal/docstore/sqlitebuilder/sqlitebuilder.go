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

// Package sqlitebuilder produces SQLite statements for the document engine.
//
// Documents are stored as JSON text in a STRICT table; filters on payload
// fields use json_extract, partial updates use json_set.
package sqlitebuilder

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/FerretDB/docsql/internal/docstore"
	"github.com/FerretDB/docsql/internal/exec"
	"github.com/FerretDB/docsql/internal/util/must"
)

// builder implements docstore.Builder for SQLite.
type builder struct{}

// New creates a SQLite statement builder.
func New() docstore.Builder {
	return builder{}
}

func (builder) CreateTable(table string) []exec.Statement {
	return []exec.Statement{{
		Query: fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %q (%s TEXT NOT NULL PRIMARY KEY, %s INTEGER NOT NULL, %s TEXT NOT NULL) STRICT`,
			table, docstore.IDColumn, docstore.VersionColumn, docstore.PayloadColumn,
		),
	}}
}

func (builder) DropTable(table string) exec.Statement {
	return exec.Statement{
		Query: fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table),
	}
}

func (builder) RenameTable(oldName, newName string) exec.Statement {
	return exec.Statement{
		Query: fmt.Sprintf(`ALTER TABLE %q RENAME TO %q`, oldName, newName),
	}
}

func (builder) Insert(table, id string, version int64, payload []byte) exec.Statement {
	return exec.Statement{
		Query: fmt.Sprintf(
			`INSERT INTO %q (%s, %s, %s) VALUES (?, ?, ?)`,
			table, docstore.IDColumn, docstore.VersionColumn, docstore.PayloadColumn,
		),
		Args: []any{id, version, string(payload)},
	}
}

func (builder) SelectByID(table, id string) exec.Statement {
	return exec.Statement{
		Query: fmt.Sprintf(
			`SELECT %s, %s, %s FROM %q WHERE %s = ?`,
			docstore.IDColumn, docstore.VersionColumn, docstore.PayloadColumn, table, docstore.IDColumn,
		),
		Args:        []any{id},
		ReturnsRows: true,
	}
}

func (builder) Select(table string, filter docstore.Filter, limit int64) exec.Statement {
	where, args := whereClause(filter)

	q := fmt.Sprintf(
		`SELECT %s, %s, %s FROM %q%s`,
		docstore.IDColumn, docstore.VersionColumn, docstore.PayloadColumn, table, where,
	)

	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}

	return exec.Statement{
		Query:       q,
		Args:        args,
		ReturnsRows: true,
	}
}

func (builder) Count(table string, filter docstore.Filter) exec.Statement {
	where, args := whereClause(filter)

	return exec.Statement{
		Query:       fmt.Sprintf(`SELECT COUNT(*) AS count FROM %q%s`, table, where),
		Args:        args,
		ReturnsRows: true,
	}
}

func (builder) UpdateFields(table string, filter docstore.Filter, set map[string]any, single bool) exec.Statement {
	var sb strings.Builder
	var args []any

	fmt.Fprintf(&sb, `UPDATE %q SET `, table)

	if len(set) > 0 {
		sb.WriteString(docstore.PayloadColumn + ` = json_set(` + docstore.PayloadColumn)

		for _, k := range sortedKeys(set) {
			fmt.Fprintf(&sb, `, %s, json(?)`, jsonPath(k))
			args = append(args, string(must.NotFail(json.Marshal(set[k]))))
		}

		sb.WriteString(`), `)
	}

	fmt.Fprintf(&sb, `%[1]s = %[1]s + 1`, docstore.VersionColumn)

	where, whereArgs := targetClause(table, filter, single)
	sb.WriteString(where)

	return exec.Statement{
		Query: sb.String(),
		Args:  append(args, whereArgs...),
	}
}

func (builder) Replace(table string, filter docstore.Filter, payload []byte, single bool) exec.Statement {
	where, args := targetClause(table, filter, single)

	return exec.Statement{
		Query: fmt.Sprintf(
			`UPDATE %q SET %s = ?, %[3]s = %[3]s + 1%s`,
			table, docstore.PayloadColumn, docstore.VersionColumn, where,
		),
		Args: append([]any{string(payload)}, args...),
	}
}

func (builder) ReplaceByID(table, id string, payload []byte, expectedVersion *int64) exec.Statement {
	q := fmt.Sprintf(
		`UPDATE %q SET %s = ?, %[3]s = %[3]s + 1 WHERE %s = ?`,
		table, docstore.PayloadColumn, docstore.VersionColumn, docstore.IDColumn,
	)
	args := []any{string(payload), id}

	if expectedVersion != nil {
		q += fmt.Sprintf(` AND %s = ?`, docstore.VersionColumn)
		args = append(args, *expectedVersion)
	}

	return exec.Statement{
		Query: q,
		Args:  args,
	}
}

func (builder) Delete(table string, filter docstore.Filter, single bool) exec.Statement {
	where, args := targetClause(table, filter, single)

	return exec.Statement{
		Query: fmt.Sprintf(`DELETE FROM %q%s`, table, where),
		Args:  args,
	}
}

func (builder) DeleteByID(table, id string, expectedVersion *int64) exec.Statement {
	q := fmt.Sprintf(`DELETE FROM %q WHERE %s = ?`, table, docstore.IDColumn)
	args := []any{id}

	if expectedVersion != nil {
		q += fmt.Sprintf(` AND %s = ?`, docstore.VersionColumn)
		args = append(args, *expectedVersion)
	}

	return exec.Statement{
		Query: q,
		Args:  args,
	}
}

// whereClause renders the filter as a WHERE clause with placeholders.
// An empty filter renders as no clause at all.
//
// Keys are sorted so identical filters always render identically.
func whereClause(filter docstore.Filter) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))

	for _, k := range sortedKeys(filter) {
		switch k {
		case docstore.IDColumn, docstore.VersionColumn:
			clauses = append(clauses, fmt.Sprintf(`%s = ?`, k))
			args = append(args, filter[k])

		default:
			clauses = append(clauses, fmt.Sprintf(`json_extract(%s, %s) = ?`, docstore.PayloadColumn, jsonPath(k)))
			args = append(args, filter[k])
		}
	}

	return ` WHERE ` + strings.Join(clauses, ` AND `), args
}

// targetClause renders the mutation target.
//
// With single set, the filter is pushed into a LIMIT 1 subquery on the
// primary key so at most one row changes whatever the filter matches.
func targetClause(table string, filter docstore.Filter, single bool) (string, []any) {
	where, args := whereClause(filter)

	if !single {
		return where, args
	}

	return fmt.Sprintf(
		` WHERE %s IN (SELECT %s FROM %q%s LIMIT 1)`,
		docstore.IDColumn, docstore.IDColumn, table, where,
	), args
}

// jsonPath renders a payload key as a single-quoted SQL string literal
// holding a JSON path. Double quotes in the key are escaped for the path,
// single quotes are doubled for the SQL literal, so arbitrary keys never
// break out of the string.
func jsonPath(key string) string {
	return `'` + strings.ReplaceAll(fmt.Sprintf(`$.%q`, key), `'`, `''`) + `'`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// check interfaces
var (
	_ docstore.Builder = builder{}
)
