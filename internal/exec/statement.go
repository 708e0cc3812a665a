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

package exec

// Statement is an opaque SQL statement with bound arguments.
//
// ReturnsRows marks statements that produce a result set;
// others are executed for their affected-row count.
type Statement struct {
	Query       string
	Args        []any
	ReturnsRows bool
}

// Row is an ordered-field record.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}

	return nil, false
}

// Result is the outcome of a statement execution.
//
// For row-returning statements RowsAffected is the number of returned rows.
type Result struct {
	RowsAffected int64
	Rows         []Row
}
