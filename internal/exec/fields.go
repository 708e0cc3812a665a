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

import "strings"

// NormalizeFields returns a copy of the row with underscore-separated column
// names converted to the camelCase naming used by document objects.
//
// Applying it twice is a no-op.
func NormalizeFields(r Row) Row {
	columns := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		columns[i] = normalizeColumn(c)
	}

	return Row{
		Columns: columns,
		Values:  r.Values,
	}
}

// normalizeColumn converts one column name, preserving leading underscores
// so reserved names like "_id" survive unchanged.
func normalizeColumn(name string) string {
	var prefix int
	for prefix < len(name) && name[prefix] == '_' {
		prefix++
	}

	rest := name[prefix:]
	if !strings.Contains(rest, "_") {
		return name
	}

	parts := strings.Split(rest, "_")
	out := make([]string, 0, len(parts))

	for i, p := range parts {
		if p == "" {
			continue
		}

		if i > 0 && len(out) > 0 {
			p = strings.ToUpper(p[:1]) + p[1:]
		}

		out = append(out, p)
	}

	return name[:prefix] + strings.Join(out, "")
}
