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

import (
	"errors"

	"github.com/FerretDB/docsql/internal/util/lazyerrors"
)

// Row-shape helper contract violations.
var (
	ErrNoResult       = errors.New("no result")
	ErrTooManyResults = errors.New("too many results")
)

// FirstOrNil returns the first row, or nil if the result is empty.
func (res *Result) FirstOrNil() *Row {
	if len(res.Rows) == 0 {
		return nil
	}

	return &res.Rows[0]
}

// First returns the first row, or ErrNoResult if the result is empty.
func (res *Result) First() (*Row, error) {
	if len(res.Rows) == 0 {
		return nil, ErrNoResult
	}

	return &res.Rows[0], nil
}

// SingleOrNil returns the only row, nil for an empty result,
// or ErrTooManyResults for more than one row.
func (res *Result) SingleOrNil() (*Row, error) {
	switch len(res.Rows) {
	case 0:
		return nil, nil
	case 1:
		return &res.Rows[0], nil
	default:
		return nil, ErrTooManyResults
	}
}

// Single returns the only row, ErrNoResult for an empty result,
// or ErrTooManyResults for more than one row.
func (res *Result) Single() (*Row, error) {
	switch len(res.Rows) {
	case 0:
		return nil, ErrNoResult
	case 1:
		return &res.Rows[0], nil
	default:
		return nil, ErrTooManyResults
	}
}

// Exists interprets the result as a single boolean-valued "exists" row.
func (res *Result) Exists() (bool, error) {
	row, err := res.Single()
	if err != nil {
		return false, err
	}

	if len(row.Values) != 1 {
		return false, lazyerrors.Errorf("expected a single column, got %d", len(row.Values))
	}

	switch v := row.Values[0].(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case string:
		return v == "1" || v == "true", nil
	case []byte:
		return string(v) == "1" || string(v) == "true", nil
	default:
		return false, lazyerrors.Errorf("unexpected exists value of type %T", v)
	}
}

// MapRows applies f to every row in order.
func MapRows[T any](res *Result, f func(Row) (T, error)) ([]T, error) {
	out := make([]T, 0, len(res.Rows))

	for _, row := range res.Rows {
		v, err := f(row)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		out = append(out, v)
	}

	return out, nil
}
