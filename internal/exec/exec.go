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

// Package exec provides scoped statement execution and transaction demarcation,
// independent of the SQL dialect.
package exec

import (
	"context"
	"errors"

	"github.com/FerretDB/docsql/internal/conn"
	"github.com/FerretDB/docsql/internal/util/lazyerrors"
	"github.com/FerretDB/docsql/internal/util/observability"
)

// Outcome is the result a transactional handler reports.
//
// The transaction is committed iff Success is true.
type Outcome[T any] struct {
	Success bool
	Result  T
}

// Execute opens one client on the connection, invokes f,
// and closes the connection on every exit path before propagating the outcome.
//
// An error from f propagates unmodified; a close failure is returned
// only when f itself succeeded.
func Execute[T any](ctx context.Context, c conn.Conn, f func(conn.Client) (T, error)) (res T, err error) {
	defer observability.FuncCall(ctx)()

	var cl conn.Client

	if cl, err = c.Open(ctx); err != nil {
		err = lazyerrors.Error(err)
		return
	}

	defer func() {
		if closeErr := c.Close(ctx); closeErr != nil && err == nil {
			err = lazyerrors.Error(closeErr)
		}
	}()

	res, err = f(cl)

	return
}

// ExecuteInTransaction runs f inside a transaction on the connection's client.
//
// The transaction is committed when f reports success and rolled back when it
// reports failure. An error from f triggers a rollback before it propagates;
// a rollback failure is attached to the original error, never replacing it.
// The connection is closed on every exit path.
func ExecuteInTransaction[T any](ctx context.Context, c conn.Conn, f func(conn.Client) (Outcome[T], error)) (Outcome[T], error) {
	defer observability.FuncCall(ctx)()

	return Execute(ctx, c, func(cl conn.Client) (out Outcome[T], err error) {
		var tx conn.Tx

		if tx, err = cl.BeginTx(ctx); err != nil {
			err = lazyerrors.Error(err)
			return
		}

		var done bool

		// covers panics in f
		defer func() {
			if !done {
				_ = tx.Rollback()
			}
		}()

		if out, err = f(cl); err != nil {
			done = true

			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, rbErr)
			}

			return
		}

		if !out.Success {
			done = true

			if err = tx.Rollback(); err != nil {
				err = lazyerrors.Error(err)
			}

			return
		}

		done = true

		if err = tx.Commit(); err != nil {
			err = lazyerrors.Error(err)
		}

		return
	})
}

// Run executes one statement on an already-open client.
func Run(ctx context.Context, cl conn.Client, stmt Statement) (*Result, error) {
	if stmt.ReturnsRows {
		return query(ctx, cl, stmt)
	}

	return exec(ctx, cl, stmt)
}

// query executes a row-returning statement and materializes the result set in order.
func query(ctx context.Context, cl conn.Client, stmt Statement) (*Result, error) {
	rows, err := cl.QueryContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close() //nolint:errcheck // read-only operation

	columns, err := rows.Columns()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	var res Result

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err = rows.Scan(ptrs...); err != nil {
			return nil, lazyerrors.Error(err)
		}

		res.Rows = append(res.Rows, Row{
			Columns: columns,
			Values:  values,
		})
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	res.RowsAffected = int64(len(res.Rows))

	return &res, nil
}

// exec executes a statement for its affected-row count.
func exec(ctx context.Context, cl conn.Client, stmt Statement) (*Result, error) {
	r, err := cl.ExecContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	ra, err := r.RowsAffected()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &Result{RowsAffected: ra}, nil
}

// SQL executes one statement on an ad-hoc connection,
// opening and closing it deterministically per call.
func SQL(ctx context.Context, c conn.Conn, stmt Statement) (*Result, error) {
	return Execute(ctx, c, func(cl conn.Client) (*Result, error) {
		return Run(ctx, cl, stmt)
	})
}

// SQLInTransaction executes one statement inside its own transaction.
func SQLInTransaction(ctx context.Context, c conn.Conn, stmt Statement) (*Result, error) {
	out, err := ExecuteInTransaction(ctx, c, func(cl conn.Client) (Outcome[*Result], error) {
		res, err := Run(ctx, cl, stmt)
		if err != nil {
			return Outcome[*Result]{}, err
		}

		return Outcome[*Result]{Success: true, Result: res}, nil
	})
	if err != nil {
		return nil, err
	}

	return out.Result, nil
}

// SQLBatchInTransaction executes statements strictly in declaration order
// inside one transaction, all-or-nothing.
func SQLBatchInTransaction(ctx context.Context, c conn.Conn, stmts []Statement) ([]*Result, error) {
	out, err := ExecuteInTransaction(ctx, c, func(cl conn.Client) (Outcome[[]*Result], error) {
		results := make([]*Result, 0, len(stmts))

		for _, stmt := range stmts {
			res, err := Run(ctx, cl, stmt)
			if err != nil {
				return Outcome[[]*Result]{}, err
			}

			results = append(results, res)
		}

		return Outcome[[]*Result]{Success: true, Result: results}, nil
	})
	if err != nil {
		return nil, err
	}

	return out.Result, nil
}
