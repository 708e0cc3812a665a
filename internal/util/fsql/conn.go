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

package fsql

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/FerretDB/docsql/internal/util/observability"
	"github.com/FerretDB/docsql/internal/util/resource"
)

// Conn wraps [*database/sql.Conn] with logging and resource tracking.
//
// Closing a Conn returns the underlying physical connection to its pool;
// it never terminates it.
type Conn struct {
	sqlConn *sql.Conn
	l       *zap.Logger
	closed  atomic.Bool
	token   *resource.Token
}

// wrapConn creates a new Conn.
func wrapConn(c *sql.Conn, l *zap.Logger) *Conn {
	if c == nil {
		return nil
	}

	res := &Conn{
		sqlConn: c,
		l:       l,
		token:   resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res
}

// Close calls [*sql.Conn.Close]. It is safe to call multiple times.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	resource.Untrack(c, c.token)

	return c.sqlConn.Close()
}

// QueryContext calls [*sql.Conn.QueryContext].
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	c.l.Sugar().With(fields...).Debugf(">>> %s", query)

	rows, err := c.sqlConn.QueryContext(ctx, query, args...)

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(err))
	c.l.Sugar().With(fields...).Debugf("<<< %s", query)

	if err != nil {
		return nil, err
	}

	return wrapRows(rows), nil
}

// ExecContext calls [*sql.Conn.ExecContext].
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	c.l.Sugar().With(fields...).Debugf(">>> %s", query)

	res, err := c.sqlConn.ExecContext(ctx, query, args...)

	// to differentiate between 0 and nil
	var ra *int64

	if res != nil {
		rav, _ := res.RowsAffected()
		ra = &rav
	}

	fields = append(fields, zap.Int64p("rows", ra), zap.Duration("time", time.Since(start)), zap.Error(err))
	c.l.Sugar().With(fields...).Debugf("<<< %s", query)

	return res, err
}

// BeginTx calls [*sql.Conn.BeginTx].
func (c *Conn) BeginTx(ctx context.Context) (*Tx, error) {
	defer observability.FuncCall(ctx)()

	tx, err := c.sqlConn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return wrapTx(tx, c.l), nil
}
