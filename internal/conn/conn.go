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

// Package conn provides a uniform connection abstraction over
// shared pooled leases and explicitly owned connections.
package conn

import (
	"context"
	"database/sql"

	"github.com/FerretDB/docsql/internal/util/fsql"
)

// Tx is a started transaction on a client.
type Tx interface {
	Commit() error
	Rollback() error
}

// Client is a live database client obtained from a Conn.
type Client interface {
	QueryContext(ctx context.Context, query string, args ...any) (*fsql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context) (Tx, error)
}

// Conn is a logical connection.
//
// Open yields a live client. Close is idempotent.
// A leased pooled connection belongs to the caller that opened it until Close;
// a caller-supplied client is never closed by a Conn.
type Conn interface {
	Open(ctx context.Context) (Client, error)
	Close(ctx context.Context) error
	DatabaseName() string
}

// client adapts *fsql.Conn to the Client interface.
type client struct {
	*fsql.Conn
}

// BeginTx implements Client.
func (c client) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := c.Conn.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// check interfaces
var (
	_ Client = client{}
	_ Tx     = (*fsql.Tx)(nil)
)
