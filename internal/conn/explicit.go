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

package conn

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/FerretDB/docsql/internal/pool"
	"github.com/FerretDB/docsql/internal/util/fsql"
	"github.com/FerretDB/docsql/internal/util/lazyerrors"
	"github.com/FerretDB/docsql/internal/util/observability"
)

// explicit is a Conn that owns a single physical connection,
// or wraps a caller-supplied client it does not own.
type explicit struct {
	cfg *pool.Config
	l   *zap.Logger

	supplied Client

	mu     sync.Mutex
	db     *fsql.DB
	leased *fsql.Conn
}

// NewExplicit creates a Conn that dials its own single connection on Open
// and terminates it on Close.
func NewExplicit(cfg *pool.Config, l *zap.Logger) Conn {
	return &explicit{
		cfg: cfg,
		l:   l,
	}
}

// NewExplicitWith creates a Conn over an already-connected caller-supplied client.
//
// Ownership does not transfer: Close leaves the client untouched.
func NewExplicitWith(c Client, cfg *pool.Config) Conn {
	return &explicit{
		supplied: c,
		cfg:      cfg,
	}
}

// Open implements Conn.
func (e *explicit) Open(ctx context.Context) (Client, error) {
	defer observability.FuncCall(ctx)()

	if e.supplied != nil {
		return e.supplied, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.leased != nil {
		return client{e.leased}, nil
	}

	db, err := pool.OpenSingle(ctx, e.cfg, e.l)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	c, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, lazyerrors.Error(err)
	}

	e.db = db
	e.leased = c

	return client{c}, nil
}

// Close implements Conn. Self-established connections are terminated;
// a caller-supplied client is left untouched.
func (e *explicit) Close(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	if e.supplied != nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var err error

	if e.leased != nil {
		err = e.leased.Close()
		e.leased = nil
	}

	if e.db != nil {
		if dbErr := e.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}

		e.db = nil
	}

	if err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// DatabaseName implements Conn.
func (e *explicit) DatabaseName() string {
	if e.cfg == nil {
		return pool.DefaultDatabase
	}

	return e.cfg.DatabaseName()
}

// check interfaces
var (
	_ Conn = (*explicit)(nil)
)
