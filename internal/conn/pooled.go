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

// pooled is a Conn backed by a shared registry pool.
//
// Open leases a physical connection from the pool; Close returns the lease
// and drops the registry reference. An ambient caller-supplied pool is used
// as-is and never torn down.
type pooled struct {
	reg *pool.Registry
	cfg *pool.Config
	l   *zap.Logger

	ambient *fsql.DB

	mu     sync.Mutex
	db     *fsql.DB
	leased *fsql.Conn
}

// NewPooled creates a Conn that leases from the shared pool for the given configuration.
func NewPooled(reg *pool.Registry, cfg *pool.Config, l *zap.Logger) Conn {
	return &pooled{
		reg: reg,
		cfg: cfg,
		l:   l,
	}
}

// NewPooledWith creates a Conn that leases from the given ambient pool.
//
// The ambient pool is owned by the caller; Close never tears it down.
func NewPooledWith(db *fsql.DB, cfg *pool.Config, l *zap.Logger) Conn {
	return &pooled{
		ambient: db,
		cfg:     cfg,
		l:       l,
	}
}

// Open implements Conn.
func (p *pooled) Open(ctx context.Context) (Client, error) {
	defer observability.FuncCall(ctx)()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.leased != nil {
		return client{p.leased}, nil
	}

	db := p.ambient

	if db == nil {
		if p.db == nil {
			var err error
			if p.db, err = p.reg.Acquire(ctx, p.cfg); err != nil {
				return nil, lazyerrors.Error(err)
			}
		}

		db = p.db
	}

	c, err := db.Conn(ctx)
	if err != nil {
		// drop the registry reference taken above
		if p.db != nil {
			p.reg.Release(p.cfg, false)
			p.db = nil
		}

		return nil, lazyerrors.Error(err)
	}

	p.leased = c

	return client{c}, nil
}

// Close implements Conn.
func (p *pooled) Close(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	p.mu.Lock()
	defer p.mu.Unlock()

	var err error

	if p.leased != nil {
		err = p.leased.Close()
		p.leased = nil
	}

	if p.db != nil {
		p.reg.Release(p.cfg, false)
		p.db = nil
	}

	if err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// DatabaseName implements Conn.
func (p *pooled) DatabaseName() string {
	return p.cfg.DatabaseName()
}

// check interfaces
var (
	_ Conn = (*pooled)(nil)
)
