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

// Package docstore implements the document collection engine:
// schemaless documents with optimistic concurrency stored in
// relational tables, one table per collection.
package docstore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/FerretDB/docsql/internal/conn"
	"github.com/FerretDB/docsql/internal/pool"
	"github.com/FerretDB/docsql/internal/session"
	"github.com/FerretDB/docsql/internal/util/lazyerrors"
)

// Database is a handle to one logical database.
//
// It holds a reference on the shared pool for its target,
// released by Close.
type Database struct {
	cfg *pool.Config
	reg *pool.Registry
	b   Builder
	l   *zap.Logger
}

// NewDatabase creates a database handle, dialing the underlying pool
// to validate the target.
func NewDatabase(ctx context.Context, reg *pool.Registry, cfg *pool.Config, b Builder, l *zap.Logger) (*Database, error) {
	if _, err := reg.Acquire(ctx, cfg); err != nil {
		return nil, NewError(ErrorCodeConnection, lazyerrors.Error(err))
	}

	return &Database{
		cfg: cfg,
		reg: reg,
		b:   b,
		l:   l,
	}, nil
}

// Name returns the logical database name.
func (db *Database) Name() string {
	return db.cfg.DatabaseName()
}

// Close releases the handle's pool reference.
// The pool itself survives while other handles use it.
func (db *Database) Close() {
	db.reg.Release(db.cfg, false)
}

// NewSession creates a session against this database's engine.
func (db *Database) NewSession() *session.Session {
	return session.New(db.l)
}

// Collection returns a handle to the named collection.
//
// No statement is issued; the collection table is established lazily
// by the first operation.
func (db *Database) Collection(name string, opts ...CollectionOption) *Collection {
	c := &Collection{
		db:     db,
		l:      db.l.Named(name),
		runner: sequentialRunner{},
		shared: &collState{
			name: name,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CollectionOption configures a collection handle.
type CollectionOption func(*Collection)

// RaiseOnFailure makes the collection return errors for operations
// whose structured result would report failure.
func RaiseOnFailure() CollectionOption {
	return func(c *Collection) {
		c.raise = true
	}
}

// WithMigrationRunner replaces the migration runner used by Migrate.
func WithMigrationRunner(r MigrationRunner) CollectionOption {
	return func(c *Collection) {
		c.runner = r
	}
}

// newConn returns a fresh pooled connection for one scoped execution.
func (db *Database) newConn() conn.Conn {
	return conn.NewPooled(db.reg, db.cfg, db.l)
}

// key returns the transaction enlistment key for this database.
func (db *Database) key() string {
	return db.cfg.LookupKey()
}

// collState is the collection state shared between a collection handle
// and its session-bound views.
type collState struct {
	rw      sync.RWMutex
	name    string
	ensured bool
}
