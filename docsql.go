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

// Package docsql provides a document store on top of relational databases:
// schemaless, versioned documents in plain SQL tables, with pooled
// connections and session-scoped multi-collection transactions.
package docsql

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/docsql/internal/docstore"
	"github.com/FerretDB/docsql/internal/docstore/sqlitebuilder"
	"github.com/FerretDB/docsql/internal/pool"
	"github.com/FerretDB/docsql/internal/session"
)

// Convenience aliases for the engine's caller-facing types.
type (
	Filter          = docstore.Filter
	Document        = docstore.Document
	ExpectedVersion = docstore.ExpectedVersion
	HandleOptions   = docstore.HandleOptions
)

// Re-exported ExpectedVersion constructors.
var (
	ExactVersion = docstore.ExactVersion
	MustExist    = docstore.MustExist
	MustNotExist = docstore.MustNotExist
)

// Options configures Connect.
//
// Either URI or the discrete fields identify the target; an unset
// Database resolves to the engine default. A nil Builder selects the
// SQLite statement builder.
type Options struct {
	URI      string
	Host     string
	Port     uint16
	Username string
	Password string
	Database string

	Builder docstore.Builder
	Logger  *zap.Logger
}

// Client is a handle to one target database with its own pool registry.
type Client struct {
	reg *pool.Registry
	db  *docstore.Database
	l   *zap.Logger
}

// Connect dials the target described by opts and returns a client.
//
// The underlying pool is established eagerly so configuration problems
// surface here, not on the first operation.
func Connect(ctx context.Context, opts *Options) (*Client, error) {
	l := opts.Logger
	if l == nil {
		l = zap.L()
	}

	b := opts.Builder
	if b == nil {
		b = sqlitebuilder.New()
	}

	cfg := &pool.Config{
		URI:      opts.URI,
		Host:     opts.Host,
		Port:     opts.Port,
		Username: opts.Username,
		Password: opts.Password,
		Database: opts.Database,
	}

	reg := pool.NewRegistry(l)

	db, err := docstore.NewDatabase(ctx, reg, cfg, b, l)
	if err != nil {
		reg.Close()
		return nil, err
	}

	return &Client{
		reg: reg,
		db:  db,
		l:   l,
	}, nil
}

// Database returns the database handle.
func (c *Client) Database() *docstore.Database {
	return c.db
}

// Collection returns a handle to the named collection.
func (c *Client) Collection(name string, opts ...docstore.CollectionOption) *docstore.Collection {
	return c.db.Collection(name, opts...)
}

// NewSession creates a session for transactional operation routing.
func (c *Client) NewSession() *session.Session {
	return c.db.NewSession()
}

// MetricsCollector returns a collector reporting pool registry metrics.
func (c *Client) MetricsCollector() prometheus.Collector {
	return c.reg
}

// Close releases the client's pools. Teardown failures are logged,
// never returned; shutdown always completes.
func (c *Client) Close() {
	c.db.Close()
	c.reg.Close()
}
