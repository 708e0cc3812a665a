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

// Package pool provides shared, usage-counted database connection pools.
package pool

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/docsql/internal/util/fsql"
	"github.com/FerretDB/docsql/internal/util/lazyerrors"
	"github.com/FerretDB/docsql/internal/util/observability"
	"github.com/FerretDB/docsql/internal/util/resource"
)

// Parts of Prometheus metric names.
const (
	namespace = "docsql"
	subsystem = "pool"
)

// entry is one shared pool and its usage counter.
type entry struct {
	db   *fsql.DB
	name string
	refs int
}

// Registry is a keyed store of shared pooled connections with usage counting.
//
// Exactly one pool exists per lookup key. A pool is torn down when its counter
// reaches zero or a forced release occurs.
//
// All methods are safe for concurrent use; counter mutation is serialized by a mutex.
type Registry struct {
	l *zap.Logger

	// mu also serializes pool dialing so concurrent Acquire calls
	// for the same key can't create two pools
	mu      sync.Mutex
	entries map[string]*entry

	token *resource.Token
}

// NewRegistry creates a new empty registry.
func NewRegistry(l *zap.Logger) *Registry {
	r := &Registry{
		l:       l.Named("pool"),
		entries: map[string]*entry{},
		token:   resource.NewToken(),
	}

	resource.Track(r, r.token)

	return r
}

// Acquire returns the existing shared pool for the configuration's lookup key,
// or dials a new one, incrementing the usage counter either way.
func (r *Registry) Acquire(ctx context.Context, cfg *Config) (*fsql.DB, error) {
	defer observability.FuncCall(ctx)()

	key := cfg.LookupKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.entries[key]; e != nil {
		e.refs++
		return e.db, nil
	}

	db, err := Open(ctx, cfg, r.l)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	r.entries[key] = &entry{
		db:   db,
		name: cfg.DatabaseName(),
		refs: 1,
	}

	r.l.Debug("Pool created.", zap.String("key", cfg.DatabaseName()))

	return db, nil
}

// Release decrements the usage counter for the configuration's lookup key
// and tears the pool down when the counter reaches zero or force is true.
//
// Releasing an untracked key is a no-op.
// Teardown failures are logged, never returned; the entry is removed regardless.
func (r *Registry) Release(cfg *Config, force bool) {
	key := cfg.LookupKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[key]
	if e == nil {
		return
	}

	e.refs--

	if e.refs > 0 && !force {
		return
	}

	delete(r.entries, key)

	if err := e.db.Close(); err != nil {
		r.l.Warn("Failed to close pool.", zap.String("key", e.name), zap.Error(err))
	}

	r.l.Debug("Pool released.", zap.String("key", e.name), zap.Bool("force", force))
}

// ReleaseAll tears down every tracked pool. It is the shutdown path.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		if err := e.db.Close(); err != nil {
			r.l.Warn("Failed to close pool.", zap.String("key", e.name), zap.Error(err))
		}

		delete(r.entries, key)
	}
}

// Close releases all pools and frees the registry itself.
func (r *Registry) Close() {
	r.ReleaseAll()
	resource.Untrack(r, r.token)
}

// Len returns the number of tracked pools.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(r, ch)
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "entries"),
			"The current number of shared pools in the registry.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(len(r.entries)),
	)

	for _, e := range r.entries {
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(
				prometheus.BuildFQName(namespace, subsystem, "refs"),
				"The current usage counter of a shared pool.",
				[]string{"name"}, nil,
			),
			prometheus.GaugeValue,
			float64(e.refs),
			e.name,
		)

		e.db.Collect(ch)
	}
}

// check interfaces
var (
	_ prometheus.Collector = (*Registry)(nil)
)
