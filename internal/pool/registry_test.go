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

package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FerretDB/docsql/internal/util/testutil"
	"github.com/FerretDB/docsql/internal/util/teststress"
)

func TestOpenNilConfig(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		_, _ = Open(testutil.Ctx(t), nil, testutil.Logger(t))
	})
}

func TestRegistryAcquireRelease(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	r := NewRegistry(testutil.Logger(t))
	t.Cleanup(r.Close)

	cfg := &Config{URI: testutil.SQLiteURI(t)}

	db, err := r.Acquire(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, db)

	// identical connection string and database share one pool
	db2, err := r.Acquire(ctx, cfg)
	require.NoError(t, err)
	require.Same(t, db, db2)
	require.Equal(t, 1, r.Len())

	r.Release(cfg, false)
	require.Equal(t, 1, r.Len())

	r.Release(cfg, false)
	require.Equal(t, 0, r.Len())

	// a fresh acquire after teardown dials a new pool
	db3, err := r.Acquire(ctx, cfg)
	require.NoError(t, err)
	require.NotSame(t, db, db3)

	r.Release(cfg, false)
}

func TestRegistryForcedRelease(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	r := NewRegistry(testutil.Logger(t))
	t.Cleanup(r.Close)

	cfg := &Config{URI: testutil.SQLiteURI(t)}

	_, err := r.Acquire(ctx, cfg)
	require.NoError(t, err)
	_, err = r.Acquire(ctx, cfg)
	require.NoError(t, err)

	// forced release tears down regardless of the counter value
	r.Release(cfg, true)
	require.Equal(t, 0, r.Len())
}

func TestRegistryReleaseUntracked(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testutil.Logger(t))
	t.Cleanup(r.Close)

	r.Release(&Config{URI: "file:untracked?mode=memory&cache=shared"}, false)
	r.Release(&Config{URI: "file:untracked?mode=memory&cache=shared"}, true)
	require.Equal(t, 0, r.Len())
}

func TestRegistryReleaseAll(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	r := NewRegistry(testutil.Logger(t))
	t.Cleanup(r.Close)

	for _, name := range []string{"a", "b", "c"} {
		_, err := r.Acquire(ctx, &Config{URI: "file:" + testutil.CollectionName(t) + name + "?mode=memory&cache=shared"})
		require.NoError(t, err)
	}

	require.Equal(t, 3, r.Len())

	r.ReleaseAll()
	require.Equal(t, 0, r.Len())
}

func TestRegistryStress(t *testing.T) {
	ctx := testutil.Ctx(t)
	r := NewRegistry(testutil.Logger(t))
	t.Cleanup(r.Close)

	cfg := &Config{URI: testutil.SQLiteURI(t)}

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		ready <- struct{}{}
		<-start

		db, err := r.Acquire(ctx, cfg)
		require.NoError(t, err)
		require.NotNil(t, db)

		r.Release(cfg, false)
	})

	// interleaved acquire/release must neither leak nor double-close
	require.Equal(t, 0, r.Len())
}
