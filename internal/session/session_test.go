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

package session

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/docsql/internal/conn"
	"github.com/FerretDB/docsql/internal/util/fsql"
	"github.com/FerretDB/docsql/internal/util/testutil"
)

// fakeTx implements conn.Tx.
type fakeTx struct {
	commits   int
	rollbacks int
}

func (tx *fakeTx) Commit() error   { tx.commits++; return nil }
func (tx *fakeTx) Rollback() error { tx.rollbacks++; return nil }

// fakeClient implements conn.Client.
type fakeClient struct {
	tx     *fakeTx
	begins int
}

func (c *fakeClient) QueryContext(context.Context, string, ...any) (*fsql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeClient) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeClient) BeginTx(context.Context) (conn.Tx, error) {
	c.begins++
	return c.tx, nil
}

// fakeConn implements conn.Conn.
type fakeConn struct {
	client *fakeClient
	closes int
}

func (c *fakeConn) Open(context.Context) (conn.Client, error) { return c.client, nil }
func (c *fakeConn) Close(context.Context) error               { c.closes++; return nil }
func (c *fakeConn) DatabaseName() string                      { return "fake" }

func newFakeConn() *fakeConn {
	return &fakeConn{client: &fakeClient{tx: &fakeTx{}}}
}

func TestTransactionStates(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s := New(testutil.Logger(t))

	assert.Nil(t, s.ActiveTransaction())

	tx, err := s.StartTransaction()
	require.NoError(t, err)
	assert.Equal(t, StateActive, tx.State())
	assert.Same(t, tx, s.ActiveTransaction())

	// at most one active transaction per session
	_, err = s.StartTransaction()
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	require.NoError(t, s.CommitTransaction(ctx))
	assert.Equal(t, StateCommitted, tx.State())
	assert.Nil(t, s.ActiveTransaction())

	// terminal states never transition further
	assert.ErrorIs(t, tx.Commit(ctx), ErrNotActive)
	assert.ErrorIs(t, tx.Rollback(ctx), ErrNotActive)

	// a finished transaction can be replaced
	tx2, err := s.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, s.AbortTransaction(ctx))
	assert.Equal(t, StateRolledBack, tx2.State())
}

func TestTransactionEnlistMemoized(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s := New(testutil.Logger(t))

	tx, err := s.StartTransaction()
	require.NoError(t, err)

	c1 := newFakeConn()
	var dials int

	e1, err := tx.Enlist(ctx, "db1", func() conn.Conn { dials++; return c1 })
	require.NoError(t, err)
	require.NotNil(t, e1.Client())

	// repeat enlistment against the same database is a cache hit
	e2, err := tx.Enlist(ctx, "db1", func() conn.Conn { dials++; return newFakeConn() })
	require.NoError(t, err)
	assert.Same(t, e1, e2)
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, c1.client.begins)

	c2 := newFakeConn()
	e3, err := tx.Enlist(ctx, "db2", func() conn.Conn { dials++; return c2 })
	require.NoError(t, err)
	assert.NotSame(t, e1, e3)
	assert.Equal(t, 2, dials)

	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, 1, c1.client.tx.commits)
	assert.Equal(t, 1, c2.client.tx.commits)
	assert.Equal(t, 0, c1.client.tx.rollbacks)
	assert.Equal(t, 1, c1.closes)
	assert.Equal(t, 1, c2.closes)
}

func TestTransactionRollback(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s := New(testutil.Logger(t))

	tx, err := s.StartTransaction()
	require.NoError(t, err)

	c := newFakeConn()
	_, err = tx.Enlist(ctx, "db1", func() conn.Conn { return c })
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, StateRolledBack, tx.State())

	assert.Equal(t, 0, c.client.tx.commits)
	assert.Equal(t, 1, c.client.tx.rollbacks)
	assert.Equal(t, 1, c.closes)

	// enlistment after the end of the transaction is rejected
	_, err = tx.Enlist(ctx, "db2", func() conn.Conn { return newFakeConn() })
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestSessionNoTransaction(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	s := New(testutil.Logger(t))

	assert.ErrorIs(t, s.CommitTransaction(ctx), ErrNoTransaction)
	assert.ErrorIs(t, s.AbortTransaction(ctx), ErrNoTransaction)
}
