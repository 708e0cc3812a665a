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

package exec

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

// fakeTx implements conn.Tx and counts transitions.
type fakeTx struct {
	commits   int
	rollbacks int
}

func (tx *fakeTx) Commit() error   { tx.commits++; return nil }
func (tx *fakeTx) Rollback() error { tx.rollbacks++; return nil }

// fakeClient implements conn.Client.
type fakeClient struct {
	tx *fakeTx
}

func (c *fakeClient) QueryContext(context.Context, string, ...any) (*fsql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeClient) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeClient) BeginTx(context.Context) (conn.Tx, error) {
	return c.tx, nil
}

// fakeConn implements conn.Conn and counts open/close calls.
type fakeConn struct {
	client *fakeClient
	opens  int
	closes int
}

func (c *fakeConn) Open(context.Context) (conn.Client, error) {
	c.opens++
	return c.client, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closes++
	return nil
}

func (c *fakeConn) DatabaseName() string { return "fake" }

func TestExecuteClosesOnFailure(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	c := &fakeConn{client: &fakeClient{}}

	expected := errors.New("handler failed")

	_, err := Execute(ctx, c, func(conn.Client) (any, error) {
		return nil, expected
	})

	// exactly one close, original error unmodified
	require.Equal(t, expected, err)
	assert.Equal(t, 1, c.opens)
	assert.Equal(t, 1, c.closes)
}

func TestExecuteClosesOnSuccess(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	c := &fakeConn{client: &fakeClient{}}

	res, err := Execute(ctx, c, func(conn.Client) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, 1, c.closes)
}

func TestExecuteInTransactionCommit(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	tx := &fakeTx{}
	c := &fakeConn{client: &fakeClient{tx: tx}}

	out, err := ExecuteInTransaction(ctx, c, func(conn.Client) (Outcome[string], error) {
		return Outcome[string]{Success: true, Result: "ok"}, nil
	})

	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "ok", out.Result)

	// commit exactly once, never both commit and rollback
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, 0, tx.rollbacks)
	assert.Equal(t, 1, c.closes)
}

func TestExecuteInTransactionReportedFailure(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	tx := &fakeTx{}
	c := &fakeConn{client: &fakeClient{tx: tx}}

	out, err := ExecuteInTransaction(ctx, c, func(conn.Client) (Outcome[string], error) {
		return Outcome[string]{Success: false}, nil
	})

	require.NoError(t, err)
	assert.False(t, out.Success)

	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}

func TestExecuteInTransactionHandlerError(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	tx := &fakeTx{}
	c := &fakeConn{client: &fakeClient{tx: tx}}

	expected := errors.New("handler failed")

	_, err := ExecuteInTransaction(ctx, c, func(conn.Client) (Outcome[string], error) {
		return Outcome[string]{}, expected
	})

	// rollback precedes propagation
	require.ErrorIs(t, err, expected)
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
	assert.Equal(t, 1, c.closes)
}

func TestExecuteInTransactionPanic(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	tx := &fakeTx{}
	c := &fakeConn{client: &fakeClient{tx: tx}}

	require.Panics(t, func() {
		_, _ = ExecuteInTransaction(ctx, c, func(conn.Client) (Outcome[string], error) {
			panic("boom")
		})
	})

	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
	assert.Equal(t, 1, c.closes)
}
