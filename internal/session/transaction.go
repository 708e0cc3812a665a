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
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/FerretDB/docsql/internal/conn"
	"github.com/FerretDB/docsql/internal/util/lazyerrors"
	"github.com/FerretDB/docsql/internal/util/observability"
)

// State is a transaction state.
type State int

// Transaction states. Committed and RolledBack are terminal.
const (
	StateNotStarted State = iota
	StateActive
	StateCommitted
	StateRolledBack
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("unknown (%d)", int(s))
	}
}

// Transaction state machine violations.
var (
	ErrNotActive      = errors.New("transaction is not active")
	ErrAlreadyStarted = errors.New("transaction already started")
)

// Enlisted is an executor bound to one physical database for the lifetime of a transaction.
type Enlisted struct {
	c  conn.Conn
	cl conn.Client
	tx conn.Tx
}

// Client returns the live client statements should be routed through.
func (e *Enlisted) Client() conn.Client {
	return e.cl
}

// Transaction is a session-scoped unit of work.
//
// It lazily enlists per target database, memoized so repeat enlistment
// against the same database reuses one executor.
type Transaction struct {
	l *zap.Logger

	mu       sync.Mutex
	state    State
	enlisted map[string]*Enlisted
	order    []string
}

// newTransaction creates a not-started transaction.
func newTransaction(l *zap.Logger) *Transaction {
	return &Transaction{
		l:        l,
		enlisted: map[string]*Enlisted{},
	}
}

// State returns the current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// begin transitions not-started → active.
func (t *Transaction) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateNotStarted {
		return lazyerrors.Error(ErrAlreadyStarted)
	}

	t.state = StateActive

	return nil
}

// Enlist binds the transaction to an executor scoped to the given database key,
// dialing a connection and beginning a physical transaction on first use.
//
// Repeated enlistment against the same key is a cache hit.
func (t *Transaction) Enlist(ctx context.Context, key string, dial func() conn.Conn) (*Enlisted, error) {
	defer observability.FuncCall(ctx)()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return nil, lazyerrors.Error(ErrNotActive)
	}

	if e := t.enlisted[key]; e != nil {
		return e, nil
	}

	c := dial()

	cl, err := c.Open(ctx)
	if err != nil {
		_ = c.Close(ctx)
		return nil, lazyerrors.Error(err)
	}

	tx, err := cl.BeginTx(ctx)
	if err != nil {
		_ = c.Close(ctx)
		return nil, lazyerrors.Error(err)
	}

	e := &Enlisted{
		c:  c,
		cl: cl,
		tx: tx,
	}

	t.enlisted[key] = e
	t.order = append(t.order, key)

	return e, nil
}

// Commit transitions active → committed, committing every enlisted executor
// in enlistment order and releasing its connection.
//
// A commit failure rolls back the remaining executors and leaves the
// transaction rolled-back.
func (t *Transaction) Commit(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return lazyerrors.Error(ErrNotActive)
	}

	var commitErr error

	for i, key := range t.order {
		e := t.enlisted[key]

		if commitErr = e.tx.Commit(); commitErr != nil {
			commitErr = lazyerrors.Error(commitErr)

			for _, k := range t.order[i+1:] {
				if err := t.enlisted[k].tx.Rollback(); err != nil {
					t.l.Warn("Failed to roll back enlisted transaction.", zap.String("db", k), zap.Error(err))
				}
			}

			break
		}
	}

	t.release(ctx)

	if commitErr != nil {
		t.state = StateRolledBack
		return commitErr
	}

	t.state = StateCommitted

	return nil
}

// Rollback transitions active → rolled-back, rolling back every enlisted
// executor and releasing its connection.
func (t *Transaction) Rollback(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateActive {
		return lazyerrors.Error(ErrNotActive)
	}

	var rbErr error

	for _, key := range t.order {
		if err := t.enlisted[key].tx.Rollback(); err != nil {
			t.l.Warn("Failed to roll back enlisted transaction.", zap.String("db", key), zap.Error(err))

			if rbErr == nil {
				rbErr = lazyerrors.Error(err)
			}
		}
	}

	t.release(ctx)

	// the transaction is finished even if a rollback failed
	t.state = StateRolledBack

	return rbErr
}

// release closes all enlisted connections. Failures are logged, never returned.
func (t *Transaction) release(ctx context.Context) {
	for _, key := range t.order {
		if err := t.enlisted[key].c.Close(ctx); err != nil {
			t.l.Warn("Failed to close enlisted connection.", zap.String("db", key), zap.Error(err))
		}
	}

	t.enlisted = map[string]*Enlisted{}
	t.order = nil
}
