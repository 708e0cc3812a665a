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

// Package session provides session-scoped transaction coordination,
// so multiple document operations can share one physical transaction.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/FerretDB/docsql/internal/util/lazyerrors"
)

// ErrNoTransaction is returned when a session has no transaction to finish.
var ErrNoTransaction = errors.New("session has no transaction")

// Session carries at most one transaction.
//
// Collection operations consult it to decide whether to route statements
// through an enlisted executor or an ad-hoc connection.
type Session struct {
	l *zap.Logger

	mu sync.Mutex
	tx *Transaction
}

// New creates a new session.
func New(l *zap.Logger) *Session {
	return &Session{
		l: l,
	}
}

// StartTransaction creates and activates the session's transaction.
func (s *Session) StartTransaction() (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil && s.tx.State() == StateActive {
		return nil, lazyerrors.Error(ErrAlreadyStarted)
	}

	tx := newTransaction(s.l)
	if err := tx.begin(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	s.tx = tx

	return tx, nil
}

// ActiveTransaction returns the session's transaction if it is active, nil otherwise.
func (s *Session) ActiveTransaction() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil || s.tx.State() != StateActive {
		return nil
	}

	return s.tx
}

// CommitTransaction commits the session's transaction.
func (s *Session) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()

	if tx == nil {
		return lazyerrors.Error(ErrNoTransaction)
	}

	return tx.Commit(ctx)
}

// AbortTransaction rolls the session's transaction back.
func (s *Session) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()

	if tx == nil {
		return lazyerrors.Error(ErrNoTransaction)
	}

	return tx.Rollback(ctx)
}
