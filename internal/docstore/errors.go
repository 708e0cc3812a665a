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

package docstore

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// ErrorCode represents an engine error code.
type ErrorCode int

// Error codes.
const (
	_ ErrorCode = iota

	ErrorCodeConnection
	ErrorCodeStatement
	ErrorCodeTransaction
	ErrorCodeNoResult
	ErrorCodeTooManyResults
	ErrorCodeOperationFailed
	ErrorCodeConcurrencyConflict
	ErrorCodeDuplicateID
)

// String implements fmt.Stringer.
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeConnection:
		return "ConnectionError"
	case ErrorCodeStatement:
		return "StatementError"
	case ErrorCodeTransaction:
		return "TransactionError"
	case ErrorCodeNoResult:
		return "NoResult"
	case ErrorCodeTooManyResults:
		return "TooManyResults"
	case ErrorCodeOperationFailed:
		return "OperationFailure"
	case ErrorCodeConcurrencyConflict:
		return "ConcurrencyConflict"
	case ErrorCodeDuplicateID:
		return "DuplicateID"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(code))
	}
}

// Error represents an engine error returned by Database and Collection methods.
type Error struct {
	err  error
	code ErrorCode
}

// NewError creates a new engine error.
//
// Code must not be 0. Err may be nil.
func NewError(code ErrorCode, err error) *Error {
	if code == 0 {
		panic("docstore.NewError: code must not be 0")
	}

	return &Error{
		code: code,
		err:  err,
	}
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Error implements error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap returns the cause.
//
// For statement errors that is the backend's error, unchanged.
func (e *Error) Unwrap() error {
	return e.err
}

// ErrorCodeIs returns true if err is *Error with one of the given error codes.
func ErrorCodeIs(err error, code ErrorCode, codes ...ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.code == code || slices.Contains(codes, e.code)
}

// isDuplicateKey reports whether the backend rejected a statement
// because of a primary key or unique constraint violation.
//
// HANA errors are not classified; they surface as generic statement errors.
func isDuplicateKey(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY ||
			se.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}

	return false
}

// statementError classifies a backend statement rejection.
func statementError(err error) error {
	if isDuplicateKey(err) {
		return NewError(ErrorCodeDuplicateID, err)
	}

	return NewError(ErrorCodeStatement, err)
}

// check interfaces
var (
	_ error = (*Error)(nil)
)
