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
	"context"

	"github.com/FerretDB/docsql/internal/util/lazyerrors"
	"github.com/FerretDB/docsql/internal/util/observability"
)

// expectKind discriminates ExpectedVersion variants.
type expectKind int8

const (
	expectAny expectKind = iota
	expectExact
	expectMustExist
	expectMustNotExist
)

// ExpectedVersion is the version precondition of Collection.Handle,
// decided at construction time.
//
// The zero value matches any state.
type ExpectedVersion struct {
	version int64
	kind    expectKind
}

// ExactVersion expects a document with exactly the given stored version.
func ExactVersion(v int64) ExpectedVersion {
	return ExpectedVersion{kind: expectExact, version: v}
}

// MustExist expects a document to exist, at any version.
func MustExist() ExpectedVersion {
	return ExpectedVersion{kind: expectMustExist}
}

// MustNotExist expects no document to exist.
func MustNotExist() ExpectedVersion {
	return ExpectedVersion{kind: expectMustNotExist}
}

// HandleOptions configures Collection.Handle.
type HandleOptions struct {
	ExpectedVersion *ExpectedVersion
}

// HandlerFunc decides the next state of a document.
//
// It receives the current document or nil, and returns the fields of the
// replacement document, or nil to delete it (or to decline creating one).
type HandlerFunc func(existing *Document) (map[string]any, error)

// Handle is the conditional read-modify-write primitive: read the document
// under id, check the version precondition, invoke handler, and apply its
// decision guarded against concurrent modification.
//
// A failed precondition or a lost guard yields an unsuccessful result with
// the stored document attached; no error unless raise-on-failure is set.
func (c *Collection) Handle(ctx context.Context, id string, handler HandlerFunc, opts *HandleOptions) (*HandleResult, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	existing, err := c.findByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var expected ExpectedVersion
	if opts != nil && opts.ExpectedVersion != nil {
		expected = *opts.ExpectedVersion
	}

	if !preconditionHolds(existing, expected) {
		return c.conflict(existing)
	}

	fields, err := handler(existing)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	switch {
	case existing == nil && fields == nil:
		// nothing to do, on purpose
		return &HandleResult{Successful: true}, nil

	case existing == nil:
		return c.handleInsert(ctx, id, fields)

	case fields == nil:
		return c.handleDelete(ctx, existing, expected)

	default:
		return c.handleReplace(ctx, existing, expected, fields)
	}
}

// preconditionHolds evaluates the version precondition against the read state.
func preconditionHolds(existing *Document, expected ExpectedVersion) bool {
	if existing == nil {
		return expected.kind != expectMustExist && expected.kind != expectExact
	}

	switch expected.kind {
	case expectMustNotExist:
		return false
	case expectExact:
		return expected.version == existing.Version
	default:
		return true
	}
}

// handleInsert creates the document under id with version 1.
// The primary key guards against a concurrent creator.
func (c *Collection) handleInsert(ctx context.Context, id string, fields map[string]any) (*HandleResult, error) {
	doc, err := FromFields(fields)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	doc.ID = id
	doc.Version = 1

	payload, err := doc.payload()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res, err := c.run(ctx, c.db.b.Insert(c.Name(), doc.ID, doc.Version, payload))
	if err != nil {
		if ErrorCodeIs(err, ErrorCodeDuplicateID) {
			return c.conflict(nil)
		}

		return nil, err
	}

	if res.RowsAffected != 1 {
		return c.conflict(nil)
	}

	return &HandleResult{Successful: true, Document: doc}, nil
}

// handleDelete removes the document guarded by its read version
// (or the caller's concrete override).
func (c *Collection) handleDelete(ctx context.Context, existing *Document, expected ExpectedVersion) (*HandleResult, error) {
	guard := existing.Version
	if expected.kind == expectExact {
		guard = expected.version
	}

	res, err := c.run(ctx, c.db.b.DeleteByID(c.Name(), existing.ID, &guard))
	if err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		return c.conflict(existing)
	}

	return &HandleResult{Successful: true}, nil
}

// handleReplace swaps the document's payload guarded by its read version
// (or the caller's concrete override).
func (c *Collection) handleReplace(ctx context.Context, existing *Document, expected ExpectedVersion, fields map[string]any) (*HandleResult, error) {
	doc, err := FromFields(fields)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	doc.ID = existing.ID

	payload, err := doc.payload()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	guard := existing.Version
	if expected.kind == expectExact {
		guard = expected.version
	}

	res, err := c.run(ctx, c.db.b.ReplaceByID(c.Name(), doc.ID, payload, &guard))
	if err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		return c.conflict(existing)
	}

	doc.Version = guard + 1

	return &HandleResult{Successful: true, Document: doc}, nil
}

// conflict produces the unsuccessful outcome of a failed version precondition.
func (c *Collection) conflict(existing *Document) (*HandleResult, error) {
	if c.raise {
		return nil, NewError(ErrorCodeConcurrencyConflict, lazyerrors.New("version precondition failed"))
	}

	return &HandleResult{Document: existing}, nil
}
