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
	"errors"

	"github.com/AlekSi/pointer"
	"go.uber.org/zap"

	"github.com/FerretDB/docsql/internal/conn"
	"github.com/FerretDB/docsql/internal/exec"
	"github.com/FerretDB/docsql/internal/session"
	"github.com/FerretDB/docsql/internal/util/lazyerrors"
	"github.com/FerretDB/docsql/internal/util/observability"
)

// Collection is a handle to one document collection, backed by one table.
//
// Handles are cheap; no statement is issued until the first operation.
// A handle bound to a session via WithSession routes statements through
// the session's active transaction when there is one.
type Collection struct {
	db     *Database
	l      *zap.Logger
	runner MigrationRunner
	sess   *session.Session
	raise  bool

	shared *collState
}

// Name returns the collection's current table name.
func (c *Collection) Name() string {
	c.shared.rw.RLock()
	defer c.shared.rw.RUnlock()

	return c.shared.name
}

// WithSession returns a view of the collection bound to the given session.
//
// The view shares the lazy-creation state and the recorded name
// with the original handle.
func (c *Collection) WithSession(s *session.Session) *Collection {
	return &Collection{
		db:     c.db,
		l:      c.l,
		runner: c.runner,
		sess:   s,
		raise:  c.raise,
		shared: c.shared,
	}
}

// run routes one statement: through the session's enlisted executor when an
// active transaction exists, through an ad-hoc scoped connection otherwise.
func (c *Collection) run(ctx context.Context, stmt exec.Statement) (*exec.Result, error) {
	if c.sess != nil {
		if tx := c.sess.ActiveTransaction(); tx != nil {
			e, err := tx.Enlist(ctx, c.db.key(), c.db.newConn)
			if err != nil {
				return nil, NewError(ErrorCodeTransaction, lazyerrors.Error(err))
			}

			res, err := exec.Run(ctx, e.Client(), stmt)
			if err != nil {
				return nil, statementError(err)
			}

			return res, nil
		}
	}

	res, err := exec.Execute(ctx, c.db.newConn(), func(cl conn.Client) (*exec.Result, error) {
		res, err := exec.Run(ctx, cl, stmt)
		if err != nil {
			return nil, statementError(err)
		}

		return res, nil
	})
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, err
		}

		return nil, NewError(ErrorCodeConnection, lazyerrors.Error(err))
	}

	return res, nil
}

// ensureSchema establishes the collection table before the first operation.
//
// The flag flips permanently after the first attempt whatever its outcome,
// so creation is never re-issued for this handle.
func (c *Collection) ensureSchema(ctx context.Context) error {
	c.shared.rw.Lock()

	if c.shared.ensured {
		c.shared.rw.Unlock()
		return nil
	}

	c.shared.ensured = true
	table := c.shared.name

	c.shared.rw.Unlock()

	return c.createTable(ctx, table)
}

// EnsureSchema establishes the collection table immediately.
func (c *Collection) EnsureSchema(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	c.shared.rw.Lock()
	c.shared.ensured = true
	table := c.shared.name
	c.shared.rw.Unlock()

	return c.createTable(ctx, table)
}

func (c *Collection) createTable(ctx context.Context, table string) error {
	for _, stmt := range c.db.b.CreateTable(table) {
		if _, err := c.run(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// SchemaComponent describes this collection's contribution to the schema,
// for external migration tooling.
func (c *Collection) SchemaComponent() SchemaComponent {
	name := c.Name()

	return SchemaComponent{
		Name:       name,
		Migrations: c.db.b.CreateTable(name),
	}
}

// Migrate applies the collection's schema component through the configured
// migration runner.
func (c *Collection) Migrate(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	err := c.runner.Apply(ctx, c.SchemaComponent(), func(ctx context.Context, stmt exec.Statement) error {
		_, err := c.run(ctx, stmt)
		return err
	})
	if err != nil {
		return lazyerrors.Error(err)
	}

	c.shared.rw.Lock()
	c.shared.ensured = true
	c.shared.rw.Unlock()

	return nil
}

// operationFailed produces the raise-mode error for a false success predicate.
func (c *Collection) operationFailed(op string) error {
	return NewError(ErrorCodeOperationFailed, lazyerrors.Errorf("%s did not take effect", op))
}

// InsertOne stores one document. A missing _id defaults to a generated
// unique string, a missing _version to 1.
//
// Successful iff exactly one row was affected; a duplicate _id yields
// an unsuccessful result with a nil InsertedID.
func (c *Collection) InsertOne(ctx context.Context, fields map[string]any) (*InsertOneResult, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	return c.insertOne(ctx, fields)
}

// insertOne is InsertOne without the schema check, shared with InsertMany.
func (c *Collection) insertOne(ctx context.Context, fields map[string]any) (*InsertOneResult, error) {
	doc, err := FromFields(fields)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if doc.ID == "" {
		doc.ID = newID()
	}

	if doc.Version == 0 {
		doc.Version = 1
	}

	payload, err := doc.payload()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res, err := c.run(ctx, c.db.b.Insert(c.Name(), doc.ID, doc.Version, payload))
	if err != nil {
		// only the duplicate identity case is an ordinary unsuccessful result;
		// any other backend rejection surfaces as an error
		if ErrorCodeIs(err, ErrorCodeDuplicateID) {
			if c.raise {
				return nil, err
			}

			return new(InsertOneResult), nil
		}

		return nil, err
	}

	if res.RowsAffected != 1 {
		if c.raise {
			return nil, c.operationFailed("insertOne")
		}

		return new(InsertOneResult), nil
	}

	return &InsertOneResult{
		Successful: true,
		InsertedID: pointer.To(doc.ID),
	}, nil
}

// InsertMany stores documents one by one, in order.
//
// Successful iff every document was inserted; a partial insert is a failure
// even though the inserted rows exist.
func (c *Collection) InsertMany(ctx context.Context, docs []map[string]any) (*InsertManyResult, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	res := &InsertManyResult{
		InsertedIDs: make([]string, 0, len(docs)),
	}

	for _, fields := range docs {
		one, err := c.insertOne(ctx, fields)
		if err != nil {
			return nil, err
		}

		if !one.Successful {
			break
		}

		res.Inserted++
		res.InsertedIDs = append(res.InsertedIDs, *one.InsertedID)
	}

	res.Successful = res.Inserted == int64(len(docs))

	if !res.Successful && c.raise {
		return nil, c.operationFailed("insertMany")
	}

	return res, nil
}

// UpdateOne sets fields on at most one matching document and bumps its version.
//
// Zero matches yield matched=0, modified=0 and a successful result.
func (c *Collection) UpdateOne(ctx context.Context, filter Filter, set map[string]any) (*UpdateResult, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	res, err := c.run(ctx, c.db.b.UpdateFields(c.Name(), filter, set, true))
	if err != nil {
		return nil, err
	}

	r := &UpdateResult{
		Matched:  res.RowsAffected,
		Modified: res.RowsAffected,
	}
	r.Successful = r.Matched == r.Modified

	return r, nil
}

// UpdateMany sets fields on every matching document and bumps their versions.
//
// Best-effort: always reported successful, the caller inspects the counts.
func (c *Collection) UpdateMany(ctx context.Context, filter Filter, set map[string]any) (*UpdateResult, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	res, err := c.run(ctx, c.db.b.UpdateFields(c.Name(), filter, set, false))
	if err != nil {
		return nil, err
	}

	return &UpdateResult{
		Matched:    res.RowsAffected,
		Modified:   res.RowsAffected,
		Successful: true,
	}, nil
}

// ReplaceOne swaps the payload of at most one matching document.
//
// Successful iff a document was modified.
func (c *Collection) ReplaceOne(ctx context.Context, filter Filter, fields map[string]any) (*UpdateResult, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	doc, err := FromFields(fields)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	payload, err := doc.payload()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res, err := c.run(ctx, c.db.b.Replace(c.Name(), filter, payload, true))
	if err != nil {
		return nil, err
	}

	r := &UpdateResult{
		Matched:    res.RowsAffected,
		Modified:   res.RowsAffected,
		Successful: res.RowsAffected > 0,
	}

	if !r.Successful && c.raise {
		return nil, c.operationFailed("replaceOne")
	}

	return r, nil
}

// UpsertOne replaces one matching document, inserting it when nothing matches.
//
// Successful iff exactly one document was modified or inserted.
func (c *Collection) UpsertOne(ctx context.Context, filter Filter, fields map[string]any) (*UpdateResult, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	doc, err := FromFields(fields)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	payload, err := doc.payload()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res, err := c.run(ctx, c.db.b.Replace(c.Name(), filter, payload, true))
	if err != nil {
		return nil, err
	}

	if res.RowsAffected > 0 {
		return &UpdateResult{
			Matched:    res.RowsAffected,
			Modified:   res.RowsAffected,
			Successful: res.RowsAffected == 1,
		}, nil
	}

	// nothing matched; insert under the filter's identity when it names one
	if doc.ID == "" {
		if id, ok := filter[IDColumn].(string); ok {
			doc.ID = id
		}
	}

	one, err := c.insertOne(ctx, doc.Map())
	if err != nil {
		return nil, err
	}

	r := &UpdateResult{Successful: one.Successful}
	if one.Successful {
		r.Modified = 1
	}

	if !r.Successful && c.raise {
		return nil, c.operationFailed("upsertOne")
	}

	return r, nil
}

// DeleteOne removes at most one matching document.
//
// Successful iff a document was deleted.
func (c *Collection) DeleteOne(ctx context.Context, filter Filter) (*DeleteResult, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	res, err := c.run(ctx, c.db.b.Delete(c.Name(), filter, true))
	if err != nil {
		return nil, err
	}

	r := &DeleteResult{
		Deleted:    res.RowsAffected,
		Successful: res.RowsAffected > 0,
	}

	if !r.Successful && c.raise {
		return nil, c.operationFailed("deleteOne")
	}

	return r, nil
}

// DeleteMany removes every matching document.
//
// Successful iff at least one document was deleted.
func (c *Collection) DeleteMany(ctx context.Context, filter Filter) (*DeleteResult, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	res, err := c.run(ctx, c.db.b.Delete(c.Name(), filter, false))
	if err != nil {
		return nil, err
	}

	r := &DeleteResult{
		Deleted:    res.RowsAffected,
		Successful: res.RowsAffected > 0,
	}

	if !r.Successful && c.raise {
		return nil, c.operationFailed("deleteMany")
	}

	return r, nil
}

// FindOne returns one matching document, or nil when nothing matches.
func (c *Collection) FindOne(ctx context.Context, filter Filter) (*Document, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	return c.findOne(ctx, filter)
}

// findOne is FindOne without the schema check, shared with other read paths.
func (c *Collection) findOne(ctx context.Context, filter Filter) (*Document, error) {
	res, err := c.run(ctx, c.db.b.Select(c.Name(), filter, 1))
	if err != nil {
		return nil, err
	}

	row := res.FirstOrNil()
	if row == nil {
		return nil, nil
	}

	doc, err := documentFromRow(*row)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return doc, nil
}

// findByID reads one document by primary key.
func (c *Collection) findByID(ctx context.Context, id string) (*Document, error) {
	res, err := c.run(ctx, c.db.b.SelectByID(c.Name(), id))
	if err != nil {
		return nil, err
	}

	row, err := res.SingleOrNil()
	if err != nil {
		return nil, rowError(err)
	}

	if row == nil {
		return nil, nil
	}

	doc, err := documentFromRow(*row)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return doc, nil
}

// Find returns every matching document.
// There is no ordering guarantee beyond what the filter specifies.
func (c *Collection) Find(ctx context.Context, filter Filter) ([]*Document, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	res, err := c.run(ctx, c.db.b.Select(c.Name(), filter, 0))
	if err != nil {
		return nil, err
	}

	docs, err := exec.MapRows(res, documentFromRow)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return docs, nil
}

// CountDocuments returns the number of matching documents.
func (c *Collection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return 0, err
	}

	res, err := c.run(ctx, c.db.b.Count(c.Name(), filter))
	if err != nil {
		return 0, err
	}

	row, err := res.Single()
	if err != nil {
		return 0, rowError(err)
	}

	count, err := toInt64(row.Values[0])
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	return count, nil
}

// FindOneAndDelete deletes one matching document, returning it as it was
// before the mutation, or nil when nothing matches.
//
// The read and the write are not atomic unless the handle is bound to a
// session with an active transaction; a concurrent writer can intervene.
func (c *Collection) FindOneAndDelete(ctx context.Context, filter Filter) (*Document, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	doc, err := c.findOne(ctx, filter)
	if err != nil || doc == nil {
		return nil, err
	}

	if _, err = c.run(ctx, c.db.b.DeleteByID(c.Name(), doc.ID, nil)); err != nil {
		return nil, err
	}

	return doc, nil
}

// FindOneAndReplace replaces one matching document, returning the pre-image,
// or nil when nothing matches. Same non-atomicity as FindOneAndDelete.
func (c *Collection) FindOneAndReplace(ctx context.Context, filter Filter, fields map[string]any) (*Document, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	doc, err := c.findOne(ctx, filter)
	if err != nil || doc == nil {
		return nil, err
	}

	replacement, err := FromFields(fields)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	payload, err := replacement.payload()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if _, err = c.run(ctx, c.db.b.ReplaceByID(c.Name(), doc.ID, payload, nil)); err != nil {
		return nil, err
	}

	return doc, nil
}

// FindOneAndUpdate sets fields on one matching document, returning the
// pre-image, or nil when nothing matches. Same non-atomicity as FindOneAndDelete.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter Filter, set map[string]any) (*Document, error) {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}

	doc, err := c.findOne(ctx, filter)
	if err != nil || doc == nil {
		return nil, err
	}

	if _, err = c.run(ctx, c.db.b.UpdateFields(c.Name(), Filter{IDColumn: doc.ID}, set, true)); err != nil {
		return nil, err
	}

	return doc, nil
}

// Drop removes the collection table.
func (c *Collection) Drop(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	_, err := c.run(ctx, c.db.b.DropTable(c.Name()))

	return err
}

// Rename renames the collection table, updating the handle's recorded name
// on success so subsequent operations target the new name.
func (c *Collection) Rename(ctx context.Context, newName string) error {
	defer observability.FuncCall(ctx)()

	if err := c.ensureSchema(ctx); err != nil {
		return err
	}

	c.shared.rw.Lock()
	defer c.shared.rw.Unlock()

	if _, err := c.run(ctx, c.db.b.RenameTable(c.shared.name, newName)); err != nil {
		return err
	}

	c.shared.name = newName

	return nil
}

// rowError maps row-shape-helper contract violations to engine error codes.
func rowError(err error) error {
	switch {
	case errors.Is(err, exec.ErrNoResult):
		return NewError(ErrorCodeNoResult, err)
	case errors.Is(err, exec.ErrTooManyResults):
		return NewError(ErrorCodeTooManyResults, err)
	default:
		return lazyerrors.Error(err)
	}
}
