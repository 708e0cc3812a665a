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

package docstore_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/docsql/internal/docstore"
	"github.com/FerretDB/docsql/internal/docstore/sqlitebuilder"
	"github.com/FerretDB/docsql/internal/exec"
	"github.com/FerretDB/docsql/internal/pool"
	"github.com/FerretDB/docsql/internal/util/testutil"
)

// countingBuilder counts table-creation requests.
type countingBuilder struct {
	docstore.Builder
	creates atomic.Int32
}

func (b *countingBuilder) CreateTable(table string) []exec.Statement {
	b.creates.Add(1)
	return b.Builder.CreateTable(table)
}

func setupWithBuilder(t *testing.T, b docstore.Builder) (context.Context, *docstore.Database) {
	t.Helper()

	ctx := testutil.Ctx(t)
	l := testutil.Logger(t)

	reg := pool.NewRegistry(l)
	t.Cleanup(reg.Close)

	db, err := docstore.NewDatabase(ctx, reg, &pool.Config{URI: testutil.SQLiteURI(t)}, b, l)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return ctx, db
}

func setup(t *testing.T) (context.Context, *docstore.Database) {
	t.Helper()

	return setupWithBuilder(t, sqlitebuilder.New())
}

func TestInsertOneFindOneRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	fields := map[string]any{
		"name":    "alice",
		"balance": 42.5,
		"active":  true,
	}

	ins, err := c.InsertOne(ctx, fields)
	require.NoError(t, err)
	require.True(t, ins.Successful)
	require.NotNil(t, ins.InsertedID)
	assert.NotEmpty(t, *ins.InsertedID)

	doc, err := c.FindOne(ctx, docstore.Filter{"_id": *ins.InsertedID})
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.Equal(t, *ins.InsertedID, doc.ID)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, fields, doc.Fields)
}

func TestInsertOneDuplicateID(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	ins, err := c.InsertOne(ctx, map[string]any{"_id": "dup", "n": 1.0})
	require.NoError(t, err)
	require.True(t, ins.Successful)

	ins, err = c.InsertOne(ctx, map[string]any{"_id": "dup", "n": 2.0})
	require.NoError(t, err)
	assert.False(t, ins.Successful)
	assert.Nil(t, ins.InsertedID)

	// the stored document is untouched
	doc, err := c.FindOne(ctx, docstore.Filter{"_id": "dup"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, 1.0, doc.Fields["n"])
}

func TestInsertOneStatementError(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	_, err := c.InsertOne(ctx, map[string]any{"_id": "x"})
	require.NoError(t, err)

	require.NoError(t, c.Drop(ctx))

	// the backend rejection surfaces as an error, not as a clean failed insert
	res, err := c.InsertOne(ctx, map[string]any{"_id": "y"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, docstore.ErrorCodeIs(err, docstore.ErrorCodeStatement))
	assert.False(t, docstore.ErrorCodeIs(err, docstore.ErrorCodeDuplicateID))
}

func TestQuotedFieldNames(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	ins, err := c.InsertOne(ctx, map[string]any{"it's": "here"})
	require.NoError(t, err)
	require.True(t, ins.Successful)

	// a document stored under a quoted key can be filtered back
	doc, err := c.FindOne(ctx, docstore.Filter{"it's": "here"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "here", doc.Fields["it's"])

	up, err := c.UpdateOne(ctx, docstore.Filter{"it's": "here"}, map[string]any{"it's": "there"})
	require.NoError(t, err)
	assert.True(t, up.Successful)
	assert.Equal(t, int64(1), up.Modified)

	doc, err = c.FindOne(ctx, docstore.Filter{"_id": doc.ID})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "there", doc.Fields["it's"])
}

func TestLazySchemaCreationOnce(t *testing.T) {
	t.Parallel()

	b := &countingBuilder{Builder: sqlitebuilder.New()}
	ctx, db := setupWithBuilder(t, b)
	c := db.Collection(testutil.CollectionName(t))

	_, err := c.InsertOne(ctx, map[string]any{"n": 1.0})
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, map[string]any{"n": 2.0})
	require.NoError(t, err)

	assert.Equal(t, int32(1), b.creates.Load())
}

func TestInsertManyPartial(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	ins, err := c.InsertOne(ctx, map[string]any{"_id": "a"})
	require.NoError(t, err)
	require.True(t, ins.Successful)

	res, err := c.InsertMany(ctx, []map[string]any{
		{"_id": "b"},
		{"_id": "a"},
		{"_id": "c"},
	})
	require.NoError(t, err)

	// a partial insert is a failure even though rows exist
	assert.False(t, res.Successful)
	assert.Equal(t, int64(1), res.Inserted)
	assert.Equal(t, []string{"b"}, res.InsertedIDs)

	count, err := c.CountDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUpdateOne(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	_, err := c.InsertOne(ctx, map[string]any{"_id": "x", "status": "new"})
	require.NoError(t, err)

	res, err := c.UpdateOne(ctx, docstore.Filter{"_id": "x"}, map[string]any{"status": "done"})
	require.NoError(t, err)
	assert.True(t, res.Successful)
	assert.Equal(t, int64(1), res.Matched)
	assert.Equal(t, int64(1), res.Modified)

	doc, err := c.FindOne(ctx, docstore.Filter{"_id": "x"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "done", doc.Fields["status"])
	assert.Equal(t, int64(2), doc.Version)
}

func TestUpdateOneZeroMatches(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	res, err := c.UpdateOne(ctx, docstore.Filter{"_id": "missing"}, map[string]any{"status": "done"})
	require.NoError(t, err)

	// documented edge case, not a bug
	assert.True(t, res.Successful)
	assert.Equal(t, int64(0), res.Matched)
	assert.Equal(t, int64(0), res.Modified)
}

func TestUpdateManyDeleteManyAsymmetry(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	_, err := c.InsertOne(ctx, map[string]any{"kind": "keep"})
	require.NoError(t, err)

	// zero matches: updateMany reports success, deleteMany does not
	up, err := c.UpdateMany(ctx, docstore.Filter{"kind": "none"}, map[string]any{"seen": true})
	require.NoError(t, err)
	assert.True(t, up.Successful)
	assert.Equal(t, int64(0), up.Modified)

	del, err := c.DeleteMany(ctx, docstore.Filter{"kind": "none"})
	require.NoError(t, err)
	assert.False(t, del.Successful)
	assert.Equal(t, int64(0), del.Deleted)
}

func TestDeleteOne(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	_, err := c.InsertOne(ctx, map[string]any{"_id": "a", "kind": "x"})
	require.NoError(t, err)
	_, err = c.InsertOne(ctx, map[string]any{"_id": "b", "kind": "x"})
	require.NoError(t, err)

	res, err := c.DeleteOne(ctx, docstore.Filter{"kind": "x"})
	require.NoError(t, err)
	assert.True(t, res.Successful)
	assert.Equal(t, int64(1), res.Deleted)

	count, err := c.CountDocuments(ctx, docstore.Filter{"kind": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUpsertOne(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	res, err := c.UpsertOne(ctx, docstore.Filter{"_id": "u"}, map[string]any{"state": "created"})
	require.NoError(t, err)
	assert.True(t, res.Successful)
	assert.Equal(t, int64(1), res.Modified)

	res, err = c.UpsertOne(ctx, docstore.Filter{"_id": "u"}, map[string]any{"state": "updated"})
	require.NoError(t, err)
	assert.True(t, res.Successful)
	assert.Equal(t, int64(1), res.Modified)

	doc, err := c.FindOne(ctx, docstore.Filter{"_id": "u"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "updated", doc.Fields["state"])
}

func TestFindOneAndMutate(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	_, err := c.InsertOne(ctx, map[string]any{"_id": "p", "state": "old"})
	require.NoError(t, err)

	// the pre-image comes back, the mutation still lands
	doc, err := c.FindOneAndUpdate(ctx, docstore.Filter{"_id": "p"}, map[string]any{"state": "mid"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "old", doc.Fields["state"])

	doc, err = c.FindOneAndReplace(ctx, docstore.Filter{"_id": "p"}, map[string]any{"state": "new"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "mid", doc.Fields["state"])

	doc, err = c.FindOneAndDelete(ctx, docstore.Filter{"_id": "p"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "new", doc.Fields["state"])

	doc, err = c.FindOne(ctx, docstore.Filter{"_id": "p"})
	require.NoError(t, err)
	assert.Nil(t, doc)

	doc, err = c.FindOneAndDelete(ctx, docstore.Filter{"_id": "p"})
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestFind(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	for _, id := range []string{"a", "b", "c"} {
		_, err := c.InsertOne(ctx, map[string]any{"_id": id, "kind": "x"})
		require.NoError(t, err)
	}

	_, err := c.InsertOne(ctx, map[string]any{"_id": "d", "kind": "y"})
	require.NoError(t, err)

	docs, err := c.Find(ctx, docstore.Filter{"kind": "x"})
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	docs, err = c.Find(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 4)
}

func TestRename(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	_, err := c.InsertOne(ctx, map[string]any{"_id": "r"})
	require.NoError(t, err)

	newName := testutil.CollectionName(t) + "_renamed"
	require.NoError(t, c.Rename(ctx, newName))
	assert.Equal(t, newName, c.Name())

	// subsequent operations target the new table
	doc, err := c.FindOne(ctx, docstore.Filter{"_id": "r"})
	require.NoError(t, err)
	require.NotNil(t, doc)
}

func TestDrop(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))

	_, err := c.InsertOne(ctx, map[string]any{"_id": "x"})
	require.NoError(t, err)

	require.NoError(t, c.Drop(ctx))

	// the lazy-creation flag never flips back; the table is gone
	_, err = c.FindOne(ctx, docstore.Filter{"_id": "x"})
	require.Error(t, err)
	assert.True(t, docstore.ErrorCodeIs(err, docstore.ErrorCodeStatement))
}

func TestRaiseOnFailure(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t), docstore.RaiseOnFailure())

	_, err := c.InsertOne(ctx, map[string]any{"_id": "dup"})
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, map[string]any{"_id": "dup"})
	require.Error(t, err)
	assert.True(t, docstore.ErrorCodeIs(err, docstore.ErrorCodeDuplicateID))

	_, err = c.DeleteOne(ctx, docstore.Filter{"_id": "missing"})
	require.Error(t, err)
	assert.True(t, docstore.ErrorCodeIs(err, docstore.ErrorCodeOperationFailed))
}

func TestSessionTransaction(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)

	orders := db.Collection(testutil.CollectionName(t) + "_orders")
	events := db.Collection(testutil.CollectionName(t) + "_events")

	// DDL stays outside the transaction
	require.NoError(t, orders.EnsureSchema(ctx))
	require.NoError(t, events.EnsureSchema(ctx))

	s := db.NewSession()
	_, err := s.StartTransaction()
	require.NoError(t, err)

	ins, err := orders.WithSession(s).InsertOne(ctx, map[string]any{"_id": "o1"})
	require.NoError(t, err)
	require.True(t, ins.Successful)

	ins, err = events.WithSession(s).InsertOne(ctx, map[string]any{"_id": "e1"})
	require.NoError(t, err)
	require.True(t, ins.Successful)

	require.NoError(t, s.CommitTransaction(ctx))

	doc, err := orders.FindOne(ctx, docstore.Filter{"_id": "o1"})
	require.NoError(t, err)
	assert.NotNil(t, doc)

	doc, err = events.FindOne(ctx, docstore.Filter{"_id": "e1"})
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestSessionAbort(t *testing.T) {
	t.Parallel()

	ctx, db := setup(t)
	c := db.Collection(testutil.CollectionName(t))
	require.NoError(t, c.EnsureSchema(ctx))

	s := db.NewSession()
	_, err := s.StartTransaction()
	require.NoError(t, err)

	ins, err := c.WithSession(s).InsertOne(ctx, map[string]any{"_id": "gone"})
	require.NoError(t, err)
	require.True(t, ins.Successful)

	require.NoError(t, s.AbortTransaction(ctx))

	doc, err := c.FindOne(ctx, docstore.Filter{"_id": "gone"})
	require.NoError(t, err)
	assert.Nil(t, doc)
}
