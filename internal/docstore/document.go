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
	"encoding/json"

	"github.com/google/uuid"

	"github.com/FerretDB/docsql/internal/exec"
	"github.com/FerretDB/docsql/internal/util/lazyerrors"
)

// Reserved column names every collection table carries.
const (
	IDColumn      = "_id"
	VersionColumn = "_version"
	PayloadColumn = "_payload"
)

// Document is a stored document: identity, optimistic concurrency version,
// and free-form fields.
type Document struct {
	ID      string
	Version int64
	Fields  map[string]any
}

// FromFields builds a document from user-provided fields.
//
// The reserved _id and _version fields, if present, are extracted
// into the corresponding document attributes; the rest is copied.
func FromFields(fields map[string]any) (*Document, error) {
	doc := &Document{
		Fields: make(map[string]any, len(fields)),
	}

	for k, v := range fields {
		switch k {
		case IDColumn:
			id, ok := v.(string)
			if !ok {
				return nil, lazyerrors.Errorf("%s must be a string, got %T", IDColumn, v)
			}

			doc.ID = id

		case VersionColumn:
			version, err := toInt64(v)
			if err != nil {
				return nil, lazyerrors.Error(err)
			}

			doc.Version = version

		default:
			doc.Fields[k] = v
		}
	}

	return doc, nil
}

// Map returns all fields including _id and _version.
func (doc *Document) Map() map[string]any {
	res := make(map[string]any, len(doc.Fields)+2)

	for k, v := range doc.Fields {
		res[k] = v
	}

	res[IDColumn] = doc.ID
	res[VersionColumn] = doc.Version

	return res
}

// payload serializes the free-form fields. An empty document serializes to {}.
func (doc *Document) payload() ([]byte, error) {
	fields := doc.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	b, err := json.Marshal(fields)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return b, nil
}

// documentFromRow decodes a document from a (_id, _version, _payload) row.
func documentFromRow(row exec.Row) (*Document, error) {
	doc := new(Document)

	v, ok := row.Get(IDColumn)
	if !ok {
		return nil, lazyerrors.Errorf("row has no %s column", IDColumn)
	}

	id, err := asString(v)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	doc.ID = id

	if v, ok = row.Get(VersionColumn); !ok {
		return nil, lazyerrors.Errorf("row has no %s column", VersionColumn)
	}

	if doc.Version, err = toInt64(v); err != nil {
		return nil, lazyerrors.Error(err)
	}

	if v, ok = row.Get(PayloadColumn); !ok {
		return nil, lazyerrors.Errorf("row has no %s column", PayloadColumn)
	}

	payload, err := asString(v)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if err = json.Unmarshal([]byte(payload), &doc.Fields); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return doc, nil
}

// newID generates a fresh document identifier.
func newID() string {
	return uuid.NewString()
}

// asString converts a driver value to a string.
func asString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", lazyerrors.Errorf("expected string, got %T", v)
	}
}

// toInt64 converts a driver or user value to an int64.
func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, lazyerrors.Errorf("expected integer, got %T", v)
	}
}
