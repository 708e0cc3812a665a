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

// InsertOneResult is the structured outcome of Collection.InsertOne.
//
// InsertedID is nil when the insert did not take effect.
type InsertOneResult struct {
	InsertedID *string
	Successful bool
}

// InsertManyResult is the structured outcome of Collection.InsertMany.
//
// A partial insert is a failure even though some rows exist.
type InsertManyResult struct {
	InsertedIDs []string
	Inserted    int64
	Successful  bool
}

// UpdateResult is the structured outcome of update operations.
type UpdateResult struct {
	Matched    int64
	Modified   int64
	Successful bool
}

// DeleteResult is the structured outcome of delete operations.
type DeleteResult struct {
	Deleted    int64
	Successful bool
}

// HandleResult is the structured outcome of Collection.Handle.
//
// On success Document is the resulting document (nil when the handler
// deleted it or declined to create one). On a failed precondition it is
// the current stored document, nil if none exists.
type HandleResult struct {
	Document   *Document
	Successful bool
}
