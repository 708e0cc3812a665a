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

	"github.com/FerretDB/docsql/internal/exec"
	"github.com/FerretDB/docsql/internal/util/lazyerrors"
)

// SchemaComponent describes the migrations one collection contributes
// to the database schema.
type SchemaComponent struct {
	Name       string
	Migrations []exec.Statement
}

// MigrationRunner applies schema components.
//
// The default runner executes migrations in order through the collection's
// own statement routing; callers may plug in their own tooling.
type MigrationRunner interface {
	Apply(ctx context.Context, component SchemaComponent, run func(context.Context, exec.Statement) error) error
}

// sequentialRunner applies migrations one by one, stopping at the first failure.
type sequentialRunner struct{}

func (sequentialRunner) Apply(ctx context.Context, component SchemaComponent, run func(context.Context, exec.Statement) error) error {
	for _, stmt := range component.Migrations {
		if err := run(ctx, stmt); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// check interfaces
var (
	_ MigrationRunner = sequentialRunner{}
)
