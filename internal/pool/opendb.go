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

package pool

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/SAP/go-hdb/driver" // register database/sql driver
	_ "github.com/go-sql-driver/mysql" // register database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib" // register database/sql driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register database/sql driver

	"github.com/FerretDB/docsql/internal/util/fsql"
	"github.com/FerretDB/docsql/internal/util/lazyerrors"
	"github.com/FerretDB/docsql/internal/util/must"
)

// driverFor returns the database/sql driver name and DSN for the given URI.
func driverFor(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", lazyerrors.Error(err)
	}

	switch u.Scheme {
	case "", "file", "sqlite":
		return "sqlite", uri, nil
	case "postgres", "postgresql":
		return "pgx", uri, nil
	case "mysql":
		return "mysql", mysqlDSN(u), nil
	case "hdb":
		return "hdb", uri, nil
	default:
		return "", "", lazyerrors.Errorf("unsupported URI scheme %q", u.Scheme)
	}
}

// mysqlDSN converts a mysql:// URI to the DSN format the driver expects.
func mysqlDSN(u *url.URL) string {
	var dsn strings.Builder

	if u.User != nil {
		dsn.WriteString(u.User.Username())

		if p, ok := u.User.Password(); ok {
			dsn.WriteString(":" + p)
		}

		dsn.WriteString("@")
	}

	fmt.Fprintf(&dsn, "tcp(%s)/%s", u.Host, strings.TrimPrefix(u.Path, "/"))

	if u.RawQuery != "" {
		dsn.WriteString("?" + u.RawQuery)
	}

	return dsn.String()
}

// singleConn returns true if the pool size must be limited to a single connection.
//
// In-memory SQLite databases exist per connection unless the cache is shared,
// so a pool of them would see different databases.
func singleConn(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}

	return u.Query().Get("mode") == "memory" && u.Query().Get("cache") != "shared"
}

// Open dials a new pooled database handle for the given configuration.
func Open(ctx context.Context, cfg *Config, l *zap.Logger) (*fsql.DB, error) {
	return open(ctx, cfg, false, l)
}

// OpenSingle dials a database handle limited to exactly one physical connection.
func OpenSingle(ctx context.Context, cfg *Config, l *zap.Logger) (*fsql.DB, error) {
	return open(ctx, cfg, true, l)
}

// open dials and pings a database handle.
func open(ctx context.Context, cfg *Config, single bool, l *zap.Logger) (*fsql.DB, error) {
	must.NotBeZero(cfg)

	uri, err := cfg.uri()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	driver, dsn, err := driverFor(uri)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	if single || singleConn(uri) {
		db.SetMaxIdleConns(1)
		db.SetMaxOpenConns(1)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, lazyerrors.Error(err)
	}

	return fsql.WrapDB(db, cfg.DatabaseName(), l), nil
}
