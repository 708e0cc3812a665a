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

// Command docsql is a small operator tool for docsql targets.
package main

import (
	"context"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/FerretDB/docsql"
	"github.com/FerretDB/docsql/internal/util/logging"
)

// cli represents the command-line interface.
var cli struct {
	URL      string `short:"u" help:"Connection URL (postgres://, mysql://, hdb://, or file:)."`
	Host     string `help:"Server host, used when --url is not set."`
	Port     uint16 `help:"Server port."`
	Username string `help:"Username."`
	Password string `help:"Password."`
	Database string `help:"Database name."`

	LogLevel  zapcore.Level `default:"info" help:"Log level: debug, info, warn, error."`
	LogFormat string        `default:"console" help:"Log format: console or json."`

	Ping pingCmd `cmd:"" help:"Dial the target and report connectivity."`
}

// pingCmd dials the configured target once.
type pingCmd struct {
	Timeout time.Duration `default:"5s" help:"Dial timeout."`
}

// Run implements the ping command.
func (c *pingCmd) Run(l *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	client, err := docsql.Connect(ctx, &docsql.Options{
		URI:      cli.URL,
		Host:     cli.Host,
		Port:     cli.Port,
		Username: cli.Username,
		Password: cli.Password,
		Database: cli.Database,
		Logger:   l,
	})
	if err != nil {
		return err
	}

	defer client.Close()

	l.Info("Target is reachable.", zap.String("database", client.Database().Name()))

	return nil
}

func main() {
	kctx := kong.Parse(&cli, kong.Description("docsql operator tool."))

	l := logging.Setup(cli.LogLevel, cli.LogFormat)
	defer l.Sync() //nolint:errcheck // flushing a console logger may fail

	kctx.FatalIfErrorf(kctx.Run(l))
}
