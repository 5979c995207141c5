// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command cvise reduces a source file to a minimal variant that still
// satisfies a user-supplied interestingness test. This binary wires the
// library packages in internal/ (sandbox, testrunner, hint, pass,
// testmanager, scheduler, passgroup) into the CLI.
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"
)

func main() {
	application := &cli.Application{
		Name:  "cvise",
		Title: "Source file reducer driven by a user-supplied interestingness test",
		Context: func(ctx context.Context) context.Context {
			goLoggerCfg := gologger.LoggerConfig{Out: os.Stderr}
			goLoggerCfg.Format = "[%{level:.1s} %{time:2006-01-02 15:04:05}] %{message}"
			ctx = goLoggerCfg.Use(ctx)
			ctx = logging.SetLevel(ctx, logging.Info)
			return ctx
		},
		Commands: []*subcommands.Command{
			subcommands.CmdHelp,
			cmdReduce,
			cmdTidy,
		},
	}
	os.Exit(subcommands.Run(application, nil))
}
