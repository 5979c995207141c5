// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/signals"

	"infra/cvise/internal/errtags"
)

// execCb is the signature of a function that actually executes a
// subcommand.
type execCb func(ctx context.Context) error

// commandBase carries the flags and dispatch machinery shared by every
// cvise subcommand: a logging.Config flag group, a positional-argument
// binder, and a Run() that builds a cancellable context, wires Ctrl+C
// into it via signals.HandleInterrupt, and classifies the returned
// error into an exit code.
type commandBase struct {
	subcommands.CommandRunBase

	exec    execCb
	posArgs []*string

	logConfig logging.Config // -log-level
}

// init registers the flags common to every subcommand. Must be called
// from each concrete command's constructor before command-specific
// flags are added.
func (c *commandBase) init(exec execCb, posArgs []*string) {
	c.exec = exec
	c.posArgs = posArgs

	c.logConfig.Level = logging.Info
	c.logConfig.AddFlags(&c.Flags)
}

// ModifyContext implements cli.ContextModificator.
func (c *commandBase) ModifyContext(ctx context.Context) context.Context {
	return c.logConfig.Set(ctx)
}

// Run implements subcommands.CommandRun.
func (c *commandBase) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)

	if len(args) != len(c.posArgs) {
		return handleErr(ctx, errors.Reason(
			"expected %d positional argument(s), got %d", len(c.posArgs), len(args)).Tag(isCLIError).Err())
	}
	for i, arg := range args {
		*c.posArgs[i] = arg
	}

	ctx, cancel := context.WithCancel(ctx)
	signals.HandleInterrupt(cancel)

	if err := c.exec(ctx); err != nil {
		return handleErr(ctx, err)
	}
	return 0
}

// isCLIError tags errors caused by bad CLI invocation.
var isCLIError = errors.BoolTag{Key: errors.NewTagKey("bad CLI invocation")}

func errBadFlag(flag, msg string) error {
	return errors.Reason("bad %q: %s", flag, msg).Tag(isCLIError).Err()
}

// handleErr prints the error and picks a process exit code: a single
// diagnostic for fatal errors, a distinct code for bad CLI usage, 4 for
// user-initiated cancellation.
func handleErr(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Contains(err, context.Canceled):
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 4
	case isCLIError.In(err):
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		return 2
	case errtags.ScriptError.In(err), errtags.ConfigError.In(err), errtags.IOError.In(err):
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		return 1
	default:
		logging.Errorf(ctx, "%s", err)
		errors.Log(ctx, err)
		return 1
	}
}

// parseSeconds converts a --timeout/flag value in seconds to a
// time.Duration, defaulting to def when secs <= 0.
func parseSeconds(secs int, def time.Duration) time.Duration {
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// writeJSONOutput writes v to path as indented JSON ("-" for stdout).
func writeJSONOutput(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Annotate(err, "marshaling -json-output").Err()
	}
	if path == "-" {
		fmt.Printf("%s\n", b)
		return nil
	}
	return errors.Annotate(os.WriteFile(path, b, 0600), "writing -json-output %q", path).Err()
}
