// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/logging"

	"infra/cvise/internal/sandbox"
)

// cmdTidy scans the sandbox root for directories this tool could have
// left behind and removes them.
var cmdTidy = &subcommands.Command{
	UsageLine: "tidy",
	ShortDesc: "clean residual sandbox directories and exit",
	LongDesc:  "Removes leftover sandbox directories under -tmpdir (or $TMPDIR) from killed or crashed workers.",
	CommandRun: func() subcommands.CommandRun {
		c := &tidyRun{}
		c.init(c.run, nil)
		c.Flags.StringVar(&c.tmpDir, "tmpdir", "", "Sandbox root (defaults to $TMPDIR).")
		return c
	},
}

type tidyRun struct {
	commandBase
	tmpDir string
}

func (c *tidyRun) run(ctx context.Context) error {
	removed, err := sandbox.Tidy(ctx, c.tmpDir)
	if err != nil {
		return err
	}
	logging.Infof(ctx, "removed %d residual sandbox director(ies)", removed)
	return nil
}
