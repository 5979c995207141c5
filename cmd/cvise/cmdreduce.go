// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/cvise/internal/errtags"
	"infra/cvise/internal/fur"
	"infra/cvise/internal/pass/registry"
	"infra/cvise/internal/passgroup"
	"infra/cvise/internal/sandbox"
	"infra/cvise/internal/scheduler"
	"infra/cvise/internal/testmanager"
)

// cmdReduce reduces <file> in place, driven by a named or file-loaded
// pass group, keeping only edits for which <script> still exits 0.
var cmdReduce = &subcommands.Command{
	UsageLine: "reduce <interestingness-script> <file>",
	ShortDesc: "reduce <file> to a minimal variant satisfying <interestingness-script>",
	LongDesc: `Repeatedly applies reduction passes to <file>, keeping only edits for
which <interestingness-script> still exits 0, until a fixpoint is reached.`,
	CommandRun: func() subcommands.CommandRun {
		c := &reduceRun{}
		c.init(c.run, []*string{&c.scriptPath, &c.filePath})

		c.Flags.IntVar(&c.workers, "n", runtime.NumCPU(), "Number of parallel interestingness-test workers.")
		c.Flags.IntVar(&c.timeoutSecs, "timeout", 0, "Per-interestingness-test timeout, in seconds (0: no timeout).")
		c.Flags.StringVar(&c.passGroupName, "pass-group", "all", "Named pass group: all, delta, binary, opencl-120, no-interleaving.")
		c.Flags.StringVar(&c.passGroupFile, "pass-group-file", "", "Path to a pass-group JSON file, overriding -pass-group.")
		c.Flags.BoolVar(&c.skipInitialPasses, "skip-initial-passes", false, "Skip the `first` phase.")
		c.Flags.BoolVar(&c.skipKeyOff, "skip-key-off", false, "Alias for -skip-initial-passes, matching the original flag name.")
		c.Flags.BoolVar(&c.saveTemps, "save-temps", false, "Keep sandboxes of interesting trials for debugging.")
		c.Flags.StringVar(&c.tmpDir, "tmpdir", "", "Sandbox root (defaults to $TMPDIR).")
		c.Flags.StringVar(&c.jsonOutput, "json-output", "", "Where to write the end-of-run JSON summary (\"-\" for stdout).")
		return c
	},
}

type reduceRun struct {
	commandBase

	scriptPath string
	filePath   string

	workers           int
	timeoutSecs       int
	passGroupName     string
	passGroupFile     string
	skipInitialPasses bool
	skipKeyOff        bool
	saveTemps         bool
	tmpDir            string
	jsonOutput        string
}

func (c *reduceRun) run(ctx context.Context) error {
	if info, err := os.Stat(c.scriptPath); err != nil {
		return errtags.ScriptError.Apply(errors.Annotate(err, "interestingness script %q", c.scriptPath).Err())
	} else if info.Mode()&0111 == 0 {
		return errtags.ScriptError.Apply(errors.Reason("interestingness script %q is not executable", c.scriptPath).Err())
	}
	scriptAbs, err := filepath.Abs(c.scriptPath)
	if err != nil {
		return errtags.ScriptError.Apply(errors.Annotate(err, "resolving interestingness script path").Err())
	}

	f, err := fur.Load(c.filePath)
	if err != nil {
		return err
	}

	group, err := c.loadGroup()
	if err != nil {
		return err
	}
	if c.skipInitialPasses || c.skipKeyOff {
		group.First = nil
	}

	pool := sandbox.New(c.tmpDir)
	reg := registry.New()
	registerExternalPasses(reg)
	mgr := testmanager.New(testmanager.Config{
		Workers:    c.workers,
		ScriptPath: scriptAbs,
		Timeout:    parseSeconds(c.timeoutSecs, 0),
		SaveTemps:  c.saveTemps,
	}, pool)
	sched := scheduler.New(mgr, reg)

	logging.Infof(ctx, "reducing %s (%d bytes) with %d workers, pass group %q", c.filePath, f.Size(), c.workers, c.passGroupName)
	report, err := sched.Run(ctx, f, filepath.Base(c.filePath), group)
	if err != nil {
		return err
	}

	if c.jsonOutput != "" {
		if err := writeJSONOutput(c.jsonOutput, report); err != nil {
			return err
		}
	}
	return nil
}

// registerExternalPasses wires the well-known helper executables in as
// external passes. Each helper is looked up on PATH under its usual
// binary name unless overridden through the environment; a helper that
// is absent makes its pass's CheckPrereqs (or, for a hint-based pass,
// its bundle production) fail, and the pass is skipped.
func registerExternalPasses(reg *registry.Registry) {
	for _, h := range []struct {
		pass, binary, envOverride string
	}{
		{"clang-delta", "clang_delta", "CVISE_CLANG_DELTA"},
		{"clex", "clex", "CVISE_CLEX"},
		{"topformflat", "topformflat", "CVISE_TOPFORMFLAT"},
	} {
		path := os.Getenv(h.envOverride)
		if path == "" {
			path = h.binary
		}
		reg.RegisterExternal(h.pass, path, 0)
	}
}

func (c *reduceRun) loadGroup() (*passgroup.Group, error) {
	if c.passGroupFile != "" {
		return passgroup.Load(c.passGroupFile)
	}
	return passgroup.Named(c.passGroupName)
}

