// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package external implements the two helper-process pass flavors: a
// transform-kind adapter whose state is a simple counter passed to the
// helper as a CLI argument, and a bundle producer used by hint-based
// passes. Helpers are invoked as <helper> <transformation-name>
// <input-path>, with the candidate (or bundle) read from stdout.
package external

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/cvise/internal/errtags"
	"infra/cvise/internal/hint"
	"infra/cvise/internal/pass"
)

// TransformAdapter runs an external helper once per state, passing the
// state as a --counter argument, and takes the helper's stdout verbatim
// as the candidate variant.
type TransformAdapter struct {
	pass.NoCommitHook

	// HelperPath is the helper executable, resolved via exec.LookPath at
	// CheckPrereqs time.
	HelperPath string
	// TransformationName is passed as the helper's first CLI argument.
	TransformationName string
	// MaxTransforms bounds how many counters the adapter will try before
	// reporting stop, mirroring Pass.MaxTransforms.
	MaxTransforms int
}

// counterState is TransformAdapter's concrete State: the next
// transformation counter to try.
type counterState int

func (a *TransformAdapter) CheckPrereqs(ctx context.Context) error {
	if _, err := exec.LookPath(a.HelperPath); err != nil {
		return errtags.ConfigError.Apply(errors.Annotate(err, "locating helper %q", a.HelperPath).Err())
	}
	return nil
}

func (a *TransformAdapter) New(ctx context.Context, file []byte) (pass.State, bool, error) {
	return counterState(0), false, nil
}

func (a *TransformAdapter) Advance(ctx context.Context, file []byte, state pass.State) (pass.State, bool) {
	next := state.(counterState) + 1
	if a.MaxTransforms > 0 && int(next) >= a.MaxTransforms {
		return nil, true
	}
	return next, false
}

func (a *TransformAdapter) Transform(ctx context.Context, file []byte, state pass.State) ([]byte, pass.Outcome, error) {
	counter := state.(counterState)

	tmpDir, err := os.MkdirTemp("", "cvise-helper-input-")
	if err != nil {
		return nil, pass.Invalid, errtags.IOError.Apply(errors.Annotate(err, "staging helper input").Err())
	}
	defer os.RemoveAll(tmpDir)
	inputPath := filepath.Join(tmpDir, "input")
	if err := os.WriteFile(inputPath, file, 0600); err != nil {
		return nil, pass.Invalid, errtags.IOError.Apply(errors.Annotate(err, "staging helper input").Err())
	}

	logging.Debugf(ctx, "running helper %s %s %s --counter=%d", a.HelperPath, a.TransformationName, inputPath, counter)
	cmd := exec.CommandContext(ctx, a.HelperPath, a.TransformationName, inputPath, "--counter="+strconv.Itoa(int(counter)))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if startErr := cmd.Start(); startErr != nil {
		return nil, pass.Invalid, errtags.SpawnError.Apply(errors.Annotate(startErr, "spawning helper %q", a.HelperPath).Err())
	}
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, pass.Invalid, errtags.PassBug.Apply(errors.Annotate(err, "helper %q exited non-zero: %s", a.HelperPath, stderr.String()).Err())
		}
		return nil, pass.Invalid, errtags.SpawnError.Apply(errors.Annotate(err, "running helper %q", a.HelperPath).Err())
	}
	if stdout.Len() == 0 {
		// The helper had no transformation at this counter: the pass's
		// transform space is exhausted.
		return nil, pass.Stop, nil
	}
	return stdout.Bytes(), pass.OK, nil
}

// BundleProducer invokes a helper once per pass invocation and parses
// its stdout as a hint bundle, implementing pass.HintSource.
type BundleProducer struct {
	HelperPath         string
	TransformationName string
}

func (b *BundleProducer) CheckPrereqs(ctx context.Context) error {
	if _, err := exec.LookPath(b.HelperPath); err != nil {
		return errtags.ConfigError.Apply(errors.Annotate(err, "locating helper %q", b.HelperPath).Err())
	}
	return nil
}

func (b *BundleProducer) NewHint(ctx context.Context, file []byte) (*hint.Bundle, error) {
	tmpDir, err := os.MkdirTemp("", "cvise-helper-input-")
	if err != nil {
		return nil, errtags.IOError.Apply(errors.Annotate(err, "staging helper input").Err())
	}
	defer os.RemoveAll(tmpDir)
	inputPath := filepath.Join(tmpDir, "input")
	if err := os.WriteFile(inputPath, file, 0600); err != nil {
		return nil, errtags.IOError.Apply(errors.Annotate(err, "staging helper input").Err())
	}

	cmd := exec.CommandContext(ctx, b.HelperPath, b.TransformationName, inputPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if startErr := cmd.Start(); startErr != nil {
		return nil, errtags.SpawnError.Apply(errors.Annotate(startErr, "spawning helper %q", b.HelperPath).Err())
	}
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, errtags.PassBug.Apply(errors.Annotate(err, "helper %q exited non-zero: %s", b.HelperPath, stderr.String()).Err())
		}
		return nil, errtags.SpawnError.Apply(errors.Annotate(err, "running helper %q", b.HelperPath).Err())
	}

	bundle, err := hint.ParseBundle(&stdout)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}
