// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sandbox provides scoped temporary working directories for
// speculative reduction trials.
//
// Each trial gets its own directory rooted under TMPDIR, named with a
// monotonic counter so concurrent acquisitions never collide and leaked
// directories are identifiable by a caller doing --tidy.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/cvise/internal/errtags"
)

// dirPrefix names every directory this package creates, so --tidy can
// recognize and reap them without touching unrelated TMPDIR contents.
const dirPrefix = "cvise-"

// Pool acquires and releases sandbox directories rooted under Root.
//
// Pool is safe for concurrent use: Acquire is the only method called
// from multiple worker goroutines, and it only increments an atomic
// counter before creating a directory with a unique name.
type Pool struct {
	// Root is TMPDIR, or os.TempDir() if unset.
	Root string

	counter atomic.Uint64
}

// New returns a Pool rooted at root (os.TempDir() if root is empty).
func New(root string) *Pool {
	if root == "" {
		root = os.TempDir()
	}
	return &Pool{Root: root}
}

// Dir is one acquired sandbox directory.
type Dir struct {
	Path string
	pool *Pool
}

// Acquire creates a fresh sandbox directory and copies the FUR's current
// bytes into it under base (the FUR's basename), so the interestingness
// script sees the file under its original name. Directory-creation
// failure is returned tagged errtags.IOError; the test manager counts it
// as a failed trial and does not end the run.
func (p *Pool) Acquire(ctx context.Context, base string, contents []byte) (*Dir, error) {
	n := p.counter.Add(1)
	path := filepath.Join(p.Root, fmt.Sprintf("%s%08d", dirPrefix, n))
	if err := os.Mkdir(path, 0700); err != nil {
		return nil, errtags.IOError.Apply(errors.Annotate(err, "creating sandbox directory").Err())
	}
	target := filepath.Join(path, base)
	if err := os.WriteFile(target, contents, 0600); err != nil {
		os.RemoveAll(path)
		return nil, errtags.IOError.Apply(errors.Annotate(err, "seeding sandbox with FUR copy").Err())
	}
	return &Dir{Path: path, pool: p}, nil
}

// Release removes the sandbox directory, unless keepOnInteresting is true
// and interesting is true (the --save-temps case): post-mortem debugging
// needs the files the interestingness script left behind.
//
// Removal failure is logged but non-fatal.
func (d *Dir) Release(ctx context.Context, keepOnInteresting, interesting bool) {
	if keepOnInteresting && interesting {
		logging.Infof(ctx, "keeping sandbox %s (--save-temps)", d.Path)
		return
	}
	if err := os.RemoveAll(d.Path); err != nil {
		logging.Warningf(ctx, "failed to remove sandbox %s: %s", d.Path, err)
	}
}

// Tidy removes every sandbox directory under root that this package could
// have created (matched by dirPrefix), regardless of which process made
// it. It backs the `cvise tidy` subcommand: on abrupt termination of a
// worker, its sandbox is not cleaned up by the dying worker, so a later
// tidy invocation reaps it.
func Tidy(ctx context.Context, root string) (removed int, err error) {
	if root == "" {
		root = os.TempDir()
	}
	entries, rerr := os.ReadDir(root)
	if rerr != nil {
		return 0, errtags.IOError.Apply(errors.Annotate(rerr, "listing %q", root).Err())
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		path := filepath.Join(root, e.Name())
		if rmErr := os.RemoveAll(path); rmErr != nil {
			logging.Warningf(ctx, "--tidy: failed to remove %s: %s", path, rmErr)
			continue
		}
		removed++
	}
	return removed, nil
}

// ReadFile is a small convenience for reading back a candidate variant
// from a sandbox after the interestingness script ran (it may have
// rewritten the file in place), so the caller never needs to know the
// sandbox's internal layout.
func ReadFile(dir *Dir, base string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(dir.Path, base))
	if err != nil {
		return nil, errtags.IOError.Apply(errors.Annotate(err, "reading variant back from sandbox").Err())
	}
	return b, nil
}
