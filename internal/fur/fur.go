// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fur implements the File Under Reduction: the canonical byte
// buffer being reduced. It is persisted to a canonical path between
// passes; only the coordinator (scheduler/test manager) mutates it, via
// write-temp-then-rename, keeping it the single piece of mutable shared
// state in the whole pipeline.
package fur

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.chromium.org/luci/common/errors"

	"infra/cvise/internal/errtags"
)

// FUR is the file under reduction: a byte buffer plus the path it is
// canonically persisted at.
type FUR struct {
	// Path is the canonical on-disk location. Workers never write here
	// directly; only Commit does, via rename.
	Path string

	// Bytes is the current contents. Read-only outside of Commit; callers
	// that want to propose an edit operate on their own copy.
	Bytes []byte

	// epoch increments on every successful Commit. Used only to give
	// cancellation and ordering invariants something to reason about in
	// tests; never persisted.
	epoch int64
}

// Load reads path into a fresh FUR.
func Load(path string) (*FUR, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errtags.IOError.Apply(errors.Annotate(err, "reading FUR %q", path).Err())
	}
	return &FUR{Path: path, Bytes: b}, nil
}

// Size returns the current size in bytes, the monotonically
// non-increasing reduction objective.
func (f *FUR) Size() int {
	return len(f.Bytes)
}

// Epoch returns the current commit epoch; it increases by exactly one on
// every Commit call that succeeds.
func (f *FUR) Epoch() int64 {
	return f.epoch
}

// Commit atomically replaces the FUR's on-disk and in-memory contents
// with variant. It is the only mutator of the canonical path: it writes
// variant to a temp file in the same directory, then renames it over
// Path, so a crash mid-write never corrupts the canonical file.
//
// Commit does not itself enforce that variant is strictly smaller;
// that is the TestManager's job, since only it knows the previous
// committed size and can reject would-be commits before calling this.
func (f *FUR) Commit(variant []byte) error {
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".fur-"+uuid.NewString())
	if err != nil {
		return errtags.IOError.Apply(errors.Annotate(err, "creating temp file for commit").Err())
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(variant); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errtags.IOError.Apply(errors.Annotate(err, "writing commit variant").Err())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errtags.IOError.Apply(errors.Annotate(err, "closing commit variant").Err())
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		os.Remove(tmpPath)
		return errtags.IOError.Apply(errors.Annotate(err, "renaming commit variant into place").Err())
	}

	f.Bytes = variant
	f.epoch++
	return nil
}
