// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package comments implements an internal-regex pass stripping C-style
// block comments and C++-style line comments, the in-process analogue
// of a clex-based comment stripper.
package comments

import (
	"context"
	"regexp"

	"infra/cvise/internal/pass"
)

var pattern = regexp.MustCompile(`(?s:/\*.*?\*/)|//[^\n]*`)

// Adapter is a single-shot transform pass: it offers exactly one
// candidate, the file with every matched comment removed. There is
// nothing to binary-search here (removing comments is already minimal in
// scope), so New/Advance expose a trivial two-state cursor (try once,
// then stop).
type Adapter struct {
	pass.NoCommitHook
}

// tryState is the adapter's sole non-stop state.
type tryState struct{}

func (Adapter) CheckPrereqs(ctx context.Context) error { return nil }

func (Adapter) New(ctx context.Context, file []byte) (pass.State, bool, error) {
	if !pattern.Match(file) {
		return nil, true, nil
	}
	return tryState{}, false, nil
}

func (Adapter) Advance(ctx context.Context, file []byte, state pass.State) (pass.State, bool) {
	return nil, true
}

func (Adapter) Transform(ctx context.Context, file []byte, state pass.State) ([]byte, pass.Outcome, error) {
	out := pattern.ReplaceAll(file, nil)
	if len(out) == len(file) {
		return nil, pass.Invalid, nil
	}
	return out, pass.OK, nil
}
