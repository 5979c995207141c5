// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package pass defines the uniform adapter every concrete reduction
// pass is presented through. Concrete passes live in subpackages:
// external (helper-process invocation), hintadapter (wraps the
// binary-search driver in internal/hint), and builtin/* (in-process
// passes).
package pass

import (
	"context"

	"infra/cvise/internal/hint"
)

// Kind distinguishes the three pass shapes.
type Kind int

const (
	// Transform passes materialize a full candidate variant per state.
	Transform Kind = iota
	// CheckSanity passes run for validation only; an interesting verdict
	// from one is never committed.
	CheckSanity
	// HintBased passes contribute a hint bundle once per invocation; the
	// binary-search driver in internal/hint supplies the state machine.
	HintBased
)

func (k Kind) String() string {
	switch k {
	case Transform:
		return "transform"
	case CheckSanity:
		return "check-sanity"
	case HintBased:
		return "hint-based"
	default:
		return "unknown"
	}
}

// Pass names a configured transformer: which adapter to use (by Name),
// its sub-mode argument, its kind, and an optional cap on how many
// transforms it may propose before the scheduler moves on.
type Pass struct {
	Name          string
	Arg           string
	Kind          Kind
	MaxTransforms int
}

// State is the opaque cursor an Adapter advances through its transform
// space. Concrete adapters choose their own underlying type; callers
// must not inspect it.
type State any

// Outcome is the result of one Transform call.
type Outcome int

const (
	// OK means variant holds a materialized candidate.
	OK Outcome = iota
	// Stop means the pass's transform space is exhausted at this state;
	// the whole round ends. Most adapters signal exhaustion from
	// New/Advance instead, but external helpers can only discover it
	// while materializing.
	Stop
	// Invalid means the state slot turned out to have no effect (nothing
	// matched); the caller should advance and retry.
	Invalid
)

// Adapter is the uniform interface every concrete pass is presented
// through: prerequisite probing, cursor creation and advancement,
// candidate materialization, plus a commit notification hook used by
// stateful adapters (currently only hintadapter) to carry bundle state
// across a TestManager commit.
type Adapter interface {
	// CheckPrereqs inspects once at startup whether required external
	// tools exist. A non-nil error is tagged errtags.ConfigError.
	CheckPrereqs(ctx context.Context) error

	// New initializes a cursor for file. stop=true means the pass has
	// nothing to offer for this file.
	New(ctx context.Context, file []byte) (state State, stop bool, err error)

	// Advance produces the next state without materializing a variant.
	Advance(ctx context.Context, file []byte, state State) (next State, stop bool)

	// Transform writes the candidate variant for state.
	Transform(ctx context.Context, file []byte, state State) (variant []byte, outcome Outcome, err error)

	// NotifyCommit tells the adapter that state's variant was committed,
	// so the next New call can resume from it rather than starting over.
	// Adapters with no state to carry across commits implement this as a
	// no-op by embedding NoCommitHook.
	NotifyCommit(ctx context.Context, state State, variant []byte)
}

// NoCommitHook gives stateless adapters a no-op NotifyCommit via
// embedding.
type NoCommitHook struct{}

func (NoCommitHook) NotifyCommit(ctx context.Context, state State, variant []byte) {}

// HintSource is implemented by hint-based passes: the pass contributes
// only a bundle once per invocation, and the scheduler wraps it in
// hintadapter to drive the binary-search state machine.
type HintSource interface {
	NewHint(ctx context.Context, file []byte) (*hint.Bundle, error)
}
