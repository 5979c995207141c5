// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package hintadapter presents a hint.Bundle as a pass.Adapter, driving
// the binary-search state machine from internal/hint on the
// TestManager's behalf; the underlying pass contributes only the
// bundle.
package hintadapter

import (
	"context"

	"go.chromium.org/luci/common/logging"

	"infra/cvise/internal/hint"
	"infra/cvise/internal/pass"
)

// Adapter wraps a single hint bundle produced by one pass invocation.
// It is stateful across commits: NotifyCommit shrinks the remaining
// hint list and remembers where the next chunk resumes. The cursor does
// not advance on a commit, because the list itself shortened under it.
type Adapter struct {
	vocabulary []string
	hints      []hint.Hint

	resume *hint.State
}

// New wraps bundle for driving by a TestManager.
func New(bundle *hint.Bundle) *Adapter {
	return &Adapter{vocabulary: bundle.Vocabulary, hints: bundle.Hints}
}

func (a *Adapter) CheckPrereqs(ctx context.Context) error { return nil }

func (a *Adapter) New(ctx context.Context, file []byte) (pass.State, bool, error) {
	if a.resume != nil {
		st := *a.resume
		a.resume = nil
		if len(a.hints) == 0 {
			return nil, true, nil
		}
		if st.Index >= len(a.hints) {
			// The commit consumed the tail of the list: the sweep at this
			// chunk size is complete, so continue the halving schedule
			// instead of ending the invocation.
			if st.ChunkSize <= 1 {
				return nil, true, nil
			}
			st = hint.State{ChunkSize: st.ChunkSize / 2, Index: 0}
		}
		return st, false, nil
	}
	st, done := hint.InitialState(len(a.hints))
	if done {
		return nil, true, nil
	}
	return st, false, nil
}

func (a *Adapter) Advance(ctx context.Context, file []byte, state pass.State) (pass.State, bool) {
	st := state.(hint.State)
	next, done := hint.NextState(st, len(a.hints))
	if done {
		return nil, true
	}
	return next, false
}

func (a *Adapter) Transform(ctx context.Context, file []byte, state pass.State) ([]byte, pass.Outcome, error) {
	st := state.(hint.State)
	chunk, ok := hint.Chunk(a.hints, st)
	if !ok || len(chunk) == 0 {
		return nil, pass.Invalid, nil
	}
	out, err := hint.Apply(file, a.vocabulary, chunk)
	if err != nil {
		return nil, pass.Invalid, err
	}
	return out, pass.OK, nil
}

// NotifyCommit removes the hints applied at state from the remaining
// bundle (they are now baked into variant) and arranges for the next New
// call to resume at the same (chunk_size, index), which now addresses
// what was the next unprocessed chunk.
//
// Remaining hints' byte offsets were computed against the pre-commit
// file, so any hint entirely past the committed span has its offsets
// shifted left by the number of bytes the commit net removed. A hint
// that overlapped the committed span (one of OverlapSafeUnion's
// "dropped" hints) referenced bytes that no longer exist in a
// well-defined way; rather than guess at a remapping, it is discarded.
func (a *Adapter) NotifyCommit(ctx context.Context, state pass.State, variant []byte) {
	st := state.(hint.State)
	if st.Index >= len(a.hints) {
		return
	}
	end := st.Index + st.ChunkSize
	if end > len(a.hints) {
		end = len(a.hints)
	}
	kept, dropped := hint.OverlapSafeUnion(a.hints[st.Index:end])
	if len(dropped) > 0 {
		logging.Debugf(ctx, "hint bundle commit at %+v discarded %d overlapping hints", st, len(dropped))
	}

	netDelta, chunkEnd := 0, 0
	for _, h := range kept {
		for _, p := range h.Patches {
			replacementLen := 0
			if p.Vocab != nil {
				replacementLen = len(a.vocabulary[*p.Vocab])
			}
			netDelta += (p.Right - p.Left) - replacementLen
			if p.Right > chunkEnd {
				chunkEnd = p.Right
			}
		}
	}

	var remaining []hint.Hint
	remaining = append(remaining, a.hints[:st.Index]...)
	for _, h := range a.hints[end:] {
		remaining = append(remaining, shiftHint(h, netDelta, chunkEnd))
	}
	a.hints = remaining

	next := hint.CommitState(st)
	a.resume = &next
	logging.Debugf(ctx, "hint bundle commit at %+v left %d hints remaining", st, len(a.hints))
}

// shiftHint shifts every patch of h left by delta bytes, asserting the
// patch starts at or after boundary (the committed chunk's end in
// pre-commit offsets), the precondition under which the shift is sound.
func shiftHint(h hint.Hint, delta, boundary int) hint.Hint {
	shifted := hint.Hint{TypeID: h.TypeID, Patches: make([]hint.Patch, len(h.Patches))}
	for i, p := range h.Patches {
		if p.Left < boundary {
			// Should not happen: a.hints[end:] is sorted after the
			// committed chunk. Leave unshifted rather than corrupt data.
			shifted.Patches[i] = p
			continue
		}
		shifted.Patches[i] = hint.Patch{Left: p.Left - delta, Right: p.Right - delta, Vocab: p.Vocab, FileID: p.FileID}
	}
	return shifted
}
