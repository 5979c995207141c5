// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package hint

// State is the cursor a hint-based pass advances through: the chunk
// size halves on completion of a sweep, terminating when it would reach
// 0; within one size, chunks are tried at index 0, ChunkSize,
// 2*ChunkSize, ....
type State struct {
	ChunkSize int
	Index     int
}

// InitialState returns the starting state for a bundle of n hints, or
// the zero value with done=true if there is nothing to reduce.
func InitialState(n int) (State, bool) {
	if n == 0 {
		return State{}, true
	}
	return State{ChunkSize: n, Index: 0}, false
}

// Chunk returns the overlap-safe subset of hints addressed by state,
// selected from the contiguous slice [Index, Index+ChunkSize). Returns
// ok=false if state.Index is already past the end of hints (the caller
// should have advanced to the next chunk size via NextState instead).
func Chunk(hints []Hint, state State) (kept []Hint, ok bool) {
	if state.Index >= len(hints) {
		return nil, false
	}
	end := state.Index + state.ChunkSize
	if end > len(hints) {
		end = len(hints)
	}
	kept, _ = OverlapSafeUnion(hints[state.Index:end])
	return kept, true
}

// NextState advances past a chunk that did not commit (uninteresting or
// invalid), given the current remaining hint count. When the sweep at
// the current chunk size is complete, it halves the chunk size; once
// size 1 has been swept the whole driver terminates (done=true).
func NextState(state State, hintsLen int) (next State, done bool) {
	advanced := state.Index + state.ChunkSize
	if advanced < hintsLen {
		return State{ChunkSize: state.ChunkSize, Index: advanced}, false
	}
	if state.ChunkSize <= 1 {
		return State{}, true
	}
	return State{ChunkSize: state.ChunkSize / 2, Index: 0}, false
}

// CommitState returns the state to resume from after a chunk commits.
// The committed hints are removed from the remaining hint list by the
// caller; the same (chunk size, index) now addresses what was the next
// unprocessed chunk, since the list shifted left by the committed span,
// so the cursor must not advance.
func CommitState(state State) State {
	return state
}
