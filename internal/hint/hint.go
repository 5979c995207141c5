// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package hint implements the pass-independent edit representation:
// patches, hints, bundles, overlap-safe application, and the
// binary-search chunk driver that lets a single mechanism serve every
// hint-producing pass. Malformed input is a bug in the producing pass,
// never a fatal condition, so everything here reports errors tagged
// errtags.PassBug.
package hint

import "sort"

// Patch replaces the half-open byte range [Left, Right) with the
// vocabulary string at *Vocab, or deletes the range if Vocab is nil.
//
// FileID is carried for wire compatibility with multi-file passes but,
// like Hint.TypeID, is otherwise inert: this driver reduces a single
// FUR, so every patch implicitly targets it.
type Patch struct {
	Left, Right int
	Vocab       *int
	FileID      *int
}

// Hint is one candidate edit: an ordered, disjoint list of patches plus
// an optional type tag used only for pass-internal grouping; the
// dispatcher never consumes it.
type Hint struct {
	TypeID  *int
	Patches []Patch
}

// firstPatch returns the hint's first patch for sort/compare purposes.
// Every hint produced by a conforming pass has at least one patch.
func (h Hint) firstPatch() Patch {
	return h.Patches[0]
}

// Bundle is the full output of one pass invocation: a vocabulary of
// replacement strings plus the hints that reference it by index.
type Bundle struct {
	Vocabulary []string
	Hints      []Hint
}

// SortAndDedup orders hints by (first patch left, first patch right)
// and collapses hints with identical patch lists.
func SortAndDedup(hints []Hint) []Hint {
	sorted := make([]Hint, len(hints))
	copy(sorted, hints)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].firstPatch(), sorted[j].firstPatch()
		if a.Left != b.Left {
			return a.Left < b.Left
		}
		return a.Right < b.Right
	})

	out := sorted[:0]
	for _, h := range sorted {
		// Identical hints share their first patch, and the sort puts every
		// hint with that first patch right before h.
		fp, dup := h.firstPatch(), false
		for j := len(out) - 1; j >= 0; j-- {
			if op := out[j].firstPatch(); op.Left != fp.Left || op.Right != fp.Right {
				break
			}
			if samePatches(out[j].Patches, h.Patches) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		out = append(out, h)
	}
	return out
}

func samePatches(a, b []Patch) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Left != b[i].Left || a[i].Right != b[i].Right || !sameVocab(a[i].Vocab, b[i].Vocab) {
			return false
		}
	}
	return true
}

func sameVocab(a, b *int) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
