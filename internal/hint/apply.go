// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package hint

import (
	"sort"

	"go.chromium.org/luci/common/errors"

	"infra/cvise/internal/errtags"
)

// Apply replaces every patch in hints against buf with its vocabulary
// text (or removes it), walking patches in ascending Left order and
// copying unchanged spans in between.
//
// It asserts non-overlap across the full union of patches: overlapping
// input is a pass bug, not a caller error, since a conforming pass never
// emits it; see OverlapSafeUnion for the chunk-selection step that
// guarantees this precondition ahead of time.
func Apply(buf []byte, vocab []string, hints []Hint) ([]byte, error) {
	var patches []Patch
	for _, h := range hints {
		patches = append(patches, h.Patches...)
	}
	sort.Slice(patches, func(i, j int) bool { return patches[i].Left < patches[j].Left })

	out := make([]byte, 0, len(buf))
	cursor := 0
	for _, p := range patches {
		if p.Left < 0 || p.Right > len(buf) || p.Left > p.Right {
			return nil, errtags.PassBug.Apply(errors.Reason("hint patch [%d,%d) out of range for %d-byte buffer", p.Left, p.Right, len(buf)).Err())
		}
		if p.Left < cursor {
			return nil, errtags.PassBug.Apply(errors.Reason("overlapping hint patches at byte %d", p.Left).Err())
		}
		out = append(out, buf[cursor:p.Left]...)
		if p.Vocab != nil {
			if *p.Vocab < 0 || *p.Vocab >= len(vocab) {
				return nil, errtags.PassBug.Apply(errors.Reason("hint patch references out-of-range vocabulary id %d", *p.Vocab).Err())
			}
			out = append(out, vocab[*p.Vocab]...)
		}
		cursor = p.Right
	}
	out = append(out, buf[cursor:]...)
	return out, nil
}

// OverlapSafeUnion selects a non-overlapping subset of hints, keeping
// the first (in source order) of any mutually overlapping group and
// returning the rest separately so the caller can retry them in a later
// sub-chunk. A hint is kept only if every one of its patches starts at
// or after the end of every patch kept so far, so a hint that lies in a
// gap between the patches of an earlier kept multi-patch hint is
// dropped too; the kept subset is therefore not always maximal.
func OverlapSafeUnion(hints []Hint) (kept, dropped []Hint) {
	highWater := -1
	for _, h := range hints {
		overlaps := false
		for _, p := range h.Patches {
			if p.Left < highWater {
				overlaps = true
				break
			}
		}
		if overlaps {
			dropped = append(dropped, h)
			continue
		}
		kept = append(kept, h)
		for _, p := range h.Patches {
			if p.Right > highWater {
				highWater = p.Right
			}
		}
	}
	return kept, dropped
}
