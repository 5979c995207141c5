// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package lines implements a hint-based pass that proposes deleting
// whole lines, the simplest reduction strategy. It is the in-process
// analogue of a topformflat-style line-granularity pass.
package lines

import (
	"bytes"
	"context"

	"infra/cvise/internal/hint"
)

// Producer implements pass.HintSource: one hint per line, each deleting
// that line including its trailing newline.
type Producer struct{}

func (Producer) CheckPrereqs(ctx context.Context) error { return nil }

func (Producer) NewHint(ctx context.Context, file []byte) (*hint.Bundle, error) {
	var hints []hint.Hint
	start := 0
	for start < len(file) {
		nl := bytes.IndexByte(file[start:], '\n')
		if nl < 0 {
			// Trailing content with no final newline: still offerable.
			hints = append(hints, hint.Hint{Patches: []hint.Patch{{Left: start, Right: len(file)}}})
			break
		}
		end := start + nl + 1
		hints = append(hints, hint.Hint{Patches: []hint.Patch{{Left: start, Right: end}}})
		start = end
	}
	return &hint.Bundle{Hints: hint.SortAndDedup(hints)}, nil
}
