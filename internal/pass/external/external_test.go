// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package external

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"infra/cvise/internal/errtags"
	"infra/cvise/internal/pass"
)

func writeHelper(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0700); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// TestTransformAdapter drives a helper that knows exactly two
// transformations: counter 0 upper-cases nothing but drops the first
// line, counter 1 has nothing to offer (empty stdout, meaning the space
// is exhausted).
func TestTransformAdapter(t *testing.T) {
	ctx := context.Background()
	helper := writeHelper(t, `
case "$3" in
  --counter=0) tail -n +2 "$2" ;;
  *) : ;;
esac`)

	a := &TransformAdapter{HelperPath: helper, TransformationName: "drop-first-line"}
	if err := a.CheckPrereqs(ctx); err != nil {
		t.Fatalf("CheckPrereqs: %v", err)
	}

	file := []byte("int x;\nint y;\n")
	state, stop, err := a.New(ctx, file)
	if err != nil || stop {
		t.Fatalf("New: stop=%v err=%v", stop, err)
	}

	variant, outcome, err := a.Transform(ctx, file, state)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if outcome != pass.OK {
		t.Fatalf("outcome = %v, want OK", outcome)
	}
	if string(variant) != "int y;\n" {
		t.Fatalf("variant = %q, want %q", variant, "int y;\n")
	}

	next, stop := a.Advance(ctx, file, state)
	if stop {
		t.Fatalf("Advance: unexpected stop with no MaxTransforms bound")
	}
	_, outcome, err = a.Transform(ctx, file, next)
	if err != nil {
		t.Fatalf("Transform(counter=1): %v", err)
	}
	if outcome != pass.Stop {
		t.Fatalf("outcome = %v for an exhausted counter, want Stop", outcome)
	}
}

func TestTransformAdapterHonorsMaxTransforms(t *testing.T) {
	ctx := context.Background()
	a := &TransformAdapter{HelperPath: "/bin/true", TransformationName: "x", MaxTransforms: 2}

	state, _, err := a.New(ctx, []byte("irrelevant"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state, stop := a.Advance(ctx, nil, state)
	if stop {
		t.Fatalf("Advance: premature stop at counter 1 with MaxTransforms=2")
	}
	if _, stop = a.Advance(ctx, nil, state); !stop {
		t.Fatalf("Advance: expected stop once MaxTransforms is reached")
	}
}

func TestTransformAdapterMissingHelperIsConfigError(t *testing.T) {
	a := &TransformAdapter{HelperPath: "/no/such/helper", TransformationName: "x"}
	err := a.CheckPrereqs(context.Background())
	if err == nil {
		t.Fatalf("expected CheckPrereqs to fail for a missing helper")
	}
	if !errtags.ConfigError.In(err) {
		t.Fatalf("error not tagged config_error: %v", err)
	}
}

// TestBundleProducer runs a helper that emits the unified wire format of
// a two-hint bundle and checks it round-trips into sorted hints.
func TestBundleProducer(t *testing.T) {
	ctx := context.Background()
	helper := writeHelper(t, `
echo '["", "comment"]'
echo '{"p": [{"l": 7, "r": 14}]}'
echo '{"t": 1, "p": [{"l": 0, "r": 7, "v": 0}]}'`)

	b := &BundleProducer{HelperPath: helper, TransformationName: "lines"}
	bundle, err := b.NewHint(ctx, []byte("int x;\nint y;\n"))
	if err != nil {
		t.Fatalf("NewHint: %v", err)
	}
	if len(bundle.Vocabulary) != 2 {
		t.Fatalf("vocabulary size = %d, want 2", len(bundle.Vocabulary))
	}
	if len(bundle.Hints) != 2 {
		t.Fatalf("hint count = %d, want 2", len(bundle.Hints))
	}
	// ParseBundle sorts by first-patch left, so the [0,7) hint comes first
	// despite being emitted second.
	if bundle.Hints[0].Patches[0].Left != 0 {
		t.Fatalf("Hints[0] starts at %d, want 0 (sorted order)", bundle.Hints[0].Patches[0].Left)
	}
}

func TestBundleProducerNonZeroExitIsPassBug(t *testing.T) {
	ctx := context.Background()
	helper := writeHelper(t, `exit 3`)

	b := &BundleProducer{HelperPath: helper, TransformationName: "lines"}
	_, err := b.NewHint(ctx, []byte("x"))
	if err == nil {
		t.Fatalf("expected an error for a helper exiting non-zero")
	}
	if !errtags.PassBug.In(err) {
		t.Fatalf("error not tagged pass_bug: %v", err)
	}
}
