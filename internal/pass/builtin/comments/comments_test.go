// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package comments

import (
	"context"
	"strings"
	"testing"

	"infra/cvise/internal/pass"
)

// "/* keep */ int x; // drop" reduces to a variant containing "int x;"
// with no comment markers left.
func TestAdapterStripsAllComments(t *testing.T) {
	ctx := context.Background()
	a := Adapter{}
	file := []byte("/* keep */ int x; // drop\n")

	state, stop, err := a.New(ctx, file)
	if err != nil || stop {
		t.Fatalf("New: stop=%v err=%v", stop, err)
	}
	out, outcome, err := a.Transform(ctx, file, state)
	if err != nil || outcome != pass.OK {
		t.Fatalf("Transform: outcome=%v err=%v", outcome, err)
	}
	if strings.Contains(string(out), "/*") || strings.Contains(string(out), "//") {
		t.Fatalf("Transform left a comment marker in %q", out)
	}
	if !strings.Contains(string(out), "int x;") {
		t.Fatalf("Transform lost the interesting substring: %q", out)
	}

	if _, stop := a.Advance(ctx, file, state); !stop {
		t.Fatalf("Advance should report stop after the single candidate")
	}
}

func TestNewStopsWhenNoCommentPresent(t *testing.T) {
	_, stop, err := Adapter{}.New(context.Background(), []byte("int x;\n"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !stop {
		t.Fatalf("New should stop when there is nothing to strip")
	}
}
