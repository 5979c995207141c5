// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "check.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0700); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunInteresting(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "exit 0")

	res := Run(context.Background(), script, dir, nil, time.Second)
	if res.Verdict != Interesting {
		t.Fatalf("verdict = %s, want interesting", res.Verdict)
	}
}

func TestRunUninteresting(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "exit 1")

	res := Run(context.Background(), script, dir, nil, time.Second)
	if res.Verdict != Uninteresting {
		t.Fatalf("verdict = %s, want uninteresting", res.Verdict)
	}
}

// A script that outlives its budget is classified as a timeout rather
// than interesting or uninteresting, and does not hang the test despite
// the script itself sleeping far longer than the configured timeout.
func TestRunTimeout(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleep 10")

	start := time.Now()
	res := Run(context.Background(), script, dir, nil, 50*time.Millisecond)
	if res.Verdict != Timeout {
		t.Fatalf("verdict = %s, want timeout", res.Verdict)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run took %s, process group was not killed promptly", elapsed)
	}
}

// A trial cancelled mid-run (the coordinator already committed an
// earlier state) gets its whole process group reaped, not just the
// direct child, and its verdict never reads as interesting.
func TestRunCancelledKillsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleep 10")

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	res := Run(ctx, script, dir, nil, 0)
	if res.Verdict != Uninteresting {
		t.Fatalf("verdict = %s, want uninteresting for a cancelled trial", res.Verdict)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run took %s, process group was not killed promptly", elapsed)
	}
}

func TestRunSpawnError(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "does-not-exist.sh")

	res := Run(context.Background(), missing, dir, nil, time.Second)
	if res.Verdict != SpawnError {
		t.Fatalf("verdict = %s, want spawn_error", res.Verdict)
	}
}

func TestRunPassesEnv(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, `[ "$CVISE_TEST" = "1" ] && exit 0 || exit 1`)

	res := Run(context.Background(), script, dir, append(os.Environ(), "CVISE_TEST=1"), time.Second)
	if res.Verdict != Interesting {
		t.Fatalf("verdict = %s, want interesting (env not propagated)", res.Verdict)
	}
}
