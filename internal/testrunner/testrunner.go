// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testrunner drives the interestingness test: it runs the user's
// script against a sandboxed candidate and classifies the outcome into
// one of four verdicts (interesting, uninteresting, timeout,
// spawn_error).
//
// The script runs in its own process group so that a timeout or a
// cancellation can reap the whole tree it spawned, not just the direct
// child.
package testrunner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"go.chromium.org/luci/common/clock"
	lucierrors "go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/cvise/internal/errtags"
)

// Verdict is the outcome of one interestingness test invocation.
type Verdict int

const (
	// Interesting means the script exited zero: the candidate is kept.
	Interesting Verdict = iota
	// Uninteresting means the script exited non-zero: the candidate is
	// discarded.
	Uninteresting
	// Timeout means the script did not finish within the configured
	// budget; its process group was killed. Treated as Uninteresting by
	// callers, but reported separately for diagnostics.
	Timeout
	// SpawnError means the OS failed to start the script process at all
	// (as opposed to the script running and failing). Retried with
	// backoff by the test manager; never itself a commit decision.
	SpawnError
)

func (v Verdict) String() string {
	switch v {
	case Interesting:
		return "interesting"
	case Uninteresting:
		return "uninteresting"
	case Timeout:
		return "timeout"
	case SpawnError:
		return "spawn_error"
	default:
		return "unknown"
	}
}

// Result carries a verdict plus the diagnostics useful for a --save-temps
// investigation or a failure report.
type Result struct {
	Verdict  Verdict
	Duration time.Duration
	Output   []byte
	Err      error
}

// Run executes scriptPath with dir as its working directory, killing
// the whole process group if it does not finish within timeout. env,
// when non-empty, replaces the script's environment; callers append trial
// metadata to os.Environ before passing it in.
func Run(ctx context.Context, scriptPath, dir string, env []string, timeout time.Duration) Result {
	start := clock.Now(ctx)

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = clock.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.Command(scriptPath)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	startErr := cmd.Start()
	if startErr != nil {
		err := errtags.SpawnError.Apply(lucierrors.Annotate(startErr, "spawning interestingness script %q", scriptPath).Err())
		logging.Warningf(ctx, "spawn error running %s: %s", scriptPath, err)
		return Result{Verdict: SpawnError, Duration: clock.Since(ctx, start), Output: out.Bytes(), Err: err}
	}

	// Reap the whole process group the moment the context ends, whether
	// by timeout or by the coordinator cancelling a losing trial. Killing
	// only the direct child is not enough: a grandchild inheriting the
	// output pipes would keep Wait blocked long after the script's own
	// death and outlive the sandbox.
	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			killProcessGroup(ctx, cmd)
		case <-watcherDone:
		}
	}()

	waitErr := cmd.Wait()
	close(watcherDone)
	elapsed := clock.Since(ctx, start)

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return Result{Verdict: Timeout, Duration: elapsed, Output: out.Bytes(), Err: errtags.Timeout.Apply(lucierrors.Reason("interestingness test exceeded %s", timeout).Err())}
		}
		return Result{Verdict: Uninteresting, Duration: elapsed, Output: out.Bytes(), Err: ctxErr}
	}

	if waitErr == nil {
		return Result{Verdict: Interesting, Duration: elapsed, Output: out.Bytes()}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return Result{Verdict: Uninteresting, Duration: elapsed, Output: out.Bytes(), Err: waitErr}
	}

	// Wait failed for a reason other than a plain nonzero exit (e.g. the
	// process was killed out from under us, or I/O to the pipes broke).
	// Treat it the same as a spawn error so the test manager's retry
	// logic handles it rather than silently recording a false verdict.
	err := errtags.SpawnError.Apply(lucierrors.Annotate(waitErr, "waiting for interestingness script %q", scriptPath).Err())
	return Result{Verdict: SpawnError, Duration: elapsed, Output: out.Bytes(), Err: err}
}

// killProcessGroup sends SIGKILL to the entire process group spawned
// for cmd, falling back to killing the direct child if the group is
// already gone. Best-effort: a grandchild that re-parented itself out
// of the group survives.
func killProcessGroup(ctx context.Context, cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			logging.Warningf(ctx, "killing process group %d: %s", pgid, err)
		}
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		logging.Warningf(ctx, "killing process %d: %s", pid, err)
	}
}
