// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testmanager

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"infra/cvise/internal/errtags"
	"infra/cvise/internal/fur"
	"infra/cvise/internal/pass"
	"infra/cvise/internal/sandbox"
	"infra/cvise/internal/testrunner"
)

const testBasename = "input.c"

// dropAdapter is a minimal deterministic pass: state k proposes deleting
// the k-th byte of the file, and the space is exhausted after the last
// byte.
type dropAdapter struct {
	pass.NoCommitHook
}

func (dropAdapter) CheckPrereqs(ctx context.Context) error { return nil }

func (dropAdapter) New(ctx context.Context, file []byte) (pass.State, bool, error) {
	if len(file) == 0 {
		return nil, true, nil
	}
	return 0, false, nil
}

func (dropAdapter) Advance(ctx context.Context, file []byte, state pass.State) (pass.State, bool) {
	k := state.(int) + 1
	if k >= len(file) {
		return nil, true
	}
	return k, false
}

func (dropAdapter) Transform(ctx context.Context, file []byte, state pass.State) ([]byte, pass.Outcome, error) {
	k := state.(int)
	variant := append([]byte{}, file[:k]...)
	variant = append(variant, file[k+1:]...)
	return variant, pass.OK, nil
}

// invalidAdapter emits Invalid for every state, forever, to trip the
// pathology guard.
type invalidAdapter struct {
	pass.NoCommitHook
}

func (invalidAdapter) CheckPrereqs(ctx context.Context) error { return nil }

func (invalidAdapter) New(ctx context.Context, file []byte) (pass.State, bool, error) {
	return 0, false, nil
}

func (invalidAdapter) Advance(ctx context.Context, file []byte, state pass.State) (pass.State, bool) {
	return state.(int) + 1, false
}

func (invalidAdapter) Transform(ctx context.Context, file []byte, state pass.State) ([]byte, pass.Outcome, error) {
	return nil, pass.Invalid, nil
}

// swapAdapter proposes a same-size variant (first byte replaced with
// '_'), to exercise the strict-decrease commit rule.
type swapAdapter struct {
	pass.NoCommitHook
}

func (swapAdapter) CheckPrereqs(ctx context.Context) error { return nil }

func (swapAdapter) New(ctx context.Context, file []byte) (pass.State, bool, error) {
	if len(file) == 0 {
		return nil, true, nil
	}
	return 0, false, nil
}

func (swapAdapter) Advance(ctx context.Context, file []byte, state pass.State) (pass.State, bool) {
	return nil, true
}

func (swapAdapter) Transform(ctx context.Context, file []byte, state pass.State) ([]byte, pass.Outcome, error) {
	variant := append([]byte{}, file...)
	variant[0] = '_'
	return variant, pass.OK, nil
}

// fakeRunner classifies each trial by reading the staged candidate back
// out of the sandbox, standing in for the interestingness script.
type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	verdict func(call int, candidate []byte) testrunner.Result
}

func (r *fakeRunner) Run(ctx context.Context, scriptPath, dir string, env []string, timeout time.Duration) testrunner.Result {
	candidate, err := os.ReadFile(filepath.Join(dir, testBasename))
	if err != nil {
		return testrunner.Result{Verdict: testrunner.SpawnError, Err: err}
	}
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	return r.verdict(call, candidate)
}

func interestingIf(pred func(candidate []byte) bool) *fakeRunner {
	return &fakeRunner{verdict: func(_ int, candidate []byte) testrunner.Result {
		if pred(candidate) {
			return testrunner.Result{Verdict: testrunner.Interesting}
		}
		return testrunner.Result{Verdict: testrunner.Uninteresting}
	}}
}

func newFUR(t *testing.T, contents string) *fur.FUR {
	t.Helper()
	path := filepath.Join(t.TempDir(), testBasename)
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return &fur.FUR{Path: path, Bytes: []byte(contents)}
}

func newManager(t *testing.T, cfg Config, r runnerImpl) *Manager {
	t.Helper()
	return NewWithRunner(cfg, sandbox.New(t.TempDir()), r)
}

func TestCommitOrder(t *testing.T) {
	t.Parallel()

	Convey("With a 10-state pass where states 2, 5 and 7 are interesting", t, func() {
		ctx := context.Background()
		f := newFUR(t, "0123456789")
		// Dropping byte k removes digit k, so "interesting" means the
		// candidate lost one of the digits 2, 5 or 7.
		runner := interestingIf(func(c []byte) bool {
			return !bytes.ContainsAny(c, "2") || !bytes.ContainsAny(c, "5") || !bytes.ContainsAny(c, "7")
		})
		m := newManager(t, Config{Workers: 4}, runner)

		Convey("the earliest interesting state in pass order wins", func() {
			committed, err := m.runRound(ctx, f, testBasename, dropAdapter{}, 0, Options{})
			So(err, ShouldBeNil)
			So(committed, ShouldBeTrue)
			So(string(f.Bytes), ShouldEqual, "013456789")

			Convey("and exactly one commit happened", func() {
				So(f.Epoch(), ShouldEqual, 1)
			})
		})
	})
}

func TestParallelSerialEquivalence(t *testing.T) {
	t.Parallel()

	Convey("Given the same pass and predicate", t, func() {
		ctx := context.Background()
		// Interesting iff the candidate still contains "key".
		pred := func(c []byte) bool { return bytes.Contains(c, []byte("key")) }

		reduce := func(workers int) string {
			f := newFUR(t, "aakeybb")
			m := newManager(t, Config{Workers: workers}, interestingIf(pred))
			_, err := m.RunPass(ctx, f, testBasename, dropAdapter{}, Options{})
			So(err, ShouldBeNil)
			So(pred(f.Bytes), ShouldBeTrue)
			return string(f.Bytes)
		}

		Convey("P=1 and P=8 commit identical bytes", func() {
			So(reduce(8), ShouldEqual, reduce(1))
		})
	})
}

func TestTimeoutVerdictNeverCommits(t *testing.T) {
	t.Parallel()

	Convey("With a runner that always times out", t, func() {
		ctx := context.Background()
		f := newFUR(t, "abcdef")
		runner := &fakeRunner{verdict: func(int, []byte) testrunner.Result {
			return testrunner.Result{Verdict: testrunner.Timeout}
		}}
		m := newManager(t, Config{Workers: 2}, runner)

		commits, err := m.RunPass(ctx, f, testBasename, dropAdapter{}, Options{})
		So(err, ShouldBeNil)
		So(commits, ShouldEqual, 0)
		So(string(f.Bytes), ShouldEqual, "abcdef")
		So(f.Epoch(), ShouldEqual, 0)
	})
}

func TestPathologyGuard(t *testing.T) {
	t.Parallel()

	Convey("A pass emitting only invalid states is aborted as a pass bug", t, func() {
		ctx := context.Background()
		f := newFUR(t, "abcdef")
		m := newManager(t, Config{Workers: 2, MaxConsecutiveInvalid: 8}, interestingIf(func([]byte) bool { return true }))

		_, err := m.RunPass(ctx, f, testBasename, invalidAdapter{}, Options{})
		So(err, ShouldNotBeNil)
		So(errtags.PassBug.In(err), ShouldBeTrue)
		So(string(f.Bytes), ShouldEqual, "abcdef")
	})
}

func TestReadOnlyNeverMutatesFUR(t *testing.T) {
	t.Parallel()

	Convey("A check-sanity invocation with an interesting verdict", t, func() {
		ctx := context.Background()
		f := newFUR(t, "abcdef")
		m := newManager(t, Config{Workers: 2}, interestingIf(func([]byte) bool { return true }))

		commits, err := m.RunPass(ctx, f, testBasename, dropAdapter{}, Options{ReadOnly: true})
		So(err, ShouldBeNil)
		So(commits, ShouldEqual, 1)

		Convey("leaves the FUR untouched", func() {
			So(string(f.Bytes), ShouldEqual, "abcdef")
			So(f.Epoch(), ShouldEqual, 0)
		})
	})
}

func TestNonShrinkingVariantIsNotCommitted(t *testing.T) {
	t.Parallel()

	Convey("An interesting but equal-size variant", t, func() {
		ctx := context.Background()
		f := newFUR(t, "abcdef")
		m := newManager(t, Config{Workers: 1}, interestingIf(func([]byte) bool { return true }))

		commits, err := m.RunPass(ctx, f, testBasename, swapAdapter{}, Options{})
		So(err, ShouldBeNil)
		So(commits, ShouldEqual, 0)
		So(string(f.Bytes), ShouldEqual, "abcdef")
	})
}

func TestMaxCommitsCapsInvocation(t *testing.T) {
	t.Parallel()

	Convey("With every state interesting and MaxCommits=1", t, func() {
		ctx := context.Background()
		f := newFUR(t, "abcdef")
		m := newManager(t, Config{Workers: 2}, interestingIf(func([]byte) bool { return true }))

		commits, err := m.RunPass(ctx, f, testBasename, dropAdapter{}, Options{MaxCommits: 1})
		So(err, ShouldBeNil)
		So(commits, ShouldEqual, 1)
		So(string(f.Bytes), ShouldEqual, "bcdef")
	})
}

func TestSpawnErrorIsRetried(t *testing.T) {
	t.Parallel()

	Convey("A runner that fails to spawn twice and then succeeds", t, func() {
		ctx := context.Background()
		f := newFUR(t, "ab")
		runner := &fakeRunner{verdict: func(call int, candidate []byte) testrunner.Result {
			if call <= 2 {
				return testrunner.Result{Verdict: testrunner.SpawnError, Err: os.ErrNotExist}
			}
			if len(candidate) < 2 {
				return testrunner.Result{Verdict: testrunner.Interesting}
			}
			return testrunner.Result{Verdict: testrunner.Uninteresting}
		}}
		m := newManager(t, Config{Workers: 1}, runner)

		commits, err := m.RunPass(ctx, f, testBasename, dropAdapter{}, Options{})
		So(err, ShouldBeNil)
		So(commits, ShouldBeGreaterThan, 0)
		So(runner.calls, ShouldBeGreaterThanOrEqualTo, 3)
	})
}
