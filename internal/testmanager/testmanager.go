// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testmanager implements the parallel test manager: for one
// (pass, file) pair it speculatively fans out transform +
// interestingness-test trials across a bounded worker pool, commits the
// earliest interesting verdict in *state order* (never completion
// order), and cancels every other in-flight trial. State ordering is
// what makes the committed output independent of the worker count: a
// parallel run commits exactly what a serial run would.
package testmanager

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry"
	"go.chromium.org/luci/common/retry/transient"
	"golang.org/x/sync/semaphore"

	"infra/cvise/internal/errtags"
	"infra/cvise/internal/fur"
	"infra/cvise/internal/pass"
	"infra/cvise/internal/sandbox"
	"infra/cvise/internal/testrunner"
)

// Config holds the per-run knobs shared by every pass invocation.
type Config struct {
	// Workers bounds concurrent trials.
	Workers int
	// MaxInFlight further bounds submitted-but-not-yet-observed trials,
	// independent of Workers. Defaults to Workers when zero.
	MaxInFlight int
	// ScriptPath is the interestingness test.
	ScriptPath string
	// Timeout bounds one interestingness-test invocation.
	Timeout time.Duration
	// Env is appended to the script's environment.
	Env []string
	// SaveTemps keeps a trial's sandbox when its verdict was interesting
	// (the --save-temps CLI flag).
	SaveTemps bool
	// MaxConsecutiveInvalid bounds how many back-to-back Invalid/error
	// states a pass may produce before the whole invocation is treated
	// as a pass bug and abandoned. Defaults to 64 when zero.
	MaxConsecutiveInvalid int
	// ThrottleAfter, when nonzero, lowers the in-flight cap to 1 for the
	// rest of a round once any single trial runs longer than this, so a
	// slow interestingness test does not pile up speculative work.
	ThrottleAfter time.Duration
}

func (c Config) maxInFlight() int {
	if c.MaxInFlight > 0 {
		return c.MaxInFlight
	}
	if c.Workers > 0 {
		return c.Workers
	}
	return 1
}

func (c Config) maxConsecutiveInvalid() int {
	if c.MaxConsecutiveInvalid > 0 {
		return c.MaxConsecutiveInvalid
	}
	return 64
}

// Options selects per-invocation behavior the scheduler knows from the
// pass-group entry but the Config (shared by all passes) does not.
type Options struct {
	// ReadOnly suppresses the commit on an interesting verdict. Used for
	// check-sanity passes, which validate but never mutate the FUR.
	ReadOnly bool
	// MaxCommits caps how many commits this invocation may perform
	// (pass.Pass.MaxTransforms). Zero means unbounded.
	MaxCommits int
}

// runnerImpl is the seam between the Manager and the real
// interestingness runner; tests swap in a fake to drive verdicts
// without spawning processes.
type runnerImpl interface {
	Run(ctx context.Context, scriptPath, dir string, env []string, timeout time.Duration) testrunner.Result
}

type realRunner struct{}

func (realRunner) Run(ctx context.Context, scriptPath, dir string, env []string, timeout time.Duration) testrunner.Result {
	if len(env) > 0 {
		env = append(os.Environ(), env...)
	}
	return testrunner.Run(ctx, scriptPath, dir, env, timeout)
}

// Manager drives one pass invocation at a time against a shared FUR. It
// holds no per-pass state itself (the adapter does, via NotifyCommit);
// Manager only owns the sandbox pool and the knobs in Config.
type Manager struct {
	cfg       Config
	sandboxes *sandbox.Pool
	runner    runnerImpl
}

// New returns a Manager that stages trials under pool.
func New(cfg Config, pool *sandbox.Pool) *Manager {
	return &Manager{cfg: cfg, sandboxes: pool, runner: realRunner{}}
}

// NewWithRunner is New with the interestingness runner replaced, for
// tests that drive verdicts directly.
func NewWithRunner(cfg Config, pool *sandbox.Pool, r runnerImpl) *Manager {
	return &Manager{cfg: cfg, sandboxes: pool, runner: r}
}

// RunPass drives adapter against f's current contents to exhaustion:
// every time a round commits, it re-seeds the adapter from the new FUR
// contents and keeps going. It returns the number of rounds that found
// a winner: the number of commits, or, with opts.ReadOnly, 1 if any
// interesting variant was found (nothing is committed in that case).
func (m *Manager) RunPass(ctx context.Context, f *fur.FUR, basename string, adapter pass.Adapter, opts Options) (commits int, err error) {
	for {
		if opts.MaxCommits > 0 && commits >= opts.MaxCommits {
			return commits, nil
		}

		state, stop, err := adapter.New(ctx, f.Bytes)
		if err != nil {
			return commits, err
		}
		if stop {
			return commits, nil
		}

		committed, cerr := m.runRound(ctx, f, basename, adapter, state, opts)
		if cerr != nil {
			return commits, cerr
		}
		if !committed {
			return commits, nil
		}
		commits++
		if opts.ReadOnly {
			// A check-sanity "win" proves the input is still reducible as
			// given; there is nothing further to learn from this pass.
			return commits, nil
		}
	}
}

// trialResult is what one worker reports back to the coordinator.
type trialResult struct {
	index    int
	state    pass.State
	variant  []byte
	verdict  testrunner.Verdict
	duration time.Duration
	invalid  bool
	stop     bool
	err      error
}

// runRound performs one fan-out starting at seed: it dispatches states
// in order, bounded by Config.Workers/MaxInFlight, and demuxes results
// in state order so the first interesting verdict, regardless of which
// trial actually finished first, is the one committed.
func (m *Manager) runRound(ctx context.Context, f *fur.FUR, basename string, adapter pass.Adapter, seed pass.State, opts Options) (committed bool, err error) {
	roundCtx, cancelRound := context.WithCancel(ctx)
	defer cancelRound()

	capacity := int64(m.cfg.maxInFlight())
	sem := semaphore.NewWeighted(capacity)
	results := make(chan trialResult)
	var wg sync.WaitGroup
	var throttled atomic.Bool

	// The dispatcher counts in wg too, so results is only closed once it
	// has stopped adding trials.
	wg.Add(1)
	go func() {
		defer wg.Done()
		idx := 0
		cur := seed
		for {
			if err := sem.Acquire(roundCtx, 1); err != nil {
				return // round cancelled (committed, or ctx done)
			}
			wg.Add(1)
			go m.runTrial(roundCtx, f, basename, adapter, idx, cur, sem, &wg, results)

			next, stop := adapter.Advance(roundCtx, f.Bytes, cur)
			if stop {
				return
			}
			idx++
			cur = next
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	pending := map[int]trialResult{}
	nextIdx := 0
	consecutiveInvalid := 0
	var winner *trialResult

	for r := range results {
		pending[r.index] = r

		if m.cfg.ThrottleAfter > 0 && r.duration > m.cfg.ThrottleAfter && throttled.CompareAndSwap(false, true) {
			logging.Infof(ctx, "trial took %s (> %s), throttling this pass to one in-flight trial", r.duration, m.cfg.ThrottleAfter)
			// Permanently eat all but one permit; the dispatcher is now
			// serialized for the rest of the round.
			go sem.Acquire(roundCtx, capacity-1)
		}

		for {
			res, ok := pending[nextIdx]
			if !ok {
				break
			}
			delete(pending, nextIdx)
			nextIdx++

			if res.stop {
				// Transform reported the pass's space is exhausted at this
				// state; any later speculatively-dispatched state is
				// meaningless.
				cancelRound()
				goto drain
			}

			if res.err != nil && (errtags.SpawnError.In(res.err) || errtags.PassBug.In(res.err)) {
				// A spawn failure that outlived its retries, or a pass bug,
				// aborts the invocation.
				cancelRound()
				err = errtags.PassBug.Apply(errors.Annotate(res.err, "pass trial %d", res.index).Err())
				goto drain
			}
			if res.err != nil {
				consecutiveInvalid++
				logging.Warningf(ctx, "pass trial %d failed: %s", res.index, res.err)
			} else if res.invalid {
				consecutiveInvalid++
			} else {
				consecutiveInvalid = 0
			}

			if consecutiveInvalid >= m.cfg.maxConsecutiveInvalid() {
				cancelRound()
				err = errtags.PassBug.Apply(errors.Reason("pass produced %d consecutive invalid/errored states, aborting invocation", consecutiveInvalid).Err())
				goto drain
			}

			if res.verdict == testrunner.Interesting && res.err == nil && !res.invalid {
				if len(res.variant) >= f.Size() && !opts.ReadOnly {
					// An interesting but not strictly smaller variant is
					// never committed; equal-size commits would let two
					// passes trade the same bytes back and forth forever.
					logging.Debugf(ctx, "discarding interesting but non-shrinking variant at state %d (%d bytes)", res.index, len(res.variant))
					continue
				}
				w := res
				winner = &w
				cancelRound()
				goto drain
			}
		}
	}

drain:
	for range results {
		// Let cancelled trials finish releasing their sandboxes before we
		// return; the round's context is already cancelled so stragglers
		// exit quickly.
	}

	if err != nil {
		return false, err
	}
	if winner == nil {
		return false, nil
	}
	if opts.ReadOnly {
		return true, nil
	}
	if cerr := f.Commit(winner.variant); cerr != nil {
		return false, cerr
	}
	adapter.NotifyCommit(ctx, winner.state, winner.variant)
	return true, nil
}

// runTrial materializes one candidate, runs the interestingness test
// against it in a fresh sandbox, and reports the outcome. It always
// releases its semaphore slot and sandbox, even when ctx is cancelled
// mid-flight.
func (m *Manager) runTrial(ctx context.Context, f *fur.FUR, basename string, adapter pass.Adapter, idx int, state pass.State, sem *semaphore.Weighted, wg *sync.WaitGroup, results chan<- trialResult) {
	defer wg.Done()
	defer sem.Release(1)

	variant, outcome, err := adapter.Transform(ctx, f.Bytes, state)
	if err != nil {
		send(ctx, results, trialResult{index: idx, state: state, err: err})
		return
	}
	if outcome == pass.Stop {
		send(ctx, results, trialResult{index: idx, state: state, stop: true})
		return
	}
	if outcome == pass.Invalid {
		send(ctx, results, trialResult{index: idx, state: state, invalid: true})
		return
	}

	dir, err := m.sandboxes.Acquire(ctx, basename, variant)
	if err != nil {
		send(ctx, results, trialResult{index: idx, state: state, err: err})
		return
	}

	result := m.runScriptWithRetry(ctx, dir.Path)
	dir.Release(ctx, m.cfg.SaveTemps, result.Verdict == testrunner.Interesting)

	if result.Verdict == testrunner.SpawnError {
		send(ctx, results, trialResult{index: idx, state: state, duration: result.Duration, err: result.Err})
		return
	}
	send(ctx, results, trialResult{index: idx, state: state, variant: variant, verdict: result.Verdict, duration: result.Duration})
}

// runScriptWithRetry retries a SpawnError verdict with exponential
// backoff (100ms doubling up to 2s, five retries after the first
// attempt). Exhausting retries leaves the SpawnError verdict for the
// coordinator to escalate to a pass bug.
func (m *Manager) runScriptWithRetry(ctx context.Context, sandboxDir string) testrunner.Result {
	var last testrunner.Result
	if err := retry.Retry(ctx, transient.Only(spawnErrorBackoff), func() error {
		last = m.runner.Run(ctx, m.cfg.ScriptPath, sandboxDir, m.cfg.Env, m.cfg.Timeout)
		if last.Verdict == testrunner.SpawnError {
			return transient.Tag.Apply(last.Err)
		}
		return nil
	}, nil); err != nil {
		logging.Debugf(ctx, "interestingness test spawn retries exhausted: %s", err)
	}
	return last
}

// spawnErrorBackoff is the retry.Factory for worker spawn_error retries.
func spawnErrorBackoff() retry.Iterator {
	return &retry.ExponentialBackoff{
		Limited: retry.Limited{
			Delay:   100 * time.Millisecond,
			Retries: 5,
		},
		Multiplier: 2,
		MaxDelay:   2 * time.Second,
	}
}

func send(ctx context.Context, ch chan<- trialResult, r trialResult) {
	select {
	case ch <- r:
	case <-ctx.Done():
	}
}
