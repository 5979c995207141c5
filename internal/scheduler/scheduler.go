// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package scheduler implements the pass-group driver: it walks a
// passgroup.Group's first/main/last phases, delegating each pass
// invocation to a testmanager.Manager, and loops the main phase until a
// full sweep produces no improvement. One pass failing never aborts the
// whole run; it is recorded in the report and skipped.
package scheduler

import (
	"context"

	"github.com/dustin/go-humanize"
	"go.chromium.org/luci/common/logging"

	"infra/cvise/internal/fur"
	"infra/cvise/internal/pass"
	"infra/cvise/internal/pass/hintadapter"
	"infra/cvise/internal/pass/registry"
	"infra/cvise/internal/passgroup"
	"infra/cvise/internal/testmanager"
)

// PassReport is the per-pass outcome accumulated in Report.
type PassReport struct {
	Name    string          `json:"pass"`
	Phase   passgroup.Phase `json:"phase"`
	Commits int             `json:"commits"`
	Skipped bool            `json:"skipped,omitempty"`
	Err     string          `json:"error,omitempty"`
}

// Report is the end-of-run summary shown to the user: passes run,
// commit counts, and which passes were skipped due to a pass bug or a
// missing tool.
type Report struct {
	Passes       []PassReport `json:"passes"`
	StartSize    int          `json:"start_size"`
	FinalSize    int          `json:"final_size"`
	SweepsRun    int          `json:"sweeps_run"`
	TotalCommits int          `json:"total_commits"`
}

// BytesSaved is StartSize - FinalSize, the headline reduction metric.
func (r Report) BytesSaved() int {
	return r.StartSize - r.FinalSize
}

// Scheduler ties a pass registry to a test manager and drives a
// passgroup.Group against one FUR.
type Scheduler struct {
	Manager  *testmanager.Manager
	Registry *registry.Registry
}

// New returns a Scheduler.
func New(m *testmanager.Manager, r *registry.Registry) *Scheduler {
	return &Scheduler{Manager: m, Registry: r}
}

// Run drives group against f, whose on-disk basename is basename (used
// to seed every trial sandbox under its original name). It returns once
// first, main (to fixpoint) and last have all executed, or ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context, f *fur.FUR, basename string, group *passgroup.Group) (*Report, error) {
	report := &Report{StartSize: f.Size()}

	for _, p := range group.First {
		s.runPhase(ctx, f, basename, passgroup.First, p, report)
	}

	for {
		select {
		case <-ctx.Done():
			report.FinalSize = f.Size()
			return report, ctx.Err()
		default:
		}

		sizeBefore := f.Size()
		report.SweepsRun++
		for _, p := range group.Main {
			s.runPhase(ctx, f, basename, passgroup.Main, p, report)
		}
		if f.Size() >= sizeBefore {
			// One full sweep over `main` produced no improvement: the
			// reduction reached its fixpoint.
			break
		}
	}

	for _, p := range group.Last {
		s.runPhase(ctx, f, basename, passgroup.Last, p, report)
	}

	report.FinalSize = f.Size()
	logging.Infof(ctx, "reduction complete: %s -> %s (%d sweeps, %d commits)",
		humanize.Bytes(uint64(report.StartSize)), humanize.Bytes(uint64(report.FinalSize)),
		report.SweepsRun, report.TotalCommits)
	return report, nil
}

// runPhase runs one configured pass once (first/last) or as part of a
// sweep (main), recording its outcome into report. A pass bug or a
// missing tool is logged and the pass skipped, never aborting the
// scheduler.
func (s *Scheduler) runPhase(ctx context.Context, f *fur.FUR, basename string, phase passgroup.Phase, p pass.Pass, report *Report) {
	adapter, err := s.resolveAdapter(ctx, f, p)
	if err != nil {
		logging.Warningf(ctx, "skipping pass %q (%s): %s", p.Name, phase, err)
		report.Passes = append(report.Passes, PassReport{Name: p.Name, Phase: phase, Skipped: true, Err: err.Error()})
		return
	}
	if err := adapter.CheckPrereqs(ctx); err != nil {
		logging.Warningf(ctx, "skipping pass %q (%s): prerequisites not met: %s", p.Name, phase, err)
		report.Passes = append(report.Passes, PassReport{Name: p.Name, Phase: phase, Skipped: true, Err: err.Error()})
		return
	}

	opts := testmanager.Options{
		ReadOnly:   p.Kind == pass.CheckSanity,
		MaxCommits: p.MaxTransforms,
	}
	commits, err := s.Manager.RunPass(ctx, f, basename, adapter, opts)
	if opts.ReadOnly {
		// A check-sanity "win" is a validation, not a reduction; it never
		// counts as a commit.
		commits = 0
	}
	if err != nil {
		logging.Warningf(ctx, "pass %q (%s) aborted: %s", p.Name, phase, err)
		report.Passes = append(report.Passes, PassReport{Name: p.Name, Phase: phase, Commits: commits, Skipped: true, Err: err.Error()})
		return
	}
	if commits > 0 {
		logging.Infof(ctx, "pass %q (%s): %d commit(s), FUR now %s", p.Name, phase, commits, humanize.Bytes(uint64(f.Size())))
	}
	report.TotalCommits += commits
	report.Passes = append(report.Passes, PassReport{Name: p.Name, Phase: phase, Commits: commits})
}

// resolveAdapter builds a pass.Adapter for p: ordinary adapters come
// straight from the registry, while hint-based passes contribute only a
// bundle, produced once here and wrapped in hintadapter so the manager
// can drive the binary-search state machine over it.
func (s *Scheduler) resolveAdapter(ctx context.Context, f *fur.FUR, p pass.Pass) (pass.Adapter, error) {
	if p.Kind != pass.HintBased {
		return s.Registry.Adapter(ctx, p)
	}
	src, err := s.Registry.HintSource(ctx, p)
	if err != nil {
		return nil, err
	}
	bundle, err := src.NewHint(ctx, f.Bytes)
	if err != nil {
		return nil, err
	}
	return hintadapter.New(bundle), nil
}
