// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errtags defines the error taxonomy shared across cvise.
//
// Tags are attached with go.chromium.org/luci/common/errors, so a
// failure's class survives any amount of Annotate wrapping on the way
// up to the CLI's exit-code switch.
package errtags

import "go.chromium.org/luci/common/errors"

var (
	// ScriptError marks errors where the interestingness script itself could
	// not be executed (missing, not executable, bad shebang). Fatal.
	ScriptError = errors.BoolTag{Key: errors.NewTagKey("interestingness script error")}

	// ConfigError marks errors from missing tools or an invalid pass group.
	// An invalid pass group is fatal; a pass whose tool is missing or whose
	// name is unknown is logged and skipped by the scheduler, and the run
	// goes on.
	ConfigError = errors.BoolTag{Key: errors.NewTagKey("configuration error")}

	// PassBug marks a pass producing malformed output, crashing, or
	// proposing an invalid edit. Logged and the pass invocation is aborted;
	// never fatal to the scheduler.
	PassBug = errors.BoolTag{Key: errors.NewTagKey("pass bug")}

	// Timeout marks an interestingness test that exceeded its budget.
	// Treated as uninteresting, never fatal.
	Timeout = errors.BoolTag{Key: errors.NewTagKey("interestingness test timeout")}

	// SpawnError marks a transient OS failure spawning a worker process.
	// Retried with backoff; escalated to PassBug once retries are exhausted.
	SpawnError = errors.BoolTag{Key: errors.NewTagKey("worker spawn error")}

	// IOError marks a failure reading or writing the file under reduction,
	// or staging a trial's files. Failing to load the FUR is fatal; a
	// failed commit aborts only the current pass invocation, which the
	// scheduler logs and skips, and a staging failure counts as one failed
	// trial.
	IOError = errors.BoolTag{Key: errors.NewTagKey("FUR io error")}
)
