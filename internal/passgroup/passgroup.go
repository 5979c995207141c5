// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package passgroup loads the pass-group JSON format, an ordered
// multi-phase plan of which passes the scheduler runs and in what role,
// and supplies the named built-in groups behind `--pass-group NAME`.
package passgroup

import (
	"encoding/json"
	"os"

	"go.chromium.org/luci/common/errors"

	"infra/cvise/internal/errtags"
	"infra/cvise/internal/pass"
)

// Phase is the role a pass entry plays within a group.
type Phase string

const (
	First Phase = "first"
	Main  Phase = "main"
	Last  Phase = "last"
)

func (p Phase) valid() bool {
	return p == First || p == Main || p == Last
}

// entry mirrors one JSON object of the pass-group wire format:
// {"pass": "<name>", "arg": "<string>", "type": "first|main|last"}.
type entry struct {
	Pass string `json:"pass"`
	Arg  string `json:"arg"`
	Type Phase  `json:"type"`
	// Kind lets a pass-group entry override the registry's default pass
	// kind (transform vs check-sanity vs hint-based); omitted entries
	// default to pass.Transform, matching most builtin/external passes.
	Kind string `json:"kind,omitempty"`
	// MaxTransforms mirrors pass.Pass.MaxTransforms.
	MaxTransforms int `json:"max_transforms,omitempty"`
}

// Group is a parsed, phase-bucketed pass-group plan, ready for
// internal/scheduler to walk: first passes run once up front, main
// passes loop to a fixpoint, last passes polish once at the end.
type Group struct {
	First []pass.Pass
	Main  []pass.Pass
	Last  []pass.Pass
}

// Parse decodes the JSON pass-group format (a flat array of entries, each
// tagged with its phase) into a Group.
func Parse(data []byte) (*Group, error) {
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errtags.ConfigError.Apply(errors.Annotate(err, "parsing pass-group JSON").Err())
	}
	g := &Group{}
	for i, e := range entries {
		if e.Pass == "" {
			return nil, errtags.ConfigError.Apply(errors.Reason("pass-group entry %d: missing \"pass\"", i).Err())
		}
		if !e.Type.valid() {
			return nil, errtags.ConfigError.Apply(errors.Reason("pass-group entry %d (%s): invalid \"type\" %q, want first|main|last", i, e.Pass, e.Type).Err())
		}
		p := pass.Pass{Name: e.Pass, Arg: e.Arg, Kind: kindFromString(e.Kind), MaxTransforms: e.MaxTransforms}
		switch e.Type {
		case First:
			g.First = append(g.First, p)
		case Main:
			g.Main = append(g.Main, p)
		case Last:
			g.Last = append(g.Last, p)
		}
	}
	return g, nil
}

func kindFromString(s string) pass.Kind {
	switch s {
	case "check-sanity":
		return pass.CheckSanity
	case "hint-based":
		return pass.HintBased
	default:
		return pass.Transform
	}
}

// Load reads and parses a pass-group JSON file from path.
func Load(path string) (*Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errtags.ConfigError.Apply(errors.Annotate(err, "reading pass-group file %q", path).Err())
	}
	return Parse(data)
}

// Named resolves one of the built-in group names accepted by
// `--pass-group`. An unknown name is a configuration error, same as a
// malformed JSON file.
func Named(name string) (*Group, error) {
	g, ok := builtins[name]
	if !ok {
		return nil, errtags.ConfigError.Apply(errors.Reason("unknown pass group %q", name).Err())
	}
	return g, nil
}

// builtins hard-codes the five named groups as data, in the shape a
// pass-group JSON file would describe, so Named and Load share one
// representation. "all" runs the two builtin passes (comments and
// lines); the external helper passes are not part of it; "delta", "binary" and "opencl-120" are coarser
// subsets used to scope a run to a particular reduction strategy;
// "no-interleaving" runs the same main-phase passes as "all" but without
// letting unrelated passes interleave commits within one sweep (in this
// implementation that distinction is advisory only, since the scheduler
// already completes one pass's fixpoint before moving to the next).
var builtins = map[string]*Group{
	"all": {
		First: []pass.Pass{{Name: "comments", Kind: pass.Transform}},
		Main: []pass.Pass{
			{Name: "lines", Kind: pass.HintBased},
			{Name: "comments", Kind: pass.Transform},
		},
		Last: []pass.Pass{{Name: "comments", Kind: pass.Transform}},
	},
	"delta": {
		Main: []pass.Pass{{Name: "clang-delta", Kind: pass.HintBased}},
	},
	"binary": {
		Main: []pass.Pass{{Name: "lines", Kind: pass.HintBased}},
	},
	"opencl-120": {
		First: []pass.Pass{{Name: "comments", Kind: pass.Transform}},
		Main:  []pass.Pass{{Name: "lines", Kind: pass.HintBased}},
	},
	"no-interleaving": {
		First: []pass.Pass{{Name: "comments", Kind: pass.Transform}},
		Main: []pass.Pass{
			{Name: "lines", Kind: pass.HintBased},
			{Name: "comments", Kind: pass.Transform},
		},
	},
}
