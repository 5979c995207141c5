// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package registry maps configured pass names to concrete adapters. The
// registry is an explicit value built once at startup and injected where
// needed; there is no global pass table.
package registry

import (
	"context"

	"go.chromium.org/luci/common/errors"

	"infra/cvise/internal/errtags"
	"infra/cvise/internal/pass"
	"infra/cvise/internal/pass/builtin/comments"
	"infra/cvise/internal/pass/builtin/lines"
	"infra/cvise/internal/pass/external"
)

// Factory builds a concrete adapter for one configured pass.Pass. The
// factories in this package ignore p: external ones are bound to their
// helper path and registration name by RegisterExternal, and p.Arg is
// not passed to the helper.
type Factory func(p pass.Pass) (pass.Adapter, error)

// hintFactory builds a pass.HintSource instead, for kind=hint-based
// passes; the scheduler wraps its bundle in hintadapter.
type hintFactory func(p pass.Pass) (pass.HintSource, error)

// Registry is the explicit, startup-built set of known pass names.
type Registry struct {
	adapters map[string]Factory
	hints    map[string]hintFactory
}

// New returns a Registry preloaded with the builtin passes; external
// passes are added with RegisterExternal (cmd/cvise registers its
// well-known helpers at startup).
func New() *Registry {
	r := &Registry{
		adapters: map[string]Factory{
			"comments": func(pass.Pass) (pass.Adapter, error) { return &comments.Adapter{}, nil },
		},
		hints: map[string]hintFactory{
			"lines": func(pass.Pass) (pass.HintSource, error) { return lines.Producer{}, nil },
		},
	}
	return r
}

// RegisterExternal wires a helper executable in as both an ordinary
// transform adapter and a bundle producer, under name; the configured
// pass kind decides which of the two is used.
func (r *Registry) RegisterExternal(name, helperPath string, maxTransforms int) {
	r.adapters[name] = func(p pass.Pass) (pass.Adapter, error) {
		return &external.TransformAdapter{
			HelperPath:         helperPath,
			TransformationName: name,
			MaxTransforms:      maxTransforms,
		}, nil
	}
	r.hints[name] = func(p pass.Pass) (pass.HintSource, error) {
		return &external.BundleProducer{HelperPath: helperPath, TransformationName: name}, nil
	}
}

// Adapter builds the adapter for p's transform or check-sanity kind.
func (r *Registry) Adapter(ctx context.Context, p pass.Pass) (pass.Adapter, error) {
	f, ok := r.adapters[p.Name]
	if !ok {
		return nil, errtags.ConfigError.Apply(errors.Reason("unknown pass %q", p.Name).Err())
	}
	return f(p)
}

// HintSource builds the bundle producer for p's hint-based kind.
func (r *Registry) HintSource(ctx context.Context, p pass.Pass) (pass.HintSource, error) {
	f, ok := r.hints[p.Name]
	if !ok {
		return nil, errtags.ConfigError.Apply(errors.Reason("unknown hint-based pass %q", p.Name).Err())
	}
	return f(p)
}
