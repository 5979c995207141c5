// Copyright 2024 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package hint

import (
	"bufio"
	"encoding/json"
	"io"

	"go.chromium.org/luci/common/errors"

	"infra/cvise/internal/errtags"
)

// wirePatch mirrors the compact per-patch JSON object on the wire:
// {"l": int, "r": int, "v": int?, "f": int?}.
type wirePatch struct {
	L int  `json:"l"`
	R int  `json:"r"`
	V *int `json:"v,omitempty"`
	F *int `json:"f,omitempty"`
}

// wireHint mirrors one hint line: {"t": int?, "p": [wirePatch, ...]}.
type wireHint struct {
	T *int        `json:"t,omitempty"`
	P []wirePatch `json:"p"`
}

// ParseBundle reads the hint-bundle wire format from r: a first line
// holding the JSON vocabulary array, followed by one compact JSON hint
// object per line. Malformed input is reported as a pass bug rather
// than a generic error, so callers can skip the offending pass
// invocation without treating it as fatal.
func ParseBundle(r io.Reader) (*Bundle, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errtags.PassBug.Apply(errors.Annotate(err, "reading hint bundle vocabulary line").Err())
		}
		return nil, errtags.PassBug.Apply(errors.Reason("hint bundle is empty, expected a vocabulary line").Err())
	}
	var vocab []string
	if err := json.Unmarshal(scanner.Bytes(), &vocab); err != nil {
		return nil, errtags.PassBug.Apply(errors.Annotate(err, "parsing hint bundle vocabulary").Err())
	}

	var hints []Hint
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var wh wireHint
		if err := json.Unmarshal(line, &wh); err != nil {
			return nil, errtags.PassBug.Apply(errors.Annotate(err, "parsing hint bundle line %d", len(hints)+2).Err())
		}
		if len(wh.P) == 0 {
			return nil, errtags.PassBug.Apply(errors.Reason("hint bundle line %d has no patches", len(hints)+2).Err())
		}
		patches := make([]Patch, len(wh.P))
		for i, wp := range wh.P {
			if wp.R < wp.L {
				return nil, errtags.PassBug.Apply(errors.Reason("hint bundle line %d: patch right %d precedes left %d", len(hints)+2, wp.R, wp.L).Err())
			}
			patches[i] = Patch{Left: wp.L, Right: wp.R, Vocab: wp.V, FileID: wp.F}
		}
		hints = append(hints, Hint{TypeID: wh.T, Patches: patches})
	}
	if err := scanner.Err(); err != nil {
		return nil, errtags.PassBug.Apply(errors.Annotate(err, "reading hint bundle").Err())
	}

	return &Bundle{Vocabulary: vocab, Hints: SortAndDedup(hints)}, nil
}
