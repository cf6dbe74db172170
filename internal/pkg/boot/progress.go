// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package boot

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// restoreProgress wraps an mpb bar over persisted-process restoration at
// boot (SPEC_FULL.md §0's "Boot UX"), matching the teacher's habit of
// surfacing a bounded, known-length unpacking operation to the terminal.
// Below a handful of processes, or at a quiet log level, it is a no-op.
type restoreProgress struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

const progressBarThreshold = 5

func newRestoreProgress(total int) *restoreProgress {
	if total < progressBarThreshold || sylog.GetLevel() < int(sylog.LevelInfo) {
		return &restoreProgress{}
	}
	p := mpb.New()
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(decor.Name("restoring processes"), decor.CountersNoUnit(" %d / %d")),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &restoreProgress{p: p, bar: bar}
}

func (r *restoreProgress) Increment() {
	if r.bar != nil {
		r.bar.Increment()
	}
}

func (r *restoreProgress) Wait() {
	if r.p != nil {
		r.p.Wait()
	}
}
