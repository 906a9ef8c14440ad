// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diag records the per-iteration trace of a nonlinear solve
// and renders it as interactive HTML charts or static images.
package diag

import (
	"sync"

	"github.com/curioloop/nonlinear/nksol"
)

// Recorder accumulates iteration snapshots reported by the solver.
//
// The zero value is ready to use. Hook it into a solve through
// Problem.Watch and inspect or render the trace afterwards:
//
//	rec := new(diag.Recorder)
//	prob.Watch = rec.Watch
//
// All methods are safe for concurrent use, so a trace may be served
// over HTTP while the solve is still running.
type Recorder struct {
	mu    sync.Mutex
	stats []nksol.IterStat
}

// Watch appends one iteration snapshot to the trace.
func (r *Recorder) Watch(stat nksol.IterStat) {
	r.mu.Lock()
	r.stats = append(r.stats, stat)
	r.mu.Unlock()
}

// Len reports the number of recorded iterations.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stats)
}

// Stats returns a copy of the recorded trace.
func (r *Recorder) Stats() []nksol.IterStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make([]nksol.IterStat, len(r.stats))
	copy(stats, r.stats)
	return stats
}

// Reset discards the recorded trace so the recorder can observe another solve.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.stats = r.stats[:0]
	r.mu.Unlock()
}
