// Package profiler benchmarks the candidates registered for a signature,
// keeps the fastest by throughput, and re-runs it untimed for
// verification.
package profiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/kprof/internal/kernel"
)

var (
	// ErrExecution marks a supported candidate that failed to run.
	ErrExecution = errors.New("kernel execution failed")
	ErrPrepare   = errors.New("kernel prepare failed")
)

// Measurement is the outcome of one candidate in a selection pass.
type Measurement struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Supported bool    `json:"supported"`
	AvgMs     float64 `json:"avg_ms,omitempty"`
	TFlops    float64 `json:"tflops,omitempty"`
	GBps      float64 `json:"gb_per_sec,omitempty"`
}

// Result is the best record of a pass.
type Result struct {
	Index  int     `json:"index"`
	Name   string  `json:"name"`
	AvgMs  float64 `json:"avg_ms"`
	TFlops float64 `json:"tflops"`
	GBps   float64 `json:"gb_per_sec"`
}

type Selection struct {
	Measurements []Measurement `json:"measurements"`
	// Best is nil when no candidate supported the problem.
	Best *Result `json:"best,omitempty"`
}

// Job is everything a candidate needs besides the stream configuration.
type Job struct {
	Signature kernel.Signature
	Problem   kernel.Problem
	Buffers   kernel.Buffers
	Operators kernel.Operators
}

// Metrics converts an average time into TFLOP/s and GB/s. A time that is
// not positive was not measured and yields zero for both.
func Metrics(flops, bytes int64, ms float64) (tflops, gbps float64) {
	if ms <= 0 {
		return 0, 0
	}
	return float64(flops) / 1e9 / ms, float64(bytes) / 1e6 / ms
}

// fold replaces best only on strictly greater throughput, so the first
// of equally fast candidates wins.
func fold(best *Result, m Measurement) *Result {
	if !m.Supported {
		return best
	}
	if best == nil || m.TFlops > best.TFlops {
		return &Result{Index: m.Index, Name: m.Name, AvgMs: m.AvgMs, TFlops: m.TFlops, GBps: m.GBps}
	}
	return best
}

// SelectBest prepares and times every candidate that supports the job's
// problem, in order. observe, when non-nil, sees each measurement as it
// is taken. A failing candidate aborts the pass; the partial selection is
// discarded.
func SelectBest(ctx context.Context, cands []kernel.Candidate, job Job, cfg kernel.StreamConfig, observe func(Measurement)) (Selection, error) {
	cfg.TimeKernel = true
	flops := job.Problem.Flops()
	bytes := job.Problem.Bytes(job.Signature)

	sel := Selection{Measurements: make([]Measurement, 0, len(cands))}
	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return Selection{}, err
		}
		m := Measurement{Index: i, Name: c.Name()}

		inv, err := c.Prepare(job.Buffers, job.Problem, job.Operators)
		if err != nil {
			return Selection{}, fmt.Errorf("instance %d (%s): %w: %w", i, c.Name(), ErrPrepare, err)
		}
		if c.Supports(job.Problem) {
			ms, err := c.Run(ctx, inv, cfg)
			if err != nil {
				return Selection{}, fmt.Errorf("instance %d (%s): %w: %w", i, c.Name(), ErrExecution, err)
			}
			m.Supported = true
			m.AvgMs = ms
			m.TFlops, m.GBps = Metrics(flops, bytes, ms)
		}

		sel.Measurements = append(sel.Measurements, m)
		sel.Best = fold(sel.Best, m)
		if observe != nil {
			observe(m)
		}
	}
	return sel, nil
}

// RunBest re-prepares the winning candidate and runs it once without
// timing, leaving its output in job.Buffers.E.
func RunBest(ctx context.Context, cands []kernel.Candidate, best Result, job Job) error {
	if best.Index < 0 || best.Index >= len(cands) {
		return fmt.Errorf("best instance %d out of range [0, %d)", best.Index, len(cands))
	}
	c := cands[best.Index]
	inv, err := c.Prepare(job.Buffers, job.Problem, job.Operators)
	if err != nil {
		return fmt.Errorf("instance %d (%s): %w: %w", best.Index, c.Name(), ErrPrepare, err)
	}
	if _, err := c.Run(ctx, inv, kernel.StreamConfig{}); err != nil {
		return fmt.Errorf("instance %d (%s): %w: %w", best.Index, c.Name(), ErrExecution, err)
	}
	return nil
}
