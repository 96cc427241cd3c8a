// Package kernel defines operation signatures, problem shapes and the
// capability interface every benchmarkable kernel variant implements.
package kernel

import (
	"context"

	"github.com/samcharles93/kprof/internal/device"
	"github.com/samcharles93/kprof/internal/elementwise"
)

// StreamConfig controls one Run. With TimeKernel unset the kernel runs
// once and reports 0 ms.
type StreamConfig struct {
	TimeKernel bool
	// Warmup iterations run before timing starts.
	Warmup int
	// Repeat timed iterations are averaged. Values below 1 mean 1.
	Repeat int
}

// Iterations clamps Repeat to at least one.
func (c StreamConfig) Iterations() int {
	if c.Repeat < 1 {
		return 1
	}
	return c.Repeat
}

// Buffers are the device allocations a problem runs over, in operand order.
type Buffers struct {
	A, B, B1 device.Buffer
	Ds       []device.Buffer
	E        device.Buffer
}

// Operators are the element-wise functions fused into the kernel. Nil
// members mean PassThrough.
type Operators struct {
	A, B elementwise.Op
	// Acc applies to the first GEMM of attention before softmax.
	Acc elementwise.Op
	CDE elementwise.Op
}

// Or returns op, or PassThrough when op is nil.
func Or(op elementwise.Op) elementwise.Op {
	if op == nil {
		return elementwise.PassThrough{}
	}
	return op
}

// Invocation is an argument set bound by Prepare. It is owned by the
// caller and used for at most one candidate.
type Invocation interface {
	Problem() Problem
}

// Candidate is one kernel variant. Implementations hold no per-problem
// state; everything a run needs lives in the Invocation.
type Candidate interface {
	Name() string
	// Supports reports whether the variant's structural constraints admit p.
	Supports(p Problem) bool
	Prepare(bufs Buffers, p Problem, ops Operators) (Invocation, error)
	// Run executes the invocation and blocks until the device work is
	// complete. The returned time is the average per iteration in ms when
	// cfg.TimeKernel is set.
	Run(ctx context.Context, inv Invocation, cfg StreamConfig) (float64, error)
}

// Factory builds the ordered candidates of one family.
type Factory func() []Candidate
