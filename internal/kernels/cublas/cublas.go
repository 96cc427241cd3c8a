//go:build cuda

// Package cublas exposes cublasGemmEx algorithms as GEMM candidates. Each
// algorithm id is one instance.
package cublas

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/kprof/internal/device/cuda"
	"github.com/samcharles93/kprof/internal/device/cuda/native"
	"github.com/samcharles93/kprof/internal/elementwise"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/registry"
	"github.com/samcharles93/kprof/internal/tensor"
)

var errForeignInvocation = errors.New("invocation was not prepared by a cublas kernel")

var algos = []native.BlasGemmAlgo{
	native.BlasGemmDefault,
	native.BlasGemmAlgo0,
	native.BlasGemmAlgo23,
	native.BlasGemmDefaultTensorOp,
	native.BlasGemmAlgo0TensorOp,
	native.BlasGemmAlgo15TensorOp,
}

// types maps a signature onto GemmEx operand and compute types.
type types struct {
	a, b, c native.BlasDataType
	compute native.BlasComputeType
}

func typesFor(sig kernel.Signature) (types, error) {
	if sig.A != sig.B {
		return types{}, fmt.Errorf("cublas needs matching A and B types, got %s and %s", sig.A, sig.B)
	}
	switch {
	case sig.A == tensor.F16 && sig.E == tensor.F16:
		return types{native.BlasF16, native.BlasF16, native.BlasF16, native.BlasComputeF32}, nil
	case sig.A == tensor.BF16 && sig.E == tensor.BF16:
		return types{native.BlasBF16, native.BlasBF16, native.BlasBF16, native.BlasComputeF32}, nil
	case sig.A == tensor.F32 && sig.E == tensor.F32:
		return types{native.BlasF32, native.BlasF32, native.BlasF32, native.BlasComputeF32}, nil
	case sig.A == tensor.F64 && sig.E == tensor.F64:
		return types{native.BlasF64, native.BlasF64, native.BlasF64, native.BlasComputeF64}, nil
	case sig.A == tensor.I8 && sig.E == tensor.I32:
		return types{native.BlasI8, native.BlasI8, native.BlasI32, native.BlasComputeI32}, nil
	default:
		return types{}, fmt.Errorf("cublas has no gemm for %s -> %s", sig.A, sig.E)
	}
}

// Register adds the cuBLAS family for sig. Signatures cuBLAS cannot
// express are skipped without error.
func Register(reg *registry.Registry, dev *cuda.Device, sig kernel.Signature) bool {
	if sig.Kind != kernel.KindGemm || sig.Ds != "" {
		return false
	}
	if _, err := typesFor(sig); err != nil {
		return false
	}
	switch sig.CDEOp {
	case "", "PassThrough", "Scale":
	default:
		return false
	}
	reg.Register(sig, "cublas_gemm_ex", func() []kernel.Candidate {
		out := make([]kernel.Candidate, len(algos))
		for i, a := range algos {
			out[i] = &instance{dev: dev, sig: sig, algo: a}
		}
		return out
	})
	return true
}

type instance struct {
	dev  *cuda.Device
	sig  kernel.Signature
	algo native.BlasGemmAlgo
}

func (c *instance) Name() string {
	return fmt.Sprintf("CublasGemmEx_%s<algo %d>", c.sig.A, int(c.algo))
}

func (c *instance) Supports(p kernel.Problem) bool {
	return supports(c.sig, p)
}

type invocation struct {
	problem kernel.Problem
	launch  func() error
}

func (inv *invocation) Problem() kernel.Problem {
	return inv.problem
}

func trans(l kernel.Layout, want kernel.Layout) native.BlasOp {
	if l == want {
		return native.BlasOpN
	}
	return native.BlasOpT
}

func (c *instance) Prepare(bufs kernel.Buffers, p kernel.Problem, ops kernel.Operators) (kernel.Invocation, error) {
	gp, ok := p.(kernel.GemmProblem)
	if !ok {
		return nil, fmt.Errorf("%s: expected gemm problem, got %s", c.Name(), p.Kind())
	}
	ty, err := typesFor(c.sig)
	if err != nil {
		return nil, err
	}
	a, aok := bufs.A.(*cuda.Buffer)
	b, bok := bufs.B.(*cuda.Buffer)
	e, eok := bufs.E.(*cuda.Buffer)
	if !aok || !bok || !eok {
		return nil, fmt.Errorf("%s: buffers were not allocated on a cuda device", c.Name())
	}
	alpha := 1.0
	if s, ok := ops.CDE.(elementwise.Scale); ok {
		alpha = s.Scale
	}
	lda, ldb, lde := gp.LeadingDims(c.sig)
	h := c.dev.Blas()

	var launch func() error
	if c.sig.ELayout == kernel.Col {
		// Column-major E: E = A * B directly.
		opA, opB := trans(c.sig.ALayout, kernel.Col), trans(c.sig.BLayout, kernel.Col)
		launch = func() error {
			return native.GemmEx(h, opA, opB, gp.M, gp.N, gp.K, alpha, 0,
				a.Native(), ty.a, lda, b.Native(), ty.b, ldb, e.Native(), ty.c, lde, ty.compute, c.algo)
		}
	} else {
		// Row-major E is column-major E^T = B^T * A^T.
		opB, opA := trans(c.sig.BLayout, kernel.Row), trans(c.sig.ALayout, kernel.Row)
		launch = func() error {
			return native.GemmEx(h, opB, opA, gp.N, gp.M, gp.K, alpha, 0,
				b.Native(), ty.b, ldb, a.Native(), ty.a, lda, e.Native(), ty.c, lde, ty.compute, c.algo)
		}
	}

	return &invocation{problem: p, launch: launch}, nil
}

func (c *instance) Run(ctx context.Context, inv kernel.Invocation, cfg kernel.StreamConfig) (float64, error) {
	ci, ok := inv.(*invocation)
	if !ok || ci == nil {
		return 0, errForeignInvocation
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !cfg.TimeKernel {
		if err := guard(ci.launch); err != nil {
			return 0, err
		}
		return 0, c.dev.Synchronize()
	}
	for range cfg.Warmup {
		if err := guard(ci.launch); err != nil {
			return 0, err
		}
	}
	timer, err := c.dev.NewTimer()
	if err != nil {
		return 0, err
	}
	defer timer.Close()
	iters := cfg.Iterations()
	if err := timer.Start(); err != nil {
		return 0, err
	}
	for range iters {
		if err := guard(ci.launch); err != nil {
			return 0, err
		}
	}
	ms, err := timer.Stop()
	if err != nil {
		return 0, err
	}
	return ms / float64(iters), nil
}
