package host

import (
	"context"
	"fmt"

	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/tensor"
)

// gemmInstance is one row of the GEMM table bound to a signature. Integer
// inputs accumulate in int32, everything else in float32 or float64.
type gemmInstance struct {
	sig  kernel.Signature
	tile Tile
}

func gemmFamily(sig kernel.Signature, tiles []Tile) kernel.Factory {
	return func() []kernel.Candidate {
		out := make([]kernel.Candidate, len(tiles))
		for i, t := range tiles {
			out[i] = gemmInstance{sig: sig, tile: t.clamped()}
		}
		return out
	}
}

func (g gemmInstance) Name() string {
	return fmt.Sprintf("HostGemm_%s<%s>", g.sig.A, g.tile)
}

func (g gemmInstance) Supports(p kernel.Problem) bool {
	gp, ok := p.(kernel.GemmProblem)
	if !ok || gp.Validate() != nil {
		return false
	}
	if !g.tile.divides(gp.M, gp.N, gp.K) {
		return false
	}
	v := g.tile.Vector
	if v == 1 {
		return true
	}
	lda, ldb, _ := gp.LeadingDims(g.sig)
	// Vector loads run along the contiguous dimension of each operand.
	aLen := pick(g.sig.ALayout == kernel.Col, gp.M, gp.K)
	bLen := pick(g.sig.BLayout == kernel.Col, gp.K, gp.N)
	return aLen%v == 0 && bLen%v == 0 && lda%v == 0 && ldb%v == 0
}

func (g gemmInstance) Prepare(bufs kernel.Buffers, p kernel.Problem, ops kernel.Operators) (kernel.Invocation, error) {
	gp, ok := p.(kernel.GemmProblem)
	if !ok {
		return nil, fmt.Errorf("%s: expected gemm problem, got %s", g.Name(), p.Kind())
	}
	b, err := bind(g.sig, gp, bufs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.Name(), err)
	}
	var exec func()
	switch accFor(g.sig.A) {
	case tensor.I32:
		exec = gemmExec[int32](g.tile, gp, b, ops)
	case tensor.F64:
		exec = gemmExec[float64](g.tile, gp, b, ops)
	default:
		exec = gemmExec[float32](g.tile, gp, b, ops)
	}
	return &invocation{problem: p, exec: exec}, nil
}

func (g gemmInstance) Run(ctx context.Context, inv kernel.Invocation, cfg kernel.StreamConfig) (float64, error) {
	return run(ctx, inv, cfg)
}

func gemmExec[A acc](t Tile, p kernel.GemmProblem, b bindings, ops kernel.Operators) func() {
	aAff, bAff, eAff := matAffine(b.a.desc), matAffine(b.b.desc), matAffine(b.e.desc)
	dAffs := make([]affine, len(b.ds))
	for i, d := range b.ds {
		dAffs[i] = matAffine(d.desc)
	}
	rdA := readerFor[A](b.a.dt, b.a.raw, ops.A)
	rdB := readerFor[A](b.b.dt, b.b.raw, ops.B)

	pl := &gemmPlan[A]{
		batch: 1, m: p.M, n: p.N, k: p.K,
		tile: t,
		packA: func(dst []A, g, m0, mn, k0, kn int) {
			pack(dst, rdA, aAff, g, m0, mn, k0, kn)
		},
		packB: func(dst []A, g, k0, kn, n0, nn int) {
			pack(dst, rdB, bAff, g, k0, kn, n0, nn)
		},
		ep: newEpilogue(b.e, b.ds, ops.CDE, eAff, dAffs),
		ws: newWorkspaces[A](planWorkers(t), t, len(b.ds)),
	}
	return pl.execute
}

// matAffine maps a rank-2 descriptor: rows are the outer index, columns
// the inner one.
func matAffine(d tensor.Descriptor) affine {
	s0 := d.Strides[0]
	return affine{
		outer: func(_, i int) int { return i * s0 },
		inner: linear(d.Lengths[1], d.Strides[1]),
	}
}

func pick(cond bool, a, b int) int {
	if cond {
		return a
	}
	return b
}
