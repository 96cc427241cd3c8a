package host

import (
	"context"
	"fmt"

	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/tensor"
)

// contractionInstance folds the two M, N and K modes into a single GEMM.
type contractionInstance struct {
	sig  kernel.Signature
	tile Tile
}

func contractionFamily(sig kernel.Signature, tiles []Tile) kernel.Factory {
	return func() []kernel.Candidate {
		out := make([]kernel.Candidate, len(tiles))
		for i, t := range tiles {
			out[i] = contractionInstance{sig: sig, tile: t.clamped()}
		}
		return out
	}
}

func (c contractionInstance) Name() string {
	return fmt.Sprintf("HostContraction_%s<%s>", c.sig.A, c.tile)
}

func (c contractionInstance) Supports(p kernel.Problem) bool {
	cp, ok := p.(kernel.ContractionProblem)
	if !ok || cp.Validate() != nil {
		return false
	}
	m, n, k := cp.Dims()
	if !c.tile.divides(m, n, k) {
		return false
	}
	v := c.tile.Vector
	if v == 1 {
		return true
	}
	// KKNN: A and B vectorize along K1, D and E along N1.
	for _, op := range cp.Operands(c.sig) {
		if op.Desc.Strides[3] != 1 || op.Desc.Lengths[3]%v != 0 {
			return false
		}
	}
	return true
}

func (c contractionInstance) Prepare(bufs kernel.Buffers, p kernel.Problem, ops kernel.Operators) (kernel.Invocation, error) {
	cp, ok := p.(kernel.ContractionProblem)
	if !ok {
		return nil, fmt.Errorf("%s: expected contraction problem, got %s", c.Name(), p.Kind())
	}
	b, err := bind(c.sig, cp, bufs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	var exec func()
	switch accFor(c.sig.A) {
	case tensor.I32:
		exec = contractionExec[int32](c.tile, cp, b, ops)
	case tensor.F64:
		exec = contractionExec[float64](c.tile, cp, b, ops)
	default:
		exec = contractionExec[float32](c.tile, cp, b, ops)
	}
	return &invocation{problem: p, exec: exec}, nil
}

func (c contractionInstance) Run(ctx context.Context, inv kernel.Invocation, cfg kernel.StreamConfig) (float64, error) {
	return run(ctx, inv, cfg)
}

// modes maps a flat index over two modes of lengths [_, l1] to an offset.
func modes(n, l1, s0, s1 int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i/l1)*s0 + (i%l1)*s1
	}
	return out
}

func contractionExec[A acc](t Tile, p kernel.ContractionProblem, b bindings, ops kernel.Operators) func() {
	m, n, k := p.Dims()
	rowAffine := func(d tensor.Descriptor, rows, l1 int, cols, c1 int) affine {
		outer := modes(rows, l1, d.Strides[0], d.Strides[1])
		return affine{
			outer: func(_, i int) int { return outer[i] },
			inner: modes(cols, c1, d.Strides[2], d.Strides[3]),
		}
	}
	// A is [M0,M1,K0,K1]; B is [N0,N1,K0,K1] read transposed as K x N.
	aAff := rowAffine(b.a.desc, m, p.M1, k, p.K1)
	bs := b.b.desc.Strides
	bOuter := modes(k, p.K1, bs[2], bs[3])
	bAff := affine{
		outer: func(_, i int) int { return bOuter[i] },
		inner: modes(n, p.N1, bs[0], bs[1]),
	}
	eAff := rowAffine(b.e.desc, m, p.M1, n, p.N1)
	dAffs := make([]affine, len(b.ds))
	for i, d := range b.ds {
		dAffs[i] = rowAffine(d.desc, m, p.M1, n, p.N1)
	}
	rdA := readerFor[A](b.a.dt, b.a.raw, ops.A)
	rdB := readerFor[A](b.b.dt, b.b.raw, ops.B)

	pl := &gemmPlan[A]{
		batch: 1, m: m, n: n, k: k,
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
