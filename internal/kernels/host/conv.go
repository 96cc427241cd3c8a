package host

import (
	"context"
	"fmt"

	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/tensor"
)

// ConvSpec narrows the input gather of the implicit GEMM.
type ConvSpec uint8

const (
	ConvDefault ConvSpec = iota
	// ConvFilter1x1Pad0 needs 1x1 filters and no padding; strides are free.
	ConvFilter1x1Pad0
	// ConvFilter1x1Stride1Pad0 additionally needs unit strides, which makes
	// the input a plain [N*spatial, C] matrix.
	ConvFilter1x1Stride1Pad0
)

var convSpecNames = [...]string{
	ConvDefault:              "Default",
	ConvFilter1x1Pad0:        "Filter1x1Pad0",
	ConvFilter1x1Stride1Pad0: "Filter1x1Stride1Pad0",
}

func (s ConvSpec) String() string {
	return convSpecNames[s]
}

const maxSpatial = 3

type convInstance struct {
	sig  kernel.Signature
	spec ConvSpec
	tile Tile
}

func convFamily(sig kernel.Signature, spec ConvSpec, tiles []Tile) kernel.Factory {
	return func() []kernel.Candidate {
		out := make([]kernel.Candidate, len(tiles))
		for i, t := range tiles {
			out[i] = convInstance{sig: sig, spec: spec, tile: t.clamped()}
		}
		return out
	}
}

func (c convInstance) Name() string {
	return fmt.Sprintf("HostGroupedConvFwd_%s<%s, %s>", c.sig.A, c.spec, c.tile)
}

func (c convInstance) Supports(p kernel.Problem) bool {
	cp, ok := p.(kernel.ConvProblem)
	if !ok || cp.Validate() != nil {
		return false
	}
	nd := cp.NumDimSpatial()
	if nd > maxSpatial || (c.sig.NumDimSpatial > 0 && nd != c.sig.NumDimSpatial) {
		return false
	}
	switch c.spec {
	case ConvFilter1x1Pad0, ConvFilter1x1Stride1Pad0:
		for d := 0; d < nd; d++ {
			if cp.FilterSpatial[d] != 1 || cp.LeftPads[d] != 0 || cp.RightPads[d] != 0 {
				return false
			}
			if c.spec == ConvFilter1x1Stride1Pad0 && cp.Strides[d] != 1 {
				return false
			}
		}
	}
	m, n, k := convGemmDims(cp)
	if !c.tile.divides(m, n, k) {
		return false
	}
	v := c.tile.Vector
	return cp.C%v == 0 && cp.K%v == 0
}

// convGemmDims is the implicit GEMM: M = N*out, N = K, K = filter*C.
func convGemmDims(p kernel.ConvProblem) (m, n, k int) {
	m = p.N
	for _, o := range p.OutputSpatial() {
		m *= o
	}
	k = p.C
	for _, f := range p.FilterSpatial {
		k *= f
	}
	return m, p.K, k
}

func (c convInstance) Prepare(bufs kernel.Buffers, p kernel.Problem, ops kernel.Operators) (kernel.Invocation, error) {
	cp, ok := p.(kernel.ConvProblem)
	if !ok {
		return nil, fmt.Errorf("%s: expected conv problem, got %s", c.Name(), p.Kind())
	}
	if cp.NumDimSpatial() > maxSpatial {
		return nil, fmt.Errorf("%s: %d spatial dims exceed %d", c.Name(), cp.NumDimSpatial(), maxSpatial)
	}
	b, err := bind(c.sig, cp, bufs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	var exec func()
	switch accFor(c.sig.A) {
	case tensor.I32:
		exec = convExec[int32](c.spec, c.tile, cp, b, ops)
	case tensor.F64:
		exec = convExec[float64](c.spec, c.tile, cp, b, ops)
	default:
		exec = convExec[float32](c.spec, c.tile, cp, b, ops)
	}
	return &invocation{problem: p, exec: exec}, nil
}

func (c convInstance) Run(ctx context.Context, inv kernel.Invocation, cfg kernel.StreamConfig) (float64, error) {
	return run(ctx, inv, cfg)
}

// convGeom holds the decoded problem with spatial dims padded to three.
type convGeom struct {
	nd                  int
	in, out, filter     [maxSpatial]int
	stride, dil, lpad   [maxSpatial]int
	outCount, filterLen int
}

func newConvGeom(p kernel.ConvProblem) convGeom {
	g := convGeom{nd: p.NumDimSpatial(), outCount: 1, filterLen: 1}
	out := p.OutputSpatial()
	for d := 0; d < g.nd; d++ {
		g.in[d] = p.InputSpatial[d]
		g.out[d] = out[d]
		g.filter[d] = p.FilterSpatial[d]
		g.stride[d] = p.Strides[d]
		g.dil[d] = p.Dilations[d]
		g.lpad[d] = p.LeftPads[d]
		g.outCount *= out[d]
		g.filterLen *= p.FilterSpatial[d]
	}
	return g
}

// split decodes a GEMM row into the batch index and output coordinates.
func (g *convGeom) split(m int) (n int, o [maxSpatial]int) {
	n = m / g.outCount
	r := m % g.outCount
	for d := g.nd - 1; d >= 0; d-- {
		o[d] = r % g.out[d]
		r /= g.out[d]
	}
	return n, o
}

// outAffine maps a [G,N,K,out...] descriptor (E or a D) onto GEMM rows
// (n, out) and columns k.
func (g *convGeom) outAffine(d tensor.Descriptor, k int) affine {
	sG, sN, sK := d.Strides[0], d.Strides[1], d.Strides[2]
	so := d.Strides[3:]
	geom := g
	return affine{
		outer: func(grp, m int) int {
			n, o := geom.split(m)
			off := grp*sG + n*sN
			for i := 0; i < geom.nd; i++ {
				off += o[i] * so[i]
			}
			return off
		},
		inner: linear(k, sK),
	}
}

func convExec[A acc](spec ConvSpec, t Tile, p kernel.ConvProblem, b bindings, ops kernel.Operators) func() {
	geom := newConvGeom(p)
	m, n, k := convGemmDims(p)

	in := b.a.desc
	sG, sN, sC := in.Strides[0], in.Strides[1], in.Strides[2]
	sI := in.Strides[3:]
	rdA := readerFor[A](b.a.dt, b.a.raw, ops.A)
	rdB := readerFor[A](b.b.dt, b.b.raw, ops.B)

	// Weights: rows are (filter, c) with c fastest, columns are K.
	wei := b.b.desc
	wG := wei.Strides[0]
	wRow := make([]int, k)
	fCoord := make([][maxSpatial]int, k)
	cOff := make([]int, k)
	for kk := 0; kk < k; kk++ {
		c := kk % p.C
		f := kk / p.C
		var fc [maxSpatial]int
		for d := geom.nd - 1; d >= 0; d-- {
			fc[d] = f % geom.filter[d]
			f /= geom.filter[d]
		}
		off := c * wei.Strides[2]
		for d := 0; d < geom.nd; d++ {
			off += fc[d] * wei.Strides[3+d]
			fc[d] *= geom.dil[d]
		}
		wRow[kk] = off
		fCoord[kk] = fc
		cOff[kk] = c * sC
	}
	bAff := affine{
		outer: func(grp, kk int) int { return grp*wG + wRow[kk] },
		inner: linear(n, wei.Strides[1]),
	}

	var packA func(dst []A, g, m0, mn, k0, kn int)
	switch spec {
	case ConvFilter1x1Stride1Pad0:
		rows := make([]int, m)
		for i := range rows {
			nn, o := geom.split(i)
			off := nn * sN
			for d := 0; d < geom.nd; d++ {
				off += o[d] * sI[d]
			}
			rows[i] = off
		}
		aAff := affine{
			outer: func(grp, i int) int { return grp*sG + rows[i] },
			inner: cOff,
		}
		packA = func(dst []A, g, m0, mn, k0, kn int) { pack(dst, rdA, aAff, g, m0, mn, k0, kn) }
	case ConvFilter1x1Pad0:
		aAff := affine{
			outer: func(grp, i int) int {
				nn, o := geom.split(i)
				off := grp*sG + nn*sN
				for d := 0; d < geom.nd; d++ {
					off += o[d] * geom.stride[d] * sI[d]
				}
				return off
			},
			inner: cOff,
		}
		packA = func(dst []A, g, m0, mn, k0, kn int) { pack(dst, rdA, aAff, g, m0, mn, k0, kn) }
	default:
		packA = func(dst []A, g, m0, mn, k0, kn int) {
			for i := 0; i < mn; i++ {
				nn, o := geom.split(m0 + i)
				base := g*sG + nn*sN
				var org [maxSpatial]int
				for d := 0; d < geom.nd; d++ {
					org[d] = o[d]*geom.stride[d] - geom.lpad[d]
				}
				row := dst[i*kn : i*kn+kn]
			cols:
				for j := range row {
					kk := k0 + j
					off := base + cOff[kk]
					for d := 0; d < geom.nd; d++ {
						x := org[d] + fCoord[kk][d]
						if x < 0 || x >= geom.in[d] {
							row[j] = 0
							continue cols
						}
						off += x * sI[d]
					}
					row[j] = rdA(off)
				}
			}
		}
	}

	dAffs := make([]affine, len(b.ds))
	for i, d := range b.ds {
		dAffs[i] = geom.outAffine(d.desc, n)
	}
	pl := &gemmPlan[A]{
		batch: p.G, m: m, n: n, k: k,
		tile:  t,
		packA: packA,
		packB: func(dst []A, g, k0, kn, n0, nn int) {
			pack(dst, rdB, bAff, g, k0, kn, n0, nn)
		},
		ep: newEpilogue(b.e, b.ds, ops.CDE, geom.outAffine(b.e.desc, n), dAffs),
		ws: newWorkspaces[A](planWorkers(t), t, len(b.ds)),
	}
	return pl.execute
}
