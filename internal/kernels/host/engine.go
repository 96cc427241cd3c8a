package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/x448/float16"

	"github.com/samcharles93/kprof/internal/device"
	"github.com/samcharles93/kprof/internal/elementwise"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/tensor"
)

var errForeignInvocation = errors.New("invocation was not prepared by a host kernel")

// acc is the accumulator type of a tiled GEMM: int32 for integer inputs,
// float32 for half and single precision, float64 for double.
type acc interface {
	~int32 | ~float32 | ~float64
}

// accFor picks the accumulator data type for an input type.
func accFor(dt tensor.DataType) tensor.DataType {
	switch dt {
	case tensor.I8, tensor.I32:
		return tensor.I32
	case tensor.F64:
		return tensor.F64
	default:
		return tensor.F32
	}
}

// readerFor decodes storage element off of raw into A. A non-trivial op is
// applied in float64 before the conversion.
func readerFor[A acc](dt tensor.DataType, raw []byte, op elementwise.Op) func(off int) A {
	var rd func(int) A
	switch dt {
	case tensor.I8:
		rd = func(off int) A { return A(int8(raw[off])) }
	case tensor.I32:
		v := tensor.View[int32](raw)
		rd = func(off int) A { return A(v[off]) }
	case tensor.F16:
		v := tensor.View[float16.Float16](raw)
		rd = func(off int) A { return A(tensor.F16ToF32(v[off])) }
	case tensor.BF16:
		v := tensor.View[tensor.BFloat16](raw)
		rd = func(off int) A { return A(v[off].Float32()) }
	case tensor.F32:
		v := tensor.View[float32](raw)
		rd = func(off int) A { return A(v[off]) }
	case tensor.F64:
		v := tensor.View[float64](raw)
		rd = func(off int) A { return A(v[off]) }
	default:
		panic(fmt.Sprintf("host: no reader for %s", dt))
	}
	if op == nil || op.Name() == (elementwise.PassThrough{}).Name() {
		return rd
	}
	return func(off int) A {
		return A(op.Apply(float64(rd(off)), nil))
	}
}

// affine splits an operand offset into a per-row part computed once per
// tile row and a per-column part looked up from a table.
type affine struct {
	outer func(g, i int) int
	inner []int
}

func linear(n, stride int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i * stride
	}
	return out
}

// pack copies rows [r0, r0+rn) x cols [c0, c0+cn) into dst row-major.
func pack[A acc](dst []A, rd func(int) A, a affine, g, r0, rn, c0, cn int) {
	inner := a.inner[c0 : c0+cn]
	for i := 0; i < rn; i++ {
		base := a.outer(g, r0+i)
		row := dst[i*cn : i*cn+cn]
		for j, off := range inner {
			row[j] = rd(base + off)
		}
	}
}

// microKernel accumulates c[mn x nn] += a[mn x kn] * b[kn x nn].
func microKernel[A acc](c, a, b []A, mn, nn, kn int) {
	for i := 0; i < mn; i++ {
		ci := c[i*nn : i*nn+nn]
		ai := a[i*kn : i*kn+kn]
		for kk, av := range ai {
			if av == 0 {
				continue
			}
			bk := b[kk*nn : kk*nn+nn]
			for j := range ci {
				ci[j] += av * bk[j]
			}
		}
	}
}

type workspace[A acc] struct {
	a, b, c []A
	ds      []float64
	dbase   []int
}

func newWorkspaces[A acc](workers int, t Tile, numD int) []workspace[A] {
	ws := make([]workspace[A], workers)
	for i := range ws {
		ws[i] = workspace[A]{
			a:     make([]A, t.M*t.K),
			b:     make([]A, t.K*t.N),
			c:     make([]A, t.M*t.N),
			ds:    make([]float64, numD),
			dbase: make([]int, numD),
		}
	}
	return ws
}

// epilogue applies the CDE operator to an accumulator tile and stores it.
type epilogue struct {
	e     affine
	write func(off int, v float64)
	ds    []affine
	dread []func(off int) float64
	op    elementwise.Op
}

func newEpilogue(e tensorBinding, ds []tensorBinding, op elementwise.Op, eAff affine, dAffs []affine) epilogue {
	ep := epilogue{
		e:     eAff,
		write: func(off int, v float64) { e.dt.Store(e.raw, off, v) },
		ds:    dAffs,
		op:    kernel.Or(op),
	}
	for _, d := range ds {
		ep.dread = append(ep.dread, func(off int) float64 { return d.dt.Load(d.raw, off) })
	}
	return ep
}

func storeTile[A acc](ep *epilogue, ws *workspace[A], g, m0, mn, n0, nn int) {
	einner := ep.e.inner[n0 : n0+nn]
	for i := 0; i < mn; i++ {
		ebase := ep.e.outer(g, m0+i)
		row := ws.c[i*nn : i*nn+nn]
		if len(ep.ds) == 0 {
			for j, off := range einner {
				ep.write(ebase+off, ep.op.Apply(float64(row[j]), nil))
			}
			continue
		}
		for d, aff := range ep.ds {
			ws.dbase[d] = aff.outer(g, m0+i)
		}
		for j, off := range einner {
			for d, aff := range ep.ds {
				ws.ds[d] = ep.dread[d](ws.dbase[d] + aff.inner[n0+j])
			}
			ep.write(ebase+off, ep.op.Apply(float64(row[j]), ws.ds))
		}
	}
}

// gemmPlan is a batched implicit GEMM: batch x (m x k) * (k x n).
type gemmPlan[A acc] struct {
	batch, m, n, k int
	tile           Tile
	packA          func(dst []A, g, m0, mn, k0, kn int)
	packB          func(dst []A, g, k0, kn, n0, nn int)
	ep             epilogue
	ws             []workspace[A]
}

func (pl *gemmPlan[A]) execute() {
	t := pl.tile
	mTiles := (pl.m + t.M - 1) / t.M
	nTiles := (pl.n + t.N - 1) / t.N
	perBatch := mTiles * nTiles
	workPool.parallelFor(pl.batch*perBatch, len(pl.ws), func(w, lo, hi int) {
		ws := &pl.ws[w]
		for idx := lo; idx < hi; idx++ {
			g := idx / perBatch
			r := idx % perBatch
			m0 := (r / nTiles) * t.M
			n0 := (r % nTiles) * t.N
			mn := min(t.M, pl.m-m0)
			nn := min(t.N, pl.n-n0)
			c := ws.c[:mn*nn]
			clear(c)
			for k0 := 0; k0 < pl.k; k0 += t.K {
				kn := min(t.K, pl.k-k0)
				a := ws.a[:mn*kn]
				b := ws.b[:kn*nn]
				pl.packA(a, g, m0, mn, k0, kn)
				pl.packB(b, g, k0, kn, n0, nn)
				microKernel(c, a, b, mn, nn, kn)
			}
			storeTile(&pl.ep, ws, g, m0, mn, n0, nn)
		}
	})
}

func planWorkers(t Tile) int {
	if t.Workers > 0 {
		return min(t.Workers, workPool.size)
	}
	return workPool.size
}

// tensorBinding is one operand's host memory with its logical view.
type tensorBinding struct {
	dt   tensor.DataType
	desc tensor.Descriptor
	raw  []byte
}

// bindings resolves every operand of p against the buffers, checking that
// each buffer covers its operand's element space.
type bindings struct {
	a, b, b1, e tensorBinding
	ds          []tensorBinding
}

func bind(sig kernel.Signature, p kernel.Problem, bufs kernel.Buffers) (bindings, error) {
	var out bindings
	for _, op := range p.Operands(sig) {
		var buf device.Buffer
		switch op.Role {
		case kernel.RoleA:
			buf = bufs.A
		case kernel.RoleB:
			buf = bufs.B
		case kernel.RoleB1:
			buf = bufs.B1
		case kernel.RoleE:
			buf = bufs.E
		default:
			i := len(out.ds)
			if i >= len(bufs.Ds) {
				return bindings{}, fmt.Errorf("missing buffer for operand %s", op.Role)
			}
			buf = bufs.Ds[i]
		}
		raw, err := device.HostBytes(buf)
		if err != nil {
			return bindings{}, fmt.Errorf("operand %s: %w", op.Role, err)
		}
		if int64(len(raw)) < op.Bytes() {
			return bindings{}, fmt.Errorf("operand %s: buffer holds %d bytes, need %d", op.Role, len(raw), op.Bytes())
		}
		tb := tensorBinding{dt: op.DType, desc: op.Desc, raw: raw}
		switch op.Role {
		case kernel.RoleA:
			out.a = tb
		case kernel.RoleB:
			out.b = tb
		case kernel.RoleB1:
			out.b1 = tb
		case kernel.RoleE:
			out.e = tb
		default:
			out.ds = append(out.ds, tb)
		}
	}
	return out, nil
}

// invocation is the bound argument set of every host kernel.
type invocation struct {
	problem kernel.Problem
	exec    func()
}

func (inv *invocation) Problem() kernel.Problem {
	return inv.problem
}

// run executes inv once, or Warmup times plus Repeat timed iterations when
// timing is enabled, returning the mean iteration time in ms.
func run(ctx context.Context, inv kernel.Invocation, cfg kernel.StreamConfig) (float64, error) {
	hi, ok := inv.(*invocation)
	if !ok || hi == nil {
		return 0, errForeignInvocation
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !cfg.TimeKernel {
		hi.exec()
		return 0, nil
	}
	for range cfg.Warmup {
		hi.exec()
	}
	iters := cfg.Iterations()
	start := time.Now()
	for range iters {
		hi.exec()
	}
	elapsed := time.Since(start)
	return float64(elapsed.Nanoseconds()) / 1e6 / float64(iters), nil
}
