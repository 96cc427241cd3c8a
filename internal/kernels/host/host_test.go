package host

import (
	"context"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/kprof/internal/device"
	"github.com/samcharles93/kprof/internal/elementwise"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/reference"
	"github.com/samcharles93/kprof/internal/registry"
	"github.com/samcharles93/kprof/internal/tensor"
	"github.com/samcharles93/kprof/internal/verify"
)

// harness owns host buffers for one problem and checks candidates
// against the reference.
type harness struct {
	t      *testing.T
	sig    kernel.Signature
	p      kernel.Problem
	ops    kernel.Operators
	dev    *device.Host
	arena  *device.Arena
	bufs   kernel.Buffers
	inputs reference.Inputs
	want   *tensor.Tensor
	eOp    kernel.Operand
}

func newHarness(t *testing.T, sig kernel.Signature, p kernel.Problem, ops kernel.Operators) *harness {
	t.Helper()
	h := &harness{t: t, sig: sig, p: p, ops: ops, dev: device.NewHost()}
	h.arena = device.NewArena(h.dev)
	t.Cleanup(func() {
		require.NoError(t, h.arena.Release())
		require.Zero(t, h.dev.Live())
	})

	seed := uint64(1)
	for _, op := range p.Operands(sig) {
		if op.Role == kernel.RoleE {
			h.eOp = op
			h.bufs.E = must.M1(h.arena.Alloc(op.Bytes()))
			continue
		}
		in := tensor.New(op.DType, op.Desc)
		if op.DType.IsInteger() {
			tensor.FillUniform(in, -5, 5, seed)
		} else {
			tensor.FillUniform(in, -0.5, 0.5, seed)
		}
		seed++
		buf := must.M1(h.arena.AllocFrom(in.Raw))
		switch op.Role {
		case kernel.RoleA:
			h.bufs.A, h.inputs.A = buf, in
		case kernel.RoleB:
			h.bufs.B, h.inputs.B = buf, in
		case kernel.RoleB1:
			h.bufs.B1, h.inputs.B1 = buf, in
		default:
			h.bufs.Ds = append(h.bufs.Ds, buf)
			h.inputs.Ds = append(h.inputs.Ds, in)
		}
	}
	h.want = must.M1(reference.Compute(sig, p, ops, h.inputs))
	return h
}

// check runs c untimed and compares its output with the reference.
func (h *harness) check(c kernel.Candidate, tol verify.Tolerance) verify.Report {
	h.t.Helper()
	inv, err := c.Prepare(h.bufs, h.p, h.ops)
	require.NoError(h.t, err, c.Name())
	ms, err := c.Run(context.Background(), inv, kernel.StreamConfig{})
	require.NoError(h.t, err, c.Name())
	require.Zero(h.t, ms)

	raw := tensor.AlignedBytes(int(h.eOp.Bytes()))
	require.NoError(h.t, h.dev.Download(raw, h.bufs.E))
	got := must.M1(tensor.FromRaw(h.eOp.DType, h.eOp.Desc, raw))
	return verify.Compare(got, h.want, tol)
}

func (h *harness) checkAll(tol verify.Tolerance) (supported int) {
	h.t.Helper()
	reg := registry.New()
	require.NoError(h.t, Register(reg, h.sig))
	for _, c := range reg.Instances(h.sig) {
		if !c.Supports(h.p) {
			continue
		}
		supported++
		rep := h.check(c, tol)
		require.True(h.t, rep.OK, "%s: %s", c.Name(), rep)
	}
	return supported
}

func TestQuantGemmMatchesReferenceExactly(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{
		Kind: kernel.KindGemm,
		A:    tensor.I8, B: tensor.I8, E: tensor.I8,
		ALayout: kernel.Row, BLayout: kernel.Col, ELayout: kernel.Row,
		CDEOp: "Mul_Clamp",
	}
	p := kernel.GemmProblem{M: 128, N: 128, K: 64}
	ops := kernel.Operators{CDE: elementwise.MulClamp{RequantScale: 0.03}}
	h := newHarness(t, sig, p, ops)
	require.Greater(t, h.checkAll(verify.Tolerance{}), 1)
}

func TestGemmF16RaggedUsesPaddedTiles(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{
		Kind: kernel.KindGemm,
		A:    tensor.F16, B: tensor.F16, E: tensor.F16,
		ALayout: kernel.Row, BLayout: kernel.Row, ELayout: kernel.Row,
	}
	p := kernel.GemmProblem{M: 37, N: 45, K: 29}
	h := newHarness(t, sig, p, kernel.Operators{})

	reg := registry.New()
	require.NoError(t, Register(reg, sig))
	var names []string
	for _, c := range reg.Instances(sig) {
		if c.Supports(p) {
			names = append(names, c.Name())
			require.True(t, h.check(c, verify.DefaultTolerance(tensor.F16)).OK, c.Name())
		}
	}
	require.NotEmpty(t, names)
	for _, n := range names {
		require.Contains(t, n, "MNKPadding")
	}
}

func TestGemmSupportDivisibility(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{Kind: kernel.KindGemm, A: tensor.F32, B: tensor.F32, E: tensor.F32,
		ALayout: kernel.Row, BLayout: kernel.Col, ELayout: kernel.Row}
	exact := gemmInstance{sig: sig, tile: Tile{M: 64, N: 64, K: 32, Vector: 8}.clamped()}
	padded := gemmInstance{sig: sig, tile: Tile{M: 64, N: 64, K: 32, Vector: 1, Spec: GemmMNKPadding}.clamped()}

	require.True(t, exact.Supports(kernel.GemmProblem{M: 128, N: 64, K: 64}))
	require.False(t, exact.Supports(kernel.GemmProblem{M: 100, N: 64, K: 64}))
	require.False(t, exact.Supports(kernel.GemmProblem{M: 128, N: 64, K: 64, StrideA: 68}))
	require.True(t, padded.Supports(kernel.GemmProblem{M: 100, N: 3, K: 7}))
	require.False(t, padded.Supports(kernel.ConvProblem{}))
}

func smallConv(filter, stride, pad int) kernel.ConvProblem {
	return kernel.ConvProblem{
		G: 2, N: 2, K: 32, C: 16,
		InputSpatial:  []int{9, 9},
		FilterSpatial: []int{filter, filter},
		Strides:       []int{stride, stride},
		Dilations:     []int{1, 1},
		LeftPads:      []int{pad, pad},
		RightPads:     []int{pad, pad},
	}
}

func TestConvPerChannelQuantMatchesReference(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{
		Kind: kernel.KindGroupedConvFwd, NumDimSpatial: 2,
		A: tensor.I8, B: tensor.I8, E: tensor.I8,
		Ds:       kernel.DTuple(tensor.I32, tensor.F32),
		DsLayout: kernel.LayoutTuple(kernel.GK, kernel.GK),
		ALayout:  kernel.NHWGC, BLayout: kernel.GKYXC, ELayout: kernel.NHWGK,
		CDEOp: "Add_Activation_Mul2_Clamp<Relu>",
	}
	p := smallConv(3, 2, 1)
	ops := kernel.Operators{CDE: elementwise.AddActivationMul2Clamp{Act: elementwise.Relu{}}}
	h := newHarness(t, sig, p, ops)
	require.Positive(t, h.checkAll(verify.Tolerance{}))
}

func TestConvSpecialisations(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{
		Kind: kernel.KindGroupedConvFwd, NumDimSpatial: 2,
		A: tensor.F32, B: tensor.F32, E: tensor.F32,
		ALayout: kernel.GNHWC, BLayout: kernel.GKYXC, ELayout: kernel.GNHWK,
	}
	tile := Tile{M: 32, N: 32, K: 16, Vector: 1, Spec: GemmMNKPadding}
	tests := []struct {
		name string
		p    kernel.ConvProblem
		spec map[ConvSpec]bool
	}{
		{"3x3", smallConv(3, 1, 1), map[ConvSpec]bool{
			ConvDefault: true, ConvFilter1x1Pad0: false, ConvFilter1x1Stride1Pad0: false}},
		{"1x1 stride 2", smallConv(1, 2, 0), map[ConvSpec]bool{
			ConvDefault: true, ConvFilter1x1Pad0: true, ConvFilter1x1Stride1Pad0: false}},
		{"1x1 stride 1", smallConv(1, 1, 0), map[ConvSpec]bool{
			ConvDefault: true, ConvFilter1x1Pad0: true, ConvFilter1x1Stride1Pad0: true}},
	}
	for _, tc := range tests {
		h := newHarness(t, sig, tc.p, kernel.Operators{})
		for spec, want := range tc.spec {
			c := convInstance{sig: sig, spec: spec, tile: tile.clamped()}
			require.Equal(t, want, c.Supports(tc.p), "%s %s", tc.name, spec)
			if want {
				rep := h.check(c, verify.DefaultTolerance(tensor.F32))
				require.True(t, rep.OK, "%s %s: %s", tc.name, spec, rep)
			}
		}
	}
}

func TestConvVectorWidthGatesSupport(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{Kind: kernel.KindGroupedConvFwd, NumDimSpatial: 2,
		A: tensor.F16, B: tensor.F16, E: tensor.F16,
		ALayout: kernel.NHWGC, BLayout: kernel.GKYXC, ELayout: kernel.NHWGK}
	p := smallConv(3, 1, 1)
	p.C = 12
	wide := convInstance{sig: sig, tile: Tile{M: 32, N: 32, K: 4, Vector: 8, Spec: GemmMNKPadding}.clamped()}
	narrow := convInstance{sig: sig, tile: Tile{M: 32, N: 32, K: 4, Vector: 4, Spec: GemmMNKPadding}.clamped()}
	require.False(t, wide.Supports(p))
	require.True(t, narrow.Supports(p))
}

func TestAttentionMatchesReference(t *testing.T) {
	t.Parallel()

	for _, masked := range []bool{false, true} {
		sig := kernel.Signature{
			Kind: kernel.KindBatchedGemmSoftmaxGemm,
			A:    tensor.F16, B: tensor.F16, B1: tensor.F16, E: tensor.F16,
			Ds:       kernel.DTuple(tensor.F16),
			DsLayout: kernel.LayoutTuple(kernel.GMN),
			ALayout:  kernel.GMK, BLayout: kernel.GNK, B1Layout: kernel.GNO, ELayout: kernel.GMO,
			AccOp:  "ScaleAdd",
			Masked: masked,
		}
		p := kernel.AttentionProblem{G0: 2, G1: 2, M: 64, N: 64, K: 32, O: 32}
		ops := kernel.Operators{Acc: elementwise.ScaleAdd{Scale: 0.125}}
		h := newHarness(t, sig, p, ops)
		require.Positive(t, h.checkAll(verify.Tolerance{RTol: 1e-2, ATol: 1e-2}))
	}
}

func TestAttentionRequiresBiasForScaleAdd(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{
		Kind: kernel.KindBatchedGemmSoftmaxGemm,
		A:    tensor.F16, B: tensor.F16, B1: tensor.F16, E: tensor.F16,
		ALayout: kernel.GMK, BLayout: kernel.GNK, B1Layout: kernel.GNO, ELayout: kernel.GMO,
	}
	p := kernel.AttentionProblem{G0: 1, G1: 1, M: 32, N: 32, K: 8, O: 8}
	h := newHarness(t, sig, p, kernel.Operators{})
	c := attentionInstance{sig: sig, tile: attentionTiles[0].clamped()}
	_, err := c.Prepare(h.bufs, p, kernel.Operators{Acc: elementwise.ScaleAdd{Scale: 1}})
	require.Error(t, err)
}

func TestContractionBilinearMatchesReference(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{
		Kind: kernel.KindContractionBilinear,
		A:    tensor.F64, B: tensor.F64, E: tensor.F64,
		Ds:       kernel.DTuple(tensor.F64),
		DsLayout: kernel.LayoutTuple(kernel.NN),
		ALayout:  kernel.KK, BLayout: kernel.KK, ELayout: kernel.NN,
		CDEOp: "Bilinear",
	}
	p := kernel.ContractionProblem{M0: 4, M1: 16, N0: 8, N1: 16, K0: 4, K1: 16}
	ops := kernel.Operators{CDE: elementwise.Bilinear{Alpha: 1, Beta: 1}}
	h := newHarness(t, sig, p, ops)
	require.Positive(t, h.checkAll(verify.DefaultTolerance(tensor.F64)))
}

func TestTimedRunReportsPositiveTime(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{Kind: kernel.KindGemm, A: tensor.F32, B: tensor.F32, E: tensor.F32,
		ALayout: kernel.Row, BLayout: kernel.Row, ELayout: kernel.Row}
	p := kernel.GemmProblem{M: 64, N: 64, K: 64}
	h := newHarness(t, sig, p, kernel.Operators{})
	c := gemmInstance{sig: sig, tile: Tile{M: 32, N: 32, K: 32, Vector: 1}.clamped()}
	inv, err := c.Prepare(h.bufs, p, kernel.Operators{})
	require.NoError(t, err)
	ms, err := c.Run(context.Background(), inv, kernel.StreamConfig{TimeKernel: true, Warmup: 1, Repeat: 3})
	require.NoError(t, err)
	require.Greater(t, ms, 0.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Run(ctx, inv, kernel.StreamConfig{TimeKernel: true})
	require.ErrorIs(t, err, context.Canceled)
}

func TestUntimedRerunIsBitIdentical(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{
		Kind: kernel.KindGemm,
		A:    tensor.I8, B: tensor.I8, E: tensor.I8,
		ALayout: kernel.Row, BLayout: kernel.Col, ELayout: kernel.Row,
		CDEOp: "Mul_Clamp",
	}
	p := kernel.GemmProblem{M: 64, N: 96, K: 32}
	ops := kernel.Operators{CDE: elementwise.MulClamp{RequantScale: 0.05}}
	h := newHarness(t, sig, p, ops)

	reg := registry.New()
	require.NoError(t, Register(reg, sig))
	for _, c := range reg.Instances(sig) {
		if !c.Supports(p) {
			continue
		}
		inv := must.M1(c.Prepare(h.bufs, p, ops))
		_, err := c.Run(context.Background(), inv, kernel.StreamConfig{TimeKernel: true, Repeat: 2})
		require.NoError(t, err)
		timed := tensor.AlignedBytes(int(h.eOp.Bytes()))
		require.NoError(t, h.dev.Download(timed, h.bufs.E))

		inv = must.M1(c.Prepare(h.bufs, p, ops))
		_, err = c.Run(context.Background(), inv, kernel.StreamConfig{})
		require.NoError(t, err)
		untimed := tensor.AlignedBytes(int(h.eOp.Bytes()))
		require.NoError(t, h.dev.Download(untimed, h.bufs.E))

		require.Equal(t, timed, untimed, c.Name())
	}
}

func TestFamiliesRejectUnknownKinds(t *testing.T) {
	t.Parallel()

	_, err := Families(kernel.Signature{Kind: kernel.Kind(99), A: tensor.F32, B: tensor.F32, E: tensor.F32})
	require.Error(t, err)
	_, err = Families(kernel.Signature{Kind: kernel.KindGemm, A: tensor.F32, E: tensor.F32})
	require.Error(t, err)
}

func TestParallelForCoversRange(t *testing.T) {
	t.Parallel()

	p := newPool(4)
	hits := make([]int, 103)
	p.parallelFor(len(hits), 4, func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			hits[i]++
		}
	})
	for i, h := range hits {
		require.Equal(t, 1, h, "index %d", i)
	}
}
