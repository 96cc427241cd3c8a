package reference

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/kprof/internal/elementwise"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/tensor"
)

func filled(dt tensor.DataType, desc tensor.Descriptor, vals ...float64) *tensor.Tensor {
	t := tensor.New(dt, desc)
	i := 0
	desc.ForEach(func(idx []int) {
		t.Set(vals[i], idx...)
		i++
	})
	return t
}

func TestGemmColumnMajorB(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{Kind: kernel.KindGemm, A: tensor.I8, B: tensor.I8, E: tensor.I32,
		ALayout: kernel.Row, BLayout: kernel.Col, ELayout: kernel.Row}
	p := kernel.GemmProblem{M: 2, N: 2, K: 3}
	ops := p.Operands(sig)

	a := filled(tensor.I8, ops[0].Desc, 1, 2, 3, 4, 5, 6)
	b := filled(tensor.I8, ops[1].Desc, 1, 0, 0, 1, 1, 1) // logical [K x N]
	out, err := Compute(sig, p, kernel.Operators{}, Inputs{A: a, B: b})
	require.NoError(t, err)
	require.Equal(t, []float64{1 + 3, 2 + 3, 4 + 6, 5 + 6}, out.Flatten())
}

func TestGemmRequantSaturates(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{Kind: kernel.KindGemm, A: tensor.I8, B: tensor.I8, E: tensor.I8,
		ALayout: kernel.Row, BLayout: kernel.Row, ELayout: kernel.Row}
	p := kernel.GemmProblem{M: 1, N: 2, K: 2}
	ops := p.Operands(sig)
	a := filled(tensor.I8, ops[0].Desc, 100, 100)
	b := filled(tensor.I8, ops[1].Desc, 100, -1, 100, 1)
	out, err := Compute(sig, p, kernel.Operators{CDE: elementwise.MulClamp{RequantScale: 0.5}}, Inputs{A: a, B: b})
	require.NoError(t, err)
	// 20000*0.5 clamps to 127; 0*0.5 stays 0.
	require.Equal(t, []float64{127, 0}, out.Flatten())
}

func TestConvPaddingAndBias(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{Kind: kernel.KindGroupedConvFwd, NumDimSpatial: 1,
		A: tensor.F32, B: tensor.F32, E: tensor.F32,
		Ds: kernel.DTuple(tensor.F32), DsLayout: kernel.LayoutTuple(kernel.GK),
		ALayout: kernel.GNHWC, BLayout: kernel.GKYXC, ELayout: kernel.GNHWK}
	p := kernel.ConvProblem{G: 1, N: 1, K: 1, C: 1,
		InputSpatial: []int{4}, FilterSpatial: []int{3},
		Strides: []int{1}, Dilations: []int{1}, LeftPads: []int{1}, RightPads: []int{1}}
	ops := p.Operands(sig)
	in := filled(tensor.F32, ops[0].Desc, 1, 2, 3, 4)
	w := filled(tensor.F32, ops[1].Desc, 1, 1, 1)
	bias := tensor.New(tensor.F32, ops[2].Desc)
	tensor.FillConstant(bias, 10)

	out, err := Compute(sig, p, kernel.Operators{CDE: elementwise.Bilinear{Alpha: 1, Beta: 1}},
		Inputs{A: in, B: w, Ds: []*tensor.Tensor{bias}})
	require.NoError(t, err)
	require.Equal(t, []float64{13, 16, 19, 17}, out.Flatten())
}

func TestAttentionMaskedFirstRowCopiesFirstValue(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{Kind: kernel.KindBatchedGemmSoftmaxGemm,
		A: tensor.F32, B: tensor.F32, B1: tensor.F32, E: tensor.F32,
		ALayout: kernel.GMK, BLayout: kernel.GNK, B1Layout: kernel.GNO, ELayout: kernel.GMO,
		Masked: true}
	p := kernel.AttentionProblem{G0: 1, G1: 1, M: 2, N: 2, K: 1, O: 1}
	ops := p.Operands(sig)
	q := filled(tensor.F32, ops[0].Desc, 0, 0)
	k := filled(tensor.F32, ops[1].Desc, 0, 0)
	v := filled(tensor.F32, ops[2].Desc, 2, 4)

	out, err := Compute(sig, p, kernel.Operators{}, Inputs{A: q, B: k, B1: v})
	require.NoError(t, err)
	// Row 0 sees only key 0; row 1 averages both under equal scores.
	require.Equal(t, []float64{2, 3}, out.Flatten())
}

func TestComputeRejectsInvalidProblem(t *testing.T) {
	t.Parallel()

	sig := kernel.Signature{Kind: kernel.KindGemm, A: tensor.F32, B: tensor.F32, E: tensor.F32,
		ALayout: kernel.Row, BLayout: kernel.Row, ELayout: kernel.Row}
	_, err := Compute(sig, kernel.GemmProblem{M: 0, N: 1, K: 1}, kernel.Operators{}, Inputs{})
	require.ErrorIs(t, err, kernel.ErrInvalidProblem)
}
