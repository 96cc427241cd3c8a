package kernel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/kprof/internal/tensor"
)

func quantConvSignature() Signature {
	return Signature{
		Kind:          KindGroupedConvFwd,
		NumDimSpatial: 2,
		A:             tensor.I8, B: tensor.I8, E: tensor.I8,
		Ds:       DTuple(tensor.I32, tensor.F32),
		DsLayout: LayoutTuple(GK, GK),
		ALayout:  NHWGC, BLayout: GKYXC, ELayout: NHWGK,
		CDEOp: "Add_Activation_Mul2_Clamp<Relu>",
	}
}

func clientConv() ConvProblem {
	return ConvProblem{
		G: 4, N: 4, K: 32, C: 64,
		InputSpatial:  []int{71, 71},
		FilterSpatial: []int{3, 3},
		Strides:       []int{2, 2},
		Dilations:     []int{1, 1},
		LeftPads:      []int{1, 1},
		RightPads:     []int{1, 1},
	}
}

func TestSignatureKeyIsStable(t *testing.T) {
	t.Parallel()

	sig := quantConvSignature()
	want := "grouped_conv_fwd spatial=2 a=i8:NHWGC b=i8:GKYXC ds=(i32,f32):(G_K,G_K) e=i8:NHWGK ops=PassThrough,PassThrough,Add_Activation_Mul2_Clamp<Relu>"
	require.Equal(t, want, sig.Key())
	require.Equal(t, []tensor.DataType{tensor.I32, tensor.F32}, sig.DTypes())

	other := sig
	other.Masked = true
	require.NotEqual(t, sig, other)
	require.NotEqual(t, sig.Key(), other.Key())
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindGemm, KindGroupedConvFwd, KindBatchedGemmSoftmaxGemm, KindContractionBilinear} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
	_, err := ParseKind("winograd")
	require.Error(t, err)
}

func TestConvOutputAndFlops(t *testing.T) {
	t.Parallel()

	p := clientConv()
	require.NoError(t, p.Validate())
	require.Equal(t, []int{36, 36}, p.OutputSpatial())
	require.Equal(t, int64(764411904), p.Flops())
}

func TestConvOperandLayouts(t *testing.T) {
	t.Parallel()

	p := clientConv()
	ops := p.Operands(quantConvSignature())
	require.Len(t, ops, 5)

	in := ops[0]
	require.Equal(t, RoleA, in.Role)
	require.Equal(t, []int{4, 4, 64, 71, 71}, in.Desc.Lengths)
	require.Equal(t, []int{64, 1290496, 1, 18176, 256}, in.Desc.Strides)

	wei := ops[1]
	require.Equal(t, []int{32 * 9 * 64, 9 * 64, 1, 3 * 64, 64}, wei.Desc.Strides)

	bias := ops[2]
	require.Equal(t, tensor.I32, bias.DType)
	require.Equal(t, []int{4, 4, 32, 36, 36}, bias.Desc.Lengths)
	require.Equal(t, []int{32, 0, 1, 0, 0}, bias.Desc.Strides)
	require.Equal(t, 4*32, bias.Desc.ElementSpaceSize())
	require.Equal(t, int64(4*32*4), bias.Bytes())

	out := ops[4]
	require.Equal(t, RoleE, out.Role)
	require.Equal(t, 4*4*32*36*36, out.Desc.ElementSpaceSize())
}

func TestConvValidate(t *testing.T) {
	t.Parallel()

	p := clientConv()
	p.Strides = []int{2}
	require.True(t, errors.Is(p.Validate(), ErrInvalidProblem))

	p = clientConv()
	p.InputSpatial = []int{1, 1}
	p.LeftPads = []int{0, 0}
	p.RightPads = []int{0, 0}
	require.Error(t, p.Validate())
}

func TestGemmOperands(t *testing.T) {
	t.Parallel()

	sig := Signature{
		Kind: KindGemm,
		A:    tensor.I8, B: tensor.I8, E: tensor.I8,
		ALayout: Row, BLayout: Col, ELayout: Row,
		CDEOp: "Mul_Clamp",
	}
	p := GemmProblem{M: 1024, N: 512, K: 256}
	require.NoError(t, p.Validate())
	require.Equal(t, int64(2*1024*512*256), p.Flops())

	ops := p.Operands(sig)
	require.Len(t, ops, 3)
	require.Equal(t, []int{256, 1}, ops[0].Desc.Strides)
	require.Equal(t, []int{1, 256}, ops[1].Desc.Strides)
	require.Equal(t, []int{512, 1}, ops[2].Desc.Strides)
	require.Equal(t, int64(1024*256+256*512+1024*512), p.Bytes(sig))

	require.Error(t, GemmProblem{M: 0, N: 1, K: 1}.Validate())
}

func TestAttentionOutputIsPermuted(t *testing.T) {
	t.Parallel()

	sig := Signature{
		Kind: KindBatchedGemmSoftmaxGemm,
		A:    tensor.F16, B: tensor.F16, B1: tensor.F16, E: tensor.F16,
		ALayout: GMK, BLayout: GNK, B1Layout: GNO, ELayout: GMO,
	}
	p := AttentionProblem{G0: 2, G1: 3, M: 4, N: 5, K: 6, O: 7}
	ops := p.Operands(sig)
	require.Len(t, ops, 4)
	e := ops[3].Desc
	require.Equal(t, []int{4 * 3 * 7, 7, 3 * 7, 1}, e.Strides)
	require.Equal(t, 2*3*4*7, e.ElementSpaceSize())
	require.Equal(t, int64(6*(2*4*5*6+2*4*5*7)), p.Flops())
}

func TestContractionStrides(t *testing.T) {
	t.Parallel()

	p := ContractionProblem{M0: 2, M1: 3, N0: 4, N1: 5, K0: 6, K1: 7}
	require.NoError(t, p.Validate())
	m, n, k := p.Dims()
	require.Equal(t, [3]int{6, 20, 42}, [3]int{m, n, k})

	p.AStrides = []int{1, 2}
	require.ErrorIs(t, p.Validate(), ErrInvalidProblem)
}

func TestStreamConfigIterations(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, StreamConfig{}.Iterations())
	require.Equal(t, 5, StreamConfig{Repeat: 5}.Iterations())
}
