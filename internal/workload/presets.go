package workload

import (
	"github.com/samcharles93/kprof/internal/elementwise"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/tensor"
	"github.com/samcharles93/kprof/internal/verify"
)

// conv2d is the grouped 3x3, stride 2, pad 1 layer used by the conv
// presets: 71x71 in, 36x36 out.
func conv2d() kernel.ConvProblem {
	return kernel.ConvProblem{
		G: 4, N: 4, K: 32, C: 64,
		InputSpatial:  []int{71, 71},
		FilterSpatial: []int{3, 3},
		Strides:       []int{2, 2},
		Dilations:     []int{1, 1},
		LeftPads:      []int{1, 1},
		RightPads:     []int{1, 1},
	}
}

func convSig(dt tensor.DataType, in, wei, out kernel.Layout) kernel.Signature {
	return kernel.Signature{
		Kind:          kernel.KindGroupedConvFwd,
		NumDimSpatial: 2,
		A:             dt, B: dt, E: dt,
		ALayout: in, BLayout: wei, ELayout: out,
	}
}

func quantConvSig(cde string, ds ...tensor.DataType) kernel.Signature {
	sig := convSig(tensor.I8, kernel.NHWGC, kernel.GKYXC, kernel.NHWGK)
	sig.CDEOp = cde
	if len(ds) > 0 {
		layouts := make([]kernel.Layout, len(ds))
		for i := range layouts {
			layouts[i] = kernel.GK
		}
		sig.Ds = kernel.DTuple(ds...)
		sig.DsLayout = kernel.LayoutTuple(layouts...)
	}
	return sig
}

func attention(masked bool) *Workload {
	name, desc := "attention_f16", "batched gemm+softmax+gemm with additive bias, f16 GMK/GNK/GNO/GMO"
	if masked {
		name, desc = "attention_f16_causal", "batched gemm+softmax+gemm with additive bias and causal mask"
	}
	return &Workload{
		Name:        name,
		Description: desc,
		Signature: kernel.Signature{
			Kind: kernel.KindBatchedGemmSoftmaxGemm,
			A:    tensor.F16, B: tensor.F16, B1: tensor.F16, E: tensor.F16,
			Ds:       kernel.DTuple(tensor.F16),
			DsLayout: kernel.LayoutTuple(kernel.GMN),
			ALayout:  kernel.GMK, BLayout: kernel.GNK, B1Layout: kernel.GNO, ELayout: kernel.GMO,
			AccOp:  "ScaleAdd",
			Masked: masked,
		},
		Problem: kernel.AttentionProblem{G0: 2, G1: 8, M: 256, N: 256, K: 64, O: 64},
		// 1/sqrt(K)
		Params:    elementwise.Params{Scale: 0.125},
		Tolerance: verify.Tolerance{RTol: 1e-2, ATol: 1e-2},
	}
}

// Presets returns fresh copies of the built-in workloads.
func Presets() []*Workload {
	return []*Workload{
		{
			Name:        "gemm_quant_i8",
			Description: "int8 gemm with per-layer requantization, A row-major, B column-major",
			Signature: kernel.Signature{
				Kind: kernel.KindGemm,
				A:    tensor.I8, B: tensor.I8, E: tensor.I8,
				ALayout: kernel.Row, BLayout: kernel.Col, ELayout: kernel.Row,
				CDEOp: "Mul_Clamp",
			},
			Problem: kernel.GemmProblem{M: 1024, N: 1024, K: 1024},
			Params:  elementwise.Params{Scale: 0.03},
		},
		{
			Name:        "gemm_f16",
			Description: "f16 gemm, A row-major, B column-major",
			Signature: kernel.Signature{
				Kind: kernel.KindGemm,
				A:    tensor.F16, B: tensor.F16, E: tensor.F16,
				ALayout: kernel.Row, BLayout: kernel.Col, ELayout: kernel.Row,
			},
			Problem: kernel.GemmProblem{M: 512, N: 512, K: 512},
			// K=512 sums in float32 before rounding to f16.
			Tolerance: verify.Tolerance{RTol: 5e-3, ATol: 5e-3},
		},
		{
			Name:        "conv2d_fwd_f16",
			Description: "grouped 2-D forward convolution, f16 GNHWC/GKYXC/GNHWK",
			Signature:   convSig(tensor.F16, kernel.GNHWC, kernel.GKYXC, kernel.GNHWK),
			Problem:     conv2d(),
			Tolerance:   verify.Tolerance{RTol: 5e-3, ATol: 5e-3},
		},
		{
			Name:        "conv2d_fwd_bf16",
			Description: "grouped 2-D forward convolution, bf16 GNHWC/GKYXC/GNHWK",
			Signature:   convSig(tensor.BF16, kernel.GNHWC, kernel.GKYXC, kernel.GNHWK),
			Problem:     conv2d(),
			Tolerance:   verify.Tolerance{RTol: 2e-2, ATol: 2e-2},
		},
		{
			Name:        "conv2d_fwd_f32",
			Description: "grouped 2-D forward convolution, f32 NHWGC/GKYXC/NHWGK",
			Signature:   convSig(tensor.F32, kernel.NHWGC, kernel.GKYXC, kernel.NHWGK),
			Problem:     conv2d(),
		},
		{
			Name:        "conv2d_fwd_perlayer_quant_i8",
			Description: "int8 grouped conv with relu and per-layer requantization",
			Signature:   quantConvSig("Activation_Mul_Clamp<Relu>"),
			Problem:     conv2d(),
			Params:      elementwise.Params{Scale: 0.03},
		},
		{
			Name:        "conv2d_fwd_bias_perlayer_quant_i8",
			Description: "int8 grouped conv with i32 bias, relu and per-layer requantization",
			Signature:   quantConvSig("Add_Activation_Mul_Clamp<Relu>", tensor.I32),
			Problem:     conv2d(),
			Params:      elementwise.Params{Scale: 0.03},
		},
		{
			Name:        "conv2d_fwd_bias_perchannel_quant_i8",
			Description: "int8 grouped conv with i32 bias, relu and per-channel f32 requantization",
			Signature:   quantConvSig("Add_Activation_Mul2_Clamp<Relu>", tensor.I32, tensor.F32),
			Problem:     conv2d(),
			Ranges: map[kernel.Role]Range{
				kernel.RoleD(1): {Lo: 0.01, Hi: 0.05},
			},
		},
		attention(false),
		attention(true),
		{
			Name:        "contraction_bilinear_f64",
			Description: "f64 bilinear contraction E = A*B + D over two M, N and K modes, KKNN",
			Signature: kernel.Signature{
				Kind: kernel.KindContractionBilinear,
				A:    tensor.F64, B: tensor.F64, E: tensor.F64,
				Ds:       kernel.DTuple(tensor.F64),
				DsLayout: kernel.LayoutTuple(kernel.NN),
				ALayout:  kernel.KK, BLayout: kernel.KK, ELayout: kernel.NN,
				CDEOp: "Bilinear",
			},
			Problem: kernel.ContractionProblem{M0: 6, M1: 64, N0: 8, N1: 64, K0: 8, K1: 64},
			Params:  elementwise.Params{Alpha: 1, Beta: 1},
		},
	}
}

// DefaultSet holds every preset. It panics if a preset fails validation.
func DefaultSet() *Set {
	s, err := NewSet(Presets()...)
	if err != nil {
		panic(err)
	}
	return s
}
