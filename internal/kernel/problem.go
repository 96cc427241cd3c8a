package kernel

import (
	"errors"
	"fmt"

	"github.com/samcharles93/kprof/internal/tensor"
)

// ErrInvalidProblem marks shape values that no kernel can accept.
var ErrInvalidProblem = errors.New("invalid problem")

// Role names the position an operand takes in an operation.
type Role string

const (
	RoleA  Role = "a"
	RoleB  Role = "b"
	RoleB1 Role = "b1"
	RoleE  Role = "e"
)

// RoleD names the i-th auxiliary D operand.
func RoleD(i int) Role {
	return Role(fmt.Sprintf("d%d", i))
}

// Operand is the host view of one argument tensor.
type Operand struct {
	Role  Role
	DType tensor.DataType
	Desc  tensor.Descriptor
}

// Bytes is the size of the operand's element space.
func (o Operand) Bytes() int64 {
	return int64(o.Desc.ElementSpaceSize()) * int64(o.DType.Size())
}

// Problem is one concrete shape to run a signature against.
type Problem interface {
	Kind() Kind
	// Flops is the closed-form floating/integer operation count.
	Flops() int64
	// Bytes is the traffic estimate: every operand's element space once.
	Bytes(sig Signature) int64
	// Operands returns the operand descriptors in A, B, B1, D..., E order.
	Operands(sig Signature) []Operand
	Validate() error
	String() string
}

func totalBytes(ops []Operand) int64 {
	var n int64
	for _, op := range ops {
		n += op.Bytes()
	}
	return n
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProblem, fmt.Sprintf(format, args...))
}

// GemmProblem is E[M,N] = op(A[M,K] * B[K,N], Ds). Strides are leading
// dimensions for the layout named by the signature; zero means packed.
type GemmProblem struct {
	M, N, K                   int
	StrideA, StrideB, StrideE int
}

func (p GemmProblem) Kind() Kind { return KindGemm }

func (p GemmProblem) Flops() int64 {
	return 2 * int64(p.M) * int64(p.N) * int64(p.K)
}

func (p GemmProblem) Bytes(sig Signature) int64 { return totalBytes(p.Operands(sig)) }

func (p GemmProblem) Validate() error {
	if p.M <= 0 || p.N <= 0 || p.K <= 0 {
		return invalidf("gemm lengths must be positive, got M=%d N=%d K=%d", p.M, p.N, p.K)
	}
	return nil
}

// LeadingDims resolves zero strides against the signature's layouts.
func (p GemmProblem) LeadingDims(sig Signature) (lda, ldb, lde int) {
	lda, ldb, lde = p.StrideA, p.StrideB, p.StrideE
	if lda == 0 {
		lda = pick(sig.ALayout == Col, p.M, p.K)
	}
	if ldb == 0 {
		ldb = pick(sig.BLayout == Col, p.K, p.N)
	}
	if lde == 0 {
		lde = pick(sig.ELayout == Col, p.M, p.N)
	}
	return lda, ldb, lde
}

func (p GemmProblem) Operands(sig Signature) []Operand {
	lda, ldb, lde := p.LeadingDims(sig)
	ops := []Operand{
		{RoleA, sig.A, matrix(sig.ALayout, p.M, p.K, lda)},
		{RoleB, sig.B, matrix(sig.BLayout, p.K, p.N, ldb)},
	}
	for i, dt := range sig.DTypes() {
		ops = append(ops, Operand{RoleD(i), dt, matrix(sig.ELayout, p.M, p.N, lde)})
	}
	return append(ops, Operand{RoleE, sig.E, matrix(sig.ELayout, p.M, p.N, lde)})
}

func (p GemmProblem) String() string {
	return fmt.Sprintf("gemm M=%d N=%d K=%d", p.M, p.N, p.K)
}

func matrix(l Layout, rows, cols, ld int) tensor.Descriptor {
	if l == Col {
		return tensor.MustDescriptor([]int{rows, cols}, []int{1, ld})
	}
	return tensor.MustDescriptor([]int{rows, cols}, []int{ld, 1})
}

func pick(cond bool, a, b int) int {
	if cond {
		return a
	}
	return b
}

// ConvProblem is a grouped N-D forward convolution. Lengths are logical;
// memory order comes from the signature's layouts.
type ConvProblem struct {
	G, N, K, C    int
	InputSpatial  []int
	FilterSpatial []int
	Strides       []int
	Dilations     []int
	LeftPads      []int
	RightPads     []int
}

func (p ConvProblem) Kind() Kind { return KindGroupedConvFwd }

func (p ConvProblem) NumDimSpatial() int { return len(p.InputSpatial) }

// OutputSpatial is (in + lpad + rpad - dil*(f-1) - 1)/stride + 1 per dim.
func (p ConvProblem) OutputSpatial() []int {
	out := make([]int, len(p.InputSpatial))
	for i := range out {
		eff := p.Dilations[i]*(p.FilterSpatial[i]-1) + 1
		out[i] = (p.InputSpatial[i]+p.LeftPads[i]+p.RightPads[i]-eff)/p.Strides[i] + 1
	}
	return out
}

func (p ConvProblem) Flops() int64 {
	f := 2 * int64(p.G) * int64(p.N) * int64(p.K) * int64(p.C)
	for _, v := range p.OutputSpatial() {
		f *= int64(v)
	}
	for _, v := range p.FilterSpatial {
		f *= int64(v)
	}
	return f
}

func (p ConvProblem) Bytes(sig Signature) int64 { return totalBytes(p.Operands(sig)) }

func (p ConvProblem) Validate() error {
	if p.G <= 0 || p.N <= 0 || p.K <= 0 || p.C <= 0 {
		return invalidf("conv G, N, K, C must be positive, got %d %d %d %d", p.G, p.N, p.K, p.C)
	}
	nd := len(p.InputSpatial)
	if nd == 0 {
		return invalidf("conv needs at least one spatial dimension")
	}
	for name, v := range map[string][]int{
		"filter": p.FilterSpatial, "strides": p.Strides, "dilations": p.Dilations,
		"left pads": p.LeftPads, "right pads": p.RightPads,
	} {
		if len(v) != nd {
			return invalidf("conv %s has %d dims, input has %d", name, len(v), nd)
		}
	}
	for i := 0; i < nd; i++ {
		if p.Strides[i] <= 0 || p.Dilations[i] <= 0 || p.FilterSpatial[i] <= 0 {
			return invalidf("conv dim %d: stride, dilation and filter must be positive", i)
		}
		if p.LeftPads[i] < 0 || p.RightPads[i] < 0 {
			return invalidf("conv dim %d: negative padding", i)
		}
	}
	for i, o := range p.OutputSpatial() {
		if o <= 0 {
			return invalidf("conv dim %d: empty output", i)
		}
	}
	return nil
}

// Operands uses the index orders [G,N,C,spatial] for the input,
// [G,K,C,filter] for weights and [G,N,K,out] for the output and Ds.
func (p ConvProblem) Operands(sig Signature) []Operand {
	out := p.OutputSpatial()
	ops := []Operand{
		{RoleA, sig.A, activation(sig.ALayout, p.G, p.N, p.C, p.InputSpatial)},
		{RoleB, sig.B, weights(p.G, p.K, p.C, p.FilterSpatial)},
	}
	layouts := splitLayouts(sig.DsLayout)
	for i, dt := range sig.DTypes() {
		l := sig.ELayout
		if i < len(layouts) {
			l = layouts[i]
		}
		var desc tensor.Descriptor
		if l == GK {
			desc = perChannel(p.G, p.N, p.K, out)
		} else {
			desc = activation(l, p.G, p.N, p.K, out)
		}
		ops = append(ops, Operand{RoleD(i), dt, desc})
	}
	return append(ops, Operand{RoleE, sig.E, activation(sig.ELayout, p.G, p.N, p.K, out)})
}

func (p ConvProblem) String() string {
	return fmt.Sprintf("conv%dd G=%d N=%d K=%d C=%d in=%v filter=%v out=%v stride=%v dil=%v pad=%v/%v",
		len(p.InputSpatial), p.G, p.N, p.K, p.C, p.InputSpatial, p.FilterSpatial, p.OutputSpatial(),
		p.Strides, p.Dilations, p.LeftPads, p.RightPads)
}

// activation builds [G,N,C,spatial...] strides. Layouts starting with "G"
// are group-major (GNHWC); the rest interleave groups with channels (NHWGC).
func activation(l Layout, g, n, c int, spatial []int) tensor.Descriptor {
	nd := len(spatial)
	lengths := append([]int{g, n, c}, spatial...)
	strides := make([]int, 3+nd)
	strides[2] = 1
	inner := c
	if len(l) > 0 && l[0] == 'G' {
		for i := nd - 1; i >= 0; i-- {
			strides[3+i] = inner
			inner *= spatial[i]
		}
		strides[1] = inner
		strides[0] = inner * n
	} else {
		strides[0] = c
		inner = g * c
		for i := nd - 1; i >= 0; i-- {
			strides[3+i] = inner
			inner *= spatial[i]
		}
		strides[1] = inner
	}
	return tensor.MustDescriptor(lengths, strides)
}

// weights is always GK<spatial>C.
func weights(g, k, c int, filter []int) tensor.Descriptor {
	nd := len(filter)
	lengths := append([]int{g, k, c}, filter...)
	strides := make([]int, 3+nd)
	strides[2] = 1
	inner := c
	for i := nd - 1; i >= 0; i-- {
		strides[3+i] = inner
		inner *= filter[i]
	}
	strides[1] = inner
	strides[0] = inner * k
	return tensor.MustDescriptor(lengths, strides)
}

// perChannel is a G_K tensor broadcast over N and the output spatial dims.
func perChannel(g, n, k int, out []int) tensor.Descriptor {
	lengths := append([]int{g, n, k}, out...)
	strides := make([]int, len(lengths))
	strides[0], strides[2] = k, 1
	return tensor.MustDescriptor(lengths, strides)
}

func splitLayouts(s string) []Layout {
	if s == "" {
		return nil
	}
	var out []Layout
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, Layout(s[start:i]))
			start = i + 1
		}
	}
	return out
}

// AttentionProblem is E = softmax(AccOp(A*B0^T, D)) * B1 over G0*G1
// batches. The output is permuted to [G0, M, G1, O] in memory.
type AttentionProblem struct {
	G0, G1     int
	M, N, K, O int
}

func (p AttentionProblem) Kind() Kind { return KindBatchedGemmSoftmaxGemm }

func (p AttentionProblem) Batch() int { return p.G0 * p.G1 }

func (p AttentionProblem) Flops() int64 {
	g := int64(p.Batch())
	m, n, k, o := int64(p.M), int64(p.N), int64(p.K), int64(p.O)
	return g * (2*m*n*k + 2*m*n*o)
}

func (p AttentionProblem) Bytes(sig Signature) int64 { return totalBytes(p.Operands(sig)) }

func (p AttentionProblem) Validate() error {
	if p.G0 <= 0 || p.G1 <= 0 || p.M <= 0 || p.N <= 0 || p.K <= 0 || p.O <= 0 {
		return invalidf("attention lengths must be positive, got G0=%d G1=%d M=%d N=%d K=%d O=%d",
			p.G0, p.G1, p.M, p.N, p.K, p.O)
	}
	return nil
}

// Operands: A [G0,G1,M,K], B0 [G0,G1,N,K], B1 [G0,G1,N,O], D [G0,G1,M,N],
// E [G0,G1,M,O] stored as G0 M G1 O.
func (p AttentionProblem) Operands(sig Signature) []Operand {
	ops := []Operand{
		{RoleA, sig.A, tensor.Packed(p.G0, p.G1, p.M, p.K)},
		{RoleB, sig.B, tensor.Packed(p.G0, p.G1, p.N, p.K)},
		{RoleB1, sig.B1, tensor.Packed(p.G0, p.G1, p.N, p.O)},
	}
	for i, dt := range sig.DTypes() {
		ops = append(ops, Operand{RoleD(i), dt, tensor.Packed(p.G0, p.G1, p.M, p.N)})
	}
	e := tensor.MustDescriptor(
		[]int{p.G0, p.G1, p.M, p.O},
		[]int{p.M * p.G1 * p.O, p.O, p.G1 * p.O, 1},
	)
	return append(ops, Operand{RoleE, sig.E, e})
}

func (p AttentionProblem) String() string {
	return fmt.Sprintf("attention G0=%d G1=%d M=%d N=%d K=%d O=%d", p.G0, p.G1, p.M, p.N, p.K, p.O)
}

// ContractionProblem is E[m0,m1,n0,n1] = sum_k A[m0,m1,k0,k1]*B[n0,n1,k0,k1]
// combined with D[m0,m1,n0,n1]. Nil strides mean packed.
type ContractionProblem struct {
	M0, M1, N0, N1, K0, K1 int

	AStrides, BStrides, DStrides, EStrides []int
}

func (p ContractionProblem) Kind() Kind { return KindContractionBilinear }

func (p ContractionProblem) Dims() (m, n, k int) {
	return p.M0 * p.M1, p.N0 * p.N1, p.K0 * p.K1
}

func (p ContractionProblem) Flops() int64 {
	m, n, k := p.Dims()
	return 2 * int64(m) * int64(n) * int64(k)
}

func (p ContractionProblem) Bytes(sig Signature) int64 { return totalBytes(p.Operands(sig)) }

func (p ContractionProblem) Validate() error {
	for _, v := range []int{p.M0, p.M1, p.N0, p.N1, p.K0, p.K1} {
		if v <= 0 {
			return invalidf("contraction lengths must be positive: %s", p)
		}
	}
	for name, s := range map[string][]int{"a": p.AStrides, "b": p.BStrides, "d": p.DStrides, "e": p.EStrides} {
		if s != nil && len(s) != 4 {
			return invalidf("contraction %s strides need 4 entries, got %d", name, len(s))
		}
	}
	return nil
}

func (p ContractionProblem) Operands(sig Signature) []Operand {
	a := strided([]int{p.M0, p.M1, p.K0, p.K1}, p.AStrides)
	b := strided([]int{p.N0, p.N1, p.K0, p.K1}, p.BStrides)
	ops := []Operand{{RoleA, sig.A, a}, {RoleB, sig.B, b}}
	for i, dt := range sig.DTypes() {
		ops = append(ops, Operand{RoleD(i), dt, strided([]int{p.M0, p.M1, p.N0, p.N1}, p.DStrides)})
	}
	return append(ops, Operand{RoleE, sig.E, strided([]int{p.M0, p.M1, p.N0, p.N1}, p.EStrides)})
}

func (p ContractionProblem) String() string {
	return fmt.Sprintf("contraction M=%dx%d N=%dx%d K=%dx%d", p.M0, p.M1, p.N0, p.N1, p.K0, p.K1)
}

func strided(lengths, strides []int) tensor.Descriptor {
	if strides == nil {
		return tensor.Packed(lengths...)
	}
	return tensor.MustDescriptor(lengths, strides)
}
