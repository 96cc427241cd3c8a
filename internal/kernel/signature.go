package kernel

import (
	"fmt"
	"strings"

	"github.com/samcharles93/kprof/internal/tensor"
)

// Kind is the operation family a signature belongs to.
type Kind uint8

const (
	KindGemm Kind = iota + 1
	KindGroupedConvFwd
	KindBatchedGemmSoftmaxGemm
	KindContractionBilinear
)

var kindNames = map[Kind]string{
	KindGemm:                   "gemm",
	KindGroupedConvFwd:         "grouped_conv_fwd",
	KindBatchedGemmSoftmaxGemm: "batched_gemm_softmax_gemm",
	KindContractionBilinear:    "contraction_bilinear",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Layout names the memory order of one operand.
type Layout string

const (
	Row Layout = "Row"
	Col Layout = "Col"

	GNHWC Layout = "GNHWC"
	NHWGC Layout = "NHWGC"
	GKYXC Layout = "GKYXC"
	GNHWK Layout = "GNHWK"
	NHWGK Layout = "NHWGK"
	GK    Layout = "G_K"

	GMK Layout = "GMK"
	GNK Layout = "GNK"
	GNO Layout = "GNO"
	GMO Layout = "GMO"
	GMN Layout = "GMN"

	// KKNN is the contraction layout where A and B are contiguous along K
	// and D and E along N.
	KK Layout = "KK"
	NN Layout = "NN"
)

// Signature identifies a family of compiled kernels: data types, layouts
// and element-wise operators. It is a comparable value and is never
// mutated once built.
type Signature struct {
	Kind          Kind
	NumDimSpatial int

	A, B, B1, E tensor.DataType
	// Ds is the comma-joined D tuple, built with DTuple.
	Ds string

	ALayout, BLayout, B1Layout, ELayout Layout
	DsLayout                            string

	AOp, BOp, AccOp, CDEOp string

	// Masked selects the causal masking specialization for attention.
	Masked bool
}

// DTuple joins D data types into the Signature.Ds form.
func DTuple(dts ...tensor.DataType) string {
	parts := make([]string, len(dts))
	for i, dt := range dts {
		parts[i] = dt.String()
	}
	return strings.Join(parts, ",")
}

// LayoutTuple joins D layouts into the Signature.DsLayout form.
func LayoutTuple(ls ...Layout) string {
	parts := make([]string, len(ls))
	for i, l := range ls {
		parts[i] = string(l)
	}
	return strings.Join(parts, ",")
}

// DTypes expands Ds.
func (s Signature) DTypes() []tensor.DataType {
	if s.Ds == "" {
		return nil
	}
	parts := strings.Split(s.Ds, ",")
	out := make([]tensor.DataType, len(parts))
	for i, p := range parts {
		dt, err := tensor.ParseDataType(p)
		if err != nil {
			panic(fmt.Sprintf("signature %s: %v", s.Key(), err))
		}
		out[i] = dt
	}
	return out
}

// Key renders the signature canonically, e.g.
// "gemm a=i8:Row b=i8:Col e=i8:Row ops=PassThrough,PassThrough,Mul_Clamp".
func (s Signature) Key() string {
	var b strings.Builder
	b.WriteString(s.Kind.String())
	if s.NumDimSpatial > 0 {
		fmt.Fprintf(&b, " spatial=%d", s.NumDimSpatial)
	}
	fmt.Fprintf(&b, " a=%s:%s b=%s:%s", s.A, s.ALayout, s.B, s.BLayout)
	if s.B1 != tensor.Invalid {
		fmt.Fprintf(&b, " b1=%s:%s", s.B1, s.B1Layout)
	}
	if s.Ds != "" {
		fmt.Fprintf(&b, " ds=(%s):(%s)", s.Ds, s.DsLayout)
	}
	fmt.Fprintf(&b, " e=%s:%s", s.E, s.ELayout)
	ops := []string{orPass(s.AOp), orPass(s.BOp)}
	if s.AccOp != "" {
		ops = append(ops, s.AccOp)
	}
	ops = append(ops, orPass(s.CDEOp))
	fmt.Fprintf(&b, " ops=%s", strings.Join(ops, ","))
	if s.Masked {
		b.WriteString(" masked")
	}
	return b.String()
}

func (s Signature) String() string {
	return s.Key()
}

func orPass(op string) string {
	if op == "" {
		return "PassThrough"
	}
	return op
}
