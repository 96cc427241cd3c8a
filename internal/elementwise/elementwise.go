// Package elementwise holds the named operators applied to GEMM and
// convolution accumulators before they are stored. Kernels and the host
// reference apply the same operator value, so quantization rounding and
// clamping match on both sides.
package elementwise

import (
	"fmt"
	"math"
	"strings"
)

// Op maps an accumulator value and the matching auxiliary D values to the
// output value. The result is stored with the output data type's rounding.
type Op interface {
	Name() string
	// Arity is the number of D operands Apply consumes.
	Arity() int
	Apply(c float64, ds []float64) float64
}

// Activation is a unary function fused into quantizing operators.
type Activation interface {
	Name() string
	Activate(x float64) float64
}

const (
	int8Min = -128
	int8Max = 127
)

type PassThrough struct{}

func (PassThrough) Name() string                         { return "PassThrough" }
func (PassThrough) Arity() int                           { return 0 }
func (PassThrough) Apply(c float64, _ []float64) float64 { return c }
func (PassThrough) Activate(x float64) float64           { return x }

type Relu struct{}

func (Relu) Name() string                           { return "Relu" }
func (Relu) Arity() int                             { return 0 }
func (r Relu) Apply(c float64, _ []float64) float64 { return r.Activate(c) }
func (Relu) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Scale multiplies by a constant.
type Scale struct {
	Scale float64
}

func (Scale) Name() string                           { return "Scale" }
func (Scale) Arity() int                             { return 0 }
func (s Scale) Apply(c float64, _ []float64) float64 { return c * s.Scale }

// ScaleAdd computes c*Scale + d0. Attention uses it for the softmax
// temperature plus an additive bias.
type ScaleAdd struct {
	Scale float64
}

func (ScaleAdd) Name() string                            { return "ScaleAdd" }
func (ScaleAdd) Arity() int                              { return 1 }
func (s ScaleAdd) Apply(c float64, ds []float64) float64 { return c*s.Scale + ds[0] }

// Bilinear computes Alpha*c + Beta*d0.
type Bilinear struct {
	Alpha float64
	Beta  float64
}

func (Bilinear) Name() string { return "Bilinear" }
func (Bilinear) Arity() int   { return 1 }
func (b Bilinear) Apply(c float64, ds []float64) float64 {
	return b.Alpha*c + b.Beta*ds[0]
}

// MulClamp requantizes with a per-layer scale.
type MulClamp struct {
	RequantScale float64
}

func (MulClamp) Name() string { return "Mul_Clamp" }
func (MulClamp) Arity() int   { return 0 }
func (m MulClamp) Apply(c float64, _ []float64) float64 {
	return clampInt8(c * m.RequantScale)
}

// ActivationMulClamp applies Act, then a per-layer requant scale.
type ActivationMulClamp struct {
	Act          Activation
	RequantScale float64
}

func (a ActivationMulClamp) Name() string { return "Activation_Mul_Clamp<" + actName(a.Act) + ">" }
func (ActivationMulClamp) Arity() int     { return 0 }
func (a ActivationMulClamp) Apply(c float64, _ []float64) float64 {
	return clampInt8(activate(a.Act, c) * a.RequantScale)
}

// AddActivationMulClamp adds a bias d0, applies Act, then a per-layer scale.
type AddActivationMulClamp struct {
	Act          Activation
	RequantScale float64
}

func (a AddActivationMulClamp) Name() string {
	return "Add_Activation_Mul_Clamp<" + actName(a.Act) + ">"
}
func (AddActivationMulClamp) Arity() int { return 1 }
func (a AddActivationMulClamp) Apply(c float64, ds []float64) float64 {
	return clampInt8(activate(a.Act, c+ds[0]) * a.RequantScale)
}

// AddActivationMul2Clamp adds a bias d0, applies Act, then multiplies by
// the per-channel scale d1.
type AddActivationMul2Clamp struct {
	Act Activation
}

func (a AddActivationMul2Clamp) Name() string {
	return "Add_Activation_Mul2_Clamp<" + actName(a.Act) + ">"
}
func (AddActivationMul2Clamp) Arity() int { return 2 }
func (a AddActivationMul2Clamp) Apply(c float64, ds []float64) float64 {
	return clampInt8(activate(a.Act, c+ds[0]) * ds[1])
}

func clampInt8(v float64) float64 {
	return math.Min(math.Max(v, int8Min), int8Max)
}

func activate(a Activation, x float64) float64 {
	if a == nil {
		return x
	}
	return a.Activate(x)
}

func actName(a Activation) string {
	if a == nil {
		return PassThrough{}.Name()
	}
	return a.Name()
}

// Params carries the runtime constants of a parsed operator.
type Params struct {
	Scale float64 `yaml:"scale" json:"scale,omitempty"`
	Alpha float64 `yaml:"alpha" json:"alpha,omitempty"`
	Beta  float64 `yaml:"beta" json:"beta,omitempty"`
}

// Parse builds an operator from its name, e.g. "Mul_Clamp" or
// "Add_Activation_Mul2_Clamp<Relu>".
func Parse(name string, p Params) (Op, error) {
	base, arg, err := splitTemplate(name)
	if err != nil {
		return nil, err
	}
	var act Activation
	if arg != "" {
		act, err = parseActivation(arg)
		if err != nil {
			return nil, err
		}
	}
	switch base {
	case "PassThrough", "":
		return PassThrough{}, nil
	case "Relu":
		return Relu{}, nil
	case "Scale":
		return Scale{Scale: p.Scale}, nil
	case "ScaleAdd":
		return ScaleAdd{Scale: p.Scale}, nil
	case "Bilinear":
		return Bilinear{Alpha: p.Alpha, Beta: p.Beta}, nil
	case "Mul_Clamp":
		return MulClamp{RequantScale: p.Scale}, nil
	case "Activation_Mul_Clamp":
		return ActivationMulClamp{Act: act, RequantScale: p.Scale}, nil
	case "Add_Activation_Mul_Clamp":
		return AddActivationMulClamp{Act: act, RequantScale: p.Scale}, nil
	case "Add_Activation_Mul2_Clamp", "Add_Mul2_Clamp":
		return AddActivationMul2Clamp{Act: act}, nil
	default:
		return nil, fmt.Errorf("unknown element-wise operator %q", name)
	}
}

func splitTemplate(name string) (string, string, error) {
	name = strings.TrimSpace(name)
	open := strings.IndexByte(name, '<')
	if open < 0 {
		return name, "", nil
	}
	if !strings.HasSuffix(name, ">") {
		return "", "", fmt.Errorf("malformed operator name %q", name)
	}
	return name[:open], name[open+1 : len(name)-1], nil
}

func parseActivation(name string) (Activation, error) {
	switch name {
	case "PassThrough":
		return PassThrough{}, nil
	case "Relu":
		return Relu{}, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}
