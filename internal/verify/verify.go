// Package verify compares a kernel's output against a reference tensor.
package verify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/samcharles93/kprof/internal/tensor"
)

// Tolerance bounds |got - want| <= ATol + RTol*|want| for floating outputs.
// Integer outputs are always compared exactly.
type Tolerance struct {
	RTol float64 `yaml:"rtol" json:"rtol"`
	ATol float64 `yaml:"atol" json:"atol"`
}

// DefaultTolerance is keyed by output data type.
func DefaultTolerance(dt tensor.DataType) Tolerance {
	switch dt {
	case tensor.F16:
		return Tolerance{RTol: 1e-3, ATol: 1e-3}
	case tensor.BF16:
		return Tolerance{RTol: 1e-2, ATol: 1e-2}
	case tensor.F32:
		return Tolerance{RTol: 1e-4, ATol: 1e-4}
	case tensor.F64:
		return Tolerance{RTol: 1e-10, ATol: 1e-10}
	default:
		return Tolerance{}
	}
}

// Mismatch is one element outside tolerance.
type Mismatch struct {
	Index []int   `json:"index"`
	Got   float64 `json:"got"`
	Want  float64 `json:"want"`
}

type Report struct {
	OK         bool      `json:"ok"`
	Elements   int       `json:"elements"`
	Mismatches int       `json:"mismatches"`
	MaxAbsErr  float64   `json:"max_abs_err"`
	RMSErr     float64   `json:"rms_err"`
	First      *Mismatch `json:"first_mismatch,omitempty"`
}

func (r Report) String() string {
	if r.OK {
		return fmt.Sprintf("pass: %d elements, max abs err %g", r.Elements, r.MaxAbsErr)
	}
	s := fmt.Sprintf("fail: %d of %d elements mismatch, max abs err %g", r.Mismatches, r.Elements, r.MaxAbsErr)
	if r.First != nil {
		s += fmt.Sprintf(", first at %v: got %g want %g", r.First.Index, r.First.Got, r.First.Want)
	}
	return s
}

// Compare checks got against want element by element over want's logical
// shape. Shapes must match; a length mismatch is reported as a failure.
func Compare(got, want *tensor.Tensor, tol Tolerance) Report {
	if !sameLengths(got.Desc.Lengths, want.Desc.Lengths) {
		return Report{OK: false, Elements: want.Desc.ElementCount(), Mismatches: want.Desc.ElementCount()}
	}
	exact := got.DType.IsInteger() && want.DType.IsInteger()
	diffs := make([]float64, 0, want.Desc.ElementCount())
	rep := Report{OK: true}
	want.Desc.ForEach(func(idx []int) {
		g, w := got.At(idx...), want.At(idx...)
		var ok bool
		if exact {
			ok = g == w
		} else {
			ok = scalar.EqualWithinAbs(g, w, tol.ATol+tol.RTol*math.Abs(w))
		}
		d := math.Abs(g - w)
		if math.IsNaN(d) {
			d = math.Inf(1)
		}
		if g == w {
			d = 0
		}
		diffs = append(diffs, d)
		if !ok {
			rep.OK = false
			rep.Mismatches++
			if rep.First == nil {
				rep.First = &Mismatch{Index: append([]int(nil), idx...), Got: g, Want: w}
			}
		}
	})
	rep.Elements = len(diffs)
	if len(diffs) > 0 {
		rep.MaxAbsErr = floats.Max(diffs)
		rep.RMSErr = floats.Norm(diffs, 2) / math.Sqrt(float64(len(diffs)))
	}
	return rep
}

// Values compares flat value slices with the same rules as Compare.
func Values(got, want []float64, integer bool, tol Tolerance) Report {
	dt := tensor.F64
	if integer {
		dt = tensor.I32
	}
	return Compare(fromValues(dt, got), fromValues(dt, want), tol)
}

func fromValues(dt tensor.DataType, v []float64) *tensor.Tensor {
	t := tensor.New(dt, tensor.Packed(len(v)))
	for i, x := range v {
		t.Set(x, i)
	}
	return t
}

func sameLengths(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
