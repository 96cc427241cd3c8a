// Package reference computes expected kernel outputs on the host with
// wide accumulation: int64 for integer inputs, float64 otherwise. The
// result goes through the same element-wise operator and output storage
// conversion as the kernels.
package reference

import (
	"fmt"
	"math"

	"github.com/samcharles93/kprof/internal/elementwise"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/tensor"
)

// Inputs are the host copies of a problem's input operands.
type Inputs struct {
	A, B, B1 *tensor.Tensor
	Ds       []*tensor.Tensor
}

type wide interface {
	~int64 | ~float64
}

// Compute returns the expected E tensor for p.
func Compute(sig kernel.Signature, p kernel.Problem, ops kernel.Operators, in Inputs) (*tensor.Tensor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if in.A == nil || in.B == nil {
		return nil, fmt.Errorf("reference needs A and B inputs")
	}
	var eDesc tensor.Descriptor
	for _, op := range p.Operands(sig) {
		if op.Role == kernel.RoleE {
			eDesc = op.Desc
		}
	}
	integer := sig.A.IsInteger() && sig.B.IsInteger()
	aOp, bOp := kernel.Or(ops.A), kernel.Or(ops.B)

	var accs []float64
	switch prob := p.(type) {
	case kernel.GemmProblem:
		if integer {
			accs = widen(gemm(decode[int64](in.A, aOp), decode[int64](in.B, bOp), prob.M, prob.N, prob.K))
		} else {
			accs = gemm(decode[float64](in.A, aOp), decode[float64](in.B, bOp), prob.M, prob.N, prob.K)
		}
	case kernel.ConvProblem:
		if integer {
			accs = widen(conv(prob, decode[int64](in.A, aOp), decode[int64](in.B, bOp)))
		} else {
			accs = conv(prob, decode[float64](in.A, aOp), decode[float64](in.B, bOp))
		}
	case kernel.ContractionProblem:
		m, n, k := prob.Dims()
		if integer {
			accs = widen(gemmBT(decode[int64](in.A, aOp), decode[int64](in.B, bOp), m, n, k))
		} else {
			accs = gemmBT(decode[float64](in.A, aOp), decode[float64](in.B, bOp), m, n, k)
		}
	case kernel.AttentionProblem:
		if in.B1 == nil {
			return nil, fmt.Errorf("attention reference needs B1")
		}
		accs = attention(prob, sig.Masked, ops, in)
	default:
		return nil, fmt.Errorf("no reference for %s", p.Kind())
	}

	for i, d := range in.Ds {
		if d == nil {
			return nil, fmt.Errorf("reference D%d is nil", i)
		}
	}
	out := tensor.New(sig.E, eDesc)
	cde := kernel.Or(ops.CDE)
	useDs := p.Kind() != kernel.KindBatchedGemmSoftmaxGemm
	ds := make([]float64, len(in.Ds))
	pos := 0
	eDesc.ForEach(func(idx []int) {
		var dv []float64
		if useDs && len(in.Ds) > 0 {
			for i, d := range in.Ds {
				ds[i] = d.At(idx...)
			}
			dv = ds
		}
		out.Set(cde.Apply(accs[pos], dv), idx...)
		pos++
	})
	return out, nil
}

// decode returns t's logical elements in row-major order with op applied.
func decode[T wide](t *tensor.Tensor, op elementwise.Op) []T {
	flat := t.Flatten()
	pass := op == nil || op.Name() == (elementwise.PassThrough{}).Name()
	out := make([]T, len(flat))
	for i, v := range flat {
		if !pass {
			v = op.Apply(v, nil)
		}
		out[i] = T(v)
	}
	return out
}

func widen[T wide](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// gemm multiplies a[m x k] by b[k x n].
func gemm[T wide](a, b []T, m, n, k int) []T {
	out := make([]T, m*n)
	for i := 0; i < m; i++ {
		row := out[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			bp := b[p*n : (p+1)*n]
			for j := range row {
				row[j] += av * bp[j]
			}
		}
	}
	return out
}

// gemmBT multiplies a[m x k] by the transpose of b[n x k].
func gemmBT[T wide](a, b []T, m, n, k int) []T {
	out := make([]T, m*n)
	for i := 0; i < m; i++ {
		ai := a[i*k : (i+1)*k]
		for j := 0; j < n; j++ {
			bj := b[j*k : (j+1)*k]
			var s T
			for p, av := range ai {
				s += av * bj[p]
			}
			out[i*n+j] = s
		}
	}
	return out
}

func product(v []int) int {
	n := 1
	for _, x := range v {
		n *= x
	}
	return n
}

// unflatten decodes a row-major flat index over dims into coords.
func unflatten(i int, dims []int, coords []int) {
	for d := len(dims) - 1; d >= 0; d-- {
		coords[d] = i % dims[d]
		i /= dims[d]
	}
}

// conv runs a direct grouped convolution over [G,N,C,in...] and
// [G,K,C,filter...] producing [G,N,K,out...].
func conv[T wide](p kernel.ConvProblem, in, wei []T) []T {
	out := p.OutputSpatial()
	nd := len(out)
	outCount, filterCount, inCount := product(out), product(p.FilterSpatial), product(p.InputSpatial)

	// taps[o*filterCount+f] is the flat input position read by output o
	// through filter tap f, or -1 when it falls in the padding.
	taps := make([]int, outCount*filterCount)
	oc := make([]int, nd)
	fc := make([]int, nd)
	for o := 0; o < outCount; o++ {
		unflatten(o, out, oc)
		for f := 0; f < filterCount; f++ {
			unflatten(f, p.FilterSpatial, fc)
			flat := 0
			for d := 0; d < nd; d++ {
				x := oc[d]*p.Strides[d] + fc[d]*p.Dilations[d] - p.LeftPads[d]
				if x < 0 || x >= p.InputSpatial[d] {
					flat = -1
					break
				}
				flat = flat*p.InputSpatial[d] + x
			}
			taps[o*filterCount+f] = flat
		}
	}

	res := make([]T, p.G*p.N*p.K*outCount)
	for g := 0; g < p.G; g++ {
		for n := 0; n < p.N; n++ {
			for k := 0; k < p.K; k++ {
				dst := res[((g*p.N+n)*p.K+k)*outCount:]
				for c := 0; c < p.C; c++ {
					src := in[((g*p.N+n)*p.C+c)*inCount:]
					w := wei[((g*p.K+k)*p.C+c)*filterCount:]
					for o := 0; o < outCount; o++ {
						row := taps[o*filterCount : (o+1)*filterCount]
						var s T
						for f, t := range row {
							if t >= 0 {
								s += src[t] * w[f]
							}
						}
						dst[o] += s
					}
				}
			}
		}
	}
	return res
}

// attention evaluates softmax(Acc(A*B0^T, D))*B1 per batch in float64.
// The result is in E's logical order [G0,G1,M,O].
func attention(p kernel.AttentionProblem, masked bool, ops kernel.Operators, in Inputs) []float64 {
	a, b0 := decode[float64](in.A, ops.A), decode[float64](in.B, ops.B)
	b1 := decode[float64](in.B1, nil)
	var ds [][]float64
	for _, d := range in.Ds {
		ds = append(ds, decode[float64](d, nil))
	}
	accOp := kernel.Or(ops.Acc)

	out := make([]float64, p.Batch()*p.M*p.O)
	s := make([]float64, p.N)
	dv := make([]float64, len(ds))
	for g := 0; g < p.Batch(); g++ {
		ag := a[g*p.M*p.K:]
		kg := b0[g*p.N*p.K:]
		vg := b1[g*p.N*p.O:]
		for m := 0; m < p.M; m++ {
			mx := math.Inf(-1)
			for n := 0; n < p.N; n++ {
				if masked && n > m {
					s[n] = math.Inf(-1)
					continue
				}
				var dot float64
				for k := 0; k < p.K; k++ {
					dot += ag[m*p.K+k] * kg[n*p.K+k]
				}
				for i, d := range ds {
					dv[i] = d[(g*p.M+m)*p.N+n]
				}
				s[n] = accOp.Apply(dot, dv)
				mx = math.Max(mx, s[n])
			}
			var sum float64
			for n := range s {
				s[n] = math.Exp(s[n] - mx)
				sum += s[n]
			}
			dst := out[(g*p.M+m)*p.O : (g*p.M+m+1)*p.O]
			for n := range s {
				w := s[n] / sum
				if w == 0 {
					continue
				}
				for o := range dst {
					dst[o] += w * vg[n*p.O+o]
				}
			}
		}
	}
	return out
}
