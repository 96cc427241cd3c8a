// Package workload binds an operation signature to a concrete problem,
// its element-wise operator constants, input generation and the
// tolerance its output is verified with.
package workload

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/samcharles93/kprof/internal/device"
	"github.com/samcharles93/kprof/internal/elementwise"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/reference"
	"github.com/samcharles93/kprof/internal/tensor"
	"github.com/samcharles93/kprof/internal/verify"
)

var ErrUnknown = errors.New("unknown workload")

// Range is the half-open interval [Lo, Hi) inputs are drawn from.
// Integer operands draw integers.
type Range struct {
	Lo, Hi float64
}

// DefaultRange is [-5, 5) for integer types and [-0.5, 0.5) otherwise.
func DefaultRange(dt tensor.DataType) Range {
	if dt.IsInteger() {
		return Range{Lo: -5, Hi: 5}
	}
	return Range{Lo: -0.5, Hi: 0.5}
}

type Workload struct {
	Name        string
	Description string
	Signature   kernel.Signature
	Problem     kernel.Problem
	Params      elementwise.Params

	// Tolerance overrides the output type's default when non-zero.
	Tolerance verify.Tolerance
	// Ranges overrides DefaultRange per operand role.
	Ranges map[kernel.Role]Range
}

// Validate checks the problem and that the operator names resolve with
// enough D operands for their arity.
func (w *Workload) Validate() error {
	if w.Problem == nil {
		return fmt.Errorf("workload %q: %w: no problem", w.Name, kernel.ErrInvalidProblem)
	}
	if w.Problem.Kind() != w.Signature.Kind {
		return fmt.Errorf("workload %q: problem kind %s does not match signature kind %s", w.Name, w.Problem.Kind(), w.Signature.Kind)
	}
	if err := w.Problem.Validate(); err != nil {
		return fmt.Errorf("workload %q: %w", w.Name, err)
	}
	if w.Signature.Kind == kernel.KindGroupedConvFwd {
		if nd := w.Problem.(kernel.ConvProblem).NumDimSpatial(); nd != w.Signature.NumDimSpatial {
			return fmt.Errorf("workload %q: problem has %d spatial dims, signature %d", w.Name, nd, w.Signature.NumDimSpatial)
		}
	}
	ops, err := w.Operators()
	if err != nil {
		return err
	}
	numD := len(w.Signature.DTypes())
	consumer := ops.CDE
	if w.Signature.Kind == kernel.KindBatchedGemmSoftmaxGemm {
		consumer = kernel.Or(ops.Acc)
	}
	if consumer.Arity() > numD {
		return fmt.Errorf("workload %q: operator %s needs %d D operands, signature has %d", w.Name, consumer.Name(), consumer.Arity(), numD)
	}
	return nil
}

// Operators parses the signature's operator names with the workload's
// constants.
func (w *Workload) Operators() (kernel.Operators, error) {
	var ops kernel.Operators
	for _, f := range []struct {
		name string
		dst  *elementwise.Op
	}{
		{w.Signature.AOp, &ops.A},
		{w.Signature.BOp, &ops.B},
		{w.Signature.AccOp, &ops.Acc},
		{w.Signature.CDEOp, &ops.CDE},
	} {
		op, err := elementwise.Parse(f.name, w.Params)
		if err != nil {
			return kernel.Operators{}, fmt.Errorf("workload %q: %w", w.Name, err)
		}
		*f.dst = op
	}
	return ops, nil
}

func (w *Workload) Operands() []kernel.Operand {
	return w.Problem.Operands(w.Signature)
}

// Output is the E operand.
func (w *Workload) Output() kernel.Operand {
	ops := w.Operands()
	return ops[len(ops)-1]
}

// VerifyTolerance is the tolerance Verify applies.
func (w *Workload) VerifyTolerance() verify.Tolerance {
	if w.Tolerance != (verify.Tolerance{}) {
		return w.Tolerance
	}
	return verify.DefaultTolerance(w.Signature.E)
}

func (w *Workload) rangeFor(op kernel.Operand) Range {
	if r, ok := w.Ranges[op.Role]; ok {
		return r
	}
	return DefaultRange(op.DType)
}

// Generate builds every input operand on the host. The whole element
// space is filled, so broadcast operands hold defined values in every
// storage slot. The same seed always yields the same inputs.
func (w *Workload) Generate(seed uint64) (reference.Inputs, error) {
	var in reference.Inputs
	for i, op := range w.Operands() {
		if op.Role == kernel.RoleE {
			continue
		}
		t := tensor.New(op.DType, op.Desc)
		storage, err := tensor.FromRaw(op.DType, tensor.Packed(op.Desc.ElementSpaceSize()), t.Raw)
		if err != nil {
			return reference.Inputs{}, fmt.Errorf("operand %s: %w", op.Role, err)
		}
		r := w.rangeFor(op)
		s := seed*31 + uint64(i)
		if op.DType.IsInteger() {
			tensor.FillUniform(storage, int64(r.Lo), int64(r.Hi), s)
		} else {
			tensor.FillUniform(storage, r.Lo, r.Hi, s)
		}
		switch op.Role {
		case kernel.RoleA:
			in.A = t
		case kernel.RoleB:
			in.B = t
		case kernel.RoleB1:
			in.B1 = t
		default:
			in.Ds = append(in.Ds, t)
		}
	}
	return in, nil
}

// Stage copies the inputs into buffers allocated from arena and
// allocates a zeroed output buffer. Buffers are released with the arena.
func (w *Workload) Stage(arena *device.Arena, in reference.Inputs) (kernel.Buffers, error) {
	var bufs kernel.Buffers
	var err error
	if bufs.A, err = arena.AllocFrom(in.A.Raw); err != nil {
		return kernel.Buffers{}, fmt.Errorf("stage a: %w", err)
	}
	if bufs.B, err = arena.AllocFrom(in.B.Raw); err != nil {
		return kernel.Buffers{}, fmt.Errorf("stage b: %w", err)
	}
	if in.B1 != nil {
		if bufs.B1, err = arena.AllocFrom(in.B1.Raw); err != nil {
			return kernel.Buffers{}, fmt.Errorf("stage b1: %w", err)
		}
	}
	for i, d := range in.Ds {
		buf, err := arena.AllocFrom(d.Raw)
		if err != nil {
			return kernel.Buffers{}, fmt.Errorf("stage %s: %w", kernel.RoleD(i), err)
		}
		bufs.Ds = append(bufs.Ds, buf)
	}
	if bufs.E, err = arena.Alloc(w.Output().Bytes()); err != nil {
		return kernel.Buffers{}, fmt.Errorf("stage e: %w", err)
	}
	return bufs, nil
}

// Verify wraps raw output bytes in the E descriptor and compares them
// with the reference result for in.
func (w *Workload) Verify(out []byte, in reference.Inputs) (verify.Report, error) {
	e := w.Output()
	got, err := tensor.FromRaw(e.DType, e.Desc, out)
	if err != nil {
		return verify.Report{}, fmt.Errorf("output: %w", err)
	}
	ops, err := w.Operators()
	if err != nil {
		return verify.Report{}, err
	}
	want, err := reference.Compute(w.Signature, w.Problem, ops, in)
	if err != nil {
		return verify.Report{}, fmt.Errorf("reference: %w", err)
	}
	return verify.Compare(got, want, w.VerifyTolerance()), nil
}

// Describe writes one line per operand, e.g.
// "a_m_k: dim 2, lengths {64, 32}, strides {32, 1}".
func (w *Workload) Describe(out io.Writer) error {
	for _, op := range w.Operands() {
		if _, err := fmt.Fprintf(out, "%s: %s\n", operandLabel(w.Signature.Kind, op.Role), op.Desc); err != nil {
			return err
		}
	}
	return nil
}

var operandDims = map[kernel.Kind]map[kernel.Role]string{
	kernel.KindGemm:                   {kernel.RoleA: "m_k", kernel.RoleB: "k_n", kernel.RoleE: "m_n"},
	kernel.KindGroupedConvFwd:         {kernel.RoleA: "g_n_c_wis", kernel.RoleB: "g_k_c_xs", kernel.RoleE: "g_n_k_wos"},
	kernel.KindBatchedGemmSoftmaxGemm: {kernel.RoleA: "g0_g1_m_k", kernel.RoleB: "g0_g1_n_k", kernel.RoleB1: "g0_g1_n_o", kernel.RoleE: "g0_g1_m_o"},
	kernel.KindContractionBilinear:    {kernel.RoleA: "m0_m1_k0_k1", kernel.RoleB: "n0_n1_k0_k1", kernel.RoleE: "m0_m1_n0_n1"},
}

func operandLabel(k kernel.Kind, r kernel.Role) string {
	if dims, ok := operandDims[k][r]; ok {
		return string(r) + "_" + dims
	}
	if dims, ok := operandDims[k][kernel.RoleE]; ok {
		return string(r) + "_" + dims
	}
	return string(r)
}

// Set is a name-indexed collection of workloads.
type Set struct {
	byName map[string]*Workload
}

func NewSet(ws ...*Workload) (*Set, error) {
	s := &Set{byName: make(map[string]*Workload, len(ws))}
	for _, w := range ws {
		if err := s.Add(w); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add validates w and stores it under its name.
func (s *Set) Add(w *Workload) error {
	if w.Name == "" {
		return fmt.Errorf("workload has no name")
	}
	if _, dup := s.byName[w.Name]; dup {
		return fmt.Errorf("duplicate workload %q", w.Name)
	}
	if err := w.Validate(); err != nil {
		return err
	}
	s.byName[w.Name] = w
	return nil
}

func (s *Set) Get(name string) (*Workload, error) {
	w, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return w, nil
}

// Names returns every workload name in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Set) All() []*Workload {
	out := make([]*Workload, 0, len(s.byName))
	for _, n := range s.Names() {
		out = append(out, s.byName[n])
	}
	return out
}
