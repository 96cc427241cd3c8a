package workload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/kprof/internal/elementwise"
	"github.com/samcharles93/kprof/internal/kernel"
	"github.com/samcharles93/kprof/internal/tensor"
	"github.com/samcharles93/kprof/internal/verify"
)

// File is the YAML form of a workload. Exactly one shape section must
// match Kind.
type File struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Kind        kernel.Kind `yaml:"kind"`
	Spatial     int         `yaml:"spatial,omitempty"`
	Masked      bool        `yaml:"masked,omitempty"`

	Types   FileTypes          `yaml:"types"`
	Layouts FileLayouts        `yaml:"layouts"`
	Ops     FileOps            `yaml:"ops,omitempty"`
	Params  elementwise.Params `yaml:"params,omitempty"`

	Gemm        *FileGemm        `yaml:"gemm,omitempty"`
	Conv        *FileConv        `yaml:"conv,omitempty"`
	Attention   *FileAttention   `yaml:"attention,omitempty"`
	Contraction *FileContraction `yaml:"contraction,omitempty"`

	Ranges    map[string][2]float64 `yaml:"ranges,omitempty"`
	Tolerance *verify.Tolerance     `yaml:"tolerance,omitempty"`
}

type FileTypes struct {
	A  tensor.DataType   `yaml:"a"`
	B  tensor.DataType   `yaml:"b"`
	B1 tensor.DataType   `yaml:"b1,omitempty"`
	E  tensor.DataType   `yaml:"e"`
	Ds []tensor.DataType `yaml:"ds,omitempty"`
}

type FileLayouts struct {
	A  kernel.Layout   `yaml:"a"`
	B  kernel.Layout   `yaml:"b"`
	B1 kernel.Layout   `yaml:"b1,omitempty"`
	E  kernel.Layout   `yaml:"e"`
	Ds []kernel.Layout `yaml:"ds,omitempty"`
}

type FileOps struct {
	A   string `yaml:"a,omitempty"`
	B   string `yaml:"b,omitempty"`
	Acc string `yaml:"acc,omitempty"`
	CDE string `yaml:"cde,omitempty"`
}

type FileGemm struct {
	M       int `yaml:"m"`
	N       int `yaml:"n"`
	K       int `yaml:"k"`
	StrideA int `yaml:"stride_a,omitempty"`
	StrideB int `yaml:"stride_b,omitempty"`
	StrideE int `yaml:"stride_e,omitempty"`
}

// FileConv leaves strides and dilations at 1 and pads at 0 when omitted.
type FileConv struct {
	G         int   `yaml:"g"`
	N         int   `yaml:"n"`
	K         int   `yaml:"k"`
	C         int   `yaml:"c"`
	Input     []int `yaml:"input"`
	Filter    []int `yaml:"filter"`
	Strides   []int `yaml:"strides,omitempty"`
	Dilations []int `yaml:"dilations,omitempty"`
	LeftPads  []int `yaml:"left_pads,omitempty"`
	RightPads []int `yaml:"right_pads,omitempty"`
}

type FileAttention struct {
	G0 int `yaml:"g0"`
	G1 int `yaml:"g1"`
	M  int `yaml:"m"`
	N  int `yaml:"n"`
	K  int `yaml:"k"`
	O  int `yaml:"o"`
}

type FileContraction struct {
	M        [2]int `yaml:"m"`
	N        [2]int `yaml:"n"`
	K        [2]int `yaml:"k"`
	AStrides []int  `yaml:"a_strides,omitempty"`
	BStrides []int  `yaml:"b_strides,omitempty"`
	DStrides []int  `yaml:"d_strides,omitempty"`
	EStrides []int  `yaml:"e_strides,omitempty"`
}

func fill(v []int, n, def int) []int {
	if len(v) > 0 {
		return v
	}
	out := make([]int, n)
	for i := range out {
		out[i] = def
	}
	return out
}

// Workload converts f and validates the result.
func (f *File) Workload() (*Workload, error) {
	if len(f.Types.Ds) != len(f.Layouts.Ds) {
		return nil, fmt.Errorf("workload %q: %d D types but %d D layouts", f.Name, len(f.Types.Ds), len(f.Layouts.Ds))
	}
	w := &Workload{
		Name:        f.Name,
		Description: f.Description,
		Signature: kernel.Signature{
			Kind:          f.Kind,
			NumDimSpatial: f.Spatial,
			A:             f.Types.A, B: f.Types.B, B1: f.Types.B1, E: f.Types.E,
			ALayout: f.Layouts.A, BLayout: f.Layouts.B, B1Layout: f.Layouts.B1, ELayout: f.Layouts.E,
			AOp: f.Ops.A, BOp: f.Ops.B, AccOp: f.Ops.Acc, CDEOp: f.Ops.CDE,
			Masked: f.Masked,
		},
		Params: f.Params,
	}
	if len(f.Types.Ds) > 0 {
		w.Signature.Ds = kernel.DTuple(f.Types.Ds...)
		w.Signature.DsLayout = kernel.LayoutTuple(f.Layouts.Ds...)
	}
	if f.Tolerance != nil {
		w.Tolerance = *f.Tolerance
	}
	for role, r := range f.Ranges {
		if r[1] < r[0] {
			return nil, fmt.Errorf("workload %q: range for %s is empty", f.Name, role)
		}
		if w.Ranges == nil {
			w.Ranges = make(map[kernel.Role]Range)
		}
		w.Ranges[kernel.Role(strings.ToLower(role))] = Range{Lo: r[0], Hi: r[1]}
	}

	switch f.Kind {
	case kernel.KindGemm:
		if f.Gemm == nil {
			return nil, fmt.Errorf("workload %q: kind gemm needs a gemm section", f.Name)
		}
		g := f.Gemm
		w.Problem = kernel.GemmProblem{M: g.M, N: g.N, K: g.K, StrideA: g.StrideA, StrideB: g.StrideB, StrideE: g.StrideE}
	case kernel.KindGroupedConvFwd:
		if f.Conv == nil {
			return nil, fmt.Errorf("workload %q: kind grouped_conv_fwd needs a conv section", f.Name)
		}
		c := f.Conv
		nd := len(c.Input)
		if w.Signature.NumDimSpatial == 0 {
			w.Signature.NumDimSpatial = nd
		}
		w.Problem = kernel.ConvProblem{
			G: c.G, N: c.N, K: c.K, C: c.C,
			InputSpatial:  c.Input,
			FilterSpatial: c.Filter,
			Strides:       fill(c.Strides, nd, 1),
			Dilations:     fill(c.Dilations, nd, 1),
			LeftPads:      fill(c.LeftPads, nd, 0),
			RightPads:     fill(c.RightPads, nd, 0),
		}
	case kernel.KindBatchedGemmSoftmaxGemm:
		if f.Attention == nil {
			return nil, fmt.Errorf("workload %q: kind batched_gemm_softmax_gemm needs an attention section", f.Name)
		}
		a := f.Attention
		w.Problem = kernel.AttentionProblem{G0: a.G0, G1: a.G1, M: a.M, N: a.N, K: a.K, O: a.O}
	case kernel.KindContractionBilinear:
		if f.Contraction == nil {
			return nil, fmt.Errorf("workload %q: kind contraction_bilinear needs a contraction section", f.Name)
		}
		c := f.Contraction
		w.Problem = kernel.ContractionProblem{
			M0: c.M[0], M1: c.M[1], N0: c.N[0], N1: c.N[1], K0: c.K[0], K1: c.K[1],
			AStrides: c.AStrides, BStrides: c.BStrides, DStrides: c.DStrides, EStrides: c.EStrides,
		}
	default:
		return nil, fmt.Errorf("workload %q: unsupported kind %s", f.Name, f.Kind)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// ToFile is the inverse of File.Workload.
func ToFile(w *Workload) *File {
	sig := w.Signature
	f := &File{
		Name:        w.Name,
		Description: w.Description,
		Kind:        sig.Kind,
		Spatial:     sig.NumDimSpatial,
		Masked:      sig.Masked,
		Types:       FileTypes{A: sig.A, B: sig.B, B1: sig.B1, E: sig.E, Ds: sig.DTypes()},
		Layouts: FileLayouts{A: sig.ALayout, B: sig.BLayout, B1: sig.B1Layout, E: sig.ELayout,
			Ds: splitLayouts(sig.DsLayout)},
		Ops:    FileOps{A: sig.AOp, B: sig.BOp, Acc: sig.AccOp, CDE: sig.CDEOp},
		Params: w.Params,
	}
	if w.Tolerance != (verify.Tolerance{}) {
		tol := w.Tolerance
		f.Tolerance = &tol
	}
	for role, r := range w.Ranges {
		if f.Ranges == nil {
			f.Ranges = make(map[string][2]float64)
		}
		f.Ranges[string(role)] = [2]float64{r.Lo, r.Hi}
	}
	switch p := w.Problem.(type) {
	case kernel.GemmProblem:
		f.Gemm = &FileGemm{M: p.M, N: p.N, K: p.K, StrideA: p.StrideA, StrideB: p.StrideB, StrideE: p.StrideE}
	case kernel.ConvProblem:
		f.Conv = &FileConv{G: p.G, N: p.N, K: p.K, C: p.C,
			Input: p.InputSpatial, Filter: p.FilterSpatial,
			Strides: p.Strides, Dilations: p.Dilations, LeftPads: p.LeftPads, RightPads: p.RightPads}
	case kernel.AttentionProblem:
		f.Attention = &FileAttention{G0: p.G0, G1: p.G1, M: p.M, N: p.N, K: p.K, O: p.O}
	case kernel.ContractionProblem:
		f.Contraction = &FileContraction{
			M: [2]int{p.M0, p.M1}, N: [2]int{p.N0, p.N1}, K: [2]int{p.K0, p.K1},
			AStrides: p.AStrides, BStrides: p.BStrides, DStrides: p.DStrides, EStrides: p.EStrides,
		}
	}
	return f
}

func splitLayouts(s string) []kernel.Layout {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]kernel.Layout, len(parts))
	for i, p := range parts {
		out[i] = kernel.Layout(strings.TrimSpace(p))
	}
	return out
}

// Decode reads one workload from YAML. Unknown fields are rejected.
func Decode(r io.Reader) (*Workload, error) {
	f, err := decodeFile(r)
	if err != nil {
		return nil, err
	}
	return f.Workload()
}

func decodeFile(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty workload file")
		}
		return nil, fmt.Errorf("parse workload: %w", err)
	}
	return &f, nil
}

// Encode writes w as YAML.
func Encode(out io.Writer, w *Workload) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(ToFile(w)); err != nil {
		return err
	}
	return enc.Close()
}

// LoadFile reads a workload from path. A missing name defaults to the
// file's base name.
func LoadFile(path string) (*Workload, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read workload: %w", err)
	}
	defer fh.Close()
	f, err := decodeFile(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	w, err := f.Workload()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Resolve returns the preset named ref from s, or loads ref as a YAML file
// when it ends in .yaml or .yml.
func Resolve(s *Set, ref string) (*Workload, error) {
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".yaml", ".yml":
		return LoadFile(ref)
	}
	return s.Get(ref)
}
