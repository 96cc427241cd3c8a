package tensor

import (
	"fmt"
	"math/rand/v2"

	"golang.org/x/exp/constraints"
)

// Tensor is host memory holding a strided view of DType elements.
type Tensor struct {
	DType DataType
	Desc  Descriptor
	Raw   []byte
}

// New allocates zeroed storage covering the descriptor's element space.
func New(dt DataType, desc Descriptor) *Tensor {
	return &Tensor{
		DType: dt,
		Desc:  desc,
		Raw:   AlignedBytes(desc.ElementSpaceSize() * dt.Size()),
	}
}

// FromRaw wraps existing bytes. raw must cover the element space.
func FromRaw(dt DataType, desc Descriptor, raw []byte) (*Tensor, error) {
	want := desc.ElementSpaceSize() * dt.Size()
	if len(raw) < want {
		return nil, fmt.Errorf("raw size %d smaller than element space %d bytes", len(raw), want)
	}
	return &Tensor{DType: dt, Desc: desc, Raw: raw[:want]}, nil
}

// Bytes is the storage size in bytes.
func (t *Tensor) Bytes() int64 {
	return int64(len(t.Raw))
}

func (t *Tensor) At(idx ...int) float64 {
	return t.DType.Load(t.Raw, t.Desc.Offset(idx...))
}

func (t *Tensor) Set(v float64, idx ...int) {
	t.DType.Store(t.Raw, t.Desc.Offset(idx...), v)
}

// Flatten returns the logical elements in row-major order.
func (t *Tensor) Flatten() []float64 {
	out := make([]float64, 0, t.Desc.ElementCount())
	t.Desc.ForEach(func(idx []int) {
		out = append(out, t.At(idx...))
	})
	return out
}

func (t *Tensor) String() string {
	return t.DType.String() + " " + t.Desc.String()
}

type number interface {
	constraints.Integer | constraints.Float
}

// FillUniform writes values drawn from [lo, hi) into every logical
// element. Integer bounds draw integers; the stream is fully determined
// by seed.
func FillUniform[T number](t *Tensor, lo, hi T, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	span := float64(hi) - float64(lo)
	integral := T(1)/T(2) == 0
	t.Desc.ForEach(func(idx []int) {
		v := float64(lo)
		switch {
		case span <= 0:
		case integral:
			v += float64(rng.IntN(int(span)))
		default:
			v += rng.Float64() * span
		}
		t.Set(v, idx...)
	})
}

// FillConstant sets every logical element to v.
func FillConstant(t *Tensor, v float64) {
	t.Desc.ForEach(func(idx []int) {
		t.Set(v, idx...)
	})
}
