package tensor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errRankMismatch   = errors.New("lengths and strides rank mismatch")
	errNegativeLength = errors.New("negative length")
	errNegativeStride = errors.New("negative stride")
)

// Descriptor is a strided view over a flat element space. A stride of 0
// broadcasts along that dimension.
type Descriptor struct {
	Lengths []int
	Strides []int
}

// Packed returns a row-major descriptor: the last dimension is contiguous.
func Packed(lengths ...int) Descriptor {
	strides := make([]int, len(lengths))
	s := 1
	for i := len(lengths) - 1; i >= 0; i-- {
		strides[i] = s
		s *= lengths[i]
	}
	return Descriptor{Lengths: append([]int(nil), lengths...), Strides: strides}
}

// NewDescriptor validates and copies lengths and strides.
func NewDescriptor(lengths, strides []int) (Descriptor, error) {
	if len(lengths) != len(strides) {
		return Descriptor{}, errRankMismatch
	}
	for i := range lengths {
		if lengths[i] < 0 {
			return Descriptor{}, errNegativeLength
		}
		if strides[i] < 0 {
			return Descriptor{}, errNegativeStride
		}
	}
	return Descriptor{
		Lengths: append([]int(nil), lengths...),
		Strides: append([]int(nil), strides...),
	}, nil
}

// MustDescriptor is NewDescriptor for statically known shapes.
func MustDescriptor(lengths, strides []int) Descriptor {
	d, err := NewDescriptor(lengths, strides)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Descriptor) Rank() int {
	return len(d.Lengths)
}

// ElementCount is the number of logical elements.
func (d Descriptor) ElementCount() int {
	n := 1
	for _, l := range d.Lengths {
		n *= l
	}
	return n
}

// ElementSpaceSize is the number of storage elements the view touches.
func (d Descriptor) ElementSpaceSize() int {
	size := 1
	for i, l := range d.Lengths {
		if l == 0 {
			return 0
		}
		size += (l - 1) * d.Strides[i]
	}
	return size
}

func (d Descriptor) Offset(idx ...int) int {
	off := 0
	for i, v := range idx {
		off += v * d.Strides[i]
	}
	return off
}

// IsPacked reports whether d is the row-major packing of its lengths.
func (d Descriptor) IsPacked() bool {
	p := Packed(d.Lengths...)
	for i := range d.Strides {
		if d.Lengths[i] > 1 && d.Strides[i] != p.Strides[i] {
			return false
		}
	}
	return true
}

// ForEach visits every logical index in row-major order. idx is reused
// between calls.
func (d Descriptor) ForEach(fn func(idx []int)) {
	if d.ElementCount() == 0 {
		return
	}
	idx := make([]int, len(d.Lengths))
	for {
		fn(idx)
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < d.Lengths[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func (d Descriptor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dim %d, lengths {%s}, strides {%s}", len(d.Lengths), joinInts(d.Lengths), joinInts(d.Strides))
	return b.String()
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
