package tensor

import (
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/x448/float16"
)

// DataType identifies the storage encoding of a tensor element.
type DataType uint8

const (
	Invalid DataType = iota
	I8
	I32
	F16
	BF16
	F32
	F64
)

var dtypeNames = [...]string{
	Invalid: "invalid",
	I8:      "i8",
	I32:     "i32",
	F16:     "f16",
	BF16:    "bf16",
	F32:     "f32",
	F64:     "f64",
}

func (dt DataType) String() string {
	if int(dt) < len(dtypeNames) {
		return dtypeNames[dt]
	}
	return fmt.Sprintf("dtype(%d)", uint8(dt))
}

// Size returns the element size in bytes, or 0 for Invalid.
func (dt DataType) Size() int {
	switch dt {
	case I8:
		return 1
	case F16, BF16:
		return 2
	case I32, F32:
		return 4
	case F64:
		return 8
	default:
		return 0
	}
}

// IsInteger reports whether values of dt are compared exactly.
func (dt DataType) IsInteger() bool {
	return dt == I8 || dt == I32
}

// ParseDataType accepts the short names plus the common long aliases.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "i8", "int8":
		return I8, nil
	case "i32", "int32":
		return I32, nil
	case "f16", "fp16", "half":
		return F16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	case "f32", "fp32", "float":
		return F32, nil
	case "f64", "fp64", "double":
		return F64, nil
	default:
		return Invalid, fmt.Errorf("unknown data type %q", s)
	}
}

func (dt DataType) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

func (dt *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*dt = v
	return nil
}

// BFloat16 is the upper half of an IEEE float32.
type BFloat16 uint16

func (b BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// BFloat16From rounds to nearest-even on the truncated 16 bits.
func BFloat16From(f float32) BFloat16 {
	u := math.Float32bits(f)
	if u&0x7F800000 == 0x7F800000 && u&0x7FFFFF != 0 {
		return BFloat16(u>>16 | 0x40)
	}
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return BFloat16((u + rnd) >> 16)
}

// f16Table maps every FP16 bit-pattern to float32.
var f16Table = func() [1 << 16]float32 {
	var tbl [1 << 16]float32
	for i := range tbl {
		tbl[i] = float16.Frombits(uint16(i)).Float32()
	}
	return tbl
}()

// F16ToF32 decodes an FP16 value through the lookup table.
func F16ToF32(h float16.Float16) float32 {
	return f16Table[h]
}

// Scalar is the set of Go types host storage is viewed as.
type Scalar interface {
	~int8 | ~int32 | ~uint16 | ~float32 | ~float64
}

// View reinterprets raw as a slice of T. raw must be aligned for T, which
// holds for every buffer allocated through this package or the host device.
func View[T Scalar](raw []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(raw) < size {
		return nil
	}
	if uintptr(unsafe.Pointer(&raw[0]))%uintptr(size) != 0 {
		panic("tensor: misaligned view")
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), len(raw)/size)
}

// AlignedBytes allocates n zeroed bytes aligned to 8.
func AlignedBytes(n int) []byte {
	if n <= 0 {
		return nil
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// Load decodes element i of raw as float64.
func (dt DataType) Load(raw []byte, i int) float64 {
	switch dt {
	case I8:
		return float64(int8(raw[i]))
	case I32:
		return float64(View[int32](raw)[i])
	case F16:
		return float64(F16ToF32(View[float16.Float16](raw)[i]))
	case BF16:
		return float64(View[BFloat16](raw)[i].Float32())
	case F32:
		return float64(View[float32](raw)[i])
	case F64:
		return View[float64](raw)[i]
	default:
		panic("tensor: load of invalid dtype")
	}
}

// Store encodes v into element i of raw. Integer types round half to even
// and saturate; floating types round to nearest.
func (dt DataType) Store(raw []byte, i int, v float64) {
	switch dt {
	case I8:
		raw[i] = byte(int8(SaturateInt(v, math.MinInt8, math.MaxInt8)))
	case I32:
		View[int32](raw)[i] = int32(SaturateInt(v, math.MinInt32, math.MaxInt32))
	case F16:
		View[float16.Float16](raw)[i] = float16.Fromfloat32(float32(v))
	case BF16:
		View[BFloat16](raw)[i] = BFloat16From(float32(v))
	case F32:
		View[float32](raw)[i] = float32(v)
	case F64:
		View[float64](raw)[i] = v
	default:
		panic("tensor: store of invalid dtype")
	}
}

// SaturateInt rounds half to even and clamps into [lo, hi]. NaN maps to 0.
func SaturateInt(v float64, lo, hi int64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	r := math.RoundToEven(v)
	if r < float64(lo) {
		return lo
	}
	if r > float64(hi) {
		return hi
	}
	return int64(r)
}
