package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/kprof/internal/tensor"
)

func TestValuesSingleIntegerPerturbation(t *testing.T) {
	t.Parallel()

	rep := Values([]float64{1, 2, 4}, []float64{1, 2, 3}, true, Tolerance{})
	require.False(t, rep.OK)
	require.Equal(t, 1, rep.Mismatches)
	require.Equal(t, []int{2}, rep.First.Index)
	require.Equal(t, 1.0, rep.MaxAbsErr)

	rep = Values([]float64{1, 2, 3}, []float64{1, 2, 3}, true, Tolerance{})
	require.True(t, rep.OK)
	require.Zero(t, rep.Mismatches)
	require.Nil(t, rep.First)
}

func TestIntegerComparisonIgnoresTolerance(t *testing.T) {
	t.Parallel()

	rep := Values([]float64{10}, []float64{11}, true, Tolerance{RTol: 1, ATol: 1})
	require.False(t, rep.OK)
}

func TestFloatTolerance(t *testing.T) {
	t.Parallel()

	tol := Tolerance{RTol: 1e-3, ATol: 1e-3}
	require.True(t, Values([]float64{100.09}, []float64{100}, false, tol).OK)
	require.False(t, Values([]float64{100.2}, []float64{100}, false, tol).OK)
	require.True(t, Values([]float64{0.0009}, []float64{0}, false, tol).OK)
	require.False(t, Values([]float64{math.NaN()}, []float64{1}, false, tol).OK)
}

func TestCompareStridedTensors(t *testing.T) {
	t.Parallel()

	// Same logical 2x3 matrix, one row-major and one column-major.
	row := tensor.New(tensor.I8, tensor.Packed(2, 3))
	col := tensor.New(tensor.I8, tensor.MustDescriptor([]int{2, 3}, []int{1, 2}))
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			row.Set(float64(i*3+j), i, j)
			col.Set(float64(i*3+j), i, j)
		}
	}
	require.True(t, Compare(col, row, Tolerance{}).OK)

	col.Set(-1, 1, 2)
	rep := Compare(col, row, Tolerance{})
	require.False(t, rep.OK)
	require.Equal(t, []int{1, 2}, rep.First.Index)
}

func TestCompareShapeMismatch(t *testing.T) {
	t.Parallel()

	a := tensor.New(tensor.F32, tensor.Packed(4))
	b := tensor.New(tensor.F32, tensor.Packed(2, 2))
	require.False(t, Compare(a, b, DefaultTolerance(tensor.F32)).OK)
}

func TestReportString(t *testing.T) {
	t.Parallel()

	rep := Values([]float64{1, 5}, []float64{1, 2}, true, Tolerance{})
	require.Contains(t, rep.String(), "1 of 2 elements mismatch")
	require.Contains(t, rep.String(), "first at [1]")
}
