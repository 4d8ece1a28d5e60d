package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mruberry/xla/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float64, 2, 3))
	require.True(t, tensor.Ok())
	require.Equal(t, dtypes.Float64, tensor.DType())
	require.Equal(t, 6, tensor.Size())
	require.Equal(t, []float64{0, 0, 0, 0, 0, 0}, CopyFlatData[float64](tensor))

	scalar := FromScalar(int32(7))
	require.True(t, scalar.IsScalar())
	require.Equal(t, int32(7), ToScalar[int32](scalar))
}

func TestFromScalarAndDimensions(t *testing.T) {
	tensor := FromScalarAndDimensions(float32(1.5), 2, 2)
	require.Equal(t, shapes.Make(dtypes.Float32, 2, 2), tensor.Shape())
	require.Equal(t, []float32{1.5, 1.5, 1.5, 1.5}, CopyFlatData[float32](tensor))
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2)
	require.Equal(t, shapes.Make(dtypes.Int8, 2, 2), tensor.Shape())
	require.Equal(t, [][]int8{{1, 2}, {3, 4}}, tensor.Value())

	require.Panics(t, func() {
		FromFlatDataAndDimensions([]int8{1, 2, 3}, 2, 2)
	})
}

func TestFlatDataAccess(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]uint32{1, 2, 3, 4, 5, 6}, 3, 2)
	ConstFlatData(tensor, func(flat []uint32) {
		require.Equal(t, []uint32{1, 2, 3, 4, 5, 6}, flat)
	})
	MutableFlatData(tensor, func(flat []uint32) {
		flat[0] = 100
	})
	require.Equal(t, uint32(100), CopyFlatData[uint32](tensor)[0])

	// dtype mismatches panic.
	require.Panics(t, func() {
		ConstFlatData(tensor, func(flat []float32) {})
	})

	tensor.ConstBytes(func(data []byte) {
		require.Len(t, data, 6*4)
	})
	tensor.MutableBytes(func(data []byte) {
		require.Len(t, data, int(tensor.Memory()))
	})
}

func TestAssignFlatData(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Int64, 3))
	AssignFlatData(tensor, []int64{5, 7, 11})
	require.Equal(t, []int64{5, 7, 11}, CopyFlatData[int64](tensor))
	require.Panics(t, func() {
		AssignFlatData(tensor, []int64{1, 2})
	})
}

func TestValue(t *testing.T) {
	require.Equal(t, float64(13), FromScalar(float64(13)).Value())
	require.Equal(t, []int32{1, 2, 3}, FromFlatDataAndDimensions([]int32{1, 2, 3}, 3).Value())
	require.Equal(t, [][][]float32{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}},
		FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 2, 2).Value())
}

func TestTuple(t *testing.T) {
	a := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	b := FromScalar(int64(42))
	tuple := FromTuple(a, b)
	require.True(t, tuple.IsTuple())
	require.Equal(t, 2, tuple.TupleSize())
	require.Same(t, a, tuple.TupleElement(0))
	require.Same(t, b, tuple.TupleElement(1))
	require.Equal(t, []any{[][]float32{{1, 2}, {3, 4}}, int64(42)}, tuple.Value())

	// Flat data access on tuples panics.
	require.Panics(t, func() {
		tuple.ConstFlatData(func(flat any) {})
	})

	zeros := FromShape(tuple.Shape())
	require.True(t, zeros.IsTuple())
	require.Equal(t, 2, zeros.TupleSize())
	require.Equal(t, []float32{0, 0, 0, 0}, CopyFlatData[float32](zeros.TupleElement(0)))
}

func TestEqualAndClone(t *testing.T) {
	a := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	b := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	c := FromFlatDataAndDimensions([]float32{1, 2, 3, 5}, 2, 2)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 4)))

	clone := a.Clone()
	assert.True(t, a.Equal(clone))
	MutableFlatData(clone, func(flat []float32) { flat[0] = -1 })
	assert.False(t, a.Equal(clone))

	tuple := FromTuple(a, b)
	tupleClone := tuple.Clone()
	assert.True(t, tuple.Equal(tupleClone))
	MutableFlatData(tupleClone.TupleElement(0), func(flat []float32) { flat[0] = -1 })
	assert.False(t, tuple.Equal(tupleClone))
}

func TestFloat16(t *testing.T) {
	values := []float16.Float16{
		float16.Fromfloat32(1.0),
		float16.Fromfloat32(-2.5),
		float16.Fromfloat32(0.5),
		float16.Fromfloat32(3.0),
	}
	tensor := FromFlatDataAndDimensions(values, 2, 2)
	require.Equal(t, dtypes.Float16, tensor.DType())
	require.Equal(t, uintptr(8), tensor.Memory())
	ConstFlatData(tensor, func(flat []float16.Float16) {
		require.Equal(t, float32(-2.5), flat[1].Float32())
	})
}

func TestLayoutStrides(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3, 4))
	require.Equal(t, []int{12, 4, 1}, tensor.LayoutStrides())
	require.Empty(t, FromScalar(int32(0)).LayoutStrides())
}

func TestFinalizeAll(t *testing.T) {
	tensor := FromScalar(float32(1))
	require.True(t, tensor.Ok())
	tensor.FinalizeAll()
	require.False(t, tensor.Ok())
	require.Panics(t, func() { tensor.AssertValid() })
}
