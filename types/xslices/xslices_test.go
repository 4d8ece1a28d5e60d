package xslices

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtAndLast(t *testing.T) {
	s := []int{10, 20, 30}
	require.Equal(t, 10, At(s, 0))
	require.Equal(t, 30, At(s, -1))
	require.Equal(t, 20, At(s, -2))
	require.Equal(t, 30, Last(s))

	SetAt(s, -1, 99)
	require.Equal(t, []int{10, 20, 99}, s)
}

func TestCopyAndFill(t *testing.T) {
	require.Nil(t, Copy[int](nil))
	s := []float32{1, 2, 3}
	s2 := Copy(s)
	s2[0] = 7
	require.Equal(t, []float32{1, 2, 3}, s)
	require.Equal(t, []float32{7, 2, 3}, s2)

	f := make([]int, 5)
	FillSlice(f, 3)
	require.Equal(t, []int{3, 3, 3, 3, 3}, f)
	require.Equal(t, []string{"x", "x"}, SliceWithValue(2, "x"))
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"b": 1, "a": 2, "c": 3}
	require.Equal(t, []string{"a", "b", "c"}, SortedKeys(m))
	require.Len(t, Keys(m), 3)
}

func TestIota(t *testing.T) {
	require.Equal(t, []float64{3, 4}, Iota(3.0, 2))
	require.Equal(t, []int{0, 1, 2, 3}, Iota(0, 4))
}

func TestMap(t *testing.T) {
	in := []int{1, 2, 3}
	out := Map(in, func(e int) float64 { return float64(2 * e) })
	require.Equal(t, []float64{2, 4, 6}, out)
}

func TestMapParallel(t *testing.T) {
	in := Iota(0, 100)
	out := MapParallel(in, func(e int) int { return e * e })
	for ii, v := range out {
		require.Equal(t, ii*ii, v)
	}
}

func TestMapParallelErr(t *testing.T) {
	in := Iota(0, 10)
	out, err := MapParallelErr(in, func(e int) (int, error) { return e + 1, nil })
	require.NoError(t, err)
	require.Equal(t, Iota(1, 10), out)

	_, err = MapParallelErr(in, func(e int) (int, error) {
		if e == 7 {
			return 0, errTest
		}
		return e, nil
	})
	require.ErrorIs(t, err, errTest)
}

var errTest = errors.New("test error")
