package client

import (
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mruberry/xla/types/shapes"
	"github.com/mruberry/xla/types/tensors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 2, 2)
	h := NewHandle("SIM:0", shape)
	require.Equal(t, "SIM:0", h.Device())
	require.True(t, shape.Equal(h.Shape()))
	require.Greater(t, h.ID(), int64(0))
	require.Contains(t, h.String(), "SIM:0")

	h2 := NewHandle("SIM:1", shape)
	require.Greater(t, h2.ID(), h.ID(), "ids must increase monotonically")
}

func TestHandleIDsUniqueUnderConcurrency(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 100
	ids := make([][]int64, goroutines)
	var wg sync.WaitGroup
	for ii := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				ids[ii] = append(ids[ii], NextHandleID())
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, perG := range ids {
		require.Len(t, perG, perGoroutine)
		for _, id := range perG {
			require.False(t, seen[id], "id %d issued twice", id)
			seen[id] = true
		}
	}
}

func TestSourceFromTensor(t *testing.T) {
	tensor := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3}, 3)
	source := SourceFromTensor(tensor, "SIM:0")
	require.Equal(t, "SIM:0", source.Device)
	require.True(t, tensor.Shape().Equal(source.Shape))

	buf := make([]byte, tensor.Memory())
	require.NoError(t, source.Populate(buf))
	tensor.ConstBytes(func(data []byte) {
		require.Equal(t, data, buf)
	})

	// Wrong buffer size is rejected.
	require.Error(t, source.Populate(make([]byte, 1)))
}

func TestProgramShapeString(t *testing.T) {
	p := ProgramShape{
		Parameters: []shapes.Shape{
			shapes.Make(dtypes.Float32, 2, 2),
			shapes.Make(dtypes.Int64, 3),
		},
		Result: shapes.Make(dtypes.Float32, 2),
	}
	assert.Equal(t, "((Float32)[2 2], (Int64)[3]) -> (Float32)[2]", p.String())
}

func TestDefaultExecuteOptions(t *testing.T) {
	assert.True(t, DefaultExecuteOptions().ExplodeTuple)
	assert.True(t, DefaultExecuteComputationOptions().ExplodeTuple)
	assert.True(t, DefaultExecuteReplicatedOptions().ExplodeTuple)
	assert.True(t, DefaultExecuteParallelOptions().ExplodeTuple)
}
