package sim

import (
	"testing"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mruberry/xla/client"
	"github.com/mruberry/xla/types/shapes"
	"github.com/mruberry/xla/types/tensors"
	"github.com/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteComputation(t *testing.T) {
	c := newTestClient(t, "CPU=1")
	shape := shapes.Make(dtypes.Float32, 3)
	comp := compile(t, c, scaleProgram(shape, 2), "CPU:0")
	x := upload(t, c, "CPU:0", []float32{1, 2, 3}, 3)

	outs, err := c.ExecuteComputation(comp, []client.Data{x}, "CPU:0", client.DefaultExecuteComputationOptions())
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "CPU:0", outs[0].Device())
	assert.True(t, outs[0].HasValue())
	assert.Equal(t, []float32{2, 4, 6}, download(t, c, outs[0]).Value())

	// The argument is untouched and reusable.
	assert.Equal(t, []float32{1, 2, 3}, download(t, c, x).Value())
}

func TestExecuteTupleResults(t *testing.T) {
	c := newTestClient(t, "CPU=1")
	shape := shapes.Make(dtypes.Float32, 2)
	comp := compile(t, c, splitProgram(shape), "CPU:0")
	x := upload(t, c, "CPU:0", []float32{3, 5}, 2)

	// The default options explode a tuple result into per-element handles.
	outs, err := c.ExecuteComputation(comp, []client.Data{x}, "CPU:0", client.DefaultExecuteComputationOptions())
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, []float32{4, 6}, download(t, c, outs[0]).Value())
	assert.Equal(t, []float32{6, 10}, download(t, c, outs[1]).Value())

	// Without ExplodeTuple the result is a single tuple-shaped handle.
	outs, err = c.ExecuteComputation(comp, []client.Data{x}, "CPU:0", client.ExecuteComputationOptions{})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.True(t, outs[0].Shape().IsTuple())
	elements := download(t, c, outs[0]).Value().([]any)
	require.Len(t, elements, 2)
	assert.Equal(t, []float32{4, 6}, elements[0])
}

func TestExecuteRejects(t *testing.T) {
	c := newTestClient(t, "TPU=2")
	shape := shapes.Make(dtypes.Float32, 2)
	comp := compile(t, c, scaleProgram(shape, 2), "TPU:0")
	x := upload(t, c, "TPU:0", []float32{1, 2}, 2)
	options := client.DefaultExecuteComputationOptions()

	// Arguments must reside on the execution device.
	_, err := c.ExecuteComputation(comp, []client.Data{x}, "TPU:1", options)
	require.ErrorIs(t, err, client.ErrDeviceMismatch)

	// Arity and shapes must match the program signature.
	_, err = c.ExecuteComputation(comp, nil, "TPU:0", options)
	require.ErrorContains(t, err, "takes 1 arguments, got 0")
	bad := upload(t, c, "TPU:0", []float32{1, 2, 3}, 3)
	_, err = c.ExecuteComputation(comp, []client.Data{bad}, "TPU:0", options)
	require.ErrorContains(t, err, "has shape")

	// Unknown execution device.
	_, err = c.ExecuteComputation(comp, []client.Data{x}, "GPU:0", options)
	require.Error(t, err)

	// Computations of another client are rejected.
	other := newTestClient(t, "TPU=2")
	foreign := compile(t, other, scaleProgram(shape, 2), "TPU:0")
	_, err = c.ExecuteComputation(foreign, []client.Data{x}, "TPU:0", options)
	require.ErrorContains(t, err, "different sim client")
}

func TestExecuteProgramMisbehavior(t *testing.T) {
	c := newTestClient(t, "CPU=1")
	shape := shapes.Make(dtypes.Float32, 2)
	x := upload(t, c, "CPU:0", []float32{1, 2}, 2)
	options := client.DefaultExecuteComputationOptions()

	// A program producing a shape other than its declared output.
	liar := &Program{
		Name:       "liar",
		Parameters: []shapes.Shape{shape},
		Output:     shape,
		Apply: func([]*tensors.Tensor) (*tensors.Tensor, error) {
			return tensors.FromFlatDataAndDimensions([]float32{1}, 1), nil
		},
	}
	_, err := c.ExecuteComputation(compile(t, c, liar, "CPU:0"), []client.Data{x}, "CPU:0", options)
	require.ErrorContains(t, err, "produced shape")

	// A program producing nothing at all.
	silent := &Program{
		Name:       "silent",
		Parameters: []shapes.Shape{shape},
		Output:     shape,
		Apply: func([]*tensors.Tensor) (*tensors.Tensor, error) {
			return nil, nil
		},
	}
	_, err = c.ExecuteComputation(compile(t, c, silent, "CPU:0"), []client.Data{x}, "CPU:0", options)
	require.ErrorContains(t, err, "returned no result")

	// A program failing outright.
	failing := &Program{
		Name:       "failing",
		Parameters: []shapes.Shape{shape},
		Output:     shape,
		Apply: func([]*tensors.Tensor) (*tensors.Tensor, error) {
			return nil, errors.New("injected device failure")
		},
	}
	_, err = c.ExecuteComputation(compile(t, c, failing, "CPU:0"), []client.Data{x}, "CPU:0", options)
	require.ErrorContains(t, err, `computation "failing" failed on CPU:0`)
	require.ErrorContains(t, err, "injected device failure")
}

func TestExecuteReplicated(t *testing.T) {
	c := newTestClient(t, "TPU=4")
	devices := c.AllDevices()
	shape := shapes.Make(dtypes.Float32, 2)
	comps, err := c.Compile([]client.CompileInstance{
		{Program: addProgram(shape), Device: "TPU:0", Devices: devices},
	})
	require.NoError(t, err)
	comp := comps[0]

	// Replica 0 is made the slowest, so completion order is the reverse of submission
	// order; results must still come back in devices order.
	c.SetDispatchDelay(func(replica int, device string) time.Duration {
		return time.Duration(len(devices)-1-replica) * 2 * time.Millisecond
	})

	arguments := make([][]client.Data, len(devices))
	for ii, device := range devices {
		arguments[ii] = []client.Data{
			upload(t, c, device, []float32{float32(ii), float32(ii)}, 2),
			upload(t, c, device, []float32{10, 20}, 2),
		}
	}
	results, err := c.ExecuteReplicated(comp, arguments, devices, client.DefaultExecuteReplicatedOptions())
	require.NoError(t, err)
	require.Len(t, results, len(devices))
	for ii, outs := range results {
		require.Len(t, outs, 1)
		assert.Equal(t, devices[ii], outs[0].Device())
		assert.Equal(t, []float32{float32(ii) + 10, float32(ii) + 20}, download(t, c, outs[0]).Value())
	}
}

func TestExecuteReplicatedRejects(t *testing.T) {
	c := newTestClient(t, "TPU=2")
	shape := shapes.Make(dtypes.Float32, 1)
	comps, err := c.Compile([]client.CompileInstance{
		{Program: scaleProgram(shape, 2), Device: "TPU:0", Devices: []string{"TPU:0", "TPU:1"}},
	})
	require.NoError(t, err)
	comp := comps[0]
	x := upload(t, c, "TPU:0", []float32{1}, 1)

	// One argument group per device.
	_, err = c.ExecuteReplicated(comp, [][]client.Data{{x}}, []string{"TPU:0", "TPU:1"}, client.DefaultExecuteReplicatedOptions())
	require.ErrorContains(t, err, "argument group per device")

	// The device list must match the compilation devices.
	_, err = c.ExecuteReplicated(comp, [][]client.Data{{x}}, []string{"TPU:0"}, client.DefaultExecuteReplicatedOptions())
	require.ErrorContains(t, err, "compiled for 2 devices")
}

func TestExecuteReplicatedFailureCleansUp(t *testing.T) {
	c := newTestClient(t, "TPU=2")
	shape := shapes.Make(dtypes.Float32, 1)
	picky := &Program{
		Name:       "picky",
		Parameters: []shapes.Shape{shape},
		Output:     shape,
		Apply: func(args []*tensors.Tensor) (*tensors.Tensor, error) {
			if tensors.CopyFlatData[float32](args[0])[0] < 0 {
				return nil, errors.New("negative input")
			}
			return args[0].Clone(), nil
		},
	}
	comps, err := c.Compile([]client.CompileInstance{
		{Program: picky, Device: "TPU:0", Devices: []string{"TPU:0", "TPU:1"}},
	})
	require.NoError(t, err)
	comp := comps[0]
	good := upload(t, c, "TPU:0", []float32{1}, 1)
	bad := upload(t, c, "TPU:1", []float32{-1}, 1)

	var released int64
	var execErr error
	created := counterDelta(client.CreateDataHandlesCounter(), func() {
		released = counterDelta(client.ReleaseDataHandlesCounter(), func() {
			_, execErr = c.ExecuteReplicated(comp, [][]client.Data{{good}, {bad}},
				[]string{"TPU:0", "TPU:1"}, client.DefaultExecuteReplicatedOptions())
		})
	})
	require.ErrorContains(t, execErr, "replica 1 on TPU:1")
	require.ErrorContains(t, execErr, "negative input")
	// The handle produced by the surviving replica was released again.
	assert.Equal(t, int64(1), created)
	assert.Equal(t, created, released)
}

func TestExecuteParallel(t *testing.T) {
	c := newTestClient(t, "TPU=2")
	shape := shapes.Make(dtypes.Float32, 2)
	devices := []string{"TPU:0", "TPU:1"}
	comps, err := c.Compile([]client.CompileInstance{
		{Program: scaleProgram(shape, 2), Device: "TPU:0"},
		{Program: scaleProgram(shape, 3), Device: "TPU:1"},
	})
	require.NoError(t, err)

	arguments := [][]client.Data{
		{upload(t, c, "TPU:0", []float32{1, 2}, 2)},
		{upload(t, c, "TPU:1", []float32{1, 2}, 2)},
	}
	results, err := c.ExecuteParallel(comps, arguments, devices, client.DefaultExecuteParallelOptions())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []float32{2, 4}, download(t, c, results[0][0]).Value())
	assert.Equal(t, []float32{3, 6}, download(t, c, results[1][0]).Value())

	// One computation per device.
	_, err = c.ExecuteParallel(comps[:1], arguments, devices, client.DefaultExecuteParallelOptions())
	require.ErrorContains(t, err, "one computation and one argument group per device")
}

func TestExecuteChained(t *testing.T) {
	c := newTestClient(t, "CPU=1")
	shape := shapes.Make(dtypes.Float32, 3)
	double := compile(t, c, scaleProgram(shape, 2), "CPU:0")
	x := upload(t, c, "CPU:0", []float32{1, 2, 3}, 3)

	var results []client.Data
	var err error
	created := counterDelta(client.CreateDataHandlesCounter(), func() {
		results, err = c.ExecuteChained([]client.ChainedOp{
			{Data: x},
			{
				Computation: double,
				Inputs:      []client.ChainedInput{{OpIndex: 0}},
				Outputs:     []client.ChainedOutput{{ResultIndex: 0}},
			},
		}, "CPU:0")
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	// Only exported outputs become handles, intermediates stay internal.
	assert.Equal(t, int64(1), created)
	assert.Equal(t, []float32{2, 4, 6}, download(t, c, results[0]).Value())
}

func TestExecuteChainedGraph(t *testing.T) {
	c := newTestClient(t, "CPU=1")
	shape := shapes.Make(dtypes.Float32, 3)
	split := compile(t, c, splitProgram(shape), "CPU:0")
	add := compile(t, c, addProgram(shape), "CPU:0")
	x := upload(t, c, "CPU:0", []float32{1, 2, 3}, 3)

	first, second := 0, 1
	results, err := c.ExecuteChained([]client.ChainedOp{
		{Data: x},
		{
			Computation: split,
			Inputs:      []client.ChainedInput{{OpIndex: 0}},
			Outputs:     []client.ChainedOutput{{ResultIndex: 1, OutputIndex: &second}},
		},
		{
			Computation: add,
			Inputs: []client.ChainedInput{
				{OpIndex: 1, OutputIndex: &first},
				{OpIndex: 1, OutputIndex: &second},
			},
			Outputs: []client.ChainedOutput{{ResultIndex: 0}},
		},
	}, "CPU:0")
	require.NoError(t, err)
	require.Len(t, results, 2)
	// (x+1) + 2x exported as result 0, 2x itself as result 1.
	assert.Equal(t, []float32{4, 7, 10}, download(t, c, results[0]).Value())
	assert.Equal(t, []float32{2, 4, 6}, download(t, c, results[1]).Value())
}

func TestExecuteChainedValidation(t *testing.T) {
	c := newTestClient(t, "CPU=1")
	shape := shapes.Make(dtypes.Float32, 1)
	double := compile(t, c, scaleProgram(shape, 2), "CPU:0")
	x := upload(t, c, "CPU:0", []float32{1}, 1)

	// Structure violations are caught before anything executes.
	_, err := c.ExecuteChained([]client.ChainedOp{{Data: x, Computation: double}}, "CPU:0")
	require.ErrorIs(t, err, client.ErrInvalidGraph)

	// A hole in the declared results.
	_, err = c.ExecuteChained([]client.ChainedOp{
		{Data: x},
		{
			Computation: double,
			Inputs:      []client.ChainedInput{{OpIndex: 0}},
			Outputs:     []client.ChainedOutput{{ResultIndex: 1}},
		},
	}, "CPU:0")
	require.ErrorIs(t, err, client.ErrIncompleteGraph)
}

func TestExecuteChainedRejects(t *testing.T) {
	c := newTestClient(t, "TPU=2")
	shape := shapes.Make(dtypes.Float32, 1)
	double := compile(t, c, scaleProgram(shape, 2), "TPU:0")
	x := upload(t, c, "TPU:0", []float32{1}, 1)

	// Data ops must reside on the execution device.
	_, err := c.ExecuteChained([]client.ChainedOp{
		{Data: x},
		{
			Computation: double,
			Inputs:      []client.ChainedInput{{OpIndex: 0}},
			Outputs:     []client.ChainedOutput{{ResultIndex: 0}},
		},
	}, "TPU:1")
	require.ErrorIs(t, err, client.ErrDeviceMismatch)

	// Selecting a tuple element of a non-tuple result fails at runtime.
	first := 0
	_, err = c.ExecuteChained([]client.ChainedOp{
		{Data: x, Outputs: []client.ChainedOutput{{ResultIndex: 0, OutputIndex: &first}}},
	}, "TPU:0")
	require.ErrorIs(t, err, client.ErrInvalidGraph)
}

func TestExecuteChainedFailureCleansUp(t *testing.T) {
	c := newTestClient(t, "CPU=1")
	shape := shapes.Make(dtypes.Float32, 1)
	double := compile(t, c, scaleProgram(shape, 2), "CPU:0")
	failing := compile(t, c, &Program{
		Name:       "failing",
		Parameters: []shapes.Shape{shape},
		Output:     shape,
		Apply: func([]*tensors.Tensor) (*tensors.Tensor, error) {
			return nil, errors.New("injected failure")
		},
	}, "CPU:0")
	x := upload(t, c, "CPU:0", []float32{1}, 1)

	ops := []client.ChainedOp{
		{Data: x},
		{
			Computation: double,
			Inputs:      []client.ChainedInput{{OpIndex: 0}},
			Outputs:     []client.ChainedOutput{{ResultIndex: 0}},
		},
		{
			Computation: failing,
			Inputs:      []client.ChainedInput{{OpIndex: 1}},
			Outputs:     []client.ChainedOutput{{ResultIndex: 1}},
		},
	}
	var released int64
	var execErr error
	created := counterDelta(client.CreateDataHandlesCounter(), func() {
		released = counterDelta(client.ReleaseDataHandlesCounter(), func() {
			_, execErr = c.ExecuteChained(ops, "CPU:0")
		})
	})
	require.ErrorContains(t, execErr, "op 2")
	require.ErrorContains(t, execErr, "injected failure")
	// The handle already exported for result 0 was released again.
	assert.Equal(t, int64(1), created)
	assert.Equal(t, created, released)
}
