package client

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mruberry/xla/types/shapes"
	"github.com/stretchr/testify/require"
)

type chainedTestData struct {
	Handle
}

func (d *chainedTestData) HasValue() bool         { return true }
func (d *chainedTestData) Assign(from Data) error { return nil }
func (d *chainedTestData) Finalize()              {}

type chainedTestComputation struct {
	id int64
}

func (c *chainedTestComputation) ID() int64                  { return c.id }
func (c *chainedTestComputation) Program() Program           { return nil }
func (c *chainedTestComputation) ProgramShape() ProgramShape { return ProgramShape{} }
func (c *chainedTestComputation) Devices() []string          { return []string{"SIM:0"} }
func (c *chainedTestComputation) Finalize()                  {}

func newChainedTestData() Data {
	return &chainedTestData{Handle: NewHandle("SIM:0", shapes.Make(dtypes.Float32, 2))}
}

func TestValidateChainedOps(t *testing.T) {
	comp := &chainedTestComputation{id: 1}
	ops := []ChainedOp{
		{Data: newChainedTestData()},
		{Computation: comp, Inputs: []ChainedInput{{OpIndex: 0}}},
		{
			Computation: comp,
			Inputs:      []ChainedInput{{OpIndex: 0}, {OpIndex: 1}},
			Outputs:     []ChainedOutput{{ResultIndex: 0}, {ResultIndex: 1}},
		},
	}
	numResults, err := ValidateChainedOps(ops)
	require.NoError(t, err)
	require.Equal(t, 2, numResults)
}

func TestValidateChainedOpsNoOutputs(t *testing.T) {
	numResults, err := ValidateChainedOps([]ChainedOp{{Data: newChainedTestData()}})
	require.NoError(t, err)
	require.Zero(t, numResults)

	numResults, err = ValidateChainedOps(nil)
	require.NoError(t, err)
	require.Zero(t, numResults)
}

func TestValidateChainedOpsStructure(t *testing.T) {
	comp := &chainedTestComputation{id: 2}
	data := newChainedTestData()

	// Neither or both of Data/Computation set.
	_, err := ValidateChainedOps([]ChainedOp{{}})
	require.ErrorIs(t, err, ErrInvalidGraph)
	_, err = ValidateChainedOps([]ChainedOp{{Data: data, Computation: comp}})
	require.ErrorIs(t, err, ErrInvalidGraph)

	// Data ops take no inputs.
	_, err = ValidateChainedOps([]ChainedOp{
		{Data: data},
		{Data: data, Inputs: []ChainedInput{{OpIndex: 0}}},
	})
	require.ErrorIs(t, err, ErrInvalidGraph)
}

func TestValidateChainedOpsPostOrder(t *testing.T) {
	comp := &chainedTestComputation{id: 3}

	// Self reference.
	_, err := ValidateChainedOps([]ChainedOp{
		{Computation: comp, Inputs: []ChainedInput{{OpIndex: 0}}},
	})
	require.ErrorIs(t, err, ErrInvalidGraph)

	// Forward reference.
	_, err = ValidateChainedOps([]ChainedOp{
		{Computation: comp, Inputs: []ChainedInput{{OpIndex: 1}}},
		{Data: newChainedTestData()},
	})
	require.ErrorIs(t, err, ErrInvalidGraph)

	// Negative reference.
	_, err = ValidateChainedOps([]ChainedOp{
		{Data: newChainedTestData()},
		{Computation: comp, Inputs: []ChainedInput{{OpIndex: -1}}},
	})
	require.ErrorIs(t, err, ErrInvalidGraph)
}

func TestValidateChainedOpsResults(t *testing.T) {
	data := newChainedTestData()

	// Duplicate result index.
	_, err := ValidateChainedOps([]ChainedOp{
		{Data: data, Outputs: []ChainedOutput{{ResultIndex: 0}}},
		{Data: data, Outputs: []ChainedOutput{{ResultIndex: 0}}},
	})
	require.ErrorIs(t, err, ErrInvalidGraph)

	// Negative result index.
	_, err = ValidateChainedOps([]ChainedOp{
		{Data: data, Outputs: []ChainedOutput{{ResultIndex: -1}}},
	})
	require.ErrorIs(t, err, ErrInvalidGraph)

	// Hole: result 1 declared, result 0 never produced.
	_, err = ValidateChainedOps([]ChainedOp{
		{Data: data, Outputs: []ChainedOutput{{ResultIndex: 1}}},
	})
	require.ErrorIs(t, err, ErrIncompleteGraph)

	// Negative tuple element selector.
	negative := -1
	_, err = ValidateChainedOps([]ChainedOp{
		{Data: data, Outputs: []ChainedOutput{{ResultIndex: 0, OutputIndex: &negative}}},
	})
	require.ErrorIs(t, err, ErrInvalidGraph)
}
