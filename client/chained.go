package client

import (
	"github.com/pkg/errors"
)

// ChainedOp is one node of an ExecuteChained graph: either a graph input (Data set) or an
// execution step (Computation set), never both. Ops are listed in post-order: an op may only
// consume results of ops appearing earlier in the list.
//
// ChainedOp values are transient: they describe one ExecuteChained call and are not retained
// by it.
type ChainedOp struct {
	// Data makes this op a graph input holding an already populated handle. Data ops take
	// no Inputs.
	Data Data

	// Computation makes this op an execution step.
	Computation Computation

	// Inputs are the arguments of the Computation, in parameter order, each referring to
	// the result of an earlier op.
	Inputs []ChainedInput

	// Outputs declare which parts of this op's result are exported from the graph, and to
	// which position of the ExecuteChained result.
	Outputs []ChainedOutput
}

// ChainedInput refers to the result of an earlier op in the same graph.
type ChainedInput struct {
	// OpIndex is the index of the producing op. Post-order requires it to be smaller than
	// the index of the consuming op.
	OpIndex int

	// OutputIndex selects one element of a tuple-shaped result. Nil takes the whole result.
	OutputIndex *int
}

// ChainedOutput exports (part of) an op's result from the graph.
type ChainedOutput struct {
	// ResultIndex is the position in the ExecuteChained result taken by this output.
	ResultIndex int

	// OutputIndex selects one element of a tuple-shaped result. Nil exports the whole
	// result.
	OutputIndex *int
}

// ValidateChainedOps checks the structure of an ExecuteChained graph and returns the size of
// its result vector.
//
// It verifies that every op sets exactly one of Data or Computation, that data ops take no
// inputs, that inputs respect post-order (they only refer to earlier ops) and that output
// declarations cover every result position exactly once. Structure violations fail with
// ErrInvalidGraph; a result position never produced fails with ErrIncompleteGraph.
func ValidateChainedOps(ops []ChainedOp) (numResults int, err error) {
	produced := make(map[int]int) // result index -> producing op.
	maxResultIndex := -1
	for ii, op := range ops {
		if (op.Data == nil) == (op.Computation == nil) {
			return 0, errors.Wrapf(ErrInvalidGraph, "op %d must set exactly one of Data or Computation", ii)
		}
		if op.Data != nil && len(op.Inputs) > 0 {
			return 0, errors.Wrapf(ErrInvalidGraph, "op %d is a data op and cannot take inputs", ii)
		}
		for jj, input := range op.Inputs {
			if input.OpIndex < 0 || input.OpIndex >= ii {
				return 0, errors.Wrapf(ErrInvalidGraph,
					"op %d input %d refers to op %d, outside the post-order range [0, %d)",
					ii, jj, input.OpIndex, ii)
			}
			if input.OutputIndex != nil && *input.OutputIndex < 0 {
				return 0, errors.Wrapf(ErrInvalidGraph, "op %d input %d has negative output index %d",
					ii, jj, *input.OutputIndex)
			}
		}
		for jj, output := range op.Outputs {
			if output.ResultIndex < 0 {
				return 0, errors.Wrapf(ErrInvalidGraph, "op %d output %d has negative result index %d",
					ii, jj, output.ResultIndex)
			}
			if output.OutputIndex != nil && *output.OutputIndex < 0 {
				return 0, errors.Wrapf(ErrInvalidGraph, "op %d output %d has negative output index %d",
					ii, jj, *output.OutputIndex)
			}
			if previous, found := produced[output.ResultIndex]; found {
				return 0, errors.Wrapf(ErrInvalidGraph,
					"ops %d and %d both declare result index %d", previous, ii, output.ResultIndex)
			}
			produced[output.ResultIndex] = ii
			maxResultIndex = max(maxResultIndex, output.ResultIndex)
		}
	}
	numResults = maxResultIndex + 1
	for ii := range numResults {
		if _, found := produced[ii]; !found {
			return 0, errors.Wrapf(ErrIncompleteGraph, "no op declares result index %d (results size is %d)",
				ii, numResults)
		}
	}
	return numResults, nil
}
