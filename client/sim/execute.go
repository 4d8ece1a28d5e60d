package sim

import (
	"time"

	"github.com/mruberry/xla/client"
	"github.com/mruberry/xla/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Compile-time check:
var _ client.ExecutionInterface = (*Client)(nil)

// resolveArguments checks the arguments against the computation's signature and the execution
// device, and resolves them to their device-resident tensors.
func (c *Client) resolveArguments(comp *computation, arguments []client.Data, dev *deviceInfo) ([]*tensors.Tensor, error) {
	if len(arguments) != len(comp.program.Parameters) {
		return nil, errors.Errorf("computation %q takes %d arguments, got %d",
			comp.program.Name, len(comp.program.Parameters), len(arguments))
	}
	args := make([]*tensors.Tensor, len(arguments))
	for ii, argument := range arguments {
		d, err := c.ownData(argument)
		if err != nil {
			return nil, err
		}
		if d.Device() != dev.name {
			return nil, errors.Wrapf(client.ErrDeviceMismatch,
				"argument #%d (%s) does not reside on execution device %s", ii, d, dev.name)
		}
		if !d.Shape().Equal(comp.program.Parameters[ii]) {
			return nil, errors.Errorf("argument #%d has shape %s, computation %q takes %s",
				ii, d.Shape(), comp.program.Name, comp.program.Parameters[ii])
		}
		args[ii], err = d.tensor()
		if err != nil {
			return nil, errors.WithMessagef(err, "argument #%d", ii)
		}
	}
	return args, nil
}

// checkResult verifies the program produced the shape it declares.
func checkResult(program *Program, result *tensors.Tensor, device string) error {
	if result == nil {
		return errors.Errorf("computation %q returned no result on %s", program.Name, device)
	}
	if !result.Shape().Equal(program.Output) {
		return errors.Errorf("computation %q produced shape %s on %s, its program declares %s",
			program.Name, result.Shape(), device, program.Output)
	}
	return nil
}

// wrapResult stores the result as device value(s) and returns the handles, exploding a tuple
// result into per-element handles when requested.
func (c *Client) wrapResult(result *tensors.Tensor, dev *deviceInfo, options client.ExecuteOptions) []client.Data {
	if result.IsTuple() && options.ExplodeTuple {
		elements := result.TupleElements()
		outs := make([]client.Data, len(elements))
		for ii, element := range elements {
			outs[ii] = c.newPopulatedData(dev, element)
		}
		return outs
	}
	return []client.Data{c.newPopulatedData(dev, result)}
}

// executeOne runs one replica: argument resolution, simulated dispatch delay, program
// application and wrapping of the result into fresh handles.
func (c *Client) executeOne(comp *computation, arguments []client.Data, dev *deviceInfo, replica int, options client.ExecuteOptions) ([]client.Data, error) {
	args, err := c.resolveArguments(comp, arguments, dev)
	if err != nil {
		return nil, err
	}
	if delay := c.dispatchDelay(replica, dev.name); delay > 0 {
		time.Sleep(delay)
	}
	klog.V(2).Infof("sim: dispatched %q replica %d on %s", comp.program.Name, replica, dev.name)
	result, err := comp.program.Apply(args)
	if err != nil {
		return nil, errors.WithMessagef(err, "computation %q failed on %s", comp.program.Name, dev.name)
	}
	if err := checkResult(comp.program, result, dev.name); err != nil {
		return nil, err
	}
	return c.wrapResult(result, dev, options), nil
}

// fanOut dispatches one branch per device on the worker pool and joins them, returning the
// per-branch results in devices order regardless of completion order. On any branch failure
// the handles created by the other branches are finalized and only the error escapes.
func (c *Client) fanOut(devices []string, branch func(ii int, dev *deviceInfo) ([]client.Data, error)) ([][]client.Data, error) {
	results := make([][]client.Data, len(devices))
	err := c.pool.All(len(devices), func(ii int) error {
		dev, err := c.deviceInfo(devices[ii])
		if err != nil {
			return err
		}
		outs, err := branch(ii, dev)
		if err != nil {
			return errors.WithMessagef(err, "replica %d on %s", ii, devices[ii])
		}
		results[ii] = outs
		return nil
	})
	if err != nil {
		finalizeGroups(results)
		return nil, err
	}
	return results, nil
}

// ExecuteComputation runs the computation over the arguments on the given device. All
// arguments must reside on that device (ErrDeviceMismatch otherwise). A tuple result is
// exploded into per-element handles when options.ExplodeTuple is set.
func (c *Client) ExecuteComputation(computation client.Computation, arguments []client.Data, device string, options client.ExecuteComputationOptions) ([]client.Data, error) {
	c.assertValid()
	defer client.ExecuteTimeMetric().Timed()()
	comp, err := c.ownComputation(computation)
	if err != nil {
		return nil, err
	}
	dev, err := c.deviceInfo(device)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("sim: submitted %q on %s", comp.program.Name, device)
	outs, err := c.executeOne(comp, arguments, dev, 0, options.ExecuteOptions)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("sim: completed %q on %s", comp.program.Name, device)
	return outs, nil
}

// ExecuteReplicated runs one replica of the computation per device, each replica with its own
// argument group, concurrently on the worker pool. arguments[i] must all reside on devices[i].
// Results are ordered by the devices argument, not by completion.
func (c *Client) ExecuteReplicated(computation client.Computation, arguments [][]client.Data, devices []string, options client.ExecuteReplicatedOptions) ([][]client.Data, error) {
	c.assertValid()
	defer client.ExecuteReplicatedTimeMetric().Timed()()
	comp, err := c.ownComputation(computation)
	if err != nil {
		return nil, err
	}
	if len(arguments) != len(devices) {
		return nil, errors.Errorf("ExecuteReplicated takes one argument group per device, got %d groups for %d devices",
			len(arguments), len(devices))
	}
	if len(devices) != len(comp.devices) {
		return nil, errors.Errorf("computation %q is compiled for %d devices, cannot replicate it over %d",
			comp.program.Name, len(comp.devices), len(devices))
	}
	klog.V(2).Infof("sim: submitted %q replicated over %d devices", comp.program.Name, len(devices))
	results, err := c.fanOut(devices, func(ii int, dev *deviceInfo) ([]client.Data, error) {
		return c.executeOne(comp, arguments[ii], dev, ii, options.ExecuteOptions)
	})
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("sim: completed %q replicated over %d devices", comp.program.Name, len(devices))
	return results, nil
}

// ExecuteParallel is ExecuteReplicated with a distinct computation per device: computations[i]
// is fed arguments[i] on devices[i].
func (c *Client) ExecuteParallel(computations []client.Computation, arguments [][]client.Data, devices []string, options client.ExecuteParallelOptions) ([][]client.Data, error) {
	c.assertValid()
	defer client.ExecuteParallelTimeMetric().Timed()()
	if len(computations) != len(devices) || len(arguments) != len(devices) {
		return nil, errors.Errorf("ExecuteParallel takes one computation and one argument group per device, got %d computations and %d groups for %d devices",
			len(computations), len(arguments), len(devices))
	}
	comps := make([]*computation, len(computations))
	for ii, handle := range computations {
		comp, err := c.ownComputation(handle)
		if err != nil {
			return nil, errors.WithMessagef(err, "computation #%d", ii)
		}
		comps[ii] = comp
	}
	klog.V(2).Infof("sim: submitted %d parallel computations", len(comps))
	results, err := c.fanOut(devices, func(ii int, dev *deviceInfo) ([]client.Data, error) {
		return c.executeOne(comps[ii], arguments[ii], dev, ii, options.ExecuteOptions)
	})
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("sim: completed %d parallel computations", len(comps))
	return results, nil
}

// selectOutput resolves an op's result tensor, optionally selecting one tuple element.
func selectOutput(t *tensors.Tensor, outputIndex *int, opIndex int) (*tensors.Tensor, error) {
	if outputIndex == nil {
		return t, nil
	}
	if !t.IsTuple() {
		return nil, errors.Wrapf(client.ErrInvalidGraph,
			"op %d has a non-tuple result %s, cannot select output %d", opIndex, t.Shape(), *outputIndex)
	}
	if *outputIndex >= t.TupleSize() {
		return nil, errors.Wrapf(client.ErrInvalidGraph,
			"op %d result %s has %d outputs, cannot select output %d",
			opIndex, t.Shape(), t.TupleSize(), *outputIndex)
	}
	return t.TupleElement(*outputIndex), nil
}

// executeChainedOp resolves one graph node: a data op contributes its device value, a
// computation op applies its program to previously resolved results.
func (c *Client) executeChainedOp(ii int, op client.ChainedOp, dev *deviceInfo, intermediates []*tensors.Tensor) (*tensors.Tensor, error) {
	if op.Data != nil {
		d, err := c.ownData(op.Data)
		if err != nil {
			return nil, errors.WithMessagef(err, "op %d", ii)
		}
		if d.Device() != dev.name {
			return nil, errors.Wrapf(client.ErrDeviceMismatch,
				"op %d data %s does not reside on execution device %s", ii, d, dev.name)
		}
		t, err := d.tensor()
		if err != nil {
			return nil, errors.WithMessagef(err, "op %d", ii)
		}
		return t, nil
	}
	comp, err := c.ownComputation(op.Computation)
	if err != nil {
		return nil, errors.WithMessagef(err, "op %d", ii)
	}
	program := comp.program
	if len(op.Inputs) != len(program.Parameters) {
		return nil, errors.Errorf("op %d: computation %q takes %d arguments, got %d inputs",
			ii, program.Name, len(program.Parameters), len(op.Inputs))
	}
	args := make([]*tensors.Tensor, len(op.Inputs))
	for jj, input := range op.Inputs {
		arg, err := selectOutput(intermediates[input.OpIndex], input.OutputIndex, input.OpIndex)
		if err != nil {
			return nil, errors.WithMessagef(err, "op %d input %d", ii, jj)
		}
		if !arg.Shape().Equal(program.Parameters[jj]) {
			return nil, errors.Errorf("op %d input %d has shape %s, computation %q takes %s",
				ii, jj, arg.Shape(), program.Name, program.Parameters[jj])
		}
		args[jj] = arg
	}
	result, err := program.Apply(args)
	if err != nil {
		return nil, errors.WithMessagef(err, "op %d: computation %q failed on %s", ii, program.Name, dev.name)
	}
	if err := checkResult(program, result, dev.name); err != nil {
		return nil, errors.WithMessagef(err, "op %d", ii)
	}
	return result, nil
}

// ExecuteChained executes a post-ordered dataflow graph on one device and returns only the
// outputs the ops' Outputs declarations export, as fresh handles. Ops execute strictly in
// index order; intermediate results not exported are dropped before the call returns. The
// graph structure is validated up front (ErrInvalidGraph, ErrIncompleteGraph).
func (c *Client) ExecuteChained(ops []client.ChainedOp, device string) ([]client.Data, error) {
	c.assertValid()
	defer client.ExecuteChainedTimeMetric().Timed()()
	numResults, err := client.ValidateChainedOps(ops)
	if err != nil {
		return nil, err
	}
	dev, err := c.deviceInfo(device)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("sim: submitted chained graph of %d ops on %s", len(ops), device)
	results := make([]client.Data, numResults)
	intermediates := make([]*tensors.Tensor, len(ops))
	for ii, op := range ops {
		result, err := c.executeChainedOp(ii, op, dev, intermediates)
		if err != nil {
			finalizeAll(results)
			return nil, err
		}
		intermediates[ii] = result
		for _, output := range op.Outputs {
			selected, err := selectOutput(result, output.OutputIndex, ii)
			if err != nil {
				finalizeAll(results)
				return nil, err
			}
			results[output.ResultIndex] = c.newPopulatedData(dev, selected)
		}
	}
	klog.V(2).Infof("sim: completed chained graph of %d ops on %s", len(ops), device)
	return results, nil
}
