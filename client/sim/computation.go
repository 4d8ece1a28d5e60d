package sim

import (
	"fmt"
	"sync/atomic"

	"github.com/mruberry/xla/client"
	"github.com/mruberry/xla/types/shapes"
	"github.com/mruberry/xla/types/tensors"
	"github.com/mruberry/xla/types/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Program is the program representation the sim backend compiles: a Go function over host
// tensors standing in for a device executable.
type Program struct {
	// Name identifies the program in logs and error messages.
	Name string

	// Parameters are the parameter shapes, in call order.
	Parameters []shapes.Shape

	// Output is the declared result shape. It may be a tuple shape.
	Output shapes.Shape

	// Apply computes the result from the arguments. It must return a tensor of exactly the
	// Output shape, must not mutate its arguments, and must be safe for concurrent calls:
	// replicated execution applies it once per replica.
	Apply func(args []*tensors.Tensor) (*tensors.Tensor, error)
}

// computation implements client.Computation: a Program bound to its compilation devices.
// Immutable after Compile.
type computation struct {
	id      int64
	backend *Client
	program *Program
	devices []string

	released atomic.Bool
}

var _ client.Computation = (*computation)(nil)

// ID returns the unique id of the compiled computation.
func (comp *computation) ID() int64 { return comp.id }

// Program returns the *sim.Program this computation was compiled from.
func (comp *computation) Program() client.Program { return comp.program }

// ProgramShape returns the parameter and result shapes of the computation.
func (comp *computation) ProgramShape() client.ProgramShape {
	return client.ProgramShape{
		Parameters: xslices.Copy(comp.program.Parameters),
		Result:     comp.program.Output,
	}
}

// Devices returns a copy of the devices the computation was compiled for.
func (comp *computation) Devices() []string { return xslices.Copy(comp.devices) }

// String implements fmt.Stringer.
func (comp *computation) String() string {
	return fmt.Sprintf("Computation#%d(%q)", comp.id, comp.program.Name)
}

// Finalize releases the compiled computation. The first call counts the release and, if the
// client still held the compiled artifact, its destruction. Idempotent.
func (comp *computation) Finalize() {
	if !comp.released.CompareAndSwap(false, true) {
		return
	}
	defer client.ReleaseCompileHandlesTimeMetric().Timed()()
	client.ReleaseCompileHandlesCounter().Add(1)
	if _, loaded := comp.backend.computations.LoadAndDelete(comp.id); loaded {
		client.DestroyCompileHandlesCounter().Add(1)
	}
}

// ownComputation checks the computation handle was minted by this client.
func (c *Client) ownComputation(handle client.Computation) (*computation, error) {
	comp, ok := handle.(*computation)
	if !ok {
		return nil, errors.Errorf("computation handle %v was not created by the %s backend", handle, BackendName)
	}
	if comp.backend != c {
		return nil, errors.Errorf("computation %s belongs to a different %s client", comp, BackendName)
	}
	return comp, nil
}

func finalizeComputations(computations []client.Computation) {
	for _, comp := range computations {
		if comp != nil {
			comp.Finalize()
		}
	}
}

// Compile validates each instance's program against its declared signature and binds it to
// its compilation devices, returning the computations in instance order. Instances compile
// concurrently on the worker pool. The call fails atomically: on any failure, computations
// created earlier in the same call are finalized and none escape; the error wraps ErrCompile
// and names the failing instance.
func (c *Client) Compile(instances []client.CompileInstance) ([]client.Computation, error) {
	c.assertValid()
	defer client.CompileTimeMetric().Timed()()
	results := make([]client.Computation, len(instances))
	err := c.pool.All(len(instances), func(ii int) error {
		comp, err := c.compileInstance(instances[ii])
		if err != nil {
			return errors.WithMessagef(err, "instance #%d", ii)
		}
		results[ii] = comp
		return nil
	})
	if err != nil {
		finalizeComputations(results)
		return nil, err
	}
	return results, nil
}

func (c *Client) compileInstance(instance client.CompileInstance) (*computation, error) {
	program, ok := instance.Program.(*Program)
	if !ok {
		return nil, errors.Wrapf(client.ErrCompile, "%s backend compiles *sim.Program, got %T",
			BackendName, instance.Program)
	}
	if program.Apply == nil {
		return nil, errors.Wrapf(client.ErrCompile, "program %q has no Apply function", program.Name)
	}
	for jj, parameter := range program.Parameters {
		if !parameter.Ok() {
			return nil, errors.Wrapf(client.ErrCompile, "program %q parameter #%d has an invalid shape",
				program.Name, jj)
		}
	}
	if !program.Output.Ok() {
		return nil, errors.Wrapf(client.ErrCompile, "program %q has an invalid output shape", program.Name)
	}
	devices := client.CompilationDevices(instance.Device, instance.Devices)
	for _, device := range devices {
		if _, err := c.deviceInfo(device); err != nil {
			return nil, errors.Wrapf(client.ErrCompile, "program %q: %s", program.Name, err)
		}
	}
	if instance.OutputShape != nil && !instance.OutputShape.Equal(program.Output) {
		return nil, errors.Wrapf(client.ErrCompile, "program %q declares output %s, expected output %s",
			program.Name, program.Output, instance.OutputShape)
	}
	comp := &computation{
		id:      client.NextHandleID(),
		backend: c,
		program: program,
		devices: xslices.Copy(devices),
	}
	c.computations.Store(comp.id, comp)
	client.CreateCompileHandlesCounter().Add(1)
	klog.V(2).Infof("sim: compiled %q (%s) for %v", program.Name, comp.ProgramShape(), devices)
	return comp, nil
}
