package client

import (
	"fmt"
	"strings"

	"github.com/mruberry/xla/types/shapes"
	"github.com/mruberry/xla/types/xslices"
)

// Program is an opaque, device-independent program representation. It is interpreted by the
// backend compiling it: the sim backend takes a *sim.Program, a PJRT-style backend would take
// serialized HLO bytes.
type Program any

// ProgramShape describes the calling convention of a program: the shapes of its parameters and
// of its result. The result may be a tuple shape.
type ProgramShape struct {
	Parameters []shapes.Shape
	Result     shapes.Shape
}

// String implements fmt.Stringer, as "(param, param) -> result".
func (p ProgramShape) String() string {
	params := xslices.Map(p.Parameters, shapes.Shape.String)
	return fmt.Sprintf("(%s) -> %s", strings.Join(params, ", "), p.Result)
}

// Computation is a program compiled for a set of devices, ready to be executed.
//
// Computations are immutable after Compile; like Data they are identified by a process-unique
// id and released with Finalize.
type Computation interface {
	// ID returns the unique id of the compiled computation.
	ID() int64

	// Program returns the program this computation was compiled from.
	Program() Program

	// ProgramShape returns the parameter and result shapes of the computation.
	ProgramShape() ProgramShape

	// Devices returns the devices the computation was compiled for: the replica devices for
	// ExecuteReplicated, or a single device otherwise.
	Devices() []string

	// Finalize releases the compiled computation. Finalize is idempotent.
	Finalize()
}

// CompileInstance is one compilation request of a Compile call.
type CompileInstance struct {
	// Program to compile.
	Program Program

	// Device is the target device of single-device executions, and the device whose
	// resource domain the compilation is associated with.
	Device string

	// Devices are the compilation devices: the devices replicas will run on. Empty means
	// compile for Device alone (see CompilationDevices).
	Devices []string

	// OutputShape optionally declares the expected result shape, validated against the
	// program's own declaration at compile time.
	OutputShape *shapes.Shape
}
