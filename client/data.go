package client

import (
	"fmt"
	"sync/atomic"

	"github.com/mruberry/xla/types/shapes"
	"github.com/mruberry/xla/types/tensors"
	"github.com/pkg/errors"
)

// Data is an opaque handle to a value living in device memory.
//
// A Data is created populated by TransferToServer and the execute verbs, or empty by
// CreateDataPlaceholder, in which case it holds only a device and a shape until a value is
// assigned to it exactly once. The has-value transition is visible to every goroutine that
// observes it through HasValue.
//
// Handles are identified by a process-unique id that is never reused. Data is immutable after
// creation except for the one-shot population and for Finalize.
type Data interface {
	// ID returns the unique id of the handle. Ids increase monotonically with creation order
	// and are never reused.
	ID() int64

	// Device returns the device the underlying value lives on.
	Device() string

	// Shape of the underlying value.
	Shape() shapes.Shape

	// HasValue reports whether the handle is bound to a device value. False only for
	// placeholders not yet populated.
	HasValue() bool

	// Assign binds this placeholder to the same device value as from, populating it.
	// It fails if from has no value or if the shapes or devices disagree.
	Assign(from Data) error

	// Finalize releases the handle and, if it held the last reference to the device value,
	// frees the value. Finalize is idempotent.
	Finalize()
}

// handleIDGen generates the process-wide Data and Computation ids. Ids start at 1 so the zero
// value never aliases a live handle.
var handleIDGen atomic.Int64

// NextHandleID returns a fresh process-unique handle id. Backends use it when minting handles
// outside NewHandle.
func NextHandleID() int64 {
	return handleIDGen.Add(1)
}

// Handle carries the identity shared by every Data implementation: the unique id, the device
// and the shape. Backends embed it in their Data types.
type Handle struct {
	id     int64
	device string
	shape  shapes.Shape
}

// NewHandle returns a Handle on the given device with the given shape and a fresh unique id.
func NewHandle(device string, shape shapes.Shape) Handle {
	return Handle{
		id:     NextHandleID(),
		device: device,
		shape:  shape,
	}
}

// ID returns the unique id of the handle.
func (h Handle) ID() int64 { return h.id }

// Device returns the device the handle is bound to.
func (h Handle) Device() string { return h.device }

// Shape of the value the handle refers to.
func (h Handle) Shape() shapes.Shape { return h.shape }

// String implements fmt.Stringer.
func (h Handle) String() string {
	return fmt.Sprintf("Data#%d(%s on %s)", h.id, h.shape, h.device)
}

// PopulateFn writes a value, in row-major layout, into a destination buffer of exactly the
// source shape's Memory() bytes.
type PopulateFn func(buf []byte) error

// TensorSource describes one value to upload with TransferToServer: its shape, the target
// device and the populate callback that fills the transfer buffer. The callback may be invoked
// from a different goroutine than the TransferToServer caller, but never after the call
// returns; sources are consumed, not stored.
type TensorSource struct {
	Shape    shapes.Shape
	Device   string
	Populate PopulateFn
}

// SourceFromTensor returns a TensorSource uploading the tensor's current value to the given
// device. The tensor must not be a tuple and must stay valid until the TransferToServer call
// using the source returns.
func SourceFromTensor(t *tensors.Tensor, device string) TensorSource {
	return TensorSource{
		Shape:  t.Shape(),
		Device: device,
		Populate: func(buf []byte) error {
			if len(buf) != int(t.Memory()) {
				return errors.Errorf("populate buffer has %d bytes, tensor %s requires %d",
					len(buf), t.Shape(), t.Memory())
			}
			t.ConstBytes(func(data []byte) {
				copy(buf, data)
			})
			return nil
		},
	}
}
