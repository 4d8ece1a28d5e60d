/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package tensors implements a `Tensor`, a host (CPU) representation of a multi-dimensional array.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions),
// defined by their shape (a data type and its axes' dimensions) and their actual content, stored as a
// flat (1D) slice of the corresponding Go type, in row-major order. As a special case, a Tensor can
// also be a tuple of other tensors.
//
// Tensors are the values transferred to and from accelerator devices: they provide the host-side
// buffers for client.TransferToServer and are what client.TransferFromServer materializes.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with
//     the given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with
//     the given dimensions, and sets the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromTuple(elements ...*Tensor): creates a tuple Tensor with the given elements, which the
//     tuple takes ownership of.
//
// Access to the underlying data is mediated by ConstFlatData and MutableFlatData (and their []byte
// views ConstBytes and MutableBytes), which hold the Tensor lock for the duration of the access.
package tensors

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mruberry/xla/types/shapes"
	"github.com/mruberry/xla/types/xslices"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array (from scalar with 0 dimensions, to arbitrarily large
// dimensions), defined by its shape -- a data type (dtypes.DType) and its axes' dimensions -- and
// its actual content, stored as a flat (1D) slice of values in row-major order.
//
// A Tensor holds host memory only. On-device values are represented by client.Data handles; moving
// between the two goes through client.TransferToServer and client.TransferFromServer.
//
// A Tensor can also be a tuple, in which case it has no flat data of its own and instead holds the
// element tensors. Flat data accessors panic on tuples; use TupleElements to reach the parts.
type Tensor struct {
	// shape of the tensor. Immutable after creation, except when the tensor is finalized.
	shape shapes.Shape

	// mu protects flat and tuple.
	mu sync.Mutex

	// flat holds the actual data, a slice of the Go type for the shape's dtype. Nil for tuples.
	flat any

	// tuple holds the element tensors when shape.IsTuple().
	tuple []*Tensor
}

func newTensor(shape shapes.Shape) *Tensor {
	return &Tensor{shape: shape}
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
// For tuple shapes the element tensors are allocated recursively.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	t = newTensor(shape)
	if shape.IsTuple() {
		t.tuple = xslices.Map(shape.TupleShapes, FromShape)
		return
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	t.flat = flatV.Interface()
	return
}

// FromScalar creates a scalar tensor with the given value.
// The `DType` is inferred from the value.
func FromScalar[T dtypes.Supported](value T) (t *Tensor) {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
// The `DType` is inferred from the value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) (t *Tensor) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	t = FromShape(shape)
	MutableFlatData(t, func(flat []T) {
		xslices.FillSlice(flat, value)
	})
	return
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened
// values given in `data`, interpreted in row-major order. The data is copied to the Tensor.
// The `DType` is inferred from the `data` type.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) (t *Tensor) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t = FromShape(shape)
	MutableFlatData(t, func(flat []T) {
		copy(flat, data)
	})
	return
}

// FromTuple creates a tuple tensor with the given elements. The tuple takes ownership of the
// elements, which must all be valid.
func FromTuple(elements ...*Tensor) *Tensor {
	if len(elements) == 0 {
		exceptions.Panicf("FromTuple requires at least one element")
	}
	for _, e := range elements {
		e.AssertValid()
	}
	t := newTensor(shapes.MakeTuple(xslices.Map(elements, (*Tensor).Shape)))
	t.tuple = elements
	return t
}

// Shape of the tensor, includes the DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
// It is a shortcut to `Tensor.Shape().IsScalar()`.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// IsTuple returns whether the tensor is a tuple of other tensors.
func (t *Tensor) IsTuple() bool { return t.shape.IsTuple() }

// TupleSize returns the number of elements of a tuple tensor, or 0 if not a tuple.
func (t *Tensor) TupleSize() int { return t.shape.TupleSize() }

// Size returns the number of elements in the tensor.
// It is a shortcut to `Tensor.Shape().Size()`.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && (t.flat != nil || len(t.tuple) > 0)
}

// AssertValid panics if the tensor is nil, if its shape is invalid, or if it was finalized.
func (t *Tensor) AssertValid() {
	if t == nil {
		panic(errors.New("Tensor is nil"))
	}
	if !t.shape.Ok() {
		panic(errors.New("Tensor shape is invalid"))
	}
	if t.flat == nil && len(t.tuple) == 0 {
		panic(errors.New("Tensor has been finalized, no data associated"))
	}
}

// TupleElements returns the element tensors of a tuple. The elements are still owned by the tuple.
// It panics if the tensor is not a tuple.
func (t *Tensor) TupleElements() []*Tensor {
	t.assertTuple()
	t.mu.Lock()
	defer t.mu.Unlock()
	return xslices.Copy(t.tuple)
}

// TupleElement returns the element at the given index of a tuple tensor.
// It panics if the tensor is not a tuple or if the index is out of range.
func (t *Tensor) TupleElement(index int) *Tensor {
	t.assertTuple()
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.tuple) {
		exceptions.Panicf("Tensor.TupleElement(%d) out of range for tuple of %d elements", index, len(t.tuple))
	}
	return t.tuple[index]
}

func (t *Tensor) assertTuple() {
	t.AssertValid()
	if !t.IsTuple() {
		exceptions.Panicf("Tensor of shape %s is not a tuple", t.shape)
	}
}

// Clone creates a deep copy of the Tensor. Tuples have their elements cloned recursively.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	if t.IsTuple() {
		t.mu.Lock()
		elements := xslices.Map(t.tuple, (*Tensor).Clone)
		t.mu.Unlock()
		clone := newTensor(t.shape.Clone())
		clone.tuple = elements
		return clone
	}
	var clone *Tensor
	t.ConstFlatData(func(flat any) {
		clone = newTensor(t.shape.Clone())
		flatV := reflect.ValueOf(flat)
		cloneFlatV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
		reflect.Copy(cloneFlatV, flatV)
		clone.flat = cloneFlatV.Interface()
	})
	return clone
}

// Equal checks whether t == otherTensor element-wise.
// If they are the same pointer they are considered equal.
// If the shapes are different it returns false.
// If either is invalid (nil or finalized) it panics.
//
// Slow implementation: fine for small tensors, but write something specialized for the DType if
// speed is desired.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	if t.IsTuple() {
		for ii, element := range t.TupleElements() {
			if !element.Equal(otherTensor.TupleElement(ii)) {
				return false
			}
		}
		return true
	}
	equal := true
	t.ConstFlatData(func(flat0 any) {
		otherTensor.ConstFlatData(func(flat1 any) {
			t0V := reflect.ValueOf(flat0)
			t1V := reflect.ValueOf(flat1)
			for ii := range t0V.Len() {
				if !t0V.Index(ii).Equal(t1V.Index(ii)) {
					equal = false
					return
				}
			}
		})
	})
	return equal
}

// FinalizeAll immediately frees the tensor data and leaves the Tensor in an invalid state.
// Tuple elements are finalized recursively.
//
// It's the caller's responsibility to ensure the tensor is not being used elsewhere (like in the
// middle of a transfer).
func (t *Tensor) FinalizeAll() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, element := range t.tuple {
		element.FinalizeAll()
	}
	t.tuple = nil
	t.flat = nil
	t.shape = shapes.Invalid()
}

// MaxSizeForString is the largest tensor size (in elements) whose values are included by String.
var MaxSizeForString = 500

// String returns a printable representation: the shape, and for small enough tensors the values.
func (t *Tensor) String() string {
	if t == nil || !t.Ok() {
		return "Tensor(<invalid>)"
	}
	if t.IsTuple() {
		parts := xslices.Map(t.TupleElements(), (*Tensor).String)
		return fmt.Sprintf("Tuple<%s>", strings.Join(parts, ", "))
	}
	if t.Size() > MaxSizeForString {
		return fmt.Sprintf("%s: (... %d values ...)", t.shape, t.Size())
	}
	return fmt.Sprintf("%s: %v", t.shape, t.Value())
}
