package client

import "github.com/pkg/errors"

// Sentinel errors of the protocol. Backends wrap them with call context (errors.Wrapf), and
// callers match them with errors.Is. None of them carries a stack by itself.
var (
	// ErrTransfer indicates data movement to or from a device failed.
	ErrTransfer = errors.New("data transfer failed")

	// ErrNotPopulated indicates a read of a placeholder that was never populated.
	ErrNotPopulated = errors.New("device data has no value")

	// ErrNotATuple indicates tuple deconstruction of a handle whose shape is not a tuple.
	ErrNotATuple = errors.New("device data is not a tuple")

	// ErrCompile indicates a program failed to compile for a device.
	ErrCompile = errors.New("computation failed to compile")

	// ErrDeviceMismatch indicates an argument living on a different device than the one
	// the execution was issued to.
	ErrDeviceMismatch = errors.New("argument device does not match execution device")

	// ErrInvalidGraph indicates a chained-ops graph violating post-order or structure.
	ErrInvalidGraph = errors.New("chained ops graph is invalid")

	// ErrIncompleteGraph indicates a chained-ops result position no op produces.
	ErrIncompleteGraph = errors.New("chained ops results are incomplete")

	// ErrMalformedDevice indicates a device string with no parseable ordinal.
	ErrMalformedDevice = errors.New("malformed device string")
)
