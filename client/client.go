// Package client defines the interface a remote accelerator fleet needs to implement to be
// driven by this module: transferring values to and from devices, compiling programs, the
// execution verbs, and the device topology queries.
//
// The interface is modeled after XLA's computation-client API: callers hold opaque Data handles
// to values living on devices, compile device-independent programs into Computations, and
// dispatch them with one of the Execute verbs. Backends register themselves under a short name
// (see Register); use New or NewWithConfig to construct the configured one. A pure in-process
// backend is available under github.com/mruberry/xla/client/sim.
//
// All operations return explicit errors; failures are reported to the immediate caller and
// never retried at this layer. Errors are matched against the Err* sentinels of this package
// with errors.Is.
package client

import (
	"os"
	"strings"

	"github.com/mruberry/xla/types/shapes"
	"github.com/mruberry/xla/types/tensors"
	"github.com/pkg/errors"
)

// Client is the API a backend driving an accelerator fleet needs to implement.
//
// A Client is safe for concurrent use by multiple goroutines.
type Client interface {
	// Name returns the short name of the backend. E.g.: "sim" for the in-process simulated fleet.
	Name() string

	// Description is a longer description of the backend that can be used to pretty-print.
	Description() string

	// DataInterface is the sub-interface to create and move device data handles.
	DataInterface

	// ExecutionInterface is the sub-interface to compile and execute programs.
	ExecutionInterface

	// DeviceInterface is the sub-interface with the device topology queries.
	DeviceInterface

	// SetRngSeed seeds whatever randomness the backend uses: simulated dispatch jitter,
	// initial device state, that sort of thing.
	SetRngSeed(seed uint64)

	// Finalize releases all the associated resources immediately, and makes the client invalid.
	// Any Data and Computation still alive are destroyed.
	Finalize()
}

// DataInterface defines how values are placed on and retrieved from devices.
type DataInterface interface {
	// CreateDataPlaceholder creates a Data handle with no value attached, to be populated
	// exactly once with Data.Assign. It involves no remote work and never fails.
	CreateDataPlaceholder(device string, shape shapes.Shape) Data

	// TransferToServer populates device memory from the given sources, returning one
	// populated handle per source, in source order. On any failure no handles escape:
	// partially created ones are finalized and the error is returned wrapping ErrTransfer.
	TransferToServer(sources []TensorSource) ([]Data, error)

	// TransferFromServer fetches the values bound to the given handles, in handle order.
	// Every handle must have a value (ErrNotPopulated otherwise).
	TransferFromServer(handles []Data) ([]*tensors.Tensor, error)

	// DeconstructTuple splits each tuple-shaped handle into fresh per-element handles,
	// in tuple order. It fails with ErrNotATuple if any handle is not tuple-shaped.
	DeconstructTuple(tuples []Data) ([][]Data, error)
}

// ExecutionInterface defines compilation and the four execution verbs.
type ExecutionInterface interface {
	// Compile compiles each instance for its devices, returning the computations in
	// instance order. The call fails atomically: on error, computations compiled earlier
	// in the same call are finalized and none escape.
	Compile(instances []CompileInstance) ([]Computation, error)

	// ExecuteComputation runs the computation over the arguments on the given device.
	// Every argument must live on that device (ErrDeviceMismatch otherwise). The result
	// handles are on the same device; a tuple result is exploded into per-element handles
	// when options.ExplodeTuple is set.
	ExecuteComputation(computation Computation, arguments []Data, device string, options ExecuteComputationOptions) ([]Data, error)

	// ExecuteReplicated runs one replica of the computation per device, each with its own
	// argument list. len(arguments) == len(devices) and arguments[i] must live on
	// devices[i]. Replicas are dispatched concurrently; the results are ordered by the
	// devices argument, not by completion.
	ExecuteReplicated(computation Computation, arguments [][]Data, devices []string, options ExecuteReplicatedOptions) ([][]Data, error)

	// ExecuteParallel is ExecuteReplicated with a distinct computation per device.
	ExecuteParallel(computations []Computation, arguments [][]Data, devices []string, options ExecuteParallelOptions) ([][]Data, error)

	// ExecuteChained executes a post-ordered dataflow graph of operations on one device,
	// returning only the outputs listed by the ops' Outputs declarations. Intermediate
	// values not exported are freed before the call returns.
	ExecuteChained(ops []ChainedOp, device string) ([]Data, error)
}

// DeviceInterface defines the topology queries of a device fleet.
type DeviceInterface interface {
	// DefaultDevice returns the device used when the caller expresses no preference.
	DefaultDevice() string

	// LocalDevices returns the devices attached to the local worker task.
	LocalDevices() []string

	// AllDevices returns every device of the fleet, across all worker tasks.
	AllDevices() []string

	// NumDevices returns len(AllDevices()).
	NumDevices() int

	// ResourceDomain returns the transfer-compatibility key of a device: two devices with
	// the same key may exchange handles without a transfer through the host. It fails for
	// devices not part of the fleet.
	ResourceDomain(device string) (string, error)

	// SetReplicationDevices records the fleet-wide replication device list used by
	// ExecuteReplicated callers to coordinate.
	SetReplicationDevices(devices []string)

	// ReplicationDevices returns a copy of the list recorded by SetReplicationDevices,
	// or nil if none was set.
	ReplicationDevices() []string
}

// Constructor takes a backend-specific config string (optionally empty) and returns a Client.
type Constructor func(config string) (Client, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend constructor under the given name. The config string given to New or
// NewWithConfig is passed along to the constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if the XLA_BACKEND environment variable
// is not set.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// XLA_BACKEND is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "sim") and
// "<backend_configuration>" is backend specific (e.g.: for the sim backend, the fleet topology).
const XLA_BACKEND = "XLA_BACKEND"

// New returns a new Client with the default configuration.
//
// The default is:
//
// 1. The environment variable XLA_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It fails if no backend was registered.
func New() (Client, error) {
	config, found := os.LookupEnv(XLA_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig builds the Client from a configuration string formatted as
// "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend and "<backend_configuration>" is
// backend specific. A config without a ':' selects the named backend with an empty
// configuration; an empty config selects the first registered backend.
func NewWithConfig(config string) (Client, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends -- maybe import the sim one with import _ "github.com/mruberry/xla/client/sim"?`)
	}
	backendName := config
	backendConfig := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
