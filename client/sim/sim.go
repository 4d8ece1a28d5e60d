// Package sim implements an in-process simulated accelerator fleet for the client interface.
//
// It exists to run and test the computation-client protocol without real accelerators: device
// memory is host memory, compiled programs are Go functions over tensors, and the fleet
// topology is configurable. Import it with
//
//	import _ "github.com/mruberry/xla/client/sim"
//
// to make it available during initialization, then select it with XLA_BACKEND="sim" or with a
// topology, e.g. XLA_BACKEND="sim:TPU=4x2,CPU=1".
//
// The topology configuration is a comma-separated list of "TYPE=N" or "TYPE=NxM" terms: N
// devices of TYPE per simulated worker task, over M worker tasks (default 1). Task 0 is the
// local task. Devices are named "TYPE:ordinal" with ordinals consecutive across tasks, so
// "TPU=4x2" is TPU:0 to TPU:3 on task 0 and TPU:4 to TPU:7 on task 1. The empty configuration
// is DefaultTopology.
package sim

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/mruberry/xla/client"
	"github.com/mruberry/xla/internal/workerspool"
	"github.com/mruberry/xla/types/tensors"
	"github.com/mruberry/xla/types/xslices"
	"github.com/mruberry/xla/types/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in XLA_BACKEND to specify this backend.
const BackendName = "sim"

// DefaultTopology is the fleet used when the configuration string is empty.
const DefaultTopology = "CPU=1"

// Registers New() as the constructor for the "sim" backend.
func init() {
	client.Register(BackendName, New)
}

// New constructs a sim Client with the given fleet topology configuration.
// See the package documentation for the configuration format.
func New(config string) (client.Client, error) {
	return NewClient(config)
}

// NewClient is like New but returns the concrete *Client, which additionally exposes the
// dispatch test hooks (SetDispatchDelay).
func NewClient(config string) (*Client, error) {
	if config == "" {
		config = DefaultTopology
	}
	c := &Client{
		session: uuid.NewString(),
		config:  config,
		pool:    workerspool.New(),
	}
	if err := c.parseTopology(config); err != nil {
		return nil, err
	}
	c.workers = make([]*workerTask, c.numTasks)
	for ii := range c.workers {
		c.workers[ii] = &workerTask{}
	}
	klog.V(1).Infof("sim: new client session %s, %d devices over %d worker tasks (%s)",
		c.session, len(c.all), c.numTasks, config)
	return c, nil
}

// deviceInfo describes one simulated device of the fleet.
type deviceInfo struct {
	name   string // "TYPE:ordinal"
	task   int    // worker task the device is attached to; task 0 is local
	domain string // resource-domain key; devices sharing it exchange handles without transfer
}

// workerTask simulates one worker's device memory: tensors keyed by resource id.
type workerTask struct {
	storage xsync.SyncMap[int64, *tensors.Tensor]
}

// Client simulates an accelerator fleet in process. It implements client.Client and is safe
// for concurrent use.
type Client struct {
	session  string
	config   string
	numTasks int

	devices      []deviceInfo
	deviceByName map[string]*deviceInfo
	local, all   []string

	pool          *workerspool.Pool
	workers       []*workerTask
	resourceIDGen atomic.Int64

	// computations holds the live compiled artifacts, keyed by computation id.
	computations xsync.SyncMap[int64, *computation]

	muReplication      sync.RWMutex
	replicationDevices []string

	muDispatch sync.Mutex
	delayFn    func(replica int, device string) time.Duration
	rng        *rand.Rand

	finalized atomic.Bool
}

// Compile-time check that sim.Client implements client.Client.
var _ client.Client = (*Client)(nil)

// parseTopology fills the device tables from a configuration like "TPU=4x2,CPU=1".
func (c *Client) parseTopology(config string) error {
	c.deviceByName = make(map[string]*deviceInfo)
	seen := make(map[string]bool)
	for _, term := range strings.Split(config, ",") {
		term = strings.TrimSpace(term)
		typeName, counts, found := strings.Cut(term, "=")
		if !found || typeName == "" {
			return errors.Errorf("invalid %s topology %q: term %q is not TYPE=N or TYPE=NxM",
				BackendName, config, term)
		}
		if strings.Contains(typeName, ":") {
			return errors.Errorf("invalid %s topology %q: device type %q cannot contain ':'",
				BackendName, config, typeName)
		}
		if seen[typeName] {
			return errors.Errorf("invalid %s topology %q: device type %q given twice",
				BackendName, config, typeName)
		}
		seen[typeName] = true
		perTaskStr, numTasksStr, hasTasks := strings.Cut(counts, "x")
		perTask, err := strconv.Atoi(perTaskStr)
		if err != nil || perTask < 1 {
			return errors.Errorf("invalid %s topology %q: %q is not a positive device count",
				BackendName, config, perTaskStr)
		}
		numTasks := 1
		if hasTasks {
			numTasks, err = strconv.Atoi(numTasksStr)
			if err != nil || numTasks < 1 {
				return errors.Errorf("invalid %s topology %q: %q is not a positive worker task count",
					BackendName, config, numTasksStr)
			}
		}
		for task := range numTasks {
			domain := fmt.Sprintf("%s:%s/%s/task%d", BackendName, c.session, typeName, task)
			for ii := range perTask {
				c.devices = append(c.devices, deviceInfo{
					name:   fmt.Sprintf("%s:%d", typeName, task*perTask+ii),
					task:   task,
					domain: domain,
				})
			}
		}
		c.numTasks = max(c.numTasks, numTasks)
	}
	for ii := range c.devices {
		dev := &c.devices[ii]
		c.deviceByName[dev.name] = dev
		c.all = append(c.all, dev.name)
		if dev.task == 0 {
			c.local = append(c.local, dev.name)
		}
	}
	return nil
}

// Name returns the short name of the backend: "sim".
func (c *Client) Name() string { return BackendName }

// Description is a longer description of the backend that can be used to pretty-print.
func (c *Client) Description() string {
	return fmt.Sprintf("Simulated accelerator fleet (%s, %d devices over %d worker tasks)",
		c.config, len(c.all), c.numTasks)
}

// assertValid panics if the client was finalized.
func (c *Client) assertValid() {
	if c.finalized.Load() {
		exceptions.Panicf("%q client (session %s) already finalized", BackendName, c.session)
	}
}

// deviceInfo resolves a device name to its fleet entry.
func (c *Client) deviceInfo(device string) (*deviceInfo, error) {
	dev, found := c.deviceByName[device]
	if !found {
		return nil, errors.Errorf("device %q is not part of the %s fleet (%s)", device, BackendName, c.config)
	}
	return dev, nil
}

// DefaultDevice returns the first local device.
func (c *Client) DefaultDevice() string { return c.local[0] }

// LocalDevices returns the devices attached to worker task 0.
func (c *Client) LocalDevices() []string { return xslices.Copy(c.local) }

// AllDevices returns every device of the fleet, across all worker tasks.
func (c *Client) AllDevices() []string { return xslices.Copy(c.all) }

// NumDevices returns the number of devices of the fleet.
func (c *Client) NumDevices() int { return len(c.all) }

// ResourceDomain returns the transfer-compatibility key of a device. Sim domains group the
// devices of one type on one worker task, and embed the client session so handles of distinct
// clients never alias.
func (c *Client) ResourceDomain(device string) (string, error) {
	dev, err := c.deviceInfo(device)
	if err != nil {
		return "", err
	}
	return dev.domain, nil
}

// SetReplicationDevices records the fleet-wide replication device list. The list is copied.
func (c *Client) SetReplicationDevices(devices []string) {
	c.muReplication.Lock()
	defer c.muReplication.Unlock()
	c.replicationDevices = xslices.Copy(devices)
}

// ReplicationDevices returns a copy of the list recorded by SetReplicationDevices, or nil.
func (c *Client) ReplicationDevices() []string {
	c.muReplication.RLock()
	defer c.muReplication.RUnlock()
	return xslices.Copy(c.replicationDevices)
}

// maxDispatchJitter bounds the random per-replica dispatch delay enabled by SetRngSeed.
const maxDispatchJitter = 200 * time.Microsecond

// SetRngSeed seeds the simulated dispatch jitter: each replica dispatch then sleeps a random
// duration up to maxDispatchJitter, so concurrent branches complete out of submission order.
// Without a seed dispatch is immediate.
func (c *Client) SetRngSeed(seed uint64) {
	c.muDispatch.Lock()
	defer c.muDispatch.Unlock()
	c.rng = rand.New(rand.NewPCG(seed, seed))
}

// SetDispatchDelay overrides the per-replica dispatch delay, replacing the seeded jitter.
// Tests use it to force specific completion orders. A nil fn restores the default.
func (c *Client) SetDispatchDelay(fn func(replica int, device string) time.Duration) {
	c.muDispatch.Lock()
	defer c.muDispatch.Unlock()
	c.delayFn = fn
}

func (c *Client) dispatchDelay(replica int, device string) time.Duration {
	c.muDispatch.Lock()
	defer c.muDispatch.Unlock()
	if c.delayFn != nil {
		return c.delayFn(replica, device)
	}
	if c.rng == nil {
		return 0
	}
	return time.Duration(c.rng.Int64N(int64(maxDispatchJitter)))
}

// Finalize releases all the associated resources immediately, and makes the client invalid.
// Live computations and device values are destroyed; handles still held by the caller become
// unreadable but their Finalize stays safe to call.
func (c *Client) Finalize() {
	if !c.finalized.CompareAndSwap(false, true) {
		return
	}
	var numComputations, numValues int
	c.computations.Range(func(id int64, _ *computation) bool {
		if _, loaded := c.computations.LoadAndDelete(id); loaded {
			client.DestroyCompileHandlesCounter().Add(1)
			numComputations++
		}
		return true
	})
	for _, worker := range c.workers {
		worker.storage.Range(func(id int64, _ *tensors.Tensor) bool {
			if _, loaded := worker.storage.LoadAndDelete(id); loaded {
				client.DestroyDataHandlesCounter().Add(1)
				numValues++
			}
			return true
		})
	}
	klog.V(1).Infof("sim: finalized client session %s, destroyed %d computations and %d device values",
		c.session, numComputations, numValues)
}
