package sim

import (
	"sync"
	"sync/atomic"

	"github.com/mruberry/xla/client"
	"github.com/mruberry/xla/types/shapes"
	"github.com/mruberry/xla/types/tensors"
	"github.com/mruberry/xla/types/xsync"
	"github.com/pkg/errors"
)

// Compile-time check:
var _ client.DataInterface = (*Client)(nil)

// deviceData implements client.Data: a handle optionally bound to a simulated device value.
//
// The latch publishes the one-shot has-value transition: a goroutine observing
// HasValue() == true also observes the value field written before the trigger.
type deviceData struct {
	client.Handle
	backend *Client

	populated *xsync.Latch
	muAssign  sync.Mutex
	value     *deviceValue // set at most once, before populated triggers

	released atomic.Bool
}

var _ client.Data = (*deviceData)(nil)

// deviceValue is a reference-counted simulated device resource: a tensor held by one worker
// task's storage. The last release frees it and counts the destruction.
type deviceValue struct {
	task       int
	resourceID int64
	refs       atomic.Int64
}

// newValue stores the tensor as a fresh device resource on the given worker task and returns
// the value holding its only reference.
func (c *Client) newValue(task int, t *tensors.Tensor) *deviceValue {
	v := &deviceValue{task: task, resourceID: c.resourceIDGen.Add(1)}
	v.refs.Store(1)
	c.workers[task].storage.Store(v.resourceID, t)
	return v
}

func (v *deviceValue) acquire() { v.refs.Add(1) }

// release drops one reference. The last one removes the resource from the worker storage and,
// if it was still there, counts the destruction. A resource is never destroy-counted twice.
func (v *deviceValue) release(c *Client) {
	if v.refs.Add(-1) > 0 {
		return
	}
	if _, loaded := c.workers[v.task].storage.LoadAndDelete(v.resourceID); loaded {
		client.DestroyDataHandlesCounter().Add(1)
	}
}

// newPlaceholder mints an empty handle and counts its creation.
func (c *Client) newPlaceholder(device string, shape shapes.Shape) *deviceData {
	client.CreateDataHandlesCounter().Add(1)
	return &deviceData{
		Handle:    client.NewHandle(device, shape),
		backend:   c,
		populated: xsync.NewLatch(),
	}
}

// newPopulatedData stores the tensor as a new device value and returns a populated handle to it.
func (c *Client) newPopulatedData(dev *deviceInfo, t *tensors.Tensor) *deviceData {
	d := c.newPlaceholder(dev.name, t.Shape())
	d.value = c.newValue(dev.task, t)
	d.populated.Trigger()
	return d
}

// ownData checks the data handle was minted by this client.
func (c *Client) ownData(data client.Data) (*deviceData, error) {
	d, ok := data.(*deviceData)
	if !ok {
		return nil, errors.Errorf("data handle %v was not created by the %s backend", data, BackendName)
	}
	if d.backend != c {
		return nil, errors.Errorf("data handle %s belongs to a different %s client", d, BackendName)
	}
	return d, nil
}

// tensor returns the device-resident tensor bound to the handle.
func (d *deviceData) tensor() (*tensors.Tensor, error) {
	if !d.populated.Test() {
		return nil, errors.Wrapf(client.ErrNotPopulated, "%s", d)
	}
	t, found := d.backend.workers[d.value.task].storage.Load(d.value.resourceID)
	if !found {
		return nil, errors.Wrapf(client.ErrNotPopulated, "%s: device value already released", d)
	}
	return t, nil
}

// HasValue reports whether the handle is bound to a device value.
func (d *deviceData) HasValue() bool {
	return d.populated.Test()
}

// Assign binds this placeholder to the same device value as from. The source must be
// populated, the shapes must match, and the devices must either be the same or share a
// resource domain. A placeholder is populated at most once.
func (d *deviceData) Assign(from client.Data) error {
	fromData, err := d.backend.ownData(from)
	if err != nil {
		return err
	}
	if fromData.released.Load() {
		return errors.Errorf("cannot assign from finalized handle %s", fromData)
	}
	if !fromData.populated.Test() {
		return errors.Wrapf(client.ErrNotPopulated, "cannot assign from %s", fromData)
	}
	if !fromData.Shape().Equal(d.Shape()) {
		return errors.Errorf("cannot assign %s to placeholder %s: shapes differ", fromData, d)
	}
	if fromData.Device() != d.Device() {
		fromDomain, err := d.backend.ResourceDomain(fromData.Device())
		if err != nil {
			return err
		}
		toDomain, err := d.backend.ResourceDomain(d.Device())
		if err != nil {
			return err
		}
		if fromDomain != toDomain {
			return errors.Wrapf(client.ErrDeviceMismatch,
				"cannot assign %s to placeholder %s: resource domains differ (%s vs %s)",
				fromData, d, fromDomain, toDomain)
		}
	}
	d.muAssign.Lock()
	defer d.muAssign.Unlock()
	if d.released.Load() {
		return errors.Errorf("placeholder %s already finalized", d)
	}
	if d.populated.Test() {
		return errors.Errorf("placeholder %s already populated", d)
	}
	fromData.value.acquire()
	d.value = fromData.value
	d.populated.Trigger()
	return nil
}

// Finalize releases the handle. The first call counts the release and drops the handle's
// reference to its device value, destroying the value if it was the last one. Idempotent.
func (d *deviceData) Finalize() {
	if !d.released.CompareAndSwap(false, true) {
		return
	}
	defer client.ReleaseDataHandlesTimeMetric().Timed()()
	client.ReleaseDataHandlesCounter().Add(1)
	if d.populated.Test() && d.value != nil {
		d.value.release(d.backend)
	}
}

// finalizeAll finalizes every non-nil handle; used to unwind partially created results.
func finalizeAll(handles []client.Data) {
	for _, d := range handles {
		if d != nil {
			d.Finalize()
		}
	}
}

func finalizeGroups(groups [][]client.Data) {
	for _, handles := range groups {
		finalizeAll(handles)
	}
}

// CreateDataPlaceholder creates an empty handle on the given device: HasValue() is false until
// the handle is populated exactly once with Assign. No device resource is involved and the
// call never fails.
func (c *Client) CreateDataPlaceholder(device string, shape shapes.Shape) client.Data {
	c.assertValid()
	return c.newPlaceholder(device, shape)
}

// TransferToServer uploads one value per source and returns the populated handles in source
// order. Sources are populated concurrently on the worker pool. On any failure the handles
// already created by the call are finalized and the error, wrapping ErrTransfer, is returned.
func (c *Client) TransferToServer(sources []client.TensorSource) ([]client.Data, error) {
	c.assertValid()
	defer client.TransferToServerTimeMetric().Timed()()
	results := make([]client.Data, len(sources))
	err := c.pool.All(len(sources), func(ii int) error {
		source := sources[ii]
		dev, err := c.deviceInfo(source.Device)
		if err != nil {
			return errors.Wrapf(client.ErrTransfer, "source #%d: %s", ii, err)
		}
		if !source.Shape.Ok() {
			return errors.Wrapf(client.ErrTransfer, "source #%d has an invalid shape", ii)
		}
		if source.Shape.IsTuple() {
			return errors.Wrapf(client.ErrTransfer,
				"source #%d is tuple-shaped (%s), transfer the elements individually", ii, source.Shape)
		}
		if source.Populate == nil {
			return errors.Wrapf(client.ErrTransfer, "source #%d has no Populate function", ii)
		}
		t := tensors.FromShape(source.Shape)
		var populateErr error
		t.MutableBytes(func(buf []byte) {
			populateErr = source.Populate(buf)
		})
		if populateErr != nil {
			return errors.Wrapf(client.ErrTransfer, "populating source #%d (%s to %s): %v",
				ii, source.Shape, source.Device, populateErr)
		}
		client.OutboundDataMetric().AddSample(float64(source.Shape.Memory()))
		results[ii] = c.newPopulatedData(dev, t)
		return nil
	})
	if err != nil {
		finalizeAll(results)
		return nil, err
	}
	return results, nil
}

// TransferFromServer downloads the values bound to the given handles, in handle order. The
// returned tensors are copies owned by the caller. Every handle must be populated
// (ErrNotPopulated otherwise).
func (c *Client) TransferFromServer(handles []client.Data) ([]*tensors.Tensor, error) {
	c.assertValid()
	defer client.TransferFromServerTimeMetric().Timed()()
	results := make([]*tensors.Tensor, len(handles))
	err := c.pool.All(len(handles), func(ii int) error {
		d, err := c.ownData(handles[ii])
		if err != nil {
			return err
		}
		t, err := d.tensor()
		if err != nil {
			return errors.WithMessagef(err, "handle #%d", ii)
		}
		results[ii] = t.Clone()
		client.InboundDataMetric().AddSample(float64(t.Memory()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DeconstructTuple splits each tuple-shaped handle into fresh per-element handles sharing the
// device value, in tuple order. The original tuple handles stay valid. It fails with
// ErrNotATuple if any handle is not tuple-shaped; on failure no new handles escape.
func (c *Client) DeconstructTuple(tuples []client.Data) ([][]client.Data, error) {
	c.assertValid()
	defer client.DeconstructTupleTimeMetric().Timed()()
	results := make([][]client.Data, len(tuples))
	for ii, handle := range tuples {
		subs, err := c.deconstructOne(handle)
		if err != nil {
			finalizeGroups(results)
			return nil, errors.WithMessagef(err, "tuple #%d", ii)
		}
		results[ii] = subs
	}
	return results, nil
}

func (c *Client) deconstructOne(handle client.Data) ([]client.Data, error) {
	d, err := c.ownData(handle)
	if err != nil {
		return nil, err
	}
	if !d.Shape().IsTuple() {
		return nil, errors.Wrapf(client.ErrNotATuple, "%s", d)
	}
	t, err := d.tensor()
	if err != nil {
		return nil, err
	}
	dev, err := c.deviceInfo(d.Device())
	if err != nil {
		return nil, err
	}
	elements := t.TupleElements()
	subs := make([]client.Data, len(elements))
	for jj, element := range elements {
		subs[jj] = c.newPopulatedData(dev, element)
	}
	return subs, nil
}
