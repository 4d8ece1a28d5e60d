// Package metrics implements process-wide counters and sampled metrics for the
// accelerator client, and a plain-text report of their values.
//
// Two kinds of instruments are supported:
//
//   - Counter: a monotonically increasing int64 value.
//   - Metric: a running accumulator plus a fixed-capacity circular buffer of
//     timestamped samples. Each metric owns a rendering function (ValueRepr,
//     BytesRepr or DurationRepr) used when reporting its values.
//
// Metric and Counter are cheap front handles meant to be declared as package
// level variables next to the code they instrument:
//
//	var compileTime = metrics.NewMetric("CompileTime", metrics.DurationRepr)
//
//	func compile(...) {
//		defer compileTime.Timed()()
//		...
//	}
//
// Registration in the process Arena happens lazily on first use, exactly once
// even under concurrent first access: the handle keeps an atomic pointer to
// its data as a fast path and falls back to a locked lookup-or-create in the
// Arena. Independent Arena instances can be created with NewArena, which
// tests use to avoid the process-wide one.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/mruberry/xla/types/xslices"
)

// DefaultMaxSamples is the circular buffer capacity used by NewMetric.
const DefaultMaxSamples = 1024

// ReprFn renders a metric value for reports. See ValueRepr, BytesRepr and
// DurationRepr.
type ReprFn func(value float64) string

// Sample is one recorded observation of a metric.
type Sample struct {
	Time  time.Time
	Value float64
}

// MetricData holds the concrete state of a metric: the running accumulator,
// the total number of samples ever recorded and a circular buffer with the
// most recent ones. It is safe for concurrent use.
type MetricData struct {
	reprFn ReprFn

	mu          sync.Mutex
	samples     []Sample
	count       int64
	accumulator float64
}

func newMetricData(reprFn ReprFn, maxSamples int) *MetricData {
	if maxSamples <= 0 {
		exceptions.Panicf("metrics: a metric requires a positive samples capacity, got %d", maxSamples)
	}
	if reprFn == nil {
		reprFn = ValueRepr
	}
	return &MetricData{
		reprFn:  reprFn,
		samples: make([]Sample, maxSamples),
	}
}

// AddSample records value observed now.
func (d *MetricData) AddSample(value float64) {
	d.AddSampleAt(time.Now(), value)
}

// AddSampleAt records value observed at the given timestamp. Once the buffer
// is full the oldest slot is overwritten; the accumulator and the total count
// keep growing regardless.
func (d *MetricData) AddSampleAt(timestamp time.Time, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	position := d.count % int64(len(d.samples))
	d.count++
	d.accumulator += value
	d.samples[position] = Sample{Time: timestamp, Value: value}
}

// Accumulator returns the running sum of every value ever recorded.
func (d *MetricData) Accumulator() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accumulator
}

// TotalSamples returns the number of samples ever recorded, which may exceed
// the buffer capacity.
func (d *MetricData) TotalSamples() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Samples returns a copy of the buffered samples in chronological order,
// regardless of wraparound, along with the accumulator and the total count.
func (d *MetricData) Samples() (samples []Sample, accumulator float64, totalSamples int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	capacity := int64(len(d.samples))
	if d.count <= capacity {
		samples = xslices.Copy(d.samples[:d.count])
	} else {
		position := d.count % capacity
		samples = make([]Sample, 0, capacity)
		samples = append(samples, d.samples[position:]...)
		samples = append(samples, d.samples[:position]...)
	}
	return samples, d.accumulator, d.count
}

// Repr renders a value with the metric's rendering function.
func (d *MetricData) Repr(value float64) string {
	return d.reprFn(value)
}

// CounterData holds the concrete state of a counter.
type CounterData struct {
	value atomic.Int64
}

// Add increments the counter by delta.
func (d *CounterData) Add(delta int64) {
	d.value.Add(delta)
}

// Value returns the current counter value.
func (d *CounterData) Value() int64 {
	return d.value.Load()
}

// Arena is a registry mapping metric and counter names to their data. Most
// code uses the process-wide Default arena implicitly, through the Metric and
// Counter front handles; tests create isolated instances with NewArena.
type Arena struct {
	mu       sync.Mutex
	metrics  map[string]*MetricData
	counters map[string]*CounterData
}

// NewArena creates an empty, independent metrics registry.
func NewArena() *Arena {
	return &Arena{
		metrics:  make(map[string]*MetricData),
		counters: make(map[string]*CounterData),
	}
}

var defaultArena = NewArena()

// Default returns the process-wide Arena.
func Default() *Arena { return defaultArena }

// GetOrCreateMetric returns the data registered under name, creating it with
// the given rendering function and buffer capacity if absent. The reprFn and
// maxSamples of an already registered metric are kept unchanged.
func (a *Arena) GetOrCreateMetric(name string, reprFn ReprFn, maxSamples int) *MetricData {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, found := a.metrics[name]
	if !found {
		data = newMetricData(reprFn, maxSamples)
		a.metrics[name] = data
	}
	return data
}

// GetOrCreateCounter returns the counter registered under name, creating it
// if absent.
func (a *Arena) GetOrCreateCounter(name string) *CounterData {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, found := a.counters[name]
	if !found {
		data = &CounterData{}
		a.counters[name] = data
	}
	return data
}

// GetMetric returns the data registered under name, or nil if no metric with
// that name was registered.
func (a *Arena) GetMetric(name string) *MetricData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics[name]
}

// GetCounter returns the counter registered under name, or nil if no counter
// with that name was registered.
func (a *Arena) GetCounter(name string) *CounterData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters[name]
}

// GetMetricNames returns the sorted names of the registered metrics.
func (a *Arena) GetMetricNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return xslices.SortedKeys(a.metrics)
}

// GetCounterNames returns the sorted names of the registered counters.
func (a *Arena) GetCounterNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return xslices.SortedKeys(a.counters)
}

// ForEachMetric calls fn for every registered metric, in sorted name order.
func (a *Arena) ForEachMetric(fn func(name string, data *MetricData)) {
	for _, name := range a.GetMetricNames() {
		fn(name, a.GetMetric(name))
	}
}

// ForEachCounter calls fn for every registered counter, in sorted name order.
func (a *Arena) ForEachCounter(fn func(name string, data *CounterData)) {
	for _, name := range a.GetCounterNames() {
		fn(name, a.GetCounter(name))
	}
}

// Metric is a cheap front handle to a named metric in the Default arena.
// The zero value is not usable, use NewMetric. It is safe to declare as a
// package-level variable and to use from any goroutine.
type Metric struct {
	name       string
	reprFn     ReprFn
	maxSamples int
	data       atomic.Pointer[MetricData]
}

// NewMetric returns a handle to the metric with the given name and rendering
// function, with the DefaultMaxSamples buffer capacity. Registration in the
// Default arena is deferred to the first use.
func NewMetric(name string, reprFn ReprFn) *Metric {
	return NewMetricWithCapacity(name, reprFn, DefaultMaxSamples)
}

// NewMetricWithCapacity is NewMetric with an explicit circular buffer
// capacity.
func NewMetricWithCapacity(name string, reprFn ReprFn, maxSamples int) *Metric {
	return &Metric{name: name, reprFn: reprFn, maxSamples: maxSamples}
}

// Name returns the metric name.
func (m *Metric) Name() string { return m.name }

// Data returns the metric's registered data, registering it on first use.
func (m *Metric) Data() *MetricData {
	data := m.data.Load()
	if data == nil {
		// GetOrCreateMetric is the synchronization point: concurrent first
		// accesses all fetch the same data and store the same pointer here.
		data = Default().GetOrCreateMetric(m.name, m.reprFn, m.maxSamples)
		m.data.Store(data)
	}
	return data
}

// AddSample records value observed now.
func (m *Metric) AddSample(value float64) {
	m.Data().AddSample(value)
}

// AddSampleAt records value observed at the given timestamp.
func (m *Metric) AddSampleAt(timestamp time.Time, value float64) {
	m.Data().AddSampleAt(timestamp, value)
}

// Accumulator returns the running sum of every value ever recorded.
func (m *Metric) Accumulator() float64 {
	return m.Data().Accumulator()
}

// Samples returns the buffered samples in chronological order, along with the
// accumulator and the total count.
func (m *Metric) Samples() ([]Sample, float64, int64) {
	return m.Data().Samples()
}

// Repr renders a value with the metric's rendering function.
func (m *Metric) Repr(value float64) string {
	return m.Data().Repr(value)
}

// Timed starts a time measurement and returns the func that stops it and
// records the elapsed time, in nanoseconds, as a sample:
//
//	defer someTimeMetric.Timed()()
func (m *Metric) Timed() (stop func()) {
	start := time.Now()
	return func() {
		m.AddSample(float64(time.Since(start).Nanoseconds()))
	}
}

// Counter is a cheap front handle to a named counter in the Default arena.
// The zero value is not usable, use NewCounter. It is safe to declare as a
// package-level variable and to use from any goroutine.
type Counter struct {
	name string
	data atomic.Pointer[CounterData]
}

// NewCounter returns a handle to the counter with the given name.
// Registration in the Default arena is deferred to the first use.
func NewCounter(name string) *Counter {
	return &Counter{name: name}
}

// Name returns the counter name.
func (c *Counter) Name() string { return c.name }

// Data returns the counter's registered data, registering it on first use.
func (c *Counter) Data() *CounterData {
	data := c.data.Load()
	if data == nil {
		data = Default().GetOrCreateCounter(c.name)
		c.data.Store(data)
	}
	return data
}

// Add increments the counter by delta.
func (c *Counter) Add(delta int64) {
	c.Data().Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.Data().Value()
}

// GetMetricNames returns the sorted names of the metrics registered in the
// Default arena.
func GetMetricNames() []string { return Default().GetMetricNames() }

// GetMetric returns the data registered under name in the Default arena, or
// nil if absent.
func GetMetric(name string) *MetricData { return Default().GetMetric(name) }

// GetCounterNames returns the sorted names of the counters registered in the
// Default arena.
func GetCounterNames() []string { return Default().GetCounterNames() }

// GetCounter returns the counter registered under name in the Default arena,
// or nil if absent.
func GetCounter(name string) *CounterData { return Default().GetCounter(name) }
