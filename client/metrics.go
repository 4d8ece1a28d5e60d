package client

import "github.com/mruberry/xla/metrics"

// Per-operation instruments, shared by every backend. Each protocol call records its latency
// in the matching *Time metric; handle lifecycles tick the paired create/release/destroy
// counters, where destroy counts only when the backing device resource was actually freed.
var (
	transferToServerTime      = metrics.NewMetric("TransferToServerTime", metrics.DurationRepr)
	transferFromServerTime    = metrics.NewMetric("TransferFromServerTime", metrics.DurationRepr)
	deconstructTupleTime      = metrics.NewMetric("DeconstructTupleTime", metrics.DurationRepr)
	compileTime               = metrics.NewMetric("CompileTime", metrics.DurationRepr)
	executeTime               = metrics.NewMetric("ExecuteTime", metrics.DurationRepr)
	executeReplicatedTime     = metrics.NewMetric("ExecuteReplicatedTime", metrics.DurationRepr)
	executeParallelTime       = metrics.NewMetric("ExecuteParallelTime", metrics.DurationRepr)
	executeChainedTime        = metrics.NewMetric("ExecuteChainedTime", metrics.DurationRepr)
	releaseDataHandlesTime    = metrics.NewMetric("ReleaseDataHandlesTime", metrics.DurationRepr)
	releaseCompileHandlesTime = metrics.NewMetric("ReleaseCompileHandlesTime", metrics.DurationRepr)

	inboundData  = metrics.NewMetric("InboundData", metrics.BytesRepr)
	outboundData = metrics.NewMetric("OutboundData", metrics.BytesRepr)

	createDataHandles     = metrics.NewCounter("CreateDataHandles")
	releaseDataHandles    = metrics.NewCounter("ReleaseDataHandles")
	destroyDataHandles    = metrics.NewCounter("DestroyDataHandles")
	createCompileHandles  = metrics.NewCounter("CreateCompileHandles")
	releaseCompileHandles = metrics.NewCounter("ReleaseCompileHandles")
	destroyCompileHandles = metrics.NewCounter("DestroyCompileHandles")
)

// TransferToServerTimeMetric returns the latency metric of TransferToServer calls.
func TransferToServerTimeMetric() *metrics.Metric { return transferToServerTime }

// TransferFromServerTimeMetric returns the latency metric of TransferFromServer calls.
func TransferFromServerTimeMetric() *metrics.Metric { return transferFromServerTime }

// DeconstructTupleTimeMetric returns the latency metric of DeconstructTuple calls.
func DeconstructTupleTimeMetric() *metrics.Metric { return deconstructTupleTime }

// CompileTimeMetric returns the latency metric of Compile calls.
func CompileTimeMetric() *metrics.Metric { return compileTime }

// ExecuteTimeMetric returns the latency metric of ExecuteComputation calls.
func ExecuteTimeMetric() *metrics.Metric { return executeTime }

// ExecuteReplicatedTimeMetric returns the latency metric of ExecuteReplicated calls.
func ExecuteReplicatedTimeMetric() *metrics.Metric { return executeReplicatedTime }

// ExecuteParallelTimeMetric returns the latency metric of ExecuteParallel calls.
func ExecuteParallelTimeMetric() *metrics.Metric { return executeParallelTime }

// ExecuteChainedTimeMetric returns the latency metric of ExecuteChained calls.
func ExecuteChainedTimeMetric() *metrics.Metric { return executeChainedTime }

// ReleaseDataHandlesTimeMetric returns the latency metric of Data releases.
func ReleaseDataHandlesTimeMetric() *metrics.Metric { return releaseDataHandlesTime }

// ReleaseCompileHandlesTimeMetric returns the latency metric of Computation releases.
func ReleaseCompileHandlesTimeMetric() *metrics.Metric { return releaseCompileHandlesTime }

// InboundDataMetric returns the bytes metric of device-to-host transfers.
func InboundDataMetric() *metrics.Metric { return inboundData }

// OutboundDataMetric returns the bytes metric of host-to-device transfers.
func OutboundDataMetric() *metrics.Metric { return outboundData }

// CreateDataHandlesCounter counts Data handles created.
func CreateDataHandlesCounter() *metrics.Counter { return createDataHandles }

// ReleaseDataHandlesCounter counts Data handles released by their owner.
func ReleaseDataHandlesCounter() *metrics.Counter { return releaseDataHandles }

// DestroyDataHandlesCounter counts Data handles whose device value was actually freed.
func DestroyDataHandlesCounter() *metrics.Counter { return destroyDataHandles }

// CreateCompileHandlesCounter counts Computations created.
func CreateCompileHandlesCounter() *metrics.Counter { return createCompileHandles }

// ReleaseCompileHandlesCounter counts Computations released by their owner.
func ReleaseCompileHandlesCounter() *metrics.Counter { return releaseCompileHandles }

// DestroyCompileHandlesCounter counts Computations whose compiled artifact was freed.
func DestroyCompileHandlesCounter() *metrics.Counter { return destroyCompileHandles }
