package client

// ExecuteOptions are the options shared by every execution verb.
type ExecuteOptions struct {
	// ExplodeTuple makes a tuple-shaped execution result come back as one handle per
	// tuple element instead of a single tuple-shaped handle.
	ExplodeTuple bool
}

// DefaultExecuteOptions returns the options used when the caller expresses no preference:
// tuple results exploded.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{ExplodeTuple: true}
}

// ExecuteComputationOptions are the options of ExecuteComputation.
type ExecuteComputationOptions struct {
	ExecuteOptions
}

// DefaultExecuteComputationOptions returns the ExecuteComputation defaults.
func DefaultExecuteComputationOptions() ExecuteComputationOptions {
	return ExecuteComputationOptions{ExecuteOptions: DefaultExecuteOptions()}
}

// ExecuteReplicatedOptions are the options of ExecuteReplicated.
type ExecuteReplicatedOptions struct {
	ExecuteOptions
}

// DefaultExecuteReplicatedOptions returns the ExecuteReplicated defaults.
func DefaultExecuteReplicatedOptions() ExecuteReplicatedOptions {
	return ExecuteReplicatedOptions{ExecuteOptions: DefaultExecuteOptions()}
}

// ExecuteParallelOptions are the options of ExecuteParallel.
type ExecuteParallelOptions struct {
	ExecuteOptions
}

// DefaultExecuteParallelOptions returns the ExecuteParallel defaults.
func DefaultExecuteParallelOptions() ExecuteParallelOptions {
	return ExecuteParallelOptions{ExecuteOptions: DefaultExecuteOptions()}
}
