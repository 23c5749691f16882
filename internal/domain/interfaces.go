package domain

// Sampler decides which hyperparameter samples to try next and when the
// search is over. The search algorithm itself lives behind this
// interface; executors only drive the sample/score/feedback loop.
type Sampler interface {
	// Finished reports whether the search is complete. Once true it
	// stays true.
	Finished() bool
	// SampleBatch returns the next batch of samples. Batch size is
	// chosen by the sampler.
	SampleBatch() []Sample
	// UpdateBatch feeds one (sample, score) pair per completed trial
	// back into the sampler.
	UpdateBatch(scores []SampleScore)
	// Goal returns the ranking direction for the whole run.
	Goal() Goal
}

// GPUProvider abstracts GPU discovery and memory queries for testing
type GPUProvider interface {
	// Init initializes the GPU provider (NVML or mock)
	Init() error
	// Shutdown cleanly shuts down the provider
	Shutdown() error
	// DeviceCount returns number of GPUs
	DeviceCount() (int, error)
	// AvailableMemory returns free memory in MiB keyed by device index
	AvailableMemory() (map[string]float64, error)
	// VisibleDevices returns a comma-separated device index list, or
	// "" when no device is present
	VisibleDevices() (string, error)
}
