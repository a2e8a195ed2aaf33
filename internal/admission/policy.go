package admission

// StagePolicy constrains which device(s) a stage is allowed to run on.
type StagePolicy int

const (
	CPUOnly StagePolicy = iota
	GPUOnly
	CPUOrGPU
)

// AcquisitionMode selects which sequence of core/queue attempts
// Manager.AcquireForStage walks through.
type AcquisitionMode int

const (
	// Default spreads load by trying cores on both devices before
	// queueing on either.
	Default AcquisitionMode = iota
	// PrimarySecondary fills the primary device (queue included) before
	// overflowing onto the secondary device.
	PrimarySecondary
	// NoQueue disables admission queueing entirely; callers fail fast
	// once both devices' cores are exhausted.
	NoQueue
)
