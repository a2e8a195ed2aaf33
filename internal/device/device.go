// Package device describes the execution backends a stage can run on and
// the opaque completion-handle abstraction that lets the GPU path and the
// event-chained engine express dependencies between asynchronous kernel
// submissions. The kernels themselves (cosine filter, block histogram,
// pairwise distance) are external collaborators registered against this
// package's interfaces; device never imports them.
package device

import (
	"context"
	"time"
)

// Kind identifies one of the two execution backends known to this system.
// Accelerator auto-discovery beyond CPU+GPU is out of scope.
type Kind int

const (
	CPU Kind = iota
	GPU
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "UNKNOWN"
	}
}

// CompletionHandle is the opaque future-like object a stage function may
// return from its GPU path. It supports dependency chaining (so a later
// stage's submission can wait on an earlier one without occupying a CPU
// worker thread) and profiling queries for device-side timing.
type CompletionHandle interface {
	// Wait blocks until the underlying device work completes, or ctx expires.
	Wait(ctx context.Context) error

	// DependsOn declares that this handle's work must not start until all of
	// deps have completed. Backends that can express this natively (e.g. a
	// command queue with event dependencies) should do so instead of
	// blocking the submitting goroutine.
	DependsOn(deps ...CompletionHandle)

	// Profiling returns device-reported start/end timestamps for the
	// submission, when the backend tracks them. ok is false when no
	// profiling information is available and the caller should fall back
	// to wall-clock timing instead.
	Profiling() (start, end time.Time, ok bool)
}

// Context is the per-call context a dispatcher hands to a registered stage
// function: scratch buffers belong to the frame, but device selection,
// prior completion handles and cancellation flow through here.
type Context struct {
	Device Kind
	Deps   []CompletionHandle
}

// StageFunc is the signature the core expects from a registered stage
// implementation. frame and appData are opaque to this package (they are
// supplied by the caller); a CPU-path implementation returns (nil, err)
// having already finished its work synchronously, while a GPU-path
// implementation returns a CompletionHandle that callers may wait on or
// chain further submissions against.
type StageFunc func(ctx context.Context, devCtx Context, frame, appData interface{}) (CompletionHandle, error)

// Registry maps (stageIndex, device kind) pairs to their stage function.
// Populated once at startup; read concurrently by every engine goroutine
// thereafter, so it is safe to share without locking once built.
type Registry struct {
	funcs map[registryKey]StageFunc
}

type registryKey struct {
	stage int
	kind  Kind
}

// NewRegistry returns an empty stage function registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[registryKey]StageFunc)}
}

// Register binds fn as the implementation of stageIndex on device kind.
func (r *Registry) Register(stageIndex int, kind Kind, fn StageFunc) {
	r.funcs[registryKey{stage: stageIndex, kind: kind}] = fn
}

// Lookup returns the registered stage function, if any.
func (r *Registry) Lookup(stageIndex int, kind Kind) (StageFunc, bool) {
	fn, ok := r.funcs[registryKey{stage: stageIndex, kind: kind}]
	return fn, ok
}
