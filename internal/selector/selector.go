// Package selector implements the path selector: per-frame, per-stage
// choice of CPU vs GPU, built on the resources manager's acquisition modes
// and a last-used-device bias. In Decoupled mode the choice is made once,
// at stage index -1, and persists for the rest of the frame's journey; in
// Coupled / CoupledCustom modes the resources manager is consulted at
// every stage.
package selector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/frame"
	"github.com/juju/clock"
)

const (
	minRetryBackoff = 50 * time.Microsecond
	maxRetryBackoff = 2 * time.Millisecond
)

// Selector drives path selection for one pipeline run. Mode/Acquisition/
// StagePolicy/PrefDevice are read on every acquisition and rewritten
// wholesale by the auto-tuner's hot reconfiguration, so they sit
// behind mu rather than being plain exported fields.
type Selector struct {
	Manager *admission.Manager
	Clock   clock.Clock

	mu          sync.RWMutex
	mode        CouplingMode
	acquisition admission.AcquisitionMode
	stagePolicy []admission.StagePolicy
	prefDevice  []device.Kind
}

// New returns a selector using the real wall clock for its retry backoff.
func New(mgr *admission.Manager, mode CouplingMode, acq admission.AcquisitionMode, policy []admission.StagePolicy, pref []device.Kind) *Selector {
	return &Selector{
		Manager:     mgr,
		mode:        mode,
		acquisition: acq,
		stagePolicy: policy,
		prefDevice:  pref,
		Clock:       clock.WallClock,
	}
}

// Reconfigure atomically replaces the coupling mode, acquisition mode and
// per-stage policy/preference. This is the selector-facing half of the
// auto-tuner's hot-reconfiguration sequence. Callers must only invoke this
// once every device reports Idle(), so no in-flight frame observes a torn
// mixture of old and new state.
func (s *Selector) Reconfigure(mode CouplingMode, acq admission.AcquisitionMode, policy []admission.StagePolicy, pref []device.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.acquisition = acq
	s.stagePolicy = policy
	s.prefDevice = pref
}

// Mode returns the current coupling mode.
func (s *Selector) Mode() CouplingMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Enter makes the once-only Decoupled entry decision for fr (conceptually
// a stage index of -1, run before the real stage list) and records it on
// the frame. It is a no-op in Coupled / CoupledCustom mode, where each
// stage decides for itself.
func (s *Selector) Enter(ctx context.Context, fr *frame.Frame, caller admission.CallerID) {
	if s.Mode() != Decoupled || fr.DecoupledDeviceSet {
		return
	}
	kind := s.acquireWithRetry(ctx, 0, caller, admission.CPUOrGPU, s.prefFor(0))
	s.Manager.ReleaseForStage(0, kind)
	fr.DecoupledDevice = kind
	fr.DecoupledDeviceSet = true
}

// Acquire selects (Coupled/CoupledCustom) or honours the already-decided
// (Decoupled) device for stageIndex, acquires real admission for it, and
// returns the granted kind. The caller must release the same stageIndex
// and kind via Manager.ReleaseForStage once the dispatch completes.
func (s *Selector) Acquire(ctx context.Context, stageIndex int, fr *frame.Frame, caller admission.CallerID) device.Kind {
	if s.Mode() == Decoupled && fr.DecoupledDeviceSet {
		kind := fr.DecoupledDevice
		policy := admission.CPUOnly
		if kind == device.GPU {
			policy = admission.GPUOnly
		}
		return s.acquireWithRetry(ctx, stageIndex, caller, policy, kind)
	}
	return s.acquireWithRetry(ctx, stageIndex, caller, s.policyFor(stageIndex), s.prefFor(stageIndex))
}

func (s *Selector) policyFor(stageIndex int) admission.StagePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if stageIndex >= 0 && stageIndex < len(s.stagePolicy) {
		return s.stagePolicy[stageIndex]
	}
	return admission.CPUOrGPU
}

func (s *Selector) prefFor(stageIndex int) device.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if stageIndex >= 0 && stageIndex < len(s.prefDevice) {
		return s.prefDevice[stageIndex]
	}
	return device.CPU
}

func (s *Selector) acquisitionMode() admission.AcquisitionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acquisition
}

// acquireWithRetry retries in a bounded, cooperatively-yielding busy-wait
// loop whenever every attempt in the resources manager's mode table
// fails; admission latency is the only observable effect.
func (s *Selector) acquireWithRetry(ctx context.Context, stageIndex int, caller admission.CallerID, policy admission.StagePolicy, preferred device.Kind) device.Kind {
	attempt := 0
	for {
		status, kind := s.Manager.AcquireForStage(ctx, stageIndex, caller, policy, s.acquisitionMode(), preferred)
		if status.Succeeded() {
			return kind
		}

		attempt++
		select {
		case <-s.Clock.After(jitteredBackoff(attempt)):
		case <-ctx.Done():
			return preferred
		}
	}
}

// jitteredBackoff grows from minRetryBackoff to maxRetryBackoff with
// jitter, short enough that admission retries never spin a core hot but
// never so long that they dominate a stage's own service time. Admission
// failures are expected to clear within microseconds, unlike a network
// dial's retrying_dialer which waits seconds between attempts.
func jitteredBackoff(attempt int) time.Duration {
	backoff := minRetryBackoff * time.Duration(uint(1)<<uint(attempt-1))
	if backoff > maxRetryBackoff || backoff <= 0 {
		backoff = maxRetryBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(minRetryBackoff)))
	return backoff + jitter
}
