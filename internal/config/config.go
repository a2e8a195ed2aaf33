// Package config parses and validates the full CLI surface into an
// immutable Config snapshot. It is the only place a ConfigError can
// originate: every engine, admission unit and selector downstream trusts a
// Config it receives to already be internally consistent.
package config

import (
	"time"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/engine"
	"github.com/cricamfe/vivid/internal/selector"
	"github.com/cricamfe/vivid/internal/verrors"
)

// NumStages is the fixed stage count this build of the pipeline is wired
// for. Dynamic stage topology changes are out of scope, so the stage count
// is a build-time constant rather than a CLI input: three stages (cosine
// filter, block histogram, pairwise distance).
const NumStages = 3

// Config is the validated, immutable snapshot of every CLI flag, plus
// fields derived from them.
type Config struct {
	Engine engine.Kind

	NumFrames int           // 0 when Duration is used instead
	Duration  time.Duration // 0 when NumFrames is used instead

	Threads    int
	Resolution int

	Tokens int // --iff: in-flight frames

	StagePolicy  [NumStages]admission.StagePolicy
	CouplingMode selector.CouplingMode

	BufferSize int // ring capacity, >= Tokens

	SizeGPU  [NumStages]int
	SizeCPU  [NumStages]int
	CoresCPU [NumStages]int
	CoresGPU [NumStages]int

	PrefDevice [NumStages]device.Kind

	AcquisitionMode admission.AcquisitionMode

	AutoTune     bool
	TimeSampling time.Duration
}

func fill(dst []int, src []int, fieldName string) error {
	switch len(src) {
	case 1:
		for i := range dst {
			dst[i] = src[0]
		}
	case len(dst):
		copy(dst, src)
	default:
		return verrors.NewConfigError("%s: expected 1 or %d entries, got %d", fieldName, len(dst), len(src))
	}
	return nil
}
