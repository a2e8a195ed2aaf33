// Package tuner implements the auto-tuning controller: it samples the
// timing aggregator once per run, fits a closed-queueing-network model to
// pick the throughput-maximizing stage/device configuration, and hot
// reconfigures the resources manager and path selector to match, exactly
// once per run.
package tuner

import (
	"context"
	"math"
	"time"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/metrics"
	"github.com/cricamfe/vivid/internal/selector"
	"github.com/juju/clock"
)

// maxQueuePopulation bounds DimensionQueue's search so a pathological
// sample can't spin the dimensioning loop forever.
const maxQueuePopulation = 256

// Config is the static per-stage knobs the tuner needs at construction
// time: initial core counts (so it can compute per-core throughput) and
// the device registered for each kind.
type Config struct {
	NumStages int
	CoresCPU  []int
	CoresGPU  []int
}

// Tuner drives one sampling-and-reconfiguration pass.
type Tuner struct {
	Metrics  *metrics.Aggregator
	Manager  *admission.Manager
	Selector *selector.Selector
	Clock    clock.Clock
	Config   Config

	fired bool
}

// New returns a tuner wired to its collaborators.
func New(agg *metrics.Aggregator, mgr *admission.Manager, sel *selector.Selector, clk clock.Clock, cfg Config) *Tuner {
	return &Tuner{Metrics: agg, Manager: mgr, Selector: sel, Clock: clk, Config: cfg}
}

// ReadyToSample reports whether either triggering condition holds: every
// stage has accumulated both a CPU and a GPU sample, or the sampling
// deadline (tracked by the caller) has expired.
func (t *Tuner) ReadyToSample(deadlineExpired bool) bool {
	if deadlineExpired {
		return true
	}
	for i := 0; i < t.Config.NumStages; i++ {
		if t.Metrics.TotalMs(i, device.CPU) <= 0 || t.Metrics.TotalMs(i, device.GPU) <= 0 {
			return false
		}
	}
	return true
}

// perStageThroughput computes μC[i]/μG[i]: frames/s a stage sustains on
// CPU (scaled by its core count) or GPU.
func (t *Tuner) perStageThroughput() (muC, muG []float64) {
	n := t.Config.NumStages
	muC = make([]float64, n)
	muG = make([]float64, n)
	for i := 0; i < n; i++ {
		cores := 1
		if i < len(t.Config.CoresCPU) && t.Config.CoresCPU[i] > 0 {
			cores = t.Config.CoresCPU[i]
		}
		if meanMs := t.Metrics.MeanMs(i, device.CPU); meanMs > 0 {
			muC[i] = 1e3 * float64(cores) / meanMs
		}
		if meanMs := t.Metrics.MeanMs(i, device.GPU); meanMs > 0 {
			muG[i] = 1e3 / meanMs
		}
	}
	return muC, muG
}

// bottleneck finds s* = argmin_i min(muC[i], muG[i]), and the device that
// mandates the lower of the two at that stage.
func bottleneck(muC, muG []float64) (stage int, dev device.Kind) {
	best := math.Inf(1)
	for i := range muC {
		c, g := muC[i], muG[i]
		worst := math.Min(orInf(c), orInf(g))
		if worst < best {
			best = worst
			stage = i
			if g < c {
				dev = device.GPU
			} else {
				dev = device.CPU
			}
		}
	}
	return stage, dev
}

func orInf(v float64) float64 {
	if v <= 0 {
		return math.Inf(1)
	}
	return v
}

// Candidate is one enumerated configuration: a bit per stage (true = GPU
// primary), its effective aggregate throughput, and the secondary-device
// helper policy chosen for it.
type Candidate struct {
	bits      []bool
	lambda    float64
	secondary int // -1 none, 0 CPU helper, 1 GPU helper
	stage     int // the bottleneck stage this configuration was ranked against
	muC, muG  float64 // measured CPU/GPU service rates at stage, from perStageThroughput
}

// ServiceRates returns the measured CPU and GPU service rates (frames/s)
// at this candidate's bottleneck stage, plus the candidate's own effective
// pipeline throughput. Dimension does not read these itself; a caller can
// derive Dimension's arrival and active (service-time) arguments from them.
func (c Candidate) ServiceRates() (muC, muG, lambda float64) {
	return c.muC, c.muG, c.lambda
}

// Evaluate computes throughputs, finds the bottleneck, enumerates every
// configuration consistent with its mandate, ranks by effective
// throughput and keeps the top 5. The winner (index 0) is what
// Reconfigure will apply.
func (t *Tuner) Evaluate() []Candidate {
	muC, muG := t.perStageThroughput()
	s, d := bottleneck(muC, muG)
	mandateBit := d == device.GPU

	n := t.Config.NumStages
	var Candidates []Candidate
	for conf := 0; conf < (1 << uint(n)); conf++ {
		bits := make([]bool, n)
		for i := 0; i < n; i++ {
			bits[i] = conf&(1<<uint(i)) != 0
		}
		if bits[s] != mandateBit {
			continue
		}

		var tserGP, tserCP float64
		for i := 0; i < n; i++ {
			if bits[i] {
				if muG[i] > 0 {
					tserGP += 1 / muG[i]
				}
			} else {
				if muC[i] > 0 {
					tserCP += 1 / muC[i]
				}
			}
		}

		allGPU := true
		for _, b := range bits {
			if !b {
				allGPU = false
				break
			}
		}

		var lambda float64
		switch {
		case allGPU:
			// Both paths run decoupled in parallel.
			nc := 1
			if len(t.Config.CoresCPU) > 0 {
				nc = t.Config.CoresCPU[0]
			}
			if tserGP > 0 {
				lambda += 1 / tserGP
			}
			if tserCP > 0 {
				lambda += float64(nc) / tserCP
			}
		case tserGP >= tserCP:
			if tserGP > 0 {
				lambda = 1 / tserGP
			}
		default:
			if tserCP > 0 {
				lambda = 1 / tserCP
			}
		}

		secondary := chooseSecondary(tserGP, tserCP)
		Candidates = append(Candidates, Candidate{
			bits: bits, lambda: lambda, secondary: secondary, stage: s,
			muC: muC[s], muG: muG[s],
		})
	}

	for i := 1; i < len(Candidates); i++ {
		for j := i; j > 0 && Candidates[j].lambda > Candidates[j-1].lambda; j-- {
			Candidates[j], Candidates[j-1] = Candidates[j-1], Candidates[j]
		}
	}
	if len(Candidates) > 5 {
		Candidates = Candidates[:5]
	}
	return Candidates
}

// chooseSecondary picks a helper stage for a clearly lopsided primary
// path: a clearly GPU-bound primary path gets a CPU helper stage (and vice
// versa), unless the helper's own utilisation would already exceed 0.8, in
// which case no split is worth making.
func chooseSecondary(tserGP, tserCP float64) int {
	const helperUtilisationCeiling = 0.8
	switch {
	case tserGP > 0 && tserCP == 0:
		return -1
	case tserGP == 0 && tserCP > 0:
		return -1
	case tserGP > tserCP*1.5:
		if rho := tserCP / tserGP; rho < helperUtilisationCeiling {
			return 0 // extra CPU helper stage
		}
	case tserCP > tserGP*1.5:
		if rho := tserGP / tserCP; rho < helperUtilisationCeiling {
			return 1 // extra GPU helper stage
		}
	}
	return -1
}

// Plan is the outcome of Evaluate + queue dimensioning, ready to apply via
// Reconfigure.
type Plan struct {
	Stage       int
	Bits        []bool
	Secondary   int
	TokensTotal int
	NGP, NCP    int
	NGS, NCS    int
}

// Dimension grows each in-use queue's population until utilisation
// reaches 0.95 of the observed maximum, using the closed queueing solver.
// The bottleneck stage recorded on win is the one actually resized by
// Reconfigure.
func (t *Tuner) Dimension(win Candidate, arrivalCPU, activeCPU, arrivalGPU, activeGPU float64, rhoMax float64) Plan {
	plan := Plan{Stage: win.stage, Bits: win.bits, Secondary: win.secondary}

	cpuCores := 1
	if win.stage < len(t.Config.CoresCPU) && t.Config.CoresCPU[win.stage] > 0 {
		cpuCores = t.Config.CoresCPU[win.stage]
	}
	gpuCores := 1
	if win.stage < len(t.Config.CoresGPU) && t.Config.CoresGPU[win.stage] > 0 {
		gpuCores = t.Config.CoresGPU[win.stage]
	}

	plan.NCP, _ = DimensionQueue(arrivalCPU, activeCPU, cpuCores, rhoMax, maxQueuePopulation)
	plan.NGP, _ = DimensionQueue(arrivalGPU, activeGPU, gpuCores, rhoMax, maxQueuePopulation)

	if win.secondary == 0 {
		plan.NCS, _ = DimensionQueue(arrivalCPU, activeCPU, 1, rhoMax, maxQueuePopulation)
	} else if win.secondary == 1 {
		plan.NGS, _ = DimensionQueue(arrivalGPU, activeGPU, 1, rhoMax, maxQueuePopulation)
	}

	plan.TokensTotal = plan.NGP + plan.NCP + plan.NGS + plan.NCS
	return plan
}

// Reconfigure runs the hot-reconfiguration sequence: wait for every device
// to go idle, resize the bottleneck stage's queues, add/remove the
// secondary helper stage, then commit the new selector policy.
// pollInterval governs how often Idle() is rechecked.
func (t *Tuner) Reconfigure(ctx context.Context, plan Plan, pollInterval time.Duration) error {
	if err := t.waitForIdle(ctx, pollInterval); err != nil {
		return err
	}

	cpu := t.Manager.Device(device.CPU)
	gpu := t.Manager.Device(device.GPU)

	if cpu != nil {
		cpu.SetTotalCores(t.firstOr(t.Config.CoresCPU, 1))
		if s, ok := cpu.Stage(plan.Stage); ok {
			s.SetMaxQueue(plan.NCP)
		}
	}
	if gpu != nil {
		gpu.SetTotalCores(t.firstOr(t.Config.CoresGPU, 1))
		if s, ok := gpu.Stage(plan.Stage); ok {
			s.SetMaxQueue(plan.NGP)
		}
	}

	helperVirtualID := t.Config.NumStages
	switch plan.Secondary {
	case 0:
		if cpu != nil {
			cpu.AddStage(helperVirtualID, 1, plan.NCS)
		}
	case 1:
		if gpu != nil {
			gpu.AddStage(helperVirtualID, 1, plan.NGS)
		}
	}

	policy := make([]admission.StagePolicy, len(plan.Bits))
	pref := make([]device.Kind, len(plan.Bits))
	for i, gpuPrimary := range plan.Bits {
		if gpuPrimary {
			policy[i] = admission.GPUOnly
			pref[i] = device.GPU
		} else {
			policy[i] = admission.CPUOnly
			pref[i] = device.CPU
		}
	}

	mode := selector.Coupled
	allGPU := true
	for _, b := range plan.Bits {
		if !b {
			allGPU = false
		}
	}
	if allGPU {
		mode = selector.Decoupled
	}

	t.Selector.Reconfigure(mode, admission.Default, policy, pref)
	t.fired = true
	return nil
}

// Fired reports whether this tuner has already applied a reconfiguration.
// The auto-tuner runs at most once per run.
func (t *Tuner) Fired() bool { return t.fired }

func (t *Tuner) firstOr(vals []int, fallback int) int {
	if len(vals) > 0 && vals[0] > 0 {
		return vals[0]
	}
	return fallback
}

// waitForIdle polls both devices with backoff until used_cores == 0 on
// each, or ctx expires.
func (t *Tuner) waitForIdle(ctx context.Context, pollInterval time.Duration) error {
	for {
		cpuIdle := true
		gpuIdle := true
		if d := t.Manager.Device(device.CPU); d != nil {
			cpuIdle = d.Idle()
		}
		if d := t.Manager.Device(device.GPU); d != nil {
			gpuIdle = d.Idle()
		}
		if cpuIdle && gpuIdle {
			return nil
		}
		select {
		case <-t.Clock.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
