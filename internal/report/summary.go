// Package report defines the end-of-run summary this module hands across
// its outer boundary. Marshaling and persistence belong to the caller;
// this package only shapes the data and, for convenience, can render it as
// JSON for the CLI binary's own stdout.
package report

import (
	"encoding/json"
	"io"

	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/metrics"
	"github.com/google/uuid"
)

// StageTiming is one stage's observed service time on each device.
type StageTiming struct {
	Stage      int     `json:"stage"`
	MeanMsCPU  float64 `json:"mean_ms_cpu"`
	MeanMsGPU  float64 `json:"mean_ms_gpu"`
	FramesCPU  int64   `json:"frames_cpu"`
	FramesGPU  int64   `json:"frames_gpu"`
}

// Summary is the complete per-run result: RunTag identifies the run for
// correlation with tracing spans and the auto-tuner's decision log,
// ConfigString echoes the effective --config string, Throughput is frames
// per second sustained over the run's wall-clock duration, and
// PerStageTimings/PerFilterCounts break that down per stage and device.
type Summary struct {
	RunTag          uuid.UUID     `json:"run_tag"`
	ConfigString    string        `json:"config_string"`
	Throughput      float64       `json:"throughput_fps"`
	PerStageTimings []StageTiming `json:"per_stage_timings"`
	PerFilterCounts map[string]int64 `json:"per_filter_counts"`
}

// New builds a Summary from a run tag, the effective config string,
// elapsed wall-clock seconds and a final snapshot of the aggregator.
func New(runTag uuid.UUID, configString string, elapsedSeconds float64, agg *metrics.Aggregator) Summary {
	snaps := agg.Snapshot()
	timings := make([]StageTiming, len(snaps))
	counts := make(map[string]int64, len(snaps)*2)

	var total int64
	for i, s := range snaps {
		timings[i] = StageTiming{
			Stage:     s.Stage,
			MeanMsCPU: agg.MeanMs(s.Stage, device.CPU),
			MeanMsGPU: agg.MeanMs(s.Stage, device.GPU),
			FramesCPU: s.FramesCPU,
			FramesGPU: s.FramesGPU,
		}
		counts[stageFilterName(s.Stage, device.CPU)] = s.FramesCPU
		counts[stageFilterName(s.Stage, device.GPU)] = s.FramesGPU
		total += s.FramesCPU + s.FramesGPU
	}

	var throughput float64
	if elapsedSeconds > 0 {
		// Frames complete all NumStages, so divide out the per-stage
		// fan-out to get a per-frame rate rather than per-dispatch.
		stages := len(snaps)
		if stages == 0 {
			stages = 1
		}
		throughput = float64(total) / float64(stages) / elapsedSeconds
	}

	return Summary{
		RunTag:          runTag,
		ConfigString:    configString,
		Throughput:      throughput,
		PerStageTimings: timings,
		PerFilterCounts: counts,
	}
}

func stageFilterName(stage int, kind device.Kind) string {
	names := [...]string{"cosine_filter", "histogram", "pairwise_distance"}
	name := "unknown"
	if stage >= 0 && stage < len(names) {
		name = names[stage]
	}
	return name + "_" + kind.String()
}

// WriteJSON is a thin convenience writer: the CLI binary needs *some* way
// to show a result, but owns neither the schema nor where it ultimately
// lands.
func WriteJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
