package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/engine"
	"github.com/cricamfe/vivid/internal/selector"
	"github.com/cricamfe/vivid/internal/verrors"
	"github.com/urfave/cli"
)

// Flags declares the full CLI surface: flags are declared once here and
// parsed into a Config by FromContext at the top of the command's Action.
func Flags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "api", Value: "serial", Usage: "engine selector: serial, bounded_parallel, graph_functional, graph_async, event_chain, scalable"},
		cli.IntFlag{Name: "numframes", Usage: "number of frames to process; mutually exclusive with --duration"},
		cli.StringFlag{Name: "duration", Usage: "wall-clock budget as \"Nh Nm Ns\"; mutually exclusive with --numframes"},
		cli.IntFlag{Name: "threads", Value: 1, Usage: "CPU worker cores"},
		cli.IntFlag{Name: "resolution", Value: 1, Usage: "input image preset, 0..5"},
		cli.IntFlag{Name: "iff", Value: 1, Usage: "in-flight frames (tokens)"},
		cli.StringFlag{Name: "config", Value: strings.Repeat("0", NumStages), Usage: "per-stage policy string, length NumStages, chars in {0,1,2}"},
		cli.IntFlag{Name: "buffersize", Usage: "ring capacity, >= iff"},
		cli.StringFlag{Name: "sizegpu", Value: "3", Usage: "per-stage GPU queue size, 1 or NumStages comma-separated ints"},
		cli.StringFlag{Name: "sizecpu", Value: "3", Usage: "per-stage CPU queue size, 1 or NumStages comma-separated ints"},
		cli.StringFlag{Name: "corescpu", Value: "1", Usage: "per-stage CPU core count, 1 or NumStages comma-separated ints"},
		cli.StringFlag{Name: "coresgpu", Value: "1", Usage: "per-stage GPU core count, 1 or NumStages comma-separated ints"},
		cli.StringFlag{Name: "prefdevice", Value: "0", Usage: "per-stage priority, 1 or NumStages values in {0,2}"},
		cli.StringFlag{Name: "acqmode", Value: "default", Usage: "acquisition mode: default, primary_secondary, no_queue"},
		cli.BoolFlag{Name: "auto", Usage: "enable the auto-tuner"},
		cli.StringFlag{Name: "timesampling", Value: "5s", Usage: "auto-tuner sampling window"},
	}
}

// FromContext validates appCtx's flags and builds a Config, or returns a
// ConfigError. This is the only function in the module allowed to return
// a ConfigError.
func FromContext(appCtx *cli.Context) (*Config, error) {
	cfg := &Config{}

	eng, ok := engine.Parse(appCtx.String("api"))
	if !ok {
		return nil, verrors.NewConfigError("unknown engine %q", appCtx.String("api"))
	}
	cfg.Engine = eng

	numFrames := appCtx.Int("numframes")
	durationStr := appCtx.String("duration")
	switch {
	case numFrames > 0 && durationStr != "":
		return nil, verrors.NewConfigError("--numframes and --duration are mutually exclusive")
	case numFrames > 0:
		cfg.NumFrames = numFrames
	case durationStr != "":
		d, err := parseDuration(durationStr)
		if err != nil {
			return nil, verrors.NewConfigError("--duration: %w", err)
		}
		if d < time.Second {
			return nil, verrors.NewConfigError("--duration must be >= 1s")
		}
		cfg.Duration = d
	default:
		return nil, verrors.NewConfigError("exactly one of --numframes or --duration must be specified")
	}

	cfg.Threads = appCtx.Int("threads")
	if cfg.Threads < 1 {
		return nil, verrors.NewConfigError("--threads must be >= 1")
	}

	cfg.Resolution = appCtx.Int("resolution")
	if cfg.Resolution < 0 || cfg.Resolution > 5 {
		return nil, verrors.NewConfigError("--resolution must be in 0..5")
	}

	cfg.Tokens = appCtx.Int("iff")
	if cfg.Tokens < 1 {
		return nil, verrors.NewConfigError("--iff must be >= 1")
	}

	policy, err := parseStagePolicy(appCtx.String("config"))
	if err != nil {
		return nil, err
	}
	cfg.StagePolicy = policy
	cfg.CouplingMode = couplingFromPolicy(policy)

	cfg.BufferSize = appCtx.Int("buffersize")
	if cfg.BufferSize == 0 {
		cfg.BufferSize = cfg.Tokens
	}
	if cfg.BufferSize < cfg.Tokens {
		return nil, verrors.NewConfigError("--buffersize must be >= --iff")
	}

	if err := parseIntList(appCtx.String("sizegpu"), cfg.SizeGPU[:], "--sizegpu"); err != nil {
		return nil, err
	}
	if err := parseIntList(appCtx.String("sizecpu"), cfg.SizeCPU[:], "--sizecpu"); err != nil {
		return nil, err
	}
	if err := parseIntList(appCtx.String("corescpu"), cfg.CoresCPU[:], "--corescpu"); err != nil {
		return nil, err
	}
	if err := parseIntList(appCtx.String("coresgpu"), cfg.CoresGPU[:], "--coresgpu"); err != nil {
		return nil, err
	}

	prefs, err := parsePrefDevice(appCtx.String("prefdevice"))
	if err != nil {
		return nil, err
	}
	cfg.PrefDevice = prefs

	mode, err := parseAcquisitionMode(appCtx.String("acqmode"))
	if err != nil {
		return nil, err
	}
	cfg.AcquisitionMode = mode

	cfg.AutoTune = appCtx.Bool("auto")
	sampling, err := time.ParseDuration(appCtx.String("timesampling"))
	if err != nil {
		return nil, verrors.NewConfigError("--timesampling: %w", err)
	}
	cfg.TimeSampling = sampling

	return cfg, nil
}

func parseIntList(raw string, dst []int, flagName string) error {
	parts := strings.Split(raw, ",")
	vals := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return verrors.NewConfigError("%s: invalid integer %q", flagName, p)
		}
		vals = append(vals, n)
	}
	return fill(dst, vals, flagName)
}

func parseStagePolicy(raw string) ([NumStages]admission.StagePolicy, error) {
	var out [NumStages]admission.StagePolicy
	if len(raw) != NumStages {
		return out, verrors.NewConfigError("--config must have length %d, got %d", NumStages, len(raw))
	}
	for i, c := range raw {
		switch c {
		case '0':
			out[i] = admission.CPUOnly
		case '1':
			out[i] = admission.CPUOrGPU
		case '2':
			out[i] = admission.GPUOnly
		default:
			return out, verrors.NewConfigError("--config: unknown stage policy char %q at position %d", c, i)
		}
	}
	return out, nil
}

// couplingFromPolicy derives the default coupling mode: a config string
// made entirely of CPU_OR_GPU stages is decoupled (the frame's device is
// chosen once); any fixed-device stage forces per-stage (coupled)
// selection, since the selector never has a free choice to persist there.
func couplingFromPolicy(policy [NumStages]admission.StagePolicy) selector.CouplingMode {
	for _, p := range policy {
		if p != admission.CPUOrGPU {
			return selector.Coupled
		}
	}
	return selector.Decoupled
}

func parsePrefDevice(raw string) ([NumStages]device.Kind, error) {
	var out [NumStages]device.Kind
	parts := strings.Split(raw, ",")
	vals := make([]device.Kind, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		switch p {
		case "0":
			vals = append(vals, device.CPU)
		case "2":
			vals = append(vals, device.GPU)
		default:
			return out, verrors.NewConfigError("--prefdevice: values must be 0 (CPU) or 2 (GPU), got %q", p)
		}
	}
	switch len(vals) {
	case 1:
		for i := range out {
			out[i] = vals[0]
		}
	case NumStages:
		copy(out[:], vals)
	default:
		return out, verrors.NewConfigError("--prefdevice: expected 1 or %d entries, got %d", NumStages, len(vals))
	}
	return out, nil
}

func parseAcquisitionMode(raw string) (admission.AcquisitionMode, error) {
	switch raw {
	case "default":
		return admission.Default, nil
	case "primary_secondary":
		return admission.PrimarySecondary, nil
	case "no_queue":
		return admission.NoQueue, nil
	default:
		return 0, verrors.NewConfigError("--acqmode: unknown mode %q", raw)
	}
}

// parseDuration accepts the "Nh Nm Ns" form used by the --duration flag
// (any subset of the three terms, in that order).
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, verrors.NewConfigError("empty duration")
	}
	var total time.Duration
	for _, field := range strings.Fields(raw) {
		if len(field) < 2 {
			return 0, verrors.NewConfigError("invalid duration term %q", field)
		}
		unit := field[len(field)-1]
		numStr := field[:len(field)-1]
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, verrors.NewConfigError("invalid duration term %q", field)
		}
		switch unit {
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		case 's':
			total += time.Duration(n) * time.Second
		default:
			return 0, verrors.NewConfigError("invalid duration unit in term %q", field)
		}
	}
	return total, nil
}
