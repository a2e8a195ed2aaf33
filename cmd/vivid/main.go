package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cricamfe/vivid/internal/admission"
	"github.com/cricamfe/vivid/internal/config"
	"github.com/cricamfe/vivid/internal/device"
	"github.com/cricamfe/vivid/internal/dispatch"
	"github.com/cricamfe/vivid/internal/engine"
	"github.com/cricamfe/vivid/internal/frame"
	"github.com/cricamfe/vivid/internal/kernels"
	"github.com/cricamfe/vivid/internal/metrics"
	"github.com/cricamfe/vivid/internal/report"
	"github.com/cricamfe/vivid/internal/selector"
	"github.com/cricamfe/vivid/internal/telemetry"
	"github.com/cricamfe/vivid/internal/tuner"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var (
	appName = "vivid"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Flags = append(config.Flags(),
		cli.BoolFlag{Name: "trace", Usage: "emit spans to a Jaeger agent instead of discarding them"},
		cli.StringFlag{Name: "metrics-addr", Usage: "if set, serve Prometheus /metrics on this address"},
	)
	app.Action = runMain
	return app
}

func runMain(appCtx *cli.Context) error {
	cfg, err := config.FromContext(appCtx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchSignals(cancel)

	tracer := telemetry.NoopTracer()
	if appCtx.Bool("trace") {
		t, err := telemetry.NewTracer(appName)
		if err != nil {
			return err
		}
		tracer = t
		defer func() { _ = telemetry.Pool.Close() }()
	}

	agg := metrics.NewAggregator(config.NumStages)
	if addr := appCtx.String("metrics-addr"); addr != "" {
		exp := metrics.NewExporter(agg)
		srv := metrics.ServeHTTP(addr)
		defer func() { _ = srv.Close() }()
		go publishLoop(ctx, exp)
	}

	registry := device.NewRegistry()
	kernels.Register(registry)

	mgr := admission.NewManager()
	cpuDev := admission.NewDevice(device.CPU, cfg.Threads)
	gpuTotal := 0
	for _, c := range cfg.CoresGPU {
		gpuTotal += c
	}
	if gpuTotal == 0 {
		gpuTotal = 1
	}
	gpuDev := admission.NewDevice(device.GPU, gpuTotal)
	for i := 0; i < config.NumStages; i++ {
		cpuDev.AddStage(i, cfg.CoresCPU[i], cfg.SizeCPU[i])
		gpuDev.AddStage(i, cfg.CoresGPU[i], cfg.SizeGPU[i])
	}
	mgr.AddDevice(cpuDev)
	mgr.AddDevice(gpuDev)

	sel := selector.New(mgr, cfg.CouplingMode, cfg.AcquisitionMode, cfg.StagePolicy[:], cfg.PrefDevice[:])
	dispatcher := dispatch.New(registry, sel, agg, tracer)

	shape := shapeForResolution(cfg.Resolution)
	ring := frame.New(cfg.BufferSize, shape)

	var budget *engine.Budget
	if cfg.NumFrames > 0 {
		budget = engine.NewFrameBudget(cfg.NumFrames)
	} else {
		budget = engine.NewDurationBudget(clock.WallClock, cfg.Duration)
	}

	args := engine.RunArgs{
		NumStages:  config.NumStages,
		Tokens:     cfg.Tokens,
		Ring:       ring,
		Dispatcher: dispatcher,
		AppData:    nil,
		Budget:     budget,
	}

	eng := buildEngine(cfg, registry, agg)

	if cfg.AutoTune {
		go runAutoTuner(ctx, cfg, agg, mgr, sel)
	}

	start := time.Now()
	runErr := eng.Run(ctx, args)
	elapsed := time.Since(start).Seconds()

	summary := report.New(uuid.New(), configString(cfg), elapsed, agg)
	if err := report.WriteJSON(os.Stdout, summary); err != nil {
		logger.WithField("err", err).Warn("failed to write summary")
	}

	return runErr
}

func buildEngine(cfg *config.Config, registry *device.Registry, agg *metrics.Aggregator) engine.Engine {
	switch cfg.Engine {
	case engine.Serial:
		return engine.Serial{Registry: registry, Device: cfg.PrefDevice[0], Metrics: agg}
	case engine.BoundedParallel:
		return engine.BoundedParallel{}
	case engine.GraphFunctional:
		return engine.GraphFunctional{}
	case engine.GraphAsync:
		return engine.NewGraphAsync(cfg.Tokens)
	case engine.EventChain:
		return engine.EventChain{}
	case engine.Scalable:
		return engine.Scalable{}
	default:
		return engine.Serial{Registry: registry, Device: cfg.PrefDevice[0], Metrics: agg}
	}
}

func runAutoTuner(ctx context.Context, cfg *config.Config, agg *metrics.Aggregator, mgr *admission.Manager, sel *selector.Selector) {
	t := tuner.New(agg, mgr, sel, clock.WallClock, tuner.Config{
		NumStages: config.NumStages,
		CoresCPU:  cfg.CoresCPU[:],
		CoresGPU:  cfg.CoresGPU[:],
	})

	deadline := clock.WallClock.After(cfg.TimeSampling)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			sample(ctx, t)
			return
		case <-time.After(50 * time.Millisecond):
			if t.ReadyToSample(false) {
				sample(ctx, t)
				return
			}
		}
	}
}

func sample(ctx context.Context, t *tuner.Tuner) {
	candidates := t.Evaluate()
	if len(candidates) == 0 {
		return
	}
	win := candidates[0]

	muC, muG, lambda := win.ServiceRates()
	// Solve takes mean service times, the reciprocals of the measured rates.
	activeCPU, activeGPU := 1.0, 1.0
	if muC > 0 {
		activeCPU = 1 / muC
	}
	if muG > 0 {
		activeGPU = 1 / muG
	}
	arrival := 1.0
	if lambda > 0 {
		arrival = 1 / lambda
	}

	plan := t.Dimension(win, arrival, activeCPU, arrival, activeGPU, 0.9)
	if err := t.Reconfigure(ctx, plan, 10*time.Millisecond); err != nil {
		logger.WithField("err", err).Warn("auto-tuner reconfiguration aborted")
	}
}

func publishLoop(ctx context.Context, exp *metrics.Exporter) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exp.Publish()
		}
	}
}

func watchSignals(cancel context.CancelFunc) {
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		s := <-sigCh
		logger.WithField("signal", s.String()).Info("shutting down due to signal")
		cancel()
	}()
}

func shapeForResolution(preset int) frame.Shape {
	presets := [...]frame.Shape{
		{Width: 64, Height: 64, Channels: 1, HistogramBins: 16, ClassifierRows: 16, NumStages: config.NumStages},
		{Width: 128, Height: 128, Channels: 1, HistogramBins: 32, ClassifierRows: 32, NumStages: config.NumStages},
		{Width: 256, Height: 256, Channels: 1, HistogramBins: 64, ClassifierRows: 64, NumStages: config.NumStages},
		{Width: 512, Height: 512, Channels: 1, HistogramBins: 128, ClassifierRows: 128, NumStages: config.NumStages},
		{Width: 1024, Height: 1024, Channels: 1, HistogramBins: 256, ClassifierRows: 256, NumStages: config.NumStages},
		{Width: 2048, Height: 2048, Channels: 1, HistogramBins: 512, ClassifierRows: 512, NumStages: config.NumStages},
	}
	if preset < 0 || preset >= len(presets) {
		return presets[1]
	}
	return presets[preset]
}

func configString(cfg *config.Config) string {
	buf := make([]byte, config.NumStages)
	for i, p := range cfg.StagePolicy {
		switch p {
		case admission.CPUOnly:
			buf[i] = '0'
		case admission.CPUOrGPU:
			buf[i] = '1'
		case admission.GPUOnly:
			buf[i] = '2'
		}
	}
	return string(buf)
}
