// Package telemetry wires the stage dispatcher's trace markers (span start
// and finish around each stage call) to an OpenTracing-compatible tracer.
// The tracer backend is an external collaborator, but the dispatcher always
// has a tracer handle to call: when tracing is disabled, a no-op tracer is
// installed instead of branching on an "enabled" flag throughout the
// dispatch path.
package telemetry

import (
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// Pool tracks every tracer this process has minted so they can all be
// flushed before exit.
var Pool = new(pool)

type pool struct {
	mu      sync.Mutex
	closers []io.Closer
}

// Close flushes and closes every tracer in the pool.
func (p *pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for _, c := range p.closers {
		if cErr := c.Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
	}
	p.closers = nil
	return err
}

// NewTracer returns a Jaeger-backed tracer sampling every span. This
// system's runs are short and bounded, so full sampling keeps every stage
// dispatch visible without a separate sampling-rate knob.
func NewTracer(serviceName string) (opentracing.Tracer, error) {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, err
	}
	cfg.ServiceName = serviceName
	cfg.Sampler = &jaegercfg.SamplerConfig{Type: jaeger.SamplerTypeConst, Param: 1}

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, err
	}

	Pool.mu.Lock()
	Pool.closers = append(Pool.closers, closer)
	Pool.mu.Unlock()
	return tracer, nil
}

// NoopTracer returns a tracer that discards every span, for runs started
// without tracing configured.
func NoopTracer() opentracing.Tracer {
	return opentracing.NoopTracer{}
}
