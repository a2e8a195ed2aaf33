// Package pipechan implements a channel-based pipeline carrying
// *frame.Frame stages instead of a generic payload type: every stage's
// Processor is a thin wrapper around the stage dispatcher, not a
// business-logic transform, and there is no Clone/Broadcast fan-out since
// a frame always takes exactly one path through the stage list.
package pipechan

import (
	"context"

	"github.com/cricamfe/vivid/internal/frame"
)

// Processor operates on one frame and returns it (or nil to drop it
// silently) for the next stage.
type Processor interface {
	Process(ctx context.Context, fr *frame.Frame) (*frame.Frame, error)
}

// ProcessorFunc adapts a plain function to a Processor.
type ProcessorFunc func(context.Context, *frame.Frame) (*frame.Frame, error)

// Process calls f(ctx, fr).
func (f ProcessorFunc) Process(ctx context.Context, fr *frame.Frame) (*frame.Frame, error) {
	return f(ctx, fr)
}

// StageParams is what the pipeline hands to a StageRunner's Run method.
type StageParams interface {
	StageIndex() int
	Input() <-chan *frame.Frame
	Output() chan<- *frame.Frame
	Error() chan<- error
}

// StageRunner implements the processing logic of one pipeline stage.
type StageRunner interface {
	Run(context.Context, StageParams)
}

// Source produces the frames a pipeline run will process.
type Source interface {
	Next(context.Context) bool
	Frame() *frame.Frame
	Error() error
}

// Sink consumes frames that fell off the end of the last stage.
type Sink interface {
	Consume(context.Context, *frame.Frame) error
}
