package pipechan

import (
	"context"
	"sync"

	"github.com/cricamfe/vivid/internal/frame"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"
)

var _ StageParams = (*workerParams)(nil)

type workerParams struct {
	stage int
	inCh  <-chan *frame.Frame
	outCh chan<- *frame.Frame
	errCh chan<- error
}

func (p *workerParams) StageIndex() int             { return p.stage }
func (p *workerParams) Input() <-chan *frame.Frame  { return p.inCh }
func (p *workerParams) Output() chan<- *frame.Frame { return p.outCh }
func (p *workerParams) Error() chan<- error         { return p.errCh }

// Pipeline strings together a fixed list of stage runners: the input
// filter feeds the first stage, each stage's output feeds the next, and
// the last stage's output reaches the sink.
type Pipeline struct {
	stages []StageRunner
}

// New returns a pipeline that runs frames through stages in order.
func New(stages ...StageRunner) *Pipeline {
	return &Pipeline{stages: stages}
}

// Process runs source through every stage and into sink, blocking until
// the source is exhausted, an error is emitted, or ctx expires.
func (p *Pipeline) Process(ctx context.Context, source Source, sink Sink) error {
	var wg sync.WaitGroup
	pCtx, cancel := context.WithCancel(ctx)

	stageCh := make([]chan *frame.Frame, len(p.stages)+1)
	errCh := make(chan error, len(p.stages)+2)
	for i := range stageCh {
		stageCh[i] = make(chan *frame.Frame)
	}

	for i := 0; i < len(p.stages); i++ {
		wg.Add(1)
		go func(stageIndex int) {
			p.stages[stageIndex].Run(pCtx, &workerParams{
				stage: stageIndex,
				inCh:  stageCh[stageIndex],
				outCh: stageCh[stageIndex+1],
				errCh: errCh,
			})
			close(stageCh[stageIndex+1])
			wg.Done()
		}(i)
	}

	wg.Add(2)
	go func() {
		sourceWorker(pCtx, source, stageCh[0], errCh)
		close(stageCh[0])
		wg.Done()
	}()
	go func() {
		sinkWorker(pCtx, sink, stageCh[len(stageCh)-1], errCh)
		wg.Done()
	}()

	go func() {
		wg.Wait()
		close(errCh)
		cancel()
	}()

	var err error
	for pErr := range errCh {
		err = multierror.Append(err, pErr)
		cancel()
	}
	return err
}

func sourceWorker(ctx context.Context, source Source, outCh chan<- *frame.Frame, errCh chan<- error) {
	for source.Next(ctx) {
		fr := source.Frame()
		select {
		case outCh <- fr:
		case <-ctx.Done():
			return
		}
	}
	if err := source.Error(); err != nil {
		maybeEmitError(xerrors.Errorf("pipeline source: %w", err), errCh)
	}
}

func sinkWorker(ctx context.Context, sink Sink, inCh <-chan *frame.Frame, errCh chan<- error) {
	for {
		select {
		case fr, ok := <-inCh:
			if !ok {
				return
			}
			if err := sink.Consume(ctx, fr); err != nil {
				maybeEmitError(xerrors.Errorf("pipeline sink: %w", err), errCh)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func maybeEmitError(err error, errCh chan<- error) {
	select {
	case errCh <- err:
	default:
	}
}
