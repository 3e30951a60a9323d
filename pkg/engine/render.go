package engine

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/framegraph/framegraph/pkg/eval"
	"github.com/framegraph/framegraph/pkg/scene"
)

// maxRangeFrames bounds a single EvaluateRange call.
const maxRangeFrames = 100_000

// FrameRange selects the times EvaluateRange samples: Start, Start+1/FPS, ...
// up to and including End.
type FrameRange struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	FPS   float64 `json:"fps" yaml:"fps"`
}

// Times lists the sample times of the range.
func (r FrameRange) Times() ([]float64, error) {
	if r.FPS <= 0 || math.IsNaN(r.FPS) || math.IsInf(r.FPS, 0) {
		return nil, fmt.Errorf("fps must be positive, got %v", r.FPS)
	}
	if math.IsNaN(r.Start) || math.IsNaN(r.End) || r.End < r.Start {
		return nil, fmt.Errorf("invalid range [%v, %v]", r.Start, r.End)
	}
	// The epsilon keeps End itself when (End-Start)*FPS is integral.
	count := int(math.Floor((r.End-r.Start)*r.FPS+1e-9)) + 1
	if count > maxRangeFrames {
		return nil, fmt.Errorf("range has %d frames, limit is %d", count, maxRangeFrames)
	}
	times := make([]float64, count)
	for i := range times {
		times[i] = r.Start + float64(i)/r.FPS
	}
	return times, nil
}

type frameJob struct {
	index int
	time  float64
}

// EvaluateRange resolves the live project at every time of r using a pool of
// workers. Frames are returned in time order. The project is snapshotted once,
// so edits made during the call do not affect it.
func (e *Engine) EvaluateRange(ctx context.Context, r FrameRange) ([]*eval.Frame, error) {
	times, err := r.Times()
	if err != nil {
		return nil, NewValidationError("bad frame range", err).WithOperation("evaluate_range")
	}
	return e.evaluateTimes(e.tel.WithContext(ctx), e.Project(), times)
}

func (e *Engine) evaluateTimes(ctx context.Context, p *scene.Project, times []float64) ([]*eval.Frame, error) {
	workerCount := e.cfg.RenderWorkers
	if workerCount <= 0 {
		workerCount = 1
	}
	if len(times) < workerCount {
		workerCount = len(times)
	}

	workQueue := make(chan frameJob, len(times))
	for i, t := range times {
		workQueue <- frameJob{index: i, time: t}
	}
	close(workQueue)

	frames := make([]*eval.Frame, len(times))
	audio := e.Audio()

	var wg sync.WaitGroup
	errChan := make(chan error, workerCount)

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for job := range workQueue {
				select {
				case <-ctx.Done():
					errChan <- ctx.Err()
					return
				default:
				}
				// Each worker owns distinct indexes, so no lock is needed.
				frames[job.index] = e.eval.EvaluateFrame(ctx, p, job.time, audio)
			}
		}()
	}

	wg.Wait()
	close(errChan)

	if err, ok := <-errChan; ok {
		return nil, NewInternalError("frame range cancelled", err).WithOperation("evaluate_range")
	}
	return frames, nil
}
