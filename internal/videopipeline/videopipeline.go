// Package videopipeline implements the Video Pipeline of spec.md §4.3: a
// single producer/consumer worker that pulls raw frames from a capture
// source, normalizes timestamps, applies the scaler's decision, enforces
// queue-depth backpressure, and hands encoded chunks to a sink.
//
// The shape follows the teacher's process/monitor.go lifecycle bookkeeping
// (register → run → report terminal state) generalized from an OS process
// to an in-process frame loop.
package videopipeline

import (
	"context"
	"fmt"

	"github.com/mantonx/avrecorder/internal/negotiator"
	"github.com/mantonx/avrecorder/internal/scaler"
	"github.com/mantonx/avrecorder/types"
)

const (
	highWater     = 8
	lowWater      = 3
	criticalWater = 15
)

// FrameSource yields raw video frames; NextVideoFrame returns (nil, nil) at
// end of stream, matching types.CaptureSource's video half.
type FrameSource interface {
	NextVideoFrame(ctx context.Context) (*types.RawVideoFrame, error)
}

// ScaleFunc performs the actual pixel resample when the scaler decides
// bypass=false; it returns a newly owned frame the pipeline must release.
type ScaleFunc func(src *types.RawVideoFrame, outWidth, outHeight int) (*types.RawVideoFrame, error)

// Sink receives pipeline lifecycle and chunk events. Implemented by the
// Conductor's chunk buffer / event bus.
type Sink interface {
	OnReady()
	OnChunk(types.EncodedChunk)
	OnPressure(level types.PressureLevel, queueDepth int)
	OnFailed(err error)
	OnComplete()
}

// Pipeline runs the video half of spec.md §4.3.
type Pipeline struct {
	plan   negotiator.VideoPlan
	scale  scaler.Result
	scaleFn ScaleFunc
	logger types.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Pipeline. scaleFn may be nil when scale.Bypass is true.
func New(plan negotiator.VideoPlan, scale scaler.Result, scaleFn ScaleFunc, logger types.Logger) *Pipeline {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Pipeline{
		plan:    plan,
		scale:   scale,
		scaleFn: scaleFn,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs the pipeline's frame loop to completion (source end, Stop, or
// a fatal encoder error). It is meant to be run on its own goroutine; the
// caller observes progress via sink.OnReady/OnChunk/OnPressure/OnFailed/
// OnComplete.
func (p *Pipeline) Start(ctx context.Context, source FrameSource, sink Sink) {
	defer close(p.doneCh)
	defer sink.OnComplete()

	p.plan.Encoder.SetOutput(func(out types.EncoderOutput) {
		sink.OnChunk(out.Chunk)
	})

	sink.OnReady()

	var (
		t0Set        bool
		t0           int64
		throttled    bool
		needsKeyframe bool
	)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, err := source.NextVideoFrame(ctx)
		if err != nil {
			sink.OnFailed(types.NewError(types.KindCaptureError, "videopipeline.Start", err))
			return
		}
		if frame == nil {
			return
		}

		if !t0Set {
			t0 = frame.TimestampUS
			t0Set = true
		}
		frame.TimestampUS -= t0

		queueDepth := p.plan.Encoder.QueueDepth()
		switch {
		case queueDepth > highWater:
			needsKeyframe = true
			if !throttled {
				throttled = true
				sink.OnPressure(types.PressureHigh, queueDepth)
			}
			frame.Release()
			continue
		case throttled && queueDepth <= lowWater:
			throttled = false
			sink.OnPressure(types.PressureLow, queueDepth)
		}

		submitFrame := frame
		var scaledFrame *types.RawVideoFrame
		if !p.scale.Bypass {
			scaledFrame, err = p.scaleFn(frame, p.scale.OutWidth, p.scale.OutHeight)
			if err != nil {
				frame.Release()
				sink.OnFailed(types.NewError(types.KindEncoderFailed, "videopipeline.Start", fmt.Errorf("scale frame: %w", err)))
				return
			}
			submitFrame = scaledFrame
		}

		force := needsKeyframe
		needsKeyframe = false
		if err := p.plan.Encoder.Submit(submitFrame, types.SubmitOptions{ForceKeyframe: force}); err != nil {
			frame.Release()
			if scaledFrame != nil {
				scaledFrame.Release()
			}
			sink.OnFailed(types.NewError(types.KindEncoderFailed, "videopipeline.Start", err))
			return
		}

		frame.Release()
		if scaledFrame != nil {
			scaledFrame.Release()
		}
	}
}

// Stop signals the pipeline's frame loop to exit at its next poll point,
// then flushes the encoder and waits for the loop goroutine to finish.
func (p *Pipeline) Stop(ctx context.Context) error {
	close(p.stopCh)

	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return types.NewError(types.KindTimeout, "videopipeline.Stop", ctx.Err())
	}

	if err := p.plan.Encoder.Flush(ctx); err != nil {
		return types.NewError(types.KindEncoderFailed, "videopipeline.Stop", err)
	}
	return p.plan.Encoder.Close()
}
