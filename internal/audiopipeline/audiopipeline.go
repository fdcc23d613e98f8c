// Package audiopipeline implements the Audio Pipeline of spec.md §4.4: a
// single producer/consumer worker that pulls raw PCM frames, normalizes
// timestamps, applies channel/rate/format conversion policy, and blocks
// cooperatively on a full encoder queue rather than dropping.
//
// It shares the same worker-lifecycle shape as internal/videopipeline
// (both are grounded on the teacher's process/monitor.go bookkeeping), but
// audio never drops frames on backpressure per spec.md §4.4's closing note.
package audiopipeline

import (
	"context"
	"time"

	"github.com/mantonx/avrecorder/internal/convert"
	"github.com/mantonx/avrecorder/internal/negotiator"
	"github.com/mantonx/avrecorder/types"
)

const (
	drainHighWater = 30
	drainLowWater  = 15
	drainSleep     = 50 * time.Millisecond
)

// FrameSource yields raw audio frames; NextAudioFrame returns (nil, nil) at
// end of stream.
type FrameSource interface {
	NextAudioFrame(ctx context.Context) (*types.RawAudioFrame, error)
}

// Sink mirrors videopipeline.Sink for the audio track.
type Sink interface {
	OnReady()
	OnChunk(types.EncodedChunk)
	OnFailed(err error)
	OnComplete()
}

// Pipeline runs the audio half of spec.md §4.4.
type Pipeline struct {
	plan            negotiator.AudioPlan
	sourceChannels  int
	sourceSampleRate int
	logger          types.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Pipeline. sourceChannels/sourceSampleRate describe the
// capture's native settings, used to decide upmix/drop policy per frame.
func New(plan negotiator.AudioPlan, sourceChannels, sourceSampleRate int, logger types.Logger) *Pipeline {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Pipeline{
		plan:             plan,
		sourceChannels:   sourceChannels,
		sourceSampleRate: sourceSampleRate,
		logger:           logger,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

func (p *Pipeline) Start(ctx context.Context, source FrameSource, sink Sink) {
	defer close(p.doneCh)

	p.plan.Encoder.SetOutput(func(out types.EncoderOutput) {
		sink.OnChunk(out.Chunk)
	})

	sink.OnReady()

	var (
		t0Set bool
		t0    int64
	)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, err := source.NextAudioFrame(ctx)
		if err != nil {
			sink.OnFailed(types.NewError(types.KindCaptureError, "audiopipeline.Start", err))
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

		if err := p.drainIfSaturated(ctx); err != nil {
			frame.Release()
			sink.OnFailed(err)
			return
		}

		submitFrame, drop, err := p.applyPolicy(frame)
		if err != nil {
			frame.Release()
			sink.OnFailed(err)
			return
		}
		if drop {
			frame.Release()
			continue
		}

		if err := p.plan.Encoder.Submit(submitFrame, types.SubmitOptions{}); err != nil {
			frame.Release()
			if submitFrame != frame {
				submitFrame.Release()
			}
			sink.OnFailed(types.NewError(types.KindEncoderFailed, "audiopipeline.Start", err))
			return
		}

		frame.Release()
		if submitFrame != frame {
			submitFrame.Release()
		}
	}
}

// drainIfSaturated implements the blocking-drain backpressure policy:
// once the queue exceeds 30, sleep in short bursts until it falls to 15
// or below.
func (p *Pipeline) drainIfSaturated(ctx context.Context) error {
	if p.plan.Encoder.QueueDepth() <= drainHighWater {
		return nil
	}
	for p.plan.Encoder.QueueDepth() > drainLowWater {
		select {
		case <-ctx.Done():
			return types.NewError(types.KindTimeout, "audiopipeline.drainIfSaturated", ctx.Err())
		case <-p.stopCh:
			return nil
		case <-time.After(drainSleep):
		}
	}
	return nil
}

// applyPolicy applies the channel/sample-rate/format conversion policy of
// spec.md §4.4 steps 3-5. It returns the frame to submit (which may be a
// newly owned converted frame the caller must release separately from the
// original), whether the frame should be dropped instead, or an error.
func (p *Pipeline) applyPolicy(frame *types.RawAudioFrame) (*types.RawAudioFrame, bool, error) {
	encChannels := p.plan.Effective.Channels

	if frame.SampleRate != p.sourceSampleRate {
		p.logger.Warn("dropping audio frame: sample rate mismatch", "got", frame.SampleRate, "want", p.sourceSampleRate)
		return nil, true, nil
	}

	out := frame
	if frame.Channels != encChannels {
		if frame.Channels == 1 && encChannels == 2 {
			out = upmix(frame)
		} else {
			p.logger.Warn("dropping audio frame: incompatible channel count", "got", frame.Channels, "want", encChannels)
			return nil, true, nil
		}
	}

	if p.plan.Codec == types.AudioCodecAAC && out.Format == types.SampleFormatF32 {
		out = toInt16(out)
	}

	return out, false, nil
}

func upmix(frame *types.RawAudioFrame) *types.RawAudioFrame {
	samples := bytesToFloat32Slice(frame.Samples)
	stereo := convert.UpmixMonoToStereo(samples)
	return types.NewRawAudioFrame(frame.Format, frame.SampleRate, 2, frame.NumFrames, float32SliceToBytes(stereo), frame.TimestampUS, func() {})
}

func toInt16(frame *types.RawAudioFrame) *types.RawAudioFrame {
	samples := bytesToFloat32Slice(frame.Samples)
	ints := convert.Float32ToInt16(samples)
	return types.NewRawAudioFrame(types.SampleFormatS16, frame.SampleRate, frame.Channels, frame.NumFrames, int16SliceToBytes(ints), frame.TimestampUS, func() {})
}

// Stop signals the pipeline's frame loop to exit, flushes the encoder, and
// waits for the loop goroutine to finish.
func (p *Pipeline) Stop(ctx context.Context) error {
	close(p.stopCh)

	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return types.NewError(types.KindTimeout, "audiopipeline.Stop", ctx.Err())
	}

	if err := p.plan.Encoder.Flush(ctx); err != nil {
		return types.NewError(types.KindEncoderFailed, "audiopipeline.Stop", err)
	}
	return p.plan.Encoder.Close()
}
