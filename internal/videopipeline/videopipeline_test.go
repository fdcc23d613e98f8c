package videopipeline_test

import (
	"context"
	"sync"
	"testing"

	"github.com/mantonx/avrecorder/internal/negotiator"
	"github.com/mantonx/avrecorder/internal/scaler"
	"github.com/mantonx/avrecorder/internal/videopipeline"
	"github.com/mantonx/avrecorder/types"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	frames []*types.RawVideoFrame
	idx    int
}

func (s *fakeSource) NextVideoFrame(ctx context.Context) (*types.RawVideoFrame, error) {
	if s.idx >= len(s.frames) {
		return nil, nil
	}
	f := s.frames[s.idx]
	s.idx++
	return f, nil
}

func newFrame(ts int64) *types.RawVideoFrame {
	return types.NewRawVideoFrame(640, 360, []byte{0}, ts, 0, func() {})
}

type fakeEncoder struct {
	mu         sync.Mutex
	queue      int
	queueCalls int
	submitted  []types.SubmitOptions
	out        func(types.EncoderOutput)
}

func (e *fakeEncoder) Probe(context.Context, types.VideoConfig, types.Container) (types.EncoderProbeResult, error) {
	return types.EncoderProbeResult{Supported: true}, nil
}
func (e *fakeEncoder) Configure(types.VideoConfig, types.Container) error { return nil }
func (e *fakeEncoder) SetOutput(f func(types.EncoderOutput))              { e.out = f }
func (e *fakeEncoder) Submit(frame *types.RawVideoFrame, opts types.SubmitOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, opts)
	if e.out != nil {
		e.out(types.EncoderOutput{Chunk: types.EncodedChunk{Kind: types.TrackVideo, TimestampUS: frame.TimestampUS, IsKeyframe: opts.ForceKeyframe}})
	}
	return nil
}
func (e *fakeEncoder) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queueCalls++
	if e.queueCalls == 1 {
		return e.queue
	}
	return 0
}
func (e *fakeEncoder) Flush(context.Context) error { return nil }
func (e *fakeEncoder) Close() error                { return nil }

type recordingSink struct {
	mu        sync.Mutex
	ready     bool
	chunks    []types.EncodedChunk
	pressures []types.PressureLevel
	failedErr error
}

func (s *recordingSink) OnReady() { s.mu.Lock(); s.ready = true; s.mu.Unlock() }
func (s *recordingSink) OnChunk(c types.EncodedChunk) {
	s.mu.Lock()
	s.chunks = append(s.chunks, c)
	s.mu.Unlock()
}
func (s *recordingSink) OnPressure(level types.PressureLevel, _ int) {
	s.mu.Lock()
	s.pressures = append(s.pressures, level)
	s.mu.Unlock()
}
func (s *recordingSink) OnFailed(err error) { s.mu.Lock(); s.failedErr = err; s.mu.Unlock() }
func (s *recordingSink) OnComplete()        {}

func TestPipelineNormalizesTimestampsToZero(t *testing.T) {
	source := &fakeSource{frames: []*types.RawVideoFrame{newFrame(1000), newFrame(1033), newFrame(1066)}}
	enc := &fakeEncoder{}
	plan := negotiator.VideoPlan{Encoder: enc}
	sink := &recordingSink{}

	p := videopipeline.New(plan, scaler.Result{Bypass: true}, nil, types.NopLogger{})
	p.Start(context.Background(), source, sink)

	require.True(t, sink.ready)
	require.Len(t, sink.chunks, 3)
	require.Equal(t, int64(0), sink.chunks[0].TimestampUS)
	require.Equal(t, int64(33), sink.chunks[1].TimestampUS)
	require.Equal(t, int64(66), sink.chunks[2].TimestampUS)
}

func TestPipelineDropsOnHighWaterAndForcesKeyframeAfter(t *testing.T) {
	source := &fakeSource{frames: []*types.RawVideoFrame{newFrame(0), newFrame(33), newFrame(66)}}
	enc := &fakeEncoder{queue: 9} // above HIGH_WATER(8): first frame dropped
	plan := negotiator.VideoPlan{Encoder: enc}
	sink := &recordingSink{}

	p := videopipeline.New(plan, scaler.Result{Bypass: true}, nil, types.NopLogger{})

	p.Start(context.Background(), source, sink)

	require.Contains(t, sink.pressures, types.PressureHigh)
	require.NotEmpty(t, enc.submitted)
	require.True(t, enc.submitted[0].ForceKeyframe, "first submission after a drop must be keyframe-forced")
}

func TestPipelineStopFlushesAndCloses(t *testing.T) {
	source := &fakeSource{frames: nil}
	enc := &fakeEncoder{}
	plan := negotiator.VideoPlan{Encoder: enc}
	sink := &recordingSink{}

	p := videopipeline.New(plan, scaler.Result{Bypass: true}, nil, types.NopLogger{})
	done := make(chan struct{})
	go func() {
		p.Start(context.Background(), source, sink)
		close(done)
	}()
	<-done

	err := p.Stop(context.Background())
	require.NoError(t, err)
}
