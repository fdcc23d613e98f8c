package audiopipeline_test

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"

	"github.com/mantonx/avrecorder/internal/audiopipeline"
	"github.com/mantonx/avrecorder/internal/negotiator"
	"github.com/mantonx/avrecorder/types"
	"github.com/stretchr/testify/require"
)

func floatBytes(values ...float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(v))
	}
	return out
}

func newFrame(ts int64, sampleRate, channels int, format types.SampleFormat, samples []byte) *types.RawAudioFrame {
	return types.NewRawAudioFrame(format, sampleRate, channels, 1, samples, ts, func() {})
}

type fakeSource struct {
	frames []*types.RawAudioFrame
	idx    int
}

func (s *fakeSource) NextAudioFrame(ctx context.Context) (*types.RawAudioFrame, error) {
	if s.idx >= len(s.frames) {
		return nil, nil
	}
	f := s.frames[s.idx]
	s.idx++
	return f, nil
}

type fakeEncoder struct {
	mu        sync.Mutex
	queue     int
	submitted []*types.RawAudioFrame
	out       func(types.EncoderOutput)
}

func (e *fakeEncoder) Probe(context.Context, types.AudioConfig, types.Container) (types.EncoderProbeResult, error) {
	return types.EncoderProbeResult{Supported: true}, nil
}
func (e *fakeEncoder) Configure(types.AudioConfig, types.Container) error { return nil }
func (e *fakeEncoder) SetOutput(f func(types.EncoderOutput))              { e.out = f }
func (e *fakeEncoder) Submit(frame *types.RawAudioFrame, opts types.SubmitOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, frame)
	if e.out != nil {
		e.out(types.EncoderOutput{Chunk: types.EncodedChunk{Kind: types.TrackAudio, TimestampUS: frame.TimestampUS}})
	}
	return nil
}
func (e *fakeEncoder) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue
}
func (e *fakeEncoder) Flush(context.Context) error { return nil }
func (e *fakeEncoder) Close() error                { return nil }

type recordingSink struct {
	mu     sync.Mutex
	ready  bool
	chunks []types.EncodedChunk
	failed error
}

func (s *recordingSink) OnReady() { s.mu.Lock(); s.ready = true; s.mu.Unlock() }
func (s *recordingSink) OnChunk(c types.EncodedChunk) {
	s.mu.Lock()
	s.chunks = append(s.chunks, c)
	s.mu.Unlock()
}
func (s *recordingSink) OnFailed(err error) { s.mu.Lock(); s.failed = err; s.mu.Unlock() }
func (s *recordingSink) OnComplete()        {}

func TestPipelineNormalizesTimestampsToZero(t *testing.T) {
	source := &fakeSource{frames: []*types.RawAudioFrame{
		newFrame(5000, 48000, 2, types.SampleFormatS16, []byte{0, 0, 0, 0}),
		newFrame(5020, 48000, 2, types.SampleFormatS16, []byte{0, 0, 0, 0}),
	}}
	enc := &fakeEncoder{}
	plan := negotiator.AudioPlan{Encoder: enc, Effective: types.EffectiveAudioConfig{Channels: 2}}
	sink := &recordingSink{}

	p := audiopipeline.New(plan, 2, 48000, types.NopLogger{})
	p.Start(context.Background(), source, sink)

	require.True(t, sink.ready)
	require.Len(t, sink.chunks, 2)
	require.Equal(t, int64(0), sink.chunks[0].TimestampUS)
	require.Equal(t, int64(20), sink.chunks[1].TimestampUS)
}

func TestPipelineUpmixesMonoToStereo(t *testing.T) {
	source := &fakeSource{frames: []*types.RawAudioFrame{
		newFrame(0, 48000, 1, types.SampleFormatF32, floatBytes(0.25)),
	}}
	enc := &fakeEncoder{}
	plan := negotiator.AudioPlan{Encoder: enc, Codec: types.AudioCodecOpus, Effective: types.EffectiveAudioConfig{Channels: 2}}
	sink := &recordingSink{}

	p := audiopipeline.New(plan, 1, 48000, types.NopLogger{})
	p.Start(context.Background(), source, sink)

	require.Len(t, enc.submitted, 1)
	require.Equal(t, 2, enc.submitted[0].Channels)
	require.Len(t, enc.submitted[0].Samples, 8) // 2 channels * 4 bytes
}

func TestPipelineConvertsFloat32ToInt16ForAAC(t *testing.T) {
	source := &fakeSource{frames: []*types.RawAudioFrame{
		newFrame(0, 48000, 2, types.SampleFormatF32, floatBytes(1.0, -1.0)),
	}}
	enc := &fakeEncoder{}
	plan := negotiator.AudioPlan{Encoder: enc, Codec: types.AudioCodecAAC, Effective: types.EffectiveAudioConfig{Channels: 2}}
	sink := &recordingSink{}

	p := audiopipeline.New(plan, 2, 48000, types.NopLogger{})
	p.Start(context.Background(), source, sink)

	require.Len(t, enc.submitted, 1)
	require.Equal(t, types.SampleFormatS16, enc.submitted[0].Format)
}

func TestPipelineDropsOnSampleRateMismatch(t *testing.T) {
	source := &fakeSource{frames: []*types.RawAudioFrame{
		newFrame(0, 44100, 2, types.SampleFormatS16, []byte{0, 0, 0, 0}),
	}}
	enc := &fakeEncoder{}
	plan := negotiator.AudioPlan{Encoder: enc, Effective: types.EffectiveAudioConfig{Channels: 2}}
	sink := &recordingSink{}

	p := audiopipeline.New(plan, 2, 48000, types.NopLogger{})
	p.Start(context.Background(), source, sink)

	require.Empty(t, enc.submitted)
	require.Nil(t, sink.failed)
}

func TestPipelineDropsOnIncompatibleChannelCount(t *testing.T) {
	source := &fakeSource{frames: []*types.RawAudioFrame{
		newFrame(0, 48000, 6, types.SampleFormatS16, make([]byte, 24)),
	}}
	enc := &fakeEncoder{}
	plan := negotiator.AudioPlan{Encoder: enc, Effective: types.EffectiveAudioConfig{Channels: 2}}
	sink := &recordingSink{}

	p := audiopipeline.New(plan, 6, 48000, types.NopLogger{})
	p.Start(context.Background(), source, sink)

	require.Empty(t, enc.submitted)
}

func TestPipelineStopFlushesAndCloses(t *testing.T) {
	source := &fakeSource{}
	enc := &fakeEncoder{}
	plan := negotiator.AudioPlan{Encoder: enc, Effective: types.EffectiveAudioConfig{Channels: 2}}
	sink := &recordingSink{}

	p := audiopipeline.New(plan, 2, 48000, types.NopLogger{})
	done := make(chan struct{})
	go func() {
		p.Start(context.Background(), source, sink)
		close(done)
	}()
	<-done

	require.NoError(t, p.Stop(context.Background()))
}
