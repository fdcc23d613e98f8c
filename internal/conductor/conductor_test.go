package conductor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mantonx/avrecorder/internal/conductor"
	"github.com/mantonx/avrecorder/internal/negotiator"
	"github.com/mantonx/avrecorder/types"
	"github.com/stretchr/testify/require"
)

type fakeCapture struct {
	videoFrames []*types.RawVideoFrame
	videoIdx    int
	hasAudio    bool
}

func (c *fakeCapture) VideoSettings() types.CaptureSettings {
	return types.CaptureSettings{Width: 1280, Height: 720, FrameRate: 30}
}
func (c *fakeCapture) AudioSettings() (types.CaptureSettings, bool) { return types.CaptureSettings{}, false }
func (c *fakeCapture) HasAudio() bool                               { return c.hasAudio }
func (c *fakeCapture) NextVideoFrame(ctx context.Context) (*types.RawVideoFrame, error) {
	if c.videoIdx >= len(c.videoFrames) {
		return nil, nil
	}
	f := c.videoFrames[c.videoIdx]
	c.videoIdx++
	return f, nil
}
func (c *fakeCapture) NextAudioFrame(ctx context.Context) (*types.RawAudioFrame, error) {
	return nil, nil
}

func newVideoFrame(ts int64) *types.RawVideoFrame {
	return types.NewRawVideoFrame(1280, 720, []byte{0}, ts, 0, func() {})
}

type fakeVideoEncoder struct {
	mu     sync.Mutex
	out    func(types.EncoderOutput)
	chunks int
}

func (e *fakeVideoEncoder) Probe(context.Context, types.VideoConfig, types.Container) (types.EncoderProbeResult, error) {
	return types.EncoderProbeResult{Supported: true}, nil
}
func (e *fakeVideoEncoder) Configure(types.VideoConfig, types.Container) error { return nil }
func (e *fakeVideoEncoder) SetOutput(f func(types.EncoderOutput))              { e.out = f }
func (e *fakeVideoEncoder) Submit(frame *types.RawVideoFrame, opts types.SubmitOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunks++
	if e.out != nil {
		e.out(types.EncoderOutput{Chunk: types.EncodedChunk{Kind: types.TrackVideo, TimestampUS: frame.TimestampUS, IsKeyframe: opts.ForceKeyframe, Bytes: []byte("v")}})
	}
	return nil
}
func (e *fakeVideoEncoder) QueueDepth() int          { return 0 }
func (e *fakeVideoEncoder) Flush(context.Context) error { return nil }
func (e *fakeVideoEncoder) Close() error             { return nil }

type fakeMuxer struct {
	mu          sync.Mutex
	videoChunks []types.EncodedChunk
	audioChunks []types.EncodedChunk
	finalized   bool
}

func (m *fakeMuxer) Configure(types.Container, types.EffectiveVideoConfig, *types.EffectiveAudioConfig) error {
	return nil
}
func (m *fakeMuxer) AddVideoChunk(c types.EncodedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoChunks = append(m.videoChunks, c)
	return nil
}
func (m *fakeMuxer) AddAudioChunk(c types.EncodedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioChunks = append(m.audioChunks, c)
	return nil
}
func (m *fakeMuxer) Finalize() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true
	return []byte("finalized"), nil
}

func newTestConductor(t *testing.T) (*conductor.Conductor, *fakeMuxer) {
	t.Helper()
	mux := &fakeMuxer{}
	neg := negotiator.New(func(types.VideoCodec, types.Container) types.VideoEncoder {
		return &fakeVideoEncoder{}
	}, nil, types.NopLogger{})

	c := conductor.New(types.NopLogger{}, neg, func(types.Container) types.Muxer { return mux }, nil)
	return c, mux
}

func TestConductorStartAndStopProducesResult(t *testing.T) {
	c, mux := newTestConductor(t)
	capture := &fakeCapture{videoFrames: []*types.RawVideoFrame{newVideoFrame(0), newVideoFrame(33), newVideoFrame(66)}}

	cfg := types.Config{Video: types.VideoConfig{CodecPreference: types.VideoCodecH264}}
	_, err := c.Start(context.Background(), cfg, capture)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Stats().VideoChunks == 3
	}, time.Second, time.Millisecond)

	result, err := c.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("finalized"), result.Bytes)
	require.True(t, mux.finalized)
	require.Len(t, mux.videoChunks, 3)
}

func TestConductorStopWithoutStartFails(t *testing.T) {
	c, _ := newTestConductor(t)

	_, err := c.Stop(context.Background())

	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindInvalidState, kind)
}

func TestConductorFailsWithNoChunksFromEitherTrack(t *testing.T) {
	c, _ := newTestConductor(t)
	capture := &fakeCapture{videoFrames: nil}

	cfg := types.Config{Video: types.VideoConfig{CodecPreference: types.VideoCodecH264}}
	_, err := c.Start(context.Background(), cfg, capture)
	require.NoError(t, err)

	_, err = c.Stop(context.Background())

	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindMuxFailed, kind)
}
