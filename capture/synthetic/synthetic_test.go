package synthetic_test

import (
	"context"
	"testing"

	"github.com/mantonx/avrecorder/capture/synthetic"
	"github.com/mantonx/avrecorder/types"
	"github.com/stretchr/testify/require"
)

func TestSourceGeneratesRequestedFrameCountThenEnds(t *testing.T) {
	s := synthetic.New(synthetic.Options{Width: 64, Height: 48, FrameRate: 10, FrameCount: 3})

	for i := 0; i < 3; i++ {
		frame, err := s.NextVideoFrame(context.Background())
		require.NoError(t, err)
		require.NotNil(t, frame)
		require.Equal(t, 64*48*4, len(frame.Pixels))
	}

	frame, err := s.NextVideoFrame(context.Background())
	require.NoError(t, err)
	require.Nil(t, frame)
}

func TestSourceFrameCountZeroMeansUnbounded(t *testing.T) {
	// FrameCount: 0 is the "unbounded, caller cancels ctx" sentinel, not
	// "zero frames" — a frame is still produced until ctx is done.
	s := synthetic.New(synthetic.Options{Width: 32, Height: 32})

	frame, err := s.NextVideoFrame(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame)
}

func TestSourceTimestampsAreMonotonicallyIncreasing(t *testing.T) {
	s := synthetic.New(synthetic.Options{Width: 32, Height: 32, FrameRate: 25, FrameCount: 5})

	var last int64 = -1
	for i := 0; i < 5; i++ {
		frame, err := s.NextVideoFrame(context.Background())
		require.NoError(t, err)
		require.Greater(t, frame.TimestampUS, last)
		last = frame.TimestampUS
	}
}

func TestSourceReportsNoAudioByDefault(t *testing.T) {
	s := synthetic.New(synthetic.Options{})
	require.False(t, s.HasAudio())

	_, ok := s.AudioSettings()
	require.False(t, ok)

	frame, err := s.NextAudioFrame(context.Background())
	require.NoError(t, err)
	require.Nil(t, frame)
}

func TestSourceGeneratesSineAudioWhenEnabled(t *testing.T) {
	s := synthetic.New(synthetic.Options{WithAudio: true, SampleRate: 48_000, Channels: 2})
	require.True(t, s.HasAudio())

	settings, ok := s.AudioSettings()
	require.True(t, ok)
	require.Equal(t, 48_000, settings.SampleRate)
	require.Equal(t, 2, settings.Channels)

	frame, err := s.NextAudioFrame(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame)
	require.Equal(t, types.SampleFormatF32, frame.Format)
	require.NotEmpty(t, frame.Samples)
}

func TestNextVideoFrameRespectsCancelledContext(t *testing.T) {
	s := synthetic.New(synthetic.Options{Width: 32, Height: 32})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frame, err := s.NextVideoFrame(ctx)
	require.Error(t, err)
	require.Nil(t, frame)
}
