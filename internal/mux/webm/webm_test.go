package webm_test

import (
	"testing"

	"github.com/mantonx/avrecorder/internal/mux/webm"
	"github.com/mantonx/avrecorder/types"
	"github.com/stretchr/testify/require"
)

func TestMuxerFinalizeProducesNonEmptyBytesStartingWithEBMLHeader(t *testing.T) {
	m := webm.New()
	require.NoError(t, m.Configure(types.ContainerWebM,
		types.EffectiveVideoConfig{Codec: types.VideoCodecVP9, Width: 640, Height: 360},
		&types.EffectiveAudioConfig{Codec: types.AudioCodecOpus, SampleRate: 48000, Channels: 2},
	))

	require.NoError(t, m.AddVideoChunk(types.EncodedChunk{Kind: types.TrackVideo, TimestampUS: 0, IsKeyframe: true, Bytes: []byte("key")}))
	require.NoError(t, m.AddAudioChunk(types.EncodedChunk{Kind: types.TrackAudio, TimestampUS: 5000, Bytes: []byte("a1")}))
	require.NoError(t, m.AddVideoChunk(types.EncodedChunk{Kind: types.TrackVideo, TimestampUS: 33000, IsKeyframe: false, Bytes: []byte("d1")}))

	out, err := m.Finalize()
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, []byte{0x1A, 0x45, 0xDF, 0xA3}, out[:4])
}

func TestMuxerFinalizeFailsWithNoChunks(t *testing.T) {
	m := webm.New()
	require.NoError(t, m.Configure(types.ContainerWebM, types.EffectiveVideoConfig{Codec: types.VideoCodecVP9}, nil))

	_, err := m.Finalize()
	require.Error(t, err)
}

func TestMuxerConfigureRejectsAudioCodecWithNoWebMMapping(t *testing.T) {
	m := webm.New()

	err := m.Configure(types.ContainerWebM,
		types.EffectiveVideoConfig{Codec: types.VideoCodecVP9},
		&types.EffectiveAudioConfig{Codec: types.AudioCodecFLAC},
	)

	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	require.Equal(t, types.KindAudioIncompatible, kind)
}
