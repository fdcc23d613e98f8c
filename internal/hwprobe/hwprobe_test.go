package hwprobe

import (
	"context"
	"testing"

	"github.com/mantonx/avrecorder/types"
	"github.com/stretchr/testify/require"
)

// stubAvailable replaces isEncoderAvailable for the duration of a test,
// avoiding a real "ffmpeg -encoders" shell-out.
func stubAvailable(t *testing.T, available map[string]bool) {
	t.Helper()
	orig := isEncoderAvailable
	isEncoderAvailable = func(ctx context.Context, encoder string) bool { return available[encoder] }
	t.Cleanup(func() { isEncoderAvailable = orig })
}

func TestEncoderNamePrefersSoftwareWhenRequested(t *testing.T) {
	stubAvailable(t, map[string]bool{"libx264": true})
	p := New(types.NopLogger{})

	name, hwUsed := p.EncoderName(context.Background(), types.VideoCodecH264, types.HWPreferSW)

	require.Equal(t, "libx264", name)
	require.False(t, hwUsed)
}

func TestEncoderNameFallsBackToSoftwareForEachCodec(t *testing.T) {
	cases := map[types.VideoCodec]string{
		types.VideoCodecH264: "libx264",
		types.VideoCodecHEVC: "libx265",
		types.VideoCodecVP9:  "libvpx-vp9",
		types.VideoCodecAV1:  "libaom-av1",
	}
	available := map[string]bool{}
	for _, name := range cases {
		available[name] = true
	}
	stubAvailable(t, available)
	p := New(types.NopLogger{})

	for codec, want := range cases {
		name, _ := p.EncoderName(context.Background(), codec, types.HWPreferSW)
		require.Equal(t, want, name)
	}
}

func TestEncoderNameReportsUnavailableSoftwareCodec(t *testing.T) {
	stubAvailable(t, map[string]bool{})
	p := New(types.NopLogger{})

	name, hwUsed := p.EncoderName(context.Background(), types.VideoCodecAV1, types.HWPreferSW)

	require.Empty(t, name)
	require.False(t, hwUsed)
}
