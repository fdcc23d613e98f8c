package convert_test

import (
	"testing"

	"github.com/mantonx/avrecorder/internal/convert"
	"github.com/stretchr/testify/require"
)

func TestUpmixMonoToStereoDuplicatesSamples(t *testing.T) {
	out := convert.UpmixMonoToStereo([]float32{0.1, -0.2, 0.3})

	require.Equal(t, []float32{0.1, 0.1, -0.2, -0.2, 0.3, 0.3}, out)
}

func TestUpmixMonoToStereoEmptyInput(t *testing.T) {
	out := convert.UpmixMonoToStereo(nil)

	require.Empty(t, out)
}

func TestFloat32ToInt16RoundsToNearest(t *testing.T) {
	out := convert.Float32ToInt16([]float32{0, 1, -1, 0.5, -0.5})

	require.Equal(t, []int16{0, 32767, -32767, 16384, -16384}, out)
}

func TestFloat32ToInt16ClampsOutOfRangeInput(t *testing.T) {
	out := convert.Float32ToInt16([]float32{1.5, -1.5, 2.0, -2.0})

	require.Equal(t, []int16{32767, -32767, 32767, -32767}, out)
}
