// Package convert implements the Format Converter of spec.md §4.4 steps 3
// and 5: mono-to-stereo upmix by sample duplication, and float32-to-int16
// conversion for encoders that require signed 16-bit PCM.
package convert

import "math"

// UpmixMonoToStereo duplicates each mono sample into both channels,
// producing interleaved stereo. in is one sample per frame; the result is
// two samples per frame (L, R), L == R == in[i].
func UpmixMonoToStereo(in []float32) []float32 {
	out := make([]float32, len(in)*2)
	for i, s := range in {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// Float32ToInt16 converts float32 PCM samples in [-1, 1] to signed 16-bit
// PCM, clamping out-of-range input before scaling and rounding to nearest.
func Float32ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		out[i] = floatSampleToInt16(s)
	}
	return out
}

func floatSampleToInt16(s float32) int16 {
	f := float64(s)
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	return int16(math.Round(f * 32767))
}
