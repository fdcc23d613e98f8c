package convert

import "github.com/mantonx/avrecorder/types"

// ResizeRGBA resamples a packed RGBA frame to outWidth x outHeight using
// nearest-neighbor sampling. It is the concrete "render onto an off-screen
// surface" step spec.md §4.2 delegates away from the scaler: the scaler
// only decides dimensions, this performs the actual resample the video
// pipeline calls through its ScaleFunc hook when bypass is false.
func ResizeRGBA(src *types.RawVideoFrame, outWidth, outHeight int) *types.RawVideoFrame {
	out := make([]byte, outWidth*outHeight*4)

	for y := 0; y < outHeight; y++ {
		srcY := y * src.Height / outHeight
		for x := 0; x < outWidth; x++ {
			srcX := x * src.Width / outWidth
			srcOff := (srcY*src.Width + srcX) * 4
			dstOff := (y*outWidth + x) * 4
			copy(out[dstOff:dstOff+4], src.Pixels[srcOff:srcOff+4])
		}
	}

	return types.NewRawVideoFrame(outWidth, outHeight, out, src.TimestampUS, src.DurationUS, func() {})
}
