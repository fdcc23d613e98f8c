// Package synthetic implements types.CaptureSource with generated video and
// audio, playing the role ffmpeg's "testsrc"/"sine" lavfi filters play in
// the teacher's own integration fixtures (test_helpers.go's createTestVideo
// shells out to "testsrc=size=...:rate=..." and "sine=frequency=...") —
// adapted here into an in-process, dependency-free generator so the engine
// can be driven end to end (CLI demo, boundary-case tests) without an
// external ffmpeg binary or real capture APIs.
package synthetic

import (
	"context"
	"math"
	"time"

	"github.com/mantonx/avrecorder/types"
)

// Options configures the generated stream. Zero values default to
// 1280x720 at 30 fps, and to a 440 Hz tone at 48 kHz stereo for audio.
type Options struct {
	Width      int
	Height     int
	FrameRate  int
	FrameCount int // total video frames to emit; 0 means unbounded (caller cancels ctx)

	WithAudio     bool
	SampleRate    int
	Channels      int
	ToneHz        float64
	AudioDuration time.Duration // total audio duration; 0 with WithAudio means unbounded
}

func (o Options) withDefaults() Options {
	out := o
	if out.Width <= 0 {
		out.Width = 1280
	}
	if out.Height <= 0 {
		out.Height = 720
	}
	if out.FrameRate <= 0 {
		out.FrameRate = 30
	}
	if out.SampleRate <= 0 {
		out.SampleRate = 48_000
	}
	if out.Channels <= 0 {
		out.Channels = 2
	}
	if out.ToneHz <= 0 {
		out.ToneHz = 440
	}
	return out
}

// Source generates a deterministic solid-color-cycling video track and an
// optional sine-wave PCM audio track. It is safe for the Recorder's single
// video-reader/single-audio-reader usage pattern; it is not safe to call
// NextVideoFrame or NextAudioFrame concurrently from multiple goroutines.
type Source struct {
	opts Options

	frameIndex  int
	framePeriod time.Duration

	audioFramesPerChunk int
	sampleIndex         int
	samplePeriod        time.Duration
}

// audioChunkMS mirrors a ~20ms packetization interval, a common framing
// size for both Opus and AAC encoders.
const audioChunkMS = 20

func New(opts Options) *Source {
	opts = opts.withDefaults()
	s := &Source{opts: opts}
	s.framePeriod = time.Second / time.Duration(opts.FrameRate)
	s.audioFramesPerChunk = opts.SampleRate * audioChunkMS / 1000
	if s.audioFramesPerChunk <= 0 {
		s.audioFramesPerChunk = 960
	}
	s.samplePeriod = time.Second / time.Duration(opts.SampleRate)
	return s
}

func (s *Source) VideoSettings() types.CaptureSettings {
	return types.CaptureSettings{
		Width: s.opts.Width, Height: s.opts.Height, FrameRate: s.opts.FrameRate,
	}
}

func (s *Source) AudioSettings() (types.CaptureSettings, bool) {
	if !s.opts.WithAudio {
		return types.CaptureSettings{}, false
	}
	return types.CaptureSettings{SampleRate: s.opts.SampleRate, Channels: s.opts.Channels}, true
}

func (s *Source) HasAudio() bool { return s.opts.WithAudio }

// NextVideoFrame generates the next frame, cycling through a small palette
// so successive frames are visibly distinct without real capture input.
func (s *Source) NextVideoFrame(ctx context.Context) (*types.RawVideoFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.opts.FrameCount > 0 && s.frameIndex >= s.opts.FrameCount {
		return nil, nil
	}

	pixels := renderSolidFrame(s.opts.Width, s.opts.Height, paletteColor(s.frameIndex))
	tsUS := int64(time.Duration(s.frameIndex) * s.framePeriod / time.Microsecond)
	frame := types.NewRawVideoFrame(s.opts.Width, s.opts.Height, pixels, tsUS, int64(s.framePeriod/time.Microsecond), func() {})
	s.frameIndex++
	return frame, nil
}

// NextAudioFrame generates the next ~20ms PCM chunk of a sine tone.
func (s *Source) NextAudioFrame(ctx context.Context) (*types.RawAudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.opts.WithAudio {
		return nil, nil
	}
	if s.opts.AudioDuration > 0 {
		elapsed := time.Duration(s.sampleIndex) * s.samplePeriod
		if elapsed >= s.opts.AudioDuration {
			return nil, nil
		}
	}

	samples := renderSineChunk(s.sampleIndex, s.audioFramesPerChunk, s.opts.Channels, s.opts.SampleRate, s.opts.ToneHz)
	tsUS := int64(time.Duration(s.sampleIndex) * s.samplePeriod / time.Microsecond)
	frame := types.NewRawAudioFrame(types.SampleFormatF32, s.opts.SampleRate, s.opts.Channels, s.audioFramesPerChunk, samples, tsUS, func() {})
	s.sampleIndex += s.audioFramesPerChunk
	return frame, nil
}

var palette = [][3]byte{
	{220, 40, 40},  // red
	{40, 200, 80},  // green
	{40, 90, 220},  // blue
	{230, 200, 40}, // yellow
}

func paletteColor(frameIndex int) [3]byte {
	return palette[frameIndex%len(palette)]
}

func renderSolidFrame(width, height int, rgb [3]byte) []byte {
	pixels := make([]byte, width*height*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i] = rgb[0]
		pixels[i+1] = rgb[1]
		pixels[i+2] = rgb[2]
		pixels[i+3] = 0xFF
	}
	return pixels
}

func renderSineChunk(startFrame, numFrames, channels, sampleRate int, toneHz float64) []byte {
	out := make([]byte, numFrames*channels*4)
	for i := 0; i < numFrames; i++ {
		t := float64(startFrame+i) / float64(sampleRate)
		v := float32(math.Sin(2 * math.Pi * toneHz * t))
		for c := 0; c < channels; c++ {
			putFloat32(out, (i*channels+c)*4, v)
		}
	}
	return out
}

func putFloat32(b []byte, offset int, v float32) {
	bits := math.Float32bits(v)
	b[offset] = byte(bits)
	b[offset+1] = byte(bits >> 8)
	b[offset+2] = byte(bits >> 16)
	b[offset+3] = byte(bits >> 24)
}
