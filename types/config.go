package types

// Clamp bounds from spec.md §3/§6's configuration schema.
const (
	MinFrameRate = 1
	MaxFrameRate = 120

	MinVideoBitrate     = 100_000
	MaxVideoBitrate     = 50_000_000
	DefaultVideoBitrate = 5_000_000

	MinAudioBitrate     = 8_000
	MaxAudioBitrate     = 512_000
	DefaultAudioBitrate = 128_000

	DefaultKeyframeIntervalS = 2.0
)

var validSampleRates = map[int]bool{16_000: true, 32_000: true, 44_100: true, 48_000: true}

// Validate returns a new Config with defaults applied and out-of-range
// values clamped, mirroring the teacher's "validate then clamp once at
// construction" step (spec.md §3: "bitrate clamped at construction;
// immutable after start"). Validate is idempotent: re-validating an
// already-validated config yields identical values (spec.md §8).
func (c Config) Validate() Config {
	out := c

	if out.Video.FrameRate == 0 {
		out.Video.FrameRate = 30
	}
	if out.Video.FrameRate < MinFrameRate {
		out.Video.FrameRate = MinFrameRate
	} else if out.Video.FrameRate > MaxFrameRate {
		out.Video.FrameRate = MaxFrameRate
	}

	if out.Video.Bitrate <= 0 {
		out.Video.Bitrate = DefaultVideoBitrate
	} else if out.Video.Bitrate < MinVideoBitrate {
		out.Video.Bitrate = MinVideoBitrate
	} else if out.Video.Bitrate > MaxVideoBitrate {
		out.Video.Bitrate = MaxVideoBitrate
	}

	if out.Video.CodecPreference == "" {
		out.Video.CodecPreference = VideoCodecAuto
	}
	if out.Video.HWPreference == "" {
		out.Video.HWPreference = HWAuto
	}
	if out.Video.ResolutionTarget == "" {
		out.Video.ResolutionTarget = ResolutionAuto
	}
	if out.Video.KeyframeIntervalS < 0 {
		out.Video.KeyframeIntervalS = DefaultKeyframeIntervalS
	} else if out.Video.KeyframeIntervalS == 0 {
		out.Video.KeyframeIntervalS = DefaultKeyframeIntervalS
	}

	if out.Audio != nil {
		a := *out.Audio
		if a.CodecPreference == "" {
			a.CodecPreference = AudioCodecAuto
		}
		if !validSampleRates[a.SampleRate] {
			a.SampleRate = 48_000
		}
		if a.Channels != 1 && a.Channels != 2 {
			a.Channels = 2
		}
		// Out-of-range bitrate (including the explicit 7,000 boundary
		// case in spec.md §8) clamps to the 128k default, not to the
		// nearest bound.
		if a.Bitrate < MinAudioBitrate || a.Bitrate > MaxAudioBitrate {
			a.Bitrate = DefaultAudioBitrate
		}
		out.Audio = &a
	}

	return out
}

// KeyframeIntervalFrames converts the configured keyframe interval to a
// frame count (spec.md §6: round(secs * frame_rate)).
func (c Config) KeyframeIntervalFrames() int {
	return int(c.Video.KeyframeIntervalS*float64(c.Video.FrameRate) + 0.5)
}
