// Package negotiator implements the Codec Negotiator of spec.md §4.1: it
// walks ordered candidate (codec, profile, container) lists and picks the
// first one the platform's capability probe accepts within a bounded
// timeout, the same "probe then fall back" shape as the teacher's
// hardware_detector.go walks NVIDIA/VAAPI/QSV/VideoToolbox in order.
package negotiator

import (
	"context"
	"time"

	"github.com/mantonx/avrecorder/types"
)

// ProbeTimeout bounds every individual capability probe (spec.md §4.1).
const ProbeTimeout = 2 * time.Second

// VideoEncoderFactory builds (or returns a cached handle to) a VideoEncoder
// capable of probing/encoding the given codec into the given container.
type VideoEncoderFactory func(codec types.VideoCodec, container types.Container) types.VideoEncoder

// AudioEncoderFactory is the audio analogue of VideoEncoderFactory.
type AudioEncoderFactory func(codec types.AudioCodec, container types.Container) types.AudioEncoder

// VideoPlan is the negotiated outcome for the video track.
type VideoPlan struct {
	Codec     types.VideoCodec
	Profile   string
	Container types.Container
	Encoder   types.VideoEncoder
	Effective types.EffectiveVideoConfig
}

// AudioPlan is the negotiated outcome for the audio track.
type AudioPlan struct {
	Codec     types.AudioCodec
	Encoder   types.AudioEncoder
	Effective types.EffectiveAudioConfig
}

// Negotiator selects codecs per spec.md §4.1.
type Negotiator struct {
	videoFactory VideoEncoderFactory
	audioFactory AudioEncoderFactory
	logger       types.Logger
	probeTimeout time.Duration
}

// Option customizes a Negotiator.
type Option func(*Negotiator)

// WithProbeTimeout overrides the default 2s per-probe timeout; used by
// tests to avoid real-time waits on a deliberately hanging fake probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(n *Negotiator) { n.probeTimeout = d }
}

func New(videoFactory VideoEncoderFactory, audioFactory AudioEncoderFactory, logger types.Logger, opts ...Option) *Negotiator {
	if logger == nil {
		logger = types.NopLogger{}
	}
	n := &Negotiator{
		videoFactory: videoFactory,
		audioFactory: audioFactory,
		logger:       logger,
		probeTimeout: ProbeTimeout,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

type videoCandidate struct {
	codec     types.VideoCodec
	profile   string
	container types.Container
}

var h264Profiles = []struct{ profile, level string }{
	{"baseline", "3.1"},
	{"baseline", "4.0"},
	{"main", "3.1"},
	{"main", "4.0"},
	{"high", "3.1"},
	{"high", "4.0"},
}

var hevcProfiles = []struct{ profile, level string }{
	{"main", "3.1"}, {"main", "4.0"}, {"main", "4.1"}, {"main", "5.0"},
	{"main", "5.1"}, {"main", "5.2"}, {"main", "6.0"},
	{"main10", "3.1"}, {"main10", "4.0"}, {"main10", "4.1"}, {"main10", "5.0"},
	{"main10", "5.1"}, {"main10", "5.2"}, {"main10", "6.0"},
}

func containerFor(codec types.VideoCodec) types.Container {
	switch codec {
	case types.VideoCodecAV1, types.VideoCodecVP9:
		return types.ContainerWebM
	default:
		return types.ContainerMP4
	}
}

func videoCandidates(pref types.VideoCodec) []videoCandidate {
	order := []types.VideoCodec{types.VideoCodecAV1, types.VideoCodecHEVC, types.VideoCodecH264, types.VideoCodecVP9}
	if pref != types.VideoCodecAuto {
		order = []types.VideoCodec{pref}
	}

	var out []videoCandidate
	for _, codec := range order {
		container := containerFor(codec)
		switch codec {
		case types.VideoCodecAV1:
			out = append(out, videoCandidate{codec, "main", container})
		case types.VideoCodecVP9:
			out = append(out, videoCandidate{codec, "profile0", container})
		case types.VideoCodecH264:
			for _, p := range h264Profiles {
				out = append(out, videoCandidate{codec, p.profile + "@" + p.level, container})
			}
		case types.VideoCodecHEVC:
			for _, p := range hevcProfiles {
				out = append(out, videoCandidate{codec, p.profile + "@" + p.level, container})
			}
		}
	}
	return out
}

// NegotiateVideo walks candidates in priority order, probing each with a
// bounded timeout, and returns the first supported one.
func (n *Negotiator) NegotiateVideo(ctx context.Context, cfg types.VideoConfig, containerHint *types.Container) (VideoPlan, error) {
	for _, cand := range videoCandidates(cfg.CodecPreference) {
		if containerHint != nil && cand.container != *containerHint {
			continue
		}

		enc := n.videoFactory(cand.codec, cand.container)
		if enc == nil {
			continue
		}

		probeCfg := cfg
		probeCfg.CodecPreference = cand.codec

		probeCtx, cancel := context.WithTimeout(ctx, n.probeTimeout)
		result, err := enc.Probe(probeCtx, probeCfg, cand.container)
		cancel()

		if err != nil || !result.Supported {
			n.logger.Debug("video candidate rejected", "codec", cand.codec, "profile", cand.profile, "err", err)
			continue
		}

		eff := result.EffectiveVideo
		eff.Codec = cand.codec
		eff.Profile = cand.profile
		n.logger.Info("negotiated video codec", "codec", cand.codec, "profile", cand.profile, "container", cand.container)
		return VideoPlan{Codec: cand.codec, Profile: cand.profile, Container: cand.container, Encoder: enc, Effective: eff}, nil
	}

	return VideoPlan{}, types.NewError(types.KindNoCodec, "negotiator.NegotiateVideo", nil)
}

// defaultAudioCodec returns the auto-selected codec for a container
// (spec.md §4.1: never mp3).
func defaultAudioCodec(container types.Container) types.AudioCodec {
	if container == types.ContainerMP4 {
		return types.AudioCodecAAC
	}
	return types.AudioCodecOpus
}

// coerceAudioCodec applies the silent-coercion / rejection rules of
// spec.md §4.1.
func coerceAudioCodec(codec types.AudioCodec, container types.Container) (types.AudioCodec, error) {
	switch container {
	case types.ContainerMP4:
		switch codec {
		case types.AudioCodecOpus:
			return types.AudioCodecAAC, nil // silent coercion
		case types.AudioCodecFLAC:
			return "", types.NewError(types.KindAudioIncompatible, "negotiator.coerceAudioCodec", nil)
		default:
			return codec, nil
		}
	case types.ContainerWebM:
		switch codec {
		case types.AudioCodecAAC, types.AudioCodecMP3:
			return "", types.NewError(types.KindAudioIncompatible, "negotiator.coerceAudioCodec", nil)
		default:
			return codec, nil
		}
	}
	return codec, nil
}

var audioFallbackBitrates = []int{192_000, 128_000, 96_000, 64_000}

// NegotiateAudio implements the audio half of spec.md §4.1, including the
// sample-rate-fixed bitrate/channel fallback descent.
func (n *Negotiator) NegotiateAudio(ctx context.Context, cfg types.AudioConfig, container types.Container) (AudioPlan, error) {
	codec := cfg.CodecPreference
	if codec == types.AudioCodecAuto {
		codec = defaultAudioCodec(container)
	} else {
		coerced, err := coerceAudioCodec(codec, container)
		if err != nil {
			return AudioPlan{}, err
		}
		codec = coerced
	}

	enc := n.audioFactory(codec, container)
	if enc == nil {
		return AudioPlan{}, types.NewError(types.KindNoCodec, "negotiator.NegotiateAudio", nil)
	}

	// Channel sequences to attempt, in order: original channel count
	// first, then (only if original was mono) widened to stereo.
	channelSeqs := []int{cfg.Channels}
	if cfg.Channels == 1 {
		channelSeqs = append(channelSeqs, 2)
	}

	for _, ch := range channelSeqs {
		for _, bitrate := range append([]int{cfg.Bitrate}, audioFallbackBitrates...) {
			probeCfg := cfg
			probeCfg.CodecPreference = codec
			probeCfg.Channels = ch
			probeCfg.Bitrate = bitrate

			probeCtx, cancel := context.WithTimeout(ctx, n.probeTimeout)
			result, err := enc.Probe(probeCtx, probeCfg, container)
			cancel()

			if err != nil || !result.Supported {
				continue
			}

			eff := result.EffectiveAudio
			eff.Codec = codec
			n.logger.Info("negotiated audio codec", "codec", codec, "sample_rate", cfg.SampleRate, "channels", ch, "bitrate", bitrate)
			return AudioPlan{Codec: codec, Encoder: enc, Effective: eff}, nil
		}
	}

	return AudioPlan{}, types.NewError(types.KindNoCodec, "negotiator.NegotiateAudio", nil)
}
