// Package types provides the shared data model and boundary contracts for
// the avrecorder dual-pipeline recording engine. Every engine package
// (negotiator, scaler, convert, videopipeline, audiopipeline, conductor,
// mux) depends on this package, and this package depends on none of them.
// The engine packages also import each other where they compose: the
// pipelines use negotiator plans (and convert/scaler results), and the
// conductor wires all of them together.
package types

import "context"

// Logger is the minimal structured logging surface the engine depends on.
// github.com/hashicorp/go-hclog.Logger satisfies this interface directly.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// NopLogger discards everything. Safe zero value for tests.
type NopLogger struct{}

func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Debug(string, ...interface{}) {}

// TrackKind distinguishes video and audio chunks/frames.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// VideoCodec enumerates the video codecs the negotiator may select.
type VideoCodec string

const (
	VideoCodecAuto VideoCodec = "auto"
	VideoCodecAV1  VideoCodec = "av1"
	VideoCodecHEVC VideoCodec = "hevc"
	VideoCodecH264 VideoCodec = "h264"
	VideoCodecVP9  VideoCodec = "vp9"
)

// AudioCodec enumerates the audio codecs the negotiator may select.
type AudioCodec string

const (
	AudioCodecAuto AudioCodec = "auto"
	AudioCodecOpus AudioCodec = "opus"
	AudioCodecAAC  AudioCodec = "aac"
	AudioCodecMP3  AudioCodec = "mp3"
	AudioCodecFLAC AudioCodec = "flac"
)

// Container is the output envelope.
type Container string

const (
	ContainerMP4  Container = "mp4"
	ContainerWebM Container = "webm"
)

// HWPreference controls how strongly the negotiator favors hardware
// encoders during capability probing.
type HWPreference string

const (
	HWAuto      HWPreference = "auto"
	HWPreferHW  HWPreference = "prefer_hw"
	HWPreferSW  HWPreference = "prefer_sw"
)

// ResolutionTarget drives the frame scaler.
type ResolutionTarget string

const (
	ResolutionAuto  ResolutionTarget = "auto"
	Resolution4K    ResolutionTarget = "4k"
	Resolution1080p ResolutionTarget = "1080p"
	Resolution720p  ResolutionTarget = "720p"
	Resolution540p  ResolutionTarget = "540p"
)

// VideoConfig holds the requested video encoding parameters (spec.md §3).
type VideoConfig struct {
	Width             int              `yaml:"width"`
	Height            int              `yaml:"height"`
	FrameRate         int              `yaml:"frame_rate"`
	Bitrate           int              `yaml:"bitrate"`
	CodecPreference   VideoCodec       `yaml:"codec_preference"`
	KeyframeIntervalS float64          `yaml:"keyframe_interval_s"`
	HWPreference      HWPreference     `yaml:"hw_pref"`
	ResolutionTarget  ResolutionTarget `yaml:"resolution_target"`
}

// AudioConfig holds the requested audio encoding parameters. A nil
// *AudioConfig on Config means "no audio requested".
type AudioConfig struct {
	CodecPreference AudioCodec `yaml:"codec_preference"`
	SampleRate      int        `yaml:"sample_rate"`
	Channels        int        `yaml:"channels"`
	Bitrate         int        `yaml:"bitrate"`
}

// Config is RecorderConfig from spec.md §3: built once per session and
// immutable after Start.
type Config struct {
	Video VideoConfig  `yaml:"video"`
	Audio *AudioConfig `yaml:"audio"`
}

// RawVideoFrame is an uncompressed video sample owned exclusively by
// whichever stage is currently processing it. Release must be called
// exactly once on every exit path.
type RawVideoFrame struct {
	Width      int
	Height     int
	// Pixels is the platform-allocated pixel buffer. Its layout is a
	// contract between the capture source, the VideoEncoder, and the video
	// pipeline's ScaleFunc; the pipeline itself never interprets it. The
	// ffmpegenc adapter and convert.ResizeRGBA both read it as packed
	// 8-bit RGBA.
	Pixels []byte
	// TimestampUS is the monotonic capture timestamp in microseconds.
	TimestampUS int64
	// DurationUS is optional; zero means unknown/unspecified (never
	// synthesized downstream per spec.md §9).
	DurationUS int64

	release func()
}

// NewRawVideoFrame constructs a frame with an explicit release callback.
// Capture sources own the platform allocation and decide how release
// returns it (pool, free, decrement refcount, ...).
func NewRawVideoFrame(width, height int, pixels []byte, timestampUS, durationUS int64, release func()) *RawVideoFrame {
	return &RawVideoFrame{
		Width:       width,
		Height:      height,
		Pixels:      pixels,
		TimestampUS: timestampUS,
		DurationUS:  durationUS,
		release:     release,
	}
}

// Release returns the frame's backing memory to its owner. Safe to call
// multiple times; only the first call has effect.
func (f *RawVideoFrame) Release() {
	if f == nil || f.release == nil {
		return
	}
	r := f.release
	f.release = nil
	r()
}

// SampleFormat describes the PCM sample layout of a RawAudioFrame.
type SampleFormat string

const (
	SampleFormatF32 SampleFormat = "f32"
	SampleFormatS16 SampleFormat = "s16"
)

// RawAudioFrame is an uncompressed PCM sample, following the same
// single-owner release discipline as RawVideoFrame.
type RawAudioFrame struct {
	Format      SampleFormat
	Interleaved bool
	SampleRate  int
	Channels    int
	NumFrames   int
	// Samples holds raw PCM bytes: interleaved int16 little-endian for
	// SampleFormatS16, interleaved float32 little-endian for
	// SampleFormatF32 (planar layouts are a capture-source contract detail
	// not exercised by the synthetic source or ffmpegenc adapter).
	Samples     []byte
	TimestampUS int64

	release func()
}

func NewRawAudioFrame(format SampleFormat, sampleRate, channels, numFrames int, samples []byte, timestampUS int64, release func()) *RawAudioFrame {
	return &RawAudioFrame{
		Format:      format,
		Interleaved: true,
		SampleRate:  sampleRate,
		Channels:    channels,
		NumFrames:   numFrames,
		Samples:     samples,
		TimestampUS: timestampUS,
		release:     release,
	}
}

func (f *RawAudioFrame) Release() {
	if f == nil || f.release == nil {
		return
	}
	r := f.release
	f.release = nil
	r()
}

// EncodedChunk is an immutable compressed output unit from an encoder.
type EncodedChunk struct {
	Kind         TrackKind
	TimestampUS  int64
	DurationUS   int64
	IsKeyframe   bool
	Bytes        []byte
	CodecMetadata []byte
}

// PipelineState is the state machine described in spec.md §4.3.
type PipelineState int

const (
	StateIdle PipelineState = iota
	StateNegotiating
	StateReady
	StateRunning
	StateDraining
	StateStopped
	StateFailed
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EffectiveVideoConfig records what was actually negotiated/probed.
type EffectiveVideoConfig struct {
	Codec     VideoCodec
	Profile   string
	Width     int
	Height    int
	FrameRate int
	Bitrate   int
	HWUsed    bool
}

// EffectiveAudioConfig records what was actually negotiated/probed.
type EffectiveAudioConfig struct {
	Codec      AudioCodec
	SampleRate int
	Channels   int
	Bitrate    int
}

// EffectiveConfig is the "effective ⊆ supported variants" half of
// RecordingResult (spec.md §3).
type EffectiveConfig struct {
	Video      EffectiveVideoConfig
	Audio      *EffectiveAudioConfig
	DurationMS int64
}

// RecordingResult is returned by Conductor.Stop / Recorder.Stop.
type RecordingResult struct {
	Bytes           []byte
	Container       Container
	RequestedConfig Config
	EffectiveConfig EffectiveConfig
}

// CaptureSettings are the actual settings a capture source is producing,
// probed by the Conductor to override requested values where they differ
// (spec.md §4.5).
type CaptureSettings struct {
	Width      int
	Height     int
	FrameRate  int
	SampleRate int
	Channels   int
}

// CaptureSource is the external collaborator contract of spec.md §6: a
// read-only handle yielding two lazy, finite, non-rewindable sequences.
// HasAudio reports whether an audio track was actually opened (it may be
// false even if the caller requested audio, per spec.md §4.5's "configured
// but absent" case).
type CaptureSource interface {
	VideoSettings() CaptureSettings
	AudioSettings() (CaptureSettings, bool)
	HasAudio() bool

	// NextVideoFrame blocks until a frame is available, the source ends
	// (returns nil, nil), or ctx is done.
	NextVideoFrame(ctx context.Context) (*RawVideoFrame, error)
	// NextAudioFrame blocks until a frame is available, the source ends
	// (returns nil, nil), or ctx is done. Only called when HasAudio().
	NextAudioFrame(ctx context.Context) (*RawAudioFrame, error)
}

// EncoderProbeResult is returned by VideoEncoder/AudioEncoder.Probe.
type EncoderProbeResult struct {
	Supported        bool
	EffectiveVideo   EffectiveVideoConfig
	EffectiveAudio   EffectiveAudioConfig
}

// SubmitOptions carries per-frame submission hints.
type SubmitOptions struct {
	ForceKeyframe bool
}

// EncoderOutput is delivered via the encoder's output callback.
type EncoderOutput struct {
	Chunk EncodedChunk
}

// VideoEncoder is the external collaborator contract for a video codec +
// container pairing (spec.md §6). Implementations are expected to
// encode/mux asynchronously and invoke the output callback from their own
// goroutine; QueueDepth must be safe to call concurrently with Submit.
type VideoEncoder interface {
	Probe(ctx context.Context, cfg VideoConfig, container Container) (EncoderProbeResult, error)
	Configure(cfg VideoConfig, container Container) error
	SetOutput(func(EncoderOutput))
	Submit(frame *RawVideoFrame, opts SubmitOptions) error
	QueueDepth() int
	Flush(ctx context.Context) error
	Close() error
}

// AudioEncoder is the audio analogue of VideoEncoder.
type AudioEncoder interface {
	Probe(ctx context.Context, cfg AudioConfig, container Container) (EncoderProbeResult, error)
	Configure(cfg AudioConfig, container Container) error
	SetOutput(func(EncoderOutput))
	Submit(frame *RawAudioFrame, opts SubmitOptions) error
	QueueDepth() int
	Flush(ctx context.Context) error
	Close() error
}

// Muxer is the container-writer contract of spec.md §6.
type Muxer interface {
	Configure(container Container, video EffectiveVideoConfig, audio *EffectiveAudioConfig) error
	AddVideoChunk(chunk EncodedChunk) error
	AddAudioChunk(chunk EncodedChunk) error
	Finalize() ([]byte, error)
}

// PressureLevel is emitted by the video pipeline's backpressure policy.
type PressureLevel string

const (
	PressureHigh PressureLevel = "high"
	PressureLow  PressureLevel = "low"
)

// EventKind enumerates the public event emissions of spec.md §6.
type EventKind string

const (
	EventStart             EventKind = "start"
	EventStop              EventKind = "stop"
	EventError             EventKind = "error"
	EventPressure          EventKind = "pressure"
	EventPressureSustained EventKind = "pressure-sustained"
)

// Event is the payload delivered on the Recorder's event channel.
type Event struct {
	Kind       EventKind
	Bytes      []byte
	ErrKind    Kind
	Message    string
	Pressure   PressureLevel
	QueueSize  int
	SustainedS int
}
