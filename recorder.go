// Package avrecorder is the public entry point of the dual-pipeline
// archival recording engine described in spec.md: a Recorder wires a
// Conductor to concrete ffmpeg-backed encoders and a container muxer, and
// exposes the §6 library API (IsSupported/New/Start/Stop/LastResult plus
// an event stream), the same thin-facade-over-an-internal-manager shape
// the teacher uses for session.Manager behind its HTTP handlers.
package avrecorder

import (
	"context"
	"fmt"
	"sync"

	"github.com/mantonx/avrecorder/internal/conductor"
	"github.com/mantonx/avrecorder/internal/convert"
	"github.com/mantonx/avrecorder/internal/ffmpegenc"
	"github.com/mantonx/avrecorder/internal/mux"
	"github.com/mantonx/avrecorder/internal/negotiator"
	"github.com/mantonx/avrecorder/types"
)

// IsSupported reports whether the host platform exposes a usable video
// encoder API (spec.md §6). Audio availability is checked separately at
// Start and degrades gracefully rather than gating support.
func IsSupported(ctx context.Context) bool {
	return ffmpegenc.Available(ctx)
}

// Recorder is the top-level handle for one recording session. A Recorder
// is single-use: once Stop succeeds or fails, construct a new Recorder for
// another session rather than reusing this one (mirrors spec.md §3's
// "config is immutable once a session starts").
type Recorder struct {
	logger types.Logger
	config types.Config

	mu        sync.Mutex
	conductor *conductor.Conductor
	running   bool
}

// New validates and clamps config, mirroring spec.md §6's "new(config)
// validates and clamps."
func New(config types.Config, logger types.Logger) *Recorder {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Recorder{
		logger: logger,
		config: config.Validate(),
	}
}

func muxerFactory(container types.Container) types.Muxer {
	return mux.New(container)
}

// Start negotiates codecs against capture, spins up both pipelines, and
// returns once both have signaled ready (spec.md §4.5's ready barrier).
// Errors: NotSupported, NoVideoTrack, NoCodec, Timeout, CaptureError,
// InvalidState (already running).
func (r *Recorder) Start(ctx context.Context, capture types.CaptureSource) (types.EffectiveConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return types.EffectiveConfig{}, types.NewError(types.KindInvalidState, "Recorder.Start", fmt.Errorf("already running"))
	}

	neg := negotiator.New(
		func(codec types.VideoCodec, c types.Container) types.VideoEncoder { return ffmpegenc.NewVideoEncoder(codec, c) },
		func(codec types.AudioCodec, c types.Container) types.AudioEncoder { return ffmpegenc.NewAudioEncoder(codec) },
		r.logger,
	)

	c := conductor.New(r.logger, neg, muxerFactory, conductor.ScaleFunc(scaleFrame))

	effective, err := c.Start(ctx, r.config, capture)
	if err != nil {
		return types.EffectiveConfig{}, err
	}

	r.conductor = c
	r.running = true
	return effective, nil
}

func scaleFrame(src *types.RawVideoFrame, outWidth, outHeight int) (*types.RawVideoFrame, error) {
	return convert.ResizeRGBA(src, outWidth, outHeight), nil
}

// Stop drains both pipelines, muxes the collected chunks, and returns the
// finished recording. Errors: InvalidState (not running), MuxFailed,
// Timeout.
func (r *Recorder) Stop(ctx context.Context) (types.RecordingResult, error) {
	r.mu.Lock()
	c := r.conductor
	running := r.running
	r.mu.Unlock()

	if !running || c == nil {
		return types.RecordingResult{}, types.NewError(types.KindInvalidState, "Recorder.Stop", fmt.Errorf("not running"))
	}

	result, err := c.Stop(ctx)

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	return result, err
}

// LastResult returns the most recently completed recording, if any.
func (r *Recorder) LastResult() *types.RecordingResult {
	r.mu.Lock()
	c := r.conductor
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.LastResult()
}

// Events returns the Recorder's event stream (start/stop/error/pressure),
// valid once Start has been called.
func (r *Recorder) Events() <-chan types.Event {
	r.mu.Lock()
	c := r.conductor
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Events()
}

// Stats returns a point-in-time snapshot for progress display.
func (r *Recorder) Stats() conductor.Stats {
	r.mu.Lock()
	c := r.conductor
	r.mu.Unlock()
	if c == nil {
		return conductor.Stats{}
	}
	return c.Stats()
}
