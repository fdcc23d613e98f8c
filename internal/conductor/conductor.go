// Package conductor implements the Conductor of spec.md §4.5: it
// orchestrates the lifecycle of the video and audio pipelines, collects
// their encoded chunks, enforces the start/stop barrier timeouts, fans in
// cancellation when either worker fails, and drives the final mux.
//
// The composition (a struct holding a sync.RWMutex, a Logger, and the
// collaborators it orchestrates) follows the teacher's session.Manager /
// TranscodeManagerImpl shape, generalized from "N active sessions" to
// "exactly one video+audio pair."
package conductor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mantonx/avrecorder/internal/audiopipeline"
	"github.com/mantonx/avrecorder/internal/negotiator"
	"github.com/mantonx/avrecorder/internal/scaler"
	"github.com/mantonx/avrecorder/internal/videopipeline"
	"github.com/mantonx/avrecorder/types"
)

const (
	readyTimeout = 15 * time.Second
	stopTimeout  = 20 * time.Second

	sustainedNoticeFirst  = 12 * time.Second
	sustainedNoticeSecond = 25 * time.Second
)

// VideoEncoderFactory and AudioEncoderFactory are re-exported so callers
// only need to import this package to wire a Conductor end to end.
type VideoEncoderFactory = negotiator.VideoEncoderFactory
type AudioEncoderFactory = negotiator.AudioEncoderFactory

// MuxerFactory builds a fresh Muxer for the negotiated container.
type MuxerFactory func(container types.Container) types.Muxer

// ScaleFunc performs the off-screen resample videopipeline needs when the
// scaler decides bypass=false.
type ScaleFunc videopipeline.ScaleFunc

// Stats is a point-in-time snapshot for monitoring/CLI progress display.
type Stats struct {
	State             types.PipelineState
	VideoChunks       int
	AudioChunks       int
	ElapsedMS         int64
	VideoQueueDepth   int
	AudioQueueDepth   int
	// DroppedVideoCount is not filled in by Conductor.Stats and is always
	// zero; the video pipeline does not report its drops to the Conductor.
	DroppedVideoCount int
}

// Conductor runs one recording session end to end.
type Conductor struct {
	id     string
	logger types.Logger

	negotiator   *negotiator.Negotiator
	muxerFactory MuxerFactory
	scaleFn      videopipeline.ScaleFunc

	mu          sync.RWMutex
	state       types.PipelineState
	videoChunks []types.EncodedChunk
	audioChunks []types.EncodedChunk
	startedAt   time.Time
	lastResult  *types.RecordingResult

	videoPlan       negotiator.VideoPlan
	audioPlan       *negotiator.AudioPlan
	container       types.Container
	requestedConfig types.Config

	videoPipeline *videopipeline.Pipeline
	audioPipeline *audiopipeline.Pipeline

	events chan types.Event

	cancelWorkers context.CancelFunc
	workerWg      sync.WaitGroup
	workerErr     chan error

	pressureStopCh chan struct{}
}

// New builds a Conductor. neg selects codecs, muxerFactory builds the
// container writer once negotiation settles, scaleFn performs the actual
// pixel resample when the scaler decides bypass=false.
func New(logger types.Logger, neg *negotiator.Negotiator, muxerFactory MuxerFactory, scaleFn ScaleFunc) *Conductor {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Conductor{
		id:           uuid.New().String(),
		logger:       logger,
		negotiator:   neg,
		muxerFactory: muxerFactory,
		scaleFn:      videopipeline.ScaleFunc(scaleFn),
		state:        types.StateIdle,
		events:       make(chan types.Event, 32),
	}
}

// Events returns the Conductor's event stream (start/stop/error/pressure/
// pressure-sustained, spec.md §6).
func (c *Conductor) Events() <-chan types.Event { return c.events }

func (c *Conductor) emit(ev types.Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event channel full, dropping event", "kind", ev.Kind)
	}
}

// Start negotiates codecs, probes the capture source's actual settings,
// spins up both pipelines, and waits for the ready barrier (spec.md §4.5).
// It returns once both (or, if audio is absent/disabled, just the video)
// pipelines report ready.
func (c *Conductor) Start(ctx context.Context, cfg types.Config, capture types.CaptureSource) (types.EffectiveConfig, error) {
	c.mu.Lock()
	if c.state != types.StateIdle && c.state != types.StateStopped {
		c.mu.Unlock()
		return types.EffectiveConfig{}, types.NewError(types.KindInvalidState, "conductor.Start", fmt.Errorf("already running"))
	}
	c.state = types.StateNegotiating
	c.videoChunks = nil
	c.audioChunks = nil
	c.mu.Unlock()

	cfg = cfg.Validate()
	c.requestedConfig = cfg

	videoSettings := capture.VideoSettings()
	cfg.Video.Width = videoSettings.Width
	cfg.Video.Height = videoSettings.Height
	cfg.Video.FrameRate = videoSettings.FrameRate

	hasAudio := cfg.Audio != nil && capture.HasAudio()
	if cfg.Audio != nil && !capture.HasAudio() {
		c.logger.Warn("audio requested but capture source has no audio track; continuing video-only")
	}
	if hasAudio {
		audioSettings, _ := capture.AudioSettings()
		cfg.Audio.SampleRate = audioSettings.SampleRate
		cfg.Audio.Channels = audioSettings.Channels
	}

	videoPlan, err := c.negotiator.NegotiateVideo(ctx, cfg.Video, nil)
	if err != nil {
		c.fail(err)
		return types.EffectiveConfig{}, err
	}
	c.videoPlan = videoPlan
	c.container = videoPlan.Container

	var audioPlan *negotiator.AudioPlan
	if hasAudio {
		plan, err := c.negotiator.NegotiateAudio(ctx, *cfg.Audio, c.container)
		if err != nil {
			c.logger.Warn("audio negotiation failed, continuing video-only", "err", err)
			hasAudio = false
		} else {
			audioPlan = &plan
		}
	}
	c.audioPlan = audioPlan

	scaleResult := scaler.Decide(videoSettings.Width, videoSettings.Height, cfg.Video.ResolutionTarget)

	c.videoPipeline = videopipeline.New(videoPlan, scaleResult, c.scaleFn, c.logger)

	var audioPipeline *audiopipeline.Pipeline
	if hasAudio {
		audioPipeline = audiopipeline.New(*audioPlan, cfg.Audio.Channels, cfg.Audio.SampleRate, c.logger)
	}
	c.audioPipeline = audioPipeline

	workerCtx, cancel := context.WithCancel(context.Background())
	c.cancelWorkers = cancel
	c.workerErr = make(chan error, 2)
	c.pressureStopCh = make(chan struct{})

	videoReady := make(chan struct{}, 1)
	var audioReady chan struct{}
	if hasAudio {
		audioReady = make(chan struct{}, 1)
	}

	videoSink := &pipelineSink{c: c, track: types.TrackVideo, readyCh: videoReady}
	c.workerWg.Add(1)
	go func() {
		defer c.workerWg.Done()
		c.videoPipeline.Start(workerCtx, capture, videoSink)
		c.workerErr <- videoSink.err
	}()

	if hasAudio {
		audioSink := &pipelineSink{c: c, track: types.TrackAudio, readyCh: audioReady}
		c.workerWg.Add(1)
		go func() {
			defer c.workerWg.Done()
			c.audioPipeline.Start(workerCtx, capture, audioSink)
			c.workerErr <- audioSink.err
		}()
	}

	go c.fanInCancellation(cancel)
	go c.monitorPressure()

	readyCtx, readyCancel := context.WithTimeout(ctx, readyTimeout)
	defer readyCancel()

	if err := waitReady(readyCtx, videoReady); err != nil {
		cancel()
		c.fail(err)
		return types.EffectiveConfig{}, types.NewError(types.KindTimeout, "conductor.Start", err)
	}
	if hasAudio {
		if err := waitReady(readyCtx, audioReady); err != nil {
			cancel()
			c.fail(err)
			return types.EffectiveConfig{}, types.NewError(types.KindTimeout, "conductor.Start", err)
		}
	}

	c.mu.Lock()
	c.state = types.StateRunning
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.emit(types.Event{Kind: types.EventStart})

	eff := types.EffectiveConfig{Video: videoPlan.Effective}
	if hasAudio {
		eff.Audio = &audioPlan.Effective
	}
	return eff, nil
}

func waitReady(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fanInCancellation cancels the worker context the moment either worker
// reports a fatal error, so the sibling pipeline unwinds promptly
// (spec.md §5 "fan-in cancellation of the other").
func (c *Conductor) fanInCancellation(cancel context.CancelFunc) {
	for err := range c.workerErr {
		if err != nil {
			c.fail(err)
			cancel()
		}
	}
}

func (c *Conductor) fail(err error) {
	c.mu.Lock()
	c.state = types.StateFailed
	c.mu.Unlock()
	kind, _ := types.KindOf(err)
	c.emit(types.Event{Kind: types.EventError, ErrKind: kind, Message: err.Error()})
}

// Stop cooperatively stops both pipelines, waits for them to drain within
// the stop barrier timeout, and performs the final mux (spec.md §4.5/§4.6).
func (c *Conductor) Stop(ctx context.Context) (types.RecordingResult, error) {
	c.mu.Lock()
	if c.state != types.StateRunning {
		c.mu.Unlock()
		return types.RecordingResult{}, types.NewError(types.KindInvalidState, "conductor.Stop", fmt.Errorf("not running"))
	}
	c.state = types.StateDraining
	c.mu.Unlock()

	close(c.pressureStopCh)

	stopCtx, stopCancel := context.WithTimeout(ctx, stopTimeout)
	defer stopCancel()

	var stopGroup errgroup.Group
	stopGroup.Go(func() error { return c.videoPipeline.Stop(stopCtx) })
	if c.audioPipeline != nil {
		stopGroup.Go(func() error { return c.audioPipeline.Stop(stopCtx) })
	}

	stopErrCh := make(chan error, 1)
	go func() { stopErrCh <- stopGroup.Wait() }()

	select {
	case err := <-stopErrCh:
		if err != nil {
			c.mu.Lock()
			c.state = types.StateFailed
			c.mu.Unlock()
			return types.RecordingResult{}, err
		}
	case <-stopCtx.Done():
		c.cancelWorkers()
		c.mu.Lock()
		c.state = types.StateFailed
		c.mu.Unlock()
		return types.RecordingResult{}, types.NewError(types.KindTimeout, "conductor.Stop", stopCtx.Err())
	}

	c.workerWg.Wait()
	close(c.workerErr)

	result, err := c.finalize()
	c.mu.Lock()
	if err != nil {
		c.state = types.StateFailed
	} else {
		c.state = types.StateStopped
		c.lastResult = &result
	}
	c.mu.Unlock()

	if err != nil {
		return types.RecordingResult{}, err
	}

	c.emit(types.Event{Kind: types.EventStop, Bytes: result.Bytes})
	return result, nil
}

// finalize performs the muxer driver algorithm of spec.md §4.6: build the
// timestamp-sorted merge of collected chunks and feed it to the container
// muxer.
func (c *Conductor) finalize() (types.RecordingResult, error) {
	c.mu.RLock()
	videoChunks := append([]types.EncodedChunk(nil), c.videoChunks...)
	audioChunks := append([]types.EncodedChunk(nil), c.audioChunks...)
	startedAt := c.startedAt
	c.mu.RUnlock()

	if len(videoChunks) == 0 && len(audioChunks) == 0 {
		return types.RecordingResult{}, types.NewError(types.KindMuxFailed, "conductor.finalize", fmt.Errorf("no chunks produced by either track"))
	}

	mux := c.muxerFactory(c.container)
	var audioEff *types.EffectiveAudioConfig
	if c.audioPlan != nil {
		audioEff = &c.audioPlan.Effective
	}
	if err := mux.Configure(c.container, c.videoPlan.Effective, audioEff); err != nil {
		return types.RecordingResult{}, types.NewError(types.KindMuxFailed, "conductor.finalize", err)
	}

	for _, chunk := range mergeByTimestamp(videoChunks, audioChunks) {
		var err error
		if chunk.Kind == types.TrackVideo {
			err = mux.AddVideoChunk(chunk)
		} else {
			err = mux.AddAudioChunk(chunk)
		}
		if err != nil {
			return types.RecordingResult{}, types.NewError(types.KindMuxFailed, "conductor.finalize", err)
		}
	}

	bytes, err := mux.Finalize()
	if err != nil {
		return types.RecordingResult{}, types.NewError(types.KindMuxFailed, "conductor.finalize", err)
	}

	eff := types.EffectiveConfig{
		Video:      c.videoPlan.Effective,
		Audio:      audioEff,
		DurationMS: time.Since(startedAt).Milliseconds(),
	}

	return types.RecordingResult{
		Bytes:           bytes,
		Container:       c.container,
		RequestedConfig: c.requestedConfig,
		EffectiveConfig: eff,
	}, nil
}

// mergeByTimestamp merges two already-ordered chunk streams, preferring
// video on a timestamp tie to preserve Conductor receive order (both
// streams are produced in submission order; ties only occur across
// tracks, and video chunks are buffered to the Conductor first in the
// common "video leads audio by a frame interval" case).
func mergeByTimestamp(video, audio []types.EncodedChunk) []types.EncodedChunk {
	out := make([]types.EncodedChunk, 0, len(video)+len(audio))
	i, j := 0, 0
	for i < len(video) && j < len(audio) {
		if video[i].TimestampUS <= audio[j].TimestampUS {
			out = append(out, video[i])
			i++
		} else {
			out = append(out, audio[j])
			j++
		}
	}
	out = append(out, video[i:]...)
	out = append(out, audio[j:]...)
	return out
}

// LastResult returns the most recent completed recording, if any.
func (c *Conductor) LastResult() *types.RecordingResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastResult
}

// Stats returns a point-in-time snapshot for monitoring.
func (c *Conductor) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		State:       c.state,
		VideoChunks: len(c.videoChunks),
		AudioChunks: len(c.audioChunks),
	}
	if !c.startedAt.IsZero() {
		s.ElapsedMS = time.Since(c.startedAt).Milliseconds()
	}
	if c.videoPlan.Encoder != nil {
		s.VideoQueueDepth = c.videoPlan.Encoder.QueueDepth()
	}
	if c.audioPlan != nil && c.audioPlan.Encoder != nil {
		s.AudioQueueDepth = c.audioPlan.Encoder.QueueDepth()
	}
	return s
}

// monitorPressure watches for sustained high-pressure periods and emits
// the two informational notices required by spec.md §7 ("after ~12s and
// ~25s of sustained high pressure").
func (c *Conductor) monitorPressure() {
	// highWater matches the video pipeline's backpressure threshold.
	const highWater = 8

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var highSince time.Time
	firedFirst, firedSecond := false, false

	for {
		select {
		case <-c.pressureStopCh:
			return
		case <-ticker.C:
			c.mu.RLock()
			pressured := c.videoPlan.Encoder != nil && c.videoPlan.Encoder.QueueDepth() > highWater
			c.mu.RUnlock()

			if !pressured {
				highSince = time.Time{}
				firedFirst, firedSecond = false, false
				continue
			}
			if highSince.IsZero() {
				highSince = time.Now()
				continue
			}

			elapsed := time.Since(highSince)
			if !firedFirst && elapsed >= sustainedNoticeFirst {
				firedFirst = true
				c.emit(types.Event{Kind: types.EventPressureSustained, SustainedS: int(sustainedNoticeFirst.Seconds())})
			}
			if !firedSecond && elapsed >= sustainedNoticeSecond {
				firedSecond = true
				c.emit(types.Event{Kind: types.EventPressureSustained, SustainedS: int(sustainedNoticeSecond.Seconds())})
			}
		}
	}
}

// pipelineSink bridges a single pipeline's callbacks into the Conductor's
// shared chunk buffers and event stream.
type pipelineSink struct {
	c       *Conductor
	track   types.TrackKind
	readyCh chan struct{}
	err     error
}

func (s *pipelineSink) OnReady() {
	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}

func (s *pipelineSink) OnChunk(chunk types.EncodedChunk) {
	s.c.mu.Lock()
	if s.track == types.TrackVideo {
		s.c.videoChunks = append(s.c.videoChunks, chunk)
	} else {
		s.c.audioChunks = append(s.c.audioChunks, chunk)
	}
	s.c.mu.Unlock()
}

func (s *pipelineSink) OnPressure(level types.PressureLevel, queueDepth int) {
	s.c.emit(types.Event{Kind: types.EventPressure, Pressure: level, QueueSize: queueDepth})
}

func (s *pipelineSink) OnFailed(err error) {
	s.err = err
}

func (s *pipelineSink) OnComplete() {}
