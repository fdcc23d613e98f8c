// Package ffmpegenc implements the VideoEncoder/AudioEncoder contracts of
// spec.md §6 by shelling out to a long-running ffmpeg subprocess fed raw
// frames on stdin, grounded on go-vod's manager.go exec.CommandContext +
// bytes.Buffer stderr-capture pattern and the teacher's
// sdk/transcoding/ffmpeg encoder-name conventions (h264_nvenc, h264_vaapi,
// libx264, libvpx-vp9, libaom-av1, ...) via internal/hwprobe.
package ffmpegenc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mantonx/avrecorder/internal/hwprobe"
	"github.com/mantonx/avrecorder/types"
)

const probeTimeout = 2 * time.Second

// ffmpegPath is overridable in tests; production code always shells out to
// the "ffmpeg" binary on PATH.
var ffmpegPath = "ffmpeg"

// frameMeta carries the timing of a submitted raw frame through to the
// encoded chunk ffmpeg eventually emits for it. ffmpeg's Annex-B/ADTS/Ogg
// stdout framings carry no timestamps of their own, so the encoder threads
// them through a FIFO queue matched 1:1 against submit order — valid as
// long as ffmpeg emits one coded unit per input frame in submission order,
// which holds for the rawvideo/PCM pipe inputs this package configures.
type frameMeta struct {
	timestampUS int64
	durationUS  int64
}

// process wraps a running ffmpeg subprocess: stdin for raw frames, a
// goroutine draining stdout into a chunk parser, and a queue-depth counter
// incremented on Submit and decremented as the output callback fires.
type process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	queue  int64
	output func(types.EncoderOutput)
	closed bool
	doneCh chan struct{}

	metaMu  sync.Mutex
	pending []frameMeta
}

func startProcess(ctx context.Context, args []string) (*process, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	p := &process{cmd: cmd, doneCh: make(chan struct{})}
	cmd.Stderr = &p.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpegenc: stdin pipe: %w", err)
	}
	p.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpegenc: start: %w", err)
	}
	return p, nil
}

func (p *process) submit(data []byte, meta frameMeta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("ffmpegenc: encoder closed")
	}
	p.metaMu.Lock()
	p.pending = append(p.pending, meta)
	p.metaMu.Unlock()
	atomic.AddInt64(&p.queue, 1)
	_, err := p.stdin.Write(data)
	return err
}

// nextMeta pops the oldest pending frame's timing, for a parser to attach
// to the chunk ffmpeg just emitted for it. Returns the zero value (and no
// indication of underflow) if ffmpeg emits more coded units than frames
// were submitted, which the zero-duration chunk then just carries as-is.
func (p *process) nextMeta() frameMeta {
	p.metaMu.Lock()
	defer p.metaMu.Unlock()
	if len(p.pending) == 0 {
		return frameMeta{}
	}
	m := p.pending[0]
	p.pending = p.pending[1:]
	return m
}

func (p *process) emit(chunk types.EncodedChunk) {
	atomic.AddInt64(&p.queue, -1)
	p.mu.Lock()
	cb := p.output
	p.mu.Unlock()
	if cb != nil {
		cb(types.EncoderOutput{Chunk: chunk})
	}
}

func (p *process) setOutput(cb func(types.EncoderOutput)) {
	p.mu.Lock()
	p.output = cb
	p.mu.Unlock()
}

func (p *process) queueDepth() int {
	return int(atomic.LoadInt64(&p.queue))
}

func (p *process) flush(ctx context.Context) error {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- p.cmd.Wait() }()

	select {
	case err := <-waitCh:
		close(p.doneCh)
		if err != nil {
			return fmt.Errorf("ffmpeg exited: %w: %s", err, p.stderr.String())
		}
		return nil
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		return ctx.Err()
	}
}

func (p *process) close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// verifyBinary is the cheap half of Probe: confirm ffmpeg itself launches
// within the bounded probe timeout before committing to a full Configure.
func verifyBinary(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return exec.CommandContext(probeCtx, ffmpegPath, "-version").Run()
}

// Available reports whether the platform exposes a usable video encoder
// API, i.e. the ffmpeg binary launches within the probe timeout. This
// backs Recorder.IsSupported (spec.md §6).
func Available(ctx context.Context) bool {
	return verifyBinary(ctx) == nil
}

var defaultProber = hwprobe.New(types.NopLogger{})
