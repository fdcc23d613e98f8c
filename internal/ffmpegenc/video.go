package ffmpegenc

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/mantonx/avrecorder/types"
)

// VideoEncoder implements types.VideoEncoder over an ffmpeg subprocess.
// AV1/VP9 output is parsed as IVF (ffmpeg's "-f ivf" muxer gives a simple
// 32-byte file header plus a 12-byte per-frame header, no bitstream NAL
// scanning required); H.264/HEVC output is parsed as a raw Annex-B
// bytestream by scanning for 00 00 01 / 00 00 00 01 start codes, the same
// framing ffmpeg's own "-f h264"/"-f hevc" muxers produce.
type VideoEncoder struct {
	codec     types.VideoCodec
	container types.Container
	prober    hwprobeInterface

	proc *process
	cfg  types.VideoConfig
}

// hwprobeInterface narrows internal/hwprobe's Prober to the one method
// this package calls, so tests can substitute a stub without a real probe.
type hwprobeInterface interface {
	EncoderName(ctx context.Context, codec types.VideoCodec, pref types.HWPreference) (string, bool)
}

func NewVideoEncoder(codec types.VideoCodec, container types.Container) *VideoEncoder {
	return &VideoEncoder{codec: codec, container: container, prober: defaultProber}
}

func (e *VideoEncoder) Probe(ctx context.Context, cfg types.VideoConfig, container types.Container) (types.EncoderProbeResult, error) {
	if err := verifyBinary(ctx); err != nil {
		return types.EncoderProbeResult{Supported: false}, nil
	}
	name, hwUsed := e.prober.EncoderName(ctx, e.codec, cfg.HWPreference)
	if name == "" {
		return types.EncoderProbeResult{Supported: false}, nil
	}
	return types.EncoderProbeResult{
		Supported: true,
		EffectiveVideo: types.EffectiveVideoConfig{
			Codec: e.codec, Width: cfg.Width, Height: cfg.Height,
			FrameRate: cfg.FrameRate, Bitrate: cfg.Bitrate, HWUsed: hwUsed,
		},
	}, nil
}

func (e *VideoEncoder) Configure(cfg types.VideoConfig, container types.Container) error {
	e.cfg = cfg
	name, _ := e.prober.EncoderName(context.Background(), e.codec, cfg.HWPreference)

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", strconv.Itoa(cfg.Width) + "x" + strconv.Itoa(cfg.Height),
		"-r", strconv.Itoa(cfg.FrameRate),
		"-i", "pipe:0",
		"-c:v", name,
		"-b:v", strconv.Itoa(cfg.Bitrate),
		"-g", strconv.Itoa(keyframeIntervalFrames(cfg)),
		"-f", outputFormat(e.codec),
		"pipe:1",
	}

	proc, err := startProcess(context.Background(), args)
	if err != nil {
		return types.NewError(types.KindEncoderFailed, "ffmpegenc.VideoEncoder.Configure", err)
	}
	e.proc = proc

	stdout, err := proc.cmd.StdoutPipe()
	if err != nil {
		return types.NewError(types.KindEncoderFailed, "ffmpegenc.VideoEncoder.Configure", err)
	}

	switch outputFormat(e.codec) {
	case "ivf":
		go parseIVF(stdout, proc)
	default:
		go parseAnnexB(stdout, proc, e.codec)
	}
	return nil
}

func keyframeIntervalFrames(cfg types.VideoConfig) int {
	interval := cfg.KeyframeIntervalS
	if interval <= 0 {
		interval = 2.0
	}
	frames := int(interval*float64(cfg.FrameRate) + 0.5)
	if frames < 1 {
		frames = 1
	}
	return frames
}

func outputFormat(codec types.VideoCodec) string {
	switch codec {
	case types.VideoCodecAV1, types.VideoCodecVP9:
		return "ivf"
	case types.VideoCodecHEVC:
		return "hevc"
	default:
		return "h264"
	}
}

func (e *VideoEncoder) SetOutput(cb func(types.EncoderOutput)) { e.proc.setOutput(cb) }

func (e *VideoEncoder) Submit(frame *types.RawVideoFrame, opts types.SubmitOptions) error {
	meta := frameMeta{timestampUS: frame.TimestampUS, durationUS: frame.DurationUS}
	if err := e.proc.submit(frame.Pixels, meta); err != nil {
		return types.NewError(types.KindEncoderFailed, "ffmpegenc.VideoEncoder.Submit", err)
	}
	return nil
}

func (e *VideoEncoder) QueueDepth() int { return e.proc.queueDepth() }

func (e *VideoEncoder) Flush(ctx context.Context) error {
	if err := e.proc.flush(ctx); err != nil {
		return types.NewError(types.KindEncoderFailed, "ffmpegenc.VideoEncoder.Flush", err)
	}
	return nil
}

func (e *VideoEncoder) Close() error { return e.proc.close() }

// parseIVF reads ffmpeg's "-f ivf" output: a 32-byte file header followed
// by (12-byte frame header + payload) records. Frame header: 4-byte LE
// payload size, 8-byte LE PTS in stream timebase units.
func parseIVF(r io.Reader, proc *process) {
	br := bufio.NewReader(r)

	header := make([]byte, 32)
	if _, err := io.ReadFull(br, header); err != nil {
		return
	}

	first := true
	for {
		frameHeader := make([]byte, 12)
		if _, err := io.ReadFull(br, frameHeader); err != nil {
			return
		}
		size := binary.LittleEndian.Uint32(frameHeader[0:4])
		pts := binary.LittleEndian.Uint64(frameHeader[4:12])

		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return
		}

		proc.emit(types.EncodedChunk{
			Kind:        types.TrackVideo,
			TimestampUS: int64(pts),
			IsKeyframe:  first,
			Bytes:       payload,
		})
		first = false
	}
}

var annexBStartCode3 = []byte{0, 0, 1}

// maxAnnexBUnitSize bounds a single access unit (an I-frame NAL can run to
// several hundred KB at high resolutions); bufio.Scanner's default 64KB
// token limit is too small to hold one.
const maxAnnexBUnitSize = 16 * 1024 * 1024

// parseAnnexB splits a raw H.264/HEVC Annex-B bytestream into access units
// at start codes, classifying keyframes by NAL type (IDR=5 for H.264; the
// 16..23 IRAP range for HEVC). It scans incrementally off the stdout pipe
// via bufio.Scanner, the same streaming discipline parseIVF uses, so chunks
// reach the sink (and queueDepth decrements) as ffmpeg produces them rather
// than only once the process exits.
func parseAnnexB(r io.Reader, proc *process, codec types.VideoCodec) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxAnnexBUnitSize)
	scanner.Split(splitAnnexBUnits)

	for scanner.Scan() {
		unit := scanner.Bytes()
		if len(unit) == 0 {
			continue
		}
		meta := proc.nextMeta()
		proc.emit(types.EncodedChunk{
			Kind:        types.TrackVideo,
			TimestampUS: meta.timestampUS,
			DurationUS:  meta.durationUS,
			IsKeyframe:  isKeyframeNAL(unit, codec),
			Bytes:       append([]byte(nil), unit...), // scanner reuses its buffer
		})
	}
}

// splitAnnexBUnits is a bufio.SplitFunc that delimits Annex-B access units
// on "00 00 01" start codes (which also match inside a 4-byte "00 00 00 01"
// code, one byte in), withholding the final unit until atEOF since a
// trailing start code without a following one can't be closed off early.
func splitAnnexBUnits(data []byte, atEOF bool) (advance int, token []byte, err error) {
	first := indexStartCode(data, 0)
	if first < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	next := indexStartCode(data, first+3)
	if next < 0 {
		if atEOF {
			return len(data), data[first:], nil
		}
		return 0, nil, nil
	}
	return next, data[first:next], nil
}

func indexStartCode(data []byte, from int) int {
	for i := from; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			return i
		}
	}
	return -1
}

func isKeyframeNAL(unit []byte, codec types.VideoCodec) bool {
	nalStart := len(annexBStartCode3)
	if nalStart >= len(unit) {
		return false
	}
	if codec == types.VideoCodecHEVC {
		nalType := (unit[nalStart] >> 1) & 0x3F
		return nalType >= 16 && nalType <= 23
	}
	nalType := unit[nalStart] & 0x1F
	return nalType == 5
}
