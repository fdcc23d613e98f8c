package ffmpegenc

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/mantonx/avrecorder/types"
)

// AudioEncoder implements types.AudioEncoder over an ffmpeg subprocess fed
// raw interleaved PCM on stdin. AAC output is framed with ADTS headers
// (ffmpeg's "-f adts" muxer), which carry the frame length in a fixed
// 7-byte header and need no separate demuxer; Opus output is framed as Ogg
// pages (ffmpeg's native "-f ogg" muxer), split on "OggS" page boundaries.
// A single Ogg page may bundle more than one Opus packet; this adapter
// treats one page as one EncodedChunk rather than splitting packets out,
// since the muxer only needs decode-ordered, keyframe-free audio chunks.
type AudioEncoder struct {
	codec types.AudioCodec
	proc  *process
	cfg   types.AudioConfig
}

func NewAudioEncoder(codec types.AudioCodec) *AudioEncoder {
	return &AudioEncoder{codec: codec}
}

func (e *AudioEncoder) Probe(ctx context.Context, cfg types.AudioConfig, container types.Container) (types.EncoderProbeResult, error) {
	if err := verifyBinary(ctx); err != nil {
		return types.EncoderProbeResult{Supported: false}, nil
	}
	return types.EncoderProbeResult{
		Supported: true,
		EffectiveAudio: types.EffectiveAudioConfig{
			Codec: e.codec, SampleRate: cfg.SampleRate, Channels: cfg.Channels, Bitrate: cfg.Bitrate,
		},
	}, nil
}

func (e *AudioEncoder) Configure(cfg types.AudioConfig, container types.Container) error {
	e.cfg = cfg

	sampleFmt := "s16le"
	if e.codec == types.AudioCodecOpus {
		sampleFmt = "flt"
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", sampleFmt, "-ar", strconv.Itoa(cfg.SampleRate), "-ac", strconv.Itoa(cfg.Channels),
		"-i", "pipe:0",
		"-c:a", encoderName(e.codec),
		"-b:a", strconv.Itoa(cfg.Bitrate),
		"-f", outputContainerFormat(e.codec),
		"pipe:1",
	}

	proc, err := startProcess(context.Background(), args)
	if err != nil {
		return types.NewError(types.KindEncoderFailed, "ffmpegenc.AudioEncoder.Configure", err)
	}
	e.proc = proc

	stdout, err := proc.cmd.StdoutPipe()
	if err != nil {
		return types.NewError(types.KindEncoderFailed, "ffmpegenc.AudioEncoder.Configure", err)
	}

	if e.codec == types.AudioCodecOpus {
		go parseOgg(stdout, proc)
	} else {
		go parseADTS(stdout, proc)
	}
	return nil
}

// frameDurationUS derives a PCM frame's duration from its sample count and
// rate, since types.RawAudioFrame carries no duration field of its own.
func frameDurationUS(frame *types.RawAudioFrame) int64 {
	if frame.SampleRate <= 0 {
		return 0
	}
	return int64(frame.NumFrames) * 1_000_000 / int64(frame.SampleRate)
}

func encoderName(codec types.AudioCodec) string {
	switch codec {
	case types.AudioCodecOpus:
		return "libopus"
	case types.AudioCodecFLAC:
		return "flac"
	case types.AudioCodecMP3:
		return "libmp3lame"
	default:
		return "aac"
	}
}

func outputContainerFormat(codec types.AudioCodec) string {
	switch codec {
	case types.AudioCodecOpus:
		return "ogg"
	case types.AudioCodecFLAC:
		return "flac"
	case types.AudioCodecMP3:
		return "mp3"
	default:
		return "adts"
	}
}

func (e *AudioEncoder) SetOutput(cb func(types.EncoderOutput)) { e.proc.setOutput(cb) }

func (e *AudioEncoder) Submit(frame *types.RawAudioFrame, opts types.SubmitOptions) error {
	meta := frameMeta{timestampUS: frame.TimestampUS, durationUS: frameDurationUS(frame)}
	if err := e.proc.submit(frame.Samples, meta); err != nil {
		return types.NewError(types.KindEncoderFailed, "ffmpegenc.AudioEncoder.Submit", err)
	}
	return nil
}

func (e *AudioEncoder) QueueDepth() int { return e.proc.queueDepth() }

func (e *AudioEncoder) Flush(ctx context.Context) error {
	if err := e.proc.flush(ctx); err != nil {
		return types.NewError(types.KindEncoderFailed, "ffmpegenc.AudioEncoder.Flush", err)
	}
	return nil
}

func (e *AudioEncoder) Close() error { return e.proc.close() }

// adtsFrameLen extracts the 13-bit frame length (header + payload) from an
// ADTS header's bytes[3..5].
func adtsFrameLen(header []byte) int {
	return (int(header[3]&0x03) << 11) | (int(header[4]) << 3) | (int(header[5]) >> 5)
}

// parseADTS reads ffmpeg's "-f adts" AAC output, splitting on each 7-byte
// ADTS header's embedded frame length.
func parseADTS(r io.Reader, proc *process) {
	br := bufio.NewReader(r)

	for {
		header := make([]byte, 7)
		if _, err := io.ReadFull(br, header); err != nil {
			return
		}
		if header[0] != 0xFF || header[1]&0xF0 != 0xF0 {
			return
		}
		frameLen := adtsFrameLen(header)
		if frameLen < 7 {
			return
		}
		payload := make([]byte, frameLen-7)
		if _, err := io.ReadFull(br, payload); err != nil {
			return
		}
		chunk := append(header, payload...)
		meta := proc.nextMeta()
		proc.emit(types.EncodedChunk{
			Kind:        types.TrackAudio,
			TimestampUS: meta.timestampUS,
			DurationUS:  meta.durationUS,
			Bytes:       chunk,
		})
	}
}

var oggCapturePattern = []byte("OggS")

// parseOgg reads ffmpeg's "-f ogg" Opus output, splitting on "OggS" page
// boundaries. The Ogg page header's segment table gives the exact page
// length; this walks it rather than scanning for the next capture pattern,
// since encoded audio payloads can coincidentally contain "OggS" bytes.
func parseOgg(r io.Reader, proc *process) {
	br := bufio.NewReader(r)

	for {
		header := make([]byte, 27)
		if _, err := io.ReadFull(br, header); err != nil {
			return
		}
		if !bytes.Equal(header[0:4], oggCapturePattern) {
			return
		}
		segCount := int(header[26])
		segTable := make([]byte, segCount)
		if _, err := io.ReadFull(br, segTable); err != nil {
			return
		}
		payloadLen := 0
		for _, s := range segTable {
			payloadLen += int(s)
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(br, payload); err != nil {
			return
		}

		page := make([]byte, 0, len(header)+len(segTable)+len(payload))
		page = append(page, header...)
		page = append(page, segTable...)
		page = append(page, payload...)

		meta := proc.nextMeta()
		proc.emit(types.EncodedChunk{
			Kind:        types.TrackAudio,
			TimestampUS: meta.timestampUS,
			DurationUS:  meta.durationUS,
			Bytes:       page,
		})
	}
}
