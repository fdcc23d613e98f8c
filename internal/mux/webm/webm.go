// Package webm implements a pure-Go EBML/WebM muxer for the AV1/VP9 +
// Opus container pairing (spec.md §4.6). The vint/element encoding and
// cluster/SimpleBlock framing are grounded directly on
// petervdpas-goop2's internal/call/webm.go, adapted from a live streaming
// session (one cluster broadcast per video frame) to a finalize-once
// writer: chunks accumulate into clusters as they arrive and the whole
// byte sequence is returned from Finalize.
package webm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mantonx/avrecorder/types"
)

// ─── EBML encoding helpers ──────────────────────────────────────────────

func vint(v uint64) []byte {
	switch {
	case v < 0x7F:
		return []byte{byte(0x80 | v)}
	case v < 0x3FFF:
		return []byte{byte(0x40 | (v >> 8)), byte(v)}
	case v < 0x1FFFFF:
		return []byte{byte(0x20 | (v >> 16)), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(0x10 | (v >> 24)), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

var unknownSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func elem(id, data []byte) []byte {
	b := make([]byte, 0, len(id)+8+len(data))
	b = append(b, id...)
	b = append(b, vint(uint64(len(data)))...)
	return append(b, data...)
}

func uintBytes(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	n := 0
	for x := v; x > 0; x >>= 8 {
		n++
	}
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func concat(slices ...[]byte) []byte {
	n := 0
	for _, s := range slices {
		n += len(s)
	}
	b := make([]byte, 0, n)
	for _, s := range slices {
		b = append(b, s...)
	}
	return b
}

// ─── Element IDs ─────────────────────────────────────────────────────────

var (
	idEBML         = []byte{0x1A, 0x45, 0xDF, 0xA3}
	idEBMLVersion  = []byte{0x42, 0x86}
	idEBMLReadVer  = []byte{0x42, 0xF7}
	idEBMLMaxIDLen = []byte{0x42, 0xF2}
	idEBMLMaxSzLen = []byte{0x42, 0xF3}
	idDocType      = []byte{0x42, 0x82}
	idDocTypeVer   = []byte{0x42, 0x87}
	idDocTypeRdVer = []byte{0x42, 0x85}
	idSegment      = []byte{0x18, 0x53, 0x80, 0x67}
	idInfo         = []byte{0x15, 0x49, 0xA9, 0x66}
	idTcScale      = []byte{0x2A, 0xD7, 0xB1}
	idMuxApp       = []byte{0x4D, 0x80}
	idWrtApp       = []byte{0x57, 0x41}
	idTracks       = []byte{0x16, 0x54, 0xAE, 0x6B}
	idTrackEntry   = []byte{0xAE}
	idTrackNum     = []byte{0xD7}
	idTrackUID     = []byte{0x73, 0xC5}
	idTrackType    = []byte{0x83}
	idCodecID      = []byte{0x86}
	idCodecPrv     = []byte{0x63, 0xA2}
	idVideo        = []byte{0xE0}
	idPixelW       = []byte{0xB0}
	idPixelH       = []byte{0xBA}
	idAudio        = []byte{0xE1}
	idSampFreq     = []byte{0xB5}
	idChannels     = []byte{0x9F}
	idCluster      = []byte{0x1F, 0x43, 0xB6, 0x75}
	idTimecode     = []byte{0xE7}
	idSimpleBlock  = []byte{0xA3}
)

const (
	videoTrackNum = 1
	audioTrackNum = 2

	clusterSpanMS = 5000 // new cluster boundary on every video keyframe, or at least this often
)

func codecID(codec types.VideoCodec) string {
	switch codec {
	case types.VideoCodecVP9:
		return "V_VP9"
	case types.VideoCodecAV1:
		return "V_AV1"
	default:
		return "V_VP9"
	}
}

func audioCodecID(codec types.AudioCodec) (string, error) {
	if codec == types.AudioCodecOpus {
		return "A_OPUS", nil
	}
	return "", types.NewError(types.KindAudioIncompatible, "webm.audioCodecID", fmt.Errorf("codec %q has no WebM track mapping", codec))
}

// Muxer implements types.Muxer for the WebM container.
type Muxer struct {
	video types.EffectiveVideoConfig
	audio *types.EffectiveAudioConfig

	buf bytes.Buffer

	clusterOpen    bool
	clusterStartMS int64
	clusterBlocks  bytes.Buffer

	wroteHeader    bool
	wroteAnyChunk  bool
}

// New returns an unconfigured WebM muxer; call Configure before adding
// chunks.
func New() *Muxer { return &Muxer{} }

func (m *Muxer) Configure(container types.Container, video types.EffectiveVideoConfig, audio *types.EffectiveAudioConfig) error {
	if audio != nil {
		if _, err := audioCodecID(audio.Codec); err != nil {
			return err
		}
	}
	m.video = video
	m.audio = audio
	return nil
}

func (m *Muxer) writeHeaderIfNeeded() {
	if m.wroteHeader {
		return
	}
	m.wroteHeader = true

	ebmlBody := concat(
		elem(idEBMLVersion, uintBytes(1)),
		elem(idEBMLReadVer, uintBytes(1)),
		elem(idEBMLMaxIDLen, uintBytes(4)),
		elem(idEBMLMaxSzLen, uintBytes(8)),
		elem(idDocType, []byte("webm")),
		elem(idDocTypeVer, uintBytes(2)),
		elem(idDocTypeRdVer, uintBytes(2)),
	)
	m.buf.Write(elem(idEBML, ebmlBody))

	m.buf.Write(idSegment)
	m.buf.Write(unknownSize)

	infoBody := concat(
		elem(idTcScale, uintBytes(1_000_000)), // 1ms per timecode unit
		elem(idMuxApp, []byte("avrecorder")),
		elem(idWrtApp, []byte("avrecorder")),
	)
	m.buf.Write(elem(idInfo, infoBody))

	videoBody := concat(
		elem(idPixelW, uintBytes(uint64(m.video.Width))),
		elem(idPixelH, uintBytes(uint64(m.video.Height))),
	)
	videoEntry := concat(
		elem(idTrackNum, uintBytes(videoTrackNum)),
		elem(idTrackUID, uintBytes(videoTrackNum)),
		elem(idTrackType, uintBytes(1)),
		elem(idCodecID, []byte(codecID(m.video.Codec))),
		elem(idVideo, videoBody),
	)
	tracksBody := elem(idTrackEntry, videoEntry)

	if m.audio != nil {
		freqBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(freqBytes, math.Float32bits(float32(m.audio.SampleRate)))
		audioBody := concat(
			elem(idSampFreq, freqBytes),
			elem(idChannels, uintBytes(uint64(m.audio.Channels))),
		)
		// Configure already rejected any codec audioCodecID can't map, so
		// the error here is unreachable.
		audioCodec, _ := audioCodecID(m.audio.Codec)
		audioEntry := concat(
			elem(idTrackNum, uintBytes(audioTrackNum)),
			elem(idTrackUID, uintBytes(audioTrackNum)),
			elem(idTrackType, uintBytes(2)),
			elem(idCodecID, []byte(audioCodec)),
			elem(idAudio, audioBody),
		)
		tracksBody = concat(tracksBody, elem(idTrackEntry, audioEntry))
	}
	m.buf.Write(elem(idTracks, tracksBody))
}

func simpleBlock(trackNum int, relMS int64, keyframe bool, data []byte) []byte {
	if relMS > 32767 {
		relMS = 32767
	} else if relMS < -32768 {
		relMS = -32768
	}
	trackVint := vint(uint64(trackNum))
	var flags byte
	if keyframe {
		flags = 0x80
	}
	content := make([]byte, len(trackVint)+2+1+len(data))
	copy(content, trackVint)
	binary.BigEndian.PutUint16(content[len(trackVint):], uint16(int16(relMS)))
	content[len(trackVint)+2] = flags
	copy(content[len(trackVint)+3:], data)
	return elem(idSimpleBlock, content)
}

func (m *Muxer) flushCluster() {
	if !m.clusterOpen || m.clusterBlocks.Len() == 0 {
		m.clusterOpen = false
		return
	}
	tcElem := elem(idTimecode, uintBytes(uint64(m.clusterStartMS)))
	clusterBody := concat(tcElem, m.clusterBlocks.Bytes())
	m.buf.Write(elem(idCluster, clusterBody))
	m.clusterOpen = false
	m.clusterBlocks.Reset()
}

func (m *Muxer) openClusterAt(startMS int64) {
	m.clusterStartMS = startMS
	m.clusterOpen = true
	m.clusterBlocks.Reset()
}

func (m *Muxer) AddVideoChunk(chunk types.EncodedChunk) error {
	m.writeHeaderIfNeeded()
	m.wroteAnyChunk = true

	tsMS := chunk.TimestampUS / 1000

	if chunk.IsKeyframe && m.clusterOpen {
		m.flushCluster()
	}
	if !m.clusterOpen {
		m.openClusterAt(tsMS)
	} else if tsMS-m.clusterStartMS > clusterSpanMS {
		m.flushCluster()
		m.openClusterAt(tsMS)
	}

	rel := tsMS - m.clusterStartMS
	m.clusterBlocks.Write(simpleBlock(videoTrackNum, rel, chunk.IsKeyframe, chunk.Bytes))
	return nil
}

func (m *Muxer) AddAudioChunk(chunk types.EncodedChunk) error {
	m.writeHeaderIfNeeded()
	m.wroteAnyChunk = true

	tsMS := chunk.TimestampUS / 1000
	if !m.clusterOpen {
		m.openClusterAt(tsMS)
	}

	rel := tsMS - m.clusterStartMS
	m.clusterBlocks.Write(simpleBlock(audioTrackNum, rel, true, chunk.Bytes))
	return nil
}

func (m *Muxer) Finalize() ([]byte, error) {
	if !m.wroteAnyChunk {
		return nil, fmt.Errorf("webm: no chunks written")
	}
	m.flushCluster()
	return m.buf.Bytes(), nil
}
