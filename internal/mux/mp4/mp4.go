// Package mp4 implements a minimal fragmented-MP4 box writer for the
// H.264/HEVC + AAC container pairing (spec.md §4.6). No pack repo ships an
// MP4 muxer library, so this hand-writes the box layer the way
// petervdpas-goop2's webm.go hand-writes EBML: each box is a big-endian
// length + four-character code + payload, built with encoding/binary over
// a bytes.Buffer, no reflection or codegen.
package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mantonx/avrecorder/types"
)

// box writes a length-prefixed MP4 box: uint32 size (including the 8-byte
// header) + 4-byte fourcc + payload.
func box(fourcc string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(payload)))
	copy(out[4:8], fourcc)
	copy(out[8:], payload)
	return out
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// Muxer implements types.Muxer for a fragmented MP4 container. It is
// deliberately conservative: one moof/mdat fragment pair per chunk, a
// minimal moov with no sample tables (the mvex/trex declaration makes the
// file a valid fragmented MP4 per ISO/IEC 14496-12 even though ftyp/moov
// alone contain no samples).
type Muxer struct {
	video types.EffectiveVideoConfig
	audio *types.EffectiveAudioConfig

	buf           bytes.Buffer
	wroteInit     bool
	sequenceNum   uint32
	wroteAnyChunk bool
}

func New() *Muxer { return &Muxer{} }

func (m *Muxer) Configure(container types.Container, video types.EffectiveVideoConfig, audio *types.EffectiveAudioConfig) error {
	m.video = video
	m.audio = audio
	return nil
}

func (m *Muxer) writeInitIfNeeded() {
	if m.wroteInit {
		return
	}
	m.wroteInit = true

	m.buf.Write(ftyp())
	m.buf.Write(m.moov())
}

func ftyp() []byte {
	payload := bytes.Join([][]byte{
		[]byte("isom"),  // major brand
		be32(512),       // minor version
		[]byte("isom"),  // compatible brands
		[]byte("iso6"),
		[]byte("mp41"),
	}, nil)
	return box("ftyp", payload)
}

func (m *Muxer) moov() []byte {
	mvhd := box("mvhd", bytes.Join([][]byte{
		make([]byte, 4),  // version/flags
		make([]byte, 4),  // creation time
		make([]byte, 4),  // modification time
		be32(1000),       // timescale (ms)
		be32(0),          // duration (unknown until finalize; fragmented)
		be32(0x00010000), // rate 1.0
		be16(0x0100),     // volume 1.0
		make([]byte, 10), // reserved
		identityMatrix(),
		make([]byte, 24), // pre-defined
		be32(2),          // next track ID
	}, nil))

	trackID := uint32(1)
	videoTrak := m.trak(trackID, "vide")
	boxes := [][]byte{mvhd, videoTrak}

	trexEntries := [][]byte{trex(trackID)}
	if m.audio != nil {
		audioTrackID := uint32(2)
		boxes = append(boxes, m.trak(audioTrackID, "soun"))
		trexEntries = append(trexEntries, trex(audioTrackID))
	}

	mvex := box("mvex", bytes.Join(trexEntries, nil))
	boxes = append(boxes, mvex)

	return box("moov", bytes.Join(boxes, nil))
}

func identityMatrix() []byte {
	m := make([]byte, 36)
	binary.BigEndian.PutUint32(m[0:4], 0x00010000)
	binary.BigEndian.PutUint32(m[16:20], 0x00010000)
	binary.BigEndian.PutUint32(m[32:36], 0x40000000)
	return m
}

func (m *Muxer) trak(trackID uint32, handlerType string) []byte {
	tkhd := box("tkhd", bytes.Join([][]byte{
		{0, 0, 0, 7}, // version/flags: track enabled, in movie, in preview
		make([]byte, 8),
		be32(trackID),
		make([]byte, 4),
		be32(0),
		make([]byte, 8),
		be16(0), be16(0),
		be16(0), be16(0),
		identityMatrix(),
		be32(0), be32(0), // width/height (fixed-point; omitted for a minimal fragment)
	}, nil))

	mdhd := box("mdhd", bytes.Join([][]byte{
		make([]byte, 4),
		make([]byte, 4),
		make([]byte, 4),
		be32(1000),
		be32(0),
		be16(0x55c4), be16(0), // language "und", pre-defined
	}, nil))

	hdlr := box("hdlr", bytes.Join([][]byte{
		make([]byte, 4),
		make([]byte, 4),
		[]byte(handlerType),
		make([]byte, 12),
		[]byte("avrecorder\x00"),
	}, nil))

	stbl := box("stbl", bytes.Join([][]byte{
		box("stsd", make([]byte, 8)),
		box("stts", make([]byte, 8)),
		box("stsc", make([]byte, 8)),
		box("stsz", make([]byte, 12)),
		box("stco", make([]byte, 8)),
	}, nil))

	minf := box("minf", stbl)
	mdia := box("mdia", bytes.Join([][]byte{mdhd, hdlr, minf}, nil))
	return box("trak", bytes.Join([][]byte{tkhd, mdia}, nil))
}

func trex(trackID uint32) []byte {
	return box("trex", bytes.Join([][]byte{
		make([]byte, 4),
		be32(trackID),
		be32(1), // default sample description index
		be32(0), // default sample duration
		be32(0), // default sample size
		be32(0), // default sample flags
	}, nil))
}

// AddVideoChunk and AddAudioChunk each append one moof/mdat fragment
// carrying the chunk's encoded bytes, matching fragmented MP4's "one
// movie fragment per sample-run" shape for a live/unknown-duration
// recording.
func (m *Muxer) AddVideoChunk(chunk types.EncodedChunk) error {
	return m.addFragment(1, chunk)
}

func (m *Muxer) AddAudioChunk(chunk types.EncodedChunk) error {
	return m.addFragment(2, chunk)
}

func (m *Muxer) addFragment(trackID uint32, chunk types.EncodedChunk) error {
	m.writeInitIfNeeded()
	m.wroteAnyChunk = true
	m.sequenceNum++

	mfhd := box("mfhd", bytes.Join([][]byte{make([]byte, 4), be32(m.sequenceNum)}, nil))

	var sampleFlags uint32 = 0x00010000 // sample_depends_on=1 (not I-frame) by default
	if chunk.IsKeyframe {
		sampleFlags = 0x02000000 // sample_depends_on=2 (I-frame), no dependents
	}

	trunFlags := []byte{0, 0, 7, 1} // data-offset + sample-duration + sample-size + sample-flags present
	trun := box("trun", bytes.Join([][]byte{
		trunFlags,
		be32(1), // sample count
		be32(0), // data offset, patched below
		be32(uint32(chunk.DurationUS / 1000)),
		be32(uint32(len(chunk.Bytes))),
		be32(sampleFlags),
	}, nil))

	tfhd := box("tfhd", bytes.Join([][]byte{{0, 0x02, 0, 0}, be32(trackID)}, nil)) // default-base-is-moof
	tfdt := box("tfdt", bytes.Join([][]byte{make([]byte, 4), be32(uint32(chunk.TimestampUS / 1000))}, nil))

	traf := box("traf", bytes.Join([][]byte{tfhd, tfdt, trun}, nil))
	moof := box("moof", bytes.Join([][]byte{mfhd, traf}, nil))

	dataOffset := uint32(len(moof) + 8)
	patchTrunDataOffset(moof, dataOffset)

	mdat := box("mdat", chunk.Bytes)

	m.buf.Write(moof)
	m.buf.Write(mdat)
	return nil
}

// patchTrunDataOffset rewrites trun's data_offset field in place once the
// moof's total size (and therefore the mdat payload's offset) is known.
func patchTrunDataOffset(moof []byte, dataOffset uint32) {
	idx := bytes.Index(moof, []byte("trun"))
	if idx < 0 {
		return
	}
	// trun payload: 4 bytes flags, 4 bytes sample count, 4 bytes data offset.
	offsetPos := idx + 4 + 4 + 4
	if offsetPos+4 > len(moof) {
		return
	}
	binary.BigEndian.PutUint32(moof[offsetPos:offsetPos+4], dataOffset)
}

func (m *Muxer) Finalize() ([]byte, error) {
	if !m.wroteAnyChunk {
		return nil, fmt.Errorf("mp4: no chunks written")
	}
	return m.buf.Bytes(), nil
}
