package ffmpegenc

import (
	"bytes"
	"testing"

	"github.com/mantonx/avrecorder/types"
	"github.com/stretchr/testify/require"
)

func writeADTSFrame(buf *bytes.Buffer, payload []byte) {
	frameLen := 7 + len(payload)
	header := []byte{
		0xFF, 0xF1, // syncword + MPEG-4, no CRC
		0x50, // profile/sample rate/channel bits, unused by the parser
		byte((frameLen >> 11) & 0x03),
		byte((frameLen >> 3) & 0xFF),
		byte((frameLen & 0x07) << 5),
		0xFC,
	}
	buf.Write(header)
	buf.Write(payload)
}

func TestParseADTSEmitsOneChunkPerFrame(t *testing.T) {
	var buf bytes.Buffer
	writeADTSFrame(&buf, []byte{1, 2, 3, 4})
	writeADTSFrame(&buf, []byte{5, 6})

	var got []types.EncodedChunk
	proc := &process{doneCh: make(chan struct{})}
	proc.setOutput(func(out types.EncoderOutput) { got = append(got, out.Chunk) })
	proc.pending = []frameMeta{{timestampUS: 0, durationUS: 21333}, {timestampUS: 21333, durationUS: 21333}}

	parseADTS(&buf, proc)

	require.Len(t, got, 2)
	require.Equal(t, types.TrackAudio, got[0].Kind)
	require.Len(t, got[0].Bytes, 7+4)
	require.Len(t, got[1].Bytes, 7+2)
	require.Equal(t, int64(0), got[0].TimestampUS)
	require.Equal(t, int64(21333), got[1].TimestampUS)
	require.Equal(t, int64(21333), got[0].DurationUS)
}

func writeOggPage(buf *bytes.Buffer, segments []byte) {
	header := make([]byte, 27)
	copy(header[0:4], "OggS")
	header[26] = byte(len(segments))
	buf.Write(header)
	buf.Write(segments)

	total := 0
	for _, s := range segments {
		total += int(s)
	}
	buf.Write(make([]byte, total))
}

func TestParseOggEmitsOneChunkPerPage(t *testing.T) {
	var buf bytes.Buffer
	writeOggPage(&buf, []byte{10})
	writeOggPage(&buf, []byte{20, 5})

	var got []types.EncodedChunk
	proc := &process{doneCh: make(chan struct{})}
	proc.setOutput(func(out types.EncoderOutput) { got = append(got, out.Chunk) })
	proc.pending = []frameMeta{{timestampUS: 0, durationUS: 20000}, {timestampUS: 20000, durationUS: 20000}}

	parseOgg(&buf, proc)

	require.Len(t, got, 2)
	require.Equal(t, 27+1+10, len(got[0].Bytes))
	require.Equal(t, 27+2+25, len(got[1].Bytes))
	require.Equal(t, int64(0), got[0].TimestampUS)
	require.Equal(t, int64(20000), got[1].TimestampUS)
}
