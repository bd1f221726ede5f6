package mswitchdemux

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/mswitch/internal/mswitch"
)

const (
	tsVideoPID = 0x0100
	tsAudioPID = 0x0101
)

// writeFixture muxes one H.264 keyframe, one H.264 delta frame, and one AAC
// frame into a synthetic MPEG-TS stream, mirroring the teacher's TSMuxer.
func writeFixture(t *testing.T) string {
	t.Helper()

	videoTrack := &mpegts.Track{PID: tsVideoPID, Codec: &mpegts.CodecH264{}}
	audioTrack := &mpegts.Track{
		PID: tsAudioPID,
		Codec: &mpegts.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   48000,
			ChannelCount: 2,
		}},
	}

	var buf bytes.Buffer
	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{videoTrack, audioTrack}}
	require.NoError(t, w.Initialize())
	_, err := w.WriteTables()
	require.NoError(t, err)

	sps := []byte{0x67, 0x42, 0x00, 0x1e}
	pps := []byte{0x68, 0xce, 0x38, 0x80}
	idr := []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
	pSlice := []byte{0x41, 0x9a, 0x24, 0x6c}
	aacFrame := []byte{0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c}

	require.NoError(t, w.WriteH264(videoTrack, 0, 0, [][]byte{sps, pps, idr}))
	require.NoError(t, w.WriteH264(videoTrack, 3000, 3000, [][]byte{pSlice}))
	require.NoError(t, w.WriteMPEG4Audio(audioTrack, 0, [][]byte{aacFrame}))

	f, err := os.CreateTemp(t.TempDir(), "fixture-*.ts")
	require.NoError(t, err)
	_, err = f.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func readAll(t *testing.T, d *Demuxer, n int) []mswitch.Packet {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pkts := make([]mswitch.Packet, 0, n)
	for len(pkts) < n {
		pkt, err := d.ReadPacket(ctx)
		require.NoError(t, err)
		pkts = append(pkts, pkt)
	}
	return pkts
}

func TestDemuxer_H264KeyframeAndDeltaClassification(t *testing.T) {
	path := writeFixture(t)

	d, err := Open(context.Background(), path, Config{Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	defer d.Close()

	pkts := readAll(t, d, 2)

	require.Equal(t, StreamVideo, pkts[0].StreamIndex)
	require.True(t, pkts[0].Keyframe)
	require.True(t, pkts[0].HasDTS)
	require.True(t, bytes.HasPrefix(pkts[0].Payload, []byte{0x00, 0x00, 0x00, 0x01}))

	require.Equal(t, StreamVideo, pkts[1].StreamIndex)
	require.False(t, pkts[1].Keyframe)
	require.Equal(t, int64(3000), pkts[1].DTS)
}

func TestDemuxer_AudioStreamIndex(t *testing.T) {
	path := writeFixture(t)

	d, err := Open(context.Background(), path, Config{Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	defer d.Close()

	var audioPkt *mswitch.Packet
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		pkt, err := d.ReadPacket(ctx)
		require.NoError(t, err)
		if pkt.StreamIndex == StreamAudio {
			audioPkt = &pkt
			break
		}
	}

	require.NotNil(t, audioPkt)
	require.True(t, audioPkt.HasPTS)
	require.False(t, audioPkt.HasDTS)
}

func TestDemuxer_ReadPacketReturnsEOFAfterSource(t *testing.T) {
	path := writeFixture(t)

	d, err := Open(context.Background(), path, Config{Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	defer d.Close()

	_ = readAll(t, d, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = d.ReadPacket(ctx)
	require.Error(t, err)
}

func TestOpenTransport_UnsupportedSchemeErrors(t *testing.T) {
	_, err := openTransport(context.Background(), "ftp://example.com/stream.ts")
	require.Error(t, err)
}
