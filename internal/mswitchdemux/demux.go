// Package mswitchdemux provides the concrete external container/transport
// reader the switcher delegates actual packet demuxing to: it opens a
// source URL, demuxes MPEG-TS, and yields mswitch.Packet values with
// timestamps and a keyframe flag.
package mswitchdemux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/mswitch/internal/mswitch"
)

const (
	// StreamVideo and StreamAudio identify the elementary stream a Packet
	// was demuxed from.
	StreamVideo = 0
	StreamAudio = 1
)

// Config tunes how a source URL is opened and demuxed.
type Config struct {
	Logger      *slog.Logger
	DialTimeout time.Duration
	// PacketBacklog bounds how many demuxed samples may queue between the
	// mpegts.Reader callback goroutine and ReadPacket before that
	// goroutine blocks; it has no relation to the switcher's own Queue
	// capacity.
	PacketBacklog int
}

// Demuxer implements mswitch.Demuxer over an MPEG-TS transport stream.
type Demuxer struct {
	cfg    Config
	log    *slog.Logger
	source io.ReadCloser

	reader     *mpegts.Reader
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	samples chan mswitch.Packet

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// Open dials url (file://, http(s)://, or a bare filesystem path) and
// starts demuxing it as MPEG-TS in the background. The original demuxer
// disables strict DTS-ordering checks per source; this demuxer mirrors
// that by never validating monotonicity itself, leaving that entirely to
// the timestamp normaliser downstream.
func Open(ctx context.Context, url string, cfg Config) (*Demuxer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PacketBacklog <= 0 {
		cfg.PacketBacklog = 256
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancelDial context.CancelFunc
		dialCtx, cancelDial = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancelDial()
	}

	source, err := openTransport(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("opening source transport: %w", err)
	}

	demuxCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	d := &Demuxer{
		cfg:        cfg,
		log:        cfg.Logger.With(slog.String("url", url)),
		source:     source,
		pipeReader: pr,
		pipeWriter: pw,
		samples:    make(chan mswitch.Packet, cfg.PacketBacklog),
		ctx:        demuxCtx,
		cancel:     cancel,
	}

	go d.pump()
	go d.runReader()

	return d, nil
}

// pump copies transport bytes into the mpegts reader's pipe until the
// source is exhausted or the demuxer is closed.
func (d *Demuxer) pump() {
	defer d.pipeWriter.Close()
	_, err := io.Copy(d.pipeWriter, d.source)
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		d.log.Debug("transport read ended", slog.String("error", err.Error()))
	}
}

// runReader drives the mpegts.Reader and fans demuxed samples out to the
// samples channel.
func (d *Demuxer) runReader() {
	defer close(d.samples)
	defer d.pipeReader.Close()

	d.reader = &mpegts.Reader{R: d.pipeReader}
	if err := d.reader.Initialize(); err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
			d.log.Info("mpegts initialization failed", slog.String("error", err.Error()))
		}
		return
	}

	for _, track := range d.reader.Tracks() {
		d.setupTrackCallback(track)
	}

	d.reader.OnDecodeError(func(err error) {
		// MPEG-TS-specific signals (PID loss, continuity-counter errors)
		// are logged only; they are not wired into source liveness.
		d.log.Debug("mpegts decode error", slog.String("error", err.Error()))
	})

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}
		if err := d.reader.Read(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				d.log.Debug("mpegts read ended", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (d *Demuxer) setupTrackCallback(track *mpegts.Track) {
	switch track.Codec.(type) {
	case *mpegts.CodecH264:
		d.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			return d.emitH264(pts, dts, au)
		})
	case *mpegts.CodecH265:
		d.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			return d.emitH265(pts, dts, au)
		})
	case *mpegts.CodecMPEG4Audio:
		d.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return d.emitAudio(pts, aus)
		})
	case *mpegts.CodecAC3:
		d.reader.OnDataAC3(track, func(pts int64, frame []byte) error {
			return d.emitAudio(pts, [][]byte{frame})
		})
	default:
		d.log.Debug("unsupported track", slog.Uint64("pid", uint64(track.PID)))
	}
}

func (d *Demuxer) emitH264(pts, dts int64, au [][]byte) error {
	if len(au) == 0 {
		return nil
	}
	isKeyframe := h264.IsRandomAccess(au)
	annexB, err := h264.AnnexB(au).Marshal()
	if err != nil || len(annexB) == 0 {
		return nil
	}
	return d.send(mswitch.Packet{
		Payload: annexB, PTS: pts, DTS: dts, HasPTS: true, HasDTS: true,
		StreamIndex: StreamVideo, Keyframe: isKeyframe,
	})
}

func (d *Demuxer) emitH265(pts, dts int64, au [][]byte) error {
	if len(au) == 0 {
		return nil
	}
	isKeyframe := h265.IsRandomAccess(au)
	annexB, err := h264.AnnexB(au).Marshal()
	if err != nil || len(annexB) == 0 {
		return nil
	}
	return d.send(mswitch.Packet{
		Payload: annexB, PTS: pts, DTS: dts, HasPTS: true, HasDTS: true,
		StreamIndex: StreamVideo, Keyframe: isKeyframe,
	})
}

func (d *Demuxer) emitAudio(pts int64, aus [][]byte) error {
	for _, au := range aus {
		if len(au) == 0 {
			continue
		}
		if err := d.send(mswitch.Packet{
			Payload: au, PTS: pts, HasPTS: true, StreamIndex: StreamAudio,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Demuxer) send(pkt mswitch.Packet) error {
	select {
	case d.samples <- pkt:
		return nil
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

// ReadPacket returns the next demuxed sample, blocking until one is
// available, the source reaches end of stream (io.EOF), or ctx is
// cancelled.
func (d *Demuxer) ReadPacket(ctx context.Context) (mswitch.Packet, error) {
	select {
	case pkt, ok := <-d.samples:
		if !ok {
			return mswitch.Packet{}, io.EOF
		}
		return pkt, nil
	case <-ctx.Done():
		return mswitch.Packet{}, ctx.Err()
	case <-d.ctx.Done():
		return mswitch.Packet{}, io.EOF
	}
}

// Close stops demuxing and closes the underlying transport.
func (d *Demuxer) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		err = d.source.Close()
		d.pipeWriter.Close()
	})
	return err
}
