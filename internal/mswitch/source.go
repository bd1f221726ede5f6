package mswitch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Demuxer is the external container/transport reader collaborator: it
// yields typed media packets with timestamps and a keyframe flag for one
// source URL. Reading is delegated entirely to this interface; the
// switcher only decides which source's packets to emit.
//
// ReadPacket returns ErrNoData for a transient stall (no data ready yet)
// and io.EOF once the source has terminated cleanly. Any other error is
// fatal for this source.
type Demuxer interface {
	ReadPacket(ctx context.Context) (Packet, error)
	Close() error
}

// Source is one entry in the switcher's source list: an index, its URL, an
// opened Demuxer, its Queue, and the liveness fields the Health Monitor
// inspects.
type Source struct {
	Index int
	URL   string

	demux Demuxer
	queue *Queue

	// lastPacketTimeMs and packetsRead are single-writer (the reader
	// goroutine) and read by the Health Monitor; int64/uint64 atomics give
	// word-size publication without a lock, which is all the monitor's
	// sweep-interval staleness tolerance requires.
	lastPacketTimeMs     atomic.Int64
	lastConsumptionMs    atomic.Int64
	packetsRead          atomic.Uint64

	log *slog.Logger
	id  string
}

// NewSource wires a Source around an already-opened Demuxer.
func NewSource(index int, url string, demux Demuxer, queueCapacity int, logger *slog.Logger) *Source {
	s := &Source{
		Index: index,
		URL:   url,
		demux: demux,
		queue: NewQueue(queueCapacity),
		id:    uuid.New().String(),
	}
	s.log = logger.With(slog.Int("source_index", index), slog.String("reader_id", s.id))
	return s
}

// Queue returns the source's packet queue.
func (s *Source) Queue() *Queue {
	return s.queue
}

// LastPacketTime returns the wall-clock time of the last successfully
// demuxed packet, or the zero time if none has arrived yet.
func (s *Source) LastPacketTime() time.Time {
	ms := s.lastPacketTimeMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// LastConsumptionTime returns the wall-clock time a packet from this
// source was last dequeued by the Switch Arbiter, or the zero time if the
// source has never been the one read from.
func (s *Source) LastConsumptionTime() time.Time {
	ms := s.lastConsumptionMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// MarkConsumed records that a packet from this source was just emitted
// downstream. Called by the Timestamp Normaliser, never by the reader.
func (s *Source) MarkConsumed(now time.Time) {
	s.lastConsumptionMs.Store(now.UnixMilli())
}

// PacketsRead returns the monotonic count of packets successfully pulled
// from the demuxer.
func (s *Source) PacketsRead() uint64 {
	return s.packetsRead.Load()
}

// noDataBackoff is how long the reader sleeps after a transient stall
// before asking the demuxer again.
const noDataBackoff = 10 * time.Millisecond

// Run is the Source Reader loop: it MUST run in its own goroutine for the
// lifetime of the source. It never clears is_healthy (the monitor's job)
// and never touches timestamp offsets (the normaliser's job).
func (s *Source) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.queue.SetEOF()
			return
		default:
		}

		pkt, err := s.demux.ReadPacket(ctx)
		switch {
		case err == nil:
			s.lastPacketTimeMs.Store(time.Now().UnixMilli())
			s.packetsRead.Add(1)
			if putErr := s.queue.Put(pkt); putErr != nil {
				s.log.Debug("queue closed, reader exiting")
				return
			}

		case errors.Is(err, ErrNoData):
			select {
			case <-ctx.Done():
				s.queue.SetEOF()
				return
			case <-time.After(noDataBackoff):
			}

		case errors.Is(err, io.EOF):
			s.log.Info("source reached end of stream")
			s.queue.SetEOF()
			return

		default:
			s.log.Warn("fatal demuxer error, closing source", slog.String("error", err.Error()))
			s.queue.SetEOF()
			return
		}
	}
}
