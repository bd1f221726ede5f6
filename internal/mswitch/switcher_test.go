package mswitch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type chanDemuxer struct {
	ch chan Packet
}

func newChanDemuxer() *chanDemuxer {
	return &chanDemuxer{ch: make(chan Packet, 8)}
}

func (d *chanDemuxer) ReadPacket(ctx context.Context) (Packet, error) {
	select {
	case pkt, ok := <-d.ch:
		if !ok {
			return Packet{}, io.EOF
		}
		return pkt, nil
	case <-ctx.Done():
		return Packet{}, io.EOF
	}
}

func (d *chanDemuxer) Close() error { return nil }

func openTestSwitcher(t *testing.T, n int, cfg Config) (*Switcher, []*chanDemuxer, context.CancelFunc) {
	t.Helper()
	demuxers := make([]*chanDemuxer, n)
	urls := make([]string, n)
	for i := range demuxers {
		demuxers[i] = newChanDemuxer()
		urls[i] = "source"
	}

	ctx, cancel := context.WithCancel(context.Background())
	dial := func(_ context.Context, _ string) (Demuxer, error) {
		// Dialer is called once per URL in order, so pop in sequence.
		d := demuxers[0]
		demuxers = demuxers[1:]
		return d, nil
	}

	// Reset demuxers slice usage: dial mutates a local copy, so rebuild the
	// returned slice separately for the test to keep sending on.
	original := make([]*chanDemuxer, n)
	copy(original, demuxers)

	sw, err := Open(ctx, urls, dial, cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return sw, original, cancel
}

func TestSwitcher_ManualSwitchTakesEffectOnNextPacket(t *testing.T) {
	sw, demuxers, cancel := openTestSwitcher(t, 2, Config{
		QueueCapacity: 8, SwitchTimeout: 3 * time.Second, ManualSwitchGrace: 3 * time.Second,
	})
	defer cancel()
	defer sw.Close()

	demuxers[0].ch <- Packet{Keyframe: true, DTS: 1000, HasDTS: true}
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	pkt, err := sw.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1000), pkt.DTS)
	require.Equal(t, 0, sw.ActiveSource())

	require.NoError(t, sw.RequestSwitch(1))
	demuxers[1].ch <- Packet{Keyframe: true, DTS: 50, HasDTS: true}

	pkt2, err := sw.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sw.ActiveSource())
	// A manual switch never hard-resets the Normaliser: it reanchors via the
	// drift-threshold recompute, so output DTS keeps climbing rather than
	// jumping back to the new source's raw (and here, lower) DTS.
	require.GreaterOrEqual(t, pkt2.DTS, pkt.DTS)
}

func TestSwitcher_StatusReportsActiveAndCount(t *testing.T) {
	sw, _, cancel := openTestSwitcher(t, 3, Config{QueueCapacity: 8, SwitchTimeout: 3 * time.Second})
	defer cancel()
	defer sw.Close()

	status := sw.Status()
	require.Equal(t, 0, status.ActiveSource)
	require.Equal(t, 3, status.NumSources)
	require.Len(t, status.Sources, 3)
	require.True(t, status.Sources[2].Healthy) // black filler always healthy
}

func TestSwitcher_BadSwitchTargetLeavesStateUnchanged(t *testing.T) {
	sw, _, cancel := openTestSwitcher(t, 3, Config{QueueCapacity: 8, SwitchTimeout: 3 * time.Second})
	defer cancel()
	defer sw.Close()

	err := sw.RequestSwitch(99)
	require.ErrorIs(t, err, ErrBadSwitchTarget)
	require.Equal(t, 0, sw.ActiveSource())
}
