package mswitch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSources(n int) []*Source {
	sources := make([]*Source, n)
	for i := 0; i < n; i++ {
		sources[i] = NewSource(i, "test://source", discardDemuxer{}, 16, slog.New(slog.DiscardHandler))
	}
	return sources
}

type discardDemuxer struct{}

func (discardDemuxer) ReadPacket(_ context.Context) (Packet, error) { return Packet{}, io.EOF }
func (discardDemuxer) Close() error                                 { return nil }

func newTestArbiter(sources []*Source, cfg ArbiterConfig) (*Arbiter, *state) {
	st := newState(len(sources), len(sources)-1, time.Now())
	return NewArbiter(sources, st, cfg, slog.New(slog.DiscardHandler)), st
}

func TestArbiter_CaseA_NoPendingServesActive(t *testing.T) {
	sources := testSources(2)
	require.NoError(t, sources[0].Queue().Put(Packet{PTS: 1}))
	arb, _ := newTestArbiter(sources, ArbiterConfig{SwitchTimeout: 3 * time.Second})

	pkt, idx, finalized, err := arb.Next(time.Now)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.Equal(t, int64(1), pkt.PTS)
	require.False(t, finalized)
}

func TestArbiter_FinalizesOnKeyframe(t *testing.T) {
	sources := testSources(2)
	st := newState(2, 1, time.Now())
	arb := NewArbiter(sources, st, ArbiterConfig{SwitchTimeout: 3 * time.Second}, slog.New(slog.DiscardHandler))

	st.installPending(1, time.Now(), true)
	require.NoError(t, sources[1].Queue().Put(Packet{Keyframe: true, PTS: 99}))

	pkt, idx, finalized, err := arb.Next(time.Now)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	require.Equal(t, int64(99), pkt.PTS)
	require.True(t, finalized)
	require.Equal(t, 1, st.activeIndex())
	require.Equal(t, noPendingSwitch, st.snapshot().pending)
}

func TestArbiter_DiscardsNonKeyframeAndServesActive(t *testing.T) {
	sources := testSources(2)
	st := newState(2, 1, time.Now())
	arb := NewArbiter(sources, st, ArbiterConfig{SwitchTimeout: 3 * time.Second}, slog.New(slog.DiscardHandler))

	st.installPending(1, time.Now(), true)
	require.NoError(t, sources[1].Queue().Put(Packet{Keyframe: false, PTS: 5}))
	require.NoError(t, sources[0].Queue().Put(Packet{PTS: 1}))

	pkt, idx, finalized, err := arb.Next(time.Now)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.Equal(t, int64(1), pkt.PTS)
	require.False(t, finalized)
	// Switch must still be pending: the non-keyframe was discarded, not emitted.
	require.Equal(t, 1, st.snapshot().pending)
}

func TestArbiter_TimeoutFallbackFinalizesNonKeyframe(t *testing.T) {
	sources := testSources(2)
	st := newState(2, 1, time.Now())
	arb := NewArbiter(sources, st, ArbiterConfig{SwitchTimeout: 3 * time.Second}, slog.New(slog.DiscardHandler))

	past := time.Now().Add(-4 * time.Second)
	st.installPending(1, past, true)
	require.NoError(t, sources[1].Queue().Put(Packet{Keyframe: false, PTS: 7}))

	pkt, idx, finalized, err := arb.Next(time.Now)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	require.Equal(t, int64(7), pkt.PTS)
	require.True(t, finalized)
	require.Equal(t, 1, st.activeIndex())
}

func TestArbiter_ForcedSwitchNeverEmitsNonKeyframe(t *testing.T) {
	sources := testSources(2)
	st := newState(2, 1, time.Now())
	arb := NewArbiter(sources, st, ArbiterConfig{SwitchTimeout: 3 * time.Second}, slog.New(slog.DiscardHandler))

	st.installPending(1, time.Now(), true)
	// Both queues are empty when Next looks (would-block), so the switch is
	// forced; the pending source then delivers only a non-keyframe.
	putErr := make(chan error, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		putErr <- sources[1].Queue().Put(Packet{Keyframe: false, PTS: 3})
	}()

	_, _, _, err := arb.Next(time.Now)
	require.NoError(t, <-putErr)
	require.ErrorIs(t, err, ErrTryAgain)
	// Pending must remain set: the non-keyframe was not emitted.
	require.Equal(t, 1, st.snapshot().pending)
}

func TestArbiter_ForcedSwitchEmitsKeyframeWhenAvailable(t *testing.T) {
	sources := testSources(2)
	st := newState(2, 1, time.Now())
	arb := NewArbiter(sources, st, ArbiterConfig{SwitchTimeout: 3 * time.Second}, slog.New(slog.DiscardHandler))

	st.installPending(1, time.Now(), true)
	// Both queues are empty when Next looks (would-block), so the switch is
	// forced; the pending source then delivers a keyframe.
	putErr := make(chan error, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		putErr <- sources[1].Queue().Put(Packet{Keyframe: true, PTS: 11})
	}()

	pkt, idx, finalized, err := arb.Next(time.Now)
	require.NoError(t, <-putErr)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	require.Equal(t, int64(11), pkt.PTS)
	require.True(t, finalized)
	require.Equal(t, 1, st.activeIndex())
}

func TestTwoStageFailoverTarget_RealSourceRoutesToBlack(t *testing.T) {
	st := newState(3, 2, time.Now())
	target, ok := twoStageFailoverTarget(st, 0, 2)
	require.True(t, ok)
	require.Equal(t, 2, target)
}

func TestTwoStageFailoverTarget_FromBlackPicksLowestHealthy(t *testing.T) {
	st := newState(3, 2, time.Now())
	st.setHealthy(0, false)
	st.setHealthy(1, true)
	target, ok := twoStageFailoverTarget(st, 2, 2)
	require.True(t, ok)
	require.Equal(t, 1, target)
}

func TestTwoStageFailoverTarget_FromBlackNoneHealthyStaysPut(t *testing.T) {
	st := newState(3, 2, time.Now())
	st.setHealthy(0, false)
	st.setHealthy(1, false)
	_, ok := twoStageFailoverTarget(st, 2, 2)
	require.False(t, ok)
}
