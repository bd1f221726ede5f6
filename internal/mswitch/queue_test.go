package mswitch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue(4)

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Put(Packet{PTS: int64(i), HasPTS: true}))
	}

	for i := 0; i < 4; i++ {
		pkt, err := q.Get()
		require.NoError(t, err)
		assert.Equal(t, int64(i), pkt.PTS)
	}
}

func TestQueue_BoundedCapacity(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Put(Packet{PTS: 1}))
	require.NoError(t, q.Put(Packet{PTS: 2}))

	putDone := make(chan struct{})
	go func() {
		_ = q.Put(Packet{PTS: 3})
		close(putDone)
	}()

	select {
	case <-putDone:
		t.Fatal("Put on a full queue should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, 2, q.Len())
	_, err := q.Get()
	require.NoError(t, err)

	select {
	case <-putDone:
	case <-time.After(time.Second):
		t.Fatal("Put should have unblocked after a Get freed capacity")
	}
}

func TestQueue_GetBlocksUntilPut(t *testing.T) {
	q := NewQueue(4)

	var got Packet
	var getErr error
	done := make(chan struct{})
	go func() {
		got, getErr = q.Get()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Get on an empty queue should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Put(Packet{PTS: 42, HasPTS: true}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get should have unblocked after a Put")
	}
	require.NoError(t, getErr)
	assert.Equal(t, int64(42), got.PTS)
}

func TestQueue_TryGetWouldBlock(t *testing.T) {
	q := NewQueue(4)
	_, err := q.TryGet()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestQueue_EOFUnblocksGet(t *testing.T) {
	q := NewQueue(4)

	var getErr error
	done := make(chan struct{})
	go func() {
		_, getErr = q.Get()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.SetEOF()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetEOF should unblock a pending Get")
	}
	assert.ErrorIs(t, getErr, ErrEndOfStream)
}

func TestQueue_PutAfterEOFReturnsClosed(t *testing.T) {
	q := NewQueue(4)
	q.SetEOF()
	err := q.Put(Packet{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_TryGetAfterEOFDrainsThenEndOfStream(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Put(Packet{PTS: 1}))
	q.SetEOF()

	pkt, err := q.TryGet()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pkt.PTS)

	_, err = q.TryGet()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestQueue_NeverExceedsCapacity(t *testing.T) {
	const capacity = 8
	q := NewQueue(capacity)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = q.Put(Packet{PTS: int64(i)})
		}
		q.SetEOF()
	}()

	maxSeen := 0
	for {
		n := q.Len()
		if n > maxSeen {
			maxSeen = n
		}
		if _, err := q.TryGet(); err == ErrEndOfStream {
			break
		}
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, capacity)
}
