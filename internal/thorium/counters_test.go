package thorium

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounterSetSnapshot(t *testing.T) {
	t.Parallel()

	var c counterSet
	c.spawns.Add(2)
	c.deaths.Add(1)
	c.messagesSent.Add(10)
	c.messagesReceived.Add(9)
	c.messagesDropped.Add(1)
	c.multiplexFlushes.Add(3)
	c.poolAllocations.Add(5)

	snap := c.Snapshot()
	require.Equal(t, Counters{
		Spawns:           2,
		Deaths:           1,
		MessagesSent:     10,
		MessagesReceived: 9,
		MessagesDropped:  1,
		MultiplexFlushes: 3,
		PoolAllocations:  5,
	}, snap)
}

// TestNodePoolAllocationsCounterIsLive verifies that a live Node's
// PoolAllocations counter actually advances as its pools allocate, not
// just that Snapshot() reports whatever counterSet holds (the previous
// test only exercises the struct copy).
func TestNodePoolAllocationsCounterIsLive(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, 1)
	// Spawning alone allocates nothing from a pool; the actor's send of a
	// non-empty payload from a live dispatch draws on its worker's
	// outbound pool.
	require.NoError(t, node.RegisterScript(1, newRecordingScriptFactory(nil, func(ctx *Context, msg Message) {
		if msg.Tag == ActionStart {
			_ = ctx.Send(ctx.Self(), 1, []byte("x"))
		}
	})))

	before := node.Counters().PoolAllocations
	_, err := node.Spawn(1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return node.Counters().PoolAllocations > before
	}, 2*time.Second, 10*time.Millisecond)
}

// TestMultiplexFlushesCounterIsLive verifies a Multiplexer wired with a
// flush counter increments it once per batch actually sent.
func TestMultiplexFlushesCounterIsLive(t *testing.T) {
	t.Parallel()

	var counter atomic.Uint64
	mux := NewMultiplexer(func(node int32, envelope []byte) error {
		return nil
	}, &counter)

	msg := Message{Tag: 5, Source: 1, Dest: 2, Payload: []byte("hi")}
	require.NoError(t, mux.Multiplex(3, &msg))
	require.NoError(t, mux.Flush(3))

	require.EqualValues(t, 1, counter.Load())
}
