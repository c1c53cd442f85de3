package thorium

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMultiplexerBatchCoalescing implements spec.md §8 scenario 3: 100
// messages of 8 bytes each, all bound for the same destination node, with
// a flush-threshold of 1024, are coalesced into a small number of
// transport sends and all are delivered exactly once in send order.
func TestMultiplexerBatchCoalescing(t *testing.T) {
	t.Parallel()

	var envelopes [][]byte
	mux := NewMultiplexer(func(node int32, envelope []byte) error {
		cp := make([]byte, len(envelope))
		copy(cp, envelope)
		envelopes = append(envelopes, cp)
		return nil
	}, nil)

	const destNode = int32(1)
	const count = 100
	for i := 0; i < count; i++ {
		msg := Message{
			Tag: Tag(1000), Source: Name(7), Dest: Name(500 + i%3),
			Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		}
		require.NoError(t, mux.Multiplex(destNode, &msg))
	}
	require.NoError(t, mux.Flush(destNode))

	// Per spec §8 scenario 3: 1024/(8+16) ~= 42 messages per batch, so
	// at least 2 sends for 100 messages, and no more than 3.
	require.GreaterOrEqual(t, len(envelopes), 2)
	require.LessOrEqual(t, len(envelopes), 3)

	var delivered []Message
	for _, env := range envelopes {
		tag := Tag(nativeOrder.Uint32(env[0:4]))
		require.Equal(t, MultiplexMessage, tag)
		frameCount := nativeOrder.Uint32(env[4:8])

		err := Demultiplex(env[8:], frameCount, func(m Message) {
			delivered = append(delivered, m)
		})
		require.NoError(t, err)
	}

	require.Len(t, delivered, count)
	for i, m := range delivered {
		require.Equal(t, Name(500+i%3), m.Dest, "message %d out of order", i)
		require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, m.Payload)
	}
}

// TestMultiplexerBypassLargeMessage verifies spec.md §4.5 step 1: a
// message at or above the bypass threshold is handed directly to the
// transport instead of being batched.
func TestMultiplexerBypassLargeMessage(t *testing.T) {
	t.Parallel()

	var sent int
	mux := NewMultiplexer(func(node int32, envelope []byte) error {
		sent++
		tag := Tag(nativeOrder.Uint32(envelope[0:4]))
		require.NotEqual(t, MultiplexMessage, tag)
		return nil
	}, nil)

	big := Message{Tag: 5, Source: 1, Dest: 2, Payload: make([]byte, bypassThreshold)}
	require.NoError(t, mux.Multiplex(3, &big))
	require.Equal(t, 1, sent)
}

// TestMultiplexerBypassSystemTag verifies spec.md §4.5's policy classes:
// system tags bypass batching even when small.
func TestMultiplexerBypassSystemTag(t *testing.T) {
	t.Parallel()

	var sent int
	mux := NewMultiplexer(func(node int32, envelope []byte) error {
		sent++
		return nil
	}, nil)

	msg := Message{Tag: ActionStop, Source: 1, Dest: 2}
	require.NoError(t, mux.Multiplex(3, &msg))
	require.Equal(t, 1, sent)
}

func TestMultiplexerFlushEmptyIsNoOp(t *testing.T) {
	t.Parallel()

	var sent int
	mux := NewMultiplexer(func(node int32, envelope []byte) error {
		sent++
		return nil
	}, nil)
	require.NoError(t, mux.Flush(42))
	require.Equal(t, 0, sent)
}
