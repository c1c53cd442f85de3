package partitioner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/thorium/internal/thorium"
)

// probeScript drives the handshake and records the reply, standing in for
// the caller described in spec.md §8 scenario 6.
type probeScript struct {
	target thorium.Name
	replyC chan []int
}

func (p *probeScript) Init(ctx *thorium.Context) error { return nil }
func (p *probeScript) Destroy(ctx *thorium.Context)     {}

func (p *probeScript) Receive(ctx *thorium.Context, msg thorium.Message) {
	if msg.Tag == TagProvideStoreEntryCounts {
		p.replyC <- DecodeUint32Vector(msg.Payload)
	}
}

func TestPartitionerHandshake(t *testing.T) {
	net := thorium.NewLoopbackNetwork()
	transport := net.NewTransport(0)

	cfg := thorium.DefaultConfig().Apply(thorium.WithWorkerCount(2))
	node := thorium.NewNode(cfg, transport)

	replyC := make(chan []int, 1)
	probe := &probeScript{replyC: replyC}

	require.NoError(t, node.RegisterScript(ScriptID, New()))
	require.NoError(t, node.RegisterScript(200, func() thorium.Script { return probe }))

	node.Start()
	defer node.Shutdown()

	partName, err := node.Spawn(ScriptID)
	require.NoError(t, err)
	probeName, err := node.Spawn(200)
	require.NoError(t, err)

	send := func(tag thorium.Tag, payload []byte) {
		require.NoError(t, node.Send(thorium.Message{
			Tag: tag, Source: probeName, Dest: partName, Payload: payload,
		}))
	}

	send(TagSetBlockSize, EncodeUint32(4096))
	send(TagSetEntryVector, EncodeUint32Vector([]int{10000}))
	send(TagSetActorCount, EncodeUint32(3))

	select {
	case counts := <-replyC:
		require.Equal(t, []int{4096, 4096, 1808}, counts)
		sum := 0
		for _, c := range counts {
			sum += c
		}
		require.Equal(t, 10000, sum)
		require.Equal(t, 4096, counts[0])
		require.Equal(t, 4096, counts[1])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PROVIDE_STORE_ENTRY_COUNTS")
	}
}

func TestStoreEntryCountsRemainderOnly(t *testing.T) {
	counts := storeEntryCounts(4096, 2000, 3)
	require.Equal(t, []int{2000, 0, 0}, counts)
}
