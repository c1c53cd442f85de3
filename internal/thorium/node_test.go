package thorium

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingScript is a reusable test Script that forwards every delivered
// message to received and, if hook is set, invokes it for custom reply
// behavior (e.g. the ping/pong of spec.md §8 scenario 1).
type recordingScript struct {
	received chan Message
	hook     func(ctx *Context, msg Message)
}

func newRecordingScriptFactory(received chan Message, hook func(ctx *Context, msg Message)) ScriptFactory {
	return func() Script {
		return &recordingScript{received: received, hook: hook}
	}
}

func (s *recordingScript) Init(ctx *Context) error { return nil }
func (s *recordingScript) Destroy(ctx *Context)    {}

func (s *recordingScript) Receive(ctx *Context, msg Message) {
	if s.hook != nil {
		s.hook(ctx, msg)
	}
	// ACTION_START fires once for every actor right after spawn; tests
	// care about the application messages that follow it, so it is not
	// forwarded to the recording channel.
	if msg.Tag == ActionStart {
		return
	}
	select {
	case s.received <- msg:
	default:
	}
}

// newTestNode constructs a single-node Node and drives its main loop on a
// background goroutine for the duration of the test, mirroring
// cmd/thoriumd/main.go's real usage (node.Start() followed by node.Run(ctx)
// on its own goroutine). Driving Run matters beyond routing: it is also
// the only path to finalizeDeath via drainDeathQueue (node.go), so any
// test asserting on AliveActors() after an actor stops depends on it.
func newTestNode(t *testing.T, workers int) *Node {
	t.Helper()
	transport := NewLoopbackNetwork().NewTransport(0)
	cfg := DefaultConfig().Apply(WithWorkerCount(workers))
	node := NewNode(cfg, transport)
	node.Start()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = node.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		node.Shutdown()
		<-runDone
	})
	return node
}

const appTagPing Tag = 42
const appTagPong Tag = 43

// TestPingLocal implements spec.md §8 scenario 1: A sends tag=42 to B; B
// records the source and replies tag=43 with an empty payload; A observes
// exactly that reply.
func TestPingLocal(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, 2)

	aReceived := make(chan Message, 4)
	bReceived := make(chan Message, 4)

	const scriptA, scriptB ScriptID = 1, 2
	require.NoError(t, node.RegisterScript(scriptA, newRecordingScriptFactory(aReceived, nil)))
	require.NoError(t, node.RegisterScript(scriptB, newRecordingScriptFactory(bReceived, func(ctx *Context, msg Message) {
		if msg.Tag == appTagPing {
			require.NoError(t, ctx.Reply(msg, appTagPong, nil))
		}
	})))

	nameA, err := node.Spawn(scriptA)
	require.NoError(t, err)
	nameB, err := node.Spawn(scriptB)
	require.NoError(t, err)

	require.NoError(t, node.Send(Message{
		Tag: appTagPing, Source: nameA, Dest: nameB, Payload: []byte("hi"),
	}))

	select {
	case msg := <-aReceived:
		require.Equal(t, appTagPong, msg.Tag)
		require.Equal(t, nameB, msg.Source)
		require.Empty(t, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

// TestSpawnChain implements spec.md §8 scenario 4: A spawns B, B spawns C,
// C sends a DONE message to A. All three names are distinct and the
// alive-actor counter returns to 1 once B and C stop.
func TestSpawnChain(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, 2)

	const tagDone Tag = 99
	const scriptA, scriptB, scriptC ScriptID = 1, 2, 3

	doneC := make(chan Message, 1)
	nameCC := make(chan Name, 1)
	require.NoError(t, node.RegisterScript(scriptA, newRecordingScriptFactory(doneC, nil)))

	var nameA Name
	require.NoError(t, node.RegisterScript(scriptC, newRecordingScriptFactory(nil, func(ctx *Context, msg Message) {
		if msg.Tag != ActionStart {
			return
		}
		require.NoError(t, ctx.Send(nameA, tagDone, nil))
		require.NoError(t, ctx.Stop())
	})))
	require.NoError(t, node.RegisterScript(scriptB, newRecordingScriptFactory(nil, func(ctx *Context, msg Message) {
		if msg.Tag == ActionStart {
			nameC, err := ctx.Spawn(scriptC)
			require.NoError(t, err)
			nameCC <- nameC
			return
		}
		require.NoError(t, ctx.Stop())
	})))

	var err error
	nameA, err = node.Spawn(scriptA)
	require.NoError(t, err)
	nameB, err := node.Spawn(scriptB)
	require.NoError(t, err)

	// B spawns C on its own ACTION_START (hook above); this application
	// message is what makes B stop.
	require.NoError(t, node.Send(Message{Tag: tagDone, Source: nameA, Dest: nameB}))

	select {
	case msg := <-doneC:
		require.Equal(t, tagDone, msg.Tag)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for DONE from C")
	}

	require.NotEqual(t, nameA, nameB)
	nameC := <-nameCC
	require.NotEqual(t, nameA, nameC)
	require.NotEqual(t, nameB, nameC)

	require.Eventually(t, func() bool {
		return node.AliveActors() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestStopCascade implements spec.md §8 scenario 5: a supervisor asks its
// children to stop; each complies by sending ACTION_STOP to itself; the
// engine reclaims every slot and the alive-actor counter reaches zero.
func TestStopCascade(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, 2)

	const scriptChild ScriptID = 1
	require.NoError(t, node.RegisterScript(scriptChild, newRecordingScriptFactory(nil, func(ctx *Context, msg Message) {
		if msg.Tag == ActionAskToStop {
			require.NoError(t, ctx.Stop())
		}
	})))

	var children []Name
	for i := 0; i < 3; i++ {
		name, err := node.Spawn(scriptChild)
		require.NoError(t, err)
		children = append(children, name)
	}
	require.EqualValues(t, 3, node.AliveActors())

	for _, c := range children {
		require.NoError(t, node.Send(Message{Tag: ActionAskToStop, Dest: c}))
	}

	require.Eventually(t, func() bool {
		return node.AliveActors() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// newTestNodePair constructs two Nodes sharing one LoopbackNetwork, with
// deterministic naming under nodeCount=2, and drives both via Run on
// background goroutines for the test's duration, per spec.md §8 scenario 2
// ("Ping remote"). Node 0 is returned first.
func newTestNodePair(t *testing.T, workers int) (*Node, *Node) {
	t.Helper()
	net := NewLoopbackNetwork()

	mk := func(nodeID int32) *Node {
		cfg := DefaultConfig().Apply(
			WithWorkerCount(workers),
			WithNodeIdentity(nodeID, 2),
		)
		node := NewNode(cfg, net.NewTransport(nodeID))
		node.Start()

		ctx, cancel := context.WithCancel(context.Background())
		runDone := make(chan struct{})
		go func() {
			defer close(runDone)
			_ = node.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			node.Shutdown()
			<-runDone
		})
		return node
	}

	return mk(0), mk(1)
}

// TestPingRemote implements spec.md §8 scenario 2 ("Ping remote"): two
// nodes, node 0 hosts A(name=0), node 1 hosts B(name=1); A sends tag=42,
// payload=[1,2,3,4] to B across the transport. B's handler runs on node 1
// with the payload bytes intact, exercising Node.Send's remote path
// (sendRemote -> Multiplexer -> Transport) and the inbound path
// (pumpTransport -> handleInboundEnvelope -> routeInbound) end to end.
func TestPingRemote(t *testing.T) {
	t.Parallel()

	node0, node1 := newTestNodePair(t, 2)

	const scriptA, scriptB ScriptID = 1, 2
	require.NoError(t, node0.RegisterScript(scriptA, newRecordingScriptFactory(nil, nil)))

	bReceived := make(chan Message, 4)
	require.NoError(t, node1.RegisterScript(scriptB, newRecordingScriptFactory(bReceived, nil)))

	nameA, err := node0.Spawn(scriptA)
	require.NoError(t, err)
	require.Equal(t, Name(0), nameA)

	nameB, err := node1.Spawn(scriptB)
	require.NoError(t, err)
	require.Equal(t, Name(1), nameB)

	require.NoError(t, node0.Send(Message{
		Tag: appTagPing, Source: nameA, Dest: nameB,
		Payload: []byte{1, 2, 3, 4},
	}))

	select {
	case msg := <-bReceived:
		require.Equal(t, appTagPing, msg.Tag)
		require.Equal(t, nameA, msg.Source)
		require.Equal(t, []byte{1, 2, 3, 4}, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for B to receive the remote ping")
	}
}

// TestSendUnknownActorDropsAndCounts verifies spec.md §4.1 "send to an
// unknown local actor: drop and increment counter".
func TestSendUnknownActorDropsAndCounts(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, 1)

	before := node.Counters().MessagesDropped
	require.NoError(t, node.Send(Message{Tag: 1, Dest: Name(99999)}))

	require.Eventually(t, func() bool {
		return node.Counters().MessagesDropped == before+1
	}, time.Second, 10*time.Millisecond)
}

// TestDeadLetterDeliveredToLiveSender verifies SPEC_FULL.md's reinstated
// dead-letter surfacing: sending to an unknown actor from a live local
// actor additionally delivers an ActionDeadLetter notice to the sender.
func TestDeadLetterDeliveredToLiveSender(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, 1)

	received := make(chan Message, 4)
	const scriptSender ScriptID = 1
	require.NoError(t, node.RegisterScript(scriptSender, newRecordingScriptFactory(received, nil)))

	sender, err := node.Spawn(scriptSender)
	require.NoError(t, err)

	require.NoError(t, node.Send(Message{
		Tag: 7, Source: sender, Dest: Name(424242),
	}))

	select {
	case msg := <-received:
		require.Equal(t, ActionDeadLetter, msg.Tag)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dead-letter notice")
	}
}

// TestScriptNotRegisteredFailsSpawn verifies spec.md §4.1 "Fails if the
// script is unregistered".
func TestScriptNotRegisteredFailsSpawn(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, 1)
	_, err := node.Spawn(ScriptID(999))
	require.ErrorIs(t, err, ErrScriptNotRegistered)
}

// TestActorTableFullFailsSpawn verifies spec.md §4.1 "Fails if ... the
// slot table is exhausted": once a node's alive-actor count reaches
// Config.ActorsPerNode, further Spawn calls return ErrActorTableFull and
// have no side effects (no name is consumed, no counter advances).
func TestActorTableFullFailsSpawn(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().Apply(WithWorkerCount(1))
	cfg.ActorsPerNode = 1

	transport := NewLoopbackNetwork().NewTransport(0)
	node := NewNode(cfg, transport)
	node.Start()
	t.Cleanup(node.Shutdown)

	const scriptID ScriptID = 1
	require.NoError(t, node.RegisterScript(scriptID, newRecordingScriptFactory(nil, nil)))

	_, err := node.Spawn(scriptID)
	require.NoError(t, err)
	require.EqualValues(t, 1, node.AliveActors())

	_, err = node.Spawn(scriptID)
	require.ErrorIs(t, err, ErrActorTableFull)
	require.EqualValues(t, 1, node.AliveActors())
}

// TestAcquaintanceTable verifies spec.md §4.4's compact local-index
// addressing.
func TestAcquaintanceTable(t *testing.T) {
	t.Parallel()

	node := newTestNode(t, 1)

	const scriptID ScriptID = 1
	done := make(chan struct{})
	var idx int
	var ok bool
	var resolved Name

	require.NoError(t, node.RegisterScript(scriptID, newRecordingScriptFactory(nil, func(ctx *Context, msg Message) {
		// The hook also sees ACTION_START; act only on the test message
		// so done is closed once.
		if msg.Tag == ActionStart {
			return
		}
		idx = ctx.AddAcquaintance(Name(555))
		resolved, ok = ctx.Acquaintance(idx)
		close(done)
	})))

	name, err := node.Spawn(scriptID)
	require.NoError(t, err)
	require.NoError(t, node.Send(Message{Tag: 1, Dest: name}))

	select {
	case <-done:
		require.True(t, ok)
		require.Equal(t, Name(555), resolved)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for acquaintance hook")
	}
}
