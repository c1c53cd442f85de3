package thorium

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Node owns all actors on one host, routes messages between them, and
// drives the main loop, per spec §3 "Node" and §4.1. Grounded in the
// teacher's ActorSystem (internal/baselib/actor/system.go), generalized
// from a Go-typed, goroutine-per-actor system with type-keyed service
// discovery into a single untyped Message/Name addressed engine with a
// fixed worker pool, per spec §1's four subsystems.
type Node struct {
	cfg   Config
	namer *namer

	scripts    *scriptRegistry
	workerPool *WorkerPool
	transport  Transport
	mux        *Multiplexer

	inboundPool    *Pool
	outboundPool   *Pool
	actorStatePool *Pool

	// spawnMu is the spawn-and-death lock of spec §5: held only for
	// slot allocation and release. The fast path (send to an existing
	// actor by name) never takes it; it reads actorsPtr instead.
	spawnMu   sync.Mutex
	actorsPtr atomic.Pointer[map[Name]*process]

	counters    counterSet
	aliveActors atomic.Int32

	deathQueue chan *process

	startTime time.Time

	closing   atomic.Bool
	shutdownC chan struct{}
	shutOnce  sync.Once
}

// NewNode constructs a Node from cfg and transport. No actors exist yet;
// RegisterScript and Spawn populate the node, matching spec §4.1 init's
// "no actors exist yet".
func NewNode(cfg Config, transport Transport) *Node {
	n := &Node{
		cfg:        cfg,
		scripts:    newScriptRegistry(),
		transport:  transport,
		deathQueue: make(chan *process, cfg.DeathQueueSize),
		shutdownC:  make(chan struct{}),
	}
	allocCounter := &n.counters.poolAllocations
	n.inboundPool = NewPool(WithTracking(), WithNormalization(), WithAllocCounter(allocCounter))
	n.outboundPool = NewPool(WithTracking(), WithNormalization(), WithAllocCounter(allocCounter))
	n.actorStatePool = NewPool(WithTracking(), WithAllocCounter(allocCounter))
	n.namer = newNamer(cfg.Deterministic, cfg.NodeName, cfg.NodeCount, cfg.ActorsPerNode)
	n.workerPool = newWorkerPool(n, cfg.WorkerCount, cfg.ReadyQueueSize)
	n.mux = NewMultiplexer(n.transport.Send, &n.counters.multiplexFlushes)

	empty := make(map[Name]*process)
	n.actorsPtr.Store(&empty)

	return n
}

// RegisterScript adds a script factory under id, per spec §4.1 init
// "initializes ... script registry" and §5 "script lock during
// add_script". Must be called before any Spawn(id, ...).
func (n *Node) RegisterScript(id ScriptID, factory ScriptFactory) error {
	return n.scripts.register(id, factory)
}

// Start launches the worker pool's dispatch loops. Run drives the main
// loop; Start and Run are split so callers can Spawn initial actors
// in between, matching spec §4.1's "init ... no actors exist yet" followed
// by spawning the initial-actor list before entering run().
func (n *Node) Start() {
	n.startTime = time.Now()
	n.workerPool.start()
}

// Spawn allocates a top-level (supervisor = self) actor running scriptID,
// per spec §4.1 spawn(script_id) -> name.
func (n *Node) Spawn(scriptID ScriptID) (Name, error) {
	return n.spawn(scriptID, supervisorSelf)
}

// spawn is the shared implementation behind Spawn and Context.Spawn.
func (n *Node) spawn(scriptID ScriptID, supervisor Name) (Name, error) {
	if n.closing.Load() {
		return NoActor, ErrNodeClosed
	}

	factory, ok := n.scripts.lookup(scriptID)
	if !ok {
		return NoActor, ErrScriptNotRegistered
	}

	n.spawnMu.Lock()
	defer n.spawnMu.Unlock()

	if n.cfg.ActorsPerNode > 0 && int32(n.aliveActors.Load()) >= n.cfg.ActorsPerNode {
		return NoActor, ErrActorTableFull
	}

	name, err := n.namer.assign()
	if err != nil {
		return NoActor, err
	}

	script := factory()
	p := newProcess(name, scriptID, script, supervisor, n.cfg.MailboxCapacity)
	if supervisor == supervisorSelf {
		p.supervisor = name
	}
	n.workerPool.assign(p, -1)

	n.publishActor(name, p)
	n.aliveActors.Add(1)
	n.counters.spawns.Add(1)

	ctx := &Context{node: n, proc: p}
	if err := script.Init(ctx); err != nil {
		n.removeActor(name)
		n.aliveActors.Add(-1)
		return NoActor, err
	}

	// Deliver ACTION_START so the actor transitions spawned -> started
	// and scripts observe it like any other message, per spec §3 Actor
	// lifecycle and §4.4 ("The engine interprets only system tags").
	_ = n.workerPool.inject(p, Message{Tag: ActionStart, Source: name, Dest: name})

	return name, nil
}

// publishActor adds p to the actor table via copy-on-write, so concurrent
// readers of the fast send path never observe a half-built map.
func (n *Node) publishActor(name Name, p *process) {
	old := *n.actorsPtr.Load()
	next := make(map[Name]*process, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[name] = p
	n.actorsPtr.Store(&next)
}

func (n *Node) removeActor(name Name) {
	old := *n.actorsPtr.Load()
	if _, ok := old[name]; !ok {
		return
	}
	next := make(map[Name]*process, len(old))
	for k, v := range old {
		if k != name {
			next[k] = v
		}
	}
	n.actorsPtr.Store(&next)
}

// lookupLocal is the lock-free fast path of spec §5 ("the fast path (send
// to an existing actor by name) is lock-free").
func (n *Node) lookupLocal(name Name) *process {
	table := *n.actorsPtr.Load()
	return table[name]
}

func (n *Node) workerAt(idx int) *Worker {
	return n.workerPool.workerAt(idx)
}

// Send enqueues msg for routing, per spec §4.1 send(message): local
// messages go straight to the destination mailbox; remote messages go to
// the multiplexer; unknown destinations are dropped and counted.
func (n *Node) Send(msg Message) error {
	if n.closing.Load() {
		return ErrNodeClosed
	}
	n.counters.messagesSent.Add(1)

	if p := n.lookupLocal(msg.Dest); p != nil {
		return n.deliverLocal(p, msg)
	}

	if nodeID, ok := n.namer.actorNode(msg.Dest); ok && nodeID != n.cfg.NodeName {
		return n.sendRemote(nodeID, msg)
	}

	n.dropMessage(msg)
	return nil
}

func (n *Node) deliverLocal(p *process, msg Message) error {
	if p.getFlag() == flagDead {
		n.dropMessage(msg)
		return nil
	}
	if err := n.workerPool.inject(p, msg); err != nil {
		n.dropMessage(msg)
	}
	return nil
}

func (n *Node) sendRemote(nodeID int32, msg Message) error {
	err := n.mux.Multiplex(nodeID, &msg)
	if msg.buf != nil {
		msg.release(n.poolForOrigin(msg.WorkerOrigin))
	}
	return err
}

func (n *Node) poolForOrigin(origin int) *Pool {
	if origin < 0 {
		return n.inboundPool
	}
	if w := n.workerPool.workerAt(origin); w != nil {
		return w.outboundPool
	}
	return n.outboundPool
}

// dropMessage implements spec §4.1 "send to an unknown local actor: drop
// and increment counter", plus SPEC_FULL.md's reinstated dead-letter
// surfacing: if the sender is itself a live local actor, it additionally
// receives an ActionDeadLetter notice.
func (n *Node) dropMessage(msg Message) {
	n.counters.messagesDropped.Add(1)
	if msg.buf != nil {
		msg.release(n.poolForOrigin(msg.WorkerOrigin))
	}

	if msg.Tag == ActionDeadLetter {
		return
	}
	src := n.lookupLocal(msg.Source)
	if src == nil || src.getFlag() == flagDead {
		return
	}
	notice := Message{Tag: ActionDeadLetter, Source: msg.Dest, Dest: msg.Source}
	if err := src.mailbox.TrySend(notice); err == nil {
		if w := n.workerPool.workerAt(int(src.workerIdx.Load())); w != nil {
			w.enqueueReady(src)
		}
	}
}

// handleSystemOrDeliver is invoked by a Worker for every message it
// dispatches. It applies the engine's system-tag side effects (lifecycle
// transitions) and then always delivers the message to the script's
// Receive, per spec §4.4 ("the engine interprets only system tags; all
// others are opaque" — opaque to routing, not withheld from Receive).
func (n *Node) handleSystemOrDeliver(w *Worker, p *process, msg Message) {
	n.counters.messagesReceived.Add(1)

	switch msg.Tag {
	case ActionStart:
		p.setFlag(flagStarted)
	case ActionStop:
		p.setFlag(flagDying)
	}

	ctx := &Context{node: n, proc: p, worker: w}
	p.script.Receive(ctx, msg)
}

// queueDeath hands p to the main loop's death-triage queue, per spec §4.3
// step 6 / §4.1 step 3. Non-blocking: if the queue is saturated the worker
// finalizes the death itself rather than stalling dispatch.
func (n *Node) queueDeath(p *process) {
	select {
	case n.deathQueue <- p:
	default:
		n.finalizeDeath(p)
	}
}

// finalizeDeath drains a dying actor's mailbox to dead letters, then runs
// its Destroy hook, reclaims its slot, and updates the alive-actor counter,
// per spec §4.1 notify_death. Draining before Destroy matches Script's
// documented contract: Destroy may assume its mailbox is already empty.
func (n *Node) finalizeDeath(p *process) {
	p.mailbox.Close()
	for _, leftover := range p.mailbox.Drain() {
		n.dropMessage(leftover)
	}

	ctx := &Context{node: n, proc: p}
	p.script.Destroy(ctx)

	p.setFlag(flagDead)

	n.spawnMu.Lock()
	n.removeActor(p.name)
	n.spawnMu.Unlock()

	n.counters.deaths.Add(1)
	remaining := n.aliveActors.Add(-1)

	if remaining <= 0 {
		n.beginShutdown()
	}
}

// Run drives the main loop on the calling goroutine until Shutdown is
// called or ctx is cancelled, per spec §4.1 run(). It performs steps 1-3
// of the main-loop algorithm every iteration and step 4 (the counter
// snapshot) once per LoadPeriod.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.LoadPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.beginShutdown()
			n.shutdownWorkers()
			return ctx.Err()
		case <-n.shutdownC:
			n.shutdownWorkers()
			return nil
		case <-ticker.C:
			n.logCounters()
		default:
		}

		n.pumpTransport()
		_ = n.mux.FlushExpired()
		n.drainDeathQueue()

		select {
		case <-ctx.Done():
			n.beginShutdown()
			n.shutdownWorkers()
			return ctx.Err()
		case <-n.shutdownC:
			n.shutdownWorkers()
			return nil
		case <-time.After(n.cfg.PollInterval):
		}
	}
}

// pumpTransport implements spec §4.1 step 1: probe the transport for
// inbound envelopes and route each to local actors.
func (n *Node) pumpTransport() {
	for _, in := range n.transport.Poll() {
		n.handleInboundEnvelope(in.Envelope)
	}
}

func (n *Node) handleInboundEnvelope(envelope []byte) {
	if len(envelope) < 4 {
		log.Errorf("thorium: dropping short inbound envelope: %d bytes", len(envelope))
		return
	}

	tag := Tag(nativeOrder.Uint32(envelope[0:4]))
	if tag == MultiplexMessage {
		if len(envelope) < 8 {
			log.Errorf("thorium: dropping short multiplex envelope: %d bytes", len(envelope))
			return
		}
		frameCount := nativeOrder.Uint32(envelope[4:8])
		_ = Demultiplex(envelope[8:], frameCount, n.routeInbound)
		return
	}

	msg, _, err := DecodeMessage(envelope)
	if err != nil {
		log.Errorf("thorium: decoding inbound message: %v", err)
		return
	}
	n.routeInbound(msg)
}

// routeInbound copies an inbound message's payload into a node-owned
// buffer and delivers it locally, per spec §4.1 step 1 "allocate an
// inbound-message buffer, copy or receive in place, hand to local
// routing".
func (n *Node) routeInbound(msg Message) {
	buf := n.inboundPool.Allocate(len(msg.Payload))
	copy(buf, msg.Payload)
	msg.Payload = buf
	msg.buf = buf
	msg.WorkerOrigin = -1

	if p := n.lookupLocal(msg.Dest); p != nil {
		n.deliverLocal(p, msg)
		return
	}
	n.dropMessage(msg)
}

// drainDeathQueue implements spec §4.1 step 3.
func (n *Node) drainDeathQueue() {
	for {
		select {
		case p := <-n.deathQueue:
			n.finalizeDeath(p)
		default:
			return
		}
	}
}

func (n *Node) beginShutdown() {
	n.shutOnce.Do(func() {
		n.closing.Store(true)
		close(n.shutdownC)
	})
}

func (n *Node) shutdownWorkers() {
	if grace := n.cfg.ShutdownGrace.UnwrapOr(0); grace > 0 {
		time.Sleep(grace)
	}
	n.workerPool.stop()
	_ = n.transport.Close()
}

// Shutdown requests the node transition toward shutdown, matching the
// teacher's ActorSystem.Shutdown idiom: idempotent, safe to call from any
// goroutine.
func (n *Node) Shutdown() {
	n.beginShutdown()
}

// AliveActors returns the number of actors that have spawned but not yet
// died.
func (n *Node) AliveActors() int32 {
	return n.aliveActors.Load()
}

// Counters returns a snapshot of the node's instrumentation counters.
func (n *Node) Counters() Counters {
	return n.counters.Snapshot()
}

// WorkerLoads returns each worker's processed-message count, for
// -print-load.
func (n *Node) WorkerLoads() []uint64 {
	return n.workerPool.Loads()
}

func (n *Node) logCounters() {
	c := n.Counters()
	log.Debugf("thorium: uptime=%s counters sent=%d recv=%d dropped=%d "+
		"spawns=%d deaths=%d flushes=%d allocs=%d alive=%d",
		time.Since(n.startTime), c.MessagesSent, c.MessagesReceived,
		c.MessagesDropped, c.Spawns, c.Deaths, c.MultiplexFlushes,
		c.PoolAllocations, n.AliveActors())
}
