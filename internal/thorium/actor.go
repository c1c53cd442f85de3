package thorium

import (
	"sync"
	"sync/atomic"
)

// actorFlag encodes an actor's lifecycle state, per spec §3 "Actor":
// dead -> spawned -> started (after ACTION_START) -> dying (ACTION_STOP
// observed) -> dead (notified to node, slot recycled).
type actorFlag int32

const (
	flagSpawned actorFlag = iota
	flagStarted
	flagDying
	flagDead
)

// supervisorSelf marks an initial actor, whose supervisor is itself.
const supervisorSelf = -1

// process is the node's runtime record for one actor: its identity, its
// script instance, its mailbox, and the bookkeeping a worker needs to
// dispatch it safely. It is the only owning reference to the Script
// instance; senders elsewhere in the system hold only the actor's Name.
// Grounded in the teacher's Actor[M,R] (internal/baselib/actor/actor.go),
// generalized from a goroutine-per-actor model to a runtime record parked
// in a worker's ready-queue (spec §4.3).
type process struct {
	name       Name
	scriptID   ScriptID
	script     Script
	supervisor Name

	mailbox *Mailbox

	// workerIdx is the index, into the node's worker slice, of the
	// worker currently owning this actor. It is read by senders to
	// route wake-ups and updated atomically during migration (spec
	// §4.2 "the actor's current worker index atomically published").
	workerIdx atomic.Int32

	// running is CAS'd by a worker claiming this actor for dispatch, so
	// that at most one worker is ever inside its receive handler (spec
	// §4.3 step 2, §8 invariant).
	running atomic.Bool

	// ready indicates the actor is enqueued (or about to be) on some
	// worker's ready-queue; it prevents duplicate enqueues.
	ready atomic.Bool

	flag atomic.Int32

	acqMu        sync.Mutex
	acquaintances []Name

	childrenMu sync.Mutex
	children   []Name
}

func newProcess(name Name, scriptID ScriptID, s Script, supervisor Name, mailboxCap int) *process {
	p := &process{
		name:       name,
		scriptID:   scriptID,
		script:     s,
		supervisor: supervisor,
		mailbox:    NewMailbox(mailboxCap),
	}
	p.flag.Store(int32(flagSpawned))
	return p
}

func (p *process) setFlag(f actorFlag) {
	p.flag.Store(int32(f))
}

func (p *process) getFlag() actorFlag {
	return actorFlag(p.flag.Load())
}

// AddAcquaintance records peer in the next free acquaintance slot and
// returns its compact index, per spec §4.4. Indices are handed out in
// first-use order starting at 0; re-adding a known peer returns its
// existing index. No index is reserved or pre-populated by the engine, so a
// script that wants index 0 to denote its supervisor records it first.
func (p *process) AddAcquaintance(peer Name) int {
	p.acqMu.Lock()
	defer p.acqMu.Unlock()

	for i, n := range p.acquaintances {
		if n == peer {
			return i
		}
	}
	p.acquaintances = append(p.acquaintances, peer)
	return len(p.acquaintances) - 1
}

// Acquaintance returns the peer name recorded at index, per spec §4.4.
func (p *process) Acquaintance(index int) (Name, bool) {
	p.acqMu.Lock()
	defer p.acqMu.Unlock()

	if index < 0 || index >= len(p.acquaintances) {
		return NoActor, false
	}
	return p.acquaintances[index], true
}

func (p *process) addChild(name Name) {
	p.childrenMu.Lock()
	defer p.childrenMu.Unlock()
	p.children = append(p.children, name)
}

func (p *process) childList() []Name {
	p.childrenMu.Lock()
	defer p.childrenMu.Unlock()
	out := make([]Name, len(p.children))
	copy(out, p.children)
	return out
}

// Context is the handle a Script's Init/Receive/Destroy methods use to
// interact with the engine: sending messages, spawning children, and
// managing its own lifecycle. It is the sole capability surface exposed to
// script authors, matching spec §4.4's "contract exposed to script
// authors (handler invocation only)".
type Context struct {
	node *Node
	proc *process

	// worker is the Worker currently dispatching this actor, when this
	// Context was built from a live dispatch (Worker.dispatch ->
	// handleSystemOrDeliver); it is nil for Contexts built outside dispatch (initial
	// Spawn's Init call, Destroy). When set, outbound Sends allocate
	// their payload copy from the worker's own pool, per spec §4.3 "a
	// memory pool for outbound-message allocation (per-worker, so
	// allocation is lock-free)".
	worker *Worker
}

// Self returns the name of the actor this Context belongs to.
func (c *Context) Self() Name { return c.proc.name }

// Supervisor returns the actor responsible for stopping this actor, or
// itself for an initial actor.
func (c *Context) Supervisor() Name {
	if c.proc.supervisor == supervisorSelf {
		return c.proc.name
	}
	return c.proc.supervisor
}

// Send enqueues a message from this actor to dest, per spec §4.4 "send new
// messages (to self, to a specific actor, reply to the current message's
// sender)". Ownership of payload transfers to the engine.
func (c *Context) Send(dest Name, tag Tag, payload []byte) error {
	msg := Message{Tag: tag, Source: c.proc.name, Dest: dest}

	if c.worker != nil && len(payload) > 0 {
		buf := c.worker.outboundPool.Allocate(len(payload))
		copy(buf, payload)
		msg.Payload = buf
		msg.buf = buf
		msg.WorkerOrigin = c.worker.idx
	} else {
		msg.Payload = payload
		msg.WorkerOrigin = -1
	}

	return c.node.Send(msg)
}

// Reply is shorthand for Send(msg.Source, tag, payload).
func (c *Context) Reply(msg Message, tag Tag, payload []byte) error {
	return c.Send(msg.Source, tag, payload)
}

// Spawn creates a child actor running scriptID, with this actor as
// supervisor, per spec §4.4 "spawn child actors".
func (c *Context) Spawn(scriptID ScriptID) (Name, error) {
	name, err := c.node.spawn(scriptID, c.proc.name)
	if err != nil {
		return NoActor, err
	}
	c.proc.addChild(name)
	return name, nil
}

// AskToStop sends ACTION_ASK_TO_STOP to target, per spec §4.4 "ask another
// actor to stop". The target is free to ignore it; the engine applies no
// enforcement.
func (c *Context) AskToStop(target Name) error {
	return c.Send(target, ActionAskToStop, nil)
}

// Stop marks this actor dying by sending ACTION_STOP to itself, per spec
// §4.4 "mark self dying by sending ACTION_STOP to self". Dispatch observes
// this on the next cycle and tears the actor down after Destroy runs.
func (c *Context) Stop() error {
	return c.Send(c.proc.name, ActionStop, nil)
}

// AddAcquaintance records peer under a compact local index for this actor,
// per spec §4.4 acquaintance table.
func (c *Context) AddAcquaintance(peer Name) int {
	return c.proc.AddAcquaintance(peer)
}

// Acquaintance resolves a previously recorded compact index back to a peer
// name.
func (c *Context) Acquaintance(index int) (Name, bool) {
	return c.proc.Acquaintance(index)
}

// Children returns the names of actors spawned by this actor.
func (c *Context) Children() []Name {
	return c.proc.childList()
}
