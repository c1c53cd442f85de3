package thorium

import (
	"sync"
	"sync/atomic"
)

// triageItem is a buffer handed from the worker that finished processing a
// message back to the worker whose pool originally allocated it, per spec
// §4.3 step 5 ("via a multi-producer triage queue the origin worker
// drains") and §5 ("cross-worker frees are routed via triage queues to the
// owning worker").
type triageItem struct {
	buf []byte
}

// Worker owns a ready-queue of actors with pending mailbox messages and
// runs a cooperative dispatch loop over them, per spec §4.3. Grounded in
// the teacher's single-goroutine Actor.process loop
// (internal/baselib/actor/actor.go), generalized from one goroutine per
// actor to one goroutine per Worker multiplexing many actors.
type Worker struct {
	idx  int
	node *Node

	ready chan *process

	// triage is filled by other workers returning buffers this worker's
	// outboundPool allocated; only this worker ever drains it, so
	// outboundPool.Free needs no cross-goroutine locking in practice
	// even though Pool itself is safe for concurrent use.
	triage chan triageItem

	outboundPool *Pool
	scratchPool  *Pool

	// processed counts messages dispatched, read through
	// WorkerPool.Loads (Node.WorkerLoads) for the -print-load
	// instrumentation.
	processed atomic.Uint64

	stopCh chan struct{}
	done   chan struct{}
}

func newWorker(idx int, node *Node, readyQueueSize int) *Worker {
	if readyQueueSize <= 0 {
		readyQueueSize = 1024
	}
	return &Worker{
		idx:    idx,
		node:   node,
		ready:  make(chan *process, readyQueueSize),
		triage: make(chan triageItem, readyQueueSize),
		outboundPool: NewPool(WithTracking(), WithNormalization(),
			WithAllocCounter(&node.counters.poolAllocations)),
		scratchPool: NewPool(WithAllocCounter(&node.counters.poolAllocations)),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// enqueueReady places p on this worker's ready queue if it is not already
// enqueued, per spec §4.3 step 6 ("if the mailbox is non-empty, re-enqueue
// the actor"). It is the only path by which an actor becomes runnable.
func (w *Worker) enqueueReady(p *process) {
	if !p.ready.CompareAndSwap(false, true) {
		return
	}
	select {
	case w.ready <- p:
	case <-w.stopCh:
		p.ready.Store(false)
	}
}

// run is the dispatch loop described in spec §4.3. It is launched once per
// Worker by WorkerPool.start and exits once stop is requested and the
// ready queue has drained.
func (w *Worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(w.done)

	for {
		select {
		case item := <-w.triage:
			w.outboundPool.Free(item.buf)
			continue
		default:
		}

		select {
		case p := <-w.ready:
			w.dispatch(p)
		case item := <-w.triage:
			w.outboundPool.Free(item.buf)
		case <-w.stopCh:
			w.drainOnStop()
			return
		}
	}
}

// drainOnStop processes any actors already queued before exiting, so a
// cooperative stop does not strand ready work (spec §4.2 "stop is
// cooperative (workers exit after draining)").
func (w *Worker) drainOnStop() {
	for {
		select {
		case p := <-w.ready:
			w.dispatch(p)
		case item := <-w.triage:
			w.outboundPool.Free(item.buf)
		default:
			return
		}
	}
}

// dispatch runs steps 2-7 of spec §4.3's dispatch loop for one actor.
func (w *Worker) dispatch(p *process) {
	p.ready.Store(false)

	if !p.running.CompareAndSwap(false, true) {
		// Another worker is mid-migration race; skip this cycle. The
		// owner will re-enqueue it when it finishes.
		return
	}
	defer p.running.Store(false)

	msg, ok := p.mailbox.TryReceive()
	if !ok {
		return
	}

	wasDying := p.getFlag() == flagDying

	w.node.handleSystemOrDeliver(w, p, msg)
	w.processed.Add(1)

	w.releaseBuffer(msg)

	flag := p.getFlag()
	if flag == flagDying && !wasDying {
		w.node.queueDeath(p)
	}
	if flag == flagDead || flag == flagDying {
		return
	}
	if p.mailbox.Len() > 0 {
		w.enqueueReady(p)
	}
}

// releaseBuffer returns msg's backing buffer to whichever worker's pool
// allocated it, per spec §4.3 step 5, or to the node's inbound pool for
// messages that arrived from the transport.
func (w *Worker) releaseBuffer(msg Message) {
	if msg.buf == nil {
		return
	}
	if msg.WorkerOrigin < 0 {
		w.node.inboundPool.Free(msg.buf)
		return
	}
	origin := w.node.workerAt(msg.WorkerOrigin)
	if origin == nil {
		return
	}
	if origin == w {
		w.outboundPool.Free(msg.buf)
		return
	}
	select {
	case origin.triage <- triageItem{buf: msg.buf}:
	default:
		// Origin's triage queue is saturated; drop the recycle
		// opportunity rather than block a live dispatch loop.
	}
}

func (w *Worker) requestStop() {
	close(w.stopCh)
}

func (w *Worker) waitStopped() {
	<-w.done
}

// Load returns the number of messages this worker has dispatched since
// start, for the -print-load instrumentation (spec §6 CLI surface).
func (w *Worker) Load() uint64 {
	return w.processed.Load()
}
