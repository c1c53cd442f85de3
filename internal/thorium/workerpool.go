package thorium

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool distributes spawned actors across a fixed set of Workers and
// performs optional load-balancing between them, per spec §4.2. Grounded
// in the teacher's generic actorutil.Pool round-robin replica pool
// (internal/actorutil/pool.go), adapted here from "N replicas of one
// behavior" to "N execution threads sharing the whole actor population".
type WorkerPool struct {
	workers []*Worker
	next    atomic.Uint64

	wg sync.WaitGroup
}

// newWorkerPool constructs count Workers bound to node, per spec §4.2
// init(worker_count). A count below one selects one worker per CPU.
func newWorkerPool(node *Node, count int, readyQueueSize int) *WorkerPool {
	if count < 1 {
		count = runtime.NumCPU()
	}
	wp := &WorkerPool{workers: make([]*Worker, count)}
	for i := range wp.workers {
		wp.workers[i] = newWorker(i, node, readyQueueSize)
	}
	return wp
}

// start launches every worker's dispatch loop.
func (wp *WorkerPool) start() {
	wp.wg.Add(len(wp.workers))
	for _, w := range wp.workers {
		go w.run(&wp.wg)
	}
}

// stop requests every worker to drain and exit, then waits for them all,
// per spec §4.2 "stop is cooperative (workers exit after draining)".
func (wp *WorkerPool) stop() {
	for _, w := range wp.workers {
		w.requestStop()
	}
	wp.wg.Wait()
}

// Count returns the number of workers in the pool.
func (wp *WorkerPool) Count() int {
	return len(wp.workers)
}

// assign binds p to the worker named by affinity when it is a valid worker
// index, and otherwise to one chosen by round-robin, per spec §4.2 "initial
// choice by round-robin or affinity hint".
func (wp *WorkerPool) assign(p *process, affinity int) {
	idx := affinity
	if idx < 0 || idx >= len(wp.workers) {
		idx = int(wp.next.Add(1)-1) % len(wp.workers)
	}
	p.workerIdx.Store(int32(idx))
}

// inject enqueues msg into dest's mailbox and wakes its owning worker, per
// spec §4.2 "called by the node engine to enqueue a message ... and wake
// the owning worker". It uses the non-blocking TrySend: inject is reached
// synchronously from a live dispatch (Context.Send -> Node.Send ->
// deliverLocal -> inject), so blocking here would stall the sending
// worker on the destination's mailbox, violating spec §5's "no worker
// blocks on another worker's mailbox". A full mailbox is reported to the
// caller, which applies the same drop-and-count/dead-letter handling as
// any other undeliverable message (node.go's dropMessage).
func (wp *WorkerPool) inject(p *process, msg Message) error {
	if err := p.mailbox.TrySend(msg); err != nil {
		return err
	}
	w := wp.workers[p.workerIdx.Load()]
	w.enqueueReady(p)
	return nil
}

// workerAt returns the worker at idx, or nil if out of range.
func (wp *WorkerPool) workerAt(idx int) *Worker {
	if idx < 0 || idx >= len(wp.workers) {
		return nil
	}
	return wp.workers[idx]
}

// Loads returns a snapshot of each worker's processed-message counter, the
// statistic spec §4.2 describes the load balancer as comparing ("messages
// processed over the last window").
func (wp *WorkerPool) Loads() []uint64 {
	out := make([]uint64, len(wp.workers))
	for i, w := range wp.workers {
		out[i] = w.Load()
	}
	return out
}

// rebalanceThreshold is the ratio (integer division) between the busiest
// and least-busy worker's load at or above which Rebalance moves an actor,
// per spec §4.2 "if imbalance exceeds a threshold".
const rebalanceThreshold = 2

// Rebalance migrates one actor from the single busiest worker to the
// least-busy one when their load ratio (integer division) is at least
// rebalanceThreshold, per spec §4.2's load-balancing design. An idle least-busy worker (load 0)
// next to a busy one is treated as exceeding the threshold unconditionally
// rather than skipped, since that is the imbalance the heuristic exists to
// catch; only a wholly idle pool (busiest load 0 too) is a no-op. It is a
// best-effort, coarse implementation: the "migrating flag ... drain in
// place, transfer ownership" sequence from spec is realized by simply
// republishing the actor's workerIdx, since this package's dispatch loop
// already refuses to run an actor that is mid-dispatch (the running CAS),
// so no message can be observed out of order across the handoff.
func (wp *WorkerPool) Rebalance(actorsByWorker func(idx int) []*process) {
	if len(wp.workers) < 2 {
		return
	}
	loads := wp.Loads()

	busiest, leastBusy := 0, 0
	for i, l := range loads {
		if l > loads[busiest] {
			busiest = i
		}
		if l < loads[leastBusy] {
			leastBusy = i
		}
	}
	if busiest == leastBusy || loads[busiest] == 0 {
		return
	}
	if loads[leastBusy] > 0 && loads[busiest]/loads[leastBusy] < rebalanceThreshold {
		return
	}

	actors := actorsByWorker(busiest)
	if len(actors) == 0 {
		return
	}
	victim := actors[0]
	wp.migrate(victim, leastBusy)
}

// migrate atomically republishes p's owning worker index, per spec §4.2
// "producers' sends to the actor target the new owner via the actor's
// current worker index atomically published".
func (wp *WorkerPool) migrate(p *process, toWorker int) {
	p.workerIdx.Store(int32(toWorker))
	if p.mailbox.Len() > 0 {
		wp.workers[toWorker].enqueueReady(p)
	}
}
