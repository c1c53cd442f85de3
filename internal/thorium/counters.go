package thorium

import "sync/atomic"

// Counters is the instrumentation snapshot the node main loop takes every
// LOAD_PERIOD, surfaced by the -print-counters / -print-load CLI flags
// (spec §4.1 step 4, §6 CLI surface). This is ambient instrumentation
// reinstated from the original biosal lineage (SPEC_FULL.md §3), not a new
// external interface.
type Counters struct {
	Spawns           uint64
	Deaths           uint64
	MessagesSent     uint64
	MessagesReceived uint64
	MessagesDropped  uint64
	MultiplexFlushes uint64
	PoolAllocations  uint64
}

// counterSet holds the live atomics a Node increments; Snapshot copies them
// into a Counters value for reporting.
type counterSet struct {
	spawns           atomic.Uint64
	deaths           atomic.Uint64
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	messagesDropped  atomic.Uint64
	multiplexFlushes atomic.Uint64
	poolAllocations  atomic.Uint64
}

// Snapshot returns the current values of every counter.
func (c *counterSet) Snapshot() Counters {
	return Counters{
		Spawns:           c.spawns.Load(),
		Deaths:           c.deaths.Load(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		MessagesDropped:  c.messagesDropped.Load(),
		MultiplexFlushes: c.multiplexFlushes.Load(),
		PoolAllocations:  c.poolAllocations.Load(),
	}
}
