package thorium

import (
	"sync"
	"sync/atomic"
)

// defaultMailboxCapacity is the bound used when a Mailbox is constructed
// without an explicit capacity, matching the teacher's
// ActorSystem.DefaultConfig MailboxCapacity.
const defaultMailboxCapacity = 256

// Mailbox is the bounded-growth FIFO of messages destined for one actor,
// per spec §3 "Mailbox". Single consumer (the actor's current worker),
// multiple producers (any worker sending to this actor by name). Grounded
// in the teacher's ChannelMailbox (internal/baselib/actor/channel_mailbox.go):
// a buffered channel gives wait-free-enough enqueue and lock-free dequeue,
// with a RWMutex held only to make Close/Send race-free.
type Mailbox struct {
	ch chan Message

	mu     sync.RWMutex
	closed atomic.Bool

	closeOnce sync.Once
}

// NewMailbox constructs a Mailbox with room for capacity messages before a
// non-blocking Send reports ErrMailboxFull. capacity <= 0 uses the default.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = defaultMailboxCapacity
	}
	return &Mailbox{ch: make(chan Message, capacity)}
}

// Send enqueues msg, blocking while the mailbox is full. The RLock is held
// for the whole send so that a concurrent Close cannot close the channel
// out from under a send-in-flight, which would panic.
func (mb *Mailbox) Send(msg Message) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if mb.closed.Load() {
		return ErrMailboxClosed
	}
	mb.ch <- msg
	return nil
}

// TrySend enqueues msg without blocking, returning ErrMailboxFull if the
// bound has been reached.
func (mb *Mailbox) TrySend(msg Message) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if mb.closed.Load() {
		return ErrMailboxClosed
	}
	select {
	case mb.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// TryReceive dequeues one message without blocking, for use by a worker's
// dispatch loop (spec §4.3 step 3: "dequeue one message from the actor's
// mailbox"). The bool is false if the mailbox had nothing queued.
func (mb *Mailbox) TryReceive() (Message, bool) {
	select {
	case msg, ok := <-mb.ch:
		if !ok {
			return Message{}, false
		}
		return msg, true
	default:
		return Message{}, false
	}
}

// Len reports how many messages are currently queued.
func (mb *Mailbox) Len() int {
	return len(mb.ch)
}

// Close marks the mailbox closed; further Send/TrySend calls fail.
// Queued-but-undelivered messages remain available to Drain.
func (mb *Mailbox) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		defer mb.mu.Unlock()
		mb.closed.Store(true)
		close(mb.ch)
	})
}

// IsClosed reports whether Close has been called.
func (mb *Mailbox) IsClosed() bool {
	return mb.closed.Load()
}

// Drain returns every message still queued after Close, in FIFO order. It
// is used to hand undelivered messages to the dead-letter path when an
// actor dies with a non-empty mailbox.
func (mb *Mailbox) Drain() []Message {
	var out []Message
	for msg := range mb.ch {
		out = append(out, msg)
	}
	return out
}
