package thorium

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MultiplexMessage is the envelope tag marking a batched transport send,
// per spec §6 "Batched multiplex envelope".
const MultiplexMessage Tag = systemTagBase + 100

// defaultFlushThreshold and defaultMaxBatchLatency are the default flush
// triggers from spec §3 "Multiplexer batch" / §4.5.
const (
	defaultFlushThreshold  = 1024
	defaultMaxBatchLatency = 5 * time.Millisecond
	// bypassThreshold: a message at or above this size skips batching
	// entirely and is hand off directly to the transport (spec §4.5
	// step 1 "if message is large (>= threshold) ... hand directly to
	// transport").
	bypassThreshold = 8192
)

// isBypassTag reports whether tag skips batching regardless of size, per spec
// §4.5 "Policy classes allow certain tags to bypass batching (e.g.
// synchronization messages)". System tags are bypass by default.
func isBypassTag(tag Tag) bool {
	return tag >= systemTagBase
}

// batch accumulates framed messages destined for one (node, policy class)
// pair until a flush trigger fires, per spec §3 "Multiplexer batch".
type batch struct {
	mu sync.Mutex

	node   int32
	buf    []byte
	count  int32
	opened time.Time
	id     uuid.UUID
}

func newBatch(node int32) *batch {
	return &batch{node: node, id: uuid.New()}
}

// Multiplexer batches small outbound cross-node messages per destination
// node to amortize per-send transport overhead, per spec §4.5. Grounded in
// the aistore streaming transport's sendLoop/workCh batching idiom
// (other_examples 3bec586c_rockstar-0000-aistore transport-api.go) and in
// the teacher's use of github.com/google/uuid for correlation identifiers,
// here repurposed as a per-batch diagnostic id.
type Multiplexer struct {
	mu      sync.Mutex
	batches map[int32]*batch

	flushThreshold  int
	maxBatchLatency time.Duration

	pool *Pool

	send func(node int32, envelope []byte) error

	// flushCounter, when set, is incremented once per batch actually
	// flushed to the transport, feeding Node.Counters().MultiplexFlushes
	// (spec §4.1 step 4 / SPEC_FULL.md §3 "Instrumentation counters").
	flushCounter *atomic.Uint64
}

// NewMultiplexer constructs a Multiplexer that hands flushed envelopes to
// send. flushCounter may be nil.
func NewMultiplexer(send func(node int32, envelope []byte) error, flushCounter *atomic.Uint64) *Multiplexer {
	return &Multiplexer{
		batches:         make(map[int32]*batch),
		flushThreshold:  defaultFlushThreshold,
		maxBatchLatency: defaultMaxBatchLatency,
		pool:            NewPool(),
		send:            send,
		flushCounter:    flushCounter,
	}
}

// Multiplex appends msg's wire frame to the batch bound for its
// destination node, flushing immediately if msg is large or bypass-tagged,
// or once the running batch crosses the flush threshold, per spec §4.5
// steps 1-3.
func (m *Multiplexer) Multiplex(destNode int32, msg *Message) error {
	if msg.EncodedLen() >= bypassThreshold || isBypassTag(msg.Tag) {
		return m.sendSingle(destNode, msg)
	}

	m.mu.Lock()
	b, ok := m.batches[destNode]
	if !ok {
		b = newBatch(destNode)
		m.batches[destNode] = b
	}
	m.mu.Unlock()

	b.mu.Lock()
	if b.count == 0 {
		b.opened = time.Now()
	}
	var err error
	b.buf, err = msg.Encode(b.buf)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.count++
	shouldFlush := len(b.buf) >= m.flushThreshold
	b.mu.Unlock()

	if shouldFlush {
		return m.flushNode(destNode)
	}
	return nil
}

// sendSingle hands msg directly to the transport without batching, per
// spec §4.5 step 1.
func (m *Multiplexer) sendSingle(destNode int32, msg *Message) error {
	wire, err := msg.Encode(nil)
	if err != nil {
		return err
	}
	return m.send(destNode, wire)
}

// FlushExpired flushes every batch whose age has reached maxBatchLatency,
// per spec §4.5 "Flush triggers: ... age >= max-batch-latency ... from the
// main loop each iteration". Intended to be called once per node
// main-loop iteration (spec §4.1 step 2).
func (m *Multiplexer) FlushExpired() error {
	now := time.Now()

	m.mu.Lock()
	var expired []int32
	for node, b := range m.batches {
		b.mu.Lock()
		if b.count > 0 && now.Sub(b.opened) >= m.maxBatchLatency {
			expired = append(expired, node)
		}
		b.mu.Unlock()
	}
	m.mu.Unlock()

	for _, node := range expired {
		if err := m.flushNode(node); err != nil {
			return err
		}
	}
	return nil
}

// Flush forces the batch for destNode to flush now regardless of size or
// age, per spec §4.5 "caller forces flush".
func (m *Multiplexer) Flush(destNode int32) error {
	return m.flushNode(destNode)
}

func (m *Multiplexer) flushNode(destNode int32) error {
	m.mu.Lock()
	b, ok := m.batches[destNode]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	b.mu.Lock()
	if b.count == 0 {
		b.mu.Unlock()
		return nil
	}
	payload := b.buf
	count := b.count
	b.buf = nil
	b.count = 0
	b.mu.Unlock()

	envelope := make([]byte, 0, 8+len(payload))
	var hdr [8]byte
	nativeOrder.PutUint32(hdr[0:4], uint32(MultiplexMessage))
	nativeOrder.PutUint32(hdr[4:8], uint32(count))
	envelope = append(envelope, hdr[:]...)
	envelope = append(envelope, payload...)

	if m.flushCounter != nil {
		m.flushCounter.Add(1)
	}
	return m.send(destNode, envelope)
}

// Demultiplex iterates the frames of a batched envelope and invokes
// deliver for each rematerialized Message, per spec §4.5 "Demultiplex
// protocol on receive". envelope must NOT include the envelope_tag and
// frame_count header; callers peel that off first (see
// Node.handleInboundEnvelope).
func Demultiplex(envelope []byte, frameCount uint32, deliver func(Message)) error {
	off := 0
	for i := uint32(0); i < frameCount; i++ {
		msg, n, err := DecodeMessage(envelope[off:])
		if err != nil {
			return err
		}
		deliver(msg)
		off += n
	}
	return nil
}
