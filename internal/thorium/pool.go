package thorium

import (
	"sync"
	"sync/atomic"
)

// defaultBlockSize is the size of one arena block used by a Pool's bump
// allocator, and the threshold above which an allocation bypasses the arena
// entirely and is tracked as a large block.
const defaultBlockSize = 64 * 1024

// Pool is a per-owner arena allocator with size-class recycling, grounded in
// spec §3 "Memory pool" / §4.6. Each node owns three (inbound, outbound,
// actor-state) and each worker owns two (outbound, scratch). Every method
// takes mu, so a Pool is safe for concurrent use; a worker hands buffers
// that another worker's outbound pool allocated back through that worker's
// triage queue (see Worker.triage), while the node's inbound pool is freed
// into directly by whichever goroutine releases the buffer.
type Pool struct {
	mu sync.Mutex

	blockSize int
	tracking  bool
	normalize bool

	current    []byte
	currentOff int

	dried []block
	ready []block

	recycle map[int][][]byte

	large map[*[0]byte]struct{}
	// allocated maps a pointer identity (via &buf[0]) to its size, used
	// only when tracking is enabled, to validate Free calls.
	allocated map[*[0]byte]int

	// allocCounter, when set, is incremented once per Allocate call, for
	// the node-wide PoolAllocations instrumentation counter (spec §4.1
	// step 4 / SPEC_FULL.md §3 "Instrumentation counters").
	allocCounter *atomic.Uint64
}

type block struct {
	buf []byte
}

// PoolOption configures a Pool at construction time.
type PoolOption func(*Pool)

// WithBlockSize overrides the default arena block size.
func WithBlockSize(size int) PoolOption {
	return func(p *Pool) { p.blockSize = size }
}

// WithTracking enables recording of outstanding allocations so that Free
// can recycle them by size class instead of requiring free_all.
func WithTracking() PoolOption {
	return func(p *Pool) { p.tracking = true }
}

// WithNormalization rounds every requested size up to the next power of
// two before allocating, increasing the recycle bin's hit rate by
// coalescing requests onto a small lattice of size classes.
func WithNormalization() PoolOption {
	return func(p *Pool) { p.normalize = true }
}

// WithAllocCounter wires c as the pool's node-wide allocation counter, so
// every Allocate call is reflected in Node.Counters().PoolAllocations.
func WithAllocCounter(c *atomic.Uint64) PoolOption {
	return func(p *Pool) { p.allocCounter = c }
}

// NewPool constructs a Pool with the given options.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		blockSize: defaultBlockSize,
		recycle:   make(map[int][][]byte),
		large:     make(map[*[0]byte]struct{}),
		allocated: make(map[*[0]byte]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.current = make([]byte, p.blockSize)
	return p
}

// ptrKey returns a pointer identity usable as a map key for buf, without
// retaining the slice header (only its backing array's first element).
func ptrKey(buf []byte) *[0]byte {
	if cap(buf) == 0 {
		return nil
	}
	return (*[0]byte)(buf[:0:cap(buf)])
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}

// Allocate returns a []byte of at least size bytes, per spec §4.6.
func (p *Pool) Allocate(size int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.allocCounter != nil {
		p.allocCounter.Add(1)
	}

	if p.normalize {
		size = nextPowerOfTwo(size)
	}

	if size >= p.blockSize {
		buf := make([]byte, size)
		p.large[ptrKey(buf)] = struct{}{}
		return buf
	}

	if p.tracking {
		if bucket := p.recycle[size]; len(bucket) > 0 {
			buf := bucket[len(bucket)-1]
			p.recycle[size] = bucket[:len(bucket)-1]
			p.allocated[ptrKey(buf)] = size
			return buf
		}
	}

	if p.currentOff+size > len(p.current) {
		p.dried = append(p.dried, block{buf: p.current})
		p.current = p.takeReadyBlockLocked()
		p.currentOff = 0
	}

	buf := p.current[p.currentOff : p.currentOff+size : p.currentOff+size]
	p.currentOff += size

	if p.tracking {
		p.allocated[ptrKey(buf)] = size
	}
	return buf
}

func (p *Pool) takeReadyBlockLocked() []byte {
	if n := len(p.ready); n > 0 {
		b := p.ready[n-1]
		p.ready = p.ready[:n-1]
		return b.buf
	}
	sz := p.blockSize
	return make([]byte, sz)
}

// Free returns buf to the pool, per spec §4.6. A double-free or a pointer
// the pool never allocated is silently ignored, matching spec.
func (p *Pool) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := ptrKey(buf)

	if _, ok := p.large[key]; ok {
		delete(p.large, key)
		return
	}

	if !p.tracking {
		return
	}

	size, ok := p.allocated[key]
	if !ok {
		return
	}
	delete(p.allocated, key)
	p.recycle[size] = append(p.recycle[size], buf[:size:size])
}

// FreeAll resets the bump pointer on the current block and every dried
// block, moving dried blocks into the ready queue, per spec §4.6. The
// recycle bin and large-block set are untouched.
func (p *Pool) FreeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentOff = 0
	p.ready = append(p.ready, p.dried...)
	p.dried = p.dried[:0]
}
