// Package partitioner implements a demonstration application-layer actor:
// a sequence partitioner that divides a set of entries into per-store
// blocks once it has learned its block size, entry counts, and store
// count. It is an ordinary script built atop the thorium engine, not part
// of the core (spec.md §1 "application-layer actors themselves ... are
// external collaborators"); it exists to exercise the engine end-to-end
// with something other than a synthetic ping-pong, matching the
// "Partitioner handshake" scenario of spec.md §8.
package partitioner

import (
	"encoding/binary"

	"github.com/roasbeef/thorium/internal/thorium"
)

// Application tags for the partitioner handshake. These are ordinary
// opaque tags from the engine's perspective; thorium interprets only its
// own reserved system tags (spec.md §6 "Reserved tag ranges").
const (
	TagSetBlockSize Tag = iota + 1
	TagSetEntryVector
	TagSetActorCount
	TagProvideStoreEntryCounts
)

// Tag is a local alias so this package's tag constants read naturally;
// the wire type is still thorium.Tag.
type Tag = thorium.Tag

// ScriptID identifies this script class in a node's registry.
const ScriptID thorium.ScriptID = 100

// New returns a ScriptFactory suitable for RegisterScript(ScriptID, ...).
func New() thorium.ScriptFactory {
	return func() thorium.Script {
		return &partitionerScript{}
	}
}

// partitionerScript holds the per-actor state of one partitioner: it
// accumulates the three handshake parameters in any order and replies once
// all three have arrived, per spec.md §8 scenario 6.
type partitionerScript struct {
	blockSize   int
	entryVector []int
	actorCount  int

	haveBlockSize  bool
	haveEntries    bool
	haveActorCount bool

	replied bool
}

func (s *partitionerScript) Init(ctx *thorium.Context) error {
	return nil
}

func (s *partitionerScript) Destroy(ctx *thorium.Context) {}

func (s *partitionerScript) Receive(ctx *thorium.Context, msg thorium.Message) {
	switch msg.Tag {
	case TagSetBlockSize:
		s.blockSize = int(decodeUint32(msg.Payload))
		s.haveBlockSize = true

	case TagSetEntryVector:
		s.entryVector = decodeUint32Vector(msg.Payload)
		s.haveEntries = true

	case TagSetActorCount:
		s.actorCount = int(decodeUint32(msg.Payload))
		s.haveActorCount = true

	default:
		return
	}

	if s.replied || !(s.haveBlockSize && s.haveEntries && s.haveActorCount) {
		return
	}
	s.replied = true

	counts := storeEntryCounts(s.blockSize, sum(s.entryVector), s.actorCount)
	_ = ctx.Send(msg.Source, TagProvideStoreEntryCounts, encodeUint32Vector(counts))
}

// storeEntryCounts divides total entries across actorCount stores, each
// holding up to blockSize entries, assigning blockSize to every store but
// the last until the remainder no longer fills one, matching spec.md §8
// scenario 6 ("[4096, 4096, 1808]" for block_size=4096, total=10000,
// actorCount=3). The last store absorbs whatever is left over, including
// more than blockSize when actorCount*blockSize < total, so entries are
// never silently dropped.
func storeEntryCounts(blockSize, total, actorCount int) []int {
	if actorCount <= 0 {
		return nil
	}
	counts := make([]int, actorCount)
	remaining := total
	for i := 0; i < actorCount; i++ {
		if i == actorCount-1 {
			counts[i] = remaining
			break
		}
		switch {
		case remaining >= blockSize:
			counts[i] = blockSize
			remaining -= blockSize
		case remaining > 0:
			counts[i] = remaining
			remaining = 0
		default:
			counts[i] = 0
		}
	}
	return counts
}

func sum(v []int) int {
	total := 0
	for _, n := range v {
		total += n
	}
	return total
}

func decodeUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func decodeUint32Vector(b []byte) []int {
	n := len(b) / 4
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return out
}

func encodeUint32Vector(v []int) []byte {
	out := make([]byte, len(v)*4)
	for i, n := range v {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], uint32(n))
	}
	return out
}

// EncodeUint32 exposes the handshake's scalar wire format to callers
// sending SET_BLOCK_SIZE / SET_ACTOR_COUNT messages.
func EncodeUint32(n int) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(n))
	return out
}

// EncodeUint32Vector exposes the handshake's vector wire format to callers
// sending SET_ENTRY_VECTOR / reading PROVIDE_STORE_ENTRY_COUNTS.
func EncodeUint32Vector(v []int) []byte {
	return encodeUint32Vector(v)
}

// DecodeUint32Vector is the reader-side counterpart of EncodeUint32Vector.
func DecodeUint32Vector(b []byte) []int {
	return decodeUint32Vector(b)
}
