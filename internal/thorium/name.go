package thorium

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Name is the globally unique integer address of an actor. It is the sole
// address an actor is ever referred to by; senders hold names, never
// pointers, across thread or node boundaries.
type Name int32

// NoActor is the zero value used where "no actor" must be distinguished from
// a valid name. Valid names are always >= 0.
const NoActor Name = -1

// namer assigns names for actors spawned on one node. Two schemes are
// supported, selected at construction time:
//
//   - deterministic: name mod nodeCount == nodeID, so actor_node(name) =
//     name mod nodeCount is an O(1) computation requiring no directory.
//   - random: 31-bit random names; resolving the owning node requires an
//     out-of-band directory, which is out of scope for this package (see
//     spec §4.1 "Name assignment").
type namer struct {
	deterministic bool
	nodeID        int32
	nodeCount     int32
	actorsPerNode int32
	next          atomic.Int64
}

func newNamer(deterministic bool, nodeID, nodeCount, actorsPerNode int32) *namer {
	if nodeCount < 1 {
		nodeCount = 1
	}
	if actorsPerNode < 1 {
		actorsPerNode = 1
	}
	return &namer{
		deterministic: deterministic,
		nodeID:        nodeID,
		nodeCount:     nodeCount,
		actorsPerNode: actorsPerNode,
	}
}

// assign returns the next name for a newly spawned actor on this node.
func (n *namer) assign() (Name, error) {
	if n.deterministic {
		seq := n.next.Add(1) - 1
		local := int32(seq)
		name := local*n.nodeCount + n.nodeID
		return Name(name), nil
	}

	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return NoActor, fmt.Errorf("thorium: generating random name: %w", err)
	}
	// Clear the sign bit: names are 31-bit non-negative integers.
	v := binary.BigEndian.Uint32(buf[:]) &^ (1 << 31)
	return Name(v), nil
}

// actorNode computes the owning node id for name under the deterministic
// naming scheme: actor_node(name) = name mod nodeCount, the inverse of the
// interleaved assignment above. actorsPerNode plays no part in it.
func (n *namer) actorNode(name Name) (int32, bool) {
	if !n.deterministic {
		return 0, false
	}
	if n.nodeCount <= 1 {
		return n.nodeID, true
	}
	return int32(name) % n.nodeCount, true
}
