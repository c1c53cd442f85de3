package thorium

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNamerDeterministicAssignment verifies spec.md §4.1: under
// deterministic naming, name mod nodeCount == nodeID, giving O(1) location
// lookup.
func TestNamerDeterministicAssignment(t *testing.T) {
	t.Parallel()

	n := newNamer(true, 2, 4, 1<<10)

	var names []Name
	for i := 0; i < 5; i++ {
		name, err := n.assign()
		require.NoError(t, err)
		names = append(names, name)
		require.EqualValues(t, 2, int32(name)%4)
	}

	// Names assigned to one node are distinct.
	seen := make(map[Name]bool)
	for _, name := range names {
		require.False(t, seen[name], "duplicate name %d", name)
		seen[name] = true
	}
}

func TestNamerActorNode(t *testing.T) {
	t.Parallel()

	n := newNamer(true, 0, 4, 1<<10)
	node, ok := n.actorNode(Name(9))
	require.True(t, ok)
	require.EqualValues(t, 1, node) // 9 % 4 == 1

	single := newNamer(true, 3, 1, 1<<10)
	node, ok = single.actorNode(Name(123))
	require.True(t, ok)
	require.EqualValues(t, 3, node)
}

func TestNamerRandomAssignmentNoLocationLookup(t *testing.T) {
	t.Parallel()

	n := newNamer(false, 0, 4, 1<<10)
	name, err := n.assign()
	require.NoError(t, err)
	require.GreaterOrEqual(t, int32(name), int32(0))

	_, ok := n.actorNode(name)
	require.False(t, ok)
}
