package domain

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Jeu d'exemple : A=1, B=2, C=3, D=4 ; (1,2), (2,3), (1,4)
func exampleGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := RebuildGraph(
		[]UserID{1, 2, 3, 4},
		[]Edge{{1, 2}, {2, 3}, {1, 4}},
	)
	require.NoError(t, err)
	return g
}

func sorted(ids []UserID) []UserID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func neighbors(t *testing.T, g *Graph, u UserID) []UserID {
	t.Helper()
	ids, err := g.Neighbors(u)
	require.NoError(t, err)
	return sorted(ids)
}

func TestRebuildGraph(t *testing.T) {
	t.Run("builds symmetric adjacency", func(t *testing.T) {
		g := exampleGraph(t)

		assert.Equal(t, []UserID{2, 4}, neighbors(t, g, 1))
		assert.Equal(t, []UserID{1, 3}, neighbors(t, g, 2))
		assert.Equal(t, []UserID{2}, neighbors(t, g, 3))
		assert.Equal(t, []UserID{1}, neighbors(t, g, 4))
		assert.Equal(t, 4, g.Len())
		assert.Equal(t, 3, g.EdgeCount())
	})

	t.Run("user without friends still has an entry", func(t *testing.T) {
		g, err := RebuildGraph([]UserID{1, 2, 9}, []Edge{{1, 2}})
		require.NoError(t, err)

		assert.True(t, g.Has(9))
		assert.Empty(t, neighbors(t, g, 9))
	})

	t.Run("duplicate and reversed edges collapse", func(t *testing.T) {
		g, err := RebuildGraph([]UserID{1, 2}, []Edge{{1, 2}, {2, 1}, {1, 2}})
		require.NoError(t, err)

		assert.Equal(t, []UserID{2}, neighbors(t, g, 1))
		assert.Equal(t, 1, g.EdgeCount())
	})

	t.Run("edge to unknown id is rejected", func(t *testing.T) {
		_, err := RebuildGraph([]UserID{1, 2}, []Edge{{1, 2}, {2, 7}})
		assert.ErrorIs(t, err, ErrInconsistentEdge)
	})

	t.Run("self loop is rejected", func(t *testing.T) {
		_, err := RebuildGraph([]UserID{1}, []Edge{{1, 1}})
		assert.ErrorIs(t, err, ErrInconsistentEdge)
	})
}

func TestGraphInvariants(t *testing.T) {
	g, err := RebuildGraph(
		[]UserID{1, 2, 3, 4, 5, 6},
		[]Edge{{1, 2}, {2, 3}, {3, 4}, {4, 1}, {5, 1}, {6, 3}, {2, 5}},
	)
	require.NoError(t, err)

	for u := UserID(1); u <= 6; u++ {
		assert.False(t, g.AreFriends(u, u), "user %d is its own friend", u)
		for v := UserID(1); v <= 6; v++ {
			assert.Equal(t, g.AreFriends(u, v), g.AreFriends(v, u), "asymmetric pair (%d,%d)", u, v)
		}
	}
}

func TestGraphNeighborsUnknownUser(t *testing.T) {
	g := exampleGraph(t)

	_, err := g.Neighbors(42)
	assert.ErrorIs(t, err, ErrUnknownUser)

	err = g.EachNeighbor(42, func(UserID) {})
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestGraphAddEdge(t *testing.T) {
	t.Run("adds both sides", func(t *testing.T) {
		g := exampleGraph(t)

		require.NoError(t, g.AddEdge(3, 4))
		assert.Equal(t, []UserID{2, 4}, neighbors(t, g, 3))
		assert.Equal(t, []UserID{1, 3}, neighbors(t, g, 4))
		assert.Equal(t, 4, g.EdgeCount())
	})

	t.Run("self friendship", func(t *testing.T) {
		g := exampleGraph(t)
		assert.ErrorIs(t, g.AddEdge(1, 1), ErrSelfFriendship)
	})

	t.Run("already friends", func(t *testing.T) {
		g := exampleGraph(t)
		assert.ErrorIs(t, g.AddEdge(1, 2), ErrAlreadyFriends)
		assert.ErrorIs(t, g.AddEdge(2, 1), ErrAlreadyFriends)
	})

	t.Run("unknown user", func(t *testing.T) {
		g := exampleGraph(t)
		assert.ErrorIs(t, g.AddEdge(1, 99), ErrUnknownUser)
		assert.ErrorIs(t, g.AddEdge(99, 1), ErrUnknownUser)
	})
}

func TestGraphRemoveEdge(t *testing.T) {
	t.Run("removes both sides", func(t *testing.T) {
		g := exampleGraph(t)

		require.NoError(t, g.RemoveEdge(2, 1))
		assert.Equal(t, []UserID{4}, neighbors(t, g, 1))
		assert.Equal(t, []UserID{3}, neighbors(t, g, 2))
		assert.Equal(t, 2, g.EdgeCount())
	})

	t.Run("not friends", func(t *testing.T) {
		g := exampleGraph(t)
		assert.ErrorIs(t, g.RemoveEdge(3, 4), ErrNotFriends)
		assert.ErrorIs(t, g.RemoveEdge(3, 3), ErrNotFriends)
	})

	t.Run("round trip restores neighbors", func(t *testing.T) {
		g := exampleGraph(t)

		require.NoError(t, g.AddEdge(3, 4))
		require.NoError(t, g.RemoveEdge(3, 4))
		assert.Equal(t, []UserID{2}, neighbors(t, g, 3))
		assert.Equal(t, []UserID{1}, neighbors(t, g, 4))
	})
}

func TestGraphDetach(t *testing.T) {
	original := exampleGraph(t)

	clone := original.Detach(3, 4)
	require.NoError(t, clone.AddEdge(3, 4))

	// L'original publié n'a pas bougé
	assert.False(t, original.AreFriends(3, 4))
	assert.Equal(t, []UserID{2}, neighbors(t, original, 3))
	assert.Equal(t, 3, original.EdgeCount())

	assert.True(t, clone.AreFriends(3, 4))
	assert.True(t, clone.AreFriends(4, 3))
	assert.Equal(t, 4, clone.EdgeCount())

	// Les ensembles non détachés restent partagés mais identiques
	assert.Equal(t, neighbors(t, original, 2), neighbors(t, clone, 2))
}

func TestEdgeCanonical(t *testing.T) {
	assert.Equal(t, Edge{A: 1, B: 5}, Edge{A: 5, B: 1}.Canonical())
	assert.Equal(t, Edge{A: 1, B: 5}, Edge{A: 1, B: 5}.Canonical())
}
