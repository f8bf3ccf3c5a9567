package services

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
)

func sortRecords(records []domain.UserRecord) []domain.UserRecord {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

func sortSuggestions(s []domain.Suggestion) []domain.Suggestion {
	sort.Slice(s, func(i, j int) bool { return s[i].User.ID < s[j].User.ID })
	return s
}

func rec(id domain.UserID, name string) domain.UserRecord {
	return domain.UserRecord{ID: id, Name: name}
}

func setupQueries(t *testing.T) (*QueryService, *fakeStore) {
	t.Helper()
	store := exampleStore()
	cache := NewGraphCache(store, store, nil, CacheOptions{})
	return NewQueryService(cache), store
}

func TestQueryService_WorkedExample(t *testing.T) {
	q, _ := setupQueries(t)
	ctx := context.Background()

	t.Run("friends of A", func(t *testing.T) {
		friends, err := q.FriendsOf(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []domain.UserRecord{rec(2, "B"), rec(4, "D")}, sortRecords(friends))
	})

	t.Run("mutual friends of A and C", func(t *testing.T) {
		mutual, err := q.MutualFriends(ctx, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, []domain.UserRecord{rec(2, "B")}, mutual)

		n, err := q.MutualCount(ctx, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("suggestions for A", func(t *testing.T) {
		suggestions, err := q.SuggestedFriends(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []domain.Suggestion{{User: rec(3, "C"), MutualCount: 1}}, suggestions)
	})

	t.Run("all users except A", func(t *testing.T) {
		all, err := q.AllUsersExcept(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []domain.Suggestion{
			{User: rec(2, "B"), MutualCount: 0},
			{User: rec(3, "C"), MutualCount: 1},
			{User: rec(4, "D"), MutualCount: 0},
		}, sortSuggestions(all))
	})

	t.Run("are friends", func(t *testing.T) {
		ok, err := q.AreFriends(ctx, 2, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = q.AreFriends(ctx, 3, 4)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("lookups", func(t *testing.T) {
		u, err := q.User(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, rec(3, "C"), u)

		u, err = q.UserByName(ctx, "D")
		require.NoError(t, err)
		assert.Equal(t, rec(4, "D"), u)
	})
}

func TestQueryService_UnknownUser(t *testing.T) {
	q, _ := setupQueries(t)
	ctx := context.Background()

	_, err := q.FriendsOf(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrUnknownUser)

	_, err = q.MutualFriends(ctx, 1, 42)
	assert.ErrorIs(t, err, domain.ErrUnknownUser)

	_, err = q.MutualCount(ctx, 42, 1)
	assert.ErrorIs(t, err, domain.ErrUnknownUser)

	_, err = q.SuggestedFriends(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrUnknownUser)

	_, err = q.AllUsersExcept(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrUnknownUser)

	_, err = q.AreFriends(ctx, 1, 42)
	assert.ErrorIs(t, err, domain.ErrUnknownUser)

	_, err = q.User(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrUnknownUser)

	_, err = q.UserByName(ctx, "Zed")
	assert.ErrorIs(t, err, domain.ErrUnknownUser)
}

func TestQueryService_StoreFailure(t *testing.T) {
	q, store := setupQueries(t)
	store.listUsersErr = errors.New("db down")

	_, err := q.FriendsOf(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.Equal(t, domain.KindStore, domain.KindOf(err))
}

func TestQueryService_MutualSymmetry(t *testing.T) {
	store := newFakeStore(
		[]domain.UserRecord{rec(1, "a"), rec(2, "b"), rec(3, "c"), rec(4, "d"), rec(5, "e"), rec(6, "f")},
		domain.Edge{A: 1, B: 2}, domain.Edge{A: 1, B: 3}, domain.Edge{A: 1, B: 4},
		domain.Edge{A: 5, B: 2}, domain.Edge{A: 5, B: 3}, domain.Edge{A: 6, B: 4},
		domain.Edge{A: 6, B: 1},
	)
	q := NewQueryService(NewGraphCache(store, store, nil, CacheOptions{}))
	ctx := context.Background()

	for u := domain.UserID(1); u <= 6; u++ {
		for v := domain.UserID(1); v <= 6; v++ {
			uv, err := q.MutualFriends(ctx, u, v)
			require.NoError(t, err)
			vu, err := q.MutualFriends(ctx, v, u)
			require.NoError(t, err)
			assert.Equal(t, sortRecords(uv), sortRecords(vu), "mutual(%d,%d)", u, v)

			n, err := q.MutualCount(ctx, u, v)
			require.NoError(t, err)
			assert.Equal(t, len(uv), n)
		}
	}

	// 1 et 5 partagent 2 et 3
	n, err := q.MutualCount(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueryService_SuggestionsExcludeSelfAndFriends(t *testing.T) {
	store := newFakeStore(
		[]domain.UserRecord{rec(1, "a"), rec(2, "b"), rec(3, "c"), rec(4, "d"), rec(5, "e")},
		// Triangle 1-2-3, plus 3-4 et 2-4 ; 5 isolé
		domain.Edge{A: 1, B: 2}, domain.Edge{A: 2, B: 3}, domain.Edge{A: 1, B: 3},
		domain.Edge{A: 3, B: 4}, domain.Edge{A: 2, B: 4},
	)
	q := NewQueryService(NewGraphCache(store, store, nil, CacheOptions{}))
	ctx := context.Background()

	suggestions, err := q.SuggestedFriends(ctx, 1)
	require.NoError(t, err)
	// 2 et 3 sont amis directs malgré leurs chemins à deux sauts
	assert.Equal(t, []domain.Suggestion{{User: rec(4, "d"), MutualCount: 2}}, suggestions)

	for u := domain.UserID(1); u <= 5; u++ {
		got, err := q.SuggestedFriends(ctx, u)
		require.NoError(t, err)
		for _, s := range got {
			assert.NotEqual(t, u, s.User.ID)
			friends, err := q.AreFriends(ctx, u, s.User.ID)
			require.NoError(t, err)
			assert.False(t, friends)

			n, err := q.MutualCount(ctx, u, s.User.ID)
			require.NoError(t, err)
			assert.Equal(t, n, s.MutualCount)
			assert.Positive(t, s.MutualCount)
		}
	}

	isolated, err := q.SuggestedFriends(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, isolated)
}

func TestQueryService_EmptyGraph(t *testing.T) {
	store := newFakeStore([]domain.UserRecord{rec(1, "solo")})
	q := NewQueryService(NewGraphCache(store, store, nil, CacheOptions{}))
	ctx := context.Background()

	friends, err := q.FriendsOf(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, friends)

	all, err := q.AllUsersExcept(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, all)
}
