package ports

import (
	"context"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
)

// --- PORTS PRIMAIRES (Driving) ---
// C'est l'API que l'hexagone expose aux adapters (HTTP, gRPC, events).

// FriendQueries : lectures pures sur le snapshot courant.
type FriendQueries interface {
	FriendsOf(ctx context.Context, u domain.UserID) ([]domain.UserRecord, error)
	MutualFriends(ctx context.Context, u, v domain.UserID) ([]domain.UserRecord, error)
	MutualCount(ctx context.Context, u, v domain.UserID) (int, error)
	SuggestedFriends(ctx context.Context, u domain.UserID) ([]domain.Suggestion, error)
	AllUsersExcept(ctx context.Context, u domain.UserID) ([]domain.Suggestion, error)
	AreFriends(ctx context.Context, u, v domain.UserID) (bool, error)

	// Annuaire
	User(ctx context.Context, u domain.UserID) (domain.UserRecord, error)
	UserByName(ctx context.Context, name string) (domain.UserRecord, error)
}

// FriendMutations : transitions Unrelated <-> Friends.
type FriendMutations interface {
	CreateFriendship(ctx context.Context, u, v domain.UserID) error
	DeleteFriendship(ctx context.Context, u, v domain.UserID) error
}

// GraphCacheAdmin pilote le cycle de vie du cache.
type GraphCacheAdmin interface {
	Refresh(ctx context.Context) error
	Stats() domain.SnapshotStats
	// Invalidate : le stockage a changé ailleurs (autre réplica, identity-service)
	Invalidate()
}
