package ports

import (
	"context"
	"time"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
)

// --- PERSISTANCE (Driven) ---

// UserStore expose la table des utilisateurs. Toute erreur I/O est une erreur de stockage.
type UserStore interface {
	ListUsers(ctx context.Context) ([]domain.UserRecord, error)
}

// FriendshipStore est la source de vérité des amitiés.
type FriendshipStore interface {
	// ListEdges renvoie chaque arête non orientée une seule fois
	ListEdges(ctx context.Context) ([]domain.Edge, error)

	// Insert peut renvoyer domain.ErrAlreadyFriends si le lien existe déjà en base
	Insert(ctx context.Context, a, b domain.UserID) error

	// Delete peut renvoyer domain.ErrNotFriends si aucune ligne n'a été supprimée
	Delete(ctx context.Context, a, b domain.UserID) error
}

// Store regroupe les deux contrats : chaque backend (Postgres, Neo4j, Redis) implémente les deux.
type Store interface {
	UserStore
	FriendshipStore
}

// --- MESSAGERIE ---

// EventPublisher notifie Nats qu'une amitié a changé. Best effort.
type EventPublisher interface {
	PublishFriendshipChanged(ctx context.Context, event domain.FriendshipEvent) error
}

// --- OBSERVABILITÉ ---

// CacheMetrics est implémenté par le collecteur Prometheus.
type CacheMetrics interface {
	ObserveRefresh(outcome string, d time.Duration)
	ObserveMutation(op, outcome string)
	SetSnapshotSize(users, edges int)
}
