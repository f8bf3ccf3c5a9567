package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

var _ ports.FriendMutations = (*MutationService)(nil)

// MutationService implémente ports.FriendMutations.
// Ordre garanti : validation -> écriture en base -> mutation du cache -> publication.
// La base passe toujours avant le cache : en cas d'échec I/O le cache n'est jamais en avance.
type MutationService struct {
	cache       *GraphCache
	friendships ports.FriendshipStore
	publisher   ports.EventPublisher
}

func NewMutationService(cache *GraphCache, publisher ports.EventPublisher) *MutationService {
	return &MutationService{
		cache:       cache,
		friendships: cache.friendships,
		publisher:   publisher,
	}
}

// mutation décrit une transition Unrelated <-> Friends.
type mutation struct {
	op      string
	change  domain.FriendshipChange
	check   func(g *domain.Graph, u, v domain.UserID) error
	persist func(ctx context.Context, u, v domain.UserID) error
	apply   func(g *domain.Graph, u, v domain.UserID) error
}

func (s *MutationService) CreateFriendship(ctx context.Context, u, v domain.UserID) error {
	if u == v {
		s.cache.metrics.ObserveMutation("create", domain.KindSelfFriendship.String())
		return domain.ErrSelfFriendship
	}
	return s.run(ctx, u, v, s.createMutation())
}

func (s *MutationService) DeleteFriendship(ctx context.Context, u, v domain.UserID) error {
	return s.run(ctx, u, v, s.deleteMutation())
}

func (s *MutationService) createMutation() mutation {
	return mutation{
		op:     "create",
		change: domain.FriendshipCreated,
		check: func(g *domain.Graph, u, v domain.UserID) error {
			if err := requireKnown(g, u, v); err != nil {
				return err
			}
			if g.AreFriends(u, v) {
				return domain.ErrAlreadyFriends
			}
			return nil
		},
		persist: s.friendships.Insert,
		apply:   (*domain.Graph).AddEdge,
	}
}

func (s *MutationService) deleteMutation() mutation {
	return mutation{
		op:     "delete",
		change: domain.FriendshipDeleted,
		check: func(g *domain.Graph, u, v domain.UserID) error {
			if err := requireKnown(g, u, v); err != nil {
				return err
			}
			if !g.AreFriends(u, v) {
				return domain.ErrNotFriends
			}
			return nil
		},
		persist: s.friendships.Delete,
		apply:   (*domain.Graph).RemoveEdge,
	}
}

func (s *MutationService) run(ctx context.Context, u, v domain.UserID, m mutation) (err error) {
	defer func() {
		s.cache.metrics.ObserveMutation(m.op, outcomeOf(err))
	}()

	if _, err := s.cache.Acquire(ctx); err != nil {
		return err
	}

	resync, err := s.commit(ctx, u, v, m)
	if resync {
		// Le cache n'est plus aligné sur la base : rechargement complet plutôt qu'un état bancal
		slog.Warn("Cache out of sync with store, forcing refresh", "op", m.op, "user_a", u, "user_b", v, "error", err)
		if rerr := s.cache.Refresh(ctx); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	if err != nil {
		return err
	}

	event := domain.FriendshipEvent{
		Change:     m.change,
		UserA:      u,
		UserB:      v,
		OccurredAt: time.Now().UTC(),
	}
	if s.publisher != nil {
		if perr := s.publisher.PublishFriendshipChanged(ctx, event); perr != nil {
			// Best effort : la base et le cache sont déjà à jour
			slog.Error("Failed to publish friendship event", "change", m.change, "error", perr)
		}
	}
	return nil
}

// commit tient writeMu de la validation jusqu'à la publication du nouveau snapshot.
// resync indique qu'un refresh complet est nécessaire (à faire hors verrou).
func (s *MutationService) commit(ctx context.Context, u, v domain.UserID, m mutation) (resync bool, err error) {
	c := s.cache
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snap := c.current.Load()
	if err := m.check(snap.Graph, u, v); err != nil {
		return false, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()
	if err := m.persist(storeCtx, u, v); err != nil {
		if isStoreConflict(err) {
			return true, err
		}
		return false, asStoreError(m.op+" friendship", err)
	}

	next := snap.Graph.Detach(u, v)
	if err := m.apply(next, u, v); err != nil {
		return true, err
	}

	c.publishLocked(snap.WithGraph(next))
	c.mutations.Add(1)
	return false, nil
}

// isStoreConflict : la base contredit le cache, qui avait validé l'opération.
// Soit elle connaissait déjà l'état cible, soit un utilisateur a été supprimé (FK).
func isStoreConflict(err error) bool {
	return errors.Is(err, domain.ErrAlreadyFriends) ||
		errors.Is(err, domain.ErrNotFriends) ||
		errors.Is(err, domain.ErrUnknownUser)
}

func requireKnown(g *domain.Graph, ids ...domain.UserID) error {
	for _, id := range ids {
		if !g.Has(id) {
			return domain.UnknownUserError(id)
		}
	}
	return nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}
