package services

import (
	"context"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

var _ ports.FriendQueries = (*QueryService)(nil)

// QueryService implémente ports.FriendQueries.
// Chaque méthode obtient UN snapshot au début et ne lit que lui jusqu'au bout.
type QueryService struct {
	cache *GraphCache
}

func NewQueryService(cache *GraphCache) *QueryService {
	return &QueryService{cache: cache}
}

func (s *QueryService) FriendsOf(ctx context.Context, u domain.UserID) ([]domain.UserRecord, error) {
	snap, err := s.cache.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := snap.Graph.Neighbors(u)
	if err != nil {
		return nil, err
	}
	return toRecords(snap, ids), nil
}

func (s *QueryService) MutualFriends(ctx context.Context, u, v domain.UserID) ([]domain.UserRecord, error) {
	snap, err := s.cache.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireKnown(snap.Graph, u, v); err != nil {
		return nil, err
	}
	return toRecords(snap, mutual(snap.Graph, u, v)), nil
}

func (s *QueryService) MutualCount(ctx context.Context, u, v domain.UserID) (int, error) {
	snap, err := s.cache.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	if err := requireKnown(snap.Graph, u, v); err != nil {
		return 0, err
	}
	return len(mutual(snap.Graph, u, v)), nil
}

// SuggestedFriends renvoie les amis d'amis (exactement deux sauts) qui ne sont ni u ni déjà amis.
// Coût O(Σ deg(f)) pour f ∈ N(u), résultat non borné.
func (s *QueryService) SuggestedFriends(ctx context.Context, u domain.UserID) ([]domain.Suggestion, error) {
	snap, err := s.cache.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := twoHopCounts(snap.Graph, u)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Suggestion, 0, len(counts))
	for w, n := range counts {
		if snap.Graph.AreFriends(u, w) {
			continue
		}
		out = append(out, domain.Suggestion{User: snap.Directory.Record(w), MutualCount: n})
	}
	return out, nil
}

// AllUsersExcept liste tout le monde sauf u, avec le nombre d'amis en commun (0 inclus).
func (s *QueryService) AllUsersExcept(ctx context.Context, u domain.UserID) ([]domain.Suggestion, error) {
	snap, err := s.cache.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := twoHopCounts(snap.Graph, u)
	if err != nil {
		return nil, err
	}

	ids := snap.Directory.IDs()
	out := make([]domain.Suggestion, 0, len(ids))
	for _, w := range ids {
		if w == u {
			continue
		}
		out = append(out, domain.Suggestion{User: snap.Directory.Record(w), MutualCount: counts[w]})
	}
	return out, nil
}

func (s *QueryService) AreFriends(ctx context.Context, u, v domain.UserID) (bool, error) {
	snap, err := s.cache.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if err := requireKnown(snap.Graph, u, v); err != nil {
		return false, err
	}
	return snap.Graph.AreFriends(u, v), nil
}

func (s *QueryService) User(ctx context.Context, u domain.UserID) (domain.UserRecord, error) {
	snap, err := s.cache.Acquire(ctx)
	if err != nil {
		return domain.UserRecord{}, err
	}
	name, err := snap.Directory.NameOf(u)
	if err != nil {
		return domain.UserRecord{}, err
	}
	return domain.UserRecord{ID: u, Name: name}, nil
}

// UserByName : lookup "best effort", les noms ne sont pas uniques en base.
func (s *QueryService) UserByName(ctx context.Context, name string) (domain.UserRecord, error) {
	snap, err := s.cache.Acquire(ctx)
	if err != nil {
		return domain.UserRecord{}, err
	}
	id, err := snap.Directory.IDOf(name)
	if err != nil {
		return domain.UserRecord{}, err
	}
	return domain.UserRecord{ID: id, Name: name}, nil
}

// --- ALGOS ---

// mutual intersecte N(u) et N(v) en parcourant le plus petit des deux.
func mutual(g *domain.Graph, u, v domain.UserID) []domain.UserID {
	small, large := u, v
	if g.Degree(v) < g.Degree(u) {
		small, large = v, u
	}
	var out []domain.UserID
	_ = g.EachNeighbor(small, func(f domain.UserID) {
		if g.AreFriends(large, f) {
			out = append(out, f)
		}
	})
	return out
}

// twoHopCounts compte, pour chaque w ≠ u atteint en deux sauts, le nombre de chemins u-f-w.
// Ce nombre vaut |N(u) ∩ N(w)|, soit mutualCount(w, u).
// Les amis directs de u peuvent y figurer : à l'appelant de les filtrer.
func twoHopCounts(g *domain.Graph, u domain.UserID) (map[domain.UserID]int, error) {
	counts := make(map[domain.UserID]int)
	err := g.EachNeighbor(u, func(f domain.UserID) {
		_ = g.EachNeighbor(f, func(w domain.UserID) {
			if w != u {
				counts[w]++
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func toRecords(snap *domain.Snapshot, ids []domain.UserID) []domain.UserRecord {
	out := make([]domain.UserRecord, len(ids))
	for i, id := range ids {
		out[i] = snap.Directory.Record(id)
	}
	return out
}
