package domain

import "time"

// Snapshot est une copie point-in-time de l'annuaire et du graphe, publiée atomiquement.
type Snapshot struct {
	Version   uint64
	LoadedAt  time.Time
	Directory *Directory
	Graph     *Graph
}

// EmptySnapshot sert avant le premier chargement : tout ID y est inconnu.
func EmptySnapshot() *Snapshot {
	g, _ := RebuildGraph(nil, nil)
	return &Snapshot{
		Directory: LoadDirectory(nil),
		Graph:     g,
	}
}

// WithGraph dérive un snapshot qui partage l'annuaire (mutation incrémentale).
// La version est attribuée à la publication.
func (s *Snapshot) WithGraph(g *Graph) *Snapshot {
	return &Snapshot{
		LoadedAt:  s.LoadedAt,
		Directory: s.Directory,
		Graph:     g,
	}
}

// SnapshotStats est exposé par l'endpoint d'admin.
type SnapshotStats struct {
	Version  uint64
	Users    int
	Edges    int
	LoadedAt time.Time
}

func (s *Snapshot) Stats() SnapshotStats {
	return SnapshotStats{
		Version:  s.Version,
		Users:    s.Graph.Len(),
		Edges:    s.Graph.EdgeCount(),
		LoadedAt: s.LoadedAt,
	}
}

// Suggestion annote un utilisateur avec son nombre d'amis en commun.
type Suggestion struct {
	User        UserRecord
	MutualCount int
}
