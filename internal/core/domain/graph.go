package domain

import "fmt"

// Edge est une amitié non orientée. (A,B) et (B,A) désignent le même lien.
type Edge struct {
	A UserID
	B UserID
}

// Canonical ordonne les extrémités (A < B), format de stockage des adapters.
func (e Edge) Canonical() Edge {
	if e.B < e.A {
		return Edge{A: e.B, B: e.A}
	}
	return e
}

type neighborSet map[UserID]struct{}

// Graph est la liste d'adjacence symétrique du cache.
//
// Invariants :
//   - symétrie : v ∈ N(u) <=> u ∈ N(v)
//   - irréflexivité : u ∉ N(u)
//   - closure : tout utilisateur connu a une entrée, même sans amis
//
// Un Graph publié dans un Snapshot n'est plus jamais muté : les écritures passent par Detach.
type Graph struct {
	adj   map[UserID]neighborSet
	edges int
}

// RebuildGraph construit un graphe neuf. Une arête vers un ID hors de ids (dérive du stockage)
// ou une boucle u-u est rejetée avec ErrInconsistentEdge ; rien n'est publié dans ce cas.
func RebuildGraph(ids []UserID, edges []Edge) (*Graph, error) {
	g := &Graph{adj: make(map[UserID]neighborSet, len(ids))}
	for _, id := range ids {
		if _, ok := g.adj[id]; !ok {
			g.adj[id] = neighborSet{}
		}
	}

	for _, e := range edges {
		na, okA := g.adj[e.A]
		nb, okB := g.adj[e.B]
		if !okA || !okB {
			return nil, fmt.Errorf("%w: (%d,%d)", ErrInconsistentEdge, e.A, e.B)
		}
		if e.A == e.B {
			return nil, fmt.Errorf("%w: self loop on %d", ErrInconsistentEdge, e.A)
		}
		// Doublons tolérés : le stockage peut contenir (a,b) ET (b,a)
		if _, dup := na[e.B]; dup {
			continue
		}
		na[e.B] = struct{}{}
		nb[e.A] = struct{}{}
		g.edges++
	}
	return g, nil
}

func (g *Graph) Has(u UserID) bool {
	_, ok := g.adj[u]
	return ok
}

// Neighbors renvoie une copie de N(u), ordre non spécifié.
func (g *Graph) Neighbors(u UserID) ([]UserID, error) {
	set, ok := g.adj[u]
	if !ok {
		return nil, UnknownUserError(u)
	}
	out := make([]UserID, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out, nil
}

// EachNeighbor itère sur N(u) sans copie.
func (g *Graph) EachNeighbor(u UserID, fn func(v UserID)) error {
	set, ok := g.adj[u]
	if !ok {
		return UnknownUserError(u)
	}
	for v := range set {
		fn(v)
	}
	return nil
}

func (g *Graph) Degree(u UserID) int { return len(g.adj[u]) }

func (g *Graph) AreFriends(u, v UserID) bool {
	_, ok := g.adj[u][v]
	return ok
}

// Len est le nombre d'utilisateurs, EdgeCount le nombre d'arêtes non orientées.
func (g *Graph) Len() int       { return len(g.adj) }
func (g *Graph) EdgeCount() int { return g.edges }

// Detach clone le graphe en copy-on-write : la map externe est copiée,
// et seuls les ensembles des ids donnés deviennent privés au clone.
// Le clone peut ensuite subir AddEdge/RemoveEdge sur ces ids sans toucher l'original.
func (g *Graph) Detach(ids ...UserID) *Graph {
	clone := &Graph{adj: make(map[UserID]neighborSet, len(g.adj)), edges: g.edges}
	for id, set := range g.adj {
		clone.adj[id] = set
	}
	for _, id := range ids {
		set, ok := g.adj[id]
		if !ok {
			continue
		}
		private := make(neighborSet, len(set)+1)
		for v := range set {
			private[v] = struct{}{}
		}
		clone.adj[id] = private
	}
	return clone
}

// AddEdge mute les deux côtés en place. À n'appeler que sur un graphe non publié.
func (g *Graph) AddEdge(u, v UserID) error {
	if u == v {
		return ErrSelfFriendship
	}
	nu, ok := g.adj[u]
	if !ok {
		return UnknownUserError(u)
	}
	nv, ok := g.adj[v]
	if !ok {
		return UnknownUserError(v)
	}
	if _, exists := nu[v]; exists {
		return ErrAlreadyFriends
	}
	nu[v] = struct{}{}
	nv[u] = struct{}{}
	g.edges++
	return nil
}

// RemoveEdge : même contrat que AddEdge.
func (g *Graph) RemoveEdge(u, v UserID) error {
	nu, ok := g.adj[u]
	if !ok {
		return UnknownUserError(u)
	}
	nv, ok := g.adj[v]
	if !ok {
		return UnknownUserError(v)
	}
	if _, exists := nu[v]; !exists {
		return ErrNotFriends
	}
	delete(nu, v)
	delete(nv, u)
	g.edges--
	return nil
}
