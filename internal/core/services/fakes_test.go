package services

import (
	"context"
	"sync"
	"time"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
)

// fakeStore est un stockage en mémoire avec injection de pannes.
type fakeStore struct {
	mu    sync.Mutex
	users []domain.UserRecord
	edges map[domain.Edge]struct{}

	listUsersErr error
	listEdgesErr error
	insertErr    error
	deleteErr    error

	// listEdgesHook est appelé pendant ListEdges, hors verrou (pour simuler des entrelacements)
	listEdgesHook func(ctx context.Context)

	listUsersCalls int
	inserts        int
	deletes        int
}

func newFakeStore(users []domain.UserRecord, edges ...domain.Edge) *fakeStore {
	s := &fakeStore{users: users, edges: map[domain.Edge]struct{}{}}
	for _, e := range edges {
		s.edges[e.Canonical()] = struct{}{}
	}
	return s
}

// exampleStore : A=1, B=2, C=3, D=4 ; (1,2), (2,3), (1,4)
func exampleStore() *fakeStore {
	return newFakeStore(
		[]domain.UserRecord{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}, {ID: 3, Name: "C"}, {ID: 4, Name: "D"}},
		domain.Edge{A: 1, B: 2}, domain.Edge{A: 2, B: 3}, domain.Edge{A: 1, B: 4},
	)
}

func (s *fakeStore) ListUsers(ctx context.Context) ([]domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listUsersCalls++
	if s.listUsersErr != nil {
		return nil, s.listUsersErr
	}
	return append([]domain.UserRecord(nil), s.users...), nil
}

func (s *fakeStore) ListEdges(ctx context.Context) ([]domain.Edge, error) {
	s.mu.Lock()
	err := s.listEdgesErr
	out := make([]domain.Edge, 0, len(s.edges))
	for e := range s.edges {
		out = append(out, e)
	}
	hook := s.listEdgesHook
	s.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fakeStore) Insert(ctx context.Context, a, b domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	// Comme la FK de la table friendships
	if !s.hasUserLocked(a) || !s.hasUserLocked(b) {
		return domain.ErrUnknownUser
	}
	e := domain.Edge{A: a, B: b}.Canonical()
	if _, ok := s.edges[e]; ok {
		return domain.ErrAlreadyFriends
	}
	s.edges[e] = struct{}{}
	s.inserts++
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, a, b domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	e := domain.Edge{A: a, B: b}.Canonical()
	if _, ok := s.edges[e]; !ok {
		return domain.ErrNotFriends
	}
	delete(s.edges, e)
	s.deletes++
	return nil
}

// putEdge écrit directement en base, comme le ferait un autre réplica.
func (s *fakeStore) putEdge(a, b domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[domain.Edge{A: a, B: b}.Canonical()] = struct{}{}
}

// removeUser supprime un utilisateur et ses amitiés (ON DELETE CASCADE).
func (s *fakeStore) removeUser(id domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.users[:0]
	for _, u := range s.users {
		if u.ID != id {
			kept = append(kept, u)
		}
	}
	s.users = kept
	for e := range s.edges {
		if e.A == id || e.B == id {
			delete(s.edges, e)
		}
	}
}

func (s *fakeStore) hasUserLocked(id domain.UserID) bool {
	for _, u := range s.users {
		if u.ID == id {
			return true
		}
	}
	return false
}

func (s *fakeStore) setListEdgesErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listEdgesErr = err
}

func (s *fakeStore) usersCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listUsersCalls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.FriendshipEvent
	err    error
}

func (p *fakePublisher) PublishFriendshipChanged(ctx context.Context, e domain.FriendshipEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type recordingMetrics struct {
	mu        sync.Mutex
	refreshes map[string]int
	mutations map[string]int
	users     int
	edges     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{refreshes: map[string]int{}, mutations: map[string]int{}}
}

func (m *recordingMetrics) ObserveRefresh(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes[outcome]++
}

func (m *recordingMetrics) ObserveMutation(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations[op+":"+outcome]++
}

func (m *recordingMetrics) SetSnapshotSize(users, edges int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users, m.edges = users, edges
}

func (m *recordingMetrics) refreshCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes[outcome]
}

func (m *recordingMetrics) mutationCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations[key]
}
