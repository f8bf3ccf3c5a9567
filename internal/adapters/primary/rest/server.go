package rest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

type Server struct {
	queries     ports.FriendQueries
	mutations   ports.FriendMutations
	admin       ports.GraphCacheAdmin
	metrics     http.Handler
	corsOrigins []string
	validate    *validator.Validate
}

type Option func(*Server)

// WithMetrics monte /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithCORS(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

func NewServer(q ports.FriendQueries, m ports.FriendMutations, admin ports.GraphCacheAdmin, opts ...Option) *Server {
	s := &Server{
		queries:   q,
		mutations: m,
		admin:     admin,
		validate:  validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler assemble routes et middlewares ; otelhttp est à la racine.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Get("/friends/{userID}", s.friendsOf)
	r.Get("/mutual-friends/{a}/{b}", s.mutualFriends)
	r.Get("/mutual-count/{a}/{b}", s.mutualCount)
	r.Get("/suggested-friends/{userID}", s.suggestedFriends)

	r.Route("/users", func(r chi.Router) {
		r.Get("/by-name/{name}", s.userByName)
		r.Get("/{userID}", s.user)
		r.Get("/{userID}/others", s.allUsersExcept)
	})

	r.Route("/friend/{a}/{b}", func(r chi.Router) {
		r.Get("/", s.areFriends)
		r.Post("/", s.createFriendship)
		r.Delete("/", s.deleteFriendship)
	})

	r.Post("/admin/refresh", s.refresh)

	var h http.Handler = r

	if len(s.corsOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "baggage", "traceparent"},
			AllowCredentials: true,
		})
		h = c.Handler(h)
	}

	return otelhttp.NewHandler(h, "friendgraph-http", otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
	}))
}

// --- DTO ---

type userDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type suggestionDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	MutualCount int    `json:"mutual_count"`
}

type pageParams struct {
	Limit  int `validate:"min=0,max=1000"`
	Offset int `validate:"min=0"`
}

type statsDTO struct {
	Version  uint64    `json:"version"`
	Users    int       `json:"users"`
	Edges    int       `json:"edges"`
	LoadedAt time.Time `json:"loaded_at"`
}

// --- HANDLERS ---

func (s *Server) friendsOf(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userParam(w, r, "userID")
	if !ok {
		return
	}
	friends, err := s.queries.FriendsOf(r.Context(), u)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": u, "friends": toUserDTOs(friends)})
}

func (s *Server) mutualFriends(w http.ResponseWriter, r *http.Request) {
	a, b, ok := s.pairParams(w, r)
	if !ok {
		return
	}
	friends, err := s.queries.MutualFriends(r.Context(), a, b)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"friends": toUserDTOs(friends)})
}

func (s *Server) mutualCount(w http.ResponseWriter, r *http.Request) {
	a, b, ok := s.pairParams(w, r)
	if !ok {
		return
	}
	n, err := s.queries.MutualCount(r.Context(), a, b)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (s *Server) suggestedFriends(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userParam(w, r, "userID")
	if !ok {
		return
	}
	page, ok := s.pageParams(w, r)
	if !ok {
		return
	}
	suggestions, err := s.queries.SuggestedFriends(r.Context(), u)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondSuggestions(w, suggestions, page)
}

func (s *Server) allUsersExcept(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userParam(w, r, "userID")
	if !ok {
		return
	}
	page, ok := s.pageParams(w, r)
	if !ok {
		return
	}
	others, err := s.queries.AllUsersExcept(r.Context(), u)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondSuggestions(w, others, page)
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userParam(w, r, "userID")
	if !ok {
		return
	}
	rec, err := s.queries.User(r.Context(), u)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, userDTO{ID: int64(rec.ID), Name: rec.Name})
}

func (s *Server) userByName(w http.ResponseWriter, r *http.Request) {
	rec, err := s.queries.UserByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, userDTO{ID: int64(rec.ID), Name: rec.Name})
}

func (s *Server) areFriends(w http.ResponseWriter, r *http.Request) {
	a, b, ok := s.pairParams(w, r)
	if !ok {
		return
	}
	friends, err := s.queries.AreFriends(r.Context(), a, b)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"friends": friends})
}

func (s *Server) createFriendship(w http.ResponseWriter, r *http.Request) {
	a, b, ok := s.pairParams(w, r)
	if !ok {
		return
	}
	if err := s.mutations.CreateFriendship(r.Context(), a, b); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"user_a": a, "user_b": b, "status": "friends"})
}

func (s *Server) deleteFriendship(w http.ResponseWriter, r *http.Request) {
	a, b, ok := s.pairParams(w, r)
	if !ok {
		return
	}
	if err := s.mutations.DeleteFriendship(r.Context(), a, b); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.Refresh(r.Context()); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toStatsDTO(s.admin.Stats()))
}

// health : 503 tant qu'aucun snapshot n'a été publié
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	stats := s.admin.Stats()
	if stats.Version == 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "warming_up"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "snapshot": toStatsDTO(stats)})
}

// --- HELPERS ---

func (s *Server) userParam(w http.ResponseWriter, r *http.Request, key string) (domain.UserID, bool) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("invalid user id %q", raw))
		return 0, false
	}
	return domain.UserID(id), true
}

func (s *Server) pairParams(w http.ResponseWriter, r *http.Request) (domain.UserID, domain.UserID, bool) {
	a, ok := s.userParam(w, r, "a")
	if !ok {
		return 0, 0, false
	}
	b, ok := s.userParam(w, r, "b")
	if !ok {
		return 0, 0, false
	}
	return a, b, true
}

// pageParams lit ?limit=&offset= ; limit absent ou 0 = tout.
func (s *Server) pageParams(w http.ResponseWriter, r *http.Request) (pageParams, bool) {
	var p pageParams
	q := r.URL.Query()
	for key, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("invalid %s %q", key, raw))
			return p, false
		}
		*dst = n
	}
	if err := s.validate.Struct(p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_argument", "validation error: "+err.Error())
		return p, false
	}
	return p, true
}

// respondSuggestions trie (amis communs desc, puis id) avant de paginer :
// sans tri stable, deux pages successives n'auraient pas de sens.
func respondSuggestions(w http.ResponseWriter, in []domain.Suggestion, page pageParams) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].MutualCount != in[j].MutualCount {
			return in[i].MutualCount > in[j].MutualCount
		}
		return in[i].User.ID < in[j].User.ID
	})

	total := len(in)
	start := min(page.Offset, total)
	end := total
	if page.Limit > 0 {
		end = min(start+page.Limit, total)
	}

	out := make([]suggestionDTO, 0, end-start)
	for _, sg := range in[start:end] {
		out = append(out, suggestionDTO{ID: int64(sg.User.ID), Name: sg.User.Name, MutualCount: sg.MutualCount})
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": out, "total": total})
}

func toUserDTOs(records []domain.UserRecord) []userDTO {
	out := make([]userDTO, len(records))
	for i, r := range records {
		out[i] = userDTO{ID: int64(r.ID), Name: r.Name}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toStatsDTO(s domain.SnapshotStats) statsDTO {
	return statsDTO{Version: s.Version, Users: s.Users, Edges: s.Edges, LoadedAt: s.LoadedAt}
}

// statusFor traduit les erreurs du Domaine en codes HTTP
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUnknownUser:
		return http.StatusNotFound
	case domain.KindSelfFriendship:
		return http.StatusBadRequest
	case domain.KindAlreadyFriends, domain.KindNotFriends:
		return http.StatusConflict
	case domain.KindInconsistentEdge, domain.KindStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "kind", kind.String(), "error", err)
		if kind == domain.KindInternal {
			msg = "internal server error"
		}
	}
	respondError(w, status, kind.String(), msg)
}

func respondError(w http.ResponseWriter, status int, kind, msg string) {
	respondJSON(w, status, map[string]string{"error": msg, "kind": kind})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
