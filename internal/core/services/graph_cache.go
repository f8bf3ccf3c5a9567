package services

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

var _ ports.GraphCacheAdmin = (*GraphCache)(nil)

type RefreshMode string

const (
	// RefreshPerRequest recharge tout avant chaque opération (comportement historique)
	RefreshPerRequest RefreshMode = "per-request"
	// RefreshBackground recharge sur ticker + événements Nats ; les requêtes lisent le snapshot courant
	RefreshBackground RefreshMode = "background"
)

type CacheOptions struct {
	Mode         RefreshMode
	Interval     time.Duration
	StoreTimeout time.Duration
}

func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		Mode:         RefreshPerRequest,
		Interval:     30 * time.Second,
		StoreTimeout: 5 * time.Second,
	}
}

// GraphCache possède le snapshot courant (annuaire + graphe) et son cycle de vie.
//
// Les lecteurs chargent le pointeur une fois par appel et calculent sur ce snapshot,
// même si un autre est publié entre-temps. Toute publication (refresh ou mutation)
// passe par writeMu.
type GraphCache struct {
	users       ports.UserStore
	friendships ports.FriendshipStore
	metrics     ports.CacheMetrics
	opts        CacheOptions
	tracer      trace.Tracer

	current atomic.Pointer[domain.Snapshot]
	loaded  atomic.Bool
	running atomic.Bool

	writeMu sync.Mutex
	version uint64 // protégé par writeMu

	// Les fetchs sont séquentiels ; started les numérote dans leur ordre de démarrage.
	fetchMu sync.Mutex
	started atomic.Uint64

	// mutations compte les écritures commitées dans le cache ; un refresh qui en a vu passer
	// pendant son fetch est jeté.
	mutations atomic.Uint64

	flight singleflight.Group

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewGraphCache(users ports.UserStore, friendships ports.FriendshipStore, metrics ports.CacheMetrics, opts CacheOptions) *GraphCache {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	defaults := DefaultCacheOptions()
	if opts.Mode == "" {
		opts.Mode = defaults.Mode
	}
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaults.StoreTimeout
	}

	c := &GraphCache{
		users:       users,
		friendships: friendships,
		metrics:     metrics,
		opts:        opts,
		tracer:      otel.Tracer("friendgraph-service"),
		kick:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	c.current.Store(domain.EmptySnapshot())
	return c
}

// Snapshot renvoie le snapshot publié, sans rafraîchir.
func (c *GraphCache) Snapshot() *domain.Snapshot {
	return c.current.Load()
}

func (c *GraphCache) Stats() domain.SnapshotStats {
	return c.current.Load().Stats()
}

// Acquire applique la politique de fraîcheur puis renvoie LE snapshot sur lequel
// l'appelant doit faire tout son calcul.
func (c *GraphCache) Acquire(ctx context.Context) (*domain.Snapshot, error) {
	if c.opts.Mode == RefreshPerRequest || !c.loaded.Load() {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return c.current.Load(), nil
}

// Refresh recharge users + friendships et publie un nouveau snapshot.
//
// Un appelant n'accepte qu'un fetch démarré après son arrivée : il rejoint le vol de la
// génération suivante plutôt qu'un vol déjà en cours, qui a pu lire la base avant une
// écriture antérieure à la requête. Tous les appelants arrivés pendant le fetch N
// partagent le fetch N+1. En cas d'échec le snapshot précédent reste en place.
func (c *GraphCache) Refresh(ctx context.Context) error {
	retried := false
	for {
		res, err := c.awaitFlight(ctx, c.started.Load()+1)
		if err != nil {
			return err
		}
		// Jeté à cause d'une mutation locale : en per-request on relit une fois la base,
		// sinon le snapshot courant peut manquer une écriture externe antérieure à la requête.
		if res.discarded && c.opts.Mode == RefreshPerRequest && !retried {
			retried = true
			continue
		}
		return nil
	}
}

// refreshResult décrit un vol terminé.
type refreshResult struct {
	gen       uint64
	discarded bool
}

// awaitFlight rejoint (ou lance) le vol de clé target. Le build partagé ne dépend pas de
// l'annulation d'un seul appelant.
func (c *GraphCache) awaitFlight(ctx context.Context, target uint64) (refreshResult, error) {
	ch := c.flight.DoChan(strconv.FormatUint(target, 10), func() (any, error) {
		res, err := c.rebuild(context.WithoutCancel(ctx))
		return res, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return refreshResult{}, res.Err
		}
		return res.Val.(refreshResult), nil
	case <-ctx.Done():
		return refreshResult{}, domain.NewStoreError("refresh", ctx.Err())
	}
}

func (c *GraphCache) rebuild(ctx context.Context) (res refreshResult, err error) {
	// Le fetch précédent est borné par son propre timeout
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// La génération est prise avant toute lecture : un appelant qui l'observe sait que
	// ce fetch a pu démarrer avant lui.
	res.gen = c.started.Add(1)

	ctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "GraphCache.Refresh")
	defer span.End()

	start := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.ObserveRefresh(outcome, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	seenMutations := c.mutations.Load()

	var (
		users []domain.UserRecord
		edges []domain.Edge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = c.users.ListUsers(gctx)
		if err != nil {
			return asStoreError("list users", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		edges, err = c.friendships.ListEdges(gctx)
		if err != nil {
			return asStoreError("list friendships", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("❌ Graph refresh failed", "error", err)
		return res, err
	}

	ids := make([]domain.UserID, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	directory := domain.LoadDirectory(users)
	graph, err := domain.RebuildGraph(ids, edges)
	if err != nil {
		slog.Error("❌ Storage drift detected, keeping previous snapshot", "error", err)
		return res, err
	}

	// Annulé pendant la construction : on jette, rien n'est publié
	if err := ctx.Err(); err != nil {
		return res, domain.NewStoreError("refresh", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.mutations.Load() != seenMutations {
		// Une mutation a été commitée pendant le fetch : le snapshot courant la contient déjà,
		// les lignes lues peuvent être antérieures.
		outcome = "discarded"
		res.discarded = true
		slog.Debug("Refresh discarded, concurrent mutation committed")
		return res, nil
	}

	snap := c.publishLocked(&domain.Snapshot{
		LoadedAt:  time.Now().UTC(),
		Directory: directory,
		Graph:     graph,
	})
	c.loaded.Store(true)
	outcome = "ok"

	span.SetAttributes(
		attribute.Int64("graph.version", int64(snap.Version)),
		attribute.Int("graph.users", graph.Len()),
		attribute.Int("graph.edges", graph.EdgeCount()),
	)
	slog.Debug("Graph refreshed", "version", snap.Version, "users", graph.Len(), "edges", graph.EdgeCount())
	return res, nil
}

// publishLocked attribue une version et remplace le snapshot courant. writeMu doit être tenu.
func (c *GraphCache) publishLocked(snap *domain.Snapshot) *domain.Snapshot {
	c.version++
	snap.Version = c.version
	c.current.Store(snap)
	c.metrics.SetSnapshotSize(snap.Graph.Len(), snap.Graph.EdgeCount())
	return snap
}

// --- BACKGROUND ---

// Start lance la boucle de refresh en mode background. No-op en mode per-request.
func (c *GraphCache) Start(ctx context.Context) {
	if c.opts.Mode != RefreshBackground {
		return
	}
	c.startOnce.Do(func() {
		c.running.Store(true)
		go c.loop(ctx)
	})
}

func (c *GraphCache) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
		if err := c.Refresh(ctx); err != nil {
			slog.Warn("Background refresh failed, serving previous snapshot", "error", err)
		}
	}
}

// Invalidate signale que le stockage a changé hors de ce process (événement Nats).
// En mode background un refresh est planifié ; en per-request la prochaine requête s'en charge.
func (c *GraphCache) Invalidate() {
	if c.opts.Mode != RefreshBackground {
		return
	}
	select {
	case c.kick <- struct{}{}:
	default: // un refresh est déjà planifié
	}
}

// Shutdown arrête la boucle de refresh et attend sa fin.
func (c *GraphCache) Shutdown(ctx context.Context) error {
	c.startOnce.Do(func() {}) // empêche un Start après Shutdown
	c.stopOnce.Do(func() { close(c.stop) })
	if !c.running.Load() {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// asStoreError conserve les erreurs déjà typées (domaine ou StoreError) et enveloppe le reste.
func asStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	return domain.NewStoreError(op, err)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRefresh(string, time.Duration) {}
func (noopMetrics) ObserveMutation(string, string)       {}
func (noopMetrics) SetSnapshotSize(int, int)             {}
