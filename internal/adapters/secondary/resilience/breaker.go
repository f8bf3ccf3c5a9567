package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

var _ ports.Store = (*BreakerStore)(nil)

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requêtes autorisées en half-open
	Interval         time.Duration // remise à zéro des compteurs en closed
	Timeout          time.Duration // durée en open avant de retenter
	FailureThreshold float64
	MinRequests      uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// BreakerStore coupe l'accès au stockage quand il échoue en série.
// Les refus du breaker remontent comme des pannes du stockage ; aucun retry ici.
type BreakerStore struct {
	next ports.Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerStore(next ports.Store, cfg BreakerConfig) *BreakerStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("⚡ Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Une erreur du domaine (déjà amis, inconnu...) prouve que le stockage répond
		IsSuccessful: func(err error) bool {
			return err == nil || domain.KindOf(err) != domain.KindInternal
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func (s *BreakerStore) ListUsers(ctx context.Context) ([]domain.UserRecord, error) {
	return execute(s, "list users", func() ([]domain.UserRecord, error) {
		return s.next.ListUsers(ctx)
	})
}

func (s *BreakerStore) ListEdges(ctx context.Context) ([]domain.Edge, error) {
	return execute(s, "list friendships", func() ([]domain.Edge, error) {
		return s.next.ListEdges(ctx)
	})
}

func (s *BreakerStore) Insert(ctx context.Context, a, b domain.UserID) error {
	_, err := execute(s, "insert friendship", func() (struct{}, error) {
		return struct{}{}, s.next.Insert(ctx, a, b)
	})
	return err
}

func (s *BreakerStore) Delete(ctx context.Context, a, b domain.UserID) error {
	_, err := execute(s, "delete friendship", func() (struct{}, error) {
		return struct{}{}, s.next.Delete(ctx, a, b)
	})
	return err
}

func execute[T any](s *BreakerStore, op string, fn func() (T, error)) (T, error) {
	var zero T
	res, err := s.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, domain.NewStoreError(op, fmt.Errorf("breaker %s: %w", s.cb.Name(), err))
		}
		return zero, err
	}
	return res.(T), nil
}
