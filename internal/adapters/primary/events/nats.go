package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

const (
	SubjectFriendshipAll  = "graph.friendship.>"
	SubjectUserRegistered = "identity.user.registered"
)

// EventHandler traduit les events Nats en invalidations du cache.
// Le cache est rechargé en entier : le contenu de l'event ne sert qu'à filtrer.
type EventHandler struct {
	cache  ports.GraphCacheAdmin
	origin string
	tracer trace.Tracer
}

func NewEventHandler(cache ports.GraphCacheAdmin, origin string) *EventHandler {
	return &EventHandler{
		cache:  cache,
		origin: origin,
		tracer: otel.Tracer("friendgraph-service"),
	}
}

// Subscribe branche les handlers sur la connexion Nats.
func (h *EventHandler) Subscribe(nc *nats.Conn) ([]*nats.Subscription, error) {
	routes := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectFriendshipAll, h.HandleFriendshipChanged},
		{SubjectUserRegistered, h.HandleUserRegistered},
	}

	subs := make([]*nats.Subscription, 0, len(routes))
	for _, r := range routes {
		sub, err := nc.Subscribe(r.subject, r.handler)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", r.subject, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (h *EventHandler) HandleFriendshipChanged(msg *nats.Msg) {
	_, span := h.startSpan(msg, "process_friendship_changed")
	defer span.End()

	// Seuls les champs utiles au filtrage
	var event struct {
		EventID string `json:"event_id"`
		Origin  string `json:"origin"`
		UserA   int64  `json:"user_a"`
		UserB   int64  `json:"user_b"`
	}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		span.RecordError(err)
		slog.Error("❌ Invalid event format", "subject", msg.Subject, "error", err)
		return
	}
	span.SetAttributes(
		attribute.String("event.id", event.EventID),
		attribute.String("event.origin", event.Origin),
	)

	if event.Origin == h.origin {
		// Notre propre mutation : le cache est déjà à jour
		return
	}

	slog.Debug("📨 Friendship changed elsewhere", "subject", msg.Subject, "origin", event.Origin, "user_a", event.UserA, "user_b", event.UserB)
	h.cache.Invalidate()
}

func (h *EventHandler) HandleUserRegistered(msg *nats.Msg) {
	_, span := h.startSpan(msg, "process_user_registered")
	defer span.End()

	slog.Debug("📨 New user registered, directory is stale")
	h.cache.Invalidate()
}

// startSpan rattache le traitement à la trace du producteur (headers Nats).
func (h *EventHandler) startSpan(msg *nats.Msg, name string) (context.Context, trace.Span) {
	ctx := context.Background()
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
	}
	return h.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination", msg.Subject)),
	)
}
