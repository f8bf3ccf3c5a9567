package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

var _ ports.EventPublisher = (*NatsPublisher)(nil)

const (
	SubjectFriendshipCreated = "graph.friendship.created"
	SubjectFriendshipDeleted = "graph.friendship.deleted"
)

// msgPublisher est la partie de *nats.Conn dont on a besoin
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

type NatsPublisher struct {
	nc     msgPublisher
	origin string
}

// origin identifie ce réplica : ses propres events sont ignorés à la réception.
func NewNatsPublisher(nc *nats.Conn, origin string) *NatsPublisher {
	return &NatsPublisher{nc: nc, origin: origin}
}

// Structure de l'event (contrat implicite avec les autres réplicas et le Feed-Service)
type FriendshipChangedEvent struct {
	EventID    string    `json:"event_id"`
	Origin     string    `json:"origin"`
	UserA      int64     `json:"user_a"`
	UserB      int64     `json:"user_b"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (p *NatsPublisher) PublishFriendshipChanged(ctx context.Context, e domain.FriendshipEvent) error {
	subject, err := subjectFor(e.Change)
	if err != nil {
		return err
	}

	event := FriendshipChangedEvent{
		EventID:    uuid.NewString(),
		Origin:     p.origin,
		UserA:      int64(e.UserA),
		UserB:      int64(e.UserB),
		OccurredAt: e.OccurredAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	// Le TraceID de la requête HTTP suit l'event jusqu'aux consumers
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	slog.Debug("📢 Publishing friendship event", "subject", subject, "event_id", event.EventID)
	return p.nc.PublishMsg(msg)
}

func subjectFor(c domain.FriendshipChange) (string, error) {
	switch c {
	case domain.FriendshipCreated:
		return SubjectFriendshipCreated, nil
	case domain.FriendshipDeleted:
		return SubjectFriendshipDeleted, nil
	}
	return "", fmt.Errorf("unknown friendship change %q", c)
}
