package events

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
)

type countingCache struct {
	invalidations int
}

func (c *countingCache) Refresh(context.Context) error { return nil }
func (c *countingCache) Stats() domain.SnapshotStats  { return domain.SnapshotStats{} }
func (c *countingCache) Invalidate()                  { c.invalidations++ }

func TestEventHandler_FriendshipChanged(t *testing.T) {
	cases := []struct {
		name string
		data string
		want int
	}{
		{"other replica", `{"event_id":"e1","origin":"replica-2","user_a":3,"user_b":4}`, 1},
		{"own event", `{"event_id":"e2","origin":"replica-1","user_a":3,"user_b":4}`, 0},
		{"garbage", `not json`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := &countingCache{}
			h := NewEventHandler(cache, "replica-1")

			h.HandleFriendshipChanged(&nats.Msg{Subject: "graph.friendship.created", Data: []byte(tc.data)})

			assert.Equal(t, tc.want, cache.invalidations)
		})
	}
}

func TestEventHandler_UserRegistered(t *testing.T) {
	cache := &countingCache{}
	h := NewEventHandler(cache, "replica-1")

	msg := &nats.Msg{Subject: SubjectUserRegistered, Data: []byte(`{"user_id":"u-1","email":"a@b.c"}`), Header: nats.Header{}}
	msg.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.HandleUserRegistered(msg)

	assert.Equal(t, 1, cache.invalidations)
}
