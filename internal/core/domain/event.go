package domain

import "time"

type FriendshipChange string

const (
	FriendshipCreated FriendshipChange = "created"
	FriendshipDeleted FriendshipChange = "deleted"
)

// FriendshipEvent notifie les autres réplicas (et les services Feed/Notif) qu'un lien a changé.
type FriendshipEvent struct {
	Change     FriendshipChange
	UserA      UserID
	UserB      UserID
	OccurredAt time.Time
}
