package domain

import (
	"errors"
	"fmt"
)

// --- ERREURS DU DOMAINE ---
var (
	ErrUnknownUser      = errors.New("unknown user")
	ErrSelfFriendship   = errors.New("users cannot be friends with themselves")
	ErrAlreadyFriends   = errors.New("friendship already exists")
	ErrNotFriends       = errors.New("friendship does not exist")
	ErrInconsistentEdge = errors.New("edge references an unknown user")
	ErrStore            = errors.New("store failure")
)

// StoreError enveloppe une erreur I/O du stockage (Postgres, Neo4j, Redis...).
// errors.Is(err, ErrStore) est vrai, et la cause reste accessible via Unwrap.
type StoreError struct {
	Op  string // ex: "list users", "insert friendship"
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// ErrorKind est l'énumération fermée des échecs exposés aux transports.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnknownUser
	KindSelfFriendship
	KindAlreadyFriends
	KindNotFriends
	KindInconsistentEdge
	KindStore
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnknownUser:
		return "unknown_user"
	case KindSelfFriendship:
		return "self_friendship"
	case KindAlreadyFriends:
		return "already_friends"
	case KindNotFriends:
		return "not_friends"
	case KindInconsistentEdge:
		return "inconsistent_edge"
	case KindStore:
		return "store_error"
	default:
		return "internal"
	}
}

// KindOf classe une erreur. Les erreurs de précondition passent avant ErrStore :
// un conflit remonté par le stockage (ex: unique violation) reste un AlreadyFriends.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnknownUser):
		return KindUnknownUser
	case errors.Is(err, ErrSelfFriendship):
		return KindSelfFriendship
	case errors.Is(err, ErrAlreadyFriends):
		return KindAlreadyFriends
	case errors.Is(err, ErrNotFriends):
		return KindNotFriends
	case errors.Is(err, ErrInconsistentEdge):
		return KindInconsistentEdge
	case errors.Is(err, ErrStore):
		return KindStore
	default:
		return KindInternal
	}
}

// UnknownUserError enveloppe ErrUnknownUser avec l'ID fautif.
func UnknownUserError(id UserID) error {
	return fmt.Errorf("%w: %d", ErrUnknownUser, id)
}
