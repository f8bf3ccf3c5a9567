package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

var _ ports.Store = (*RedisRepo)(nil)

const (
	redisUsersKey     = "users"   // HASH id -> name
	redisFriendPrefix = "friends:" // SET par utilisateur, les deux côtés sont écrits
)

// Scripts Lua (atomiques côté serveur) : une amitié n'est jamais écrite d'un seul côté.
var insertFriendship = redis.NewScript(`
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 0 or redis.call('HEXISTS', KEYS[3], ARGV[2]) == 0 then
	return -1
end
if redis.call('SISMEMBER', KEYS[1], ARGV[2]) == 1 then
	return 0
end
redis.call('SADD', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

var deleteFriendship = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[2]) == 0 then
	return 0
end
redis.call('SREM', KEYS[1], ARGV[2])
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

type RedisRepo struct {
	client *redis.Client
}

func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{client: client}
}

func friendsKey(id domain.UserID) string {
	return redisFriendPrefix + strconv.FormatInt(int64(id), 10)
}

func (r *RedisRepo) ListUsers(ctx context.Context) ([]domain.UserRecord, error) {
	all, err := r.client.HGetAll(ctx, redisUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list users: %w", err)
	}

	users := make([]domain.UserRecord, 0, len(all))
	for k, name := range all {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			// Donnée corrompue : on saute plutôt que de bloquer tout le refresh
			continue
		}
		users = append(users, domain.UserRecord{ID: domain.UserID(id), Name: name})
	}
	return users, nil
}

// ListEdges parcourt friends:* avec SCAN puis lit les sets en pipeline.
// Chaque amitié est rapportée une fois (a < b).
func (r *RedisRepo) ListEdges(ctx context.Context) ([]domain.Edge, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, redisFriendPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan friendships: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.SMembers(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: read friendships: %w", err)
	}

	var edges []domain.Edge
	for i, key := range keys {
		owner, err := strconv.ParseInt(strings.TrimPrefix(key, redisFriendPrefix), 10, 64)
		if err != nil {
			continue
		}
		for _, m := range cmds[i].Val() {
			other, err := strconv.ParseInt(m, 10, 64)
			if err != nil || owner >= other {
				continue
			}
			edges = append(edges, domain.Edge{A: domain.UserID(owner), B: domain.UserID(other)})
		}
	}
	return edges, nil
}

func (r *RedisRepo) Insert(ctx context.Context, a, b domain.UserID) error {
	if a == b {
		return domain.ErrSelfFriendship
	}
	keys := []string{friendsKey(a), friendsKey(b), redisUsersKey}
	res, err := insertFriendship.Run(ctx, r.client, keys, int64(a), int64(b)).Int()
	if err != nil {
		return fmt.Errorf("redis: insert friendship: %w", err)
	}
	switch res {
	case -1:
		return fmt.Errorf("%w: %d or %d", domain.ErrUnknownUser, a, b)
	case 0:
		return domain.ErrAlreadyFriends
	}
	return nil
}

func (r *RedisRepo) Delete(ctx context.Context, a, b domain.UserID) error {
	keys := []string{friendsKey(a), friendsKey(b)}
	res, err := deleteFriendship.Run(ctx, r.client, keys, int64(a), int64(b)).Int()
	if err != nil {
		return fmt.Errorf("redis: delete friendship: %w", err)
	}
	if res == 0 {
		return domain.ErrNotFriends
	}
	return nil
}

// UpsertUser sert au seed ; le service ne crée pas d'utilisateurs.
func (r *RedisRepo) UpsertUser(ctx context.Context, u domain.UserRecord) error {
	return r.client.HSet(ctx, redisUsersKey, strconv.FormatInt(int64(u.ID), 10), u.Name).Err()
}
