package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/iliyamo/unpacker/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists profiles as JSON strings and temp files as a hash of
// JSON records plus a sorted set scored by expiry (unix milliseconds).
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.  Keys are namespaced by prefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "unpacker"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// maxWatchRetries bounds optimistic-lock retries in modify.
const maxWatchRetries = 5

// reapScript pops every member scored at or below ARGV[1] from the expiry
// set and drops its record, all in one atomic step.
var reapScript = redis.NewScript(`
local paths = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, p in ipairs(paths) do
  redis.call('ZREM', KEYS[1], p)
  redis.call('HDEL', KEYS[2], p)
end
return paths
`)

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) userKey(id int64) string {
	return s.prefix + ":user:" + strconv.FormatInt(id, 10)
}
func (s *RedisStore) usersKey() string { return s.prefix + ":users" }
func (s *RedisStore) tempKey() string { return s.prefix + ":tempfiles" }
func (s *RedisStore) tempExpiryKey() string { return s.prefix + ":tempfiles:expiry" }

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, ErrBackendUnavailable, err)
}

func (s *RedisStore) GetUser(ctx context.Context, id int64) (model.UserProfile, error) {
	raw, err := s.rdb.Get(ctx, s.userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.UserProfile{}, ErrNotFound
	}
	if err != nil {
		return model.UserProfile{}, unavailable("get user", err)
	}
	var p model.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.UserProfile{}, unavailable("decode user", err)
	}
	return p, nil
}

func (s *RedisStore) UpsertUser(ctx context.Context, p model.UserProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.userKey(p.ID), raw, 0)
		pipe.SAdd(ctx, s.usersKey(), p.ID)
		return nil
	})
	if err != nil {
		return unavailable("upsert user", err)
	}
	return nil
}

// IncrementUsage applies d under WATCH so concurrent increments from other
// replicas are not lost.
func (s *RedisStore) IncrementUsage(ctx context.Context, id int64, d model.UsageDelta) error {
	return s.modify(ctx, "increment usage", id, func(p *model.UserProfile) { p.Apply(d) })
}

// PatchUser rewrites only the fields named by patch.
func (s *RedisStore) PatchUser(ctx context.Context, id int64, patch model.UserPatch) error {
	return s.modify(ctx, "patch user", id, func(p *model.UserProfile) { p.ApplyPatch(patch) })
}

// modify is an optimistic read-modify-write of one profile.
func (s *RedisStore) modify(ctx context.Context, op string, id int64, fn func(*model.UserProfile)) error {
	key := s.userKey(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var p model.UserProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		fn(&p)
		out, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound):
			return err
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return unavailable(op, err)
		}
	}
	return unavailable(op, redis.TxFailedErr)
}

func (s *RedisStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, unavailable("list users", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// countBatch is the MGET batch size used by CountUsers.
const countBatch = 500

func (s *RedisStore) CountUsers(ctx context.Context) (model.UserCounts, error) {
	ids, err := s.ListUserIDs(ctx)
	if err != nil {
		return model.UserCounts{}, err
	}
	var c model.UserCounts
	for start := 0; start < len(ids); start += countBatch {
		end := min(start+countBatch, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.userKey(id))
		}
		vals, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return model.UserCounts{}, unavailable("count users", err)
		}
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var p model.UserProfile
			if json.Unmarshal([]byte(str), &p) != nil {
				continue
			}
			c.Total++
			if p.Premium {
				c.Premium++
			}
			if p.Banned {
				c.Banned++
			}
		}
	}
	return c, nil
}

func (s *RedisStore) PutTempFile(ctx context.Context, rec model.TempFileRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.tempKey(), rec.Path, raw)
		pipe.ZAdd(ctx, s.tempExpiryKey(), redis.Z{
			Score:  float64(rec.ExpiresAt().UnixMilli()),
			Member: rec.Path,
		})
		return nil
	})
	if err != nil {
		return unavailable("put temp file", err)
	}
	return nil
}

func (s *RedisStore) ReapExpiredTempFiles(ctx context.Context, now time.Time) ([]string, error) {
	paths, err := reapScript.Run(ctx, s.rdb,
		[]string{s.tempExpiryKey(), s.tempKey()},
		now.UnixMilli(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("reap temp files", err)
	}
	return paths, nil
}

func (s *RedisStore) DeleteTempFile(ctx context.Context, path string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.tempKey(), path)
		pipe.ZRem(ctx, s.tempExpiryKey(), path)
		return nil
	})
	if err != nil {
		return unavailable("delete temp file", err)
	}
	return nil
}
