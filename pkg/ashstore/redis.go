package ashstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/3meam/ash/pkg/ash"
)

const redisKeyPrefix = "ash:context:"

// redisCreateScript stores a new context hash only if the key does not
// already exist, then sets its TTL in the same atomic step so a context
// can never be observed without an expiry (KEYS[1] = context key).
//
// ARGV[1] = binding, ARGV[2] = mode, ARGV[3] = protocol, ARGV[4] = nonce,
// ARGV[5] = metadata (JSON), ARGV[6] = ttl milliseconds.
var redisCreateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1],
    "binding", ARGV[1],
    "mode", ARGV[2],
    "protocol", ARGV[3],
    "nonce", ARGV[4],
    "metadata", ARGV[5],
    "used", "0")
redis.call("PEXPIRE", KEYS[1], ARGV[6])
return 1
`)

// redisConsumeScript atomically flips "used" from 0 to 1 and returns the
// full hash as it was immediately before the flip, or a sentinel when the
// key is absent or already used (KEYS[1] = context key).
var redisConsumeScript = redis.NewScript(`
local fields = redis.call("HGETALL", KEYS[1])
if #fields == 0 then
    return {"not_found"}
end
local state = {}
for i = 1, #fields, 2 do
    state[fields[i]] = fields[i + 1]
end
if state["used"] == "1" then
    return {"already_used"}
end
redis.call("HSET", KEYS[1], "used", "1")
return {"ok", state["binding"], state["mode"], state["protocol"], state["nonce"], state["metadata"]}
`)

// RedisStore is a ContextStore backed by Redis, suitable for deployments
// where multiple replicas must share context state and agree on which
// contexts have been consumed (§4.4, §5). It relies on Redis key expiry
// rather than tracking expires_at client-side: once PEXPIRE fires, the key
// is simply gone, and Get/Consume report ErrNotFound.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisStore wraps an existing Redis client. The caller owns the
// client's lifecycle (including Close).
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, clock: time.Now}
}

// WithClock overrides the store's clock, for deterministic TTL tests.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

func (s *RedisStore) key(id string) string {
	return redisKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, sc ash.StoredContext) error {
	metadata, err := json.Marshal(sc.Metadata)
	if err != nil {
		return fmt.Errorf("ashstore: marshaling metadata: %w", err)
	}

	ttl := sc.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		return fmt.Errorf("ashstore: context %q already expired at creation", sc.ID)
	}

	res, err := redisCreateScript.Run(ctx, s.client, []string{s.key(sc.ID)},
		sc.Binding, string(sc.Mode), string(sc.Protocol), sc.Nonce, string(metadata), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("ashstore: create: %w", err)
	}
	if res == 0 {
		return ash.ErrIDCollision
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (ash.StoredContext, error) {
	vals, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return ash.StoredContext{}, fmt.Errorf("ashstore: get: %w", err)
	}
	if len(vals) == 0 {
		return ash.StoredContext{}, ash.ErrNotFound
	}

	ttl, err := s.client.PTTL(ctx, s.key(id)).Result()
	if err != nil {
		return ash.StoredContext{}, fmt.Errorf("ashstore: get ttl: %w", err)
	}

	return s.decode(id, vals, vals["used"] == "1", ttl)
}

func (s *RedisStore) Consume(ctx context.Context, id string) (ash.StoredContext, error) {
	ttl, err := s.client.PTTL(ctx, s.key(id)).Result()
	if err != nil {
		return ash.StoredContext{}, fmt.Errorf("ashstore: consume ttl: %w", err)
	}

	res, err := redisConsumeScript.Run(ctx, s.client, []string{s.key(id)}).StringSlice()
	if err != nil {
		return ash.StoredContext{}, fmt.Errorf("ashstore: consume: %w", err)
	}
	if len(res) == 0 {
		return ash.StoredContext{}, ash.ErrNotFound
	}

	switch res[0] {
	case "not_found":
		return ash.StoredContext{}, ash.ErrNotFound
	case "already_used":
		return ash.StoredContext{}, ash.ErrAlreadyUsed
	case "ok":
		vals := map[string]string{
			"binding":  res[1],
			"mode":     res[2],
			"protocol": res[3],
			"nonce":    res[4],
			"metadata": res[5],
		}
		return s.decode(id, vals, false, ttl)
	default:
		return ash.StoredContext{}, fmt.Errorf("ashstore: consume: unexpected script result %q", res[0])
	}
}

func (s *RedisStore) decode(id string, vals map[string]string, used bool, ttl time.Duration) (ash.StoredContext, error) {
	var metadata map[string]string
	if raw := vals["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return ash.StoredContext{}, fmt.Errorf("ashstore: unmarshaling metadata: %w", err)
		}
	}

	return ash.StoredContext{
		ID:        id,
		Binding:   vals["binding"],
		Mode:      ash.Mode(vals["mode"]),
		Protocol:  ash.Protocol(vals["protocol"]),
		ExpiresAt: s.clock().Add(ttl),
		Used:      used,
		Nonce:     vals["nonce"],
		Metadata:  metadata,
	}, nil
}

func (s *RedisStore) Size(ctx context.Context) (int, error) {
	var count int
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("ashstore: size: %w", err)
	}
	return count, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("ashstore: clear: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ashstore: clear: %w", err)
	}
	return nil
}
