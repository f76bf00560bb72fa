package announce

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultNamespace = "TheFreeStuffBot"

	seedChunk      = 1000
	seedTTL        = time.Hour
	migrationTTL   = 7 * 24 * time.Hour
	activeMarker   = "1"
	finalizeBusy   = -1
	requeueMissing = -2
)

// RedisQueueStore keeps broadcast state in Redis. Multi-key updates run as
// Lua scripts so concurrent workers, the coordinator and migrations never
// observe a half-applied change.
//
// Layout, for namespace ns and broadcast id:
//
//	{ns}:ongoing                      set of active broadcast ids
//	{ns}:ongoing:{id}:active          "1" while the broadcast runs
//	{ns}:ongoing:{id}:pending         set of chat ids
//	{ns}:ongoing:{id}:failed          set of chat ids
//	{ns}:ongoing:{id}:attempts        retry cycles left
//	{ns}:ongoing:{id}:payload         encoded Payload
//	{ns}:ongoing:{id}:{counter}       reach counters
//	{ns}:unreached:{id}[:payload]     chats left in failed by a finished run
//	{ns}:migrations                   hash old chat id -> new chat id
type RedisQueueStore struct {
	client *redis.Client
	ns     string
}

func NewRedisQueueStore(client *redis.Client, namespace string) *RedisQueueStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisQueueStore{client: client, ns: namespace}
}

func (s *RedisQueueStore) indexKey() string      { return s.ns + ":ongoing" }
func (s *RedisQueueStore) migrationsKey() string { return s.ns + ":migrations" }

func (s *RedisQueueStore) key(id BroadcastID, field string) string {
	return s.ns + ":ongoing:" + string(id) + ":" + field
}

func (s *RedisQueueStore) unreachedKey(id BroadcastID) string {
	return s.ns + ":unreached:" + string(id)
}

// stateKeys returns active, pending, failed, attempts, payload, then the counters.
func (s *RedisQueueStore) stateKeys(id BroadcastID) []string {
	keys := []string{
		s.key(id, "active"), s.key(id, "pending"), s.key(id, "failed"),
		s.key(id, "attempts"), s.key(id, "payload"),
	}
	for _, c := range Counters {
		keys = append(keys, s.key(id, c))
	}
	return keys
}

// KEYS: 1 active, 2 pending, 3 failed, 4 attempts, 5 payload, 6..11 counters, 12 staging, 13 index
// ARGV: 1 attempts, 2 payload, 3 broadcast id
var initScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('DEL', KEYS[12])
	return 0
end
redis.call('DEL', KEYS[2], KEYS[3])
if redis.call('EXISTS', KEYS[12]) == 1 then
	redis.call('PERSIST', KEYS[12])
	redis.call('RENAME', KEYS[12], KEYS[2])
end
redis.call('SET', KEYS[4], ARGV[1])
redis.call('SET', KEYS[5], ARGV[2])
for i = 6, 11 do
	redis.call('SET', KEYS[i], 0)
end
redis.call('SET', KEYS[1], '` + activeMarker + `')
redis.call('SADD', KEYS[13], ARGV[3])
return 1
`)

// KEYS: 1 target set, 2 other set, 3 migrations, 4 active
// ARGV: 1 chat id
var pushScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 0 then
	return -1
end
local id = ARGV[1]
local moved = redis.call('HGET', KEYS[3], id)
if moved then
	id = moved
end
if redis.call('SISMEMBER', KEYS[2], id) == 1 then
	return 0
end
return redis.call('SADD', KEYS[1], id)
`)

// KEYS: 1 pending, 2 failed, 3 migrations, 4 active
// ARGV: 1 chat id
var forwardScript = redis.NewScript(`
local moved = redis.call('HGET', KEYS[3], ARGV[1])
if not moved then
	return 0
end
if redis.call('EXISTS', KEYS[4]) == 0 then
	return -1
end
if redis.call('SISMEMBER', KEYS[2], moved) == 0 then
	redis.call('SADD', KEYS[1], moved)
end
return 1
`)

// KEYS: 1 pending, 2 failed, 3 attempts
var retryScript = redis.NewScript(`
if redis.call('SCARD', KEYS[2]) == 0 then
	return 0
end
local attempts = tonumber(redis.call('GET', KEYS[3]) or '0')
if attempts <= 0 then
	return 0
end
redis.call('SUNIONSTORE', KEYS[1], KEYS[1], KEYS[2])
redis.call('DEL', KEYS[2])
redis.call('DECR', KEYS[3])
return 1
`)

// KEYS: 1 active, 2 pending, 3 failed, 4 attempts, 5 payload, 6..11 counters,
//
//	12 index, 13 unreached, 14 unreached payload
//
// ARGV: 1 broadcast id
var finalizeScript = redis.NewScript(`
if redis.call('SCARD', KEYS[2]) > 0 then
	return ` + strconv.Itoa(finalizeBusy) + `
end
if redis.call('SCARD', KEYS[3]) > 0 then
	redis.call('SUNIONSTORE', KEYS[13], KEYS[13], KEYS[3])
	local payload = redis.call('GET', KEYS[5])
	if payload then
		redis.call('SET', KEYS[14], payload)
	end
end
for i = 1, 11 do
	redis.call('DEL', KEYS[i])
end
redis.call('SREM', KEYS[12], ARGV[1])
return redis.call('SCARD', KEYS[13])
`)

// KEYS: as finalizeScript
// ARGV: 1 broadcast id, 2 attempts
var requeueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('SUNIONSTORE', KEYS[2], KEYS[2], KEYS[3], KEYS[13])
	redis.call('DEL', KEYS[3], KEYS[13], KEYS[14])
	return ` + strconv.Itoa(int(RequeueMerged)) + `
end
if redis.call('SCARD', KEYS[13]) == 0 then
	return ` + strconv.Itoa(int(RequeueNothing)) + `
end
local payload = redis.call('GET', KEYS[14])
if not payload then
	return ` + strconv.Itoa(requeueMissing) + `
end
redis.call('DEL', KEYS[2], KEYS[3])
redis.call('RENAME', KEYS[13], KEYS[2])
redis.call('DEL', KEYS[14])
redis.call('SET', KEYS[4], ARGV[2])
redis.call('SET', KEYS[5], payload)
for i = 6, 11 do
	redis.call('SET', KEYS[i], 0)
end
redis.call('SET', KEYS[1], '` + activeMarker + `')
redis.call('SADD', KEYS[12], ARGV[1])
return ` + strconv.Itoa(int(RequeueReinitialized)) + `
`)

// KEYS: 1 active, 2 pending, 3 failed
// ARGV: 1 old chat id, 2 new chat id
var relocateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local moved = 0
for i = 2, 3 do
	if redis.call('SREM', KEYS[i], ARGV[1]) == 1 then
		if redis.call('SISMEMBER', KEYS[2], ARGV[2]) == 0 and redis.call('SISMEMBER', KEYS[3], ARGV[2]) == 0 then
			redis.call('SADD', KEYS[i], ARGV[2])
		end
		moved = moved + 1
	end
end
return moved
`)

func (s *RedisQueueStore) Active(ctx context.Context, id BroadcastID) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id, "active")).Result()
	if err != nil {
		return false, fmt.Errorf("check active %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *RedisQueueStore) Init(ctx context.Context, id BroadcastID, payload []byte, chatIDs []int64, attempts int) (bool, error) {
	// Large subscriber lists are staged under a unique key in chunks, then
	// swapped in by the script together with the active check.
	staging := s.key(id, "seed:"+uuid.NewString())
	for start := 0; start < len(chatIDs); start += seedChunk {
		end := min(start+seedChunk, len(chatIDs))
		members := make([]any, 0, end-start)
		for _, c := range chatIDs[start:end] {
			members = append(members, strconv.FormatInt(c, 10))
		}
		_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.SAdd(ctx, staging, members...)
			p.Expire(ctx, staging, seedTTL)
			return nil
		})
		if err != nil {
			_ = s.client.Del(context.WithoutCancel(ctx), staging).Err()
			return false, fmt.Errorf("stage subscribers %s: %w", id, err)
		}
	}

	keys := append(s.stateKeys(id), staging, s.indexKey())
	n, err := initScript.Run(ctx, s.client, keys, attempts, payload, string(id)).Int()
	if err != nil {
		return false, fmt.Errorf("init broadcast %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *RedisQueueStore) Payload(ctx context.Context, id BroadcastID) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key(id, "payload")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownBroadcast
	}
	if err != nil {
		return nil, fmt.Errorf("load payload %s: %w", id, err)
	}
	return b, nil
}

func (s *RedisQueueStore) Pop(ctx context.Context, id BroadcastID) (int64, bool, error) {
	v, err := s.client.SPop(ctx, s.key(id, "pending")).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pop %s: %w", id, err)
	}
	chatID, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("pop %s: bad chat id %q: %w", id, v, err)
	}
	return chatID, true, nil
}

func (s *RedisQueueStore) PushPending(ctx context.Context, id BroadcastID, chatID int64) error {
	return s.push(ctx, id, chatID, "pending", "failed")
}

func (s *RedisQueueStore) PushFailed(ctx context.Context, id BroadcastID, chatID int64) error {
	return s.push(ctx, id, chatID, "failed", "pending")
}

func (s *RedisQueueStore) push(ctx context.Context, id BroadcastID, chatID int64, target, other string) error {
	keys := []string{s.key(id, target), s.key(id, other), s.migrationsKey(), s.key(id, "active")}
	n, err := pushScript.Run(ctx, s.client, keys, strconv.FormatInt(chatID, 10)).Int()
	if err != nil {
		return fmt.Errorf("push %s to %s: %w", id, target, err)
	}
	if n < 0 {
		return ErrUnknownBroadcast
	}
	return nil
}

func (s *RedisQueueStore) Forward(ctx context.Context, id BroadcastID, chatID int64) (bool, error) {
	keys := []string{s.key(id, "pending"), s.key(id, "failed"), s.migrationsKey(), s.key(id, "active")}
	n, err := forwardScript.Run(ctx, s.client, keys, strconv.FormatInt(chatID, 10)).Int()
	if err != nil {
		return false, fmt.Errorf("forward %d in %s: %w", chatID, id, err)
	}
	if n < 0 {
		return true, ErrUnknownBroadcast
	}
	return n == 1, nil
}

func (s *RedisQueueStore) Incr(ctx context.Context, id BroadcastID, counter string, n int64) error {
	if err := s.client.IncrBy(ctx, s.key(id, counter), n).Err(); err != nil {
		return fmt.Errorf("incr %s %s: %w", id, counter, err)
	}
	return nil
}

func (s *RedisQueueStore) RetryCycle(ctx context.Context, id BroadcastID) (bool, error) {
	keys := []string{s.key(id, "pending"), s.key(id, "failed"), s.key(id, "attempts")}
	n, err := retryScript.Run(ctx, s.client, keys).Int()
	if err != nil {
		return false, fmt.Errorf("retry cycle %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *RedisQueueStore) Snapshot(ctx context.Context, id BroadcastID) (Snapshot, error) {
	var (
		active    *redis.IntCmd
		pending   *redis.IntCmd
		failed    *redis.IntCmd
		attempts  *redis.StringCmd
		counters  *redis.SliceCmd
		unreached *redis.IntCmd
	)
	counterKeys := make([]string, 0, len(Counters))
	for _, c := range Counters {
		counterKeys = append(counterKeys, s.key(id, c))
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		active = p.Exists(ctx, s.key(id, "active"))
		pending = p.SCard(ctx, s.key(id, "pending"))
		failed = p.SCard(ctx, s.key(id, "failed"))
		attempts = p.Get(ctx, s.key(id, "attempts"))
		counters = p.MGet(ctx, counterKeys...)
		unreached = p.SCard(ctx, s.unreachedKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", id, err)
	}

	snap := Snapshot{
		ID:        id,
		Active:    active.Val() == 1,
		Pending:   pending.Val(),
		Failed:    failed.Val(),
		Unreached: unreached.Val(),
	}
	if v := attempts.Val(); v != "" {
		snap.Attempts, _ = strconv.ParseInt(v, 10, 64)
	}
	values := make(map[string]int64, len(Counters))
	for i, raw := range counters.Val() {
		if str, ok := raw.(string); ok {
			values[Counters[i]], _ = strconv.ParseInt(str, 10, 64)
		}
	}
	snap.Reach = reachFromCounters(values)
	return snap, nil
}

func (s *RedisQueueStore) terminalKeys(id BroadcastID) []string {
	return append(s.stateKeys(id), s.indexKey(), s.unreachedKey(id), s.unreachedKey(id)+":payload")
}

func (s *RedisQueueStore) Finalize(ctx context.Context, id BroadcastID) error {
	n, err := finalizeScript.Run(ctx, s.client, s.terminalKeys(id), string(id)).Int()
	if err != nil {
		return fmt.Errorf("finalize %s: %w", id, err)
	}
	if n == finalizeBusy {
		return ErrPendingNotEmpty
	}
	return nil
}

func (s *RedisQueueStore) Requeue(ctx context.Context, id BroadcastID, attempts int) (RequeueResult, error) {
	n, err := requeueScript.Run(ctx, s.client, s.terminalKeys(id), string(id), attempts).Int()
	if err != nil {
		return RequeueNothing, fmt.Errorf("requeue %s: %w", id, err)
	}
	if n == requeueMissing {
		return RequeueNothing, fmt.Errorf("requeue %s: %w", id, ErrUnknownBroadcast)
	}
	return RequeueResult(n), nil
}

func (s *RedisQueueStore) RecordMigration(ctx context.Context, oldID, newID int64) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.migrationsKey(), strconv.FormatInt(oldID, 10), strconv.FormatInt(newID, 10))
		p.Expire(ctx, s.migrationsKey(), migrationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record migration %d->%d: %w", oldID, newID, err)
	}
	return nil
}

func (s *RedisQueueStore) Relocate(ctx context.Context, oldID, newID int64) (int, error) {
	// Record the mapping first: a worker holding oldID right now pushes it
	// back under newID.
	if err := s.RecordMigration(ctx, oldID, newID); err != nil {
		return 0, err
	}
	oldStr, newStr := strconv.FormatInt(oldID, 10), strconv.FormatInt(newID, 10)

	ids, err := s.ActiveIDs(ctx)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, id := range ids {
		keys := []string{s.key(id, "active"), s.key(id, "pending"), s.key(id, "failed")}
		n, err := relocateScript.Run(ctx, s.client, keys, oldStr, newStr).Int()
		if err != nil {
			return moved, fmt.Errorf("relocate %d->%d in %s: %w", oldID, newID, id, err)
		}
		moved += n
	}
	return moved, nil
}

func (s *RedisQueueStore) ActiveIDs(ctx context.Context) ([]BroadcastID, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active broadcasts: %w", err)
	}
	sort.Strings(members)
	ids := make([]BroadcastID, 0, len(members))
	for _, m := range members {
		ids = append(ids, BroadcastID(m))
	}
	return ids, nil
}
