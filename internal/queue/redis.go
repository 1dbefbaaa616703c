package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua keeps dedup and claim atomic across competing workers.
var (
	enqueueScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
  return 0
end
redis.call('HSET', KEYS[2], 'key', ARGV[2], 'payload', ARGV[3], 'attempts', 0, 'status', 'pending', 'enqueued_at', ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return 1
`)

	claimScript = redis.NewScript(`
local id
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #expired > 0 then
  id = expired[1]
else
  local ready = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
  if #ready == 0 then
    return false
  end
  id = ready[1]
  redis.call('ZREM', KEYS[1], id)
end
redis.call('ZADD', KEYS[2], ARGV[2], id)
local jk = ARGV[3] .. id
local attempts = redis.call('HINCRBY', jk, 'attempts', 1)
redis.call('HSET', jk, 'status', 'running')
local f = redis.call('HMGET', jk, 'key', 'payload', 'enqueued_at')
return {id, f[1], f[2], tostring(attempts), f[3]}
`)
)

// RedisQueue stores jobs in Redis:
//
//	<prefix>ready      ZSET id -> run_at (ms)
//	<prefix>running    ZSET id -> lease deadline (ms)
//	<prefix>completed  ZSET id -> completed_at (ms)
//	<prefix>failed     ZSET id -> failed_at (ms)
//	<prefix>job:<id>   HASH key, payload, attempts, status, enqueued_at, last_error
//	<prefix>dedup:<k>  STRING id, present while the job is retained
type RedisQueue struct {
	rdb       redis.UniversalClient
	prefix    string
	lease     time.Duration
	retention Retention
	now       func() time.Time
}

// NewRedisQueue returns a RedisQueue for the named queue.
func NewRedisQueue(rdb redis.UniversalClient, name string, lease time.Duration, retention Retention) *RedisQueue {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &RedisQueue{
		rdb:       rdb,
		prefix:    "areaq:" + name + ":",
		lease:     lease,
		retention: retention,
		now:       time.Now,
	}
}

func (q *RedisQueue) k(parts ...string) string {
	s := q.prefix
	for _, p := range parts {
		s += p
	}
	return s
}

func ms(t time.Time) int64 { return t.UnixMilli() }

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, key string, payload []byte) (bool, error) {
	id := uuid.NewString()
	n, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.k("dedup:", key), q.k("job:", id), q.k("ready")},
		id, key, payload, ms(q.now()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis enqueue: %w", err)
	}
	return n == 1, nil
}

// Dequeue implements Queue.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	now := q.now()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.k("ready"), q.k("running")},
		ms(now), ms(now.Add(q.lease)), q.k("job:"),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis claim: %w", err)
	}
	if len(res) != 5 {
		return nil, fmt.Errorf("redis claim: unexpected reply %v", res)
	}
	str := func(v any) string { s, _ := v.(string); return s }
	attempts, _ := strconv.Atoi(str(res[3]))
	enqueuedMS, _ := strconv.ParseInt(str(res[4]), 10, 64)
	return &Job{
		ID:         str(res[0]),
		Key:        str(res[1]),
		Payload:    []byte(str(res[2])),
		Attempts:   attempts,
		EnqueuedAt: time.UnixMilli(enqueuedMS).UTC(),
	}, nil
}

func (q *RedisQueue) finish(ctx context.Context, job *Job, set, status string, at time.Time, cause error) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.k("running"), job.ID)
		p.ZAdd(ctx, q.k(set), redis.Z{Score: float64(ms(at)), Member: job.ID})
		p.HSet(ctx, q.k("job:", job.ID), "status", status, "last_error", errText(cause))
		return nil
	})
	return err
}

// Ack implements Queue.
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	return q.finish(ctx, job, "completed", "completed", q.now(), nil)
}

// Nack implements Queue.
func (q *RedisQueue) Nack(ctx context.Context, job *Job, retryAfter time.Duration, cause error) error {
	return q.finish(ctx, job, "ready", "pending", q.now().Add(retryAfter), cause)
}

// Fail implements Queue.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) error {
	return q.finish(ctx, job, "failed", "failed", q.now(), cause)
}

// Purge implements Queue.
func (q *RedisQueue) Purge(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for set, keep := range map[string]time.Duration{
		"completed": q.retention.Completed,
		"failed":    q.retention.Failed,
	} {
		ids, err := q.rdb.ZRangeByScore(ctx, q.k(set), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(ms(now.Add(-keep)), 10),
		}).Result()
		if err != nil {
			return total, err
		}
		for _, id := range ids {
			key, err := q.rdb.HGet(ctx, q.k("job:", id), "key").Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return total, err
			}
			_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
				if key != "" {
					p.Del(ctx, q.k("dedup:", key))
				}
				p.Del(ctx, q.k("job:", id))
				p.ZRem(ctx, q.k(set), id)
				return nil
			})
			if err != nil {
				return total, err
			}
			total++
		}
	}
	return total, nil
}
