package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/collab-notify/internal/domain"
)

// Every state change is a single Lua script so a job is always in exactly one
// of wait, delayed, active or dead, even with many worker processes.
var (
	reserveScript = redis.NewScript(`
for i = 1, 3 do
  local popped = redis.call('ZPOPMIN', KEYS[i])
  if popped[1] then
    redis.call('ZADD', KEYS[i + 3], ARGV[1], popped[1])
    local n = redis.call('HINCRBY', KEYS[7], popped[1], 1)
    return {popped[1], n}
  end
end
return false`)

	promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, ARGV[2])
for i = 1, #due, 2 do
  redis.call('ZREM', KEYS[1], due[i])
  redis.call('ZADD', KEYS[2], due[i + 1], due[i])
end
return #due / 2`)

	// Expired leases on their last attempt go to dead instead of wait.
	reclaimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local dead = {}
local requeued = 0
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[1], id)
  local n = tonumber(redis.call('HGET', KEYS[3], id) or '0')
  local max = tonumber(redis.call('HGET', KEYS[4], id) or '0')
  if max > 0 and n >= max then
    redis.call('LPUSH', KEYS[5], id)
    table.insert(dead, id)
  else
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    requeued = requeued + 1
  end
end
return {requeued, dead}`)

	// The attempt counter doubles as the lease token: a holder whose lease
	// was reclaimed and handed out again carries a stale attempt.
	ackScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) or redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return 1`)

	failScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) or redis.call('HGET', KEYS[5], ARGV[1]) ~= ARGV[5] then
  return -1
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[4])
if ARGV[3] == '1' then
  redis.call('LPUSH', KEYS[3], ARGV[1])
  return 1
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 0`)
)

const moveBatch = 100

// RedisOptions configure a Redis queue.
type RedisOptions struct {
	// Prefix namespaces every key, e.g. "collab-notify".
	Prefix string
	// Lease is how long a reserved job may run before Reclaim hands it to
	// another worker.
	Lease time.Duration
	// PollInterval is how often an idle Reserve looks for work.
	PollInterval time.Duration
}

// Redis is a Queue shared by every process pointed at the same Redis.
//
// Per queue and priority tier it keeps three sorted sets: wait (score =
// ready time), delayed (score = retry time) and active (score = lease
// deadline). Job bodies live in one hash, attempt counters and attempt
// limits in two more, and exhausted jobs in a dead list. All keys of a queue
// share a hash tag.
type Redis struct {
	rdb  redis.UniversalClient
	opts RedisOptions

	closed    chan struct{}
	closeOnce sync.Once
}

func NewRedis(rdb redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "queue"
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &Redis{rdb: rdb, opts: opts, closed: make(chan struct{})}
}

type redisKeys struct {
	wait, delayed, active [3]string
	jobs, attempts, max   string
	dead                  string
}

func (r *Redis) keys(name string) redisKeys {
	base := fmt.Sprintf("%s:{%s}", r.opts.Prefix, name)
	var k redisKeys
	for i, p := range tiers {
		k.wait[i] = base + ":" + string(p) + ":wait"
		k.delayed[i] = base + ":" + string(p) + ":delayed"
		k.active[i] = base + ":" + string(p) + ":active"
	}
	k.jobs = base + ":jobs"
	k.attempts = base + ":attempts"
	k.max = base + ":max"
	k.dead = base + ":dead"
	return k
}

func tierIndex(p domain.Priority) int {
	switch p {
	case domain.PriorityHigh:
		return 0
	case domain.PriorityLow:
		return 2
	default:
		return 1
	}
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (r *Redis) Enqueue(ctx context.Context, name, notificationID string, payload any, opts Options) (*Job, error) {
	job, err := newJob(name, notificationID, payload, opts)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	k := r.keys(name)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k.jobs, job.ID, body)
		pipe.HSet(ctx, k.max, job.ID, job.MaxAttempts)
		pipe.ZAdd(ctx, k.wait[tierIndex(job.Priority)], redis.Z{
			Score:  float64(job.EnqueuedAt.UnixMilli()),
			Member: job.ID,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", name, err)
	}
	return job, nil
}

// Reserve promotes due retries and then takes the oldest job from the
// highest non-empty tier, polling while the queue is idle.
func (r *Redis) Reserve(ctx context.Context, name string) (*Job, error) {
	k := r.keys(name)
	timer := time.NewTimer(r.opts.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-r.closed:
			return nil, ErrClosed
		default:
		}

		if err := r.promote(ctx, k); err != nil {
			return nil, err
		}
		job, err := r.tryReserve(ctx, k)
		if err != nil || job != nil {
			return job, err
		}

		timer.Reset(r.opts.PollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.closed:
			return nil, ErrClosed
		case <-timer.C:
		}
	}
}

func (r *Redis) promote(ctx context.Context, k redisKeys) error {
	now := millis(time.Now())
	for i := range tiers {
		if err := promoteScript.Run(ctx, r.rdb, []string{k.delayed[i], k.wait[i]}, now, moveBatch).Err(); err != nil {
			return fmt.Errorf("promote delayed jobs: %w", err)
		}
	}
	return nil
}

func (r *Redis) tryReserve(ctx context.Context, k redisKeys) (*Job, error) {
	deadline := millis(time.Now().Add(r.opts.Lease))
	keys := []string{
		k.wait[0], k.wait[1], k.wait[2],
		k.active[0], k.active[1], k.active[2],
		k.attempts,
	}
	res, err := reserveScript.Run(ctx, r.rdb, keys, deadline).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("reserve: unexpected reply %v", res)
	}
	id, _ := res[0].(string)
	attempt, _ := res[1].(int64)

	job, err := r.load(ctx, k, id)
	if err != nil {
		return nil, err
	}
	job.Attempt = int(attempt)
	return job, nil
}

func (r *Redis) load(ctx context.Context, k redisKeys, id string) (*Job, error) {
	body, err := r.rdb.HGet(ctx, k.jobs, id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (r *Redis) Ack(ctx context.Context, job *Job) error {
	k := r.keys(job.Queue)
	n, err := ackScript.Run(ctx, r.rdb,
		[]string{k.active[tierIndex(job.Priority)], k.jobs, k.attempts, k.max},
		job.ID, strconv.Itoa(job.Attempt)).Int()
	if err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *Redis) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	if cause != nil {
		job.LastError = cause.Error()
	}
	dead := job.Exhausted()

	// The stored body never carries the attempt; the counter hash owns it.
	stored := *job
	stored.Attempt = 0
	body, err := json.Marshal(&stored)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}

	flag := "0"
	if dead {
		flag = "1"
	}
	k := r.keys(job.Queue)
	t := tierIndex(job.Priority)
	readyAt := millis(time.Now().Add(job.Backoff.Duration(job.Attempt)))

	n, err := failScript.Run(ctx, r.rdb,
		[]string{k.active[t], k.delayed[t], k.dead, k.jobs, k.attempts},
		job.ID, readyAt, flag, body, strconv.Itoa(job.Attempt)).Int()
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if n < 0 {
		return false, ErrLeaseLost
	}
	return n == 1, nil
}

// Reclaim moves jobs whose lease deadline passed back to wait. The attempt
// they were on stays counted, so a job that was on its last attempt is dead
// instead and is returned with ErrLeaseExpired as its last error.
func (r *Redis) Reclaim(ctx context.Context, name string) (Reclaimed, error) {
	k := r.keys(name)
	now := millis(time.Now())
	var out Reclaimed
	var deadIDs []string
	for i := range tiers {
		res, err := reclaimScript.Run(ctx, r.rdb,
			[]string{k.active[i], k.wait[i], k.attempts, k.max, k.dead}, now, moveBatch).Slice()
		if err != nil {
			return out, fmt.Errorf("reclaim %s: %w", name, err)
		}
		if len(res) != 2 {
			return out, fmt.Errorf("reclaim %s: unexpected reply %v", name, res)
		}
		n, _ := res[0].(int64)
		out.Requeued += int(n)
		ids, _ := res[1].([]any)
		for _, id := range ids {
			if s, ok := id.(string); ok {
				deadIDs = append(deadIDs, s)
			}
		}
	}
	if len(deadIDs) == 0 {
		return out, nil
	}

	dead, err := r.loadWithAttempts(ctx, k, deadIDs)
	if err != nil {
		return out, err
	}
	for _, job := range dead {
		job.LastError = ErrLeaseExpired.Error()
		stored := *job
		stored.Attempt = 0
		body, err := json.Marshal(&stored)
		if err != nil {
			return out, fmt.Errorf("encode job: %w", err)
		}
		if err := r.rdb.HSet(ctx, k.jobs, job.ID, body).Err(); err != nil {
			return out, fmt.Errorf("store dead job %s: %w", job.ID, err)
		}
	}
	out.Dead = dead
	return out, nil
}

func (r *Redis) Stats(ctx context.Context, name string) (Stats, error) {
	k := r.keys(name)
	var wait, delayed, active [3]*redis.IntCmd
	var dead *redis.IntCmd

	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range tiers {
			wait[i] = pipe.ZCard(ctx, k.wait[i])
			delayed[i] = pipe.ZCard(ctx, k.delayed[i])
			active[i] = pipe.ZCard(ctx, k.active[i])
		}
		dead = pipe.LLen(ctx, k.dead)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats %s: %w", name, err)
	}

	var s Stats
	for i := range tiers {
		s.Ready += int(wait[i].Val())
		s.Delayed += int(delayed[i].Val())
		s.Active += int(active[i].Val())
	}
	s.Dead = int(dead.Val())
	return s, nil
}

// Dead returns up to limit dead jobs, most recent first.
func (r *Redis) Dead(ctx context.Context, name string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	k := r.keys(name)
	ids, err := r.rdb.LRange(ctx, k.dead, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead %s: %w", name, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return r.loadWithAttempts(ctx, k, ids)
}

func (r *Redis) loadWithAttempts(ctx context.Context, k redisKeys, ids []string) ([]*Job, error) {
	bodies, err := r.rdb.HMGet(ctx, k.jobs, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	attempts, err := r.rdb.HMGet(ctx, k.attempts, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for i, raw := range bodies {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		if a, ok := attempts[i].(string); ok {
			job.Attempt, _ = strconv.Atoi(a)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Close stops blocked Reserve calls. The Redis client belongs to the caller.
func (r *Redis) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
