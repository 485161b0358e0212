// Package redis shares verification state, session locks and violation
// counts across guardrail replicas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/support-guardrail/internal/domain/session"
	"github.com/bryanwahyu/support-guardrail/internal/domain/verification"
)

const defaultPrefix = "guardrail:"

// Options for the redis adapters.
type Options struct {
	Prefix   string
	StateTTL time.Duration // 0 keeps state forever
	LockTTL  time.Duration
	// LockRetry is the poll interval while a session lock is held elsewhere.
	LockRetry time.Duration
	// Retention bounds the violation sorted sets.
	Retention time.Duration
}

func (o Options) prefix() string {
	if o.Prefix == "" {
		return defaultPrefix
	}
	return o.Prefix
}

// Connect parses a redis URL and pings the server.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := goredis.NewClient(opt)
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx2).Err(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// StateStore implements verification.StateStore. States are stored as JSON.
type StateStore struct {
	rdb  goredis.UniversalClient
	opts Options
}

func NewStateStore(rdb goredis.UniversalClient, opts Options) *StateStore {
	return &StateStore{rdb: rdb, opts: opts}
}

func (s *StateStore) key(sessionID string) string {
	return s.opts.prefix() + "state:" + sessionID
}

func (s *StateStore) Get(ctx context.Context, sessionID string) (verification.State, error) {
	raw, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return verification.NewState(), nil
	}
	if err != nil {
		return verification.State{}, fmt.Errorf("redis get state: %w", err)
	}
	var st verification.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return verification.State{}, fmt.Errorf("%w: %v", verification.ErrCorruptedState, err)
	}
	return st, nil
}

func (s *StateStore) Set(ctx context.Context, sessionID string, st verification.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(sessionID), raw, s.opts.StateTTL).Err(); err != nil {
		return fmt.Errorf("redis set state: %w", err)
	}
	return nil
}

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker implements session.Locker with SET NX PX and an owner token.
type Locker struct {
	rdb  goredis.UniversalClient
	opts Options
}

func NewLocker(rdb goredis.UniversalClient, opts Options) *Locker {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.LockRetry <= 0 {
		opts.LockRetry = 25 * time.Millisecond
	}
	return &Locker{rdb: rdb, opts: opts}
}

func (l *Locker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := l.opts.prefix() + "lock:" + sessionID
	token := uuid.NewString()
	t := time.NewTicker(l.opts.LockRetry)
	defer t.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.opts.LockTTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		if ok {
			return func() {
				// detached so a cancelled turn still releases
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				releaseScript.Run(rctx, l.rdb, []string{key}, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", session.ErrLockTimeout, sessionID)
		case <-t.C:
		}
	}
}

// Counter implements audit.ViolationCounter on one sorted set per business,
// scored by unix milliseconds.
type Counter struct {
	rdb  goredis.UniversalClient
	opts Options
}

func NewCounter(rdb goredis.UniversalClient, opts Options) *Counter {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &Counter{rdb: rdb, opts: opts}
}

func (c *Counter) key(businessID string) string {
	return c.opts.prefix() + "violations:" + businessID
}

// Add runs ZADD, the retention trim and ZCOUNT in one MULTI/EXEC, so the
// returned count already orders concurrent writers across replicas.
func (c *Counter) Add(ctx context.Context, businessID string, at, since time.Time) (int, error) {
	key := c.key(businessID)
	cutoff := at.Add(-c.opts.Retention).UnixMilli()
	var count *goredis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZAdd(ctx, key, goredis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		count = p.ZCount(ctx, key, strconv.FormatInt(since.UnixMilli(), 10), "+inf")
		p.Expire(ctx, key, c.opts.Retention)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis add violation: %w", err)
	}
	return int(count.Val()), nil
}

func (c *Counter) CountSince(ctx context.Context, businessID string, since time.Time) (int, error) {
	n, err := c.rdb.ZCount(ctx, c.key(businessID), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis count violations: %w", err)
	}
	return int(n), nil
}
