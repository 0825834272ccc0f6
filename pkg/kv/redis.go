package kv

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

const (
	redisFieldValue   = "value"
	redisFieldRev     = "rev"
	redisFieldDeleted = "deleted"

	redisScanCount = 256
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0").
	URL string

	// KeyPrefix namespaces every key ("<prefix>:<key>"). Defaults to "kvgraph".
	KeyPrefix string

	// Database overrides the database selected by URL when non-zero.
	Database int

	// ConnectTimeout is the maximum time to wait for connection establishment.
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations.
	WriteTimeout time.Duration
}

// RedisStore is a Store on Redis.
//
// Each key is a hash "<prefix>:<key>" holding value, rev and deleted fields.
// Revisions come from INCR on "<prefix>:__meta__:rev". Deletes are soft: the
// hash stays with deleted=1 so a later Create with a stale revision fails.
// Create and conditional Update run under WATCH/MULTI.
type RedisStore struct {
	client *redis.Client
	prefix string
	revKey string
}

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		return nil, kverrors.New(kverrors.CodeConfigValidateInvalidValue, "redis url is required",
			kverrors.Field("field", "store.redis.url"))
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, kverrors.Wrap(err, kverrors.CodeConfigValidateInvalidValue, "parse redis url",
			kverrors.Field("field", "store.redis.url"))
	}
	if opts.Database != 0 {
		redisOpts.DB = opts.Database
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, "connect to redis")
	}

	return NewRedisStore(client, opts.KeyPrefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "kvgraph"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		revKey: prefix + ":__meta__:rev",
	}
}

func (r *RedisStore) hashKey(key string) string {
	return r.prefix + ":" + key
}

// Get returns the entry stored under key.
func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	fields, err := r.client.HGetAll(ctx, r.hashKey(key)).Result()
	if err != nil {
		return nil, r.translate(err, "get", key)
	}
	rev, value, live := decodeRedisHash(fields)
	if !live {
		return nil, errNotFound(key)
	}
	return &Entry{Key: key, Value: value, Revision: rev}, nil
}

// Put stores value under key unconditionally.
func (r *RedisStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := r.nextRevision(ctx)
	if err != nil {
		return 0, err
	}
	err = r.client.HSet(ctx, r.hashKey(key),
		redisFieldValue, value,
		redisFieldRev, rev,
		redisFieldDeleted, "0",
	).Err()
	if err != nil {
		return 0, r.translate(err, "put", key)
	}
	return rev, nil
}

// Create stores value only if key is absent or soft-deleted.
func (r *RedisStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	hk := r.hashKey(key)
	var rev uint64
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, hk).Result()
		if err != nil {
			return err
		}
		if _, _, live := decodeRedisHash(fields); live {
			return errExists(key)
		}
		rev, err = r.nextRevision(ctx)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hk, redisFieldValue, value, redisFieldRev, rev, redisFieldDeleted, "0")
			return nil
		})
		return err
	}, hk)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, errExists(key)
	}
	if err != nil {
		return 0, r.translate(err, "create", key)
	}
	return rev, nil
}

// Update stores value if the current revision equals rev (rev 0 = always).
func (r *RedisStore) Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error) {
	if rev == 0 {
		return r.Put(ctx, key, value)
	}
	hk := r.hashKey(key)
	var next uint64
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, hk).Result()
		if err != nil {
			return err
		}
		current, _, live := decodeRedisHash(fields)
		if !live || current != rev {
			return errMismatch(key, rev)
		}
		next, err = r.nextRevision(ctx)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hk, redisFieldValue, value, redisFieldRev, next, redisFieldDeleted, "0")
			return nil
		})
		return err
	}, hk)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, errMismatch(key, rev)
	}
	if err != nil {
		return 0, r.translate(err, "update", key)
	}
	return next, nil
}

// Delete soft-deletes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	hk := r.hashKey(key)
	exists, err := r.client.Exists(ctx, hk).Result()
	if err != nil {
		return r.translate(err, "delete", key)
	}
	if exists == 0 {
		return nil
	}
	rev, err := r.nextRevision(ctx)
	if err != nil {
		return err
	}
	err = r.client.HSet(ctx, hk,
		redisFieldValue, "",
		redisFieldRev, rev,
		redisFieldDeleted, "1",
	).Err()
	return r.translate(err, "delete", key)
}

// Keys yields live keys matching pattern.
//
// SCAN is driven by the escaped literal prefix of the pattern; matching and
// de-duplication (SCAN may return a key twice) happen client-side.
func (r *RedisStore) Keys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	p, err := ParsePattern(pattern)
	if err != nil {
		return failedKeys(err)
	}
	match := r.prefix + ":" + escapeGlob(p.LiteralPrefix()) + "*"
	return func(yield func(string, error) bool) {
		seen := make(map[string]struct{})
		it := r.client.Scan(ctx, 0, match, redisScanCount).Iterator()
		for it.Next(ctx) {
			key, ok := strings.CutPrefix(it.Val(), r.prefix+":")
			if !ok || strings.HasPrefix(key, "__meta__:") || !p.Match(key) {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			deleted, err := r.client.HGet(ctx, it.Val(), redisFieldDeleted).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				yield("", r.translate(err, "keys", key))
				return
			}
			if deleted == "1" {
				continue
			}
			if !yield(key, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield("", r.translate(err, "keys", pattern))
		}
	}
}

// Close closes the client.
func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, "close redis")
	}
	return nil
}

func (r *RedisStore) nextRevision(ctx context.Context) (uint64, error) {
	n, err := r.client.Incr(ctx, r.revKey).Result()
	if err != nil {
		return 0, r.translate(err, "incr", r.revKey)
	}
	return uint64(n), nil
}

func (r *RedisStore) translate(err error, op, key string) error {
	switch {
	case err == nil:
		return nil
	case kverrors.CodeOf(err) != "":
		return err
	case errors.Is(err, redis.ErrClosed):
		return errClosed()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errBackend(err, op, key)
	}
}

func decodeRedisHash(fields map[string]string) (rev uint64, value []byte, live bool) {
	if len(fields) == 0 || fields[redisFieldDeleted] == "1" {
		return 0, nil, false
	}
	rev, _ = strconv.ParseUint(fields[redisFieldRev], 10, 64)
	return rev, []byte(fields[redisFieldValue]), true
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
