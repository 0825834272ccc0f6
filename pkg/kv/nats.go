package kv

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

// NATSOptions configures the JetStream key-value backend.
type NATSOptions struct {
	// URL of the NATS server, e.g. "nats://127.0.0.1:4222".
	URL string

	// Bucket is the key-value bucket name. Defaults to "kvgraph".
	Bucket string

	// ConnectTimeout bounds the initial connection. Defaults to 5s.
	ConnectTimeout time.Duration
}

// NATSStore is a Store on a NATS JetStream key-value bucket.
//
// Revisions are the bucket's stream sequence numbers. Deletes place a
// delete marker, which Get reports as ErrKeyNotFound.
type NATSStore struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
}

// OpenNATS connects to NATS and creates the bucket if needed.
func OpenNATS(ctx context.Context, opts NATSOptions) (*NATSStore, error) {
	if opts.URL == "" {
		return nil, kverrors.New(kverrors.CodeConfigValidateInvalidValue, "nats url is required",
			kverrors.Field("field", "store.nats.url"))
	}
	if opts.Bucket == "" {
		opts.Bucket = "kvgraph"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(opts.URL, nats.Name("kvgraph"), nats.Timeout(opts.ConnectTimeout))
	if err != nil {
		return nil, kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, "connect to nats",
			kverrors.Field("url", opts.URL))
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, "open jetstream")
	}

	setupCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	bucket, err := js.CreateOrUpdateKeyValue(setupCtx, jetstream.KeyValueConfig{
		Bucket:  opts.Bucket,
		History: 1,
	})
	if err != nil {
		conn.Close()
		return nil, kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, "open key-value bucket",
			kverrors.Field("bucket", opts.Bucket))
	}

	return &NATSStore{conn: conn, kv: bucket}, nil
}

// Get returns the entry stored under key.
func (n *NATSStore) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := n.kv.Get(ctx, key)
	if err != nil {
		return nil, n.translate(err, "get", key)
	}
	return &Entry{Key: key, Value: e.Value(), Revision: e.Revision()}, nil
}

// Put stores value under key unconditionally.
func (n *NATSStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := n.kv.Put(ctx, key, value)
	if err != nil {
		return 0, n.translate(err, "put", key)
	}
	return rev, nil
}

// Create stores value only if key is absent or deleted.
func (n *NATSStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := n.kv.Create(ctx, key, value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return 0, errExists(key)
	}
	if err != nil {
		return 0, n.translate(err, "create", key)
	}
	return rev, nil
}

// Update stores value if the current revision equals rev (rev 0 = always).
func (n *NATSStore) Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error) {
	if rev == 0 {
		return n.Put(ctx, key, value)
	}
	next, err := n.kv.Update(ctx, key, value, rev)
	if err != nil {
		if isWrongLastSequence(err) {
			return 0, errMismatch(key, rev)
		}
		return 0, n.translate(err, "update", key)
	}
	return next, nil
}

// Delete places a delete marker on key.
func (n *NATSStore) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return n.translate(err, "delete", key)
}

// Keys yields keys matching pattern using the bucket's subject filter.
func (n *NATSStore) Keys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	if _, err := ParsePattern(pattern); err != nil {
		return failedKeys(err)
	}
	return func(yield func(string, error) bool) {
		w, err := n.kv.WatchFiltered(ctx, []string{pattern}, jetstream.IgnoreDeletes(), jetstream.MetaOnly())
		if err != nil {
			yield("", n.translate(err, "keys", pattern))
			return
		}
		defer w.Stop()

		if err := drainKeys(ctx, pattern, w.Updates(), yield); err != nil {
			yield("", err)
		}
	}
}

// drainKeys yields keys from a watcher's initial snapshot. The snapshot ends
// with a nil entry; a channel closed before that means the subscription
// died and the listing is incomplete.
func drainKeys(ctx context.Context, pattern string, updates <-chan jetstream.KeyValueEntry, yield func(string, error) bool) error {
	for {
		select {
		case entry, ok := <-updates:
			if !ok {
				return kverrors.New(kverrors.CodeStoreBackendFailure, "nats key listing interrupted",
					kverrors.Field("pattern", pattern))
			}
			if entry == nil {
				return nil
			}
			if !yield(entry.Key(), nil) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drains and closes the connection.
func (n *NATSStore) Close() error {
	if n.conn.IsClosed() {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, "close nats")
	}
	return nil
}

func (n *NATSStore) translate(err error, op, key string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return errNotFound(key)
	case errors.Is(err, nats.ErrConnectionClosed):
		return errClosed()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errBackend(err, op, key)
	}
}

func isWrongLastSequence(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
