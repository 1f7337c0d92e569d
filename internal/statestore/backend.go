package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend is an optional durable write-behind mirror for instance state
// (SPEC_FULL.md §3 NEW). The in-memory Store is always authoritative
// during a tick; a Backend only receives periodic snapshots and is
// consulted on startup when the local snapshot file is missing. It holds
// whole JSON blobs by key, not individual state keys: the only caller,
// persistence.Snapshotter, stores the entire world document under a
// single key ("world" by default) rather than one entry per instance.
type Backend interface {
	// SaveState persists data (a JSON blob) under the key passed as
	// instanceID, overwriting any prior snapshot.
	SaveState(ctx context.Context, instanceID string, data json.RawMessage) error
	// LoadState returns the last snapshot saved for instanceID, or nil if
	// none exists.
	LoadState(ctx context.Context, instanceID string) (json.RawMessage, error)
	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error
	// Close releases all resources held by the backend.
	Close() error
}

// PostgresBackend mirrors instance state into a single JSONB-column
// table, grounded on the teacher's PostgresStore (pool setup, schema
// bootstrap, Ping contract).
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pool against dsn and ensures the mirror
// table exists.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("statestore: postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("statestore: create postgres pool: %w", err)
	}
	b := &PostgresBackend{pool: pool}
	if err := b.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS instance_state (
		instance_id TEXT PRIMARY KEY,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("statestore: ensure schema: %w", err)
	}
	return b, nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	if b.pool == nil {
		return fmt.Errorf("statestore: postgres not initialized")
	}
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

func (b *PostgresBackend) SaveState(ctx context.Context, instanceID string, data json.RawMessage) error {
	_, err := b.pool.Exec(ctx, `INSERT INTO instance_state (instance_id, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (instance_id) DO UPDATE SET data = $2, updated_at = $3`,
		instanceID, data, time.Now())
	return err
}

func (b *PostgresBackend) LoadState(ctx context.Context, instanceID string) (json.RawMessage, error) {
	var data json.RawMessage
	err := b.pool.QueryRow(ctx, `SELECT data FROM instance_state WHERE instance_id = $1`, instanceID).Scan(&data)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

const redisStateKeyPrefix = "mudkernel:state:"

// RedisBackend mirrors instance state into Redis string keys, grounded
// on the teacher's RedisStore key-prefix and JSON-blob-per-key pattern.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to addr/db and verifies connectivity.
func NewRedisBackend(addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("statestore: redis connection failed: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) SaveState(ctx context.Context, instanceID string, data json.RawMessage) error {
	return b.client.Set(ctx, redisStateKeyPrefix+instanceID, []byte(data), 0).Err()
}

func (b *RedisBackend) LoadState(ctx context.Context, instanceID string) (json.RawMessage, error) {
	data, err := b.client.Get(ctx, redisStateKeyPrefix+instanceID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
