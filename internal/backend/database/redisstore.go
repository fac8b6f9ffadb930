package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisListLimit = 50
	defaultRedisKeyPrefix = "plantscan:"
)

// RedisStore keeps each record as a JSON document under its own key and
// pushes the key onto an index list, newest at the head.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	listLimit int
	opts      Options
}

// NewRedisStore connects using a redis:// or rediss:// URL.
func NewRedisStore(connectionString string, opts Options) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(redisOpts), opts), nil
}

func NewRedisStoreFromClient(client *redis.Client, opts Options) *RedisStore {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		listLimit: opts.listLimit(defaultRedisListLimit),
		opts:      opts,
	}
}

func (s *RedisStore) Kind() string {
	return KindRedis
}

// EnsureSchema only checks connectivity; documents need no schema.
func (s *RedisStore) EnsureSchema(ctx context.Context) error {
	return s.Ping(ctx)
}

func (s *RedisStore) Append(ctx context.Context, in ScanRecordInput) (*ScanRecord, error) {
	const op = "append"
	if err := validateInput(op, &in); err != nil {
		return nil, err
	}

	in.ClientID = ""
	record := &ScanRecord{
		ID:              generateID(),
		ReceivedAt:      s.opts.now(),
		ScanRecordInput: in,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, invalid(op, fmt.Errorf("encode record: %w", err))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.documentKey(record.ID), data, 0)
		pipe.LPush(ctx, s.indexKey(), record.ID)
		return nil
	})
	if err != nil {
		return nil, unavailable(op, err)
	}
	return record, nil
}

// listRecentScript reads the index and every indexed document in one atomic
// step. It replies with id/document pairs; a missing document comes back as
// an empty string.
var listRecentScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)
local reply = {}
for _, id in ipairs(ids) do
	reply[#reply + 1] = id
	reply[#reply + 1] = redis.call('GET', ARGV[2] .. id) or ''
end
return reply
`)

func (s *RedisStore) ListRecent(ctx context.Context, limit int) ([]*ScanRecord, error) {
	const op = "list"
	limit = clampLimit(limit, s.listLimit)

	pairs, err := listRecentScript.Run(ctx, s.client, []string{s.indexKey()}, limit, s.documentKey("")).StringSlice()
	if err != nil {
		return nil, unavailable(op, err)
	}

	// the index is newest first; newestFirst expects insertion order
	inserted := make([]*ScanRecord, 0, len(pairs)/2)
	for i := len(pairs) - 2; i >= 0; i -= 2 {
		id, raw := pairs[i], pairs[i+1]
		if raw == "" {
			slog.Warn("scan document missing for indexed id", "id", id)
			continue
		}
		var record ScanRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, unavailable(op, fmt.Errorf("decode document %s: %w", id, err))
		}
		inserted = append(inserted, &record)
	}
	return newestFirst(inserted), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) documentKey(id string) string {
	return s.prefix + "scan:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "scans"
}
