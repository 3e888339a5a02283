package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rawjaws/cosync/ot"
)

// RedisStore is a Redis-backed implementation of DocumentStore. Document
// metadata lives in a hash, operation history in a list of JSON payloads.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore using the given client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "cosync"}
}

func (s *RedisStore) docKey(id string) string { return s.prefix + ":doc:" + id }
func (s *RedisStore) opsKey(id string) string { return s.prefix + ":ops:" + id }

func (s *RedisStore) Create(ctx context.Context, id, content string) error {
	// HSetNX on the content field claims the document atomically.
	ok, err := s.rdb.HSetNX(ctx, s.docKey(id), "content", content).Result()
	if err != nil {
		return fmt.Errorf("redis create %q: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = s.rdb.HSet(ctx, s.docKey(id),
		"version", 0,
		"checksum", "0",
		"createdAt", now,
		"updatedAt", now,
	).Err()
	if err != nil {
		return fmt.Errorf("redis create %q: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	m, err := s.rdb.HGetAll(ctx, s.docKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", id, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return hashToDocInfo(id, m), nil
}

func hashToDocInfo(id string, m map[string]string) *DocumentInfo {
	version, _ := strconv.Atoi(m["version"])
	checksum, _ := strconv.ParseUint(m["checksum"], 10, 64)
	createdAt, _ := time.Parse(time.RFC3339Nano, m["createdAt"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updatedAt"])
	return &DocumentInfo{
		ID:        id,
		Content:   m["content"],
		Version:   version,
		Checksum:  checksum,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

func (s *RedisStore) List(ctx context.Context) ([]DocumentInfo, error) {
	var result []DocumentInfo
	var cursor uint64
	match := s.prefix + ":doc:*"
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis list: %w", err)
		}
		for _, key := range keys {
			id := key[len(s.prefix)+len(":doc:"):]
			info, err := s.Get(ctx, id)
			if err != nil {
				continue
			}
			result = append(result, *info)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

func (s *RedisStore) UpdateContent(ctx context.Context, id, content string, version int, checksum uint64) error {
	exists, err := s.rdb.Exists(ctx, s.docKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis update %q: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return s.rdb.HSet(ctx, s.docKey(id),
		"content", content,
		"version", version,
		"checksum", strconv.FormatUint(checksum, 10),
		"updatedAt", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *RedisStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, s.opsKey(id), payload)
	pipe.HSet(ctx, s.docKey(id), "updatedAt", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append op %q v%d: %w", id, version, err)
	}
	return nil
}

func (s *RedisStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	exists, err := s.rdb.Exists(ctx, s.docKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ops %q: %w", id, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	raw, err := s.rdb.LRange(ctx, s.opsKey(id), int64(fromVersion), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ops %q: %w", id, err)
	}
	ops := make([]ot.Operation, 0, len(raw))
	for i, item := range raw {
		var op ot.Operation
		if err := json.Unmarshal([]byte(item), &op); err != nil {
			return nil, fmt.Errorf("unmarshal operation %d for %q: %w", fromVersion+i, id, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
