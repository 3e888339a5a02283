package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rawjaws/cosync/ot"
)

func testRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb)
}

func redisDocID(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func cleanupRedisDoc(t *testing.T, s *RedisStore, docID string) {
	t.Helper()
	ctx := context.Background()
	s.rdb.Del(ctx, s.docKey(docID), s.opsKey(docID))
}

func TestRedisStore_CreateAndGet(t *testing.T) {
	s := testRedisStore(t)
	ctx := context.Background()
	docID := redisDocID(t)
	t.Cleanup(func() { cleanupRedisDoc(t, s, docID) })

	if err := s.Create(ctx, docID, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, docID, "again"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate create err = %v, want ErrExists", err)
	}

	info, err := s.Get(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Content != "hello" || info.Version != 0 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestRedisStore_GetNotFound(t *testing.T) {
	s := testRedisStore(t)
	_, err := s.Get(context.Background(), redisDocID(t))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_UpdateContent(t *testing.T) {
	s := testRedisStore(t)
	ctx := context.Background()
	docID := redisDocID(t)
	t.Cleanup(func() { cleanupRedisDoc(t, s, docID) })

	if err := s.Create(ctx, docID, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateContent(ctx, docID, "hello world", 2, 1234567890); err != nil {
		t.Fatal(err)
	}

	info, err := s.Get(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Content != "hello world" || info.Version != 2 || info.Checksum != 1234567890 {
		t.Errorf("unexpected info: %+v", info)
	}

	if err := s.UpdateContent(ctx, redisDocID(t), "x", 1, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing doc update err = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_Operations(t *testing.T) {
	s := testRedisStore(t)
	ctx := context.Background()
	docID := redisDocID(t)
	t.Cleanup(func() { cleanupRedisDoc(t, s, docID) })

	if err := s.Create(ctx, docID, ""); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		op := ot.Operation{ID: fmt.Sprintf("op%d", i), Kind: ot.Insert, Position: i - 1, Text: "x"}
		if err := s.AppendOperation(ctx, docID, op, i); err != nil {
			t.Fatal(err)
		}
	}

	ops, err := s.GetOperations(ctx, docID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 {
		t.Fatalf("got %d ops, want 3", len(ops))
	}

	ops, err = s.GetOperations(ctx, docID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].ID != "op3" {
		t.Errorf("tail read: got %+v, want just op3", ops)
	}
}
