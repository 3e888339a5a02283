package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawjaws/cosync/ot"
)

func testPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping Postgres tests")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func pgDocID(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func cleanupPgDoc(t *testing.T, s *PostgresStore, docID string) {
	t.Helper()
	ctx := context.Background()
	s.pool.Exec(ctx, "DELETE FROM operations WHERE doc_id = $1", docID)
	s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", docID)
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	s := testPostgresStore(t)
	ctx := context.Background()
	docID := pgDocID(t)
	t.Cleanup(func() { cleanupPgDoc(t, s, docID) })

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

func TestPostgresStore_GetNotFound(t *testing.T) {
	s := testPostgresStore(t)
	_, err := s.Get(context.Background(), pgDocID(t))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_UpdateContent(t *testing.T) {
	s := testPostgresStore(t)
	ctx := context.Background()
	docID := pgDocID(t)
	t.Cleanup(func() { cleanupPgDoc(t, s, docID) })

	if err := s.Create(ctx, docID, "hello"); err != nil {
		t.Fatal(err)
	}
	// Checksums above 1<<63 round-trip through the signed column.
	const sum = uint64(18446744073709551615)
	if err := s.UpdateContent(ctx, docID, "hello world", 2, sum); err != nil {
		t.Fatal(err)
	}

	info, err := s.Get(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Content != "hello world" || info.Version != 2 || info.Checksum != sum {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestPostgresStore_Operations(t *testing.T) {
	s := testPostgresStore(t)
	ctx := context.Background()
	docID := pgDocID(t)
	t.Cleanup(func() { cleanupPgDoc(t, s, docID) })

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
	if ops[0].ID != "op1" || ops[2].ID != "op3" {
		t.Errorf("ops out of order: %+v", ops)
	}

	ops, err = s.GetOperations(ctx, docID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].ID != "op3" {
		t.Errorf("tail read: got %+v, want just op3", ops)
	}
}
