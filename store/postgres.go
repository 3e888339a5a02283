package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawjaws/cosync/ot"
)

// PostgresStore is a Postgres-backed implementation of DocumentStore using a
// pgx connection pool. Operation payloads are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore using the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 0,
			checksum   BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS operations (
			doc_id  TEXT NOT NULL REFERENCES documents(id),
			version INTEGER NOT NULL,
			payload JSONB NOT NULL,
			PRIMARY KEY (doc_id, version)
		);`)
	if err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, id, content string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, content, version, checksum, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3)
		ON CONFLICT (id) DO NOTHING`, id, content, now)
	if err != nil {
		return fmt.Errorf("postgres create %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	info := DocumentInfo{ID: id}
	var checksum int64
	err := s.pool.QueryRow(ctx, `
		SELECT content, version, checksum, created_at, updated_at
		FROM documents WHERE id = $1`, id).
		Scan(&info.Content, &info.Version, &checksum, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %q: %w", id, err)
	}
	info.Checksum = uint64(checksum)
	return &info, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, version, checksum, created_at, updated_at
		FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	defer rows.Close()

	var result []DocumentInfo
	for rows.Next() {
		var info DocumentInfo
		var checksum int64
		if err := rows.Scan(&info.ID, &info.Content, &info.Version, &checksum,
			&info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres list: %w", err)
		}
		info.Checksum = uint64(checksum)
		result = append(result, info)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpdateContent(ctx context.Context, id, content string, version int, checksum uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET content = $2, version = $3, checksum = $4, updated_at = $5
		WHERE id = $1`, id, content, version, int64(checksum), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres update %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO operations (doc_id, version, payload) VALUES ($1, $2, $3)
		ON CONFLICT (doc_id, version) DO NOTHING`, id, version, payload)
	if err != nil {
		return fmt.Errorf("postgres append op %q v%d: %w", id, version, err)
	}
	return nil
}

func (s *PostgresStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM operations
		WHERE doc_id = $1 AND version > $2 ORDER BY version`, id, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("postgres ops %q: %w", id, err)
	}
	defer rows.Close()

	var ops []ot.Operation
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres ops %q: %w", id, err)
		}
		var op ot.Operation
		if err := json.Unmarshal(payload, &op); err != nil {
			return nil, fmt.Errorf("unmarshal operation for %q: %w", id, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
