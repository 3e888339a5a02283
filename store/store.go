// Package store is the durable persistence boundary. The engine checkpoints
// document content and operation history through DocumentStore; the durable
// copy itself is an external concern.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rawjaws/cosync/ot"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrExists is returned by Create when a document already exists.
var ErrExists = errors.New("document already exists")

// DocumentInfo holds document metadata and content.
type DocumentInfo struct {
	ID        string
	Content   string
	Version   int
	Checksum  uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStore abstracts document persistence. Implementations: MemoryStore,
// CachedStore (write-behind wrapper), RedisStore, PostgresStore,
// FirestoreStore.
type DocumentStore interface {
	Create(ctx context.Context, id, content string) error
	Get(ctx context.Context, id string) (*DocumentInfo, error)
	List(ctx context.Context) ([]DocumentInfo, error)
	UpdateContent(ctx context.Context, id, content string, version int, checksum uint64) error
	AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error
	GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error)
}
