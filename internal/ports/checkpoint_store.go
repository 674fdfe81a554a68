package ports

import (
	"context"

	"github.com/bnema/upsample-dispatch/internal/domain"
)

// CheckpointStore persists one write-once record per batch item. Record must
// be durable before it returns, and recording an identifier twice fails with
// a checkpoint error whose reason is duplicate.
type CheckpointStore interface {
	Load(ctx context.Context) (map[string]domain.CheckpointRecord, error)
	Record(ctx context.Context, record domain.CheckpointRecord) error
	Contains(ctx context.Context, id string) (bool, error)
	Close() error
}
