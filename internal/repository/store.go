package repository

import (
	"context"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// RecordStore persists job records keyed by (document, model). Records are never deleted.
// Get returns common.ErrRecordNotFound for unknown keys.
type RecordStore interface {
	Get(ctx context.Context, key entity.RecordKey) (*entity.JobRecord, error)
	Put(ctx context.Context, rec *entity.JobRecord) error
	List(ctx context.Context) ([]*entity.JobRecord, error)
	// ListUnsettled returns every record that is not completed with accepted content.
	ListUnsettled(ctx context.Context) ([]*entity.JobRecord, error)
	Ping(ctx context.Context) error
}
