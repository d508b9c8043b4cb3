package store

import (
	"context"
	"strings"

	"github.com/dunamismax/flyimg/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete marks a job finished. A non-empty errMsg fails the job, otherwise
	// it succeeds with output.
	Complete(ctx context.Context, id string, output domain.Output, errMsg string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

// Store is a job store that also records usage.
type Store interface {
	JobStore
	UsageStore
}

// Open returns a Postgres store when dsn is set and an in-memory store
// otherwise. The returned close func is never nil.
func Open(ctx context.Context, dsn string) (Store, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryJobStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
