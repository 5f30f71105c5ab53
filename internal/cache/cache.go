package cache

import (
	"context"
	"time"

	"dukapos/internal/domain"
)

// SnapshotCache stores the ledger's exported level map so the live
// inventory view does not rebuild the projection on every read. Every
// append to either log must call Invalidate.
type SnapshotCache interface {
	Get(ctx context.Context) (map[string]domain.StockLevel, bool, error)
	Set(ctx context.Context, levels map[string]domain.StockLevel, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// NoopSnapshotCache disables caching; every read rebuilds the
// projection from the logs.
type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(context.Context) (map[string]domain.StockLevel, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(context.Context, map[string]domain.StockLevel, time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Invalidate(context.Context) error { return nil }
