package cache

import (
	"context"
	"time"

	"agendapos/backend/internal/domain"
)

// CatalogCache caches a branch's product list with current stock. The
// service invalidates it on every write that touches products or stock.
type CatalogCache interface {
	Get(ctx context.Context, key string) ([]domain.ProductWithStock, bool, error)
	Set(ctx context.Context, key string, value []domain.ProductWithStock, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.ProductWithStock, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.ProductWithStock, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Delete(_ context.Context, _ string) error {
	return nil
}
