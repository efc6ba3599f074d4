package cache

import (
	"context"
	"time"

	"farmapos/backend/internal/domain"
)

type AdvisoryCache interface {
	Get(ctx context.Context, key string) (*domain.ExpiryAdvisoryResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.ExpiryAdvisoryResponse, ttl time.Duration) error
}

type NoopAdvisoryCache struct{}

func (NoopAdvisoryCache) Get(_ context.Context, _ string) (*domain.ExpiryAdvisoryResponse, bool, error) {
	return nil, false, nil
}

func (NoopAdvisoryCache) Set(_ context.Context, _ string, _ *domain.ExpiryAdvisoryResponse, _ time.Duration) error {
	return nil
}
