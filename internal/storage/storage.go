// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"feedbot/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateConfig(ctx context.Context, cfg *model.FeedConfig) error
	GetConfig(ctx context.Context, id int64) (*model.FeedConfig, error)
	GetConfigByTenant(ctx context.Context, tenantID string, feature model.Feature) (*model.FeedConfig, error)
	// ListEnabledConfigs returns enabled configs with a destination
	// channel, for one feature or for all when feature is empty.
	ListEnabledConfigs(ctx context.Context, feature model.Feature) ([]model.FeedConfig, error)
	UpdateConfig(ctx context.Context, cfg *model.FeedConfig) error
	DeleteConfig(ctx context.Context, id int64) error
	RecordRunMetadata(ctx context.Context, id int64, ranAt time.Time, lastError string) error

	// InsertDelivery records a confirmed send. It returns false when
	// the (tenant, source, item) key already exists, which callers
	// must treat as "already delivered", not as a failure.
	InsertDelivery(ctx context.Context, d *model.Delivery) (bool, error)
	IsDelivered(ctx context.Context, tenantID, sourceKey, itemID string) (bool, error)
	ListRecentDeliveries(ctx context.Context, tenantID string, limit int) ([]model.Delivery, error)

	Close() error
}
