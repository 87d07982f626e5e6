package domain

import (
	"context"
	"time"
)

// FetchHistoryRepository persists and lists fetch records.
type FetchHistoryRepository interface {
	Insert(ctx context.Context, rec *FetchRecord) error
	GetByID(ctx context.Context, id string) (*FetchRecord, error)
	List(ctx context.Context, filter FetchHistoryFilter) ([]FetchRecord, int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
